package payload

import "testing"

func TestParseNamedShape(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"requester": "alice", "vote_before": "2026-01-01T00:00:00Z"}`)
	f, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Shape != ShapeNamed {
		t.Fatalf("Shape = %v, want named", f.Shape)
	}
	got, ok := f.ExtractParty("requester")
	if !ok || got != "alice" {
		t.Errorf("ExtractParty(requester) = (%q, %v), want (alice, true)", got, ok)
	}
}

func TestParsePositionalShape(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"record": ["dso-1", "bob", {"tag": "UpdateConfig"}, "why", "2026-01-01T00:00:00Z", []]}`)
	f, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Shape != ShapePositional {
		t.Fatalf("Shape = %v, want positional", f.Shape)
	}
	got, ok := f.ExtractParty("requester")
	if !ok || got != "bob" {
		t.Errorf("ExtractParty(requester) = (%q, %v), want (bob, true)", got, ok)
	}
	dso, ok := f.ExtractParty("dso")
	if !ok || dso != "dso-1" {
		t.Errorf("ExtractParty(dso) = (%q, %v), want (dso-1, true)", dso, ok)
	}
}

func TestExtractIntFromNestedValue(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"round": {"value": 42}}`)
	f, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got, ok := f.ExtractInt("round")
	if !ok || got != 42 {
		t.Errorf("ExtractInt(round) = (%d, %v), want (42, true)", got, ok)
	}
}

func TestParseEmptyPayloadIsUnknown(t *testing.T) {
	t.Parallel()

	f, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Shape != ShapeUnknown {
		t.Errorf("Shape = %v, want unknown", f.Shape)
	}
	if _, ok := f.ExtractParty("anything"); ok {
		t.Error("expected no value from unknown shape")
	}
}

func TestGetMissingFieldReturnsFalse(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte(`{"requester": "alice"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := f.Get("nonexistent"); ok {
		t.Error("expected missing field to return ok=false")
	}
}
