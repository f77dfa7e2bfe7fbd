package interval

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ledgerwarehouse/internal/decoder"
	"ledgerwarehouse/internal/store"
	"ledgerwarehouse/internal/templateindex"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warehouse.duckdb")
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return s
}

func writeFile(t *testing.T, dir, name string, recs []decoder.Record) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := decoder.WriteBatch(f, recs); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	return path
}

func registerTemplateFile(t *testing.T, s *store.Store, path, templateName string, count int64) {
	t.Helper()
	now := time.Now().UTC()
	err := s.Exec(context.Background(), `
		INSERT INTO template_file_index (file_path, template_name, event_count, first_event_at, last_event_at)
		VALUES ($1, $2, $3, $4, $5)`, path, templateName, count, now, now)
	if err != nil {
		t.Fatalf("register template file: %v", err)
	}
}

func svPayload(t *testing.T, svParty string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"svParty":         svParty,
		"svName":          "Operator " + svParty,
		"svRewardWeight":  1.5,
		"svParticipantId": "participant-" + svParty,
		"dso":             "dso-1",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return body
}

func TestBuildOpensAndClosesInterval(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	tb := templateindex.New(s, nil)
	dir := t.TempDir()
	ctx := context.Background()

	created := decoder.Record{
		EventID:     "create-1",
		ContractID:  "contract-sv-1",
		TemplateID:  "Splice.DsoRules:SvOnboardingConfirmed",
		EventType:   "created",
		EffectiveAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:     svPayload(t, "sv-1"),
	}
	closed := decoder.Record{
		EventID:     "archive-1",
		ContractID:  "contract-sv-1",
		TemplateID:  "Splice.DsoRules:SvOnboardingConfirmed",
		EventType:   "exercised",
		Consuming:   true,
		EffectiveAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	path := writeFile(t, dir, "events-0001.bin", []decoder.Record{created, closed})
	registerTemplateFile(t, s, path, "Splice.DsoRules:SvOnboardingConfirmed", 2)

	ix := New(s, tb)
	result, err := ix.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.IntervalsWritten != 1 {
		t.Fatalf("IntervalsWritten = %d, want 1", result.IntervalsWritten)
	}

	activeBeforeClose, err := ix.CountActiveAt(ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("CountActiveAt: %v", err)
	}
	if activeBeforeClose != 1 {
		t.Errorf("CountActiveAt(mid) = %d, want 1", activeBeforeClose)
	}

	activeAfterClose, err := ix.CountActiveAt(ctx, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("CountActiveAt: %v", err)
	}
	if activeAfterClose != 0 {
		t.Errorf("CountActiveAt(after) = %d, want 0", activeAfterClose)
	}
}

func TestBuildKeepsIntervalOpenWithoutClose(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	tb := templateindex.New(s, nil)
	dir := t.TempDir()
	ctx := context.Background()

	created := decoder.Record{
		EventID:     "create-2",
		ContractID:  "contract-sv-2",
		TemplateID:  "Splice.DsoRules:SvOnboardingConfirmed",
		EventType:   "created",
		EffectiveAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:     svPayload(t, "sv-2"),
	}
	path := writeFile(t, dir, "events-0001.bin", []decoder.Record{created})
	registerTemplateFile(t, s, path, "Splice.DsoRules:SvOnboardingConfirmed", 1)

	ix := New(s, tb)
	if _, err := ix.Build(ctx); err != nil {
		t.Fatalf("Build: %v", err)
	}

	rows, err := ix.ListActiveAt(ctx, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ListActiveAt: %v", err)
	}
	if len(rows) != 1 || rows[0].ActiveUntil != nil {
		t.Fatalf("expected one still-open interval, got %+v", rows)
	}
}

func TestVotingThresholdDerivesFromLiveCount(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	tb := templateindex.New(s, nil)
	dir := t.TempDir()
	ctx := context.Background()

	var recs []decoder.Record
	for i := 0; i < 4; i++ {
		recs = append(recs, decoder.Record{
			EventID:     "create-" + string(rune('a'+i)),
			ContractID:  "contract-sv-" + string(rune('a'+i)),
			TemplateID:  "Splice.DsoRules:SvOnboardingConfirmed",
			EventType:   "created",
			EffectiveAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Payload:     svPayload(t, "sv-"+string(rune('a'+i))),
		})
	}
	path := writeFile(t, dir, "events-0001.bin", recs)
	registerTemplateFile(t, s, path, "Splice.DsoRules:SvOnboardingConfirmed", int64(len(recs)))

	ix := New(s, tb)
	if _, err := ix.Build(ctx); err != nil {
		t.Fatalf("Build: %v", err)
	}

	threshold, err := ix.VotingThreshold(ctx, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("VotingThreshold: %v", err)
	}
	if threshold.SvCount != 4 {
		t.Fatalf("SvCount = %d, want 4", threshold.SvCount)
	}
	if threshold.TwoThirds != 3 {
		t.Errorf("TwoThirds = %d, want 3", threshold.TwoThirds)
	}
	if threshold.SimpleMajority != 3 {
		t.Errorf("SimpleMajority = %d, want 3", threshold.SimpleMajority)
	}
}
