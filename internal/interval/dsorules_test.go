package interval

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ledgerwarehouse/internal/decoder"
	"ledgerwarehouse/internal/templateindex"
)

func dsoRulesPayload(t *testing.T, configHash string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"configHash": configHash,
		"dso":        "dso-1",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return body
}

func TestDsoRulesBuildOpensAndClosesInterval(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	tb := templateindex.New(s, nil)
	dir := t.TempDir()
	ctx := context.Background()

	created := decoder.Record{
		EventID:     "create-dso-1",
		ContractID:  "contract-dsorules-1",
		TemplateID:  "Splice.DsoRules:DsoRules",
		EventType:   "created",
		EffectiveAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:     dsoRulesPayload(t, "hash-1"),
	}
	closed := decoder.Record{
		EventID:     "archive-dso-1",
		ContractID:  "contract-dsorules-1",
		TemplateID:  "Splice.DsoRules:DsoRules",
		EventType:   "exercised",
		Consuming:   true,
		EffectiveAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	path := writeFile(t, dir, "events-0001.bin", []decoder.Record{created, closed})
	registerTemplateFile(t, s, path, "Splice.DsoRules:DsoRules", 2)

	ix := NewDsoRulesIndexer(s, tb)
	result, err := ix.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.IntervalsWritten != 1 {
		t.Fatalf("IntervalsWritten = %d, want 1", result.IntervalsWritten)
	}

	activeBeforeClose, err := ix.ListActiveAt(ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ListActiveAt: %v", err)
	}
	if len(activeBeforeClose) != 1 || activeBeforeClose[0].ConfigHash != "hash-1" {
		t.Fatalf("ListActiveAt(mid) = %+v, want one row with config_hash hash-1", activeBeforeClose)
	}

	activeAfterClose, err := ix.ListActiveAt(ctx, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ListActiveAt: %v", err)
	}
	if len(activeAfterClose) != 0 {
		t.Errorf("ListActiveAt(after) = %d rows, want 0", len(activeAfterClose))
	}
}

func TestDsoRulesBuildKeepsIntervalOpenWithoutClose(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	tb := templateindex.New(s, nil)
	dir := t.TempDir()
	ctx := context.Background()

	created := decoder.Record{
		EventID:     "create-dso-2",
		ContractID:  "contract-dsorules-2",
		TemplateID:  "Splice.DsoRules:DsoRules",
		EventType:   "created",
		EffectiveAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:     dsoRulesPayload(t, "hash-2"),
	}
	path := writeFile(t, dir, "events-0001.bin", []decoder.Record{created})
	registerTemplateFile(t, s, path, "Splice.DsoRules:DsoRules", 1)

	ix := NewDsoRulesIndexer(s, tb)
	if _, err := ix.Build(ctx); err != nil {
		t.Fatalf("Build: %v", err)
	}

	rows, err := ix.Timeline(ctx, 10)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if len(rows) != 1 || rows[0].ActiveUntil != nil {
		t.Fatalf("expected one still-open interval, got %+v", rows)
	}
}
