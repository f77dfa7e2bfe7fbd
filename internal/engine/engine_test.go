package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ledgerwarehouse/internal/aggregation"
	"ledgerwarehouse/internal/config"
	"ledgerwarehouse/internal/decoder"
	"ledgerwarehouse/internal/fileindex"
	"ledgerwarehouse/internal/ingest"
	"ledgerwarehouse/internal/store"
	"ledgerwarehouse/internal/templateindex"
	"ledgerwarehouse/internal/voterequest"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dataDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dataDir, "raw"), 0o755); err != nil {
		t.Fatalf("mkdir raw: %v", err)
	}

	s, err := store.Open(filepath.Join(dataDir, "warehouse.duckdb"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	files := fileindex.New(s, dataDir)
	ing := ingest.New(s)
	agg := aggregation.New(s)
	tmpl := templateindex.New(s, nil)
	votes := voterequest.New(s, tmpl, dataDir)

	cfg := config.Engine{
		CycleInterval:    time.Hour,
		FilesPerCycle:    10,
		CycleTimeout:     10 * time.Second,
		GapCheckInterval: 10,
		GapThreshold:     2 * time.Minute,
		AutoRecoverGaps:  true,
	}

	return New(cfg, s, files, ing, agg, tmpl, votes), dataDir
}

func writeEventFile(t *testing.T, dataDir, name string) {
	t.Helper()
	path := filepath.Join(dataDir, "raw", name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer f.Close()

	rec := decoder.Record{
		EventID:     "event-1",
		ContractID:  "contract-1",
		TemplateID:  "Splice.Amulet:Amulet",
		EventType:   "created",
		EffectiveAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		RecordedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := decoder.WriteBatch(f, []decoder.Record{rec}); err != nil {
		t.Fatalf("write batch: %v", err)
	}
}

func TestRunCycleScansIngestsAndAggregates(t *testing.T) {
	t.Parallel()

	e, dataDir := newTestEngine(t)
	writeEventFile(t, dataDir, "events-0001.bin")

	report := e.RunCycle(context.Background())
	if report.Err != nil {
		t.Fatalf("cycle error: %v", report.Err)
	}
	if report.ScanResult.NewFiles != 1 {
		t.Errorf("NewFiles = %d, want 1", report.ScanResult.NewFiles)
	}
	if report.IngestResult.Ingested != 1 {
		t.Errorf("Ingested = %d, want 1", report.IngestResult.Ingested)
	}
	if !report.AggregationsRan {
		t.Error("expected aggregations to run after a successful ingest")
	}
	if e.CycleCount() != 1 {
		t.Errorf("CycleCount = %d, want 1", e.CycleCount())
	}
	if e.LastCycleAt().IsZero() {
		t.Error("expected LastCycleAt to be set after a cycle")
	}
}

func TestRunCycleDoesNotReenter(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	e.running.Store(true)
	defer e.running.Store(false)

	report := e.RunCycle(context.Background())
	if report.ScanResult.TotalFiles != 0 || report.IngestResult.Ingested != 0 {
		t.Errorf("expected a no-op report while already running, got %+v", report)
	}
	if e.CycleCount() != 0 {
		t.Errorf("CycleCount = %d, want 0 (cycle should have been skipped)", e.CycleCount())
	}
}

func TestScanGapsDetectsContiguityGap(t *testing.T) {
	t.Parallel()

	e, dataDir := newTestEngine(t)
	ctx := context.Background()

	writeEventFile(t, dataDir, "updates-0001.bin")
	// Rewrite as an updates file carrying synchronizer id via decoder.Record.
	path := filepath.Join(dataDir, "raw", "updates-0001.bin")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rec1 := decoder.Record{
		UpdateID:       "update-1",
		EventType:      "created",
		EffectiveAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		RecordedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		SynchronizerID: "sync-1",
	}
	if err := decoder.WriteBatch(f, []decoder.Record{rec1}); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	f.Close()

	path2 := filepath.Join(dataDir, "raw", "updates-0002.bin")
	f2, err := os.Create(path2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rec2 := decoder.Record{
		UpdateID:       "update-2",
		EventType:      "created",
		EffectiveAt:    time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC), // an hour later: well past the 2m threshold
		RecordedAt:     time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC),
		SynchronizerID: "sync-1",
	}
	if err := decoder.WriteBatch(f2, []decoder.Record{rec2}); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	f2.Close()

	if _, err := e.files.ScanAndIndex(ctx); err != nil {
		t.Fatalf("ScanAndIndex: %v", err)
	}
	if _, err := e.ingest.IngestNewFiles(ctx, 10); err != nil {
		t.Fatalf("IngestNewFiles: %v", err)
	}

	gaps, err := e.scanGaps(ctx)
	if err != nil {
		t.Fatalf("scanGaps: %v", err)
	}
	if len(gaps) != 1 {
		t.Fatalf("len(gaps) = %d, want 1", len(gaps))
	}
	if gaps[0].SynchronizerID != "sync-1" {
		t.Errorf("SynchronizerID = %q, want sync-1", gaps[0].SynchronizerID)
	}
}
