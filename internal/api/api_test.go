package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ledgerwarehouse/internal/aggregation"
	"ledgerwarehouse/internal/config"
	"ledgerwarehouse/internal/engine"
	"ledgerwarehouse/internal/fileindex"
	"ledgerwarehouse/internal/ingest"
	"ledgerwarehouse/internal/interval"
	"ledgerwarehouse/internal/rewardcoupon"
	"ledgerwarehouse/internal/store"
	"ledgerwarehouse/internal/templateindex"
	"ledgerwarehouse/internal/voterequest"
)

func newTestServer(t *testing.T) *Server {
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
	intervals := interval.New(s, tmpl)
	dsoIntervals := interval.NewDsoRulesIndexer(s, tmpl)
	coupons := rewardcoupon.New(s, tmpl)
	eng := engine.New(config.Engine{CycleTimeout: 10 * time.Second, GapCheckInterval: 10}, s, files, ing, agg, tmpl, votes)

	return NewServer(":0", Deps{
		Store:        s,
		Files:        files,
		Ingest:       ing,
		Agg:          agg,
		Templates:    tmpl,
		Votes:        votes,
		Intervals:    intervals,
		DsoIntervals: dsoIntervals,
		Coupons:      coupons,
		Engine:       eng,
	})
}

func TestHandleHealthReturnsOK(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	s.handleHealth(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestHandleStatusReportsCycleState(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()

	s.handleStatus(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["running"] != false {
		t.Errorf("running = %v, want false", body["running"])
	}
}

func TestHandleFilesReturnsEmptyListWhenUnpopulated(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/files", nil)
	rec := httptest.NewRecorder()

	s.handleFiles(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body []any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body) != 0 {
		t.Errorf("len(body) = %d, want 0", len(body))
	}
}

func TestHandleResetRequiresFileID(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	req := httptest.NewRequest("POST", "/reset", nil)
	rec := httptest.NewRecorder()

	s.handleReset(rec, req)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleScanAndIngestRoundtrip(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	scanReq := httptest.NewRequest("POST", "/scan", nil)
	scanRec := httptest.NewRecorder()
	s.handleScan(scanRec, scanReq)
	if scanRec.Code != 200 {
		t.Fatalf("scan status = %d, want 200", scanRec.Code)
	}

	ingestReq := httptest.NewRequest("POST", "/ingest", nil)
	ingestRec := httptest.NewRecorder()
	s.handleIngest(ingestRec, ingestReq)
	if ingestRec.Code != 200 {
		t.Fatalf("ingest status = %d, want 200", ingestRec.Code)
	}
}
