package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warehouse.duckdb")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return s
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second EnsureSchema call: %v", err)
	}
}

func TestBulkInsertAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rows := [][]any{
		{int64(1), "raw/events-0001.bin", "events", nil, "2026-01-01", int64(0), nil, nil, false, nil},
		{int64(2), "raw/events-0002.bin", "events", nil, "2026-01-02", int64(0), nil, nil, false, nil},
	}
	cols := []string{"file_id", "path", "type", "migration_id", "record_date", "record_count", "min_ts", "max_ts", "ingested", "ingested_at"}
	if err := s.BulkInsert(ctx, "raw_files", cols, rows, 1); err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}

	var count int64
	if err := s.QueryRow(ctx, "SELECT COUNT(*) FROM raw_files").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestBulkInsertEmptyIsNoop(t *testing.T) {
	s := openTestStore(t)
	if err := s.BulkInsert(context.Background(), "raw_files", []string{"file_id"}, nil, 10); err != nil {
		t.Fatalf("BulkInsert with no rows should be a no-op: %v", err)
	}
}
