// Package store is the narrow adapter over the embedded columnar engine
// (DuckDB) described in §4.B. Every other package talks to the analytic
// store exclusively through this surface — no raw *sql.DB leaks out.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/marcboeker/go-duckdb/v2"
)

// Store wraps a DuckDB connection. Writes (DDL and bulk inserts) are
// serialized through writeMu so that schema changes never interleave with
// bulk inserts (§4.B); reads use the pool directly without writeMu. The
// pool is capped at one connection, so statements still run one at a time.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Open opens (creating if absent) the DuckDB database file at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Single-process, single-writer store: DuckDB's own file lock already
	// serializes cross-process access. In-process we still fence writes
	// with writeMu because a bulk insert and a DDL statement arriving
	// concurrently could otherwise interleave mid-transaction.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Exec runs a DDL or mutating statement, retrying transient failures with
// exponential backoff capped at ~15s (§7.2).
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.execWithRetry(ctx, query, args...)
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 15 * time.Second
	return backoff.Retry(func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

// Query runs a read-only statement. Reads are not fenced by writeMu.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRow runs a read-only statement expected to return at most one row.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// BulkInsert inserts rows into table in chunks of batchSize, using a
// single parameterized multi-row INSERT per chunk. If a chunk's bulk
// statement fails, it falls back to row-by-row insertion for that chunk
// so partial progress within the chunk is not lost (§4.F, §7.4).
func (s *Store) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any, batchSize int) error {
	if len(rows) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 2000
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]
		if err := s.insertChunk(ctx, table, columns, chunk); err != nil {
			// Fall back to row-by-row so one bad row in the chunk
			// doesn't drop every other row in it.
			for _, row := range chunk {
				if rowErr := s.insertChunk(ctx, table, columns, [][]any{row}); rowErr != nil {
					return fmt.Errorf("store: bulk insert into %s (row-by-row fallback): %w", table, rowErr)
				}
			}
		}
	}
	return nil
}

func (s *Store) insertChunk(ctx context.Context, table string, columns []string, rows [][]any) error {
	query, args := buildInsertStatement(table, columns, rows)
	return s.execWithRetry(ctx, query, args...)
}

func buildInsertStatement(table string, columns []string, rows [][]any) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	placeholder := 1
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range row {
			if j > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "$%d", placeholder)
			placeholder++
		}
		sb.WriteByte(')')
		args = append(args, row...)
	}
	return sb.String(), args
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	// DuckDB surfaces transient single-writer contention as a generic
	// "lock" or "busy" error; anything else (constraint violations,
	// syntax errors) is not worth retrying.
	return strings.Contains(msg, "lock") || strings.Contains(msg, "busy") || strings.Contains(msg, "conflicting")
}
