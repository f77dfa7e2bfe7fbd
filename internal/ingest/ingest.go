// Package ingest streams decoder output into bulk inserts and finalizes
// per-file metadata on success (§4.D).
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ledgerwarehouse/internal/decoder"
	"ledgerwarehouse/internal/logging"
	"ledgerwarehouse/internal/store"
)

// batchSize is the fixed bulk-insert batch size named in §4.D.2.
const batchSize = 2000

var eventColumns = []string{
	"_file_id", "event_id", "update_id", "contract_id", "template_id", "event_type",
	"effective_at", "recorded_at", "signatories", "observers", "acting_parties",
	"consuming", "choice", "synchronizer_id", "payload",
}

var updateColumns = []string{
	"_file_id", "update_id", "effective_at", "recorded_at", "synchronizer_id", "payload",
}

// Ingestor streams decoded records into the analytic store.
type Ingestor struct {
	store *store.Store
	log   *zap.SugaredLogger
}

func New(st *store.Store) *Ingestor {
	return &Ingestor{store: st, log: logging.For("ingest")}
}

// Result is the §8 scenario-1 ingestNewFiles() return shape.
type Result struct {
	Ingested int
	Records  int64
}

type pendingFile struct {
	fileID int64
	path   string
	typ    string
}

// IngestNewFiles selects up to maxFiles non-ingested rows (ordered by
// record_date then file_id) and streams each through the decoder into the
// type-specific raw table (§4.D.1-2).
func (in *Ingestor) IngestNewFiles(ctx context.Context, maxFiles int) (Result, error) {
	files, err := in.selectPending(ctx, maxFiles)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: select pending: %w", err)
	}

	var result Result
	for _, f := range files {
		count, minTS, maxTS, err := in.ingestOne(ctx, f)
		if err != nil {
			// §4.D.4: leave the RawFile row un-finalized, log, continue.
			in.log.Errorw("failed to ingest file", "path", f.path, "error", err)
			continue
		}
		if err := in.finalize(ctx, f.fileID, count, minTS, maxTS); err != nil {
			in.log.Errorw("failed to finalize file", "path", f.path, "error", err)
			continue
		}
		result.Ingested++
		result.Records += count
	}
	return result, nil
}

func (in *Ingestor) selectPending(ctx context.Context, maxFiles int) ([]pendingFile, error) {
	rows, err := in.store.Query(ctx, `
		SELECT file_id, path, type
		FROM raw_files
		WHERE ingested = FALSE
		ORDER BY record_date ASC NULLS LAST, file_id ASC
		LIMIT $1`, maxFiles)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pendingFile
	for rows.Next() {
		var f pendingFile
		if err := rows.Scan(&f.fileID, &f.path, &f.typ); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ingestOne streams one file's records into bulk inserts, tracking
// (count, min_ts, max_ts) as records pass through (§4.D.2).
func (in *Ingestor) ingestOne(ctx context.Context, f pendingFile) (count int64, minTS, maxTS time.Time, err error) {
	r, err := decoder.Open(f.path)
	if err != nil {
		return 0, time.Time{}, time.Time{}, fmt.Errorf("open %s: %w", f.path, err)
	}
	defer r.Close()

	var eventBatch, updateBatch [][]any

	flushEvents := func() error {
		if len(eventBatch) == 0 {
			return nil
		}
		err := in.store.BulkInsert(ctx, "events_raw", eventColumns, eventBatch, batchSize)
		eventBatch = eventBatch[:0]
		return err
	}
	flushUpdates := func() error {
		if len(updateBatch) == 0 {
			return nil
		}
		err := in.store.BulkInsert(ctx, "updates_raw", updateColumns, updateBatch, batchSize)
		updateBatch = updateBatch[:0]
		return err
	}

	for {
		rec, ok := r.Next()
		if !ok {
			break
		}
		count++
		if minTS.IsZero() || rec.EffectiveAt.Before(minTS) {
			minTS = rec.EffectiveAt
		}
		if rec.EffectiveAt.After(maxTS) {
			maxTS = rec.EffectiveAt
		}

		switch f.typ {
		case "events":
			eventBatch = append(eventBatch, []any{
				f.fileID, rec.EventID, nullIfEmpty(rec.UpdateID), rec.ContractID, rec.TemplateID,
				rec.EventType, rec.EffectiveAt, rec.RecordedAt, rec.Signatories, rec.Observers,
				rec.ActingParties, rec.Consuming, nullIfEmpty(rec.Choice), rec.SynchronizerID, rec.Payload,
			})
			if len(eventBatch) >= batchSize {
				if err := flushEvents(); err != nil {
					return 0, time.Time{}, time.Time{}, err
				}
			}
		case "updates":
			updateBatch = append(updateBatch, []any{
				f.fileID, rec.UpdateID, rec.EffectiveAt, rec.RecordedAt, rec.SynchronizerID, rec.Payload,
			})
			if len(updateBatch) >= batchSize {
				if err := flushUpdates(); err != nil {
					return 0, time.Time{}, time.Time{}, err
				}
			}
		}
	}

	if err := flushEvents(); err != nil {
		return 0, time.Time{}, time.Time{}, err
	}
	if err := flushUpdates(); err != nil {
		return 0, time.Time{}, time.Time{}, err
	}

	// A corrupt trailing frame is not itself a failure (§4.A); only a
	// mid-read store error aborts the file.
	return count, minTS, maxTS, nil
}

// ResetFile deletes fileID's previously ingested rows from both raw
// tables and clears its ingested flag so the next cycle re-ingests it
// under the same _file_id (§3 EventRow: "a file re-ingested ... re-creates
// rows under the same _file_id").
func (in *Ingestor) ResetFile(ctx context.Context, fileID int64) error {
	if err := in.store.Exec(ctx, "DELETE FROM events_raw WHERE _file_id = $1", fileID); err != nil {
		return fmt.Errorf("ingest: reset events_raw: %w", err)
	}
	if err := in.store.Exec(ctx, "DELETE FROM updates_raw WHERE _file_id = $1", fileID); err != nil {
		return fmt.Errorf("ingest: reset updates_raw: %w", err)
	}
	return in.store.Exec(ctx, `
		UPDATE raw_files
		SET ingested = FALSE, record_count = 0, min_ts = NULL, max_ts = NULL, ingested_at = NULL
		WHERE file_id = $1`, fileID)
}

func (in *Ingestor) finalize(ctx context.Context, fileID int64, count int64, minTS, maxTS time.Time) error {
	return in.store.Exec(ctx, `
		UPDATE raw_files
		SET record_count = $1, min_ts = $2, max_ts = $3, ingested = TRUE, ingested_at = $4
		WHERE file_id = $5`,
		count, nullTime(minTS), nullTime(maxTS), time.Now().UTC(), fileID)
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
