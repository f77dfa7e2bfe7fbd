package engine

import (
	"context"
	"database/sql"
	"time"
)

// gap is one detected contiguity gap between consecutive ingested files
// for a synchronizer (§4.J step 4, §6 GAP_THRESHOLD_MS).
type gap struct {
	SynchronizerID string
	From           time.Time
	To             time.Time
}

// scanGaps runs the lightweight gap scan named in §4.J: for each
// synchronizer, order ingested files by min_ts and flag any consecutive
// pair whose coverage boundary exceeds the configured threshold.
//
// Synchronizer id is read off updates_raw; events-only files carry no
// update rows and are not covered by this scan, since updates_raw is the
// synchronizer-indexed stream in the source domain.
func (e *Engine) scanGaps(ctx context.Context) ([]gap, error) {
	rows, err := e.store.Query(ctx, `
		SELECT u.synchronizer_id, f.min_ts, f.max_ts
		FROM raw_files f
		JOIN updates_raw u ON u._file_id = f.file_id
		WHERE f.ingested = TRUE AND f.min_ts IS NOT NULL AND f.max_ts IS NOT NULL
		GROUP BY u.synchronizer_id, f.file_id, f.min_ts, f.max_ts
		ORDER BY u.synchronizer_id, f.min_ts ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type bound struct {
		min, max time.Time
	}
	bySync := make(map[string][]bound)
	for rows.Next() {
		var sync sql.NullString
		var min, max time.Time
		if err := rows.Scan(&sync, &min, &max); err != nil {
			return nil, err
		}
		bySync[sync.String] = append(bySync[sync.String], bound{min: min, max: max})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var gaps []gap
	for sync, bounds := range bySync {
		for i := 1; i < len(bounds); i++ {
			prevEnd := bounds[i-1].max
			curStart := bounds[i].min
			if curStart.Sub(prevEnd) > e.cfg.GapThreshold {
				gaps = append(gaps, gap{SynchronizerID: sync, From: prevEnd, To: curStart})
			}
		}
	}
	return gaps, nil
}

// recoverGap re-queues the files covering g's window for the next ingest
// cycle by clearing their ingested flag, so the next cycle picks them back
// up. This is the narrow recovery hook named by AUTO_RECOVER_GAPS in §6 —
// it never reaches outside already-discovered files (no remote backfill).
func (e *Engine) recoverGap(ctx context.Context, g gap) error {
	return e.store.Exec(ctx, `
		UPDATE raw_files
		SET ingested = FALSE
		WHERE file_id IN (
			SELECT DISTINCT f.file_id
			FROM raw_files f
			JOIN updates_raw u ON u._file_id = f.file_id
			WHERE u.synchronizer_id = $1 AND f.max_ts >= $2 AND f.min_ts <= $3
		)`, g.SynchronizerID, g.From, g.To)
}
