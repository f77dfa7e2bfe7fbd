// Package aggregation implements the per-aggregation watermark protocol
// and a small set of cheap incremental aggregations (§4.E).
package aggregation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ledgerwarehouse/internal/logging"
	"ledgerwarehouse/internal/store"
)

// State owns the aggregation_watermarks table and the concrete
// aggregations that consume it.
type State struct {
	store *store.Store
	log   *zap.SugaredLogger
}

func New(st *store.Store) *State {
	return &State{store: st, log: logging.For("aggregation")}
}

// GetLastFileID returns the stored watermark for name, or 0 if none.
func (s *State) GetLastFileID(ctx context.Context, name string) (int64, error) {
	var last int64
	err := s.store.QueryRow(ctx, "SELECT last_file_id FROM aggregation_watermarks WHERE agg_name = $1", name).Scan(&last)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return last, err
}

// maxIngestedFileID returns max(file_id) where ingested=true, or 0 if no
// file has been ingested yet.
func (s *State) maxIngestedFileID(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	err := s.store.QueryRow(ctx, "SELECT MAX(file_id) FROM raw_files WHERE ingested = TRUE").Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

// HasNewData reports whether name's watermark is behind the max ingested
// file id (§4.E hasNewData()).
func (s *State) HasNewData(ctx context.Context, name string) (bool, error) {
	last, err := s.GetLastFileID(ctx, name)
	if err != nil {
		return false, err
	}
	max, err := s.maxIngestedFileID(ctx)
	if err != nil {
		return false, err
	}
	return max > last, nil
}

// advance persists the new watermark for name. Callers must call this in
// the same logical step as persisting the aggregation's result, so a
// crash between the two never silently double-counts a file.
func (s *State) advance(ctx context.Context, name string, newWatermark int64) error {
	return s.store.Exec(ctx, `
		INSERT INTO aggregation_watermarks (agg_name, last_file_id, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (agg_name) DO UPDATE SET last_file_id = EXCLUDED.last_file_id, updated_at = EXCLUDED.updated_at`,
		name, newWatermark, time.Now().UTC())
}

// EventTypeCount is one row of UpdateEventTypeCounts' result.
type EventTypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

const eventTypeCountsAggName = "event_type_counts"

// UpdateEventTypeCounts is the concrete aggregation exercised by §8
// scenario 1: it groups newly-ingested events by event_type and
// accumulates into event_type_counts, advancing its own watermark.
// Returns nil if there is no new data since the last run.
func (s *State) UpdateEventTypeCounts(ctx context.Context) ([]EventTypeCount, error) {
	hasNew, err := s.HasNewData(ctx, eventTypeCountsAggName)
	if err != nil {
		return nil, err
	}
	if !hasNew {
		return nil, nil
	}

	last, err := s.GetLastFileID(ctx, eventTypeCountsAggName)
	if err != nil {
		return nil, err
	}
	max, err := s.maxIngestedFileID(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.Query(ctx, `
		SELECT event_type, COUNT(*)
		FROM events_raw
		WHERE _file_id > $1 AND _file_id <= $2
		GROUP BY event_type`, last, max)
	if err != nil {
		return nil, err
	}
	deltas := make(map[string]int64)
	for rows.Next() {
		var typ string
		var cnt int64
		if err := rows.Scan(&typ, &cnt); err != nil {
			rows.Close()
			return nil, err
		}
		deltas[typ] += cnt
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for typ, delta := range deltas {
		if err := s.store.Exec(ctx, `
			INSERT INTO event_type_counts (event_type, count, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (event_type) DO UPDATE SET count = event_type_counts.count + EXCLUDED.count, updated_at = EXCLUDED.updated_at`,
			typ, delta, time.Now().UTC()); err != nil {
			return nil, err
		}
	}
	if err := s.advance(ctx, eventTypeCountsAggName, max); err != nil {
		return nil, err
	}

	return s.currentEventTypeCounts(ctx)
}

func (s *State) currentEventTypeCounts(ctx context.Context) ([]EventTypeCount, error) {
	rows, err := s.store.Query(ctx, "SELECT event_type, count FROM event_type_counts ORDER BY event_type")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventTypeCount
	for rows.Next() {
		var c EventTypeCount
		if err := rows.Scan(&c.Type, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// EventTypeCounts exposes the current event_type_counts rows for the
// /events/count HTTP surface, independent of whether an update is due.
func (s *State) EventTypeCounts(ctx context.Context) ([]EventTypeCount, error) {
	return s.currentEventTypeCounts(ctx)
}

// UpdateAllResult is updateAllAggregations()'s best-effort result map
// (§4.E): each aggregation's outcome, independent of the others.
type UpdateAllResult map[string]AggregationOutcome

// AggregationOutcome captures either whether new data was aggregated
// (Updated) or a captured error, so one failing aggregation never blocks
// the others.
type AggregationOutcome struct {
	Updated bool
	Error   string
}

// UpdateAllAggregations runs every known aggregation independently,
// capturing failures per-name instead of aborting the whole pass.
func (s *State) UpdateAllAggregations(ctx context.Context) UpdateAllResult {
	result := make(UpdateAllResult)

	func() {
		defer func() {
			if r := recover(); r != nil {
				result[eventTypeCountsAggName] = AggregationOutcome{Error: fmt.Sprintf("panic: %v", r)}
			}
		}()
		rows, err := s.UpdateEventTypeCounts(ctx)
		if err != nil {
			s.log.Errorw("aggregation failed", "name", eventTypeCountsAggName, "error", err)
			result[eventTypeCountsAggName] = AggregationOutcome{Error: err.Error()}
			return
		}
		result[eventTypeCountsAggName] = AggregationOutcome{Updated: rows != nil}
	}()

	return result
}
