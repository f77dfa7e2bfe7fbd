package interval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"ledgerwarehouse/internal/decoder"
	"ledgerwarehouse/internal/logging"
	"ledgerwarehouse/internal/models"
	"ledgerwarehouse/internal/payload"
	"ledgerwarehouse/internal/store"
	"ledgerwarehouse/internal/templateindex"
)

const (
	dsoRulesFilePattern    = "DsoRules"
	dsoRulesTemplateSuffix = ":DsoRules"
)

// DsoRulesIndexer builds the DSO-rules-config interval index named
// alongside SV membership in §4.H: the DsoRules config contract is
// archived and recreated on every governance config change, so its own
// created/consuming-exercised lifecycle is the interval boundary, same
// general shape as the SV indexer.
type DsoRulesIndexer struct {
	store     *store.Store
	templates *templateindex.Builder
	log       *zap.SugaredLogger
}

func NewDsoRulesIndexer(st *store.Store, templates *templateindex.Builder) *DsoRulesIndexer {
	return &DsoRulesIndexer{store: st, templates: templates, log: logging.For("interval.dsorules")}
}

// Build scans every file containing the DsoRules template, opens and
// closes config intervals, and upserts the result (§4.H).
func (ix *DsoRulesIndexer) Build(ctx context.Context) (BuildResult, error) {
	files, err := ix.templates.GetFilesForTemplate(ctx, dsoRulesFilePattern)
	if err != nil {
		return BuildResult{}, fmt.Errorf("interval: list dso rules files: %w", err)
	}

	open := make(map[string]*models.DsoRulesInterval)
	tombstones := make(map[string]time.Time)
	var drops DropCounts
	eventsObserved := 0

	for _, path := range files {
		recs, err := scanDsoRulesEvents(path)
		if err != nil {
			ix.log.Warnw("skipping file in dso rules interval build", "path", path, "error", err)
			continue
		}
		for _, rec := range recs {
			eventsObserved++
			switch {
			case rec.EventType == "created":
				handleDsoRulesCreate(rec, open, tombstones, &drops)
			case rec.EventType == "exercised" && rec.Consuming:
				handleDsoRulesClose(rec, open, tombstones, &drops)
			}
		}
	}

	intervals := make([]models.DsoRulesInterval, 0, len(open))
	for _, iv := range open {
		intervals = append(intervals, *iv)
	}

	if eventsObserved > 0 && len(intervals) == 0 {
		return BuildResult{}, fmt.Errorf("interval: %d dso rules events observed but zero intervals produced, extraction is broken", eventsObserved)
	}

	if err := ix.upsert(ctx, intervals); err != nil {
		return BuildResult{}, fmt.Errorf("interval: upsert dso rules intervals: %w", err)
	}

	ix.log.Infow("dso rules interval build finished",
		"events_observed", eventsObserved,
		"intervals_written", len(intervals),
		"dropped_missing_start", drops.MissingStart,
		"dropped_inverted", drops.Inverted,
		"dropped_total", drops.Total())

	return BuildResult{EventsObserved: eventsObserved, IntervalsWritten: len(intervals), Drops: drops}, nil
}

func scanDsoRulesEvents(path string) ([]decoder.Record, error) {
	r, err := decoder.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []decoder.Record
	for {
		rec, ok := r.Next()
		if !ok {
			break
		}
		if strings.HasSuffix(rec.TemplateID, dsoRulesTemplateSuffix) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func handleDsoRulesCreate(rec decoder.Record, open map[string]*models.DsoRulesInterval, tombstones map[string]time.Time, drops *DropCounts) {
	if rec.EffectiveAt.IsZero() {
		drops.MissingStart++
		return
	}

	f, err := payload.Parse(rec.Payload)
	var configHash, dso string
	if err == nil {
		configHash, _ = f.ExtractText("configHash")
		dso, _ = f.ExtractParty("dso")
	}

	iv := &models.DsoRulesInterval{
		ContractID: rec.ContractID,
		ConfigHash: configHash,
		ActiveFrom: rec.EffectiveAt,
		Dso:        dso,
	}

	if closedAt, ok := tombstones[rec.ContractID]; ok {
		if closedAt.Before(iv.ActiveFrom) {
			drops.Inverted++
		} else {
			until := closedAt
			iv.ActiveUntil = &until
		}
		delete(tombstones, rec.ContractID)
	}
	open[rec.ContractID] = iv
}

func handleDsoRulesClose(rec decoder.Record, open map[string]*models.DsoRulesInterval, tombstones map[string]time.Time, drops *DropCounts) {
	iv, ok := open[rec.ContractID]
	if !ok {
		tombstones[rec.ContractID] = rec.EffectiveAt
		return
	}
	if rec.EffectiveAt.Before(iv.ActiveFrom) {
		drops.Inverted++
		return
	}
	until := rec.EffectiveAt
	iv.ActiveUntil = &until
}

func (ix *DsoRulesIndexer) upsert(ctx context.Context, intervals []models.DsoRulesInterval) error {
	for _, iv := range intervals {
		err := ix.store.Exec(ctx, `
			INSERT INTO dso_rules_intervals (contract_id, config_hash, active_from, active_until, dso, reason)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (contract_id) DO UPDATE SET
				config_hash = EXCLUDED.config_hash,
				active_from = EXCLUDED.active_from,
				active_until = EXCLUDED.active_until,
				dso = EXCLUDED.dso,
				reason = EXCLUDED.reason`,
			iv.ContractID, nullIfEmpty(iv.ConfigHash), iv.ActiveFrom, iv.ActiveUntil, iv.Dso, nullIfEmpty(iv.Reason))
		if err != nil {
			return err
		}
	}
	return nil
}

// ListActiveAt returns the DSO-rules config intervals in force at t,
// ordered by active_from (§4.H query surface, generic across interval
// kinds).
func (ix *DsoRulesIndexer) ListActiveAt(ctx context.Context, t time.Time) ([]models.DsoRulesInterval, error) {
	rows, err := ix.store.Query(ctx, `
		SELECT contract_id, config_hash, active_from, active_until, dso, reason
		FROM dso_rules_intervals
		WHERE active_from <= $1 AND (active_until IS NULL OR active_until > $1)
		ORDER BY active_from`, t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DsoRulesInterval
	for rows.Next() {
		var iv models.DsoRulesInterval
		var configHash, dso, reason *string
		if err := rows.Scan(&iv.ContractID, &configHash, &iv.ActiveFrom, &iv.ActiveUntil, &dso, &reason); err != nil {
			return nil, err
		}
		if configHash != nil {
			iv.ConfigHash = *configHash
		}
		if dso != nil {
			iv.Dso = *dso
		}
		if reason != nil {
			iv.Reason = *reason
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// Timeline returns the most recent DSO-rules config intervals, newest
// active_from first.
func (ix *DsoRulesIndexer) Timeline(ctx context.Context, limit int) ([]models.DsoRulesInterval, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := ix.store.Query(ctx, `
		SELECT contract_id, config_hash, active_from, active_until, dso, reason
		FROM dso_rules_intervals
		ORDER BY active_from DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DsoRulesInterval
	for rows.Next() {
		var iv models.DsoRulesInterval
		var configHash, dso, reason *string
		if err := rows.Scan(&iv.ContractID, &configHash, &iv.ActiveFrom, &iv.ActiveUntil, &dso, &reason); err != nil {
			return nil, err
		}
		if configHash != nil {
			iv.ConfigHash = *configHash
		}
		if dso != nil {
			iv.Dso = *dso
		}
		if reason != nil {
			iv.Reason = *reason
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}
