// Package interval builds open/close interval indices over a single
// contract's own lifecycle: a created event opens `[active_from, null)`
// keyed by contract_id, and a later consuming exercise on the same
// contract closes it (§4.H). Indexer builds the SV-membership interval;
// DsoRulesIndexer (dsorules.go) applies the same shape to the DsoRules
// config contract's own create/replace lifecycle.
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
	svFilePattern    = "SvOnboardingConfirmed"
	svTemplateSuffix = ":SvOnboardingConfirmed"
)

// DropCounts are the four buckets §4.H requires the indexer to surface in
// its final log.
type DropCounts struct {
	MissingParty int
	MissingStart int
	Inverted     int
}

func (d DropCounts) Total() int { return d.MissingParty + d.MissingStart + d.Inverted }

// BuildResult summarizes one SV-interval build pass.
type BuildResult struct {
	EventsObserved   int
	IntervalsWritten int
	Drops            DropCounts
}

// Indexer owns the sv_intervals table and its build operation.
type Indexer struct {
	store     *store.Store
	templates *templateindex.Builder
	log       *zap.SugaredLogger
}

func New(st *store.Store, templates *templateindex.Builder) *Indexer {
	return &Indexer{store: st, templates: templates, log: logging.For("interval")}
}

type openInterval struct {
	models.SvInterval
}

// Build scans every file containing the SV-onboarding template, opens and
// closes intervals, and upserts the result (§4.H).
func (ix *Indexer) Build(ctx context.Context) (BuildResult, error) {
	files, err := ix.templates.GetFilesForTemplate(ctx, svFilePattern)
	if err != nil {
		return BuildResult{}, fmt.Errorf("interval: list files: %w", err)
	}

	open := make(map[string]*models.SvInterval)
	tombstones := make(map[string]time.Time)
	var drops DropCounts
	eventsObserved := 0

	for _, path := range files {
		recs, err := scanTemplateEvents(path)
		if err != nil {
			ix.log.Warnw("skipping file in interval build", "path", path, "error", err)
			continue
		}
		for _, rec := range recs {
			eventsObserved++
			switch {
			case rec.EventType == "created":
				handleCreate(rec, open, tombstones, &drops)
			case rec.EventType == "exercised" && rec.Consuming:
				handleClose(rec, open, tombstones, &drops)
			}
		}
	}

	intervals := make([]models.SvInterval, 0, len(open))
	for _, iv := range open {
		intervals = append(intervals, *iv)
	}

	if eventsObserved > 0 && len(intervals) == 0 {
		return BuildResult{}, fmt.Errorf("interval: %d events observed but zero intervals produced, extraction is broken", eventsObserved)
	}

	if err := ix.upsert(ctx, intervals); err != nil {
		return BuildResult{}, fmt.Errorf("interval: upsert: %w", err)
	}

	ix.log.Infow("sv interval build finished",
		"events_observed", eventsObserved,
		"intervals_written", len(intervals),
		"dropped_missing_party", drops.MissingParty,
		"dropped_missing_start", drops.MissingStart,
		"dropped_inverted", drops.Inverted,
		"dropped_total", drops.Total())

	return BuildResult{EventsObserved: eventsObserved, IntervalsWritten: len(intervals), Drops: drops}, nil
}

func scanTemplateEvents(path string) ([]decoder.Record, error) {
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
		if strings.HasSuffix(rec.TemplateID, svTemplateSuffix) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func handleCreate(rec decoder.Record, open map[string]*models.SvInterval, tombstones map[string]time.Time, drops *DropCounts) {
	f, err := payload.Parse(rec.Payload)
	if err != nil {
		drops.MissingParty++
		return
	}
	svParty, ok := f.ExtractParty("svParty")
	if !ok || svParty == "" {
		drops.MissingParty++
		return
	}
	if rec.EffectiveAt.IsZero() {
		drops.MissingStart++
		return
	}

	svName, _ := f.ExtractText("svName")
	dso, _ := f.ExtractParty("dso")
	participantID, _ := f.ExtractText("svParticipantId")
	weight, _ := f.ExtractFloat("svRewardWeight")

	iv := &models.SvInterval{
		ContractID:      rec.ContractID,
		SvParty:         svParty,
		SvName:          svName,
		SvRewardWeight:  weight,
		SvParticipantID: participantID,
		ActiveFrom:      rec.EffectiveAt,
		Dso:             dso,
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

func handleClose(rec decoder.Record, open map[string]*models.SvInterval, tombstones map[string]time.Time, drops *DropCounts) {
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

func (ix *Indexer) upsert(ctx context.Context, intervals []models.SvInterval) error {
	for _, iv := range intervals {
		err := ix.store.Exec(ctx, `
			INSERT INTO sv_intervals (contract_id, sv_party, sv_name, sv_reward_weight, sv_participant_id, active_from, active_until, dso, reason)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (contract_id) DO UPDATE SET
				sv_party = EXCLUDED.sv_party,
				sv_name = EXCLUDED.sv_name,
				sv_reward_weight = EXCLUDED.sv_reward_weight,
				sv_participant_id = EXCLUDED.sv_participant_id,
				active_from = EXCLUDED.active_from,
				active_until = EXCLUDED.active_until,
				dso = EXCLUDED.dso,
				reason = EXCLUDED.reason`,
			iv.ContractID, iv.SvParty, iv.SvName, iv.SvRewardWeight, iv.SvParticipantID,
			iv.ActiveFrom, iv.ActiveUntil, iv.Dso, nullIfEmpty(iv.Reason))
		if err != nil {
			return err
		}
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
