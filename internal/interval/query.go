package interval

import (
	"context"
	"database/sql"
	"math"
	"time"

	"ledgerwarehouse/internal/models"
)

// CountActiveAt returns |{sv_party : active_from <= t AND (active_until IS
// NULL OR active_until > t)}| (§4.H countActiveAt()).
func (ix *Indexer) CountActiveAt(ctx context.Context, t time.Time) (int, error) {
	var count int
	err := ix.store.QueryRow(ctx, `
		SELECT COUNT(DISTINCT sv_party) FROM sv_intervals
		WHERE active_from <= $1 AND (active_until IS NULL OR active_until > $1)`, t).Scan(&count)
	return count, err
}

// ListActiveAt returns the ordered rows active at t (§4.H listActiveAt()).
func (ix *Indexer) ListActiveAt(ctx context.Context, t time.Time) ([]models.SvInterval, error) {
	rows, err := ix.store.Query(ctx, `
		SELECT contract_id, sv_party, sv_name, sv_reward_weight, sv_participant_id, active_from, active_until, dso, reason
		FROM sv_intervals
		WHERE active_from <= $1 AND (active_until IS NULL OR active_until > $1)
		ORDER BY active_from ASC`, t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIntervals(rows)
}

// Timeline returns the most recent intervals, newest first, capped at
// limit (§4.H timeline()).
func (ix *Indexer) Timeline(ctx context.Context, limit int) ([]models.SvInterval, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := ix.store.Query(ctx, `
		SELECT contract_id, sv_party, sv_name, sv_reward_weight, sv_participant_id, active_from, active_until, dso, reason
		FROM sv_intervals
		ORDER BY active_from DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIntervals(rows)
}

// VotingThreshold derives two-thirds and simple-majority thresholds from
// the SV count active at t. Thresholds are always derived from the live
// count, never hardcoded (§4.H).
func (ix *Indexer) VotingThreshold(ctx context.Context, t time.Time) (models.VotingThreshold, error) {
	count, err := ix.CountActiveAt(ctx, t)
	if err != nil {
		return models.VotingThreshold{}, err
	}
	return models.VotingThreshold{
		SvCount:        count,
		TwoThirds:      int(math.Ceil(float64(count) * 2 / 3)),
		SimpleMajority: count/2 + 1,
	}, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanIntervals(rows rowScanner) ([]models.SvInterval, error) {
	var out []models.SvInterval
	for rows.Next() {
		var iv models.SvInterval
		var activeUntil sql.NullTime
		var svName, participantID, dso, reason sql.NullString
		if err := rows.Scan(&iv.ContractID, &iv.SvParty, &svName, &iv.SvRewardWeight, &participantID,
			&iv.ActiveFrom, &activeUntil, &dso, &reason); err != nil {
			return nil, err
		}
		iv.SvName = svName.String
		iv.SvParticipantID = participantID.String
		iv.Dso = dso.String
		iv.Reason = reason.String
		if activeUntil.Valid {
			iv.ActiveUntil = &activeUntil.Time
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}
