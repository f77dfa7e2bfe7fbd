package voterequest

import (
	"context"
	"fmt"
	"strings"

	"ledgerwarehouse/internal/models"
)

// CanonicalQuery filters queryCanonicalProposals() (§4.G canonical read
// surfaces).
type CanonicalQuery struct {
	Status    models.VoteStatus // empty = any
	HumanOnly bool
	Limit     int
	Offset    int
}

// QueryCanonicalProposals collapses vote_requests by proposal_id via a
// window function, keeping the latest row per proposal and attaching
// related_count/first_seen/last_seen/max_accept/max_reject.
func (b *Builder) QueryCanonicalProposals(ctx context.Context, q CanonicalQuery) ([]models.CanonicalProposal, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	var where []string
	var args []any
	argN := 1
	if q.Status != "" {
		where = append(where, fmt.Sprintf("latest.status = $%d", argN))
		args = append(args, string(q.Status))
		argN++
	}
	if q.HumanOnly {
		where = append(where, "latest.is_human = TRUE")
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = "AND " + strings.Join(where, " AND ")
	}

	query := fmt.Sprintf(`
		WITH ranked AS (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY proposal_id ORDER BY effective_at DESC) AS rn,
				COUNT(*) OVER (PARTITION BY proposal_id) AS related_count,
				MIN(effective_at) OVER (PARTITION BY proposal_id) AS first_seen,
				MAX(effective_at) OVER (PARTITION BY proposal_id) AS last_seen,
				MAX(accept_count) OVER (PARTITION BY proposal_id) AS max_accept,
				MAX(reject_count) OVER (PARTITION BY proposal_id) AS max_reject
			FROM vote_requests
		)
		SELECT
			latest.event_id, latest.stable_id, latest.contract_id, latest.status, latest.is_closed,
			latest.action_tag, latest.action_subject, latest.proposal_id, latest.semantic_key,
			latest.is_human, latest.votes, latest.accept_count, latest.reject_count,
			latest.vote_before, latest.effective_at, latest.updated_at,
			latest.related_count, latest.first_seen, latest.last_seen, latest.max_accept, latest.max_reject
		FROM ranked latest
		WHERE latest.rn = 1
		%s
		ORDER BY latest.effective_at DESC
		LIMIT $%d OFFSET $%d`, whereClause, argN, argN+1)
	args = append(args, limit, q.Offset)

	rows, err := b.store.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CanonicalProposal
	for rows.Next() {
		var cp models.CanonicalProposal
		var status string
		if err := rows.Scan(
			&cp.EventID, &cp.StableID, &cp.ContractID, &status, &cp.IsClosed,
			&cp.ActionTag, &cp.ActionSubject, &cp.ProposalID, &cp.SemanticKey,
			&cp.IsHuman, &cp.VotesJSON, &cp.AcceptCount, &cp.RejectCount,
			&cp.VoteBefore, &cp.EffectiveAt, &cp.UpdatedAt,
			&cp.RelatedCount, &cp.FirstSeen, &cp.LastSeen, &cp.MaxAccept, &cp.MaxReject,
		); err != nil {
			return nil, err
		}
		cp.Status = models.VoteStatus(status)
		out = append(out, cp)
	}
	return out, rows.Err()
}

// IsPopulated reports whether vote_requests has any rows at all.
func (b *Builder) IsPopulated(ctx context.Context) (bool, error) {
	var count int64
	err := b.store.QueryRow(ctx, "SELECT COUNT(*) FROM vote_requests LIMIT 1").Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// QueryProposalTimeline returns every row sharing semanticKey, oldest
// first (§4.G queryProposalTimeline()).
func (b *Builder) QueryProposalTimeline(ctx context.Context, semanticKey string) ([]models.VoteRequestRow, error) {
	rows, err := b.store.Query(ctx, `
		SELECT event_id, stable_id, contract_id, status, is_closed, action_tag, action_subject,
			proposal_id, semantic_key, is_human, votes, accept_count, reject_count,
			vote_before, effective_at, updated_at
		FROM vote_requests
		WHERE semantic_key = $1
		ORDER BY effective_at ASC`, semanticKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.VoteRequestRow
	for rows.Next() {
		var r models.VoteRequestRow
		var status string
		if err := rows.Scan(
			&r.EventID, &r.StableID, &r.ContractID, &status, &r.IsClosed, &r.ActionTag, &r.ActionSubject,
			&r.ProposalID, &r.SemanticKey, &r.IsHuman, &r.VotesJSON, &r.AcceptCount, &r.RejectCount,
			&r.VoteBefore, &r.EffectiveAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		r.Status = models.VoteStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}
