// Package voterequest builds the vote-request projection, the canonical
// illustration of a template-scoped, consumption-finalized projection
// (§4.G). Status is strictly derived from the presence of a consuming
// exercise on the proposal-root contract; vote tallies are display-only.
package voterequest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ledgerwarehouse/internal/decoder"
	"ledgerwarehouse/internal/lock"
	"ledgerwarehouse/internal/logging"
	"ledgerwarehouse/internal/models"
	"ledgerwarehouse/internal/payload"
	"ledgerwarehouse/internal/store"
	"ledgerwarehouse/internal/templateindex"
)

// Template name fragments used to select which files to scan. Matched as a
// substring of template_name via the §4.F reverse index, and as a suffix of
// the record's own template_id (proposal/consumption templates share a
// module but differ in template name).
const (
	proposalFilePattern    = "VoteRequest"
	proposalTemplateSuffix = ":VoteRequest"

	consumptionFilePattern    = "DsoRules"
	consumptionTemplateSuffix = ":DsoRules"
)

// isConfigMaintenance is the closed set of action tags named in §4.G.4
// that never count as "human" activity on their own.
var isConfigMaintenance = map[string]bool{
	"SRARC_SetConfig":            true,
	"SRARC_UpdateSvRewardWeight": true,
	"SRARC_SetConfigWeights":     true,
	"CRARC_SetConfig":            true,
}

// actionSubjectPriority is the fixed priority table named in §4.G.4 for
// deriving action_subject from the action payload.
var actionSubjectPriority = []string{"provider", "rightCid", "svParty", "beneficiary", "validator", "configHash"}

// recognizedNarrativeHosts is the set of hosts a reason_url must match to
// count as narrative evidence (§4.G.4 has_narrative).
var recognizedNarrativeHosts = []string{"lists.sync.global", "forum.sync.global"}

// Builder owns the vote_requests table and its build operation.
type Builder struct {
	store      *store.Store
	templates  *templateindex.Builder
	dataDir    string
	log        *zap.SugaredLogger
	inProgress bool
}

// New constructs a Builder. templates supplies the template→file reverse
// index this projection scans through.
func New(st *store.Store, templates *templateindex.Builder, dataDir string) *Builder {
	return &Builder{store: st, templates: templates, dataDir: dataDir, log: logging.For("voterequest")}
}

// terminalExercise is one entry of the terminal map built in step 2.
type terminalExercise struct {
	Outcome     models.VoteStatus
	Choice      string
	EffectiveAt time.Time
}

// BuildResult summarizes one build pass (§4.G step 6 build history).
type BuildResult struct {
	RowsWritten     int
	CreateEvents    int
	TerminalEvents  int
	NamedShape      int
	PositionalShape int
	Duration        time.Duration
}

// Build runs the full create-set/terminal-set scan and row assembly
// described in §4.G, guarded by both a process-local in-progress flag and
// a cross-process file lock (§4.G "Concurrency/locking").
func (b *Builder) Build(ctx context.Context) (BuildResult, error) {
	if b.inProgress {
		return BuildResult{}, fmt.Errorf("voterequest: build already in progress in this process")
	}
	b.inProgress = true
	defer func() { b.inProgress = false }()

	l := lock.New(b.dataDir, "vote_request_index")
	release, ok, err := l.TryAcquire()
	if err != nil {
		return BuildResult{}, fmt.Errorf("voterequest: acquire lock: %w", err)
	}
	if !ok {
		return BuildResult{}, fmt.Errorf("voterequest: build already in progress in another process")
	}
	defer release()

	start := time.Now().UTC()
	buildID := uuid.NewString()

	result, buildErr := b.runBuild(ctx, start)
	result.Duration = time.Since(start)

	histErr := b.recordBuildHistory(ctx, buildID, start, result, buildErr)
	if buildErr != nil {
		return result, buildErr
	}
	return result, histErr
}

func (b *Builder) runBuild(ctx context.Context, now time.Time) (BuildResult, error) {
	terminals, terminalCount, err := b.buildTerminalMap(ctx)
	if err != nil {
		return BuildResult{}, fmt.Errorf("voterequest: build terminal map: %w", err)
	}

	createFiles, err := b.templates.GetFilesForTemplate(ctx, proposalFilePattern)
	if err != nil {
		return BuildResult{}, fmt.Errorf("voterequest: list create files: %w", err)
	}

	var (
		rows            []models.VoteRequestRow
		createEvents    int
		namedShape      int
		positionalShape int
	)

	for _, path := range createFiles {
		recs, err := scanCreateEvents(path)
		if err != nil {
			b.log.Warnw("skipping file in vote request build", "path", path, "error", err)
			continue
		}
		for _, rec := range recs {
			createEvents++
			row, shape, err := assembleRow(rec, terminals, now)
			if err != nil {
				b.log.Warnw("skipping create event", "event_id", rec.EventID, "error", err)
				continue
			}
			switch shape {
			case payload.ShapeNamed:
				namedShape++
			case payload.ShapePositional:
				positionalShape++
			}
			rows = append(rows, row)
		}
	}

	if err := b.upsertRows(ctx, rows); err != nil {
		return BuildResult{}, fmt.Errorf("voterequest: upsert: %w", err)
	}

	return BuildResult{
		RowsWritten:     len(rows),
		CreateEvents:    createEvents,
		TerminalEvents:  terminalCount,
		NamedShape:      namedShape,
		PositionalShape: positionalShape,
	}, nil
}

// buildTerminalMap is step 2: scan consumption-template files for consuming
// exercise events and extract each one's proposal-root reference.
func (b *Builder) buildTerminalMap(ctx context.Context) (map[string]terminalExercise, int, error) {
	files, err := b.templates.GetFilesForTemplate(ctx, consumptionFilePattern)
	if err != nil {
		return nil, 0, err
	}

	terminals := make(map[string]terminalExercise)
	count := 0
	for _, path := range files {
		recs, err := scanTerminalEvents(path)
		if err != nil {
			b.log.Warnw("skipping file in terminal scan", "path", path, "error", err)
			continue
		}
		for _, rec := range recs {
			count++
			root, ok := extractProposalRoot(rec)
			if !ok {
				b.log.Warnw("terminal exercise missing a recognized proposal-root reference", "event_id", rec.EventID)
				continue
			}
			terminals[root] = terminalExercise{
				Outcome:     classifyOutcome(rec),
				Choice:      rec.Choice,
				EffectiveAt: rec.EffectiveAt,
			}
		}
	}
	return terminals, count, nil
}

func scanCreateEvents(path string) ([]decoder.Record, error) {
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
		if rec.EventType == "created" && strings.HasSuffix(rec.TemplateID, proposalTemplateSuffix) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func scanTerminalEvents(path string) ([]decoder.Record, error) {
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
		if rec.EventType == "exercised" && rec.Consuming && strings.HasSuffix(rec.TemplateID, consumptionTemplateSuffix) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// proposalRootKeys is the ordered list of known JSON path candidates for
// the proposal-root reference carried by a terminal exercise argument
// (§4.G step 2: "try each in order and fall through to a logged warning if
// absent").
var proposalRootKeys = []string{"voteRequestCid", "votableCid", "requestCid", "tracking_cid"}

func extractProposalRoot(rec decoder.Record) (string, bool) {
	f, err := payload.Parse(rec.Payload)
	if err != nil {
		return "", false
	}
	for _, key := range proposalRootKeys {
		if v, ok := f.ExtractText(key); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// classifyOutcome maps a terminal exercise's outcome tag (if present) or
// its choice name to executed/rejected/expired by keyword (§4.G.4).
func classifyOutcome(rec decoder.Record) models.VoteStatus {
	f, err := payload.Parse(rec.Payload)
	tag := ""
	if err == nil {
		if t, ok := f.ExtractText("outcome"); ok {
			tag = t
		}
	}
	if tag == "" {
		tag = rec.Choice
	}
	lower := strings.ToLower(tag)
	switch {
	case strings.HasPrefix(lower, "accept"):
		return models.VoteStatusExecuted
	case strings.HasPrefix(lower, "reject"):
		return models.VoteStatusRejected
	case strings.HasPrefix(lower, "expire"):
		return models.VoteStatusExpired
	default:
		return models.VoteStatusExecuted
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// assembleRow implements §4.G step 4's row assembly for one create event.
// now is the build's own wall-clock time: a still-open proposal whose
// vote_before has already passed as of now is expired, regardless of how
// long ago the proposal was created.
func assembleRow(rec decoder.Record, terminals map[string]terminalExercise, now time.Time) (models.VoteRequestRow, payload.Shape, error) {
	f, err := payload.Parse(rec.Payload)
	if err != nil {
		return models.VoteRequestRow{}, payload.ShapeUnknown, err
	}

	stableID := firstNonEmpty(rec.ContractID, rec.EventID, rec.UpdateID)
	trackingCid, _ := f.ExtractText("tracking_cid")
	proposalID := firstNonEmpty(trackingCid, rec.ContractID)

	requester, _ := f.ExtractParty("requester")
	actionTag, actionSubject := extractAction(f, requester)
	semanticKey := actionTag + "::" + actionSubject

	reason, hasReason := f.ExtractText("reason")
	reasonURL, _ := f.ExtractText("reason_url")
	hasNarrative := (hasReason && reason != "") || matchesNarrativeHost(reasonURL)
	acceptCount, rejectCount := tallyVotes(f)
	hasVotes := acceptCount+rejectCount > 0

	isHuman := !isConfigMaintenance[actionTag] && (hasNarrative || hasVotes)

	var voteBefore time.Time
	if v, ok := f.ExtractText("vote_before"); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			voteBefore = t
		}
	}

	status := models.VoteStatusInProgress
	isClosed := false
	if term, ok := terminals[rec.ContractID]; ok {
		status = term.Outcome
		isClosed = true
	} else if !voteBefore.IsZero() && voteBefore.Before(now) {
		status = models.VoteStatusExpired
		isClosed = true
	}

	votesRaw, _ := f.Raw("votes")
	votesJSON, _ := marshalVotes(votesRaw)

	row := models.VoteRequestRow{
		EventID:       rec.EventID,
		StableID:      stableID,
		ContractID:    rec.ContractID,
		Status:        status,
		IsClosed:      isClosed,
		ActionTag:     actionTag,
		ActionSubject: actionSubject,
		ProposalID:    proposalID,
		SemanticKey:   semanticKey,
		IsHuman:       isHuman,
		VotesJSON:     votesJSON,
		AcceptCount:   acceptCount,
		RejectCount:   rejectCount,
		VoteBefore:    voteBefore,
		EffectiveAt:   rec.EffectiveAt,
		UpdatedAt:     time.Now().UTC(),
	}
	return row, f.Shape, nil
}

// extractAction derives (action_tag, action_subject) from the action
// field, falling back through the priority table and then requester/tag
// alone (§4.G.4).
func extractAction(f payload.Fields, requester string) (tag, subject string) {
	raw, ok := f.Raw("action")
	actionMap, isMap := raw.(map[string]any)
	if ok && isMap {
		if t, ok := actionMap["tag"].(string); ok {
			tag = t
		}
		nested := namedFields(actionMap)
		if body, ok := actionMap["value"].(map[string]any); ok {
			nested = namedFields(body)
		}
		for _, key := range actionSubjectPriority {
			if v, ok := nested.ExtractParty(key); ok && v != "" {
				return tag, v
			}
		}
	}
	if tag == "" {
		tag = "Unknown"
	}
	if requester != "" {
		return tag, "requester:" + requester
	}
	return tag, tag
}

// namedFields wraps a plain map as a named-shape Fields value for reuse of
// the extraction helpers.
func namedFields(m map[string]any) payload.Fields {
	body, err := json.Marshal(m)
	if err != nil {
		return payload.Fields{}
	}
	f, err := payload.Parse(body)
	if err != nil {
		return payload.Fields{}
	}
	return f
}

func matchesNarrativeHost(url string) bool {
	if url == "" {
		return false
	}
	for _, host := range recognizedNarrativeHosts {
		if strings.Contains(url, host) {
			return true
		}
	}
	return false
}

// tallyVotes counts accept/reject votes from the votes field, which is a
// list of {party, accept: bool} entries in the named shape.
func tallyVotes(f payload.Fields) (accept, reject int) {
	raw, ok := f.Raw("votes")
	if !ok {
		return 0, 0
	}
	list, ok := raw.([]any)
	if !ok {
		return 0, 0
	}
	for _, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if b, ok := m["accept"].(bool); ok {
			if b {
				accept++
			} else {
				reject++
			}
		}
	}
	return accept, reject
}

func marshalVotes(raw any) ([]byte, error) {
	if raw == nil {
		return nil, nil
	}
	return json.Marshal(raw)
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func (b *Builder) upsertRows(ctx context.Context, rows []models.VoteRequestRow) error {
	for _, row := range rows {
		err := b.store.Exec(ctx, `
			INSERT INTO vote_requests (
				event_id, stable_id, contract_id, status, is_closed, action_tag, action_subject,
				proposal_id, semantic_key, is_human, votes, accept_count, reject_count,
				vote_before, effective_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
			ON CONFLICT (event_id) DO UPDATE SET
				stable_id = EXCLUDED.stable_id,
				contract_id = EXCLUDED.contract_id,
				status = EXCLUDED.status,
				is_closed = EXCLUDED.is_closed,
				action_tag = EXCLUDED.action_tag,
				action_subject = EXCLUDED.action_subject,
				proposal_id = EXCLUDED.proposal_id,
				semantic_key = EXCLUDED.semantic_key,
				is_human = EXCLUDED.is_human,
				votes = EXCLUDED.votes,
				accept_count = EXCLUDED.accept_count,
				reject_count = EXCLUDED.reject_count,
				vote_before = EXCLUDED.vote_before,
				effective_at = EXCLUDED.effective_at,
				updated_at = EXCLUDED.updated_at`,
			row.EventID, row.StableID, row.ContractID, string(row.Status), row.IsClosed, row.ActionTag, row.ActionSubject,
			row.ProposalID, row.SemanticKey, row.IsHuman, row.VotesJSON, row.AcceptCount, row.RejectCount,
			nullableTime(row.VoteBefore), nullableTime(row.EffectiveAt), row.UpdatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) recordBuildHistory(ctx context.Context, buildID string, start time.Time, result BuildResult, buildErr error) error {
	errMsg := ""
	if buildErr != nil {
		errMsg = buildErr.Error()
	}
	return b.store.Exec(ctx, `
		INSERT INTO build_history (build_id, indexer, started_at, finished_at, success, error, rows_output)
		VALUES ($1, 'vote_request_index', $2, $3, $4, $5, $6)`,
		buildID, start.UTC(), time.Now().UTC(), buildErr == nil, nullableString(errMsg), int64(result.RowsWritten))
}
