package api

import (
	"net/http"
	"strconv"
	"time"

	"ledgerwarehouse/internal/templateindex"
	"ledgerwarehouse/internal/voterequest"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports the engine's cycle state and background build
// states in one payload, grounded in the teacher's admin status handler
// (§9 background task lifecycle).
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":          s.eng.Running(),
		"cycle_count":      s.eng.CycleCount(),
		"last_cycle_at":    s.eng.LastCycleAt(),
		"background_tasks": s.eng.BackgroundTaskStates(),
	})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	files, err := s.files.ListFiles(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.files.GetFileStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	pending, err := s.files.GetPendingFileCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file_stats":    stats,
		"pending_files": pending,
	})
}

// handleEventsStream is a cursor-paginated, template/type-filterable scan
// over events_raw, keyset-paginated on (effective_at, event_id) so it
// stays stable under concurrent ingestion (§6).
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit > 1000 {
		limit = 1000
	}
	template := r.URL.Query().Get("template")
	eventType := r.URL.Query().Get("type")
	cursor := r.URL.Query().Get("cursor")

	var cursorTime time.Time
	var cursorID string
	if cursor != "" {
		parts := splitCursor(cursor)
		if len(parts) == 2 {
			if t, err := time.Parse(time.RFC3339Nano, parts[0]); err == nil {
				cursorTime = t
				cursorID = parts[1]
			}
		}
	}

	query := `
		SELECT event_id, update_id, contract_id, template_id, event_type, effective_at, recorded_at,
			consuming, choice, payload
		FROM events_raw
		WHERE ($1 = '' OR template_id LIKE '%' || $1 || '%')
			AND ($2 = '' OR event_type = $2)
			AND (effective_at, event_id) > ($3, $4)
		ORDER BY effective_at ASC, event_id ASC
		LIMIT $5`

	rows, err := s.store.Query(r.Context(), query, template, eventType, cursorTime, cursorID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer rows.Close()

	type eventOut struct {
		EventID     string    `json:"event_id"`
		UpdateID    string    `json:"update_id,omitempty"`
		ContractID  string    `json:"contract_id"`
		TemplateID  string    `json:"template_id"`
		EventType   string    `json:"event_type"`
		EffectiveAt time.Time `json:"effective_at"`
		RecordedAt  time.Time `json:"recorded_at"`
		Consuming   bool      `json:"consuming"`
		Choice      string    `json:"choice,omitempty"`
		Payload     []byte    `json:"payload"`
	}

	var out []eventOut
	for rows.Next() {
		var e eventOut
		var updateID, choice *string
		if err := rows.Scan(&e.EventID, &updateID, &e.ContractID, &e.TemplateID, &e.EventType, &e.EffectiveAt, &e.RecordedAt,
			&e.Consuming, &choice, &e.Payload); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if updateID != nil {
			e.UpdateID = *updateID
		}
		if choice != nil {
			e.Choice = *choice
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	nextCursor := ""
	if len(out) == limit {
		last := out[len(out)-1]
		nextCursor = last.EffectiveAt.Format(time.RFC3339Nano) + "|" + last.EventID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out, "next_cursor": nextCursor})
}

func (s *Server) handleEventsCount(w http.ResponseWriter, r *http.Request) {
	counts, err := s.agg.EventTypeCounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	s.handleTemplateIndexTemplates(w, r)
}

func (s *Server) handleTemplateIndexStatus(w http.ResponseWriter, r *http.Request) {
	populated, err := s.tmpl.IsPopulated(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"populated": populated,
		"progress":  s.tmpl.Tracker().Snapshot(),
	})
}

func (s *Server) handleTemplateIndexTemplates(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.tmpl.GetIndexedTemplates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleTemplateIndexFiles(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("template")
	if pattern == "" {
		writeError(w, http.StatusBadRequest, errMissingTemplateParam)
		return
	}
	files, err := s.tmpl.GetFilesForTemplate(r.Context(), pattern)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// handleTemplateIndexBuild runs a template-index build synchronously:
// incremental by default, a full rebuild with ?mode=force. It does not
// detect or report a build that is already running; a concurrent build
// runs alongside it.
func (s *Server) handleTemplateIndexBuild(w http.ResponseWriter, r *http.Request) {
	mode := templateindex.Incremental
	if r.URL.Query().Get("mode") == "force" {
		mode = templateindex.Force
	}
	state, err := s.tmpl.Build(r.Context(), templateindex.Options{Mode: mode})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	result, err := s.files.ScanAndIndex(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	maxFiles := queryInt(r, "max_files", 3)
	result, err := s.ing.IngestNewFiles(r.Context(), maxFiles)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	report := s.eng.RunCycle(r.Context())
	writeJSON(w, http.StatusOK, report)
}

// handleReset re-queues a single file for re-ingestion (§3 EventRow: "a
// file re-ingested ... re-creates rows under the same _file_id").
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	fileID, err := strconv.ParseInt(r.URL.Query().Get("file_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errMissingFileIDParam)
		return
	}
	if err := s.ing.ResetFile(r.Context(), fileID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleVoteRequests(w http.ResponseWriter, r *http.Request) {
	q := voterequest.CanonicalQuery{
		Status:    parseVoteStatus(r.URL.Query().Get("status")),
		HumanOnly: r.URL.Query().Get("human_only") == "true",
		Limit:     queryInt(r, "limit", 50),
		Offset:    queryInt(r, "offset", 0),
	}
	proposals, err := s.votes.QueryCanonicalProposals(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (s *Server) handleVoteRequestsBuild(w http.ResponseWriter, r *http.Request) {
	result, err := s.votes.Build(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSvIntervals(w http.ResponseWriter, r *http.Request) {
	at := time.Now().UTC()
	if raw := r.URL.Query().Get("at"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			at = t
		}
	}
	active, err := s.intervals.ListActiveAt(r.Context(), at)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	threshold, err := s.intervals.VotingThreshold(r.Context(), at)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": active, "voting_threshold": threshold})
}

func (s *Server) handleSvIntervalsBuild(w http.ResponseWriter, r *http.Request) {
	result, err := s.intervals.Build(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDsoRulesIntervals(w http.ResponseWriter, r *http.Request) {
	at := time.Now().UTC()
	if raw := r.URL.Query().Get("at"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			at = t
		}
	}
	active, err := s.dsoIntervals.ListActiveAt(r.Context(), at)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": active})
}

func (s *Server) handleDsoRulesIntervalsBuild(w http.ResponseWriter, r *http.Request) {
	result, err := s.dsoIntervals.Build(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRewardCouponsBuild(w http.ResponseWriter, r *http.Request) {
	result, err := s.coupons.Build(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
