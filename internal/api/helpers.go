package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"ledgerwarehouse/internal/models"
)

var (
	errMissingTemplateParam = errors.New("api: missing template query parameter")
	errMissingFileIDParam   = errors.New("api: missing or invalid file_id query parameter")
)

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func splitCursor(cursor string) []string {
	return strings.SplitN(cursor, "|", 2)
}

func parseVoteStatus(raw string) models.VoteStatus {
	switch models.VoteStatus(raw) {
	case models.VoteStatusInProgress, models.VoteStatusExecuted, models.VoteStatusRejected, models.VoteStatusExpired:
		return models.VoteStatus(raw)
	default:
		return ""
	}
}
