package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/nlpdb/nlpdb/internal/history"
)

type archiveRequest struct {
	BatchSize int `json:"batch_size"`
}

func handleListHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "query history is not configured", false, nil)
		return
	}
	filter := history.Filter{
		SessionID: strings.TrimSpace(r.URL.Query().Get("session")),
		Database:  strings.TrimSpace(r.URL.Query().Get("database")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, map[string]any{"limit": raw})
			return
		}
		filter.Limit = limit
	}
	filter.Limit = history.ClampLimit(filter.Limit)

	entries, err := deps.History.List(r.Context(), filter)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", "failed to list query history", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "limit": filter.Limit})
}

func handleArchiveHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Archiver == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "history archiving is not configured", false, nil)
		return
	}
	var request archiveRequest
	if err := decodeBody(r, &request, true); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid archive request body", false, map[string]any{"details": err.Error()})
		return
	}
	if request.BatchSize < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BATCH_SIZE", "batch_size must not be negative", false, nil)
		return
	}

	result, err := deps.Archiver.Archive(r.Context(), request.BatchSize)
	if err != nil {
		if errors.Is(err, history.ErrNothingToArchive) {
			writeError(r.Context(), w, http.StatusConflict, "NOTHING_TO_ARCHIVE", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "ARCHIVE_FAILED", "failed to archive query history", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleListArchives(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Archiver == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "history archiving is not configured", false, nil)
		return
	}
	archives, err := deps.Archiver.ListArchives(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "ARCHIVE_LIST_FAILED", "failed to list history archives", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": archives})
}
