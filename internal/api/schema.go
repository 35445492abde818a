package api

import (
	"net/http"
	"strings"
)

type refreshSchemaRequest struct {
	Database string `json:"database"`
}

// databaseParam reads ?database= and falls back to the session's current one.
func databaseParam(deps Dependencies, r *http.Request) string {
	if database := strings.TrimSpace(r.URL.Query().Get("database")); database != "" {
		return database
	}
	return sessionFromRequest(deps, r).CurrentDatabase()
}

func handleRelationships(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	database := databaseParam(deps, r)
	if database == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "DATABASE_REQUIRED", "database is required", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"database":      database,
		"relationships": deps.Assistant.ListRelationships(r.Context(), database),
	})
}

func handleDescribeTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	database := databaseParam(deps, r)
	if database == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "DATABASE_REQUIRED", "database is required", false, nil)
		return
	}
	details, err := deps.Assistant.DescribeTable(r.Context(), database, r.PathValue("table"))
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func handleRefreshSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request refreshSchemaRequest
	if err := decodeBody(r, &request, true); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid refresh request body", false, map[string]any{"details": err.Error()})
		return
	}
	snapshot, err := deps.Assistant.RefreshSchema(r.Context(), sessionFromRequest(deps, r), strings.TrimSpace(request.Database))
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func handleClearCache(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := deps.Assistant.ClearCache(r.Context()); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CACHE_CLEAR_FAILED", "failed to clear schema cache", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}
