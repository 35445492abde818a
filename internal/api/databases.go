package api

import (
	"net/http"
	"strings"
	"time"
)

type createDatabaseRequest struct {
	Database string `json:"database"`
	UseNow   bool   `json:"use_now"`
}

type deleteDatabasesRequest struct {
	Databases []string `json:"databases"`
}

type selectDatabaseRequest struct {
	Database string `json:"database"`
}

type selectDatabaseResponse struct {
	Message     string    `json:"message"`
	Database    string    `json:"database"`
	Tables      []string  `json:"tables"`
	LastUpdated time.Time `json:"last_updated"`
}

func handleListDatabases(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	databases, err := deps.Assistant.ListDatabases(r.Context())
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"databases": databases})
}

func handleCreateDatabase(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request createDatabaseRequest
	if err := decodeBody(r, &request, false); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid create database request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Database) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "DATABASE_REQUIRED", "database is required", false, nil)
		return
	}

	message, err := deps.Assistant.CreateDatabase(r.Context(), sessionFromRequest(deps, r), request.Database, request.UseNow)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": message})
}

func handleDeleteDatabases(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request deleteDatabasesRequest
	if err := decodeBody(r, &request, false); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid delete databases request body", false, map[string]any{"details": err.Error()})
		return
	}
	if len(request.Databases) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "DATABASES_REQUIRED", "no databases selected for deletion", false, nil)
		return
	}

	result, err := deps.Assistant.DeleteDatabases(r.Context(), request.Databases)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleSelectDatabase(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request selectDatabaseRequest
	if err := decodeBody(r, &request, false); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid select database request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Database) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "DATABASE_REQUIRED", "database is required", false, nil)
		return
	}

	snapshot, err := deps.Assistant.SelectDatabase(r.Context(), sessionFromRequest(deps, r), request.Database)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, selectDatabaseResponse{
		Message:     "Database '" + snapshot.Database + "' selected and analyzed successfully.",
		Database:    snapshot.Database,
		Tables:      snapshot.TableNames(),
		LastUpdated: snapshot.LastUpdated,
	})
}
