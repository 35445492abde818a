package api

import (
	"net/http"
	"strings"
)

type queryRequest struct {
	Message  string `json:"message"`
	Database string `json:"database"`
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request queryRequest
	if err := decodeBody(r, &request, false); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Message) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "MESSAGE_REQUIRED", "message is required", false, nil)
		return
	}

	result, err := deps.Assistant.TranslateAndRun(r.Context(), sessionFromRequest(deps, r), request.Message, strings.TrimSpace(request.Database))
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleGetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFromRequest(deps, r).Snapshot())
}
