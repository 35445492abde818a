package api

import (
	"errors"
	"net/http"

	"github.com/nlpdb/nlpdb/internal/assistant"
	"github.com/nlpdb/nlpdb/internal/dialect"
	"github.com/nlpdb/nlpdb/internal/executor"
	"github.com/nlpdb/nlpdb/internal/nl2sql"
	"github.com/nlpdb/nlpdb/internal/schema"
)

type errorMapping struct {
	target    error
	status    int
	code      string
	retryable bool
}

// Ordered most specific first: an execution error also wraps the driver error.
var pipelineErrors = []errorMapping{
	{assistant.ErrEmptyRequest, http.StatusBadRequest, "MESSAGE_REQUIRED", false},
	{assistant.ErrNoDatabaseSelected, http.StatusBadRequest, "NO_DATABASE_SELECTED", false},
	{assistant.ErrInvalidDatabaseName, http.StatusBadRequest, "INVALID_DATABASE_NAME", false},
	{assistant.ErrTableNotFound, http.StatusNotFound, "TABLE_NOT_FOUND", false},
	{nl2sql.ErrNoValidSQL, http.StatusUnprocessableEntity, "NO_VALID_SQL", false},
	{nl2sql.ErrCompletionUnavailable, http.StatusServiceUnavailable, "COMPLETION_UNAVAILABLE", true},
	{nl2sql.ErrCompletionBadStatus, http.StatusBadGateway, "COMPLETION_BAD_STATUS", true},
	{nl2sql.ErrCompletionMalformed, http.StatusBadGateway, "COMPLETION_MALFORMED", false},
	{executor.ErrEmptyStatementSet, http.StatusUnprocessableEntity, "EMPTY_STATEMENT_SET", false},
	{executor.ErrTableAlreadyExists, http.StatusConflict, "TABLE_ALREADY_EXISTS", false},
	{executor.ErrDatabaseExecution, http.StatusBadRequest, "DATABASE_ERROR", false},
	{dialect.ErrDatabaseExists, http.StatusConflict, "DATABASE_ALREADY_EXISTS", false},
	{dialect.ErrDatabaseNotFound, http.StatusNotFound, "DATABASE_NOT_FOUND", false},
	{dialect.ErrConnection, http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE", true},
	{schema.ErrSchemaBuild, http.StatusInternalServerError, "SCHEMA_BUILD_FAILED", true},
}

func classifyError(err error) errorMapping {
	for _, mapping := range pipelineErrors {
		if errors.Is(err, mapping.target) {
			return mapping
		}
	}
	return errorMapping{status: http.StatusInternalServerError, code: "INTERNAL_ERROR", retryable: false}
}

// writePipelineError maps err onto the error envelope. Failures that carry
// attempted SQL echo it in a top-level "sql" field.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	mapping := classifyError(err)
	body := errorBody(r.Context(), mapping.code, err.Error(), mapping.retryable, nil)
	if sqlText, ok := executor.SQLOf(err); ok {
		body["sql"] = sqlText
	}
	writeJSON(w, mapping.status, body)
}
