package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nlpdb/nlpdb/internal/assistant"
	"github.com/nlpdb/nlpdb/internal/config"
	"github.com/nlpdb/nlpdb/internal/executor"
	"github.com/nlpdb/nlpdb/internal/history"
	"github.com/nlpdb/nlpdb/internal/observability"
	"github.com/nlpdb/nlpdb/internal/schema"
	"github.com/nlpdb/nlpdb/internal/session"
)

type ReadinessCheck func(ctx context.Context) error

// Pipeline is the part of *assistant.Service the handlers call.
type Pipeline interface {
	TranslateAndRun(ctx context.Context, sess *session.Session, text, database string) (executor.Result, error)
	SelectDatabase(ctx context.Context, sess *session.Session, database string) (schema.Snapshot, error)
	RefreshSchema(ctx context.Context, sess *session.Session, database string) (schema.Snapshot, error)
	ListRelationships(ctx context.Context, database string) []schema.Edge
	DescribeTable(ctx context.Context, database, table string) (assistant.TableDetails, error)
	ListDatabases(ctx context.Context) ([]string, error)
	CreateDatabase(ctx context.Context, sess *session.Session, name string, useNow bool) (string, error)
	DeleteDatabases(ctx context.Context, names []string) (assistant.DeleteResult, error)
	ClearCache(ctx context.Context) error
}

type HistoryLister interface {
	List(ctx context.Context, filter history.Filter) ([]history.Entry, error)
}

type HistoryArchiver interface {
	Archive(ctx context.Context, batch int) (history.ArchiveResult, error)
	ListArchives(ctx context.Context) ([]history.ArchiveObject, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Assistant         Pipeline
	Sessions          *session.Registry
	History           HistoryLister
	Archiver          HistoryArchiver
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.Sessions == nil {
		deps.Sessions = session.NewRegistry()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	routes := map[string]func(Dependencies, http.ResponseWriter, *http.Request){
		"GET /v1/databases":         handleListDatabases,
		"POST /v1/databases":        handleCreateDatabase,
		"POST /v1/databases/delete": handleDeleteDatabases,
		"POST /v1/databases/select": handleSelectDatabase,
		"POST /v1/query":            handleQuery,
		"GET /v1/relationships":     handleRelationships,
		"GET /v1/tables/{table}":    handleDescribeTable,
		"POST /v1/schema/refresh":   handleRefreshSchema,
		"DELETE /v1/schema/cache":   handleClearCache,
		"GET /v1/session":           handleGetSession,
		"GET /v1/history":           handleListHistory,
		"POST /v1/history/archive":  handleArchiveHistory,
		"GET /v1/history/archives":  handleListArchives,
	}
	for pattern, handle := range routes {
		protected.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			if deps.Assistant == nil {
				writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "assistant dependencies are not configured", false, nil)
				return
			}
			handle(deps, w, r)
		})
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for pattern := range routes {
		mux.Handle(pattern, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckTargetConfig fails when no server or data directory is configured for
// the target driver.
func CheckTargetConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		switch cfg.Target.Driver {
		case "sqlite", "duckdb":
			if cfg.Target.DataDir == "" {
				return errors.New("target data dir is not configured")
			}
		default:
			if cfg.Target.Host == "" {
				return errors.New("target host is not configured")
			}
		}
		return nil
	}
}

func CheckHistoryDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.History.Enabled && cfg.History.DSN == "" {
			return errors.New("history dsn is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.SchemaCache.Backend != "objectstore" && !cfg.History.Enabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// sessionFromRequest picks the authenticated operator's session, then the
// X-Session-ID header, then the default session.
func sessionFromRequest(deps Dependencies, r *http.Request) *session.Session {
	id := observability.SessionIDFromContext(r.Context())
	if id == "" {
		id = r.Header.Get(observability.SessionHeader)
	}
	return deps.Sessions.Get(id)
}

// decodeBody decodes a JSON request body. An empty body is accepted when
// optional is set.
func decodeBody(r *http.Request, dst any, optional bool) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, errorBody(ctx, code, message, retryable, extra))
}

func errorBody(ctx context.Context, code, message string, retryable bool, extra map[string]any) map[string]any {
	return map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	}
}
