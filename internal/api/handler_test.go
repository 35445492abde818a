package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nlpdb/nlpdb/internal/assistant"
	"github.com/nlpdb/nlpdb/internal/auth"
	"github.com/nlpdb/nlpdb/internal/config"
	"github.com/nlpdb/nlpdb/internal/dialect"
	"github.com/nlpdb/nlpdb/internal/executor"
	"github.com/nlpdb/nlpdb/internal/history"
	"github.com/nlpdb/nlpdb/internal/nl2sql"
	"github.com/nlpdb/nlpdb/internal/schema"
	"github.com/nlpdb/nlpdb/internal/session"
)

type fakePipeline struct {
	result       executor.Result
	err          error
	lastSession  *session.Session
	lastDatabase string
	lastText     string
	cleared      bool
}

func (f *fakePipeline) TranslateAndRun(_ context.Context, sess *session.Session, text, database string) (executor.Result, error) {
	f.lastSession, f.lastText, f.lastDatabase = sess, text, database
	if f.err != nil {
		return executor.Result{}, f.err
	}
	if database == "" {
		database = sess.CurrentDatabase()
	}
	sess.Apply(session.Update{Database: &database, Query: &f.result.SQL, Result: &f.result})
	return f.result, nil
}

func (f *fakePipeline) SelectDatabase(_ context.Context, sess *session.Session, database string) (schema.Snapshot, error) {
	if f.err != nil {
		return schema.Snapshot{}, f.err
	}
	sess.Apply(session.Update{Database: &database})
	return schema.Snapshot{
		Database:    database,
		LastUpdated: time.Date(2026, time.March, 3, 9, 30, 0, 0, time.UTC),
		TableOrder:  []string{"cars", "manufacturers"},
		Tables:      map[string]schema.Table{"cars": {}, "manufacturers": {}},
	}, nil
}

func (f *fakePipeline) RefreshSchema(_ context.Context, sess *session.Session, database string) (schema.Snapshot, error) {
	if database == "" {
		database = sess.CurrentDatabase()
	}
	if database == "" {
		return schema.Snapshot{}, assistant.ErrNoDatabaseSelected
	}
	return schema.Snapshot{Database: database, Tables: map[string]schema.Table{}}, nil
}

func (f *fakePipeline) ListRelationships(_ context.Context, database string) []schema.Edge {
	f.lastDatabase = database
	return []schema.Edge{{Source: "cars", Target: "manufacturers", SourceColumn: "manufacturer_id", TargetColumn: "id"}}
}

func (f *fakePipeline) DescribeTable(_ context.Context, database, table string) (assistant.TableDetails, error) {
	if table != "cars" {
		return assistant.TableDetails{}, fmt.Errorf("%w: %s", assistant.ErrTableNotFound, table)
	}
	return assistant.TableDetails{Name: "cars", Columns: []assistant.ColumnDetail{{Field: "id", Type: "int", Null: "NO", Key: "PRI"}}, RowCount: 3, SampleData: []map[string]any{}}, nil
}

func (f *fakePipeline) ListDatabases(context.Context) ([]string, error) {
	return []string{"inventory", "shop"}, nil
}

func (f *fakePipeline) CreateDatabase(_ context.Context, _ *session.Session, name string, _ bool) (string, error) {
	if name == "taken" {
		return "", fmt.Errorf("%w: %s", dialect.ErrDatabaseExists, name)
	}
	return "Database '" + name + "' created successfully.", nil
}

func (f *fakePipeline) DeleteDatabases(_ context.Context, names []string) (assistant.DeleteResult, error) {
	return assistant.DeleteResult{Deleted: names[:1], Errors: []string{"Error deleting database 'x': boom"}, Message: "Successfully deleted 1 database(s)."}, nil
}

func (f *fakePipeline) ClearCache(context.Context) error {
	f.cleared = true
	return nil
}

type fakeHistory struct {
	filter  history.Filter
	archive error
}

func (f *fakeHistory) List(_ context.Context, filter history.Filter) ([]history.Entry, error) {
	f.filter = filter
	return []history.Entry{{ID: 1, SessionID: "default", Database: "shop", Prompt: "show all tables"}}, nil
}

func (f *fakeHistory) Archive(context.Context, int) (history.ArchiveResult, error) {
	if f.archive != nil {
		return history.ArchiveResult{}, f.archive
	}
	return history.ArchiveResult{Key: "history/date=2026-03-03/history-000000000001-000000000001.parquet", Entries: 1, FirstID: 1, LastID: 1}, nil
}

func (f *fakeHistory) ListArchives(context.Context) ([]history.ArchiveObject, error) {
	return []history.ArchiveObject{{Key: "history/a.parquet", Size: 10}}, nil
}

func testConfig(t *testing.T, values map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("nlpdb-api", mapLookup(values))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func doJSON(t *testing.T, h http.Handler, method, path string, payload any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	decoded := map[string]any{}
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("json decode failed: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, decoded
}

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{})
	rr, body := doJSON(t, h, http.MethodGet, "/v1/health", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body["service"] != "nlpdb-api" {
		t.Fatalf("service = %v", body["service"])
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{
		Readiness: func(context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr, body := doJSON(t, h, http.MethodGet, "/v1/ready", nil, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	if body["error_code"] != "NOT_READY" || body["retryable"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestRoutesRequireAssistant(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{})
	rr, body := doJSON(t, h, http.MethodGet, "/v1/databases", nil, nil)
	if rr.Code != http.StatusNotImplemented || body["error_code"] != "ASSISTANT_NOT_CONFIGURED" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	validator, err := auth.NewStaticAPIKeyValidator("k1:alice:query")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	pipeline := &fakePipeline{result: executor.Result{SQL: "SHOW TABLES;", Type: executor.TypeShowTables}}
	sessions := session.NewRegistry()
	h := NewHandler(testConfig(t, map[string]string{"NLPDB_AUTH_REQUIRED": "true"}), Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Assistant:      pipeline,
		Sessions:       sessions,
	})

	rr, _ := doJSON(t, h, http.MethodGet, "/v1/databases", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", rr.Code)
	}

	rr, _ = doJSON(t, h, http.MethodPost, "/v1/query", map[string]any{"message": "show all tables", "database": "shop"}, map[string]string{"X-API-Key": "k1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("auth status = %d", rr.Code)
	}
	if pipeline.lastSession.ID() != "alice" {
		t.Fatalf("session id = %q", pipeline.lastSession.ID())
	}

	rr, _ = doJSON(t, h, http.MethodGet, "/v1/health", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	h := NewHandler(testConfig(t, map[string]string{"NLPDB_AUTH_REQUIRED": "true"}), Dependencies{Assistant: &fakePipeline{}})
	rr, body := doJSON(t, h, http.MethodGet, "/v1/databases", nil, nil)
	if rr.Code != http.StatusInternalServerError || body["error_code"] != "AUTH_MIDDLEWARE_MISSING" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestQueryEndpointReturnsResultAndUpdatesSession(t *testing.T) {
	pipeline := &fakePipeline{result: executor.Result{
		SQL:      "SELECT * FROM cars;",
		Output:   []map[string]any{{"id": 1}},
		Message:  "Query returned 1 row(s).",
		Type:     executor.TypeSelect,
		RowCount: 1,
	}}
	sessions := session.NewRegistry()
	h := NewHandler(testConfig(t, nil), Dependencies{Assistant: pipeline, Sessions: sessions})

	rr, body := doJSON(t, h, http.MethodPost, "/v1/query", map[string]any{"message": "list every car", "database": "shop"}, map[string]string{"X-Session-ID": "tab-1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	if body["sql"] != "SELECT * FROM cars;" || body["type"] != "select" || body["row_count"] != float64(1) {
		t.Fatalf("body = %v", body)
	}
	if pipeline.lastText != "list every car" || pipeline.lastDatabase != "shop" {
		t.Fatalf("pipeline saw text=%q database=%q", pipeline.lastText, pipeline.lastDatabase)
	}

	rr, body = doJSON(t, h, http.MethodGet, "/v1/session", nil, map[string]string{"X-Session-ID": "tab-1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("session status = %d", rr.Code)
	}
	if body["current_database"] != "shop" || body["last_query"] != "SELECT * FROM cars;" {
		t.Fatalf("session body = %v", body)
	}
	if _, body = doJSON(t, h, http.MethodGet, "/v1/session", nil, nil); body["current_database"] != nil {
		t.Fatalf("default session leaked: %v", body)
	}
}

func TestQueryEndpointValidatesBody(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{Assistant: &fakePipeline{}})

	rr, body := doJSON(t, h, http.MethodPost, "/v1/query", map[string]any{"message": "  "}, nil)
	if rr.Code != http.StatusBadRequest || body["error_code"] != "MESSAGE_REQUIRED" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	rr, body = doJSON(t, h, http.MethodPost, "/v1/query", map[string]any{"message": "x", "sql": "SELECT 1"}, nil)
	if rr.Code != http.StatusBadRequest || body["error_code"] != "INVALID_JSON" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestQueryEndpointMapsPipelineErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
		sql       any
	}{
		{"no database", assistant.ErrNoDatabaseSelected, http.StatusBadRequest, "NO_DATABASE_SELECTED", false, nil},
		{"no sql", fmt.Errorf("%w: leading word", nl2sql.ErrNoValidSQL), http.StatusUnprocessableEntity, "NO_VALID_SQL", false, nil},
		{"completion down", fmt.Errorf("%w: dial tcp", nl2sql.ErrCompletionUnavailable), http.StatusServiceUnavailable, "COMPLETION_UNAVAILABLE", true, nil},
		{"bad status", fmt.Errorf("%w: 500", nl2sql.ErrCompletionBadStatus), http.StatusBadGateway, "COMPLETION_BAD_STATUS", true, nil},
		{"table exists", &executor.Error{Kind: executor.ErrTableAlreadyExists, SQL: "CREATE TABLE cars (id INT);"}, http.StatusConflict, "TABLE_ALREADY_EXISTS", false, "CREATE TABLE cars (id INT);"},
		{"execution", &executor.Error{Kind: executor.ErrDatabaseExecution, SQL: "SELECT * FROM trucks;", Err: errors.New("no such table")}, http.StatusBadRequest, "DATABASE_ERROR", false, "SELECT * FROM trucks;"},
		{"connection", fmt.Errorf("%w: ping mysql", dialect.ErrConnection), http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE", true, nil},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR", false, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(testConfig(t, nil), Dependencies{Assistant: &fakePipeline{err: tc.err}})
			rr, body := doJSON(t, h, http.MethodPost, "/v1/query", map[string]any{"message": "do it", "database": "shop"}, nil)
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
			if body["error_code"] != tc.code || body["retryable"] != tc.retryable {
				t.Fatalf("body = %v", body)
			}
			if body["sql"] != tc.sql {
				t.Fatalf("sql = %v, want %v", body["sql"], tc.sql)
			}
		})
	}
}

func TestDatabaseEndpoints(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{Assistant: &fakePipeline{}})

	rr, body := doJSON(t, h, http.MethodGet, "/v1/databases", nil, nil)
	if rr.Code != http.StatusOK || len(body["databases"].([]any)) != 2 {
		t.Fatalf("list status = %d body = %v", rr.Code, body)
	}

	rr, body = doJSON(t, h, http.MethodPost, "/v1/databases", map[string]any{"database": "analytics", "use_now": true}, nil)
	if rr.Code != http.StatusCreated || body["message"] != "Database 'analytics' created successfully." {
		t.Fatalf("create status = %d body = %v", rr.Code, body)
	}
	rr, body = doJSON(t, h, http.MethodPost, "/v1/databases", map[string]any{"database": "taken"}, nil)
	if rr.Code != http.StatusConflict || body["error_code"] != "DATABASE_ALREADY_EXISTS" {
		t.Fatalf("create conflict status = %d body = %v", rr.Code, body)
	}

	rr, body = doJSON(t, h, http.MethodPost, "/v1/databases/delete", map[string]any{"databases": []string{}}, nil)
	if rr.Code != http.StatusBadRequest || body["error_code"] != "DATABASES_REQUIRED" {
		t.Fatalf("delete empty status = %d body = %v", rr.Code, body)
	}
	rr, body = doJSON(t, h, http.MethodPost, "/v1/databases/delete", map[string]any{"databases": []string{"old", "x"}}, nil)
	if rr.Code != http.StatusOK || len(body["deleted"].([]any)) != 1 || len(body["errors"].([]any)) != 1 {
		t.Fatalf("delete status = %d body = %v", rr.Code, body)
	}

	rr, body = doJSON(t, h, http.MethodPost, "/v1/databases/select", map[string]any{"database": "shop"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("select status = %d body = %v", rr.Code, body)
	}
	if body["message"] != "Database 'shop' selected and analyzed successfully." || len(body["tables"].([]any)) != 2 || body["last_updated"] != "2026-03-03T09:30:00Z" {
		t.Fatalf("select body = %v", body)
	}
}

func TestSchemaEndpointsFallBackToSessionDatabase(t *testing.T) {
	pipeline := &fakePipeline{}
	h := NewHandler(testConfig(t, nil), Dependencies{Assistant: pipeline})

	rr, body := doJSON(t, h, http.MethodGet, "/v1/relationships", nil, nil)
	if rr.Code != http.StatusBadRequest || body["error_code"] != "DATABASE_REQUIRED" {
		t.Fatalf("relationships status = %d body = %v", rr.Code, body)
	}
	rr, body = doJSON(t, h, http.MethodPost, "/v1/schema/refresh", nil, nil)
	if rr.Code != http.StatusBadRequest || body["error_code"] != "NO_DATABASE_SELECTED" {
		t.Fatalf("refresh status = %d body = %v", rr.Code, body)
	}

	if rr, _ = doJSON(t, h, http.MethodPost, "/v1/databases/select", map[string]any{"database": "shop"}, nil); rr.Code != http.StatusOK {
		t.Fatalf("select status = %d", rr.Code)
	}
	rr, body = doJSON(t, h, http.MethodGet, "/v1/relationships", nil, nil)
	if rr.Code != http.StatusOK || body["database"] != "shop" || len(body["relationships"].([]any)) != 1 {
		t.Fatalf("relationships status = %d body = %v", rr.Code, body)
	}

	rr, body = doJSON(t, h, http.MethodGet, "/v1/tables/cars?database=shop", nil, nil)
	if rr.Code != http.StatusOK || body["row_count"] != float64(3) {
		t.Fatalf("describe status = %d body = %v", rr.Code, body)
	}
	rr, body = doJSON(t, h, http.MethodGet, "/v1/tables/trucks", nil, nil)
	if rr.Code != http.StatusNotFound || body["error_code"] != "TABLE_NOT_FOUND" {
		t.Fatalf("describe missing status = %d body = %v", rr.Code, body)
	}

	rr, body = doJSON(t, h, http.MethodPost, "/v1/schema/refresh", nil, nil)
	if rr.Code != http.StatusOK || body["database"] != "shop" {
		t.Fatalf("refresh status = %d body = %v", rr.Code, body)
	}

	if rr, _ = doJSON(t, h, http.MethodDelete, "/v1/schema/cache", nil, nil); rr.Code != http.StatusOK || !pipeline.cleared {
		t.Fatalf("clear cache status = %d cleared = %v", rr.Code, pipeline.cleared)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{Assistant: &fakePipeline{}})
	if rr, _ := doJSON(t, h, http.MethodGet, "/v1/history", nil, nil); rr.Code != http.StatusNotImplemented {
		t.Fatalf("unconfigured history status = %d", rr.Code)
	}

	store := &fakeHistory{}
	h = NewHandler(testConfig(t, nil), Dependencies{Assistant: &fakePipeline{}, History: store, Archiver: store})

	rr, body := doJSON(t, h, http.MethodGet, "/v1/history?limit=9999&database=shop&session=alice", nil, nil)
	if rr.Code != http.StatusOK || len(body["entries"].([]any)) != 1 {
		t.Fatalf("history status = %d body = %v", rr.Code, body)
	}
	if store.filter.Limit != history.MaxListLimit || store.filter.Database != "shop" || store.filter.SessionID != "alice" {
		t.Fatalf("filter = %+v", store.filter)
	}
	if rr, _ = doJSON(t, h, http.MethodGet, "/v1/history?limit=abc", nil, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rr.Code)
	}

	rr, body = doJSON(t, h, http.MethodPost, "/v1/history/archive", nil, nil)
	if rr.Code != http.StatusOK || body["entries"] != float64(1) {
		t.Fatalf("archive status = %d body = %v", rr.Code, body)
	}
	store.archive = history.ErrNothingToArchive
	rr, body = doJSON(t, h, http.MethodPost, "/v1/history/archive", map[string]any{"batch_size": 10}, nil)
	if rr.Code != http.StatusConflict || body["error_code"] != "NOTHING_TO_ARCHIVE" {
		t.Fatalf("archive empty status = %d body = %v", rr.Code, body)
	}

	rr, body = doJSON(t, h, http.MethodGet, "/v1/history/archives", nil, nil)
	if rr.Code != http.StatusOK || len(body["archives"].([]any)) != 1 {
		t.Fatalf("archives status = %d body = %v", rr.Code, body)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		nil,
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestConfigReadinessChecks(t *testing.T) {
	cfg := testConfig(t, map[string]string{"NLPDB_DB_DRIVER": "sqlite"})
	if err := CheckTargetConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("CheckTargetConfig() error = %v", err)
	}
	cfg.Target.DataDir = ""
	if err := CheckTargetConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected missing data dir error")
	}
	cfg.History.Enabled = true
	cfg.History.DSN = ""
	if err := CheckHistoryDSN(cfg)(context.Background()); err == nil {
		t.Fatal("expected missing history dsn error")
	}
	cfg.ObjectStore.Bucket = ""
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected missing bucket error")
	}
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
