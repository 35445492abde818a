package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("nlpdb-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":5000" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Target.Driver != "mysql" || cfg.Target.Port != 3306 {
		t.Fatalf("Target = %+v", cfg.Target)
	}
	if cfg.SchemaCache.TTL != 5*time.Minute {
		t.Fatalf("SchemaCache.TTL = %s", cfg.SchemaCache.TTL)
	}
	if cfg.SchemaCache.Backend != CacheBackendFile {
		t.Fatalf("SchemaCache.Backend = %q", cfg.SchemaCache.Backend)
	}
	if cfg.SchemaCache.FilePath != "database_cache.json" {
		t.Fatalf("SchemaCache.FilePath = %q", cfg.SchemaCache.FilePath)
	}
	if !cfg.SchemaCache.ClearOnStart || !cfg.SchemaCache.ClearOnExit {
		t.Fatal("schema cache should be cleared on start and exit by default")
	}
	if cfg.AI.BaseURL != "http://127.0.0.1:1234" {
		t.Fatalf("AI.BaseURL = %q", cfg.AI.BaseURL)
	}
	if cfg.AI.Temperature != 0.05 || cfg.AI.MaxTokens != 500 || cfg.AI.TopP != 0.1 {
		t.Fatalf("AI generation defaults = %+v", cfg.AI)
	}
	if cfg.AI.Timeout != 60*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if cfg.History.Enabled {
		t.Fatal("History.Enabled should default to false")
	}
}

func TestLoadTestProfileUsesMemoryCache(t *testing.T) {
	cfg, err := Load("nlpdb-api", mapLookup(map[string]string{"NLPDB_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SchemaCache.Backend != CacheBackendMemory {
		t.Fatalf("SchemaCache.Backend = %q", cfg.SchemaCache.Backend)
	}
	if cfg.HTTP.Address != ":15000" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("nlpdb-api", mapLookup(map[string]string{"NLPDB_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"NLPDB_PROFILE":                        "test",
		"NLPDB_SERVICE_NAME":                   "nlpdb-custom",
		"NLPDB_HTTP_ADDR":                      ":9999",
		"NLPDB_HTTP_READ_TIMEOUT":              "2s",
		"NLPDB_HTTP_WRITE_TIMEOUT":             "3s",
		"NLPDB_LOG_LEVEL":                      "error",
		"NLPDB_AUTH_REQUIRED":                  "true",
		"NLPDB_AUTH_STATIC_KEYS":               "k1:alice:operator",
		"NLPDB_DB_DRIVER":                      "Postgres",
		"NLPDB_DB_HOST":                        "db.internal",
		"NLPDB_DB_PORT":                        "5433",
		"NLPDB_DB_USER":                        "reporter",
		"NLPDB_DB_PASSWORD":                    "pw",
		"NLPDB_DB_PARAMS":                      "sslmode=disable",
		"NLPDB_DB_CONNECT_TIMEOUT":             "4s",
		"NLPDB_SCHEMA_CACHE_TTL":               "90s",
		"NLPDB_SCHEMA_CACHE_BACKEND":           "objectstore",
		"NLPDB_SCHEMA_CACHE_OBJECT_KEY":        "snapshots/cache.json",
		"NLPDB_SCHEMA_CACHE_CLEAR_ON_START":    "false",
		"NLPDB_OBJECTSTORE_ENDPOINT":           "s3.example.com",
		"NLPDB_OBJECTSTORE_BUCKET":             "nlpdb-prod",
		"NLPDB_OBJECTSTORE_USE_SSL":            "true",
		"NLPDB_OBJECTSTORE_AUTO_CREATE_BUCKET": "false",
		"NLPDB_AI_BASE_URL":                    "https://api.example.com",
		"NLPDB_AI_API_KEY":                     "secret-key",
		"NLPDB_AI_MODEL":                       "sql-coder",
		"NLPDB_AI_TEMPERATURE":                 "0.3",
		"NLPDB_AI_MAX_TOKENS":                  "256",
		"NLPDB_AI_TIMEOUT":                     "21s",
		"NLPDB_HISTORY_ENABLED":                "true",
		"NLPDB_HISTORY_DSN":                    "postgres://history",
		"NLPDB_HISTORY_MAX_OPEN_CONNS":         "42",
		"NLPDB_HISTORY_ARCHIVE_INTERVAL":       "15m",
		"NLPDB_HISTORY_ARCHIVE_BATCH":          "250",
	})
	cfg, err := Load("nlpdb-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "nlpdb-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second || cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP timeouts = %s/%s", cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:alice:operator" {
		t.Fatalf("Auth = %+v", cfg.Auth)
	}
	if cfg.Target.Driver != "postgres" {
		t.Fatalf("Target.Driver = %q", cfg.Target.Driver)
	}
	if cfg.Target.Host != "db.internal" || cfg.Target.Port != 5433 || cfg.Target.User != "reporter" {
		t.Fatalf("Target = %+v", cfg.Target)
	}
	if cfg.Target.ConnectTimeout != 4*time.Second {
		t.Fatalf("Target.ConnectTimeout = %s", cfg.Target.ConnectTimeout)
	}
	if cfg.SchemaCache.TTL != 90*time.Second {
		t.Fatalf("SchemaCache.TTL = %s", cfg.SchemaCache.TTL)
	}
	if cfg.SchemaCache.Backend != CacheBackendObjectStore || cfg.SchemaCache.ObjectKey != "snapshots/cache.json" {
		t.Fatalf("SchemaCache = %+v", cfg.SchemaCache)
	}
	if cfg.SchemaCache.ClearOnStart {
		t.Fatal("SchemaCache.ClearOnStart = true, want false")
	}
	if cfg.ObjectStore.Bucket != "nlpdb-prod" || !cfg.ObjectStore.UseSSL || cfg.ObjectStore.AutoCreateBucket {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if cfg.AI.APIKey != "secret-key" || cfg.AI.Model != "sql-coder" {
		t.Fatalf("AI = %+v", cfg.AI)
	}
	if cfg.AI.Temperature != 0.3 || cfg.AI.MaxTokens != 256 {
		t.Fatalf("AI generation = %+v", cfg.AI)
	}
	if cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if !cfg.History.Enabled || cfg.History.DSN != "postgres://history" || cfg.History.MaxOpenConns != 42 {
		t.Fatalf("History = %+v", cfg.History)
	}
	if cfg.History.ArchiveInterval != 15*time.Minute || cfg.History.ArchiveBatch != 250 {
		t.Fatalf("History archive = %s/%d", cfg.History.ArchiveInterval, cfg.History.ArchiveBatch)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"NLPDB_PROFILE": "oops"},
		{"NLPDB_HTTP_READ_TIMEOUT": "NaN"},
		{"NLPDB_DB_PORT": "oops"},
		{"NLPDB_DB_DRIVER": "oracle"},
		{"NLPDB_SCHEMA_CACHE_BACKEND": "redis"},
		{"NLPDB_HISTORY_ARCHIVE_INTERVAL": "0s"},
		{"NLPDB_SCHEMA_CACHE_TTL": "0s"},
		{"NLPDB_AI_TEMPERATURE": "bad"},
		{"NLPDB_AI_TIMEOUT": "-1s"},
		{"NLPDB_AUTH_REQUIRED": "not-bool"},
		{"NLPDB_LOG_LEVEL": "verbose"},
		{"NLPDB_HISTORY_ENABLED": "true", "NLPDB_HISTORY_DSN": ""},
	}
	for _, env := range tests {
		_, err := Load("nlpdb-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
