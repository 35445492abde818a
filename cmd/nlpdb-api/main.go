package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nlpdb/nlpdb/internal/api"
	"github.com/nlpdb/nlpdb/internal/assistant"
	"github.com/nlpdb/nlpdb/internal/auth"
	"github.com/nlpdb/nlpdb/internal/config"
	"github.com/nlpdb/nlpdb/internal/dialect"
	"github.com/nlpdb/nlpdb/internal/history"
	historypostgres "github.com/nlpdb/nlpdb/internal/history/postgres"
	"github.com/nlpdb/nlpdb/internal/nl2sql"
	"github.com/nlpdb/nlpdb/internal/observability"
	"github.com/nlpdb/nlpdb/internal/schemacache"
	"github.com/nlpdb/nlpdb/internal/session"
	"github.com/nlpdb/nlpdb/internal/storage"
	s3store "github.com/nlpdb/nlpdb/internal/storage/s3"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("nlpdb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	connector, err := dialect.NewConnector(cfg.Target)
	if err != nil {
		logger.Error("failed to configure target database", slog.Any("error", err))
		os.Exit(1)
	}

	var (
		objectStore storage.ObjectStore
		objectPing  api.ReadinessCheck
	)
	if cfg.SchemaCache.Backend == config.CacheBackendObjectStore || cfg.History.Enabled {
		s3, err := s3store.New(context.Background(), cfg.ObjectStore)
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		objectStore, objectPing = s3, s3.Ping
	}
	cacheStore, err := schemacache.NewStore(cfg.SchemaCache, objectStore)
	if err != nil {
		logger.Error("failed to initialize schema cache store", slog.Any("error", err))
		os.Exit(1)
	}

	client := nl2sql.NewClient(cfg.AI)
	opts := assistant.Options{
		Connector:  connector,
		Translator: nl2sql.NewCompletionTranslator(client, nl2sql.ParamsFromConfig(cfg.AI), client.Model()),
		Store:      cacheStore,
		CacheTTL:   cfg.SchemaCache.TTL,
		Logger:     logger,
	}
	deps := api.Dependencies{
		Logger:   logger,
		Sessions: session.NewRegistry(),
		Readiness: api.CombineReadinessChecks(
			api.CheckTargetConfig(cfg),
			api.CheckHistoryDSN(cfg),
			api.CheckObjectStoreConfig(cfg),
			objectPing,
		),
		DependencyTimeout: 2 * time.Second,
	}

	if cfg.History.Enabled {
		historyDB, err := historypostgres.Open(context.Background(), cfg.History)
		if err != nil {
			logger.Error("failed to open history db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = historyDB.Close() }()

		repo := historypostgres.NewRepository(historyDB)
		opts.Recorder = repo
		deps.History = repo
		deps.Archiver = history.NewArchiver(repo, objectStore, cfg.History.ArchivePrefix, logger)
		deps.Readiness = api.CombineReadinessChecks(deps.Readiness, repo.HealthCheck)
	}

	svc, err := assistant.New(opts)
	if err != nil {
		logger.Error("failed to initialize assistant", slog.Any("error", err))
		os.Exit(1)
	}
	deps.Assistant = svc

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	if cfg.SchemaCache.ClearOnStart {
		if err := svc.ClearCache(context.Background()); err != nil {
			logger.Warn("failed to clear schema cache on start", slog.Any("error", err))
		}
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("dialect", svc.DialectName()),
			slog.Duration("schema_cache_ttl", svc.CacheTTL()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	shutdownErr := server.Shutdown(shutdownCtx)
	if cfg.SchemaCache.ClearOnExit {
		if err := svc.ClearCache(shutdownCtx); err != nil {
			logger.Warn("failed to clear schema cache on exit", slog.Any("error", err))
		}
	}
	if shutdownErr != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", shutdownErr))
		_ = server.Close()
		os.Exit(1)
	}
}
