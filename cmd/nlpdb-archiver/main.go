package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nlpdb/nlpdb/internal/config"
	"github.com/nlpdb/nlpdb/internal/history"
	historypostgres "github.com/nlpdb/nlpdb/internal/history/postgres"
	"github.com/nlpdb/nlpdb/internal/maintenance"
	"github.com/nlpdb/nlpdb/internal/observability"
	s3store "github.com/nlpdb/nlpdb/internal/storage/s3"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("nlpdb-archiver")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	db, err := historypostgres.Open(context.Background(), cfg.History)
	if err != nil {
		logger.Error("failed to open history db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	store, err := s3store.New(context.Background(), cfg.ObjectStore)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	repo := historypostgres.NewRepository(db)
	svc := &maintenance.Service{
		Archiver: history.NewArchiver(repo, store, cfg.History.ArchivePrefix, logger),
		Config: maintenance.Config{
			ArchiveInterval: cfg.History.ArchiveInterval,
			ArchiveBatch:    cfg.History.ArchiveBatch,
		},
		Logger: logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("history archiver started", slog.Duration("interval", cfg.History.ArchiveInterval))
	if err := svc.Run(ctx); err != nil {
		logger.Error("history archiver failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("history archiver stopped")
}
