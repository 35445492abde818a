// Package maintenance runs the background history archive cycle.
package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nlpdb/nlpdb/internal/history"
)

type Archiver interface {
	Archive(ctx context.Context, batch int) (history.ArchiveResult, error)
}

type Config struct {
	ArchiveInterval time.Duration
	ArchiveBatch    int
	// MaxBatchesPerCycle bounds how many objects one cycle may write.
	MaxBatchesPerCycle int
}

type Service struct {
	Archiver Archiver
	Config   Config
	Logger   *slog.Logger
}

type ArchiveSummary struct {
	Objects  int      `json:"objects"`
	Entries  int      `json:"entries"`
	Bytes    int64    `json:"bytes"`
	Keys     []string `json:"keys,omitempty"`
	Failures int      `json:"failures"`
}

// Run archives on every tick until ctx is done. A failed cycle is logged and
// retried on the next tick.
func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	ticker := time.NewTicker(s.Config.ArchiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			summary, err := s.RunArchiveOnce(ctx)
			if err != nil {
				if s.Logger != nil {
					s.Logger.ErrorContext(ctx, "history archive cycle failed", slog.Any("error", err), slog.Any("summary", summary))
				}
				continue
			}
			if s.Logger != nil && summary.Objects > 0 {
				s.Logger.InfoContext(ctx, "history archive cycle completed", slog.Any("summary", summary))
			}
		}
	}
}

// RunArchiveOnce drains unarchived entries batch by batch until none are
// left or the per-cycle limit is reached.
func (s *Service) RunArchiveOnce(ctx context.Context) (ArchiveSummary, error) {
	s.ensureDefaults()

	summary := ArchiveSummary{}
	for range s.Config.MaxBatchesPerCycle {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result, err := s.Archiver.Archive(ctx, s.Config.ArchiveBatch)
		if errors.Is(err, history.ErrNothingToArchive) {
			break
		}
		if err != nil {
			summary.Failures++
			archiveRunsTotal.WithLabelValues("failed").Inc()
			return summary, err
		}
		summary.Objects++
		summary.Entries += result.Entries
		summary.Bytes += result.Bytes
		summary.Keys = append(summary.Keys, result.Key)
		entriesArchivedTotal.Add(float64(result.Entries))
	}

	status := "completed"
	if summary.Objects == 0 {
		status = "idle"
	}
	archiveRunsTotal.WithLabelValues(status).Inc()
	return summary, nil
}

func (s *Service) ensureDefaults() {
	if s.Config.ArchiveInterval <= 0 {
		s.Config.ArchiveInterval = time.Hour
	}
	if s.Config.ArchiveBatch <= 0 {
		s.Config.ArchiveBatch = history.DefaultArchiveBatch
	}
	if s.Config.MaxBatchesPerCycle <= 0 {
		s.Config.MaxBatchesPerCycle = 10
	}
}
