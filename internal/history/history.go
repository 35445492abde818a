// Package history records every translate-and-run attempt and archives old
// entries to Parquet in the object store.
package history

import (
	"context"
	"errors"
	"time"
)

var ErrNothingToArchive = errors.New("no unarchived history entries")

type Entry struct {
	ID         int64      `json:"id"`
	SessionID  string     `json:"session_id"`
	Database   string     `json:"database"`
	Prompt     string     `json:"prompt"`
	SQL        string     `json:"sql,omitempty"`
	ResultType string     `json:"result_type,omitempty"`
	RowCount   int        `json:"row_count"`
	Message    string     `json:"message,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	CreatedAt  time.Time  `json:"created_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	ArchiveKey string     `json:"archive_key,omitempty"`
}

type Filter struct {
	SessionID string
	Database  string
	Limit     int
}

// Recorder is what the pipeline needs to log a run.
type Recorder interface {
	Record(ctx context.Context, entry Entry) (Entry, error)
}

type Repository interface {
	Recorder
	List(ctx context.Context, filter Filter) ([]Entry, error)
	ListUnarchived(ctx context.Context, limit int) ([]Entry, error)
	MarkArchived(ctx context.Context, firstID, lastID int64, key string, archivedAt time.Time) (int64, error)
	HealthCheck(ctx context.Context) error
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ClampLimit applies the default and the upper bound to a requested page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
