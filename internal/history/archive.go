package history

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/nlpdb/nlpdb/internal/storage"
)

const DefaultArchiveBatch = 1000

type archiveRow struct {
	ID              int64  `parquet:"id"`
	SessionID       string `parquet:"session_id"`
	Database        string `parquet:"database_name"`
	Prompt          string `parquet:"prompt"`
	SQL             string `parquet:"sql_text"`
	ResultType      string `parquet:"result_type"`
	RowCount        int64  `parquet:"row_count"`
	Message         string `parquet:"message"`
	Error           string `parquet:"error_text"`
	DurationMs      int64  `parquet:"duration_ms"`
	CreatedAtUnixMs int64  `parquet:"created_at_unix_ms"`
}

type ArchiveResult struct {
	Key      string    `json:"key"`
	Entries  int       `json:"entries"`
	FirstID  int64     `json:"first_id"`
	LastID   int64     `json:"last_id"`
	Bytes    int64     `json:"bytes"`
	Archived time.Time `json:"archived_at"`
}

type ArchiveObject struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Archiver moves the oldest unarchived entries into one Parquet object per run.
type Archiver struct {
	repo    Repository
	objects storage.ObjectStore
	prefix  string
	now     func() time.Time
	logger  *slog.Logger
}

func NewArchiver(repo Repository, objects storage.ObjectStore, prefix string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{repo: repo, objects: objects, prefix: prefix, now: time.Now, logger: logger}
}

func (a *Archiver) Archive(ctx context.Context, batch int) (ArchiveResult, error) {
	if batch <= 0 {
		batch = DefaultArchiveBatch
	}
	entries, err := a.repo.ListUnarchived(ctx, batch)
	if err != nil {
		return ArchiveResult{}, err
	}
	if len(entries) == 0 {
		return ArchiveResult{}, ErrNothingToArchive
	}

	data, err := EncodeEntriesToParquet(entries)
	if err != nil {
		return ArchiveResult{}, err
	}

	archivedAt := a.now().UTC()
	firstID, lastID := entries[0].ID, entries[len(entries)-1].ID
	key, err := storage.BuildHistoryArchivePath(a.prefix, archivedAt, firstID, lastID)
	if err != nil {
		return ArchiveResult{}, err
	}
	info, err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
		Metadata: map[string]string{
			"first-id": strconv.FormatInt(firstID, 10),
			"last-id":  strconv.FormatInt(lastID, 10),
			"entries":  strconv.Itoa(len(entries)),
		},
	})
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("upload history archive: %w", err)
	}
	marked, err := a.repo.MarkArchived(ctx, firstID, lastID, key, archivedAt)
	if err != nil {
		return ArchiveResult{}, err
	}
	if marked != int64(len(entries)) {
		a.logger.WarnContext(ctx, "history_archive_mark_mismatch",
			slog.String("key", key),
			slog.Int("entries", len(entries)),
			slog.Int64("marked", marked),
		)
	}

	a.logger.InfoContext(ctx, "history_archived",
		slog.String("key", key),
		slog.Int("entries", len(entries)),
		slog.Int64("bytes", info.Size),
	)
	return ArchiveResult{
		Key:      key,
		Entries:  len(entries),
		FirstID:  firstID,
		LastID:   lastID,
		Bytes:    int64(len(data)),
		Archived: archivedAt,
	}, nil
}

func (a *Archiver) ListArchives(ctx context.Context) ([]ArchiveObject, error) {
	prefix := strings.Trim(strings.TrimSpace(a.prefix), "/")
	if prefix == "" {
		prefix = "history"
	}
	infos, err := a.objects.List(ctx, prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("list history archives: %w", err)
	}
	out := make([]ArchiveObject, 0, len(infos))
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, ".parquet") {
			continue
		}
		out = append(out, ArchiveObject{Key: info.Key, Size: info.Size, LastModified: info.LastModified})
	}
	return out, nil
}

func EncodeEntriesToParquet(entries []Entry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("entries are required")
	}
	rows := make([]archiveRow, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, archiveRow{
			ID:              entry.ID,
			SessionID:       entry.SessionID,
			Database:        entry.Database,
			Prompt:          entry.Prompt,
			SQL:             entry.SQL,
			ResultType:      entry.ResultType,
			RowCount:        int64(entry.RowCount),
			Message:         entry.Message,
			Error:           entry.Error,
			DurationMs:      entry.DurationMs,
			CreatedAtUnixMs: entry.CreatedAt.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[archiveRow](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
