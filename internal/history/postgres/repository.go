package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/nlpdb/nlpdb/internal/history"
)

var entryColumns = []string{
	"id", "session_id", "database_name", "prompt", "sql_text", "result_type",
	"row_count", "message", "error_text", "duration_ms", "created_at", "archived_at", "archive_key",
}

type Repository struct {
	db *sql.DB
	qb squirrel.StatementBuilderType
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, qb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

func (r *Repository) Record(ctx context.Context, entry history.Entry) (history.Entry, error) {
	query, args, err := r.qb.Insert("query_history").
		Columns("session_id", "database_name", "prompt", "sql_text", "result_type", "row_count", "message", "error_text", "duration_ms").
		Values(entry.SessionID, entry.Database, entry.Prompt, entry.SQL, entry.ResultType, entry.RowCount, entry.Message, entry.Error, entry.DurationMs).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return history.Entry{}, fmt.Errorf("build history insert: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return history.Entry{}, fmt.Errorf("record history entry: %w", err)
	}
	return entry, nil
}

func (r *Repository) List(ctx context.Context, filter history.Filter) ([]history.Entry, error) {
	builder := r.qb.Select(entryColumns...).
		From("query_history").
		OrderBy("id DESC").
		Limit(uint64(history.ClampLimit(filter.Limit)))
	if filter.SessionID != "" {
		builder = builder.Where(squirrel.Eq{"session_id": filter.SessionID})
	}
	if filter.Database != "" {
		builder = builder.Where(squirrel.Eq{"database_name": filter.Database})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history list: %w", err)
	}
	return r.queryEntries(ctx, query, args...)
}

// ListUnarchived returns the oldest entries not yet written to an archive.
func (r *Repository) ListUnarchived(ctx context.Context, limit int) ([]history.Entry, error) {
	if limit <= 0 {
		limit = 1000
	}
	query, args, err := r.qb.Select(entryColumns...).
		From("query_history").
		Where(squirrel.Eq{"archived_at": nil}).
		OrderBy("id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unarchived list: %w", err)
	}
	return r.queryEntries(ctx, query, args...)
}

func (r *Repository) MarkArchived(ctx context.Context, firstID, lastID int64, key string, archivedAt time.Time) (int64, error) {
	query, args, err := r.qb.Update("query_history").
		Set("archived_at", archivedAt.UTC()).
		Set("archive_key", key).
		Where(squirrel.GtOrEq{"id": firstID}).
		Where(squirrel.LtOrEq{"id": lastID}).
		Where(squirrel.Eq{"archived_at": nil}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build archive update: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark history archived: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archived rows affected: %w", err)
	}
	return affected, nil
}

func (r *Repository) queryEntries(ctx context.Context, query string, args ...any) ([]history.Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]history.Entry, 0)
	for rows.Next() {
		var (
			entry      history.Entry
			archivedAt sql.NullTime
			archiveKey sql.NullString
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.SessionID,
			&entry.Database,
			&entry.Prompt,
			&entry.SQL,
			&entry.ResultType,
			&entry.RowCount,
			&entry.Message,
			&entry.Error,
			&entry.DurationMs,
			&entry.CreatedAt,
			&archivedAt,
			&archiveKey,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if archivedAt.Valid {
			ts := archivedAt.Time
			entry.ArchivedAt = &ts
		}
		entry.ArchiveKey = archiveKey.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return entries, nil
}
