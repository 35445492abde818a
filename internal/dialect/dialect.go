package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/nlpdb/nlpdb/internal/config"
	"github.com/nlpdb/nlpdb/internal/schema"
	"github.com/nlpdb/nlpdb/internal/sqltext"
)

var (
	ErrConnection       = errors.New("database connection failed")
	ErrDatabaseExists   = errors.New("database already exists")
	ErrDatabaseNotFound = errors.New("database not found")
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Dialect interface {
	Name() string
	DriverName() string
	DSN(cfg config.TargetConfig, database string) (string, error)
	Introspector(q Querier, database string) schema.Introspector
	// Native maps the portable SHOW TABLES / DESCRIBE forms onto SQL the
	// engine understands. Other statements are returned unchanged.
	Native(stmt sqltext.Statement) string
	QuoteIdent(name string) string
}

// ServerDialect manages databases with SQL issued on a server connection.
type ServerDialect interface {
	Dialect
	ListDatabasesQuery() string
	SystemDatabase(name string) bool
}

// FileDialect keeps each database in its own file under the data directory.
type FileDialect interface {
	Dialect
	Extension() string
}

func New(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "mysql":
		return MySQL{}, nil
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	case "duckdb":
		return DuckDB{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func quoteDouble(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteLiteral(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func scanStrings(ctx context.Context, q Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]string, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, rows.Err()
}
