package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nlpdb/nlpdb/internal/config"
	"github.com/nlpdb/nlpdb/internal/schema"
	"github.com/nlpdb/nlpdb/internal/sqltext"
)

type SQLite struct{}

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) DriverName() string { return "sqlite3" }
func (SQLite) Extension() string  { return ".db" }

func (s SQLite) DSN(cfg config.TargetConfig, database string) (string, error) {
	if database == "" {
		return ":memory:", nil
	}
	if err := validFileDatabaseName(database); err != nil {
		return "", err
	}
	return "file:" + filepath.Join(cfg.DataDir, database+s.Extension()) + "?_foreign_keys=on", nil
}

func (SQLite) Introspector(q Querier, _ string) schema.Introspector {
	return &sqliteIntrospector{q: q, qb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)}
}

func (SQLite) Native(stmt sqltext.Statement) string {
	switch {
	case stmt.IsShowTables():
		return "SELECT name AS Tables FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	case stmt.IsDescribe():
		return fmt.Sprintf(`SELECT name AS "Field", type AS "Type", CASE WHEN "notnull" = 1 THEN 'NO' ELSE 'YES' END AS "Null", CASE WHEN pk > 0 THEN 'PRI' ELSE '' END AS "Key", dflt_value AS "Default", '' AS "Extra" FROM pragma_table_info(%s)`,
			quoteLiteral(stmt.Target))
	default:
		return stmt.Text
	}
}

func (SQLite) QuoteIdent(name string) string {
	return quoteDouble(name)
}

type sqliteIntrospector struct {
	q  Querier
	qb squirrel.StatementBuilderType
}

func (s *sqliteIntrospector) ListTables(ctx context.Context) ([]string, error) {
	query, args, err := s.qb.Select("name").
		From("sqlite_master").
		Where(squirrel.Eq{"type": "table"}).
		Where(squirrel.NotLike{"name": "sqlite_%"}).
		OrderBy("name").
		ToSql()
	if err != nil {
		return nil, err
	}
	return scanStrings(ctx, s.q, query, args...)
}

type sqliteColumn struct {
	schema.Column
	pk int
}

func (s *sqliteIntrospector) tableInfo(ctx context.Context, table string) ([]sqliteColumn, error) {
	rows, err := s.q.QueryContext(ctx, "PRAGMA table_info("+quoteDouble(table)+")")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]sqliteColumn, 0)
	for rows.Next() {
		var (
			cid        int
			col        sqliteColumn
			notNull    int
			defaultVal sql.NullString
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &defaultVal, &col.pk); err != nil {
			return nil, err
		}
		col.Nullable = notNull == 0
		if defaultVal.Valid {
			col.Default = &defaultVal.String
		}
		if col.pk > 0 {
			col.Key = schema.KeyPrimary
		} else {
			col.Key = schema.KeyNone
		}
		out = append(out, col)
	}
	return out, rows.Err()
}

func (s *sqliteIntrospector) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	info, err := s.tableInfo(ctx, table)
	if err != nil {
		return nil, err
	}
	columns := make([]schema.Column, 0, len(info))
	for _, col := range info {
		columns = append(columns, col.Column)
	}
	return columns, nil
}

func (s *sqliteIntrospector) PrimaryKeys(ctx context.Context, table string) ([]string, error) {
	info, err := s.tableInfo(ctx, table)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0)
	for position := 1; position <= len(info); position++ {
		for _, col := range info {
			if col.pk == position {
				keys = append(keys, col.Name)
			}
		}
	}
	return keys, nil
}

func (s *sqliteIntrospector) ForeignKeys(ctx context.Context, table string) ([]schema.ForeignKey, error) {
	rows, err := s.q.QueryContext(ctx, "PRAGMA foreign_key_list("+quoteDouble(table)+")")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]schema.ForeignKey, 0)
	for rows.Next() {
		var (
			id, seq                   int
			fk                        schema.ForeignKey
			to                        sql.NullString
			onUpdate, onDelete, match string
		)
		if err := rows.Scan(&id, &seq, &fk.ReferencedTable, &fk.Column, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, err
		}
		fk.ReferencedColumn = to.String
		if !to.Valid {
			fk.ReferencedColumn = "id"
		}
		out = append(out, fk)
	}
	return out, rows.Err()
}
