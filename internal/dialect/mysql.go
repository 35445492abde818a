package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"

	"github.com/nlpdb/nlpdb/internal/config"
	"github.com/nlpdb/nlpdb/internal/schema"
	"github.com/nlpdb/nlpdb/internal/sqltext"
)

type MySQL struct{}

func (MySQL) Name() string       { return "mysql" }
func (MySQL) DriverName() string { return "mysql" }

func (MySQL) DSN(cfg config.TargetConfig, database string) (string, error) {
	dsn := mysql.NewConfig()
	dsn.User = cfg.User
	dsn.Passwd = cfg.Password
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dsn.DBName = database
	dsn.Timeout = cfg.ConnectTimeout
	dsn.MultiStatements = false
	if cfg.Params != "" {
		values, err := url.ParseQuery(cfg.Params)
		if err != nil {
			return "", fmt.Errorf("invalid mysql params: %w", err)
		}
		dsn.Params = make(map[string]string, len(values))
		for key := range values {
			dsn.Params[key] = values.Get(key)
		}
	}
	return dsn.FormatDSN(), nil
}

func (MySQL) Introspector(q Querier, database string) schema.Introspector {
	return &mysqlIntrospector{
		q:        q,
		database: database,
		qb:       squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}
}

func (MySQL) Native(stmt sqltext.Statement) string {
	return stmt.Text
}

func (MySQL) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (MySQL) ListDatabasesQuery() string {
	return "SHOW DATABASES"
}

func (MySQL) SystemDatabase(name string) bool {
	switch strings.ToLower(name) {
	case "information_schema", "mysql", "performance_schema", "sys":
		return true
	default:
		return false
	}
}

type mysqlIntrospector struct {
	q        Querier
	database string
	qb       squirrel.StatementBuilderType
}

func (m *mysqlIntrospector) ListTables(ctx context.Context) ([]string, error) {
	query, args, err := m.qb.Select("table_name").
		From("information_schema.tables").
		Where(squirrel.Eq{"table_schema": m.database}).
		Where(squirrel.Eq{"table_type": "BASE TABLE"}).
		OrderBy("table_name").
		ToSql()
	if err != nil {
		return nil, err
	}
	return scanStrings(ctx, m.q, query, args...)
}

func (m *mysqlIntrospector) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	query, args, err := m.qb.Select("column_name", "column_type", "is_nullable", "column_default", "column_key", "extra").
		From("information_schema.columns").
		Where(squirrel.Eq{"table_schema": m.database}).
		Where(squirrel.Eq{"table_name": table}).
		OrderBy("ordinal_position").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := m.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns := make([]schema.Column, 0)
	for rows.Next() {
		var (
			col        schema.Column
			nullable   string
			defaultVal sql.NullString
			key        string
		)
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &defaultVal, &key, &col.Extra); err != nil {
			return nil, err
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
		col.Key = schema.ParseKeyRole(key)
		if defaultVal.Valid {
			col.Default = &defaultVal.String
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func (m *mysqlIntrospector) PrimaryKeys(ctx context.Context, table string) ([]string, error) {
	query, args, err := m.qb.Select("column_name").
		From("information_schema.key_column_usage").
		Where(squirrel.Eq{"table_schema": m.database}).
		Where(squirrel.Eq{"table_name": table}).
		Where(squirrel.Eq{"constraint_name": "PRIMARY"}).
		OrderBy("ordinal_position").
		ToSql()
	if err != nil {
		return nil, err
	}
	return scanStrings(ctx, m.q, query, args...)
}

func (m *mysqlIntrospector) ForeignKeys(ctx context.Context, table string) ([]schema.ForeignKey, error) {
	query, args, err := m.qb.Select("column_name", "referenced_table_name", "referenced_column_name").
		From("information_schema.key_column_usage").
		Where(squirrel.Eq{"table_schema": m.database}).
		Where(squirrel.Eq{"table_name": table}).
		Where(squirrel.NotEq{"referenced_table_name": nil}).
		OrderBy("ordinal_position").
		ToSql()
	if err != nil {
		return nil, err
	}
	return scanForeignKeys(ctx, m.q, query, args...)
}

func scanForeignKeys(ctx context.Context, q Querier, query string, args ...any) ([]schema.ForeignKey, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]schema.ForeignKey, 0)
	for rows.Next() {
		var fk schema.ForeignKey
		if err := rows.Scan(&fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, err
		}
		out = append(out, fk)
	}
	return out, rows.Err()
}
