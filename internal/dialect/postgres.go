package dialect

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nlpdb/nlpdb/internal/config"
	"github.com/nlpdb/nlpdb/internal/schema"
	"github.com/nlpdb/nlpdb/internal/sqltext"
)

const postgresSchema = "public"

type Postgres struct{}

func (Postgres) Name() string       { return "postgres" }
func (Postgres) DriverName() string { return "pgx" }

func (Postgres) DSN(cfg config.TargetConfig, database string) (string, error) {
	if database == "" {
		database = "postgres"
	}
	query, err := url.ParseQuery(cfg.Params)
	if err != nil {
		return "", fmt.Errorf("invalid postgres params: %w", err)
	}
	if cfg.ConnectTimeout > 0 && query.Get("connect_timeout") == "" {
		query.Set("connect_timeout", strconv.Itoa(int(cfg.ConnectTimeout.Seconds())))
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + database,
		RawQuery: query.Encode(),
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u.String(), nil
}

func (Postgres) Introspector(q Querier, _ string) schema.Introspector {
	return &infoSchemaIntrospector{
		q:      q,
		schema: postgresSchema,
		qb:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (Postgres) Native(stmt sqltext.Statement) string {
	switch {
	case stmt.IsShowTables():
		return showTablesFromInfoSchema(postgresSchema)
	case stmt.IsDescribe():
		return describeFromInfoSchema(postgresSchema, stmt.Target)
	default:
		return stmt.Text
	}
}

func (Postgres) QuoteIdent(name string) string {
	return quoteDouble(name)
}

func (Postgres) ListDatabasesQuery() string {
	return "SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname"
}

func (Postgres) SystemDatabase(name string) bool {
	return strings.EqualFold(name, "postgres")
}
