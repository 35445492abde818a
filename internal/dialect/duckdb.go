package dialect

import (
	"fmt"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/nlpdb/nlpdb/internal/config"
	"github.com/nlpdb/nlpdb/internal/schema"
	"github.com/nlpdb/nlpdb/internal/sqltext"
)

const duckdbSchema = "main"

// DuckDB keeps one database file per name. SHOW TABLES and DESCRIBE are native.
type DuckDB struct{}

func (DuckDB) Name() string       { return "duckdb" }
func (DuckDB) DriverName() string { return "duckdb" }
func (DuckDB) Extension() string  { return ".duckdb" }

func (d DuckDB) DSN(cfg config.TargetConfig, database string) (string, error) {
	if database == "" {
		return "", nil
	}
	if err := validFileDatabaseName(database); err != nil {
		return "", err
	}
	return filepath.Join(cfg.DataDir, database+d.Extension()), nil
}

func (DuckDB) Introspector(q Querier, _ string) schema.Introspector {
	return &infoSchemaIntrospector{
		q:      q,
		schema: duckdbSchema,
		qb:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}
}

func (DuckDB) Native(stmt sqltext.Statement) string {
	return stmt.Text
}

func (DuckDB) QuoteIdent(name string) string {
	return quoteDouble(name)
}

func validFileDatabaseName(name string) error {
	if name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("invalid database name %q", name)
	}
	return nil
}
