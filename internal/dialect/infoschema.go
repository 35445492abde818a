package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"

	"github.com/nlpdb/nlpdb/internal/schema"
)

// infoSchemaIntrospector reads the SQL-standard information_schema views
// shared by PostgreSQL and DuckDB.
type infoSchemaIntrospector struct {
	q      Querier
	schema string
	qb     squirrel.StatementBuilderType
}

const constraintJoin = "information_schema.key_column_usage kcu ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema AND tc.table_name = kcu.table_name"

const columnKeyExpr = `CASE
	WHEN EXISTS (%[1]s AND tc.constraint_type = 'PRIMARY KEY') THEN 'PRI'
	WHEN EXISTS (%[1]s AND tc.constraint_type = 'UNIQUE') THEN 'UNI'
	WHEN EXISTS (%[1]s AND tc.constraint_type = 'FOREIGN KEY') THEN 'MUL'
	ELSE '' END AS column_key`

const columnConstraintLookup = "SELECT 1 FROM information_schema.table_constraints tc JOIN " + constraintJoin +
	" WHERE tc.table_schema = c.table_schema AND tc.table_name = c.table_name AND kcu.column_name = c.column_name"

const columnExtraExpr = "CASE WHEN c.is_identity = 'YES' OR c.column_default LIKE 'nextval(%' THEN 'auto_increment' ELSE '' END AS extra"

func (i *infoSchemaIntrospector) ListTables(ctx context.Context) ([]string, error) {
	query, args, err := i.qb.Select("table_name").
		From("information_schema.tables").
		Where(squirrel.Eq{"table_schema": i.schema}).
		Where(squirrel.Eq{"table_type": "BASE TABLE"}).
		OrderBy("table_name").
		ToSql()
	if err != nil {
		return nil, err
	}
	return scanStrings(ctx, i.q, query, args...)
}

func (i *infoSchemaIntrospector) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	query, args, err := i.qb.Select(
		"c.column_name",
		"c.data_type",
		"c.is_nullable",
		"c.column_default",
		fmt.Sprintf(columnKeyExpr, columnConstraintLookup),
		columnExtraExpr,
	).
		From("information_schema.columns c").
		Where(squirrel.Eq{"c.table_schema": i.schema}).
		Where(squirrel.Eq{"c.table_name": table}).
		OrderBy("c.ordinal_position").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := i.q.QueryContext(ctx, query, args...)
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

func (i *infoSchemaIntrospector) PrimaryKeys(ctx context.Context, table string) ([]string, error) {
	query, args, err := i.qb.Select("kcu.column_name").
		From("information_schema.table_constraints tc").
		Join(constraintJoin).
		Where(squirrel.Eq{"tc.table_schema": i.schema}).
		Where(squirrel.Eq{"tc.table_name": table}).
		Where(squirrel.Eq{"tc.constraint_type": "PRIMARY KEY"}).
		OrderBy("kcu.ordinal_position").
		ToSql()
	if err != nil {
		return nil, err
	}
	return scanStrings(ctx, i.q, query, args...)
}

func (i *infoSchemaIntrospector) ForeignKeys(ctx context.Context, table string) ([]schema.ForeignKey, error) {
	query, args, err := i.qb.Select("kcu.column_name", "ccu.table_name", "ccu.column_name").
		From("information_schema.table_constraints tc").
		Join(constraintJoin).
		Join("information_schema.constraint_column_usage ccu ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema").
		Where(squirrel.Eq{"tc.table_schema": i.schema}).
		Where(squirrel.Eq{"tc.table_name": table}).
		Where(squirrel.Eq{"tc.constraint_type": "FOREIGN KEY"}).
		OrderBy("kcu.ordinal_position").
		ToSql()
	if err != nil {
		return nil, err
	}
	return scanForeignKeys(ctx, i.q, query, args...)
}

// describeFromInfoSchema renders DESCRIBE output with MySQL-style column headings.
func describeFromInfoSchema(schemaName, table string) string {
	keyColumn := fmt.Sprintf(columnKeyExpr, columnConstraintLookup)
	keyColumn = strings.Replace(keyColumn, "AS column_key", `AS "Key"`, 1)
	return fmt.Sprintf(`SELECT c.column_name AS "Field", c.data_type AS "Type", c.is_nullable AS "Null", %s, c.column_default AS "Default", %s FROM information_schema.columns c WHERE c.table_schema = %s AND c.table_name = %s ORDER BY c.ordinal_position`,
		keyColumn,
		strings.Replace(columnExtraExpr, "AS extra", `AS "Extra"`, 1),
		quoteLiteral(schemaName),
		quoteLiteral(table),
	)
}

func showTablesFromInfoSchema(schemaName string) string {
	return fmt.Sprintf(`SELECT table_name AS "Tables" FROM information_schema.tables WHERE table_schema = %s AND table_type = 'BASE TABLE' ORDER BY table_name`,
		quoteLiteral(schemaName))
}
