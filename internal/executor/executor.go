// Package executor runs a sanitised statement batch against the target
// database and classifies the final statement's outcome.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nlpdb/nlpdb/internal/dialect"
	"github.com/nlpdb/nlpdb/internal/observability"
	"github.com/nlpdb/nlpdb/internal/schema"
	"github.com/nlpdb/nlpdb/internal/sqltext"
)

type Executor struct {
	dialect dialect.Dialect
	logger  *slog.Logger
}

func New(d dialect.Dialect, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{dialect: d, logger: logger}
}

type rowSet struct {
	columns []string
	rows    []map[string]any
}

// Execute splits sqlText, runs every statement in order on one connection in
// autocommit mode and returns the classified result of the last statement.
// Statements that committed before a failure stay committed.
func (e *Executor) Execute(ctx context.Context, db *sql.DB, database, sqlText string) (Result, error) {
	result, err := e.execute(ctx, db, database, sqlText)
	if err != nil {
		observability.ObserveExecutionFailure(kindLabel(err))
		return Result{}, err
	}
	observability.ObserveExecution(result.Type)
	return result, nil
}

func (e *Executor) execute(ctx context.Context, db *sql.DB, database, sqlText string) (Result, error) {
	stmts := sqltext.Split(sqlText)
	if len(stmts) == 0 {
		return Result{}, &Error{Kind: ErrEmptyStatementSet, SQL: sqlText}
	}
	echo := sqlText

	conn, err := db.Conn(ctx)
	if err != nil {
		return Result{}, &Error{Kind: ErrDatabaseExecution, SQL: echo, Err: err}
	}
	defer func() { _ = conn.Close() }()
	introspector := e.dialect.Introspector(conn, database)

	first := sqltext.Parse(stmts[0])
	switch {
	case first.IsCreateTable() && !first.IfNotExists:
		tables, err := introspector.ListTables(ctx)
		if err != nil {
			return Result{}, &Error{Kind: ErrDatabaseExecution, SQL: echo, Detail: "list tables", Err: err}
		}
		if name, ok := findTable(tables, first.Target); ok {
			return Result{}, &Error{Kind: ErrTableAlreadyExists, SQL: echo, Detail: fmt.Sprintf("Table '%s' already exists in the database.", name)}
		}
	case first.IsDropTable() && !first.IfExists:
		stmts[0] = first.WithIfExists()
		echo = strings.Join(stmts, "; ") + ";"
	}

	started := time.Now()
	var (
		last          = sqltext.Parse(stmts[len(stmts)-1])
		final         *rowSet
		droppedExists bool
		ddl           bool
	)
	for i, stmt := range stmts {
		parsed := sqltext.Parse(stmt)
		isLast := i == len(stmts)-1
		ddl = ddl || changesSchema(parsed)
		if isLast && parsed.IsDropTable() {
			tables, err := introspector.ListTables(ctx)
			if err != nil {
				return Result{}, &Error{Kind: ErrDatabaseExecution, SQL: echo, Detail: "list tables", Err: err}
			}
			_, droppedExists = findTable(tables, parsed.Target)
		}

		native := e.dialect.Native(parsed)
		if !sqltext.ProducesRows(sqltext.FirstWord(native)) {
			if _, err := conn.ExecContext(ctx, native); err != nil {
				return Result{}, &Error{Kind: ErrDatabaseExecution, SQL: echo, Err: err}
			}
			continue
		}
		set, err := queryRows(ctx, conn, native, isLast)
		if err != nil {
			return Result{}, &Error{Kind: ErrDatabaseExecution, SQL: echo, Err: err}
		}
		if isLast {
			final = set
		}
	}

	result, err := e.classify(ctx, introspector, database, last, final, droppedExists)
	if err != nil {
		return Result{}, &Error{Kind: ErrDatabaseExecution, SQL: echo, Err: err}
	}
	result.SQL = echo
	result.DDL = ddl

	e.logger.InfoContext(ctx, "statement_batch_executed",
		slog.String("database", database),
		slog.Int("statement_count", len(stmts)),
		slog.String("result_type", result.Type),
		slog.Duration("duration", time.Since(started)),
	)
	return result, nil
}

func (e *Executor) classify(ctx context.Context, introspector schema.Introspector, database string, last sqltext.Statement, final *rowSet, droppedExists bool) (Result, error) {
	if final != nil {
		switch {
		case last.IsShowTables():
			tables, err := introspector.ListTables(ctx)
			if err != nil {
				return Result{}, fmt.Errorf("list tables: %w", err)
			}
			key := "Tables_in_" + database
			output := make([]map[string]any, 0, len(tables))
			known := make(map[string]*schema.Table, len(tables))
			for _, name := range tables {
				output = append(output, map[string]any{key: name})
				known[name] = nil
			}
			return Result{
				Output:   output,
				Message:  fmt.Sprintf("Found %d table(s) in the database.", len(tables)),
				Type:     TypeShowTables,
				RowCount: len(tables),
				Tables:   known,
			}, nil
		case last.IsDescribe():
			result := Result{
				Output:   final.rows,
				Message:  "Table structure retrieved successfully.",
				Type:     TypeDescribe,
				RowCount: len(final.rows),
			}
			if table, ok := describedTable(final.rows); ok {
				result.Tables = map[string]*schema.Table{last.Target: table}
			}
			return result, nil
		default:
			return Result{
				Output:   final.rows,
				Message:  fmt.Sprintf("Query returned %d row(s).", len(final.rows)),
				Type:     TypeSelect,
				RowCount: len(final.rows),
			}, nil
		}
	}

	switch last.Verb {
	case "CREATE":
		message := "Statement executed successfully."
		switch last.Object {
		case "TABLE":
			message = "Table created successfully."
		case "DATABASE", "SCHEMA":
			message = "Database created successfully."
		}
		return Result{Message: message, Type: TypeCreate}, nil
	case "UPDATE":
		return Result{Message: "Data updated successfully.", Type: TypeUpdate}, nil
	case "DELETE":
		return Result{Message: "Data deleted successfully.", Type: TypeDelete}, nil
	case "ALTER":
		return Result{Message: "Table structure modified successfully.", Type: TypeAlter}, nil
	case "DROP":
		message := "Statement executed successfully."
		switch {
		case last.IsDropTable() && droppedExists:
			message = "Table dropped successfully."
		case last.IsDropTable():
			message = fmt.Sprintf("Table '%s' does not exist.", last.Target)
		case last.Object == "DATABASE" || last.Object == "SCHEMA":
			message = "Database dropped successfully."
		}
		return Result{Message: message, Type: TypeDrop}, nil
	default:
		return Result{Message: "Query executed successfully.", Type: TypeOther}, nil
	}
}

func changesSchema(stmt sqltext.Statement) bool {
	switch stmt.Verb {
	case "CREATE", "DROP", "ALTER", "RENAME":
		return true
	}
	return false
}

// queryRows runs a row-producing statement. Rows of non-final statements are
// drained and dropped.
func queryRows(ctx context.Context, conn *sql.Conn, query string, keep bool) (*rowSet, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	if !keep {
		for rows.Next() {
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("drain rows: %w", err)
		}
		return &rowSet{}, nil
	}
	columns, out, err := ScanRows(rows)
	if err != nil {
		return nil, err
	}
	return &rowSet{columns: columns, rows: out}, nil
}

// ScanRows reads every remaining row into column-keyed maps. []byte values
// become strings. The caller closes rows.
func ScanRows(rows *sql.Rows) ([]string, []map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}
	out := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, value := range normalizeValues(values) {
			row[columns[i]] = value
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, out, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

// describedTable reads column names and types out of DESCRIBE rows. MySQL
// style headings come first, DuckDB's second.
func describedTable(rows []map[string]any) (*schema.Table, bool) {
	table := &schema.Table{Columns: make([]schema.Column, 0, len(rows)), PrimaryKeys: []string{}, ForeignKeys: []schema.ForeignKey{}}
	for _, row := range rows {
		name, ok := stringField(row, "Field", "column_name")
		if !ok {
			return nil, false
		}
		columnType, _ := stringField(row, "Type", "column_type")
		table.Columns = append(table.Columns, schema.Column{Name: name, Type: columnType})
	}
	return table, len(table.Columns) > 0
}

func stringField(row map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := row[key]; ok && value != nil {
			return fmt.Sprint(value), true
		}
	}
	return "", false
}

func findTable(tables []string, name string) (string, bool) {
	for _, table := range tables {
		if strings.EqualFold(table, name) {
			return table, true
		}
	}
	return "", false
}
