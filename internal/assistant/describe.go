package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/nlpdb/nlpdb/internal/executor"
)

type ColumnDetail struct {
	Field   string  `json:"field"`
	Type    string  `json:"type"`
	Null    string  `json:"null"`
	Key     string  `json:"key"`
	Default *string `json:"default"`
	Extra   string  `json:"extra"`
}

type TableDetails struct {
	Name       string           `json:"name"`
	Columns    []ColumnDetail   `json:"columns"`
	RowCount   int64            `json:"row_count"`
	SampleData []map[string]any `json:"sample_data"`
}

// DescribeTable reports the columns, row count and first rows of table. The
// name is matched case-insensitively against the live table list.
func (s *Service) DescribeTable(ctx context.Context, database, table string) (TableDetails, error) {
	if database == "" {
		return TableDetails{}, ErrNoDatabaseSelected
	}
	db, err := s.connector.Open(ctx, database)
	if err != nil {
		return TableDetails{}, err
	}
	defer func() { _ = db.Close() }()

	introspector := s.connector.Dialect.Introspector(db, database)
	tables, err := introspector.ListTables(ctx)
	if err != nil {
		return TableDetails{}, fmt.Errorf("list tables: %w", err)
	}
	name := ""
	for _, candidate := range tables {
		if strings.EqualFold(candidate, table) {
			name = candidate
			break
		}
	}
	if name == "" {
		return TableDetails{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	columns, err := introspector.Columns(ctx, name)
	if err != nil {
		return TableDetails{}, fmt.Errorf("columns of %s: %w", name, err)
	}
	details := TableDetails{Name: name, Columns: make([]ColumnDetail, 0, len(columns))}
	for _, col := range columns {
		null := "NO"
		if col.Nullable {
			null = "YES"
		}
		details.Columns = append(details.Columns, ColumnDetail{
			Field:   col.Name,
			Type:    col.Type,
			Null:    null,
			Key:     col.Key.Annotation(),
			Default: col.Default,
			Extra:   col.Extra,
		})
	}

	quoted := s.connector.Dialect.QuoteIdent(name)
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoted).Scan(&details.RowCount); err != nil {
		return TableDetails{}, fmt.Errorf("count rows of %s: %w", name, err)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoted, sampleRowLimit))
	if err != nil {
		return TableDetails{}, fmt.Errorf("sample rows of %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()
	_, details.SampleData, err = executor.ScanRows(rows)
	if err != nil {
		return TableDetails{}, fmt.Errorf("sample rows of %s: %w", name, err)
	}
	return details, nil
}
