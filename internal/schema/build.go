package schema

import (
	"context"
	"fmt"
	"slices"
)

// Introspector reads structural metadata from one live database.
type Introspector interface {
	ListTables(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, table string) ([]Column, error)
	PrimaryKeys(ctx context.Context, table string) ([]string, error)
	ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error)
}

// Build enumerates every table of database and assembles a snapshot. The
// caller stamps LastUpdated.
func Build(ctx context.Context, database string, in Introspector) (Snapshot, error) {
	tables, err := in.ListTables(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: list tables: %w", ErrSchemaBuild, err)
	}

	snapshot := Snapshot{
		Database:   database,
		TableOrder: make([]string, 0, len(tables)),
		Tables:     make(map[string]Table, len(tables)),
	}
	for _, name := range tables {
		if _, seen := snapshot.Tables[name]; seen {
			continue
		}
		table, err := buildTable(ctx, in, name)
		if err != nil {
			return Snapshot{}, err
		}
		snapshot.TableOrder = append(snapshot.TableOrder, name)
		snapshot.Tables[name] = table
	}
	if err := snapshot.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrSchemaBuild, err)
	}
	return snapshot, nil
}

func buildTable(ctx context.Context, in Introspector, name string) (Table, error) {
	columns, err := in.Columns(ctx, name)
	if err != nil {
		return Table{}, fmt.Errorf("%w: columns of %s: %w", ErrSchemaBuild, name, err)
	}
	primaryKeys, err := in.PrimaryKeys(ctx, name)
	if err != nil {
		return Table{}, fmt.Errorf("%w: primary keys of %s: %w", ErrSchemaBuild, name, err)
	}
	foreignKeys, err := in.ForeignKeys(ctx, name)
	if err != nil {
		return Table{}, fmt.Errorf("%w: foreign keys of %s: %w", ErrSchemaBuild, name, err)
	}

	table := Table{
		Columns:     columns,
		PrimaryKeys: make([]string, 0, len(primaryKeys)),
		ForeignKeys: foreignKeys,
	}
	for _, pk := range primaryKeys {
		if !slices.Contains(table.PrimaryKeys, pk) {
			table.PrimaryKeys = append(table.PrimaryKeys, pk)
		}
	}
	if table.ForeignKeys == nil {
		table.ForeignKeys = []ForeignKey{}
	}
	return table, nil
}

// ExtractRelationships returns one edge per foreign key in table enumeration
// order. A database without any foreign key yields one self-edge per table so
// every table still shows up as a node.
func ExtractRelationships(ctx context.Context, in Introspector) ([]Edge, error) {
	tables, err := in.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	edges := make([]Edge, 0)
	for _, table := range tables {
		foreignKeys, err := in.ForeignKeys(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("foreign keys of %s: %w", table, err)
		}
		for _, fk := range foreignKeys {
			edges = append(edges, Edge{
				Source:       table,
				Target:       fk.ReferencedTable,
				SourceColumn: fk.Column,
				TargetColumn: fk.ReferencedColumn,
			})
		}
	}
	if len(edges) > 0 {
		return edges, nil
	}
	for _, table := range tables {
		edges = append(edges, Edge{Source: table, Target: table, SourceColumn: "id", TargetColumn: "id"})
	}
	return edges, nil
}
