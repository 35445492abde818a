package schema

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

var ErrSchemaBuild = errors.New("schema build failed")

type KeyRole string

const (
	KeyNone     KeyRole = "none"
	KeyPrimary  KeyRole = "primary"
	KeyUnique   KeyRole = "unique"
	KeyMultiple KeyRole = "multiple"
)

// ParseKeyRole maps the MySQL COLUMN_KEY codes (PRI, UNI, MUL) onto KeyRole.
func ParseKeyRole(code string) KeyRole {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "PRI":
		return KeyPrimary
	case "UNI":
		return KeyUnique
	case "MUL":
		return KeyMultiple
	default:
		return KeyNone
	}
}

// Annotation returns the short code used in prompts and DESCRIBE-style output.
func (k KeyRole) Annotation() string {
	switch k {
	case KeyPrimary:
		return "PRI"
	case KeyUnique:
		return "UNI"
	case KeyMultiple:
		return "MUL"
	default:
		return ""
	}
}

type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Key      KeyRole `json:"key"`
	Default  *string `json:"default"`
	Extra    string  `json:"extra"`
}

type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

type Table struct {
	Columns     []Column     `json:"columns"`
	PrimaryKeys []string     `json:"primary_keys"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
}

func (t Table) HasColumn(name string) bool {
	return slices.ContainsFunc(t.Columns, func(c Column) bool { return c.Name == name })
}

// ColumnTypes returns the column -> type view kept in session context.
func (t Table) ColumnTypes() map[string]string {
	out := make(map[string]string, len(t.Columns))
	for _, column := range t.Columns {
		out[column.Name] = column.Type
	}
	return out
}

// Snapshot is the captured structure of one database at LastUpdated.
type Snapshot struct {
	Database    string           `json:"database"`
	LastUpdated time.Time        `json:"last_updated"`
	TableOrder  []string         `json:"table_order"`
	Tables      map[string]Table `json:"tables"`
}

// TableNames returns tables in enumeration order. Snapshots decoded without an
// order fall back to sorted names.
func (s Snapshot) TableNames() []string {
	if len(s.TableOrder) == len(s.Tables) {
		return slices.Clone(s.TableOrder)
	}
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s Snapshot) FreshAt(now time.Time, ttl time.Duration) bool {
	if s.LastUpdated.IsZero() {
		return false
	}
	return now.Sub(s.LastUpdated) < ttl
}

// LookupTable finds a table by exact name first, then case-insensitively.
func (s Snapshot) LookupTable(name string) (string, Table, bool) {
	if table, ok := s.Tables[name]; ok {
		return name, table, true
	}
	for _, candidate := range s.TableNames() {
		if strings.EqualFold(candidate, name) {
			return candidate, s.Tables[candidate], true
		}
	}
	return "", Table{}, false
}

func (s Snapshot) Validate() error {
	if strings.TrimSpace(s.Database) == "" {
		return fmt.Errorf("snapshot database is required")
	}
	for name, table := range s.Tables {
		for _, pk := range table.PrimaryKeys {
			if !table.HasColumn(pk) {
				return fmt.Errorf("table %s: primary key %q is not a column", name, pk)
			}
		}
		for _, fk := range table.ForeignKeys {
			if !table.HasColumn(fk.Column) {
				return fmt.Errorf("table %s: foreign key column %q is not a column", name, fk.Column)
			}
		}
	}
	return nil
}

type Edge struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceColumn string `json:"source_column"`
	TargetColumn string `json:"target_column"`
}
