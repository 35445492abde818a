// Package session keeps the per-operator record of the selected database,
// known table shapes and the last query.
package session

import (
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/nlpdb/nlpdb/internal/executor"
	"github.com/nlpdb/nlpdb/internal/schema"
)

const DefaultID = "default"

// Update is merged into a session. Nil fields leave the current value alone.
type Update struct {
	Database *string
	Tables   map[string]*schema.Table
	Query    *string
	Result   *executor.Result
}

// Snapshot is a copy of a session's fields.
type Snapshot struct {
	ID              string                   `json:"id"`
	CurrentDatabase string                   `json:"current_database,omitempty"`
	Tables          map[string]*schema.Table `json:"tables"`
	LastQuery       string                   `json:"last_query,omitempty"`
	LastResult      *executor.Result         `json:"last_result,omitempty"`
}

type Session struct {
	id string

	mu         sync.Mutex
	database   string
	tables     map[string]*schema.Table
	lastQuery  string
	lastResult *executor.Result
}

func New(id string) *Session {
	return &Session{id: id, tables: map[string]*schema.Table{}}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Apply(update Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if update.Database != nil {
		s.database = *update.Database
	}
	for name, table := range update.Tables {
		if table == nil {
			if _, known := s.tables[name]; known {
				continue
			}
		}
		s.tables[name] = cloneTable(table)
	}
	if update.Query != nil {
		s.lastQuery = *update.Query
	}
	if update.Result != nil {
		result := *update.Result
		s.lastResult = &result
	}
}

// ReplaceTables swaps the known-table set wholesale after a schema refresh.
func (s *Session) ReplaceTables(snapshot schema.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tables = make(map[string]*schema.Table, len(snapshot.Tables))
	for name, table := range snapshot.Tables {
		s.tables[name] = cloneTable(&table)
	}
}

func (s *Session) CurrentDatabase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.database
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Snapshot{
		ID:              s.id,
		CurrentDatabase: s.database,
		Tables:          make(map[string]*schema.Table, len(s.tables)),
		LastQuery:       s.lastQuery,
	}
	for name, table := range s.tables {
		out.Tables[name] = cloneTable(table)
	}
	if s.lastResult != nil {
		result := *s.lastResult
		out.LastResult = &result
	}
	return out
}

func cloneTable(table *schema.Table) *schema.Table {
	if table == nil {
		return nil
	}
	out := schema.Table{
		Columns:     append([]schema.Column(nil), table.Columns...),
		PrimaryKeys: append([]string(nil), table.PrimaryKeys...),
		ForeignKeys: append([]schema.ForeignKey(nil), table.ForeignKeys...),
	}
	return &out
}

// Registry hands out one Session per id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

func (r *Registry) Get(id string) *Session {
	id = strings.TrimSpace(id)
	if id == "" {
		id = DefaultID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := New(id)
	r.sessions[id] = s
	return s
}

func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.sessions))
}
