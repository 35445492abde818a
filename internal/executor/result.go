package executor

import (
	"errors"
	"fmt"

	"github.com/nlpdb/nlpdb/internal/schema"
)

var (
	ErrEmptyStatementSet  = errors.New("no SQL statements to execute")
	ErrTableAlreadyExists = errors.New("table already exists")
	ErrDatabaseExecution  = errors.New("database execution failed")
)

const (
	TypeSelect     = "select"
	TypeShowTables = "show_tables"
	TypeDescribe   = "describe"
	TypeCreate     = "create"
	TypeUpdate     = "update"
	TypeDelete     = "delete"
	TypeAlter      = "alter"
	TypeDrop       = "drop"
	TypeOther      = "other"
)

// Result is the outcome of one statement batch as shown to callers.
type Result struct {
	SQL      string           `json:"sql"`
	Output   []map[string]any `json:"output,omitempty"`
	Message  string           `json:"message"`
	Type     string           `json:"type"`
	RowCount int              `json:"row_count"`
	Error    string           `json:"error,omitempty"`

	// Discoveries the caller merges into the session. A nil table means the
	// table is known to exist but its structure was not read.
	Tables map[string]*schema.Table `json:"-"`
	// DDL is set when any statement in the batch changed the schema.
	DDL bool `json:"-"`
}

// Error carries the SQL that was about to run or did run when the batch failed.
type Error struct {
	Kind   error
	SQL    string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// SQLOf returns the attempted SQL attached to err, if any.
func SQLOf(err error) (string, bool) {
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr.SQL, true
	}
	return "", false
}

func kindLabel(kind error) string {
	switch {
	case errors.Is(kind, ErrEmptyStatementSet):
		return "empty_statement_set"
	case errors.Is(kind, ErrTableAlreadyExists):
		return "table_already_exists"
	default:
		return "database_execution"
	}
}
