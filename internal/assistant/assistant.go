// Package assistant wires the schema cache, the translator and the statement
// executor into the natural-language request pipeline.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/nlpdb/nlpdb/internal/dialect"
	"github.com/nlpdb/nlpdb/internal/executor"
	"github.com/nlpdb/nlpdb/internal/history"
	"github.com/nlpdb/nlpdb/internal/nl2sql"
	"github.com/nlpdb/nlpdb/internal/observability"
	"github.com/nlpdb/nlpdb/internal/schema"
	"github.com/nlpdb/nlpdb/internal/schemacache"
	"github.com/nlpdb/nlpdb/internal/session"
)

var (
	ErrNoDatabaseSelected  = errors.New("no database selected")
	ErrTableNotFound       = errors.New("table not found")
	ErrInvalidDatabaseName = errors.New("invalid database name")
	ErrEmptyRequest        = errors.New("request text is empty")
)

var databaseNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

const sampleRowLimit = 5

type Options struct {
	Connector  *dialect.Connector
	Translator nl2sql.Translator
	// Store persists the schema cache. Nil keeps it in memory.
	Store    schemacache.Store
	CacheTTL time.Duration
	// Recorder is optional. Recording failures never fail a request.
	Recorder history.Recorder
	Logger   *slog.Logger
	Clock    func() time.Time
}

type Service struct {
	connector  *dialect.Connector
	translator nl2sql.Translator
	executor   *executor.Executor
	cache      *schemacache.Cache
	recorder   history.Recorder
	logger     *slog.Logger
	clock      func() time.Time
}

func New(opts Options) (*Service, error) {
	if opts.Connector == nil {
		return nil, fmt.Errorf("connector is required")
	}
	if opts.Translator == nil {
		return nil, fmt.Errorf("translator is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	s := &Service{
		connector:  opts.Connector,
		translator: opts.Translator,
		executor:   executor.New(opts.Connector.Dialect, opts.Logger),
		recorder:   opts.Recorder,
		logger:     opts.Logger,
		clock:      opts.Clock,
	}
	s.cache = schemacache.New(s, opts.Store, schemacache.Options{TTL: opts.CacheTTL, Now: opts.Clock, Logger: opts.Logger})
	return s, nil
}

func (s *Service) DialectName() string {
	return s.connector.Dialect.Name()
}

// BuildSnapshot enumerates database on a connection of its own.
func (s *Service) BuildSnapshot(ctx context.Context, database string) (schema.Snapshot, error) {
	db, err := s.connector.Open(ctx, database)
	if err != nil {
		return schema.Snapshot{}, err
	}
	defer func() { _ = db.Close() }()
	return schema.Build(ctx, database, s.connector.Dialect.Introspector(db, database))
}

// TranslateAndRun turns text into SQL against database (or the session's
// current database when empty), executes it and folds the outcome into sess.
// Failed runs leave the session's tables and last result untouched.
func (s *Service) TranslateAndRun(ctx context.Context, sess *session.Session, text, database string) (executor.Result, error) {
	started := s.clock()
	text = strings.TrimSpace(text)
	if text == "" {
		return executor.Result{}, ErrEmptyRequest
	}
	if database == "" {
		database = sess.CurrentDatabase()
	}
	if database == "" {
		return executor.Result{}, ErrNoDatabaseSelected
	}
	sess.Apply(session.Update{Database: &database})

	result, sqlText, err := s.run(ctx, text, database)
	s.record(ctx, sess.ID(), database, text, sqlText, result, err, started)
	if err != nil {
		observability.LoggerWithRequest(ctx, s.logger).WarnContext(ctx, "translate_and_run_failed",
			slog.String("database", database),
			slog.String("error", err.Error()),
		)
		return executor.Result{}, err
	}

	sess.Apply(session.Update{Tables: result.Tables, Query: &result.SQL, Result: &result})
	if result.DDL {
		s.cache.Invalidate()
	}
	return result, nil
}

func (s *Service) run(ctx context.Context, text, database string) (executor.Result, string, error) {
	snapshot, err := s.cache.Get(ctx, database)
	if err != nil {
		return executor.Result{}, "", err
	}
	translated, err := s.translator.Translate(ctx, nl2sql.Request{Snapshot: snapshot, NaturalLanguage: text})
	if err != nil {
		return executor.Result{}, "", err
	}

	db, err := s.connector.Open(ctx, database)
	if err != nil {
		return executor.Result{}, translated.SQL, err
	}
	defer func() { _ = db.Close() }()

	result, err := s.executor.Execute(ctx, db, database, translated.SQL)
	if err != nil {
		if attempted, ok := executor.SQLOf(err); ok {
			return executor.Result{}, attempted, err
		}
		return executor.Result{}, translated.SQL, err
	}
	return result, result.SQL, nil
}

func (s *Service) record(ctx context.Context, sessionID, database, prompt, sqlText string, result executor.Result, runErr error, started time.Time) {
	if s.recorder == nil {
		return
	}
	entry := history.Entry{
		SessionID:  sessionID,
		Database:   database,
		Prompt:     prompt,
		SQL:        sqlText,
		ResultType: result.Type,
		RowCount:   result.RowCount,
		Message:    result.Message,
		DurationMs: s.clock().Sub(started).Milliseconds(),
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	if _, err := s.recorder.Record(ctx, entry); err != nil {
		observability.LoggerWithRequest(ctx, s.logger).WarnContext(ctx, "history_record_failed",
			slog.String("database", database),
			slog.String("error", err.Error()),
		)
	}
}

// SelectDatabase makes database current for sess and warms the cache with
// its schema.
func (s *Service) SelectDatabase(ctx context.Context, sess *session.Session, database string) (schema.Snapshot, error) {
	database = strings.TrimSpace(database)
	if database == "" {
		return schema.Snapshot{}, ErrNoDatabaseSelected
	}
	snapshot, err := s.cache.Get(ctx, database)
	if err != nil {
		return schema.Snapshot{}, err
	}
	sess.Apply(session.Update{Database: &database})
	return snapshot, nil
}

// RefreshSchema rebuilds the snapshot and replaces the session's known
// tables when the session is on that database.
func (s *Service) RefreshSchema(ctx context.Context, sess *session.Session, database string) (schema.Snapshot, error) {
	if database == "" && sess != nil {
		database = sess.CurrentDatabase()
	}
	if database == "" {
		return schema.Snapshot{}, ErrNoDatabaseSelected
	}
	snapshot, err := s.cache.Refresh(ctx, database)
	if err != nil {
		return schema.Snapshot{}, err
	}
	if sess != nil && sess.CurrentDatabase() == database {
		sess.ReplaceTables(snapshot)
	}
	return snapshot, nil
}

// ListRelationships never fails. Any error degrades to an empty edge list.
func (s *Service) ListRelationships(ctx context.Context, database string) []schema.Edge {
	edges, err := s.relationships(ctx, database)
	if err != nil {
		observability.IncrementRelationshipDegradation()
		observability.LoggerWithRequest(ctx, s.logger).WarnContext(ctx, "relationship_extraction_degraded",
			slog.String("database", database),
			slog.String("error", err.Error()),
		)
		return []schema.Edge{}
	}
	return edges
}

func (s *Service) relationships(ctx context.Context, database string) ([]schema.Edge, error) {
	if database == "" {
		return nil, ErrNoDatabaseSelected
	}
	db, err := s.connector.Open(ctx, database)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()
	return schema.ExtractRelationships(ctx, s.connector.Dialect.Introspector(db, database))
}

func (s *Service) ListDatabases(ctx context.Context) ([]string, error) {
	return s.connector.ListDatabases(ctx)
}

// CreateDatabase creates name and, with useNow, makes it current for sess.
// It returns the operator-facing message.
func (s *Service) CreateDatabase(ctx context.Context, sess *session.Session, name string, useNow bool) (string, error) {
	name = strings.TrimSpace(name)
	if !databaseNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q: only letters, numbers and underscores are allowed", ErrInvalidDatabaseName, name)
	}
	if err := s.connector.CreateDatabase(ctx, name); err != nil {
		return "", err
	}
	message := fmt.Sprintf("Database '%s' created successfully.", name)
	if useNow && sess != nil {
		sess.Apply(session.Update{Database: &name})
		message += fmt.Sprintf(" Now using database '%s'.", name)
	}
	return message, nil
}

type DeleteResult struct {
	Deleted []string `json:"deleted"`
	Errors  []string `json:"errors,omitempty"`
	Message string   `json:"message"`
}

// DeleteDatabases drops every named database. A failure is noted and the
// batch moves on.
func (s *Service) DeleteDatabases(ctx context.Context, names []string) (DeleteResult, error) {
	if len(names) == 0 {
		return DeleteResult{}, fmt.Errorf("%w: no databases given", ErrInvalidDatabaseName)
	}
	out := DeleteResult{Deleted: []string{}, Errors: []string{}}
	current, cached := s.cache.Current()
	for _, name := range names {
		name = strings.TrimSpace(name)
		if !databaseNamePattern.MatchString(name) {
			out.Errors = append(out.Errors, fmt.Sprintf("Error deleting database '%s': invalid name", name))
			continue
		}
		if err := s.connector.DropDatabase(ctx, name); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("Error deleting database '%s': %v", name, err))
			continue
		}
		out.Deleted = append(out.Deleted, name)
		if cached && current.Database == name {
			s.cache.Invalidate()
		}
	}
	out.Message = fmt.Sprintf("Successfully deleted %d database(s).", len(out.Deleted))
	s.logger.InfoContext(ctx, "databases_deleted",
		slog.Int("deleted", len(out.Deleted)),
		slog.Int("failed", len(out.Errors)),
	)
	return out, nil
}

func (s *Service) ClearCache(ctx context.Context) error {
	return s.cache.Clear(ctx)
}

func (s *Service) CacheTTL() time.Duration {
	return s.cache.TTL()
}
