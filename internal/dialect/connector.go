package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/nlpdb/nlpdb/internal/config"
)

// Connector opens one short-lived handle per logical operation. Callers close
// the returned *sql.DB on every exit path.
type Connector struct {
	Dialect Dialect
	Target  config.TargetConfig
	openDB  func(driver, dsn string) (*sql.DB, error)
}

func NewConnector(target config.TargetConfig) (*Connector, error) {
	d, err := New(target.Driver)
	if err != nil {
		return nil, err
	}
	return &Connector{Dialect: d, Target: target, openDB: sql.Open}, nil
}

// NewConnectorWithOpener lets tests hand out sqlmock handles.
func NewConnectorWithOpener(d Dialect, target config.TargetConfig, open func(driver, dsn string) (*sql.DB, error)) *Connector {
	return &Connector{Dialect: d, Target: target, openDB: open}
}

// Open fails with ErrDatabaseNotFound for a file database that does not
// exist yet. Only CreateDatabase brings one into being.
func (c *Connector) Open(ctx context.Context, database string) (*sql.DB, error) {
	return c.open(ctx, database, false)
}

func (c *Connector) open(ctx context.Context, database string, create bool) (*sql.DB, error) {
	dsn, err := c.Dialect.DSN(c.Target, database)
	if err != nil {
		return nil, err
	}
	if d, ok := c.Dialect.(FileDialect); ok && database != "" && !create {
		if _, err := os.Stat(c.databasePath(d, database)); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, database)
		}
	}
	db, err := c.openDB(c.Dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrConnection, c.Dialect.Name(), err)
	}
	db.SetMaxOpenConns(1)

	timeout := c.Target.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrConnection, c.Dialect.Name(), err)
	}
	return db, nil
}

func (c *Connector) ListDatabases(ctx context.Context) ([]string, error) {
	switch d := c.Dialect.(type) {
	case FileDialect:
		return c.listDatabaseFiles(d)
	case ServerDialect:
		db, err := c.Open(ctx, "")
		if err != nil {
			return nil, err
		}
		defer func() { _ = db.Close() }()

		names, err := scanStrings(ctx, db, d.ListDatabasesQuery())
		if err != nil {
			return nil, fmt.Errorf("list databases: %w", err)
		}
		return slices.DeleteFunc(names, d.SystemDatabase), nil
	default:
		return nil, fmt.Errorf("dialect %s cannot list databases", c.Dialect.Name())
	}
}

func (c *Connector) CreateDatabase(ctx context.Context, name string) error {
	switch d := c.Dialect.(type) {
	case FileDialect:
		path := c.databasePath(d, name)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrDatabaseExists, name)
		}
		if err := os.MkdirAll(c.Target.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		db, err := c.open(ctx, name, true)
		if err != nil {
			return err
		}
		return db.Close()
	default:
		db, err := c.Open(ctx, "")
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		if _, err := db.ExecContext(ctx, "CREATE DATABASE "+c.Dialect.QuoteIdent(name)); err != nil {
			return fmt.Errorf("create database %s: %w", name, err)
		}
		return nil
	}
}

func (c *Connector) DropDatabase(ctx context.Context, name string) error {
	switch d := c.Dialect.(type) {
	case FileDialect:
		path := c.databasePath(d, name)
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrDatabaseNotFound, name)
			}
			return fmt.Errorf("drop database %s: %w", name, err)
		}
		_ = os.Remove(path + ".wal")
		return nil
	default:
		db, err := c.Open(ctx, "")
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		if _, err := db.ExecContext(ctx, "DROP DATABASE "+c.Dialect.QuoteIdent(name)); err != nil {
			return fmt.Errorf("drop database %s: %w", name, err)
		}
		return nil
	}
}

func (c *Connector) listDatabaseFiles(d FileDialect) ([]string, error) {
	entries, err := os.ReadDir(c.Target.DataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: read data dir: %w", ErrConnection, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), d.Extension()) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), d.Extension()))
	}
	slices.Sort(names)
	return names, nil
}

func (c *Connector) databasePath(d FileDialect, name string) string {
	return filepath.Join(c.Target.DataDir, name+d.Extension())
}
