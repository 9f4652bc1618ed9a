// Package sqlite is the SQLite store.Store, built on the grove sqlitedriver
// over the pure Go modernc driver. Writers are serialized inside the
// process; readers run concurrently against the WAL.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate" // registers the "sqlite" migration executor
	"github.com/xraph/grove/migrate"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/store"
	"github.com/xraph/betledger/store/sqlstore"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	*sqlstore.Store
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// Open opens (creating if needed) the database file at path. Every pooled
// connection gets foreign keys and a busy timeout; sqlitedriver switches
// the file to WAL.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimPrefix(path, "sqlite://")
	path = strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("betledger/sqlite: create database directory: %w", err)
		}
	}

	pragmas := url.Values{}
	pragmas.Add("_pragma", "foreign_keys(1)")
	pragmas.Add("_pragma", "busy_timeout(5000)")

	sdb := sqlitedriver.New()
	if err := sdb.Open(ctx, "file:"+path+"?"+pragmas.Encode()); err != nil {
		return nil, fmt.Errorf("betledger/sqlite: open: %w", err)
	}
	db, err := grove.Open(sdb)
	if err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("betledger/sqlite: open: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("betledger/sqlite: ping: %w", err)
	}
	return New(db), nil
}

// New creates a SQLite store on a grove database opened with sqlitedriver.
func New(db *grove.DB) *Store {
	drv := newDriverConn(db)
	return &Store{
		Store: sqlstore.New(drv, Dialect()),
		db:    db,
		sdb:   drv.sdb,
	}
}

// Dialect describes SQLite to the shared SQL store.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:         "sqlite",
		SingleWriter: true,
		Classify:     classify,
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("betledger/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("betledger/sqlite: migration failed: %w", err)
	}
	return nil
}

func classify(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	code := se.Code()
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %w", betledger.ErrConflict, err)
	case sqlite3.SQLITE_CONSTRAINT:
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			strings.Contains(se.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %w", betledger.ErrAlreadyExists, err)
		}
	}
	return err
}
