// Package postgres is the PostgreSQL store.Store, built on the grove
// pgdriver. Units of work run at SERIALIZABLE isolation with row locks taken
// through SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate" // registers the "pg" migration executor
	"github.com/xraph/grove/migrate"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/store"
	"github.com/xraph/betledger/store/sqlstore"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// PostgreSQL error codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	*sqlstore.Store
	db *grove.DB
	pg *pgdriver.PgDB
}

// Open connects to dsn through pgdriver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pgdb := pgdriver.New()
	if err := pgdb.Open(ctx, dsn); err != nil {
		return nil, fmt.Errorf("betledger/postgres: open: %w", err)
	}
	db, err := grove.Open(pgdb)
	if err != nil {
		_ = pgdb.Close()
		return nil, fmt.Errorf("betledger/postgres: open: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("betledger/postgres: ping: %w", err)
	}
	return New(db), nil
}

// New creates a PostgreSQL store on a grove database opened with pgdriver.
func New(db *grove.DB) *Store {
	drv := newDriverConn(db)
	return &Store{
		Store: sqlstore.New(drv, Dialect()),
		db:    db,
		pg:    drv.pgdb,
	}
}

// Dialect describes PostgreSQL to the shared SQL store.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:     "postgres",
		Classify: classify,
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("betledger/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("betledger/postgres: migration failed: %w", err)
	}
	return nil
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %w", betledger.ErrAlreadyExists, err)
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %w", betledger.ErrConflict, err)
	}
	return err
}
