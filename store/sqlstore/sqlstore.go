// Package sqlstore implements store.Store on top of a grove SQL driver. The
// postgres and sqlite packages supply a Driver that runs the builder
// queries for their backend; row locks, isolation and error codes stay
// with them.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xraph/grove"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/store"
)

// Compile-time interface checks. store.Store is asserted by the postgres
// and sqlite wrappers, which supply Migrate.
var (
	_ store.Tx = (*tx)(nil)
)

// Clause is one WHERE predicate. Expr uses ? placeholders.
type Clause struct {
	Expr string
	Args []any
}

// Where builds a Clause.
func Where(expr string, args ...any) Clause {
	return Clause{Expr: expr, Args: args}
}

// Query describes a SELECT over one model table.
type Query struct {
	Where []Clause
	Order string
	// Limit of zero means every row.
	Limit  int
	Offset int
	// Lock takes row locks held until the transaction ends. Backends that
	// serialize writers some other way ignore it.
	Lock bool
}

// Querier runs builder queries either on the pool or inside a transaction.
type Querier interface {
	// Select scans into dest, a model pointer for one row or a pointer to
	// a model slice for many. A missing single row yields sql.ErrNoRows.
	Select(ctx context.Context, dest any, q Query) error
	Count(ctx context.Context, model any, where ...Clause) (int64, error)
	Insert(ctx context.Context, model any) error
	// Update writes columns of model to the rows matching where and returns
	// the number of rows changed.
	Update(ctx context.Context, model any, columns []string, where ...Clause) (int64, error)
	// Raw runs an aggregate query. Placeholders are ?.
	Raw(ctx context.Context, query string, args []any, dest ...any) error
}

// TxQuerier is a Querier bound to one open transaction.
type TxQuerier interface {
	Querier
	Commit() error
	// Rollback returns nil once the transaction has finished.
	Rollback() error
}

// Driver is the pool side of one grove database.
type Driver interface {
	Querier
	// Begin opens a transaction at the backend's unit of work isolation.
	Begin(ctx context.Context) (TxQuerier, error)
	Ping(ctx context.Context) error
	Close() error
}

// Dialect describes one SQL backend.
type Dialect struct {
	// Name prefixes wrapped errors, e.g. "postgres".
	Name string
	// SingleWriter serializes RunInTx inside the process.
	SingleWriter bool
	// Classify maps driver errors onto betledger sentinels. It returns
	// ErrAlreadyExists for unique violations and ErrConflict for
	// serialization failures, deadlocks and busy databases.
	Classify func(error) error
}

func (d *Dialect) classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, grove.ErrDriverClosed) {
		return betledger.ErrStoreClosed
	}
	if d.Classify == nil {
		return err
	}
	return d.Classify(err)
}

func (d *Dialect) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("betledger/%s: %s: %w", d.Name, op, d.classify(err))
}

// Store implements store.Store over a Driver. Reads run against the pool.
type Store struct {
	conn
	drv     Driver
	dialect *Dialect
	writeMu sync.Mutex
	closeMu sync.RWMutex
	closed  bool
}

// New wraps drv.
func New(drv Driver, d Dialect) *Store {
	return &Store{conn: conn{q: drv, d: &d}, drv: drv, dialect: &d}
}

// Dialect returns the dialect the store was opened with.
func (s *Store) Dialect() Dialect { return *s.dialect }

func (s *Store) isClosed() bool {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	return s.closed
}

// RunInTx runs fn inside one database transaction. A failed commit or a
// serialization failure anywhere in fn surfaces as betledger.ErrConflict.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if s.isClosed() {
		return betledger.ErrStoreClosed
	}
	if s.dialect.SingleWriter {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}

	txq, err := s.drv.Begin(ctx)
	if err != nil {
		return s.dialect.wrap("begin", err)
	}
	t := &tx{conn: conn{q: txq, d: s.dialect}}

	if err := fn(ctx, t); err != nil {
		if rbErr := txq.Rollback(); rbErr != nil {
			return errors.Join(err, s.dialect.wrap("rollback", rbErr))
		}
		return err
	}
	if err := txq.Commit(); err != nil {
		return s.dialect.wrap("commit", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.isClosed() {
		return betledger.ErrStoreClosed
	}
	return s.dialect.wrap("ping", s.drv.Ping(ctx))
}

// Close closes the database handle. Closing twice is a no-op.
func (s *Store) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.drv.Close(); err != nil && !errors.Is(err, grove.ErrDriverClosed) {
		return err
	}
	return nil
}
