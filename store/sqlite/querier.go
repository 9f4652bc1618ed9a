package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"math"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/betledger/store/sqlstore"
)

// builder is satisfied by both *sqlitedriver.SqliteDB and
// *sqlitedriver.SqliteTx.
type builder interface {
	NewSelect(model ...any) *sqlitedriver.SelectQuery
	NewInsert(model any) *sqlitedriver.InsertQuery
	NewUpdate(model any) *sqlitedriver.UpdateQuery
	NewRaw(query string, args ...any) *sqlitedriver.RawQuery
}

// querier runs sqlstore queries through the sqlitedriver builders. SQLite
// takes ? placeholders as they are.
type querier struct {
	b builder
}

func (q querier) selectQuery(model any, where []sqlstore.Clause) *sqlitedriver.SelectQuery {
	sel := q.b.NewSelect(model)
	for _, c := range where {
		sel = sel.Where(c.Expr, c.Args...)
	}
	return sel
}

// Select ignores sq.Lock: writers are already serialized by the store.
func (q querier) Select(ctx context.Context, dest any, sq sqlstore.Query) error {
	sel := q.selectQuery(dest, sq.Where)
	if sq.Order != "" {
		sel = sel.OrderExpr(sq.Order)
	}
	switch {
	case sq.Limit > 0:
		sel = sel.Limit(sq.Limit)
	case sq.Offset > 0:
		// SQLite rejects OFFSET without LIMIT.
		sel = sel.Limit(math.MaxInt32)
	}
	if sq.Offset > 0 {
		sel = sel.Offset(sq.Offset)
	}
	return sel.Scan(ctx)
}

func (q querier) Count(ctx context.Context, model any, where ...sqlstore.Clause) (int64, error) {
	return q.selectQuery(model, where).Count(ctx)
}

func (q querier) Insert(ctx context.Context, model any) error {
	_, err := q.b.NewInsert(model).Exec(ctx)
	return err
}

func (q querier) Update(ctx context.Context, model any, columns []string, where ...sqlstore.Clause) (int64, error) {
	upd := q.b.NewUpdate(model).Column(columns...)
	for _, c := range where {
		upd = upd.Where(c.Expr, c.Args...)
	}
	res, err := upd.Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q querier) Raw(ctx context.Context, query string, args []any, dest ...any) error {
	return q.b.NewRaw(query, args...).Scan(ctx, dest...)
}

// driverConn is the pool side handed to sqlstore.
type driverConn struct {
	querier
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

func newDriverConn(db *grove.DB) *driverConn {
	sdb := sqlitedriver.Unwrap(db)
	return &driverConn{querier: querier{b: sdb}, db: db, sdb: sdb}
}

func (d *driverConn) Begin(ctx context.Context) (sqlstore.TxQuerier, error) {
	tx, err := d.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &txConn{querier: querier{b: tx}, tx: tx}, nil
}

func (d *driverConn) Ping(ctx context.Context) error { return d.db.Ping(ctx) }

func (d *driverConn) Close() error { return d.db.Close() }

type txConn struct {
	querier
	tx *sqlitedriver.SqliteTx
}

func (t *txConn) Commit() error { return t.tx.Commit() }

func (t *txConn) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
