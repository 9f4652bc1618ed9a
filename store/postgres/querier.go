package postgres

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/pgdriver"

	"github.com/xraph/betledger/store/sqlstore"
)

// builder is satisfied by both *pgdriver.PgDB and *pgdriver.PgTx.
type builder interface {
	NewSelect(model ...any) *pgdriver.SelectQuery
	NewInsert(model any) *pgdriver.InsertQuery
	NewUpdate(model any) *pgdriver.UpdateQuery
	NewRaw(query string, args ...any) *pgdriver.RawQuery
}

// querier runs sqlstore queries through the pgdriver builders.
type querier struct {
	b builder
}

// numbered rewrites ? placeholders to $n, continuing from *n. SELECT and
// raw clauses reach PostgreSQL verbatim, so they need explicit positions.
func numbered(expr string, n *int) string {
	if !strings.Contains(expr, "?") {
		return expr
	}
	var sb strings.Builder
	sb.Grow(len(expr) + 4)
	for _, r := range expr {
		if r == '?' {
			*n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(*n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (q querier) selectQuery(model any, where []sqlstore.Clause) *pgdriver.SelectQuery {
	sel := q.b.NewSelect(model)
	n := 0
	for _, c := range where {
		sel = sel.Where(numbered(c.Expr, &n), c.Args...)
	}
	return sel
}

func (q querier) Select(ctx context.Context, dest any, sq sqlstore.Query) error {
	sel := q.selectQuery(dest, sq.Where)
	if sq.Order != "" {
		sel = sel.OrderExpr(sq.Order)
	}
	if sq.Limit > 0 {
		sel = sel.Limit(sq.Limit)
	}
	if sq.Offset > 0 {
		sel = sel.Offset(sq.Offset)
	}
	if sq.Lock {
		sel = sel.ForUpdate()
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
	n := 0
	return q.b.NewRaw(numbered(query, &n), args...).Scan(ctx, dest...)
}

// driverConn is the pool side handed to sqlstore.
type driverConn struct {
	querier
	db   *grove.DB
	pgdb *pgdriver.PgDB
}

func newDriverConn(db *grove.DB) *driverConn {
	pgdb := pgdriver.Unwrap(db)
	return &driverConn{querier: querier{b: pgdb}, db: db, pgdb: pgdb}
}

// Begin opens a SERIALIZABLE transaction.
func (d *driverConn) Begin(ctx context.Context) (sqlstore.TxQuerier, error) {
	tx, err := d.pgdb.BeginTxQuery(ctx, &driver.TxOptions{IsolationLevel: driver.LevelSerializable})
	if err != nil {
		return nil, err
	}
	return &txConn{querier: querier{b: tx}, tx: tx}, nil
}

func (d *driverConn) Ping(ctx context.Context) error { return d.db.Ping(ctx) }

func (d *driverConn) Close() error { return d.db.Close() }

type txConn struct {
	querier
	tx *pgdriver.PgTx
}

func (t *txConn) Commit() error { return t.tx.Commit() }

func (t *txConn) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}
