// Package mongo is the MongoDB store.Store. Units of work run as
// multi-document transactions, so the deployment must be a replica set or
// a sharded cluster. Documents are locked by bumping their lock_seq field,
// which makes concurrent writers to the same document conflict.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/store"
)

// Collection name constants.
const (
	colAccounts     = "betledger_accounts"
	colBalances     = "betledger_balances"
	colFloatLines   = "betledger_float_lines"
	colTransactions = "betledger_transactions"
	colEntries      = "betledger_entries"
	colBets         = "betledger_bets"
	colCommissions  = "betledger_commissions"
	colPolicies     = "betledger_policies"
)

// codeWriteConflict is returned when two transactions touch one document.
const codeWriteConflict = 112

// compile-time interface check
var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*tx)(nil)
)

// Store implements store.Store using MongoDB.
type Store struct {
	conn
	grove  *grove.DB
	client *mongo.Client

	mu     sync.Mutex
	closed bool
}

// conn runs operations against the database. Inside RunInTx the context
// carries the session, so the same methods join the transaction.
type conn struct {
	db *mongo.Database
}

func (c *conn) col(name string) *mongo.Collection { return c.db.Collection(name) }

// New creates a MongoDB store on a grove handle.
func New(db *grove.DB) *Store {
	mdb := mongodriver.Unwrap(db).Collection(colAccounts).Database()
	return &Store{conn: conn{db: mdb}, grove: db, client: mdb.Client()}
}

// Open connects to uri and uses the named database.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("betledger/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("betledger/mongo: ping: %w", err)
	}
	return &Store{conn: conn{db: client.Database(database)}, client: client}, nil
}

// DB returns the underlying grove database, or nil when opened by URI.
func (s *Store) DB() *grove.DB { return s.grove }

// Database returns the mongo database the store writes to.
func (s *Store) Database() *mongo.Database { return s.db }

// RunInTx runs fn inside a session transaction. The driver retries fn on
// transient transaction errors before giving up with a conflict.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return wrap("start session", err)
	}
	defer sess.EndSession(context.Background())

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx, &tx{conn: s.conn})
	})
	if err != nil {
		var se mongo.ServerError
		if errors.As(err, &se) || errors.Is(err, mongo.ErrClientDisconnected) {
			return wrap("transaction", err)
		}
		return err
	}
	return nil
}

// Migrate creates indexes for all betledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.col(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("betledger/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return betledger.ErrStoreClosed
	}
	if s.grove != nil {
		return s.grove.Ping(ctx)
	}
	return wrap("ping", s.client.Ping(ctx, nil))
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.grove != nil {
		return s.grove.Close()
	}
	return s.client.Disconnect(context.Background())
}

// classify maps driver errors onto betledger sentinels. Duplicate keys only
// reach the driver when a concurrent writer slipped past the in-transaction
// existence check, so they are conflicts.
func classify(err error) error {
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return betledger.ErrStoreClosed
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", betledger.ErrConflict, err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorLabel("TransientTransactionError") || se.HasErrorCode(codeWriteConflict)) {
		return fmt.Errorf("%w: %w", betledger.ErrConflict, err)
	}
	return err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("betledger/mongo: %s: %w", op, classify(err))
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// notFound maps a missing document to sentinel and wraps anything else.
func notFound(op string, err, sentinel error) error {
	if isNoDocuments(err) {
		return sentinel
	}
	return wrap(op, err)
}

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colAccounts: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "owner_type", Value: 1}, {Key: "owner_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "status", Value: 1}}},
		},
		colFloatLines: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "agent_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colTransactions: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "reversal_of", Value: 1}}},
		},
		colEntries: {
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "transaction_id", Value: 1}, {Key: "seq", Value: 1}}},
		},
		colBets: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "player_id", Value: 1}}},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "agent_id", Value: 1}, {Key: "settled_at", Value: 1}}},
		},
		colCommissions: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "settlement_key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "agent_id", Value: 1}, {Key: "period_start", Value: 1}}},
		},
		colPolicies: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "version", Value: -1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}
