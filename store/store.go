// Package store defines the persistence contract for betledger. Reads go
// through Reader; every mutation happens inside Store.RunInTx, whose Tx
// locks the rows it is about to change so that balance checks and the
// writes that depend on them are serialized.
package store

import (
	"context"
	"time"

	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/bet"
	"github.com/xraph/betledger/commission"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/policy"
)

// Reader is the read side shared by the store and its transactions.
type Reader interface {
	// Account methods
	GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error)
	FindAccount(ctx context.Context, tenantID string, ownerType account.OwnerType, ownerID string) (*account.Account, error)
	ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error)
	GetBalance(ctx context.Context, accountID id.AccountID) (*account.Balance, error)
	GetFloatLine(ctx context.Context, tenantID, agentID string) (*account.FloatLine, error)

	// Ledger methods
	GetTransaction(ctx context.Context, txID id.TransactionID) (*entry.Transaction, error)
	GetTransactionByKey(ctx context.Context, tenantID, key string) (*entry.Transaction, error)
	// QueryEntries returns entries newest first.
	QueryEntries(ctx context.Context, filter entry.Filter, page entry.Page) ([]*entry.Entry, error)
	// ReplayAccount folds every entry of the account, ignoring the projection.
	ReplayAccount(ctx context.Context, accountID id.AccountID) (entry.Totals, error)

	// Bet methods
	GetBet(ctx context.Context, betID id.BetID) (*bet.Bet, error)
	GetBetByKey(ctx context.Context, tenantID, key string) (*bet.Bet, error)
	ListBets(ctx context.Context, opts bet.ListOpts) ([]*bet.Bet, error)
	// AgentActivity aggregates won and lost bets placed through an agent and
	// settled within [from, to).
	AgentActivity(ctx context.Context, tenantID string, from, to time.Time) ([]commission.Activity, error)

	// Commission methods
	GetCommission(ctx context.Context, commissionID id.CommissionID) (*commission.Settlement, error)
	FindCommissionByKey(ctx context.Context, tenantID, key string) (*commission.Settlement, error)
	ListCommissions(ctx context.Context, opts commission.ListOpts) ([]*commission.Settlement, error)

	// Policy methods
	// GetPolicy returns the latest version effective at asOf.
	GetPolicy(ctx context.Context, tenantID string, asOf time.Time) (*policy.Policy, error)
	GetPolicyVersion(ctx context.Context, tenantID string, version int) (*policy.Policy, error)
	LatestPolicyVersion(ctx context.Context, tenantID string) (int, error)
	ListPolicyTenants(ctx context.Context) ([]string, error)
}

// Tx is a unit of work. Lock* methods take row locks held until the
// transaction ends.
type Tx interface {
	Reader

	// CreateAccount inserts the account with a zero balance.
	CreateAccount(ctx context.Context, a *account.Account) error
	UpdateAccountStatus(ctx context.Context, accountID id.AccountID, status account.Status, at time.Time) error
	// LockBalances locks balance rows in ascending account id order.
	LockBalances(ctx context.Context, accountIDs []id.AccountID) (map[string]*account.Balance, error)
	SaveBalance(ctx context.Context, b *account.Balance) error

	CreateFloatLine(ctx context.Context, f *account.FloatLine) error
	LockFloatLine(ctx context.Context, tenantID, agentID string) (*account.FloatLine, error)
	SaveFloatLine(ctx context.Context, f *account.FloatLine) error

	// InsertTransaction persists the transaction and its entries. A reused
	// idempotency key fails with a duplicate error.
	InsertTransaction(ctx context.Context, t *entry.Transaction) error

	CreateBet(ctx context.Context, b *bet.Bet) error
	LockBet(ctx context.Context, betID id.BetID) (*bet.Bet, error)
	// UpdateBet writes b only if its stored status is still from.
	UpdateBet(ctx context.Context, b *bet.Bet, from bet.Status) error

	CreateCommission(ctx context.Context, c *commission.Settlement) error
	LockCommission(ctx context.Context, commissionID id.CommissionID) (*commission.Settlement, error)
	UpdateCommission(ctx context.Context, c *commission.Settlement, from commission.Status) error

	CreatePolicy(ctx context.Context, p *policy.Policy) error
}

// Store is the unified storage interface for all betledger entities.
type Store interface {
	Reader

	// RunInTx runs fn in one atomic unit of work. If fn returns an error,
	// nothing it wrote is kept. Lost serialization races surface as a
	// conflict error.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
