package account

import (
	"time"

	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/types"
)

// Balance is the materialized projection of an account's ledger entries.
// Available + Pending + Locked always equals the signed sum of the entries;
// the ledger stays the source of truth.
type Balance struct {
	AccountID    id.AccountID `json:"account_id"`
	Available    types.Money  `json:"available"`
	Pending      types.Money  `json:"pending"`
	Locked       types.Money  `json:"locked"`
	TotalDebits  types.Money  `json:"total_debits"`
	TotalCredits types.Money  `json:"total_credits"`
	TxCount      int64        `json:"tx_count"`
	Version      int64        `json:"version"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// NewBalance returns the empty projection for a freshly created account.
func NewBalance(accountID id.AccountID, currency string, at time.Time) *Balance {
	zero := types.Zero(currency)
	return &Balance{
		AccountID:    accountID,
		Available:    zero,
		Pending:      zero,
		Locked:       zero,
		TotalDebits:  zero,
		TotalCredits: zero,
		UpdatedAt:    at.UTC(),
	}
}

// Total is the signed balance across all buckets.
func (b *Balance) Total() types.Money {
	return b.Available.Add(b.Pending).Add(b.Locked)
}

// Debit applies a debit leg, drawing from Pending when pending is set.
func (b *Balance) Debit(amount types.Money, pending bool, at time.Time) {
	if pending {
		b.Pending = b.Pending.Subtract(amount)
	} else {
		b.Available = b.Available.Subtract(amount)
	}
	b.TotalDebits = b.TotalDebits.Add(amount)
	b.touch(at)
}

// Credit applies a credit leg, into Pending when pending is set.
func (b *Balance) Credit(amount types.Money, pending bool, at time.Time) {
	if pending {
		b.Pending = b.Pending.Add(amount)
	} else {
		b.Available = b.Available.Add(amount)
	}
	b.TotalCredits = b.TotalCredits.Add(amount)
	b.touch(at)
}

// Release moves amount from Pending to Available. The total is unchanged.
// It reports false when Pending does not hold amount.
func (b *Balance) Release(amount types.Money, at time.Time) bool {
	if b.Pending.LessThan(amount) {
		return false
	}
	b.Pending = b.Pending.Subtract(amount)
	b.Available = b.Available.Add(amount)
	b.touch(at)
	return true
}

// CountTransaction records one more transaction touching the account.
func (b *Balance) CountTransaction() { b.TxCount++ }

func (b *Balance) touch(at time.Time) {
	b.Version++
	b.UpdatedAt = at.UTC()
}

// Reconciliation is the outcome of replaying an account's ledger against
// its projection.
type Reconciliation struct {
	AccountID    id.AccountID `json:"account_id"`
	TenantID     string       `json:"tenant_id,omitempty"`
	Projected    types.Money  `json:"projected"`
	Replayed     types.Money  `json:"replayed"`
	Difference   types.Money  `json:"difference"`
	TotalDebits  types.Money  `json:"total_debits"`
	TotalCredits types.Money  `json:"total_credits"`
	EntryCount   int64        `json:"entry_count"`
	Diverged     bool         `json:"diverged"`
	Frozen       bool         `json:"frozen"`
	CheckedAt    time.Time    `json:"checked_at"`
}

// Reconcile compares the projection against a replayed signed total.
// Differences up to tolerance minor units are accepted.
func Reconcile(b *Balance, replayed types.Money, tolerance int64, at time.Time) *Reconciliation {
	projected := b.Total()
	diff := replayed.Subtract(projected)
	return &Reconciliation{
		AccountID:  b.AccountID,
		Projected:  projected,
		Replayed:   replayed,
		Difference: diff,
		Diverged:   diff.Abs().Amount > tolerance,
		CheckedAt:  at.UTC(),
	}
}
