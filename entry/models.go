// Package entry defines ledger entries and the balanced transactions that
// group them.
package entry

import (
	"time"

	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/types"
)

type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

func (d Direction) IsValid() bool { return d == Debit || d == Credit }

// Opposite returns the mirrored direction, used by reversals.
func (d Direction) Opposite() Direction {
	if d == Debit {
		return Credit
	}
	return Debit
}

// Bucket selects the balance bucket a credit lands in.
type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketPending   Bucket = "pending"
)

type Type string

const (
	TypeStake                Type = "stake"
	TypePayout               Type = "payout"
	TypeRefund               Type = "refund"
	TypeFloatTopup           Type = "float_topup"
	TypeFloatAllocation      Type = "float_allocation"
	TypeFloatReturn          Type = "float_return"
	TypeCashIn               Type = "cash_in"
	TypeWithdrawal           Type = "withdrawal"
	TypeCommission           Type = "commission"
	TypeCommissionWithdrawal Type = "commission_withdrawal"
	TypeVoidReversal         Type = "void_reversal"
	TypeAdjustment           Type = "adjustment"
)

// Leg is one side of a transaction as submitted for posting.
type Leg struct {
	AccountID id.AccountID `json:"account_id"`
	Direction Direction    `json:"direction"`
	Amount    types.Money  `json:"amount"`
	Bucket    Bucket       `json:"bucket,omitempty"`
}

// DebitLeg is shorthand for a debit of amount from account.
func DebitLeg(account id.AccountID, amount types.Money) Leg {
	return Leg{AccountID: account, Direction: Debit, Amount: amount}
}

// CreditLeg is shorthand for a credit of amount to account.
func CreditLeg(account id.AccountID, amount types.Money) Leg {
	return Leg{AccountID: account, Direction: Credit, Amount: amount}
}

// Entry is the immutable record of one leg once committed.
type Entry struct {
	ID            id.EntryID       `json:"id"`
	TransactionID id.TransactionID `json:"transaction_id"`
	TenantID      string           `json:"tenant_id"`
	AccountID     id.AccountID     `json:"account_id"`
	Direction     Direction        `json:"direction"`
	Amount        types.Money      `json:"amount"`
	Bucket        Bucket           `json:"bucket"`
	Type          Type             `json:"type"`
	Reference     string           `json:"reference,omitempty"`
	BalanceAfter  types.Money      `json:"balance_after"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Signed returns the amount as it affects the account: credits increase
// and debits decrease.
func (e *Entry) Signed() types.Money {
	if e.Direction == Debit {
		return e.Amount.Negate()
	}
	return e.Amount
}

// Transaction is one atomic, balanced group of entries.
type Transaction struct {
	ID             id.TransactionID  `json:"id"`
	TenantID       string            `json:"tenant_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Type           Type              `json:"type"`
	Reference      string            `json:"reference,omitempty"`
	ReversalOf     id.TransactionID  `json:"reversal_of,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Entries        []*Entry          `json:"entries"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Legs returns the transaction's entries as postable legs.
func (t *Transaction) Legs() []Leg {
	legs := make([]Leg, 0, len(t.Entries))
	for _, e := range t.Entries {
		legs = append(legs, Leg{AccountID: e.AccountID, Direction: e.Direction, Amount: e.Amount, Bucket: e.Bucket})
	}
	return legs
}

// EntryFor returns the first entry touching account, or nil.
func (t *Transaction) EntryFor(account id.AccountID) *Entry {
	for _, e := range t.Entries {
		if e.AccountID == account {
			return e
		}
	}
	return nil
}

// Filter narrows a ledger query. TenantID is mandatory.
type Filter struct {
	TenantID      string
	AccountID     id.AccountID
	TransactionID id.TransactionID
	Type          Type
	Reference     string
	From          time.Time
	To            time.Time
}

// Page bounds a ledger query.
type Page struct {
	Limit  int
	Offset int
}

// Totals is the result of replaying every entry of one account.
type Totals struct {
	Signed       int64
	Debits       int64
	Credits      int64
	Entries      int64
	Transactions int64
}
