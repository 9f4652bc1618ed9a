package entry

import (
	"sort"
	"time"

	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/types"
)

// Imbalance returns, per currency, the amount by which credits exceed
// debits. A balanced set of legs yields an empty map.
func Imbalance(legs []Leg) map[string]int64 {
	net := make(map[string]int64)
	for _, l := range legs {
		switch l.Direction {
		case Debit:
			net[l.Amount.Currency] -= l.Amount.Amount
		case Credit:
			net[l.Amount.Currency] += l.Amount.Amount
		}
	}
	for cur, v := range net {
		if v == 0 {
			delete(net, cur)
		}
	}
	return net
}

// Reverse mirrors legs so that posting them cancels the original
// transaction. Each mirrored leg keeps the bucket of the leg it undoes.
func Reverse(legs []Leg) []Leg {
	out := make([]Leg, 0, len(legs))
	for _, l := range legs {
		out = append(out, Leg{AccountID: l.AccountID, Direction: l.Direction.Opposite(), Amount: l.Amount, Bucket: l.Bucket})
	}
	return out
}

// AccountIDs returns the distinct accounts touched by legs in ascending
// order. Locks are always taken in this order.
func AccountIDs(legs []Leg) []id.AccountID {
	seen := make(map[string]id.AccountID, len(legs))
	for _, l := range legs {
		seen[l.AccountID.String()] = l.AccountID
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]id.AccountID, 0, len(keys))
	for _, k := range keys {
		out = append(out, seen[k])
	}
	return out
}

// ApplyTo folds the entry into the account's balance projection and stamps
// the resulting signed balance on the entry.
func (e *Entry) ApplyTo(b *account.Balance, at time.Time) {
	pending := e.Bucket == BucketPending
	if e.Direction == Debit {
		b.Debit(e.Amount, pending, at)
	} else {
		b.Credit(e.Amount, pending, at)
	}
	e.BalanceAfter = b.Total()
}

// Replay folds entries into totals the same way the projection does.
func Replay(entries []*Entry) Totals {
	var t Totals
	txs := make(map[string]struct{})
	for _, e := range entries {
		t.Signed += e.Signed().Amount
		if e.Direction == Debit {
			t.Debits += e.Amount.Amount
		} else {
			t.Credits += e.Amount.Amount
		}
		t.Entries++
		txs[e.TransactionID.String()] = struct{}{}
	}
	t.Transactions = int64(len(txs))
	return t
}

// Money returns the signed total as Money in currency.
func (t Totals) Money(currency string) types.Money {
	return types.New(t.Signed, currency)
}
