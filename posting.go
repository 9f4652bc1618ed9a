package betledger

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/store"
	"github.com/xraph/betledger/types"
)

// postRequest is one balanced transaction to commit.
type postRequest struct {
	TenantID   string
	Key        string
	Type       entry.Type
	Reference  string
	ReversalOf id.TransactionID
	Metadata   map[string]string
	Legs       []entry.Leg
	// Shortfall is the resource error reported when a debit would overdraw
	// an account. Defaults to ErrInsufficientFunds.
	Shortfall error
}

func validateLegs(legs []entry.Leg) error {
	if len(legs) < 2 {
		return ValidationError{Field: "legs", Message: "a transaction needs at least two legs"}
	}
	for i, leg := range legs {
		if leg.AccountID.IsNil() {
			return ValidationError{Field: fmt.Sprintf("legs[%d].account_id", i), Message: "is required"}
		}
		if !leg.Direction.IsValid() {
			return ValidationError{Field: fmt.Sprintf("legs[%d].direction", i), Message: "must be debit or credit"}
		}
		if leg.Bucket != "" && leg.Bucket != entry.BucketAvailable && leg.Bucket != entry.BucketPending {
			return ValidationError{Field: fmt.Sprintf("legs[%d].bucket", i), Message: "must be available or pending"}
		}
		if !leg.Amount.IsPositive() {
			return fmt.Errorf("%w: legs[%d] amount %s", ErrInvalidAmount, i, leg.Amount)
		}
	}
	if net := entry.Imbalance(legs); len(net) > 0 {
		return fmt.Errorf("%w: net %v", ErrUnbalancedTransaction, net)
	}
	return nil
}

// post validates and commits req inside tx, applying every leg to the
// locked balance projections. A reused key returns the committed
// transaction together with ErrDuplicateTransaction.
func (l *Ledger) post(ctx context.Context, tx store.Tx, u *unit, req postRequest) (*entry.Transaction, error) {
	if req.Key == "" {
		return nil, ErrMissingIdempotencyKey
	}
	if err := validateLegs(req.Legs); err != nil {
		return nil, err
	}

	existing, err := tx.GetTransactionByKey(ctx, req.TenantID, req.Key)
	if err == nil {
		return existing, fmt.Errorf("%w: key %q is transaction %s", ErrDuplicateTransaction, req.Key, existing.ID)
	}
	if !errors.Is(err, ErrTransactionNotFound) {
		return nil, err
	}

	ids := entry.AccountIDs(req.Legs)
	accounts := make(map[string]*account.Account, len(ids))
	for _, aid := range ids {
		a, err := tx.GetAccount(ctx, aid)
		if err != nil {
			return nil, err
		}
		if !a.VisibleTo(req.TenantID) {
			return nil, fmt.Errorf("%w: account %s", ErrTenantMismatch, aid)
		}
		if !a.IsActive() {
			return nil, fmt.Errorf("%w: account %s is %s", ErrAccountNotActive, aid, a.Status)
		}
		accounts[aid.String()] = a
	}
	for i, leg := range req.Legs {
		if a := accounts[leg.AccountID.String()]; a.Currency != leg.Amount.Currency {
			return nil, fmt.Errorf("%w: legs[%d] is %s, account %s holds %s",
				ErrCurrencyMismatch, i, leg.Amount.Currency, a.ID, a.Currency)
		}
	}

	balances, err := tx.LockBalances(ctx, ids)
	if err != nil {
		return nil, err
	}
	before := make(map[string]account.Balance, len(balances))
	for k, b := range balances {
		before[k] = *b
	}

	now := l.now()
	txn := &entry.Transaction{
		ID:             id.NewTransactionID(),
		TenantID:       req.TenantID,
		IdempotencyKey: req.Key,
		Type:           req.Type,
		Reference:      req.Reference,
		ReversalOf:     req.ReversalOf,
		Metadata:       maps.Clone(req.Metadata),
		CreatedAt:      now,
	}
	debited := make(map[string]types.Money)
	for _, leg := range req.Legs {
		bucket := leg.Bucket
		if bucket == "" {
			bucket = entry.BucketAvailable
		}
		e := &entry.Entry{
			ID:            id.NewEntryID(),
			TransactionID: txn.ID,
			TenantID:      req.TenantID,
			AccountID:     leg.AccountID,
			Direction:     leg.Direction,
			Amount:        leg.Amount,
			Bucket:        bucket,
			Type:          req.Type,
			Reference:     req.Reference,
			CreatedAt:     now,
		}
		e.ApplyTo(balances[leg.AccountID.String()], now)
		txn.Entries = append(txn.Entries, e)

		if leg.Direction == entry.Debit {
			k := leg.AccountID.String()
			if d, ok := debited[k]; ok {
				debited[k] = d.Add(leg.Amount)
			} else {
				debited[k] = leg.Amount
			}
		}
	}

	shortfall := req.Shortfall
	if shortfall == nil {
		shortfall = ErrInsufficientFunds
	}
	for _, aid := range ids {
		k := aid.String()
		b := balances[k]
		b.CountTransaction()
		if accounts[k].OwnerType.AllowsOverdraft() {
			continue
		}
		if b.Available.IsNegative() || b.Pending.IsNegative() {
			prev := before[k]
			available := prev.Available
			if b.Pending.IsNegative() {
				available = prev.Pending
			}
			return nil, &BalanceError{
				Err:       shortfall,
				AccountID: aid,
				Available: available,
				Requested: debited[k],
			}
		}
	}

	if err := tx.InsertTransaction(ctx, txn); err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			// A concurrent writer committed the key first; the retry replays it.
			return nil, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return nil, err
	}
	for _, aid := range ids {
		if err := tx.SaveBalance(ctx, balances[aid.String()]); err != nil {
			return nil, err
		}
	}

	u.onCommit(func(ctx context.Context) {
		l.plugins.EmitTransactionPosted(ctx, txn)
	})
	return txn, nil
}

// replay returns the transaction already committed under key, if any.
func replay(ctx context.Context, r store.Reader, tenantID, key string) (*entry.Transaction, bool, error) {
	t, err := r.GetTransactionByKey(ctx, tenantID, key)
	if errors.Is(err, ErrTransactionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}
