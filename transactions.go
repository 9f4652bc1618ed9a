package betledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/betledger/authz"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/store"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// PostTransactionInput is a manual balanced posting.
type PostTransactionInput struct {
	TenantID       string            `json:"tenant_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Type           entry.Type        `json:"type"`
	Reference      string            `json:"reference,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Legs           []entry.Leg       `json:"legs"`
}

// PostTransaction commits a balanced set of two or more legs atomically.
// If the idempotency key was already used, the committed transaction is
// returned together with ErrDuplicateTransaction.
func (l *Ledger) PostTransaction(ctx context.Context, actor authz.Actor, in PostTransactionInput) (*entry.Transaction, error) {
	if err := l.authorize(ctx, actor, authz.CanPostTransaction, in.TenantID); err != nil {
		return nil, err
	}
	if in.Type == "" {
		in.Type = entry.TypeAdjustment
	}
	meta := cloneMeta(in.Metadata)
	meta["initiated_by"] = actor.UserID

	var txn *entry.Transaction
	err := l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		var err error
		txn, err = l.post(ctx, tx, u, postRequest{
			TenantID:  in.TenantID,
			Key:       in.IdempotencyKey,
			Type:      in.Type,
			Reference: in.Reference,
			Metadata:  meta,
			Legs:      in.Legs,
		})
		return err
	})
	if err != nil && !errors.Is(err, ErrDuplicateTransaction) {
		return nil, err
	}
	return txn, err
}

// ReverseTransactionInput identifies a transaction to reverse.
type ReverseTransactionInput struct {
	TenantID      string           `json:"tenant_id"`
	TransactionID id.TransactionID `json:"transaction_id"`
	Reason        string           `json:"reason"`
}

// ReverseTransaction posts the mirror image of a transaction. Entries are
// never edited; a transaction can be reversed once.
func (l *Ledger) ReverseTransaction(ctx context.Context, actor authz.Actor, in ReverseTransactionInput) (*entry.Transaction, error) {
	if err := l.authorize(ctx, actor, authz.CanReverseTransaction, in.TenantID); err != nil {
		return nil, err
	}
	if in.Reason == "" {
		return nil, ErrReasonRequired
	}

	var reversal *entry.Transaction
	err := l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		original, err := tx.GetTransaction(ctx, in.TransactionID)
		if err != nil {
			return err
		}
		if err := checkTenant(original.TenantID, in.TenantID); err != nil {
			return err
		}
		reversal, err = l.reverse(ctx, tx, u, original, original.Legs(), in.Reason, actor.UserID)
		return err
	})
	return reversal, err
}

// reverse posts legs as the reversal of original.
func (l *Ledger) reverse(ctx context.Context, tx store.Tx, u *unit, original *entry.Transaction, legs []entry.Leg, reason, by string) (*entry.Transaction, error) {
	if !original.ReversalOf.IsNil() {
		return nil, ValidationError{Field: "transaction_id", Message: "a reversal cannot itself be reversed"}
	}
	reversal, err := l.post(ctx, tx, u, postRequest{
		TenantID:   original.TenantID,
		Key:        reversalKey(original.ID),
		Type:       entry.TypeVoidReversal,
		Reference:  original.Reference,
		ReversalOf: original.ID,
		Metadata: map[string]string{
			"reason":        reason,
			"initiated_by":  by,
			"original_type": string(original.Type),
		},
		Legs: entry.Reverse(legs),
	})
	if errors.Is(err, ErrDuplicateTransaction) {
		return nil, fmt.Errorf("%w: transaction %s", ErrAlreadyReversed, original.ID)
	}
	if err != nil {
		return nil, err
	}

	u.onCommit(func(ctx context.Context) {
		l.logger.Info("transaction reversed",
			"tenant_id", original.TenantID,
			"transaction_id", original.ID.String(),
			"reversal_id", reversal.ID.String(),
			"reason", reason,
		)
		l.plugins.EmitTransactionReversed(ctx, original, reversal)
	})
	return reversal, nil
}

func reversalKey(txID id.TransactionID) string { return "reverse:" + txID.String() }

// GetTransaction returns a transaction with its entries.
func (l *Ledger) GetTransaction(ctx context.Context, actor authz.Actor, tenantID string, txID id.TransactionID) (*entry.Transaction, error) {
	if err := l.authorize(ctx, actor, authz.CanViewLedger, tenantID); err != nil {
		return nil, err
	}
	t, err := l.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if err := checkTenant(t.TenantID, tenantID); err != nil {
		return nil, err
	}
	return t, nil
}

// QueryLedger returns entries newest first. When the filter names an
// account its owner may query it; otherwise CanViewLedger is required.
func (l *Ledger) QueryLedger(ctx context.Context, actor authz.Actor, filter entry.Filter, page entry.Page) ([]*entry.Entry, error) {
	if filter.TenantID == "" {
		return nil, ValidationError{Field: "tenant_id", Message: "is required"}
	}
	if filter.AccountID.IsNil() {
		if err := l.authorize(ctx, actor, authz.CanViewLedger, filter.TenantID); err != nil {
			return nil, err
		}
	} else {
		a, err := l.GetAccount(ctx, actor, filter.AccountID)
		if err != nil {
			return nil, err
		}
		if !a.VisibleTo(filter.TenantID) {
			return nil, fmt.Errorf("%w: account %s", ErrTenantMismatch, a.ID)
		}
	}

	switch {
	case page.Limit <= 0:
		page.Limit = defaultPageSize
	case page.Limit > maxPageSize:
		page.Limit = maxPageSize
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	return l.store.QueryEntries(ctx, filter, page)
}

func cloneMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+4)
	for k, v := range m {
		out[k] = v
	}
	return out
}
