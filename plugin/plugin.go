// Package plugin provides an extensible plugin system for betledger.
// Plugins hook into ledger lifecycle events after they are committed; a
// failing plugin is logged and never affects the operation that fired it.
package plugin

import (
	"context"

	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/bet"
	"github.com/xraph/betledger/commission"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/policy"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the ledger starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l any) error
}

// OnShutdown is called when the ledger stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Account hooks
// ──────────────────────────────────────────────────

// OnAccountCreated is called when EnsureAccount creates a new account.
type OnAccountCreated interface {
	Plugin
	OnAccountCreated(ctx context.Context, a *account.Account) error
}

// OnAccountStatusChanged is called after an account changes status,
// including freezes raised by reconciliation.
type OnAccountStatusChanged interface {
	Plugin
	OnAccountStatusChanged(ctx context.Context, a *account.Account, from account.Status) error
}

// OnReconciliationAlert is called when an account's projection diverges
// from its ledger.
type OnReconciliationAlert interface {
	Plugin
	OnReconciliationAlert(ctx context.Context, r *account.Reconciliation) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionPosted is called for every committed transaction.
type OnTransactionPosted interface {
	Plugin
	OnTransactionPosted(ctx context.Context, t *entry.Transaction) error
}

// OnTransactionReversed is called when a reversal is committed.
type OnTransactionReversed interface {
	Plugin
	OnTransactionReversed(ctx context.Context, original, reversal *entry.Transaction) error
}

// OnFloatMoved is called after a float topup, allocation, player cash-in,
// return or withdrawal.
type OnFloatMoved interface {
	Plugin
	OnFloatMoved(ctx context.Context, line *account.FloatLine, t *entry.Transaction) error
}

// ──────────────────────────────────────────────────
// Bet hooks
// ──────────────────────────────────────────────────

// OnBetPlaced is called after a bet and its stake are committed.
type OnBetPlaced interface {
	Plugin
	OnBetPlaced(ctx context.Context, b *bet.Bet) error
}

// OnBetSettled is called after a bet reaches a terminal status.
type OnBetSettled interface {
	Plugin
	OnBetSettled(ctx context.Context, b *bet.Bet) error
}

// OnMaxWinApplied is called when a payout was capped by a max-win rule.
type OnMaxWinApplied interface {
	Plugin
	OnMaxWinApplied(ctx context.Context, b *bet.Bet) error
}

// ──────────────────────────────────────────────────
// Commission and policy hooks
// ──────────────────────────────────────────────────

// OnCommissionComputed is called for every settlement a period run creates.
type OnCommissionComputed interface {
	Plugin
	OnCommissionComputed(ctx context.Context, c *commission.Settlement) error
}

// OnCommissionStatusChanged is called after approval, payment or reversal.
type OnCommissionStatusChanged interface {
	Plugin
	OnCommissionStatusChanged(ctx context.Context, c *commission.Settlement, from commission.Status) error
}

// OnPolicySaved is called when a new policy version is stored.
type OnPolicySaved interface {
	Plugin
	OnPolicySaved(ctx context.Context, p *policy.Policy) error
}
