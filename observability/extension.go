// Package observability provides a metrics extension for betledger that
// records lifecycle event counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/bet"
	"github.com/xraph/betledger/commission"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/plugin"
	"github.com/xraph/betledger/policy"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                    = (*MetricsExtension)(nil)
	_ plugin.OnInit                    = (*MetricsExtension)(nil)
	_ plugin.OnAccountCreated          = (*MetricsExtension)(nil)
	_ plugin.OnAccountStatusChanged    = (*MetricsExtension)(nil)
	_ plugin.OnReconciliationAlert     = (*MetricsExtension)(nil)
	_ plugin.OnTransactionPosted       = (*MetricsExtension)(nil)
	_ plugin.OnTransactionReversed     = (*MetricsExtension)(nil)
	_ plugin.OnFloatMoved              = (*MetricsExtension)(nil)
	_ plugin.OnBetPlaced               = (*MetricsExtension)(nil)
	_ plugin.OnBetSettled              = (*MetricsExtension)(nil)
	_ plugin.OnMaxWinApplied           = (*MetricsExtension)(nil)
	_ plugin.OnCommissionComputed      = (*MetricsExtension)(nil)
	_ plugin.OnCommissionStatusChanged = (*MetricsExtension)(nil)
	_ plugin.OnPolicySaved             = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a betledger plugin to track ledger and settlement volume.
type MetricsExtension struct {
	factory MetricFactory

	// Account metrics
	AccountCreated     Counter
	AccountFrozen      Counter
	ReconcileDiverged  Counter
	ReconcileDeviation Histogram

	// Ledger metrics
	TransactionPosted   Counter
	TransactionReversed Counter
	TransactionLegs     Histogram
	FloatMoved          Counter

	// Bet metrics
	BetPlaced        Counter
	BetStake         Histogram
	BetWon           Counter
	BetLost          Counter
	BetRefunded      Counter
	BetManualSettled Counter
	PayoutAmount     Histogram
	MaxWinApplied    Counter
	MaxWinDeduction  Histogram

	// Commission metrics
	CommissionComputed Counter
	CommissionApproved Counter
	CommissionPaid     Counter
	CommissionReversed Counter
	CommissionAmount   Histogram

	// Policy metrics
	PolicySaved Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Account metrics
		AccountCreated:     factory.Counter("betledger.account.created"),
		AccountFrozen:      factory.Counter("betledger.account.frozen"),
		ReconcileDiverged:  factory.Counter("betledger.reconcile.diverged"),
		ReconcileDeviation: factory.Histogram("betledger.reconcile.deviation_minor"),

		// Ledger metrics
		TransactionPosted:   factory.Counter("betledger.transaction.posted"),
		TransactionReversed: factory.Counter("betledger.transaction.reversed"),
		TransactionLegs:     factory.Histogram("betledger.transaction.legs"),
		FloatMoved:          factory.Counter("betledger.float.moved"),

		// Bet metrics
		BetPlaced:        factory.Counter("betledger.bet.placed"),
		BetStake:         factory.Histogram("betledger.bet.stake_minor"),
		BetWon:           factory.Counter("betledger.bet.won"),
		BetLost:          factory.Counter("betledger.bet.lost"),
		BetRefunded:      factory.Counter("betledger.bet.refunded"),
		BetManualSettled: factory.Counter("betledger.bet.manual_settled"),
		PayoutAmount:     factory.Histogram("betledger.bet.payout_minor"),
		MaxWinApplied:    factory.Counter("betledger.maxwin.applied"),
		MaxWinDeduction:  factory.Histogram("betledger.maxwin.deduction_minor"),

		// Commission metrics
		CommissionComputed: factory.Counter("betledger.commission.computed"),
		CommissionApproved: factory.Counter("betledger.commission.approved"),
		CommissionPaid:     factory.Counter("betledger.commission.paid"),
		CommissionReversed: factory.Counter("betledger.commission.reversed"),
		CommissionAmount:   factory.Histogram("betledger.commission.amount_minor"),

		PolicySaved: factory.Counter("betledger.policy.saved"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Account hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (m *MetricsExtension) OnAccountCreated(_ context.Context, _ *account.Account) error {
	m.AccountCreated.Inc()
	return nil
}

// OnAccountStatusChanged implements plugin.OnAccountStatusChanged.
func (m *MetricsExtension) OnAccountStatusChanged(_ context.Context, a *account.Account, _ account.Status) error {
	if a.Status == account.StatusFrozen {
		m.AccountFrozen.Inc()
	}
	return nil
}

// OnReconciliationAlert implements plugin.OnReconciliationAlert.
func (m *MetricsExtension) OnReconciliationAlert(_ context.Context, r *account.Reconciliation) error {
	m.ReconcileDiverged.Inc()
	m.ReconcileDeviation.Observe(float64(r.Difference.Abs().Amount))
	return nil
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionPosted implements plugin.OnTransactionPosted.
func (m *MetricsExtension) OnTransactionPosted(_ context.Context, t *entry.Transaction) error {
	m.TransactionPosted.Inc()
	m.TransactionLegs.Observe(float64(len(t.Entries)))
	return nil
}

// OnTransactionReversed implements plugin.OnTransactionReversed.
func (m *MetricsExtension) OnTransactionReversed(_ context.Context, _, _ *entry.Transaction) error {
	m.TransactionReversed.Inc()
	return nil
}

// OnFloatMoved implements plugin.OnFloatMoved.
func (m *MetricsExtension) OnFloatMoved(_ context.Context, _ *account.FloatLine, _ *entry.Transaction) error {
	m.FloatMoved.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Bet hooks
// ──────────────────────────────────────────────────

// OnBetPlaced implements plugin.OnBetPlaced.
func (m *MetricsExtension) OnBetPlaced(_ context.Context, b *bet.Bet) error {
	m.BetPlaced.Inc()
	m.BetStake.Observe(float64(b.Stake.Amount))
	return nil
}

// OnBetSettled implements plugin.OnBetSettled.
func (m *MetricsExtension) OnBetSettled(_ context.Context, b *bet.Bet) error {
	switch {
	case b.Status == bet.StatusWon:
		m.BetWon.Inc()
	case b.Status == bet.StatusLost:
		m.BetLost.Inc()
	case b.Status.IsRefund():
		m.BetRefunded.Inc()
	}
	if b.Breakdown != nil && b.Breakdown.Override != nil {
		m.BetManualSettled.Inc()
	}
	if b.ActualPayout.IsPositive() {
		m.PayoutAmount.Observe(float64(b.ActualPayout.Amount))
	}
	return nil
}

// OnMaxWinApplied implements plugin.OnMaxWinApplied.
func (m *MetricsExtension) OnMaxWinApplied(_ context.Context, b *bet.Bet) error {
	m.MaxWinApplied.Inc()
	if b.Breakdown != nil {
		m.MaxWinDeduction.Observe(float64(b.Breakdown.Deduction.Amount))
	}
	return nil
}

// ──────────────────────────────────────────────────
// Commission and policy hooks
// ──────────────────────────────────────────────────

// OnCommissionComputed implements plugin.OnCommissionComputed.
func (m *MetricsExtension) OnCommissionComputed(_ context.Context, c *commission.Settlement) error {
	m.CommissionComputed.Inc()
	m.CommissionAmount.Observe(float64(c.Amount.Amount))
	return nil
}

// OnCommissionStatusChanged implements plugin.OnCommissionStatusChanged.
func (m *MetricsExtension) OnCommissionStatusChanged(_ context.Context, c *commission.Settlement, _ commission.Status) error {
	switch c.Status {
	case commission.StatusApproved:
		m.CommissionApproved.Inc()
	case commission.StatusPaid:
		m.CommissionPaid.Inc()
	case commission.StatusReversed:
		m.CommissionReversed.Inc()
	}
	return nil
}

// OnPolicySaved implements plugin.OnPolicySaved.
func (m *MetricsExtension) OnPolicySaved(_ context.Context, _ *policy.Policy) error {
	m.PolicySaved.Inc()
	return nil
}
