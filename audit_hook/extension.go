// Package audithook bridges betledger lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import any
// audit store directly. Callers inject a RecorderFunc adapter that bridges
// to their backend at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/bet"
	"github.com/xraph/betledger/commission"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/plugin"
	"github.com/xraph/betledger/policy"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                    = (*Extension)(nil)
	_ plugin.OnAccountCreated          = (*Extension)(nil)
	_ plugin.OnAccountStatusChanged    = (*Extension)(nil)
	_ plugin.OnReconciliationAlert     = (*Extension)(nil)
	_ plugin.OnTransactionPosted       = (*Extension)(nil)
	_ plugin.OnTransactionReversed     = (*Extension)(nil)
	_ plugin.OnFloatMoved              = (*Extension)(nil)
	_ plugin.OnBetPlaced               = (*Extension)(nil)
	_ plugin.OnBetSettled              = (*Extension)(nil)
	_ plugin.OnMaxWinApplied           = (*Extension)(nil)
	_ plugin.OnCommissionComputed      = (*Extension)(nil)
	_ plugin.OnCommissionStatusChanged = (*Extension)(nil)
	_ plugin.OnPolicySaved             = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges betledger lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Account hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (e *Extension) OnAccountCreated(ctx context.Context, a *account.Account) error {
	return e.record(ctx, ActionAccountCreated, SeverityInfo, OutcomeSuccess,
		ResourceAccount, a.ID.String(), a.TenantID, CategoryLedger, "",
		"owner_type", string(a.OwnerType),
		"owner_id", a.OwnerID,
		"currency", a.Currency,
	)
}

// OnAccountStatusChanged implements plugin.OnAccountStatusChanged.
func (e *Extension) OnAccountStatusChanged(ctx context.Context, a *account.Account, from account.Status) error {
	action, severity := ActionAccountStatus, SeverityInfo
	if a.Status == account.StatusFrozen {
		action, severity = ActionAccountFrozen, SeverityWarning
	}
	return e.record(ctx, action, severity, OutcomeSuccess,
		ResourceAccount, a.ID.String(), a.TenantID, CategoryLedger, "",
		"from", string(from),
		"to", string(a.Status),
	)
}

// OnReconciliationAlert implements plugin.OnReconciliationAlert.
func (e *Extension) OnReconciliationAlert(ctx context.Context, r *account.Reconciliation) error {
	return e.record(ctx, ActionBalanceDiverged, SeverityCritical, OutcomeFailure,
		ResourceAccount, r.AccountID.String(), r.TenantID, CategoryIntegrity,
		"projection does not match ledger replay",
		"projected", r.Projected.Amount,
		"replayed", r.Replayed.Amount,
		"difference", r.Difference.Amount,
		"currency", r.Projected.Currency,
		"frozen", r.Frozen,
	)
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionPosted implements plugin.OnTransactionPosted.
func (e *Extension) OnTransactionPosted(ctx context.Context, t *entry.Transaction) error {
	return e.record(ctx, ActionTransactionPosted, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, t.ID.String(), t.TenantID, CategoryLedger, "",
		"type", string(t.Type),
		"reference", t.Reference,
		"idempotency_key", t.IdempotencyKey,
		"legs", len(t.Entries),
	)
}

// OnTransactionReversed implements plugin.OnTransactionReversed.
func (e *Extension) OnTransactionReversed(ctx context.Context, original, reversal *entry.Transaction) error {
	return e.record(ctx, ActionTransactionReversed, SeverityWarning, OutcomeSuccess,
		ResourceTransaction, original.ID.String(), original.TenantID, CategoryLedger,
		reversal.Metadata["reason"],
		"reversal_id", reversal.ID.String(),
		"type", string(original.Type),
	)
}

// OnFloatMoved implements plugin.OnFloatMoved.
func (e *Extension) OnFloatMoved(ctx context.Context, line *account.FloatLine, t *entry.Transaction) error {
	var amount int64
	if en := t.EntryFor(line.AccountID); en != nil {
		amount = en.Signed().Amount
	}
	return e.record(ctx, ActionFloatMoved, SeverityInfo, OutcomeSuccess,
		ResourceFloatLine, line.AgentID, line.TenantID, CategoryFloat, "",
		"transaction_id", t.ID.String(),
		"type", string(t.Type),
		"amount", amount,
		"used_credit", line.UsedCredit.Amount,
		"credit_limit", line.CreditLimit.Amount,
	)
}

// ──────────────────────────────────────────────────
// Bet hooks
// ──────────────────────────────────────────────────

// OnBetPlaced implements plugin.OnBetPlaced.
func (e *Extension) OnBetPlaced(ctx context.Context, b *bet.Bet) error {
	return e.record(ctx, ActionBetPlaced, SeverityInfo, OutcomeSuccess,
		ResourceBet, b.ID.String(), b.TenantID, CategorySettlement, "",
		"player_id", b.PlayerID,
		"agent_id", b.AgentID,
		"stake", b.Stake.Amount,
		"selections", len(b.Selections),
		"policy_version", b.PolicyVersion,
	)
}

// OnBetSettled implements plugin.OnBetSettled. Manual settlements are
// recorded with the overriding actor and reason.
func (e *Extension) OnBetSettled(ctx context.Context, b *bet.Bet) error {
	if b.Breakdown != nil && b.Breakdown.Override != nil {
		o := b.Breakdown.Override
		return e.record(ctx, ActionBetManualSettled, SeverityWarning, OutcomeSuccess,
			ResourceBet, b.ID.String(), b.TenantID, CategorySettlement, o.Reason,
			"status", string(b.Status),
			"payout", b.ActualPayout.Amount,
			"actor_id", o.ActorID,
			"role", o.Role,
		)
	}
	return e.record(ctx, ActionBetSettled, SeverityInfo, OutcomeSuccess,
		ResourceBet, b.ID.String(), b.TenantID, CategorySettlement, "",
		"status", string(b.Status),
		"payout", b.ActualPayout.Amount,
	)
}

// OnMaxWinApplied implements plugin.OnMaxWinApplied.
func (e *Extension) OnMaxWinApplied(ctx context.Context, b *bet.Bet) error {
	kv := []any{"payout", b.ActualPayout.Amount}
	if bd := b.Breakdown; bd != nil {
		kv = append(kv, "gross_win", bd.GrossWin.Amount, "deduction", bd.Deduction.Amount)
		if bd.AppliedRule != nil {
			kv = append(kv,
				"rule_id", bd.AppliedRule.RuleID.String(),
				"scope", bd.AppliedRule.Scope,
				"limit", bd.AppliedRule.Limit.Amount,
				"policy_version", bd.AppliedRule.PolicyVersion,
			)
		}
	}
	return e.record(ctx, ActionMaxWinApplied, SeverityWarning, OutcomePartial,
		ResourceBet, b.ID.String(), b.TenantID, CategoryRisk, "", kv...)
}

// ──────────────────────────────────────────────────
// Commission and policy hooks
// ──────────────────────────────────────────────────

// OnCommissionComputed implements plugin.OnCommissionComputed.
func (e *Extension) OnCommissionComputed(ctx context.Context, c *commission.Settlement) error {
	return e.record(ctx, ActionCommissionComputed, SeverityInfo, OutcomeSuccess,
		ResourceCommission, c.ID.String(), c.TenantID, CategoryCommission, "",
		"agent_id", c.AgentID,
		"period_start", c.PeriodStart,
		"period_end", c.PeriodEnd,
		"ggr", c.GGR.Amount,
		"rate", c.Rate.String(),
		"amount", c.Amount.Amount,
	)
}

// OnCommissionStatusChanged implements plugin.OnCommissionStatusChanged.
func (e *Extension) OnCommissionStatusChanged(ctx context.Context, c *commission.Settlement, from commission.Status) error {
	action, actor := "", ""
	switch c.Status {
	case commission.StatusApproved:
		action, actor = ActionCommissionApproved, c.ApprovedBy
	case commission.StatusPaid:
		action, actor = ActionCommissionPaid, c.PaidBy
	case commission.StatusReversed:
		action, actor = ActionCommissionReversed, c.ReversedBy
	default:
		return nil
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceCommission, c.ID.String(), c.TenantID, CategoryCommission, c.Reason,
		"agent_id", c.AgentID,
		"from", string(from),
		"amount", c.Amount.Amount,
		"actor_id", actor,
	)
}

// OnPolicySaved implements plugin.OnPolicySaved.
func (e *Extension) OnPolicySaved(ctx context.Context, p *policy.Policy) error {
	return e.record(ctx, ActionPolicySaved, SeverityInfo, OutcomeSuccess,
		ResourcePolicy, p.ID.String(), p.TenantID, CategoryRisk, "",
		"version", p.Version,
		"max_win_rules", len(p.MaxWinRules),
		"created_by", p.CreatedBy,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, tenantID, category string,
	reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		TenantID:   tenantID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
