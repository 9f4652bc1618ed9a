package betledger

import (
	"context"
	"time"

	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/authz"
	"github.com/xraph/betledger/commission"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/store"
	"github.com/xraph/betledger/types"
)

const divergenceReason = "reconciliation divergence"

// RebuildBalance replays every entry of the account and compares the
// result with its balance projection. A divergence beyond the configured
// tolerance freezes the account and raises an alert; it is reported in
// the returned reconciliation, never as an error.
func (l *Ledger) RebuildBalance(ctx context.Context, actor authz.Actor, accountID id.AccountID) (*account.Reconciliation, error) {
	a, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := l.authorize(ctx, actor, authz.CanReconcile, a.TenantID); err != nil {
		return nil, err
	}
	return l.rebuild(ctx, accountID, actor.UserID)
}

func (l *Ledger) rebuild(ctx context.Context, accountID id.AccountID, by string) (*account.Reconciliation, error) {
	var rec *account.Reconciliation
	err := l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		a, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		balances, err := tx.LockBalances(ctx, []id.AccountID{accountID})
		if err != nil {
			return err
		}
		totals, err := tx.ReplayAccount(ctx, accountID)
		if err != nil {
			return err
		}

		rec = account.Reconcile(balances[accountID.String()], totals.Money(a.Currency), l.reconcileTolerance, l.now())
		rec.TenantID = a.TenantID
		rec.TotalDebits = types.New(totals.Debits, a.Currency)
		rec.TotalCredits = types.New(totals.Credits, a.Currency)
		rec.EntryCount = totals.Entries
		if !rec.Diverged {
			return nil
		}

		rec.Frozen = a.Status == account.StatusFrozen
		if a.Status.CanTransition(account.StatusFrozen) {
			if _, err := l.setStatus(ctx, tx, u, accountID, account.StatusFrozen, divergenceReason, by); err != nil {
				return err
			}
			rec.Frozen = true
		}

		report := *rec
		u.onCommit(func(ctx context.Context) {
			l.logger.Error("balance projection diverges from ledger",
				"account_id", report.AccountID.String(),
				"tenant_id", report.TenantID,
				"projected", report.Projected.Amount,
				"replayed", report.Replayed.Amount,
				"difference", report.Difference.Amount,
				"frozen", report.Frozen,
				"error", ErrReconciliationDivergence,
			)
			l.plugins.EmitReconciliationAlert(ctx, &report)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ReconcileAll rebuilds every active account of the tenant. Accounts that
// could not be checked are reported through a MultiError alongside the
// reconciliations that did complete.
func (l *Ledger) ReconcileAll(ctx context.Context, actor authz.Actor, tenantID string) ([]*account.Reconciliation, error) {
	if err := l.authorize(ctx, actor, authz.CanReconcile, tenantID); err != nil {
		return nil, err
	}
	return l.reconcileAccounts(ctx, tenantID, actor.UserID)
}

// reconcileAccounts walks active accounts page by page. An empty tenant
// walks every tenant.
func (l *Ledger) reconcileAccounts(ctx context.Context, tenantID, by string) ([]*account.Reconciliation, error) {
	var (
		reports []*account.Reconciliation
		errs    MultiError
	)
	for offset := 0; ; offset += maxPageSize {
		accounts, err := l.store.ListAccounts(ctx, account.ListOpts{
			TenantID: tenantID,
			Status:   account.StatusActive,
			Limit:    maxPageSize,
			Offset:   offset,
		})
		if err != nil {
			return reports, err
		}
		for _, a := range accounts {
			if ctx.Err() != nil {
				return reports, ctx.Err()
			}
			rec, err := l.rebuild(ctx, a.ID, by)
			if err != nil {
				errs.Add(err)
				continue
			}
			reports = append(reports, rec)
		}
		if len(accounts) < maxPageSize {
			break
		}
	}

	if errs.HasErrors() {
		return reports, errs
	}
	return reports, nil
}

// ──────────────────────────────────────────────────
// Background workers
// ──────────────────────────────────────────────────

func (l *Ledger) reconcileWorker(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			reports, err := l.reconcileAccounts(ctx, "", authz.System().UserID)
			if err != nil {
				l.logger.Warn("reconciliation run failed", "error", err)
			}
			diverged := 0
			for _, r := range reports {
				if r.Diverged {
					diverged++
				}
			}
			l.logger.Debug("reconciliation run complete", "accounts", len(reports), "diverged", diverged)
		}
	}
}

func (l *Ledger) commissionWorker(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.commissionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.runScheduledCommission(ctx)
		}
	}
}

// runScheduledCommission settles the last complete week for every tenant
// with a policy. Re-running a week is a no-op.
func (l *Ledger) runScheduledCommission(ctx context.Context) {
	tenants, err := l.store.ListPolicyTenants(ctx)
	if err != nil {
		l.logger.Warn("commission run: list tenants", "error", err)
		return
	}
	start, end := commission.PreviousWeek(l.now(), l.commissionWeekday)
	system := authz.System()
	for _, tenantID := range tenants {
		if _, err := l.RunCommissionPeriod(ctx, system, RunCommissionInput{
			TenantID:    tenantID,
			PeriodStart: start,
			PeriodEnd:   end,
		}); err != nil {
			l.logger.Warn("commission run failed",
				"tenant_id", tenantID,
				"period_start", start,
				"period_end", end,
				"error", err,
			)
		}
	}
}
