package betledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/authz"
	"github.com/xraph/betledger/commission"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/policy"
	"github.com/xraph/betledger/store"
	"github.com/xraph/betledger/types"
)

// RunCommissionInput selects the settlement period [PeriodStart, PeriodEnd).
type RunCommissionInput struct {
	TenantID    string    `json:"tenant_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// RunCommissionPeriod computes commission for every agent whose bets were
// settled in the period. Each agent's settlement commits on its own;
// failures are collected into a MultiError. Running a period again returns
// the settlements already recorded.
func (l *Ledger) RunCommissionPeriod(ctx context.Context, actor authz.Actor, in RunCommissionInput) ([]*commission.Settlement, error) {
	if err := l.authorize(ctx, actor, authz.CanRunCommission, in.TenantID); err != nil {
		return nil, err
	}
	start, end := in.PeriodStart.UTC(), in.PeriodEnd.UTC()
	if start.IsZero() || !end.After(start) {
		return nil, fmt.Errorf("%w: [%s, %s)", ErrInvalidPeriod, start, end)
	}

	// The period is [start, end): the policy in force at its last instant
	// governs it, whatever was saved since.
	pol, err := l.store.GetPolicy(ctx, in.TenantID, end.Add(-time.Nanosecond))
	if err != nil {
		return nil, err
	}
	activity, err := l.store.AgentActivity(ctx, in.TenantID, start, end)
	if err != nil {
		return nil, err
	}
	volume, err := l.cumulativeVolume(ctx, in.TenantID, end)
	if err != nil {
		return nil, err
	}

	var (
		out  []*commission.Settlement
		errs MultiError
	)
	for _, a := range activity {
		s, err := l.settleCommission(ctx, pol, a, volume[a.AgentID], start, end)
		if err != nil {
			errs.Add(fmt.Errorf("agent %q: %w", a.AgentID, err))
			continue
		}
		out = append(out, s)
	}

	l.logger.Info("commission period run",
		"tenant_id", in.TenantID,
		"period_start", start,
		"period_end", end,
		"agents", len(activity),
		"failed", len(errs.Errors),
	)
	if errs.HasErrors() {
		return out, errs
	}
	return out, nil
}

// cumulativeVolume is each agent's settled turnover from the first bet up
// to end. Commission tiers are chosen on it.
func (l *Ledger) cumulativeVolume(ctx context.Context, tenantID string, end time.Time) (map[string]types.Money, error) {
	all, err := l.store.AgentActivity(ctx, tenantID, time.Unix(0, 0).UTC(), end)
	if err != nil {
		return nil, err
	}
	volume := make(map[string]types.Money, len(all))
	for _, a := range all {
		volume[a.AgentID] = a.Turnover
	}
	return volume, nil
}

func (l *Ledger) settleCommission(ctx context.Context, pol *policy.Policy, a commission.Activity, volume types.Money, start, end time.Time) (*commission.Settlement, error) {
	if volume.Currency == "" {
		volume = a.Turnover
	}
	key := commission.PeriodKey(a.AgentID, start, end)

	var s *commission.Settlement
	err := l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		existing, err := tx.FindCommissionByKey(ctx, pol.TenantID, key)
		if err == nil {
			s = existing
			return nil
		}
		if !errors.Is(err, ErrCommissionNotFound) {
			return err
		}

		pool, err := l.ensureAccount(ctx, tx, u, EnsureAccountInput{
			TenantID:  pol.TenantID,
			OwnerType: account.OwnerCommissionPool,
			OwnerID:   a.AgentID,
			Currency:  a.Turnover.Currency,
		})
		if err != nil {
			return err
		}

		rate := pol.CommissionRate(a.AgentID, volume)
		s = &commission.Settlement{
			Entity:        types.NewEntityAt(l.now()),
			ID:            id.NewCommissionID(),
			TenantID:      pol.TenantID,
			AgentID:       a.AgentID,
			AccountID:     pool.ID,
			PeriodStart:   start,
			PeriodEnd:     end,
			Key:           key,
			Turnover:      a.Turnover,
			Payouts:       a.Payouts,
			GGR:           a.GGR(),
			Rate:          rate,
			Amount:        commission.Compute(a, rate),
			BetCount:      a.BetCount,
			Status:        commission.StatusPending,
			PolicyVersion: pol.Version,
		}

		if s.Amount.IsPositive() {
			expense, err := l.systemAccount(ctx, tx, u, pol.TenantID, account.SystemCommissionExpense, s.Amount.Currency)
			if err != nil {
				return err
			}
			credit := entry.CreditLeg(pool.ID, s.Amount)
			credit.Bucket = entry.BucketPending
			txn, err := l.post(ctx, tx, u, postRequest{
				TenantID:  pol.TenantID,
				Key:       key,
				Type:      entry.TypeCommission,
				Reference: s.ID.String(),
				Metadata: map[string]string{
					"agent_id": a.AgentID,
					"rate":     rate.String(),
					"ggr":      fmt.Sprint(s.GGR.Amount),
					"volume":   fmt.Sprint(volume.Amount),
				},
				Legs: []entry.Leg{entry.DebitLeg(expense.ID, s.Amount), credit},
			})
			if err != nil {
				return err
			}
			s.TransactionID = txn.ID
		}

		if err := tx.CreateCommission(ctx, s); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				return fmt.Errorf("%w: %w", ErrConflict, err)
			}
			return err
		}

		computed := *s
		u.onCommit(func(ctx context.Context) {
			l.logger.Info("commission computed",
				"tenant_id", computed.TenantID,
				"agent_id", computed.AgentID,
				"commission_id", computed.ID.String(),
				"ggr", computed.GGR.Amount,
				"rate", computed.Rate.String(),
				"amount", computed.Amount.Amount,
			)
			l.plugins.EmitCommissionComputed(ctx, &computed)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CommissionActionInput identifies a settlement to act on.
type CommissionActionInput struct {
	TenantID     string          `json:"tenant_id"`
	CommissionID id.CommissionID `json:"commission_id"`
	Reason       string          `json:"reason,omitempty"`
}

// ApproveCommission moves a pending settlement to approved.
func (l *Ledger) ApproveCommission(ctx context.Context, actor authz.Actor, in CommissionActionInput) (*commission.Settlement, error) {
	if err := l.authorize(ctx, actor, authz.CanApproveCommission, in.TenantID); err != nil {
		return nil, err
	}
	return l.transitionCommission(ctx, in, commission.StatusApproved, func(_ context.Context, _ store.Tx, c *commission.Settlement, at time.Time) error {
		c.ApprovedBy, c.ApprovedAt = actor.UserID, &at
		return nil
	})
}

// PayCommission moves an approved settlement to paid and releases its
// amount from the pool's pending bucket into available. The release does
// not change the pool's total, so nothing is posted.
func (l *Ledger) PayCommission(ctx context.Context, actor authz.Actor, in CommissionActionInput) (*commission.Settlement, error) {
	if err := l.authorize(ctx, actor, authz.CanPayCommission, in.TenantID); err != nil {
		return nil, err
	}
	return l.transitionCommission(ctx, in, commission.StatusPaid, func(ctx context.Context, tx store.Tx, c *commission.Settlement, at time.Time) error {
		c.PaidBy, c.PaidAt = actor.UserID, &at
		if !c.Amount.IsPositive() {
			return nil
		}
		balances, err := tx.LockBalances(ctx, []id.AccountID{c.AccountID})
		if err != nil {
			return err
		}
		b := balances[c.AccountID.String()]
		if !b.Release(c.Amount, at) {
			return &BalanceError{
				Err:       ErrInsufficientCommissionBalance,
				AccountID: c.AccountID,
				Available: b.Pending,
				Requested: c.Amount,
			}
		}
		return tx.SaveBalance(ctx, b)
	})
}

func (l *Ledger) transitionCommission(ctx context.Context, in CommissionActionInput, to commission.Status, apply func(ctx context.Context, tx store.Tx, c *commission.Settlement, at time.Time) error) (*commission.Settlement, error) {
	var c *commission.Settlement
	err := l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		var err error
		c, err = tx.LockCommission(ctx, in.CommissionID)
		if err != nil {
			return err
		}
		if err := checkTenant(c.TenantID, in.TenantID); err != nil {
			return err
		}
		from := c.Status
		if !from.CanTransition(to) {
			return fmt.Errorf("%w: commission %s from %s to %s", ErrInvalidTransition, c.ID, from, to)
		}

		now := l.now()
		c.Status = to
		c.Touch(now)
		if err := apply(ctx, tx, c, now); err != nil {
			return err
		}
		if err := tx.UpdateCommission(ctx, c, from); err != nil {
			return err
		}
		l.commissionChanged(u, c, from)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (l *Ledger) commissionChanged(u *unit, c *commission.Settlement, from commission.Status) {
	changed := *c
	u.onCommit(func(ctx context.Context) {
		l.logger.Info("commission status changed",
			"tenant_id", changed.TenantID,
			"commission_id", changed.ID.String(),
			"agent_id", changed.AgentID,
			"from", from,
			"to", changed.Status,
		)
		l.plugins.EmitCommissionStatusChanged(ctx, &changed, from)
	})
}

// ReverseCommission corrects a settlement. Its transaction is reversed and
// a correction record is created. An unpaid original becomes REVERSED; a
// paid original is never modified and the correction stands beside it.
func (l *Ledger) ReverseCommission(ctx context.Context, actor authz.Actor, in CommissionActionInput) (*commission.Settlement, error) {
	if err := l.authorize(ctx, actor, authz.CanReverseCommission, in.TenantID); err != nil {
		return nil, err
	}
	if in.Reason == "" {
		return nil, ErrReasonRequired
	}

	var correction *commission.Settlement
	err := l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		c, err := tx.LockCommission(ctx, in.CommissionID)
		if err != nil {
			return err
		}
		if err := checkTenant(c.TenantID, in.TenantID); err != nil {
			return err
		}
		if !c.CorrectionOf.IsNil() || !c.Status.CanTransition(commission.StatusReversed) {
			return fmt.Errorf("%w: commission %s is %s", ErrInvalidTransition, c.ID, c.Status)
		}
		if _, err := tx.FindCommissionByKey(ctx, c.TenantID, commission.CorrectionKey(c.ID)); err == nil {
			return fmt.Errorf("%w: commission %s", ErrAlreadyReversed, c.ID)
		} else if !errors.Is(err, ErrCommissionNotFound) {
			return err
		}

		now := l.now()
		correction = &commission.Settlement{
			Entity:        types.NewEntityAt(now),
			ID:            id.NewCommissionID(),
			TenantID:      c.TenantID,
			AgentID:       c.AgentID,
			AccountID:     c.AccountID,
			PeriodStart:   c.PeriodStart,
			PeriodEnd:     c.PeriodEnd,
			Key:           commission.CorrectionKey(c.ID),
			Turnover:      c.Turnover,
			Payouts:       c.Payouts,
			GGR:           c.GGR,
			Rate:          c.Rate,
			Amount:        c.Amount,
			BetCount:      c.BetCount,
			Status:        commission.StatusReversed,
			PolicyVersion: c.PolicyVersion,
			ReversedBy:    actor.UserID,
			ReversedAt:    &now,
			CorrectionOf:  c.ID,
			Reason:        in.Reason,
		}

		if !c.TransactionID.IsNil() {
			original, err := tx.GetTransaction(ctx, c.TransactionID)
			if err != nil {
				return err
			}
			legs := original.Legs()
			if c.Status == commission.StatusPaid {
				// Paid commission has been released into available.
				for i := range legs {
					if legs[i].AccountID == c.AccountID {
						legs[i].Bucket = entry.BucketAvailable
					}
				}
			}
			reversal, err := l.reverse(ctx, tx, u, original, legs, in.Reason, actor.UserID)
			if err != nil {
				return err
			}
			correction.TransactionID = reversal.ID
		}

		if err := tx.CreateCommission(ctx, correction); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				return fmt.Errorf("%w: %w", ErrConflict, err)
			}
			return err
		}

		if c.Status != commission.StatusPaid {
			from := c.Status
			c.Status = commission.StatusReversed
			c.ReversedBy, c.ReversedAt, c.Reason = actor.UserID, &now, in.Reason
			c.Touch(now)
			if err := tx.UpdateCommission(ctx, c, from); err != nil {
				return err
			}
			l.commissionChanged(u, c, from)
		}

		created := *correction
		u.onCommit(func(ctx context.Context) {
			l.plugins.EmitCommissionComputed(ctx, &created)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return correction, nil
}

// ListCommissions lists settlements, newest first. Agents see their own.
func (l *Ledger) ListCommissions(ctx context.Context, actor authz.Actor, opts commission.ListOpts) ([]*commission.Settlement, error) {
	if err := l.authorize(ctx, actor, authz.CanViewCommission, opts.TenantID); err != nil {
		return nil, err
	}
	if actor.Role.IsAgent() {
		opts.AgentID = actor.UserID
	}
	if opts.Limit <= 0 || opts.Limit > maxPageSize {
		opts.Limit = defaultPageSize
	}
	return l.store.ListCommissions(ctx, opts)
}

// WithdrawCommissionInput moves paid commission into the agent's account.
type WithdrawCommissionInput struct {
	TenantID       string      `json:"tenant_id"`
	IdempotencyKey string      `json:"idempotency_key"`
	AgentID        string      `json:"agent_id"`
	Amount         types.Money `json:"amount"`
}

// WithdrawCommission debits the available bucket of the agent's commission
// pool and credits the agent's account.
func (l *Ledger) WithdrawCommission(ctx context.Context, actor authz.Actor, in WithdrawCommissionInput) (*entry.Transaction, error) {
	if err := l.authorize(ctx, actor, authz.CanWithdrawCommission, in.TenantID); err != nil {
		return nil, err
	}
	if err := actor.ActsAs(in.AgentID); err != nil {
		return nil, err
	}
	if err := checkMovement(in.IdempotencyKey, in.Amount); err != nil {
		return nil, err
	}

	var txn *entry.Transaction
	err := l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		prior, ok, err := replay(ctx, tx, in.TenantID, in.IdempotencyKey)
		if err != nil || ok {
			txn = prior
			return err
		}

		pool, err := tx.FindAccount(ctx, in.TenantID, account.OwnerCommissionPool, in.AgentID)
		if errors.Is(err, ErrAccountNotFound) {
			return &BalanceError{
				Err:       ErrInsufficientCommissionBalance,
				Available: types.Zero(in.Amount.Currency),
				Requested: in.Amount,
			}
		}
		if err != nil {
			return err
		}
		line, err := tx.GetFloatLine(ctx, in.TenantID, in.AgentID)
		if err != nil {
			return err
		}

		txn, err = l.post(ctx, tx, u, postRequest{
			TenantID:  in.TenantID,
			Key:       in.IdempotencyKey,
			Type:      entry.TypeCommissionWithdrawal,
			Reference: in.AgentID,
			Metadata:  map[string]string{"initiated_by": actor.UserID},
			Shortfall: ErrInsufficientCommissionBalance,
			Legs: []entry.Leg{
				entry.DebitLeg(pool.ID, in.Amount),
				entry.CreditLeg(line.AccountID, in.Amount),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// GetCommissionBalance returns the balance of the agent's commission pool.
func (l *Ledger) GetCommissionBalance(ctx context.Context, actor authz.Actor, tenantID, agentID string) (*account.Balance, error) {
	pool, err := l.store.FindAccount(ctx, tenantID, account.OwnerCommissionPool, agentID)
	if err != nil {
		return nil, err
	}
	if !ownsAccount(actor, pool) {
		if err := l.authorize(ctx, actor, authz.CanViewCommission, tenantID); err != nil {
			return nil, err
		}
	}
	return l.store.GetBalance(ctx, pool.ID)
}
