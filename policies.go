package betledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/betledger/authz"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/policy"
	"github.com/xraph/betledger/store"
)

// SavePolicyInput is the content of a new policy version.
type SavePolicyInput struct {
	TenantID              string                  `json:"tenant_id"`
	Currency              string                  `json:"currency"`
	EffectiveFrom         time.Time               `json:"effective_from,omitempty"`
	MaxWinRules           []policy.MaxWinRule     `json:"max_win_rules"`
	CommissionTiers       []policy.CommissionTier `json:"commission_tiers"`
	AgentRates            []policy.AgentRate      `json:"agent_rates,omitempty"`
	DefaultCommissionRate decimal.Decimal         `json:"default_commission_rate"`
}

// SavePolicy stores the next version of a tenant's policy. Versions are
// immutable; bets keep settling under the version they were placed with.
func (l *Ledger) SavePolicy(ctx context.Context, actor authz.Actor, in SavePolicyInput) (*policy.Policy, error) {
	if err := l.authorize(ctx, actor, authz.CanManagePolicy, in.TenantID); err != nil {
		return nil, err
	}

	now := l.now()
	p := &policy.Policy{
		ID:                    id.NewPolicyID(),
		TenantID:              in.TenantID,
		Currency:              in.Currency,
		EffectiveFrom:         in.EffectiveFrom.UTC(),
		MaxWinRules:           append([]policy.MaxWinRule(nil), in.MaxWinRules...),
		CommissionTiers:       append([]policy.CommissionTier(nil), in.CommissionTiers...),
		AgentRates:            append([]policy.AgentRate(nil), in.AgentRates...),
		DefaultCommissionRate: in.DefaultCommissionRate,
		CreatedBy:             actor.UserID,
		CreatedAt:             now,
	}
	if in.EffectiveFrom.IsZero() {
		p.EffectiveFrom = now
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, ValidationError{Field: "policy", Message: err.Error()}
	}

	err := l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		latest, err := tx.LatestPolicyVersion(ctx, in.TenantID)
		if err != nil {
			return err
		}
		if latest > 0 {
			prev, err := tx.GetPolicyVersion(ctx, in.TenantID, latest)
			if err != nil {
				return err
			}
			if prev.Currency != p.Currency {
				return fmt.Errorf("%w: tenant settles in %s", ErrCurrencyMismatch, prev.Currency)
			}
		}
		p.Version = latest + 1
		if err := tx.CreatePolicy(ctx, p); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				return fmt.Errorf("%w: %w", ErrConflict, err)
			}
			return err
		}

		saved := *p
		u.onCommit(func(ctx context.Context) {
			l.logger.Info("policy saved",
				"tenant_id", saved.TenantID,
				"version", saved.Version,
				"effective_from", saved.EffectiveFrom,
				"max_win_rules", len(saved.MaxWinRules),
				"by", saved.CreatedBy,
			)
			l.plugins.EmitPolicySaved(ctx, &saved)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPolicy returns a policy version, or the version in effect now when
// version is zero.
func (l *Ledger) GetPolicy(ctx context.Context, actor authz.Actor, tenantID string, version int) (*policy.Policy, error) {
	if err := l.authorize(ctx, actor, authz.CanViewPolicy, tenantID); err != nil {
		return nil, err
	}
	if version == 0 {
		return l.store.GetPolicy(ctx, tenantID, l.now())
	}
	return l.store.GetPolicyVersion(ctx, tenantID, version)
}
