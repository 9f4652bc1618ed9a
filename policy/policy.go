// Package policy holds versioned tenant configuration: max-win limits and
// commission rate schedules. Policies are immutable once saved; a change is
// a new version, and every bet records the version it was placed under.
package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/types"
)

// MaxWinRule caps the payout of bets within its scope. Empty dimensions
// match anything.
type MaxWinRule struct {
	ID       id.MaxWinRuleID `json:"id"`
	Sport    string          `json:"sport,omitempty"`
	League   string          `json:"league,omitempty"`
	UserTier string          `json:"user_tier,omitempty"`
	Limit    types.Money     `json:"limit"`
}

// Specificity ranks rules; a league is more specific than a sport.
func (r MaxWinRule) Specificity() int {
	n := 0
	if r.League != "" {
		n += 2
	}
	if r.Sport != "" {
		n++
	}
	if r.UserTier != "" {
		n++
	}
	return n
}

// Matches reports whether every non-empty dimension of r equals target's.
func (r MaxWinRule) Matches(t Target) bool {
	if r.Sport != "" && r.Sport != t.Sport {
		return false
	}
	if r.League != "" && r.League != t.League {
		return false
	}
	if r.UserTier != "" && r.UserTier != t.UserTier {
		return false
	}
	return true
}

// Scope renders the rule's dimensions, e.g. "sport=football,league=epl".
func (r MaxWinRule) Scope() string {
	var parts []string
	if r.Sport != "" {
		parts = append(parts, "sport="+r.Sport)
	}
	if r.League != "" {
		parts = append(parts, "league="+r.League)
	}
	if r.UserTier != "" {
		parts = append(parts, "tier="+r.UserTier)
	}
	if len(parts) == 0 {
		return "global"
	}
	return strings.Join(parts, ",")
}

// Target is what a bet looks like to rule matching. For a parlay Sport and
// League are set only when every selection shares them.
type Target struct {
	Sport    string
	League   string
	UserTier string
}

// CommissionTier applies Rate once an agent's period turnover reaches
// MinTurnover.
type CommissionTier struct {
	MinTurnover types.Money     `json:"min_turnover"`
	Rate        decimal.Decimal `json:"rate"`
}

// AgentRate overrides the tier schedule for one agent.
type AgentRate struct {
	AgentID string          `json:"agent_id"`
	Rate    decimal.Decimal `json:"rate"`
}

// Policy is one immutable version of a tenant's configuration.
type Policy struct {
	ID                    id.PolicyID      `json:"id"`
	TenantID              string           `json:"tenant_id"`
	Version               int              `json:"version"`
	Currency              string           `json:"currency"`
	EffectiveFrom         time.Time        `json:"effective_from"`
	MaxWinRules           []MaxWinRule     `json:"max_win_rules"`
	CommissionTiers       []CommissionTier `json:"commission_tiers"`
	AgentRates            []AgentRate      `json:"agent_rates,omitempty"`
	DefaultCommissionRate decimal.Decimal  `json:"default_commission_rate"`
	CreatedBy             string           `json:"created_by,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
}

// ApplicableRule returns the most specific rule matching target. Ties go
// to the smaller limit. It returns nil when nothing matches.
func (p *Policy) ApplicableRule(t Target) *MaxWinRule {
	var best *MaxWinRule
	for i := range p.MaxWinRules {
		r := &p.MaxWinRules[i]
		if !r.Matches(t) {
			continue
		}
		switch {
		case best == nil:
			best = r
		case r.Specificity() > best.Specificity():
			best = r
		case r.Specificity() == best.Specificity() && r.Limit.LessThan(best.Limit):
			best = r
		}
	}
	return best
}

// CommissionRate resolves the rate for an agent with the given cumulative
// turnover: an agent override first, then the highest tier reached, then
// the default.
func (p *Policy) CommissionRate(agentID string, turnover types.Money) decimal.Decimal {
	for _, ar := range p.AgentRates {
		if ar.AgentID == agentID {
			return ar.Rate
		}
	}
	rate, best := p.DefaultCommissionRate, int64(-1)
	for _, tier := range p.CommissionTiers {
		if turnover.Amount >= tier.MinTurnover.Amount && tier.MinTurnover.Amount > best {
			rate, best = tier.Rate, tier.MinTurnover.Amount
		}
	}
	return rate
}

// Validate checks the policy is internally consistent.
func (p *Policy) Validate() error {
	if p.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if p.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	one := decimal.NewFromInt(1)
	checkRate := func(what string, r decimal.Decimal) error {
		if r.IsNegative() || r.GreaterThan(one) {
			return fmt.Errorf("%s rate %s outside [0,1]", what, r)
		}
		return nil
	}
	if err := checkRate("default", p.DefaultCommissionRate); err != nil {
		return err
	}
	for i, r := range p.MaxWinRules {
		if r.Limit.Currency != p.Currency {
			return fmt.Errorf("max_win_rules[%d]: currency %q does not match policy %q", i, r.Limit.Currency, p.Currency)
		}
		if !r.Limit.IsPositive() {
			return fmt.Errorf("max_win_rules[%d]: limit must be positive", i)
		}
	}
	for i, tier := range p.CommissionTiers {
		if tier.MinTurnover.IsNegative() {
			return fmt.Errorf("commission_tiers[%d]: negative min_turnover", i)
		}
		if err := checkRate(fmt.Sprintf("commission_tiers[%d]", i), tier.Rate); err != nil {
			return err
		}
	}
	for _, ar := range p.AgentRates {
		if err := checkRate("agent "+ar.AgentID, ar.Rate); err != nil {
			return err
		}
	}
	return nil
}

// Normalize assigns rule ids and orders tiers by threshold.
func (p *Policy) Normalize() {
	p.Currency = strings.ToLower(p.Currency)
	for i := range p.MaxWinRules {
		if p.MaxWinRules[i].ID.IsNil() {
			p.MaxWinRules[i].ID = id.NewMaxWinRuleID()
		}
	}
	sort.SliceStable(p.CommissionTiers, func(i, j int) bool {
		return p.CommissionTiers[i].MinTurnover.Amount < p.CommissionTiers[j].MinTurnover.Amount
	})
}
