package policy_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/xraph/betledger/policy"
	"github.com/xraph/betledger/types"
)

func testPolicy() *policy.Policy {
	p := &policy.Policy{
		TenantID: "t1",
		Currency: "kes",
		MaxWinRules: []policy.MaxWinRule{
			{Limit: types.KES(10_000_000)},
			{Sport: "football", Limit: types.KES(5_000_000)},
			{Sport: "football", League: "epl", Limit: types.KES(8_000_000)},
			{UserTier: "vip", Limit: types.KES(20_000_000)},
			{UserTier: "new", Limit: types.KES(1_000_000)},
		},
		CommissionTiers: []policy.CommissionTier{
			{MinTurnover: types.KES(1_000_000), Rate: decimal.RequireFromString("0.07")},
			{MinTurnover: types.KES(0), Rate: decimal.RequireFromString("0.05")},
			{MinTurnover: types.KES(5_000_000), Rate: decimal.RequireFromString("0.10")},
		},
		AgentRates: []policy.AgentRate{
			{AgentID: "star", Rate: decimal.RequireFromString("0.15")},
		},
		DefaultCommissionRate: decimal.RequireFromString("0.03"),
	}
	p.Normalize()
	return p
}

func TestApplicableRule(t *testing.T) {
	p := testPolicy()

	tests := []struct {
		name   string
		target policy.Target
		want   int64
	}{
		{"global only", policy.Target{Sport: "tennis"}, 10_000_000},
		{"sport beats global", policy.Target{Sport: "football", League: "laliga"}, 5_000_000},
		{"league beats sport", policy.Target{Sport: "football", League: "epl"}, 8_000_000},
		{"league beats tier", policy.Target{Sport: "football", League: "epl", UserTier: "vip"}, 8_000_000},
		{"tier and sport tie goes to smaller", policy.Target{Sport: "football", UserTier: "vip"}, 5_000_000},
		{"tier on mixed parlay", policy.Target{UserTier: "new"}, 1_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := p.ApplicableRule(tt.target)
			if r == nil {
				t.Fatal("expected a rule")
			}
			if r.Limit.Amount != tt.want {
				t.Errorf("limit = %d, want %d (scope %s)", r.Limit.Amount, tt.want, r.Scope())
			}
		})
	}
}

func TestApplicableRuleNone(t *testing.T) {
	p := &policy.Policy{MaxWinRules: []policy.MaxWinRule{{Sport: "football", Limit: types.KES(1)}}}
	if r := p.ApplicableRule(policy.Target{Sport: "tennis"}); r != nil {
		t.Errorf("expected no rule, got %s", r.Scope())
	}
}

func TestRuleScope(t *testing.T) {
	tests := []struct {
		rule policy.MaxWinRule
		want string
	}{
		{policy.MaxWinRule{}, "global"},
		{policy.MaxWinRule{Sport: "football"}, "sport=football"},
		{policy.MaxWinRule{Sport: "football", League: "epl", UserTier: "vip"}, "sport=football,league=epl,tier=vip"},
	}
	for _, tt := range tests {
		if got := tt.rule.Scope(); got != tt.want {
			t.Errorf("Scope() = %q, want %q", got, tt.want)
		}
	}
}

func TestCommissionRate(t *testing.T) {
	p := testPolicy()

	tests := []struct {
		name     string
		agent    string
		turnover int64
		want     string
	}{
		{"override wins", "star", 10, "0.15"},
		{"lowest tier", "a1", 500_000, "0.05"},
		{"middle tier at threshold", "a1", 1_000_000, "0.07"},
		{"top tier", "a1", 9_000_000, "0.10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.CommissionRate(tt.agent, types.KES(tt.turnover))
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("rate = %s, want %s", got, tt.want)
			}
		})
	}

	bare := &policy.Policy{DefaultCommissionRate: decimal.RequireFromString("0.03")}
	if got := bare.CommissionRate("a1", types.KES(100)); !got.Equal(decimal.RequireFromString("0.03")) {
		t.Errorf("default rate = %s", got)
	}
}

func TestNormalize(t *testing.T) {
	p := testPolicy()
	for i, r := range p.MaxWinRules {
		if r.ID.IsNil() {
			t.Errorf("rule %d has no id", i)
		}
	}
	for i := 1; i < len(p.CommissionTiers); i++ {
		if p.CommissionTiers[i-1].MinTurnover.Amount > p.CommissionTiers[i].MinTurnover.Amount {
			t.Fatal("tiers not sorted")
		}
	}
}

func TestValidate(t *testing.T) {
	if err := testPolicy().Validate(); err != nil {
		t.Fatalf("valid policy rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(p *policy.Policy)
	}{
		{"missing tenant", func(p *policy.Policy) { p.TenantID = "" }},
		{"missing currency", func(p *policy.Policy) { p.Currency = "" }},
		{"rule currency", func(p *policy.Policy) { p.MaxWinRules[0].Limit = types.USD(100) }},
		{"zero limit", func(p *policy.Policy) { p.MaxWinRules[0].Limit = types.KES(0) }},
		{"rate above one", func(p *policy.Policy) { p.DefaultCommissionRate = decimal.NewFromInt(2) }},
		{"negative tier rate", func(p *policy.Policy) { p.CommissionTiers[0].Rate = decimal.NewFromInt(-1) }},
		{"agent rate", func(p *policy.Policy) { p.AgentRates[0].Rate = decimal.NewFromInt(3) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPolicy()
			tt.mutate(p)
			if err := p.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
