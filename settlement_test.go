package betledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/authz"
	"github.com/xraph/betledger/bet"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/policy"
	"github.com/xraph/betledger/types"
)

type capRecorder struct {
	mu     sync.Mutex
	capped []string
}

func (r *capRecorder) Name() string { return "cap-recorder" }

func (r *capRecorder) OnMaxWinApplied(_ context.Context, b *bet.Bet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capped = append(r.capped, b.ID.String())
	return nil
}

func (r *capRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.capped)
}

func TestMaxWinCapsPayout(t *testing.T) {
	rec := &capRecorder{}
	f := newFixture(t, betledger.WithPlugin(rec))
	pol := f.savePolicy(
		policy.MaxWinRule{Limit: kes(1_000_000)},
		policy.MaxWinRule{Sport: "football", Limit: kes(500_000)},
	)
	var footballRule policy.MaxWinRule
	for _, r := range pol.MaxWinRules {
		if r.Sport == "football" {
			footballRule = r
		}
	}
	player := f.fundedPlayer("ply-1", 100)

	b := f.placeBet("ply-1", "agt-1", 100, selection("m1", "6000", "football", "laliga"))
	if b.PotentialPayout.Amount != 500_000 {
		t.Errorf("potential payout = %d, want 500000", b.PotentialPayout.Amount)
	}
	if got := f.available(player.ID); got != 0 {
		t.Fatalf("player after stake = %d, want 0", got)
	}

	settled, err := f.ledger.SettleBet(f.ctx, system, betledger.SettleBetInput{
		TenantID: tenant,
		BetID:    b.ID,
		Results:  []bet.EventResult{won("m1")},
	})
	if err != nil {
		t.Fatalf("SettleBet: %v", err)
	}
	bd := settled.Breakdown
	if settled.Status != bet.StatusWon {
		t.Fatalf("status = %s, want won", settled.Status)
	}
	if bd.GrossWin.Amount != 600_000 || bd.NetAmount.Amount != 500_000 || bd.Deduction.Amount != 100_000 {
		t.Errorf("gross/net/deduction = %d/%d/%d, want 600000/500000/100000",
			bd.GrossWin.Amount, bd.NetAmount.Amount, bd.Deduction.Amount)
	}
	if !bd.Capped || bd.AppliedRule == nil {
		t.Fatalf("breakdown not capped: %+v", bd)
	}
	if bd.AppliedRule.RuleID != footballRule.ID || bd.AppliedRule.Scope != "sport=football" {
		t.Errorf("applied rule = %+v, want football rule %s", bd.AppliedRule, footballRule.ID)
	}
	if bd.AppliedRule.PolicyVersion != pol.Version {
		t.Errorf("policy version = %d, want %d", bd.AppliedRule.PolicyVersion, pol.Version)
	}
	if settled.ActualPayout.Amount != 500_000 {
		t.Errorf("actual payout = %d", settled.ActualPayout.Amount)
	}
	if got := f.available(player.ID); got != 500_000 {
		t.Errorf("player = %d, want 500000", got)
	}
	if rec.count() != 1 {
		t.Errorf("max win alerts = %d, want 1", rec.count())
	}
	f.checkInvariants()
}

func TestSettleBetOnce(t *testing.T) {
	f := newFixture(t)
	f.savePolicy()
	player := f.fundedPlayer("ply-1", 1000)
	b := f.placeBet("ply-1", "agt-1", 200, selection("e1", "2.5", "football", "epl"))

	in := betledger.SettleBetInput{TenantID: tenant, BetID: b.ID, Results: []bet.EventResult{won("e1")}}
	first, err := f.ledger.SettleBet(f.ctx, system, in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.ledger.SettleBet(f.ctx, system, in)
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if second.SettlementTxID != first.SettlementTxID || second.Status != bet.StatusWon {
		t.Errorf("second settle changed the bet: %s %s", second.Status, second.SettlementTxID)
	}
	if n := len(f.entriesOf(player.ID, entry.TypePayout)); n != 1 {
		t.Errorf("payout entries = %d, want 1", n)
	}
	if got := f.available(player.ID); got != 1000-200+500 {
		t.Errorf("player = %d, want 1300", got)
	}

	// A later, contradictory result does not reopen the bet.
	again, err := f.ledger.SettleBet(f.ctx, system, betledger.SettleBetInput{
		TenantID: tenant, BetID: b.ID, Results: []bet.EventResult{lost("e1")},
	})
	if err != nil || again.Status != bet.StatusWon {
		t.Errorf("resettle = %v, %v", again, err)
	}
	f.checkInvariants()
}

func TestSettleBetConcurrently(t *testing.T) {
	f := newFixture(t)
	f.savePolicy()
	player := f.fundedPlayer("ply-1", 1000)
	b := f.placeBet("ply-1", "agt-1", 100, selection("e1", "3", "tennis", "atp"))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.SettleBet(f.ctx, system, betledger.SettleBetInput{
				TenantID: tenant, BetID: b.ID, Results: []bet.EventResult{won("e1")},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("SettleBet: %v", err)
		}
	}
	if n := len(f.entriesOf(player.ID, entry.TypePayout)); n != 1 {
		t.Fatalf("payout entries = %d, want 1", n)
	}
	if got := f.available(player.ID); got != 1000-100+300 {
		t.Errorf("player = %d, want 1200", got)
	}
	f.checkInvariants()
}

func TestParlaySettlement(t *testing.T) {
	legs := func() []bet.Selection {
		return []bet.Selection{
			selection("e1", "1.5", "football", "epl"),
			selection("e2", "2.0", "football", "epl"),
			selection("e3", "3.0", "football", "laliga"),
		}
	}

	tests := []struct {
		name       string
		results    []bet.EventResult
		wantStatus bet.Status
		wantPayout int64
		wantOdds   string
		wantVoid   int
	}{
		{
			name:       "one lost leg loses the parlay",
			results:    []bet.EventResult{won("e1"), won("e2"), lost("e3")},
			wantStatus: bet.StatusLost,
			wantPayout: 0,
			wantOdds:   "3",
		},
		{
			name:       "void leg drops out of the odds",
			results:    []bet.EventResult{cancelled("e1"), won("e2"), won("e3")},
			wantStatus: bet.StatusWon,
			wantPayout: 600,
			wantOdds:   "6",
			wantVoid:   1,
		},
		{
			name:       "every leg won",
			results:    []bet.EventResult{won("e1"), won("e2"), won("e3")},
			wantStatus: bet.StatusWon,
			wantPayout: 900,
			wantOdds:   "9",
		},
		{
			name:       "every leg void refunds the stake",
			results:    []bet.EventResult{cancelled("e1"), cancelled("e2"), cancelled("e3")},
			wantStatus: bet.StatusVoid,
			wantPayout: 100,
			wantOdds:   "1",
			wantVoid:   3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.savePolicy()
			player := f.fundedPlayer("ply-1", 100)
			b := f.placeBet("ply-1", "agt-1", 100, legs()...)
			if !b.TotalOdds.Equal(odds("9")) {
				t.Fatalf("total odds = %s, want 9", b.TotalOdds)
			}

			settled, err := f.ledger.SettleBet(f.ctx, system, betledger.SettleBetInput{
				TenantID: tenant, BetID: b.ID, Results: tt.results,
			})
			if err != nil {
				t.Fatal(err)
			}
			if settled.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", settled.Status, tt.wantStatus)
			}
			if settled.ActualPayout.Amount != tt.wantPayout {
				t.Errorf("payout = %d, want %d", settled.ActualPayout.Amount, tt.wantPayout)
			}
			if !settled.Breakdown.EffectiveOdds.Equal(odds(tt.wantOdds)) {
				t.Errorf("effective odds = %s, want %s", settled.Breakdown.EffectiveOdds, tt.wantOdds)
			}
			if len(settled.Breakdown.VoidSelections) != tt.wantVoid {
				t.Errorf("void selections = %d, want %d", len(settled.Breakdown.VoidSelections), tt.wantVoid)
			}
			if got := f.available(player.ID); got != tt.wantPayout {
				t.Errorf("player = %d, want %d", got, tt.wantPayout)
			}
			f.checkInvariants()
		})
	}
}

func TestSettleBetMissingResult(t *testing.T) {
	f := newFixture(t)
	f.savePolicy()
	f.fundedPlayer("ply-1", 100)
	b := f.placeBet("ply-1", "agt-1", 100,
		selection("e1", "1.5", "football", "epl"),
		selection("e2", "2.0", "football", "epl"),
	)

	_, err := f.ledger.SettleBet(f.ctx, system, betledger.SettleBetInput{
		TenantID: tenant, BetID: b.ID, Results: []bet.EventResult{won("e1")},
	})
	if !errors.Is(err, betledger.ErrResultUnavailable) {
		t.Fatalf("err = %v, want ErrResultUnavailable", err)
	}
	got, err := f.ledger.GetBet(f.ctx, playerActor("ply-1"), tenant, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != bet.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}

	// Another player cannot read it.
	if _, err := f.ledger.GetBet(f.ctx, playerActor("ply-2"), tenant, b.ID); !errors.Is(err, betledger.ErrInsufficientAuthority) {
		t.Errorf("err = %v, want ErrInsufficientAuthority", err)
	}
}

func TestManualSettleBet(t *testing.T) {
	f := newFixture(t)
	f.savePolicy()
	player := f.fundedPlayer("ply-1", 100)
	b := f.placeBet("ply-1", "agt-1", 100,
		selection("e1", "2", "football", "epl"),
		selection("e2", "1.5", "football", "epl"),
	)
	operator := authz.Actor{UserID: "op-1", Role: authz.RoleOperator, TenantID: tenant}

	tests := []struct {
		name  string
		actor authz.Actor
		in    betledger.ManualSettleInput
		want  error
	}{
		{
			name:  "reason required",
			actor: risk,
			in:    betledger.ManualSettleInput{TenantID: tenant, BetID: b.ID, Outcome: bet.StatusWon},
			want:  betledger.ErrReasonRequired,
		},
		{
			name:  "operator may not override",
			actor: operator,
			in:    betledger.ManualSettleInput{TenantID: tenant, BetID: b.ID, Outcome: bet.StatusWon, Reason: "feed outage"},
			want:  betledger.ErrInsufficientAuthority,
		},
		{
			name:  "pending is not an outcome",
			actor: risk,
			in:    betledger.ManualSettleInput{TenantID: tenant, BetID: b.ID, Outcome: bet.StatusPending, Reason: "feed outage"},
			want:  betledger.ErrInvalidOutcome,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.ledger.ManualSettleBet(f.ctx, tt.actor, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	settled, err := f.ledger.ManualSettleBet(f.ctx, risk, betledger.ManualSettleInput{
		TenantID: tenant, BetID: b.ID, Outcome: bet.StatusWon, Reason: "feed outage, result confirmed by phone",
	})
	if err != nil {
		t.Fatalf("ManualSettleBet: %v", err)
	}
	if settled.ActualPayout.Amount != 300 {
		t.Errorf("payout = %d, want 300", settled.ActualPayout.Amount)
	}
	ov := settled.Breakdown.Override
	if ov == nil || ov.ActorID != risk.UserID || ov.Role != string(authz.RoleRiskManager) {
		t.Errorf("override = %+v", ov)
	}
	if got := f.available(player.ID); got != 300 {
		t.Errorf("player = %d, want 300", got)
	}

	_, err = f.ledger.ManualSettleBet(f.ctx, risk, betledger.ManualSettleInput{
		TenantID: tenant, BetID: b.ID, Outcome: bet.StatusLost, Reason: "changed my mind",
	})
	if !errors.Is(err, betledger.ErrBetAlreadySettled) {
		t.Fatalf("err = %v, want ErrBetAlreadySettled", err)
	}
	f.checkInvariants()
}

func TestCancelBet(t *testing.T) {
	f := newFixture(t)
	f.savePolicy()
	player := f.fundedPlayer("ply-1", 500)
	b := f.placeBet("ply-1", "agt-1", 200, selection("e1", "4", "basketball", "nba"))

	cancelled, err := f.ledger.CancelBet(f.ctx, admin, betledger.CancelBetInput{
		TenantID: tenant, BetID: b.ID, Reason: "market suspended",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != bet.StatusCancelled || cancelled.ActualPayout.Amount != 200 {
		t.Errorf("cancelled bet = %s, payout %d", cancelled.Status, cancelled.ActualPayout.Amount)
	}
	if got := f.available(player.ID); got != 500 {
		t.Errorf("player = %d, want 500", got)
	}
	if n := len(f.entriesOf(player.ID, entry.TypeRefund)); n != 1 {
		t.Errorf("refund entries = %d, want 1", n)
	}
	f.checkInvariants()
}

func TestPlaceBet(t *testing.T) {
	t.Run("requires a policy", func(t *testing.T) {
		f := newFixture(t)
		f.fundedPlayer("ply-1", 100)
		_, err := f.ledger.PlaceBet(f.ctx, playerActor("ply-1"), betledger.PlaceBetInput{
			TenantID: tenant, IdempotencyKey: "b1", PlayerID: "ply-1", Stake: kes(10),
			Selections: []bet.Selection{selection("e1", "2", "football", "epl")},
		})
		if !errors.Is(err, betledger.ErrPolicyNotFound) {
			t.Fatalf("err = %v, want ErrPolicyNotFound", err)
		}
	})

	f := newFixture(t)
	f.savePolicy()
	player := f.fundedPlayer("ply-1", 100)

	tests := []struct {
		name  string
		actor authz.Actor
		in    betledger.PlaceBetInput
		want  error
	}{
		{
			name:  "odds of one",
			actor: playerActor("ply-1"),
			in: betledger.PlaceBetInput{TenantID: tenant, IdempotencyKey: "b1", PlayerID: "ply-1", Stake: kes(10),
				Selections: []bet.Selection{selection("e1", "1", "football", "epl")}},
			want: betledger.ErrInvalidOdds,
		},
		{
			name:  "no selections",
			actor: playerActor("ply-1"),
			in:    betledger.PlaceBetInput{TenantID: tenant, IdempotencyKey: "b2", PlayerID: "ply-1", Stake: kes(10)},
			want:  betledger.ErrInvalidInput,
		},
		{
			name:  "stake above balance",
			actor: playerActor("ply-1"),
			in: betledger.PlaceBetInput{TenantID: tenant, IdempotencyKey: "b3", PlayerID: "ply-1", Stake: kes(101),
				Selections: []bet.Selection{selection("e1", "2", "football", "epl")}},
			want: betledger.ErrInsufficientFunds,
		},
		{
			name:  "foreign currency",
			actor: playerActor("ply-1"),
			in: betledger.PlaceBetInput{TenantID: tenant, IdempotencyKey: "b4", PlayerID: "ply-1", Stake: types.USD(10),
				Selections: []bet.Selection{selection("e1", "2", "football", "epl")}},
			want: betledger.ErrCurrencyMismatch,
		},
		{
			name:  "betting from someone else's wallet",
			actor: playerActor("ply-2"),
			in: betledger.PlaceBetInput{TenantID: tenant, IdempotencyKey: "b5", PlayerID: "ply-1", Stake: kes(10),
				Selections: []bet.Selection{selection("e1", "2", "football", "epl")}},
			want: betledger.ErrInsufficientAuthority,
		},
		{
			name:  "missing key",
			actor: playerActor("ply-1"),
			in: betledger.PlaceBetInput{TenantID: tenant, PlayerID: "ply-1", Stake: kes(10),
				Selections: []bet.Selection{selection("e1", "2", "football", "epl")}},
			want: betledger.ErrMissingIdempotencyKey,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.ledger.PlaceBet(f.ctx, tt.actor, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if got := f.available(player.ID); got != 100 {
		t.Fatalf("rejected bets moved money: player = %d", got)
	}

	t.Run("idempotent", func(t *testing.T) {
		in := betledger.PlaceBetInput{
			TenantID: tenant, IdempotencyKey: "slip-42", PlayerID: "ply-1", Stake: kes(40),
			Selections: []bet.Selection{selection("e1", "2", "football", "epl")},
		}
		first, err := f.ledger.PlaceBet(f.ctx, playerActor("ply-1"), in)
		if err != nil {
			t.Fatal(err)
		}
		second, err := f.ledger.PlaceBet(f.ctx, playerActor("ply-1"), in)
		if err != nil {
			t.Fatal(err)
		}
		if first.ID != second.ID || first.StakeTxID != second.StakeTxID {
			t.Fatalf("replay placed a second bet")
		}
		if got := f.available(player.ID); got != 60 {
			t.Errorf("player = %d, want 60", got)
		}
		if first.PolicyVersion != 1 || first.PlacedBy != bet.PlacedByPlayer {
			t.Errorf("bet = version %d placed by %s", first.PolicyVersion, first.PlacedBy)
		}
	})
	f.checkInvariants()
}

func TestPlaceBetOnBehalf(t *testing.T) {
	f := newFixture(t)
	f.savePolicy()
	f.agent("agt-1", "", 0)
	f.topupAgent("agt-1", 5000)
	line, err := f.ledger.GetFloatLine(f.ctx, agentActor("agt-1"), tenant, "agt-1")
	if err != nil {
		t.Fatal(err)
	}

	b, err := f.ledger.PlaceBet(f.ctx, agentActor("agt-1"), betledger.PlaceBetInput{
		TenantID:       tenant,
		IdempotencyKey: "walkin-1",
		AgentID:        "agt-1",
		OnBehalf:       true,
		Channel:        "retail",
		Stake:          kes(1000),
		Selections:     []bet.Selection{selection("e1", "2", "football", "epl")},
	})
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	if b.PlacedBy != bet.PlacedByAgent || b.PayoutAccountID != line.AccountID {
		t.Fatalf("bet placed by %s pays %s, want agent account %s", b.PlacedBy, b.PayoutAccountID, line.AccountID)
	}
	if _, err := f.ledger.SettleBet(f.ctx, system, betledger.SettleBetInput{
		TenantID: tenant, BetID: b.ID, Results: []bet.EventResult{won("e1")},
	}); err != nil {
		t.Fatal(err)
	}
	if got := f.available(line.AccountID); got != 5000-1000+2000 {
		t.Errorf("agent float = %d, want 6000", got)
	}

	bets, err := f.ledger.ListBets(f.ctx, agentActor("agt-1"), bet.ListOpts{TenantID: tenant})
	if err != nil {
		t.Fatal(err)
	}
	if len(bets) != 1 || bets[0].ID != b.ID {
		t.Errorf("agent sees %d bets", len(bets))
	}
	f.checkInvariants()
}

func TestValidateMaxWin(t *testing.T) {
	f := newFixture(t)
	f.savePolicy(
		policy.MaxWinRule{Sport: "football", Limit: kes(10_000)},
		policy.MaxWinRule{Sport: "football", UserTier: "vip", Limit: kes(50_000)},
	)
	sels := []bet.Selection{
		selection("e1", "10", "football", "epl"),
		selection("e2", "5", "football", "seriea"),
	}

	tests := []struct {
		name   string
		tier   string
		net    int64
		capped bool
	}{
		{"standard tier", "", 10_000, true},
		{"vip tier", "vip", 25_000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bd, err := f.ledger.ValidateMaxWin(f.ctx, playerActor("ply-1"), betledger.ValidateMaxWinInput{
				TenantID: tenant, Stake: kes(500), Selections: sels, UserTier: tt.tier,
			})
			if err != nil {
				t.Fatal(err)
			}
			if bd.GrossWin.Amount != 25_000 || bd.NetAmount.Amount != tt.net || bd.Capped != tt.capped {
				t.Errorf("breakdown gross %d net %d capped %v", bd.GrossWin.Amount, bd.NetAmount.Amount, bd.Capped)
			}
		})
	}
}
