package betledger_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/authz"
	"github.com/xraph/betledger/bet"
	"github.com/xraph/betledger/store/memory"
	"github.com/xraph/betledger/types"
)

// TestDocumentationExamples walks the flow described in the package docs.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Memory store for demo, use PostgreSQL in production.
		store := memory.New()

		l := betledger.New(store,
			betledger.WithLogger(slog.Default()),
			betledger.WithReconcileInterval(time.Hour),
		)

		ctx := context.Background()
		if err := l.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer l.Stop()

		admin := authz.Actor{UserID: "ops-1", Role: authz.RoleTenantAdmin, TenantID: "tnt_demo"}
		agent := authz.Actor{UserID: "agt-9", Role: authz.RoleAgent, TenantID: "tnt_demo"}
		player := authz.Actor{UserID: "ply-7", Role: authz.RolePlayer, TenantID: "tnt_demo"}

		if _, err := l.SavePolicy(ctx, admin, betledger.SavePolicyInput{
			TenantID:              "tnt_demo",
			Currency:              "kes",
			DefaultCommissionRate: decimal.RequireFromString("0.05"),
		}); err != nil {
			t.Fatal(err)
		}

		if _, err := l.RegisterAgent(ctx, admin, betledger.RegisterAgentInput{
			TenantID:  "tnt_demo",
			AgentID:   "agt-9",
			OwnerType: account.OwnerAgent,
			Currency:  "kes",
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := l.TopupFloat(ctx, admin, betledger.TopupFloatInput{
			TenantID:       "tnt_demo",
			IdempotencyKey: "float-1",
			AgentID:        "agt-9",
			Amount:         betledger.KES(100000),
			FundingType:    account.FundingMobileMoney,
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := l.EnsureAccount(ctx, admin, betledger.EnsureAccountInput{
			TenantID:  "tnt_demo",
			OwnerType: account.OwnerPlayer,
			OwnerID:   "ply-7",
			Currency:  "kes",
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := l.TopupPlayer(ctx, agent, betledger.TopupPlayerInput{
			TenantID:         "tnt_demo",
			IdempotencyKey:   "cashin-1",
			AgentID:          "agt-9",
			PlayerIdentifier: "ply-7",
			Amount:           betledger.KES(5000),
		}); err != nil {
			t.Fatal(err)
		}

		b, err := l.PlaceBet(ctx, player, betledger.PlaceBetInput{
			TenantID:       "tnt_demo",
			IdempotencyKey: "slip-1",
			PlayerID:       "ply-7",
			AgentID:        "agt-9",
			Stake:          betledger.KES(1000),
			Selections: []bet.Selection{{
				EventID:   "ars-che",
				MarketID:  "1x2",
				OutcomeID: "home",
				Odds:      decimal.RequireFromString("2.5"),
				Sport:     "football",
			}},
		})
		if err != nil {
			t.Fatal(err)
		}

		settled, err := l.SettleBet(ctx, authz.System(), betledger.SettleBetInput{
			TenantID: "tnt_demo",
			BetID:    b.ID,
			Results: []bet.EventResult{{
				EventID: "ars-che",
				Status:  bet.EventCompleted,
				Markets: map[string]bet.MarketResult{"1x2": {WinningOutcomes: []string{"home"}}},
			}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if settled.ActualPayout.Amount != 2500 {
			t.Errorf("payout = %s, want KSh 25.00", settled.ActualPayout)
		}

		wallet, err := l.LookupAccount(ctx, player, "tnt_demo", account.OwnerPlayer, "ply-7")
		if err != nil {
			t.Fatal(err)
		}
		rec, err := l.RebuildBalance(ctx, admin, wallet.ID)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Diverged || rec.Replayed.Amount != 6500 {
			t.Errorf("reconciliation = %+v", rec)
		}
	})

	t.Run("MoneyExamples", func(t *testing.T) {
		_ = types.KES(15000)  // KSh 150.00
		_ = types.NGN(250)    // ₦2.50
		_ = types.Zero("kes") // KSh 0.00

		m1 := types.KES(100)
		m2 := types.KES(200)
		if got := m1.Add(m2); got.Amount != 300 {
			t.Errorf("Add = %d", got.Amount)
		}
		if got := m1.MulDecimal(decimal.RequireFromString("2.5")); got.Amount != 250 {
			t.Errorf("MulDecimal = %d", got.Amount)
		}
		if !m1.LessThan(m2) {
			t.Error("LessThan")
		}
		if got := m1.FormatMajor(); got != "1.00" {
			t.Errorf("FormatMajor = %q", got)
		}
	})
}
