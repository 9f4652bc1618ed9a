package betledger_test

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/authz"
	"github.com/xraph/betledger/bet"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/policy"
	"github.com/xraph/betledger/store/memory"
	"github.com/xraph/betledger/types"
)

const (
	tenant   = "tnt_alpha"
	currency = "kes"
)

var (
	admin   = authz.Actor{UserID: "admin-1", Role: authz.RoleTenantAdmin, TenantID: tenant}
	finance = authz.Actor{UserID: "fin-1", Role: authz.RoleFinance, TenantID: tenant}
	risk    = authz.Actor{UserID: "risk-1", Role: authz.RoleRiskManager, TenantID: tenant}
	system  = authz.System()
)

func agentActor(agentID string) authz.Actor {
	return authz.Actor{UserID: agentID, Role: authz.RoleAgent, TenantID: tenant}
}

func subAgentActor(agentID string) authz.Actor {
	return authz.Actor{UserID: agentID, Role: authz.RoleSubAgent, TenantID: tenant}
}

func playerActor(playerID string) authz.Actor {
	return authz.Actor{UserID: playerID, Role: authz.RolePlayer, TenantID: tenant}
}

func kes(n int64) types.Money { return types.KES(n) }

func odds(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	ledger *betledger.Ledger
	now    time.Time
	keys   int
}

func newFixture(t *testing.T, opts ...betledger.Option) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: memory.New(),
		now:   time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
	}
	base := []betledger.Option{
		betledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		betledger.WithClock(func() time.Time { return f.now }),
	}
	f.ledger = betledger.New(f.store, append(base, opts...)...)
	return f
}

func (f *fixture) key(prefix string) string {
	f.keys++
	return prefix + "-" + strconv.Itoa(f.keys)
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) savePolicy(rules ...policy.MaxWinRule) *policy.Policy {
	f.t.Helper()
	p, err := f.ledger.SavePolicy(f.ctx, admin, betledger.SavePolicyInput{
		TenantID:              tenant,
		Currency:              currency,
		MaxWinRules:           rules,
		DefaultCommissionRate: odds("0.1"),
	})
	if err != nil {
		f.t.Fatalf("SavePolicy: %v", err)
	}
	return p
}

func (f *fixture) treasury() *account.Account {
	f.t.Helper()
	a, err := f.ledger.EnsureAccount(f.ctx, admin, betledger.EnsureAccountInput{
		TenantID:  tenant,
		OwnerType: account.OwnerTenant,
		OwnerID:   tenant,
		Currency:  currency,
	})
	if err != nil {
		f.t.Fatalf("EnsureAccount(tenant): %v", err)
	}
	return a
}

func (f *fixture) player(playerID string) *account.Account {
	f.t.Helper()
	a, err := f.ledger.EnsureAccount(f.ctx, admin, betledger.EnsureAccountInput{
		TenantID:  tenant,
		OwnerType: account.OwnerPlayer,
		OwnerID:   playerID,
		Currency:  currency,
	})
	if err != nil {
		f.t.Fatalf("EnsureAccount(%s): %v", playerID, err)
	}
	return a
}

func (f *fixture) agent(agentID, parentID string, creditLimit int64) *account.FloatLine {
	f.t.Helper()
	ownerType := account.OwnerAgent
	if parentID != "" {
		ownerType = account.OwnerSubAgent
	}
	line, err := f.ledger.RegisterAgent(f.ctx, admin, betledger.RegisterAgentInput{
		TenantID:      tenant,
		AgentID:       agentID,
		OwnerType:     ownerType,
		ParentAgentID: parentID,
		Currency:      currency,
		CreditLimit:   kes(creditLimit),
	})
	if err != nil {
		f.t.Fatalf("RegisterAgent(%s): %v", agentID, err)
	}
	return line
}

func (f *fixture) topupAgent(agentID string, amount int64) *entry.Transaction {
	f.t.Helper()
	txn, err := f.ledger.TopupFloat(f.ctx, admin, betledger.TopupFloatInput{
		TenantID:       tenant,
		IdempotencyKey: f.key("topup"),
		AgentID:        agentID,
		Amount:         kes(amount),
		FundingType:    account.FundingCash,
	})
	if err != nil {
		f.t.Fatalf("TopupFloat(%s): %v", agentID, err)
	}
	return txn
}

func (f *fixture) fundPlayer(agentID, playerID string, amount int64) {
	f.t.Helper()
	if _, err := f.ledger.TopupPlayer(f.ctx, agentActor(agentID), betledger.TopupPlayerInput{
		TenantID:         tenant,
		IdempotencyKey:   f.key("cashin"),
		AgentID:          agentID,
		PlayerIdentifier: playerID,
		Amount:           kes(amount),
	}); err != nil {
		f.t.Fatalf("TopupPlayer(%s): %v", playerID, err)
	}
}

// fundedPlayer registers agent "agt-1", funds it and tops up a player.
func (f *fixture) fundedPlayer(playerID string, amount int64) *account.Account {
	f.t.Helper()
	if _, err := f.store.GetFloatLine(f.ctx, tenant, "agt-1"); err != nil {
		f.agent("agt-1", "", 0)
		f.topupAgent("agt-1", 1_000_000)
	}
	a := f.player(playerID)
	f.fundPlayer("agt-1", playerID, amount)
	return a
}

func (f *fixture) balance(accountID id.AccountID) *account.Balance {
	f.t.Helper()
	b, err := f.store.GetBalance(f.ctx, accountID)
	if err != nil {
		f.t.Fatalf("GetBalance: %v", err)
	}
	return b
}

func (f *fixture) available(accountID id.AccountID) int64 {
	return f.balance(accountID).Available.Amount
}

func (f *fixture) placeBet(playerID, agentID string, stake int64, selections ...bet.Selection) *bet.Bet {
	f.t.Helper()
	b, err := f.ledger.PlaceBet(f.ctx, playerActor(playerID), betledger.PlaceBetInput{
		TenantID:       tenant,
		IdempotencyKey: f.key("bet"),
		PlayerID:       playerID,
		AgentID:        agentID,
		Stake:          kes(stake),
		Selections:     selections,
	})
	if err != nil {
		f.t.Fatalf("PlaceBet: %v", err)
	}
	return b
}

func selection(event, o string, sport, league string) bet.Selection {
	return bet.Selection{
		EventID:   event,
		MarketID:  "1x2",
		OutcomeID: "home",
		Odds:      odds(o),
		Sport:     sport,
		League:    league,
	}
}

func won(event string) bet.EventResult {
	return bet.EventResult{EventID: event, Status: bet.EventCompleted, Markets: map[string]bet.MarketResult{
		"1x2": {WinningOutcomes: []string{"home"}},
	}}
}

func lost(event string) bet.EventResult {
	return bet.EventResult{EventID: event, Status: bet.EventCompleted, Markets: map[string]bet.MarketResult{
		"1x2": {WinningOutcomes: []string{"away"}},
	}}
}

func cancelled(event string) bet.EventResult {
	return bet.EventResult{EventID: event, Status: bet.EventCancelled}
}

// checkInvariants asserts that every projection equals the replay of its
// entries and that every transaction balances.
func (f *fixture) checkInvariants() {
	f.t.Helper()
	accounts, err := f.store.ListAccounts(f.ctx, account.ListOpts{})
	if err != nil {
		f.t.Fatalf("ListAccounts: %v", err)
	}
	for _, a := range accounts {
		totals, err := f.store.ReplayAccount(f.ctx, a.ID)
		if err != nil {
			f.t.Fatalf("ReplayAccount: %v", err)
		}
		b := f.balance(a.ID)
		if b.Total().Amount != totals.Signed {
			f.t.Errorf("account %s (%s/%s): projection %d, ledger %d",
				a.ID, a.OwnerType, a.OwnerID, b.Total().Amount, totals.Signed)
		}
		if b.TotalDebits.Amount != totals.Debits || b.TotalCredits.Amount != totals.Credits {
			f.t.Errorf("account %s: debit/credit totals %d/%d, ledger %d/%d",
				a.ID, b.TotalDebits.Amount, b.TotalCredits.Amount, totals.Debits, totals.Credits)
		}
	}

	entries, err := f.store.QueryEntries(f.ctx, entry.Filter{TenantID: tenant}, entry.Page{})
	if err != nil {
		f.t.Fatalf("QueryEntries: %v", err)
	}
	net := make(map[string]int64)
	for _, e := range entries {
		net[e.TransactionID.String()] += e.Signed().Amount
	}
	for txID, n := range net {
		if n != 0 {
			f.t.Errorf("transaction %s nets to %d", txID, n)
		}
	}
}

func (f *fixture) entriesOf(accountID id.AccountID, typ entry.Type) []*entry.Entry {
	f.t.Helper()
	entries, err := f.store.QueryEntries(f.ctx, entry.Filter{TenantID: tenant, AccountID: accountID, Type: typ}, entry.Page{})
	if err != nil {
		f.t.Fatalf("QueryEntries: %v", err)
	}
	return entries
}
