// Package storetest is a behavioural suite every store.Store backend must
// pass. Backends call Run from their own tests with a factory that returns
// a fresh, migrated store.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/bet"
	"github.com/xraph/betledger/commission"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/policy"
	"github.com/xraph/betledger/store"
	"github.com/xraph/betledger/types"
)

const tenant = "tnt-1"

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Factory returns an empty store ready for use.
type Factory func(t *testing.T) store.Store

// Run exercises s against the store contract.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Accounts", testAccounts},
		{"Balances", testBalances},
		{"FloatLines", testFloatLines},
		{"Transactions", testTransactions},
		{"Rollback", testRollback},
		{"Bets", testBets},
		{"AgentActivity", testAgentActivity},
		{"Commissions", testCommissions},
		{"Policies", testPolicies},
		{"Close", testClose},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			tt.fn(t, s)
		})
	}
}

func inTx(t *testing.T, s store.Store, fn func(ctx context.Context, tx store.Tx) error) error {
	t.Helper()
	return s.RunInTx(context.Background(), fn)
}

func mustTx(t *testing.T, s store.Store, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	if err := inTx(t, s, fn); err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
}

func newAccount(ownerType account.OwnerType, ownerID string) *account.Account {
	return &account.Account{
		Entity:    types.NewEntityAt(epoch),
		ID:        id.NewAccountID(),
		TenantID:  tenant,
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Currency:  "kes",
		Status:    account.StatusActive,
	}
}

func createAccount(t *testing.T, s store.Store, ownerType account.OwnerType, ownerID string) *account.Account {
	t.Helper()
	a := newAccount(ownerType, ownerID)
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateAccount(ctx, a)
	})
	return a
}

func newTransfer(from, to *account.Account, amount int64, key string, at time.Time) *entry.Transaction {
	txID := id.NewTransactionID()
	money := types.New(amount, "kes")
	mk := func(a *account.Account, dir entry.Direction, after int64) *entry.Entry {
		return &entry.Entry{
			ID:            id.NewEntryID(),
			TransactionID: txID,
			TenantID:      tenant,
			AccountID:     a.ID,
			Direction:     dir,
			Amount:        money,
			Bucket:        entry.BucketAvailable,
			Type:          entry.TypeAdjustment,
			Reference:     key,
			BalanceAfter:  types.New(after, "kes"),
			CreatedAt:     at,
		}
	}
	return &entry.Transaction{
		ID:             txID,
		TenantID:       tenant,
		IdempotencyKey: key,
		Type:           entry.TypeAdjustment,
		Reference:      key,
		Metadata:       map[string]string{"initiated_by": "usr-1"},
		Entries:        []*entry.Entry{mk(from, entry.Debit, -amount), mk(to, entry.Credit, amount)},
		CreatedAt:      at,
	}
}

func newBet(key, agentID string, stake int64) *bet.Bet {
	return &bet.Bet{
		Entity:           types.NewEntityAt(epoch),
		ID:               id.NewBetID(),
		TenantID:         tenant,
		PlayerID:         "ply-1",
		AgentID:          agentID,
		PlacedBy:         bet.PlacedByPlayer,
		FundingAccountID: id.NewAccountID(),
		PayoutAccountID:  id.NewAccountID(),
		Stake:            types.New(stake, "kes"),
		TotalOdds:        decimal.RequireFromString("2.5"),
		PotentialPayout:  types.New(stake*5/2, "kes"),
		ActualPayout:     types.Zero("kes"),
		Selections: []bet.Selection{{
			ID:        id.NewSelectionID(),
			EventID:   "evt-1",
			MarketID:  "1x2",
			OutcomeID: "home",
			Odds:      decimal.RequireFromString("2.5"),
			Result:    bet.ResultPending,
		}},
		Status:         bet.StatusPending,
		IdempotencyKey: key,
		StakeTxID:      id.NewTransactionID(),
		PolicyVersion:  1,
	}
}

func settle(b *bet.Bet, status bet.Status, payout int64, at time.Time) {
	b.Status = status
	b.ActualPayout = types.New(payout, "kes")
	b.SettledAt = &at
	b.Touch(at)
}

func testAccounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	player := createAccount(t, s, account.OwnerPlayer, "ply-1")
	createAccount(t, s, account.OwnerAgent, "agt-1")

	got, err := s.GetAccount(ctx, player.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.OwnerID != "ply-1" || got.Currency != "kes" || got.Status != account.StatusActive {
		t.Errorf("GetAccount = %+v", got)
	}
	if !got.CreatedAt.Equal(epoch) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, epoch)
	}

	found, err := s.FindAccount(ctx, tenant, account.OwnerPlayer, "ply-1")
	if err != nil {
		t.Fatalf("FindAccount: %v", err)
	}
	if found.ID.String() != player.ID.String() {
		t.Errorf("FindAccount id = %s, want %s", found.ID, player.ID)
	}

	dup := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateAccount(ctx, newAccount(account.OwnerPlayer, "ply-1"))
	})
	if !errors.Is(dup, betledger.ErrAlreadyExists) {
		t.Errorf("duplicate owner: err = %v, want ErrAlreadyExists", dup)
	}

	if _, err := s.GetAccount(ctx, id.NewAccountID()); !errors.Is(err, betledger.ErrAccountNotFound) {
		t.Errorf("missing account: err = %v", err)
	}
	if _, err := s.FindAccount(ctx, tenant, account.OwnerPlayer, "nobody"); !errors.Is(err, betledger.ErrAccountNotFound) {
		t.Errorf("missing owner: err = %v", err)
	}

	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateAccountStatus(ctx, player.ID, account.StatusFrozen, epoch.Add(time.Hour))
	})
	got, err = s.GetAccount(ctx, player.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != account.StatusFrozen {
		t.Errorf("status = %s, want frozen", got.Status)
	}

	missing := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateAccountStatus(ctx, id.NewAccountID(), account.StatusFrozen, epoch)
	})
	if !errors.Is(missing, betledger.ErrAccountNotFound) {
		t.Errorf("update missing: err = %v", missing)
	}

	tests := []struct {
		name string
		opts account.ListOpts
		want int
	}{
		{"all", account.ListOpts{TenantID: tenant}, 2},
		{"by owner type", account.ListOpts{TenantID: tenant, OwnerType: account.OwnerAgent}, 1},
		{"by status", account.ListOpts{TenantID: tenant, Status: account.StatusFrozen}, 1},
		{"limit", account.ListOpts{TenantID: tenant, Limit: 1}, 1},
		{"offset", account.ListOpts{TenantID: tenant, Offset: 1}, 1},
		{"other tenant", account.ListOpts{TenantID: "tnt-2"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := s.ListAccounts(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListAccounts: %v", err)
			}
			if len(list) != tt.want {
				t.Errorf("len = %d, want %d", len(list), tt.want)
			}
		})
	}
}

func testBalances(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := createAccount(t, s, account.OwnerPlayer, "ply-1")
	b := createAccount(t, s, account.OwnerTenant, "treasury")

	bal, err := s.GetBalance(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !bal.Available.IsZero() || bal.Version != 0 || bal.Available.Currency != "kes" {
		t.Errorf("initial balance = %+v", bal)
	}

	later := epoch.Add(time.Minute)
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockBalances(ctx, []id.AccountID{b.ID, a.ID, a.ID})
		if err != nil {
			return err
		}
		if len(locked) != 2 {
			t.Errorf("locked %d balances, want 2", len(locked))
		}
		pa := locked[a.ID.String()]
		pa.Credit(types.New(500, "kes"), false, later)
		pa.CountTransaction()
		return tx.SaveBalance(ctx, pa)
	})

	bal, err = s.GetBalance(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if bal.Available.Amount != 500 || bal.TotalCredits.Amount != 500 || bal.TxCount != 1 {
		t.Errorf("balance = %+v", bal)
	}
	if bal.Version == 0 {
		t.Error("version was not bumped")
	}

	missing := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LockBalances(ctx, []id.AccountID{id.NewAccountID()})
		return err
	})
	if !errors.Is(missing, betledger.ErrAccountNotFound) {
		t.Errorf("lock missing: err = %v", missing)
	}
}

func testFloatLines(t *testing.T, s store.Store) {
	ctx := context.Background()
	agent := createAccount(t, s, account.OwnerAgent, "agt-1")
	line := &account.FloatLine{
		Entity:          types.NewEntityAt(epoch),
		AccountID:       agent.ID,
		TenantID:        tenant,
		AgentID:         "agt-1",
		OwnerType:       account.OwnerAgent,
		CreditLimit:     types.New(10_000, "kes"),
		UsedCredit:      types.Zero("kes"),
		CollateralRatio: decimal.RequireFromString("0.25"),
	}
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateFloatLine(ctx, line)
	})

	dup := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateFloatLine(ctx, line)
	})
	if !errors.Is(dup, betledger.ErrAlreadyExists) {
		t.Errorf("duplicate line: err = %v", dup)
	}

	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		l, err := tx.LockFloatLine(ctx, tenant, "agt-1")
		if err != nil {
			return err
		}
		if !l.Draw(types.New(4_000, "kes")) {
			t.Error("draw within limit refused")
		}
		l.Touch(epoch.Add(time.Hour))
		return tx.SaveFloatLine(ctx, l)
	})

	got, err := s.GetFloatLine(ctx, tenant, "agt-1")
	if err != nil {
		t.Fatalf("GetFloatLine: %v", err)
	}
	if got.UsedCredit.Amount != 4_000 || got.Headroom().Amount != 6_000 {
		t.Errorf("line = %+v", got)
	}
	if !got.CollateralRatio.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("collateral ratio = %s", got.CollateralRatio)
	}

	if _, err := s.GetFloatLine(ctx, tenant, "agt-2"); !errors.Is(err, betledger.ErrFloatLineNotFound) {
		t.Errorf("missing line: err = %v", err)
	}
}

func testTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()
	treasury := createAccount(t, s, account.OwnerTenant, "treasury")
	player := createAccount(t, s, account.OwnerPlayer, "ply-1")

	first := newTransfer(treasury, player, 700, "adj-1", epoch)
	second := newTransfer(player, treasury, 200, "adj-2", epoch.Add(time.Minute))
	for _, txn := range []*entry.Transaction{first, second} {
		mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertTransaction(ctx, txn)
		})
	}

	dup := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertTransaction(ctx, newTransfer(treasury, player, 1, "adj-1", epoch))
	})
	if !errors.Is(dup, betledger.ErrDuplicateTransaction) {
		t.Errorf("reused key: err = %v, want ErrDuplicateTransaction", dup)
	}

	got, err := s.GetTransaction(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if len(got.Entries) != 2 || got.Entries[0].Direction != entry.Debit || got.Entries[1].Direction != entry.Credit {
		t.Errorf("entries out of order: %+v", got.Entries)
	}
	if got.Metadata["initiated_by"] != "usr-1" {
		t.Errorf("metadata = %v", got.Metadata)
	}
	if !got.ReversalOf.IsNil() {
		t.Errorf("reversal_of = %s, want nil", got.ReversalOf)
	}

	byKey, err := s.GetTransactionByKey(ctx, tenant, "adj-2")
	if err != nil {
		t.Fatalf("GetTransactionByKey: %v", err)
	}
	if byKey.ID.String() != second.ID.String() {
		t.Errorf("by key id = %s, want %s", byKey.ID, second.ID)
	}
	if _, err := s.GetTransactionByKey(ctx, tenant, "nope"); !errors.Is(err, betledger.ErrTransactionNotFound) {
		t.Errorf("missing key: err = %v", err)
	}

	tests := []struct {
		name   string
		filter entry.Filter
		page   entry.Page
		want   int
	}{
		{"tenant", entry.Filter{TenantID: tenant}, entry.Page{}, 4},
		{"account", entry.Filter{TenantID: tenant, AccountID: player.ID}, entry.Page{}, 2},
		{"transaction", entry.Filter{TenantID: tenant, TransactionID: first.ID}, entry.Page{}, 2},
		{"reference", entry.Filter{TenantID: tenant, Reference: "adj-2"}, entry.Page{}, 2},
		{"from", entry.Filter{TenantID: tenant, From: epoch.Add(time.Second)}, entry.Page{}, 2},
		{"to", entry.Filter{TenantID: tenant, To: epoch.Add(time.Second)}, entry.Page{}, 2},
		{"limit", entry.Filter{TenantID: tenant}, entry.Page{Limit: 3}, 3},
		{"offset", entry.Filter{TenantID: tenant}, entry.Page{Offset: 3}, 1},
		{"other tenant", entry.Filter{TenantID: "tnt-2"}, entry.Page{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryEntries(ctx, tt.filter, tt.page)
			if err != nil {
				t.Fatalf("QueryEntries: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}

	newest, err := s.QueryEntries(ctx, entry.Filter{TenantID: tenant, AccountID: player.ID}, entry.Page{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(newest) != 1 || newest[0].TransactionID.String() != second.ID.String() {
		t.Errorf("newest entry is not from the latest transaction")
	}

	totals, err := s.ReplayAccount(ctx, player.ID)
	if err != nil {
		t.Fatalf("ReplayAccount: %v", err)
	}
	want := entry.Totals{Signed: 500, Debits: 200, Credits: 700, Entries: 2, Transactions: 2}
	if totals != want {
		t.Errorf("replay = %+v, want %+v", totals, want)
	}
	if _, err := s.ReplayAccount(ctx, id.NewAccountID()); !errors.Is(err, betledger.ErrAccountNotFound) {
		t.Errorf("replay missing: err = %v", err)
	}
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	a := newAccount(account.OwnerPlayer, "ply-1")

	err := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateAccount(ctx, a); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, err := s.GetAccount(ctx, a.ID); !errors.Is(err, betledger.ErrAccountNotFound) {
		t.Errorf("rolled back account still visible: err = %v", err)
	}

	// The owner key is free again after the rollback.
	createAccount(t, s, account.OwnerPlayer, "ply-1")
}

func testBets(t *testing.T, s store.Store) {
	ctx := context.Background()
	b := newBet("bet-1", "agt-1", 1_000)
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateBet(ctx, b)
	})

	dup := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateBet(ctx, newBet("bet-1", "", 10))
	})
	if !errors.Is(dup, betledger.ErrAlreadyExists) {
		t.Errorf("reused bet key: err = %v", dup)
	}

	byKey, err := s.GetBetByKey(ctx, tenant, "bet-1")
	if err != nil {
		t.Fatalf("GetBetByKey: %v", err)
	}
	if byKey.ID.String() != b.ID.String() || !byKey.TotalOdds.Equal(b.TotalOdds) || len(byKey.Selections) != 1 {
		t.Errorf("bet by key = %+v", byKey)
	}

	settledAt := epoch.Add(2 * time.Hour)
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockBet(ctx, b.ID)
		if err != nil {
			return err
		}
		settle(locked, bet.StatusWon, 2_500, settledAt)
		return tx.UpdateBet(ctx, locked, bet.StatusPending)
	})

	got, err := s.GetBet(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBet: %v", err)
	}
	if got.Status != bet.StatusWon || got.ActualPayout.Amount != 2_500 {
		t.Errorf("settled bet = %+v", got)
	}
	if got.SettledAt == nil || !got.SettledAt.Equal(settledAt) {
		t.Errorf("settled_at = %v, want %v", got.SettledAt, settledAt)
	}

	again := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		settle(got, bet.StatusLost, 0, settledAt)
		return tx.UpdateBet(ctx, got, bet.StatusPending)
	})
	if !errors.Is(again, betledger.ErrBetAlreadySettled) {
		t.Errorf("second settlement: err = %v, want ErrBetAlreadySettled", again)
	}

	missing := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LockBet(ctx, id.NewBetID())
		return err
	})
	if !errors.Is(missing, betledger.ErrBetNotFound) {
		t.Errorf("lock missing: err = %v", missing)
	}

	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateBet(ctx, newBet("bet-2", "", 300))
	})
	tests := []struct {
		name string
		opts bet.ListOpts
		want int
	}{
		{"tenant", bet.ListOpts{TenantID: tenant}, 2},
		{"agent", bet.ListOpts{TenantID: tenant, AgentID: "agt-1"}, 1},
		{"status", bet.ListOpts{TenantID: tenant, Status: bet.StatusPending}, 1},
		{"player", bet.ListOpts{TenantID: tenant, PlayerID: "ply-1"}, 2},
		{"limit", bet.ListOpts{TenantID: tenant, Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := s.ListBets(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListBets: %v", err)
			}
			if len(list) != tt.want {
				t.Errorf("len = %d, want %d", len(list), tt.want)
			}
		})
	}
}

func testAgentActivity(t *testing.T, s store.Store) {
	ctx := context.Background()
	from, to := epoch, epoch.Add(7*24*time.Hour)

	type placed struct {
		key, agent string
		stake      int64
		status     bet.Status
		payout     int64
		at         time.Time
	}
	for _, p := range []placed{
		{"b1", "agt-1", 1_000, bet.StatusLost, 0, from},
		{"b2", "agt-1", 500, bet.StatusWon, 1_200, from.Add(time.Hour)},
		{"b3", "agt-2", 800, bet.StatusLost, 0, from.Add(time.Hour)},
		{"b4", "agt-2", 900, bet.StatusVoid, 900, from.Add(time.Hour)},
		{"b5", "agt-1", 700, bet.StatusLost, 0, to},
		{"b6", "", 400, bet.StatusLost, 0, from.Add(time.Hour)},
		{"b7", "agt-1", 600, bet.StatusPending, 0, time.Time{}},
	} {
		b := newBet(p.key, p.agent, p.stake)
		if p.status != bet.StatusPending {
			settle(b, p.status, p.payout, p.at)
		}
		mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
			return tx.CreateBet(ctx, b)
		})
	}

	got, err := s.AgentActivity(ctx, tenant, from, to)
	if err != nil {
		t.Fatalf("AgentActivity: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("activity rows = %d, want 2: %+v", len(got), got)
	}
	if got[0].AgentID != "agt-1" || got[0].Turnover.Amount != 1_500 || got[0].Payouts.Amount != 1_200 || got[0].BetCount != 2 {
		t.Errorf("agt-1 = %+v", got[0])
	}
	if got[1].AgentID != "agt-2" || got[1].Turnover.Amount != 800 || got[1].Payouts.Amount != 0 || got[1].BetCount != 1 {
		t.Errorf("agt-2 = %+v", got[1])
	}

	empty, err := s.AgentActivity(ctx, "tnt-2", from, to)
	if err != nil {
		t.Fatal(err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("empty tenant activity = %#v, want empty slice", empty)
	}
}

func testCommissions(t *testing.T, s store.Store) {
	ctx := context.Background()
	start, end := commission.WeekBounds(epoch)
	c := &commission.Settlement{
		Entity:      types.NewEntityAt(end),
		ID:          id.NewCommissionID(),
		TenantID:    tenant,
		AgentID:     "agt-1",
		AccountID:   id.NewAccountID(),
		PeriodStart: start,
		PeriodEnd:   end,
		Key:         commission.PeriodKey("agt-1", start, end),
		Turnover:    types.New(10_000, "kes"),
		Payouts:     types.New(4_000, "kes"),
		GGR:         types.New(6_000, "kes"),
		Rate:        decimal.RequireFromString("0.05"),
		Amount:      types.New(300, "kes"),
		BetCount:    12,
		Status:      commission.StatusPending,
	}
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateCommission(ctx, c)
	})

	dup := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		cp := *c
		cp.ID = id.NewCommissionID()
		return tx.CreateCommission(ctx, &cp)
	})
	if !errors.Is(dup, betledger.ErrAlreadyExists) {
		t.Errorf("reused period key: err = %v", dup)
	}

	byKey, err := s.FindCommissionByKey(ctx, tenant, c.Key)
	if err != nil {
		t.Fatalf("FindCommissionByKey: %v", err)
	}
	if byKey.ID.String() != c.ID.String() || !byKey.Rate.Equal(c.Rate) {
		t.Errorf("by key = %+v", byKey)
	}

	approvedAt := end.Add(time.Hour)
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockCommission(ctx, c.ID)
		if err != nil {
			return err
		}
		locked.Status = commission.StatusApproved
		locked.ApprovedBy = "usr-1"
		locked.ApprovedAt = &approvedAt
		locked.Touch(approvedAt)
		return tx.UpdateCommission(ctx, locked, commission.StatusPending)
	})

	got, err := s.GetCommission(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCommission: %v", err)
	}
	if got.Status != commission.StatusApproved || got.ApprovedBy != "usr-1" {
		t.Errorf("approved = %+v", got)
	}

	stale := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		got.Status = commission.StatusReversed
		return tx.UpdateCommission(ctx, got, commission.StatusPending)
	})
	if !errors.Is(stale, betledger.ErrConflict) {
		t.Errorf("stale transition: err = %v, want ErrConflict", stale)
	}

	tests := []struct {
		name string
		opts commission.ListOpts
		want int
	}{
		{"tenant", commission.ListOpts{TenantID: tenant}, 1},
		{"agent", commission.ListOpts{TenantID: tenant, AgentID: "agt-2"}, 0},
		{"status", commission.ListOpts{TenantID: tenant, Status: commission.StatusApproved}, 1},
		{"period", commission.ListOpts{TenantID: tenant, From: start, To: end}, 1},
		{"later period", commission.ListOpts{TenantID: tenant, From: end}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := s.ListCommissions(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListCommissions: %v", err)
			}
			if len(list) != tt.want {
				t.Errorf("len = %d, want %d", len(list), tt.want)
			}
		})
	}

	if _, err := s.GetCommission(ctx, id.NewCommissionID()); !errors.Is(err, betledger.ErrCommissionNotFound) {
		t.Errorf("missing commission: err = %v", err)
	}
}

func testPolicies(t *testing.T, s store.Store) {
	ctx := context.Background()
	newPolicy := func(version int, from time.Time, limit int64) *policy.Policy {
		return &policy.Policy{
			ID:            id.NewPolicyID(),
			TenantID:      tenant,
			Version:       version,
			Currency:      "kes",
			EffectiveFrom: from,
			MaxWinRules: []policy.MaxWinRule{{
				ID:    id.NewMaxWinRuleID(),
				Limit: types.New(limit, "kes"),
			}},
			DefaultCommissionRate: decimal.RequireFromString("0.05"),
			CreatedAt:             from,
		}
	}

	latest, err := s.LatestPolicyVersion(ctx, tenant)
	if err != nil {
		t.Fatalf("LatestPolicyVersion: %v", err)
	}
	if latest != 0 {
		t.Errorf("latest on empty = %d, want 0", latest)
	}

	v1 := newPolicy(1, epoch, 100_000)
	v2 := newPolicy(2, epoch.Add(24*time.Hour), 50_000)
	for _, p := range []*policy.Policy{v1, v2} {
		mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
			return tx.CreatePolicy(ctx, p)
		})
	}

	stale := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.CreatePolicy(ctx, newPolicy(2, epoch, 1))
	})
	if !errors.Is(stale, betledger.ErrAlreadyExists) {
		t.Errorf("reused version: err = %v", stale)
	}

	tests := []struct {
		name    string
		asOf    time.Time
		version int
		err     error
	}{
		{"before first", epoch.Add(-time.Second), 0, betledger.ErrPolicyNotFound},
		{"first", epoch.Add(time.Hour), 1, nil},
		{"boundary", epoch.Add(24 * time.Hour), 2, nil},
		{"later", epoch.Add(48 * time.Hour), 2, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := s.GetPolicy(ctx, tenant, tt.asOf)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Errorf("err = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetPolicy: %v", err)
			}
			if p.Version != tt.version {
				t.Errorf("version = %d, want %d", p.Version, tt.version)
			}
		})
	}

	p, err := s.GetPolicyVersion(ctx, tenant, 1)
	if err != nil {
		t.Fatalf("GetPolicyVersion: %v", err)
	}
	if len(p.MaxWinRules) != 1 || p.MaxWinRules[0].Limit.Amount != 100_000 {
		t.Errorf("v1 rules = %+v", p.MaxWinRules)
	}

	tenants, err := s.ListPolicyTenants(ctx)
	if err != nil {
		t.Fatalf("ListPolicyTenants: %v", err)
	}
	if len(tenants) != 1 || tenants[0] != tenant {
		t.Errorf("tenants = %v", tenants)
	}
}

func testClose(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, betledger.ErrStoreClosed) {
		t.Errorf("Ping after close: err = %v, want ErrStoreClosed", err)
	}
}
