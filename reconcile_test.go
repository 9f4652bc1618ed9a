package betledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/store"
)

type alertRecorder struct {
	mu     sync.Mutex
	alerts []account.Reconciliation
}

func (r *alertRecorder) Name() string { return "alert-recorder" }

func (r *alertRecorder) OnReconciliationAlert(_ context.Context, rec *account.Reconciliation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, *rec)
	return nil
}

func (r *alertRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

// tamper corrupts an account's projection behind the ledger's back.
func (f *fixture) tamper(accountID id.AccountID, delta int64) {
	f.t.Helper()
	err := f.store.RunInTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		balances, err := tx.LockBalances(ctx, []id.AccountID{accountID})
		if err != nil {
			return err
		}
		b := balances[accountID.String()]
		b.Available = b.Available.Add(kes(delta))
		return tx.SaveBalance(ctx, b)
	})
	if err != nil {
		f.t.Fatalf("tamper: %v", err)
	}
}

func TestRebuildBalanceClean(t *testing.T) {
	f := newFixture(t)
	player := f.fundedPlayer("ply-1", 500)

	rec, err := f.ledger.RebuildBalance(f.ctx, finance, player.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Diverged || rec.Frozen {
		t.Fatalf("clean account reported %+v", rec)
	}
	if rec.Projected.Amount != 500 || rec.Replayed.Amount != 500 || rec.EntryCount != 1 {
		t.Errorf("projected %d replayed %d entries %d", rec.Projected.Amount, rec.Replayed.Amount, rec.EntryCount)
	}
	if rec.TotalCredits.Amount != 500 || rec.TotalDebits.Amount != 0 {
		t.Errorf("credits/debits = %d/%d", rec.TotalCredits.Amount, rec.TotalDebits.Amount)
	}
	if _, err := f.ledger.RebuildBalance(f.ctx, playerActor("ply-1"), player.ID); !errors.Is(err, betledger.ErrInsufficientAuthority) {
		t.Errorf("err = %v, want ErrInsufficientAuthority", err)
	}
}

func TestRebuildBalanceDivergence(t *testing.T) {
	rec := &alertRecorder{}
	f := newFixture(t, betledger.WithPlugin(rec))
	player := f.fundedPlayer("ply-1", 500)
	f.tamper(player.ID, 7)

	got, err := f.ledger.RebuildBalance(f.ctx, finance, player.ID)
	if err != nil {
		t.Fatalf("divergence must not be an error: %v", err)
	}
	if !got.Diverged || !got.Frozen {
		t.Fatalf("reconciliation = %+v, want diverged and frozen", got)
	}
	if got.Projected.Amount != 507 || got.Replayed.Amount != 500 || got.Difference.Amount != -7 {
		t.Errorf("projected %d replayed %d difference %d", got.Projected.Amount, got.Replayed.Amount, got.Difference.Amount)
	}
	if rec.count() != 1 {
		t.Errorf("alerts = %d, want 1", rec.count())
	}

	a, err := f.ledger.GetAccount(f.ctx, finance, player.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != account.StatusFrozen {
		t.Fatalf("status = %s, want frozen", a.Status)
	}
	_, err = f.ledger.PostTransaction(f.ctx, finance, betledger.PostTransactionInput{
		TenantID:       tenant,
		IdempotencyKey: "after-freeze",
		Legs: []entry.Leg{
			entry.DebitLeg(f.treasury().ID, kes(1)),
			entry.CreditLeg(player.ID, kes(1)),
		},
	})
	if !errors.Is(err, betledger.ErrAccountNotActive) {
		t.Fatalf("posting to a frozen account: err = %v, want ErrAccountNotActive", err)
	}

	// Rebuilding a frozen account reports it again without a new transition.
	again, err := f.ledger.RebuildBalance(f.ctx, finance, player.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Diverged || !again.Frozen {
		t.Errorf("second rebuild = %+v", again)
	}
}

func TestRebuildBalanceTolerance(t *testing.T) {
	f := newFixture(t, betledger.WithReconcileTolerance(10))
	player := f.fundedPlayer("ply-1", 500)
	f.tamper(player.ID, 7)

	rec, err := f.ledger.RebuildBalance(f.ctx, finance, player.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Diverged || rec.Frozen {
		t.Errorf("difference within tolerance reported %+v", rec)
	}
	if rec.Difference.Amount != -7 {
		t.Errorf("difference = %d, want -7", rec.Difference.Amount)
	}
}

func TestReconcileAll(t *testing.T) {
	f := newFixture(t)
	f.savePolicy()
	f.fundedPlayer("ply-1", 500)
	bad := f.fundedPlayer("ply-2", 300)
	b := f.placeBet("ply-1", "agt-1", 100, selection("e1", "2", "football", "epl"))
	if _, err := f.ledger.CancelBet(f.ctx, admin, betledger.CancelBetInput{TenantID: tenant, BetID: b.ID, Reason: "test"}); err != nil {
		t.Fatal(err)
	}

	reports, err := f.ledger.ReconcileAll(f.ctx, finance, tenant)
	if err != nil {
		t.Fatal(err)
	}
	accounts, err := f.store.ListAccounts(f.ctx, account.ListOpts{TenantID: tenant})
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != len(accounts) {
		t.Fatalf("reports = %d, accounts = %d", len(reports), len(accounts))
	}
	for _, r := range reports {
		if r.Diverged {
			t.Errorf("account %s diverged on a clean ledger", r.AccountID)
		}
	}

	f.tamper(bad.ID, -3)
	reports, err = f.ledger.ReconcileAll(f.ctx, finance, tenant)
	if err != nil {
		t.Fatal(err)
	}
	diverged := 0
	for _, r := range reports {
		if r.Diverged {
			diverged++
			if r.AccountID != bad.ID {
				t.Errorf("unexpected divergence on %s", r.AccountID)
			}
		}
	}
	if diverged != 1 {
		t.Errorf("diverged = %d, want 1", diverged)
	}
}

func TestReconcileWorker(t *testing.T) {
	f := newFixture(t,
		betledger.WithReconcileInterval(5*time.Millisecond),
		betledger.WithCommissionSchedule(0, time.Monday),
	)
	player := f.fundedPlayer("ply-1", 500)
	f.tamper(player.ID, 1)

	if err := f.ledger.Start(f.ctx); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		a, err := f.store.GetAccount(f.ctx, player.ID)
		if err != nil {
			t.Fatal(err)
		}
		if a.Status == account.StatusFrozen {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("worker did not freeze the diverged account")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := f.ledger.Stop(); err != nil {
		t.Fatal(err)
	}
}
