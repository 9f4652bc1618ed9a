package account_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/types"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestBalanceBuckets(t *testing.T) {
	b := account.NewBalance(id.NewAccountID(), "KES", now)
	if b.Available.Currency != "kes" || !b.Total().IsZero() {
		t.Fatalf("new balance = %+v", b)
	}

	b.Credit(types.KES(1000), false, now)
	b.Credit(types.KES(200), true, now)
	b.Debit(types.KES(300), false, now)

	if b.Available.Amount != 700 || b.Pending.Amount != 200 {
		t.Fatalf("available/pending = %d/%d", b.Available.Amount, b.Pending.Amount)
	}
	if b.Total().Amount != 900 {
		t.Errorf("Total = %d, want 900", b.Total().Amount)
	}
	if b.TotalCredits.Amount != 1200 || b.TotalDebits.Amount != 300 {
		t.Errorf("credits/debits = %d/%d", b.TotalCredits.Amount, b.TotalDebits.Amount)
	}

	if b.Release(types.KES(250), now) {
		t.Fatal("Release beyond pending succeeded")
	}
	if !b.Release(types.KES(150), now) {
		t.Fatal("Release within pending failed")
	}
	if b.Available.Amount != 850 || b.Pending.Amount != 50 || b.Total().Amount != 900 {
		t.Errorf("after release = %d/%d total %d", b.Available.Amount, b.Pending.Amount, b.Total().Amount)
	}
	if b.Version != 4 {
		t.Errorf("Version = %d, want 4", b.Version)
	}
}

func TestReconcile(t *testing.T) {
	b := account.NewBalance(id.NewAccountID(), "kes", now)
	b.Credit(types.KES(500), false, now)

	tests := []struct {
		name      string
		replayed  int64
		tolerance int64
		diff      int64
		diverged  bool
	}{
		{"exact", 500, 0, 0, false},
		{"short", 493, 0, -7, true},
		{"within tolerance", 493, 10, -7, false},
		{"at tolerance", 510, 10, 10, false},
		{"over tolerance", 511, 10, 11, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := account.Reconcile(b, types.KES(tt.replayed), tt.tolerance, now)
			if r.Difference.Amount != tt.diff || r.Diverged != tt.diverged {
				t.Errorf("difference %d diverged %v, want %d %v", r.Difference.Amount, r.Diverged, tt.diff, tt.diverged)
			}
			if r.Projected.Amount != 500 || r.AccountID != b.AccountID {
				t.Errorf("projected %d", r.Projected.Amount)
			}
		})
	}
}

func TestFloatLine(t *testing.T) {
	line := &account.FloatLine{
		CreditLimit:     types.KES(1000),
		UsedCredit:      types.KES(0),
		CollateralRatio: decimal.RequireFromString("0.25"),
	}

	if !line.Draw(types.KES(600)) {
		t.Fatal("Draw within limit failed")
	}
	if line.Draw(types.KES(401)) {
		t.Fatal("Draw beyond limit succeeded")
	}
	if line.UsedCredit.Amount != 600 {
		t.Fatalf("failed draw changed UsedCredit to %d", line.UsedCredit.Amount)
	}
	if h := line.Headroom(); h.Amount != 400 {
		t.Errorf("Headroom = %d, want 400", h.Amount)
	}
	if c := line.CollateralRequired(); c.Amount != 150 {
		t.Errorf("CollateralRequired = %d, want 150", c.Amount)
	}

	offset, rest := line.Offset(types.KES(800))
	if offset.Amount != 600 || rest.Amount != 200 {
		t.Errorf("Offset = %d/%d, want 600/200", offset.Amount, rest.Amount)
	}
	if !line.UsedCredit.IsZero() {
		t.Errorf("UsedCredit = %d after full offset", line.UsedCredit.Amount)
	}

	offset, rest = line.Offset(types.KES(50))
	if !offset.IsZero() || rest.Amount != 50 {
		t.Errorf("Offset with no credit = %d/%d", offset.Amount, rest.Amount)
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to account.Status
		want     bool
	}{
		{account.StatusActive, account.StatusFrozen, true},
		{account.StatusFrozen, account.StatusActive, true},
		{account.StatusSuspended, account.StatusClosed, true},
		{account.StatusActive, account.StatusActive, false},
		{account.StatusClosed, account.StatusActive, false},
		{account.StatusActive, account.Status("deleted"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOwnerType(t *testing.T) {
	tests := []struct {
		owner     account.OwnerType
		overdraft bool
		agent     bool
	}{
		{account.OwnerPlayer, false, false},
		{account.OwnerAgent, false, true},
		{account.OwnerSubAgent, false, true},
		{account.OwnerTenant, true, false},
		{account.OwnerSystem, true, false},
		{account.OwnerCommissionPool, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.owner), func(t *testing.T) {
			if !tt.owner.IsValid() {
				t.Fatal("IsValid = false")
			}
			if tt.owner.AllowsOverdraft() != tt.overdraft || tt.owner.IsAgent() != tt.agent {
				t.Errorf("overdraft %v agent %v", tt.owner.AllowsOverdraft(), tt.owner.IsAgent())
			}
		})
	}
	if account.OwnerType("house").IsValid() {
		t.Error("unknown owner type is valid")
	}
}

func TestVisibleTo(t *testing.T) {
	tests := []struct {
		name    string
		acct    account.Account
		tenant  string
		visible bool
	}{
		{"same tenant", account.Account{TenantID: "t1", OwnerType: account.OwnerPlayer}, "t1", true},
		{"other tenant", account.Account{TenantID: "t2", OwnerType: account.OwnerPlayer}, "t1", false},
		{"platform system", account.Account{OwnerType: account.OwnerSystem}, "t1", true},
		{"platform non-system", account.Account{OwnerType: account.OwnerTenant}, "t1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.acct.VisibleTo(tt.tenant); got != tt.visible {
				t.Errorf("VisibleTo = %v, want %v", got, tt.visible)
			}
		})
	}
}
