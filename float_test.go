package betledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/entry"
)

func TestFloatRoundTrip(t *testing.T) {
	f := newFixture(t)
	line := f.agent("agt-1", "", 0)
	treasury := f.treasury()

	f.topupAgent("agt-1", 500)
	if got := f.available(line.AccountID); got != 500 {
		t.Fatalf("agent float = %d, want 500", got)
	}

	txn, err := f.ledger.ReturnFloatToParent(f.ctx, agentActor("agt-1"), betledger.ReturnFloatInput{
		TenantID:       tenant,
		IdempotencyKey: "return-1",
		AgentID:        "agt-1",
		Amount:         kes(500),
		Details:        betledger.MovementDetails{Location: "Kisumu branch", ReceiptRef: "RC-1001"},
	})
	if err != nil {
		t.Fatalf("ReturnFloatToParent: %v", err)
	}
	if txn.Type != entry.TypeFloatReturn {
		t.Errorf("type = %s", txn.Type)
	}
	if txn.Metadata["receipt_ref"] != "RC-1001" || txn.Metadata["location"] != "Kisumu branch" {
		t.Errorf("metadata = %v", txn.Metadata)
	}
	if got := f.available(treasury.ID); got != 0 {
		t.Errorf("treasury = %d, want 0", got)
	}
	if got := f.available(line.AccountID); got != 0 {
		t.Errorf("agent float = %d, want 0", got)
	}
	if n := len(f.entriesOf(treasury.ID, "")); n != 2 {
		t.Errorf("treasury entries = %d, want 2", n)
	}
	f.checkInvariants()
}

func TestSubAgentCreditExhausted(t *testing.T) {
	f := newFixture(t)
	f.agent("agt-1", "", 0)
	sub := f.agent("sub-1", "agt-1", 1000)
	f.topupAgent("agt-1", 2000)
	player := f.player("ply-1")

	if _, err := f.ledger.AllocateFloat(f.ctx, agentActor("agt-1"), betledger.AllocateFloatInput{
		TenantID:       tenant,
		IdempotencyKey: "alloc-1",
		ParentAgentID:  "agt-1",
		SubAgentID:     "sub-1",
		Amount:         kes(1000),
		FundingType:    account.FundingCredit,
	}); err != nil {
		t.Fatalf("AllocateFloat: %v", err)
	}
	usedCredit := func() int64 {
		t.Helper()
		line, err := f.ledger.GetFloatLine(f.ctx, agentActor("agt-1"), tenant, "sub-1")
		if err != nil {
			t.Fatal(err)
		}
		return line.UsedCredit.Amount
	}
	if got := usedCredit(); got != 1000 {
		t.Fatalf("used credit = %d, want 1000", got)
	}

	topup := func(key string, amount int64) error {
		_, err := f.ledger.TopupPlayer(f.ctx, subAgentActor("sub-1"), betledger.TopupPlayerInput{
			TenantID:         tenant,
			IdempotencyKey:   key,
			AgentID:          "sub-1",
			PlayerIdentifier: "ply-1",
			Amount:           kes(amount),
		})
		return err
	}
	err := topup("cash-1", 100)
	if !errors.Is(err, betledger.ErrInsufficientFloat) || !errors.Is(err, betledger.ErrCreditLimitExceeded) {
		t.Fatalf("err = %v, want ErrInsufficientFloat from the credit line", err)
	}
	var be *betledger.BalanceError
	if !errors.As(err, &be) || be.AccountID != sub.AccountID || be.Available.Amount != 0 || be.Requested.Amount != 100 {
		t.Errorf("balance error = %+v", be)
	}
	if got := f.available(player.ID); got != 0 {
		t.Errorf("player = %d, want 0", got)
	}
	if got := f.available(sub.AccountID); got != 1000 {
		t.Errorf("sub-agent float = %d, want 1000", got)
	}
	if got := usedCredit(); got != 1000 {
		t.Errorf("used credit after rejection = %d, want 1000", got)
	}

	_, err = f.ledger.AllocateFloat(f.ctx, agentActor("agt-1"), betledger.AllocateFloatInput{
		TenantID:       tenant,
		IdempotencyKey: "alloc-2",
		ParentAgentID:  "agt-1",
		SubAgentID:     "sub-1",
		Amount:         kes(1),
		FundingType:    account.FundingCredit,
	})
	if !errors.Is(err, betledger.ErrCreditLimitExceeded) {
		t.Fatalf("err = %v, want ErrCreditLimitExceeded", err)
	}

	if _, err := f.ledger.ReturnFloatToParent(f.ctx, subAgentActor("sub-1"), betledger.ReturnFloatInput{
		TenantID:       tenant,
		IdempotencyKey: "return-1",
		AgentID:        "sub-1",
		Amount:         kes(300),
	}); err != nil {
		t.Fatalf("ReturnFloatToParent: %v", err)
	}
	if got := usedCredit(); got != 700 {
		t.Fatalf("used credit after return = %d, want 700", got)
	}
	if err := topup("cash-2", 100); err != nil {
		t.Fatalf("TopupPlayer after return: %v", err)
	}
	if got := usedCredit(); got != 800 {
		t.Errorf("used credit = %d, want 800", got)
	}
	if got := f.available(player.ID); got != 100 {
		t.Errorf("player = %d, want 100", got)
	}
	f.checkInvariants()
}

func TestSubAgentCashInsDrawCredit(t *testing.T) {
	f := newFixture(t)
	f.agent("agt-1", "", 0)
	sub := f.agent("sub-1", "agt-1", 500)
	f.topupAgent("agt-1", 1000)
	f.player("ply-1")

	if _, err := f.ledger.AllocateFloat(f.ctx, agentActor("agt-1"), betledger.AllocateFloatInput{
		TenantID: tenant, IdempotencyKey: "alloc-1", ParentAgentID: "agt-1",
		SubAgentID: "sub-1", Amount: kes(1000), FundingType: account.FundingCash,
	}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		key     string
		amount  int64
		want    error
		used    int64
		subLeft int64
	}{
		{"within the line", "cash-1", 400, nil, 400, 600},
		{"beyond the headroom", "cash-2", 200, betledger.ErrInsufficientFloat, 400, 600},
		{"up to the limit", "cash-3", 100, nil, 500, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.TopupPlayer(f.ctx, subAgentActor("sub-1"), betledger.TopupPlayerInput{
				TenantID: tenant, IdempotencyKey: tt.key, AgentID: "sub-1",
				PlayerIdentifier: "ply-1", Amount: kes(tt.amount),
			})
			if tt.want == nil && err != nil {
				t.Fatalf("TopupPlayer: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			line, err := f.ledger.GetFloatLine(f.ctx, subAgentActor("sub-1"), tenant, "sub-1")
			if err != nil {
				t.Fatal(err)
			}
			if line.UsedCredit.Amount != tt.used {
				t.Errorf("used credit = %d, want %d", line.UsedCredit.Amount, tt.used)
			}
			if got := f.available(sub.AccountID); got != tt.subLeft {
				t.Errorf("sub-agent float = %d, want %d", got, tt.subLeft)
			}
		})
	}
	f.checkInvariants()
}

func TestReturnFloatSettlesCreditFirst(t *testing.T) {
	f := newFixture(t)
	line := f.agent("agt-1", "", 1000)

	if _, err := f.ledger.TopupFloat(f.ctx, finance, betledger.TopupFloatInput{
		TenantID:       tenant,
		IdempotencyKey: "credit-1",
		AgentID:        "agt-1",
		Amount:         kes(1200),
		FundingType:    account.FundingCredit,
	}); !errors.Is(err, betledger.ErrCreditLimitExceeded) {
		t.Fatalf("err = %v, want ErrCreditLimitExceeded", err)
	}
	if _, err := f.ledger.TopupFloat(f.ctx, finance, betledger.TopupFloatInput{
		TenantID:       tenant,
		IdempotencyKey: "credit-2",
		AgentID:        "agt-1",
		Amount:         kes(600),
		FundingType:    account.FundingCredit,
	}); err != nil {
		t.Fatal(err)
	}
	f.topupAgent("agt-1", 400)

	txn, err := f.ledger.ReturnFloatToParent(f.ctx, agentActor("agt-1"), betledger.ReturnFloatInput{
		TenantID:       tenant,
		IdempotencyKey: "return-1",
		AgentID:        "agt-1",
		Amount:         kes(800),
	})
	if err != nil {
		t.Fatal(err)
	}
	if txn.Metadata["credit_offset"] != "600" || txn.Metadata["free_return"] != "200" {
		t.Errorf("split = %s/%s, want 600/200", txn.Metadata["credit_offset"], txn.Metadata["free_return"])
	}
	got, err := f.ledger.GetFloatLine(f.ctx, finance, tenant, "agt-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.UsedCredit.IsZero() {
		t.Errorf("used credit = %d, want 0", got.UsedCredit.Amount)
	}
	if n := f.available(line.AccountID); n != 200 {
		t.Errorf("agent float = %d, want 200", n)
	}

	if _, err := f.ledger.ReturnFloatToParent(f.ctx, agentActor("agt-1"), betledger.ReturnFloatInput{
		TenantID:       tenant,
		IdempotencyKey: "return-2",
		AgentID:        "agt-1",
		Amount:         kes(201),
	}); !errors.Is(err, betledger.ErrInsufficientFloat) {
		t.Fatalf("err = %v, want ErrInsufficientFloat", err)
	}
	f.checkInvariants()
}

func TestSetCreditLimit(t *testing.T) {
	f := newFixture(t)
	f.agent("agt-1", "", 1000)
	if _, err := f.ledger.TopupFloat(f.ctx, finance, betledger.TopupFloatInput{
		TenantID: tenant, IdempotencyKey: "credit-1", AgentID: "agt-1",
		Amount: kes(700), FundingType: account.FundingCredit,
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.ledger.SetCreditLimit(f.ctx, admin, betledger.SetCreditLimitInput{
		TenantID: tenant, AgentID: "agt-1", CreditLimit: kes(500),
	}); !errors.Is(err, betledger.ErrCreditLimitExceeded) {
		t.Fatalf("err = %v, want ErrCreditLimitExceeded", err)
	}
	line, err := f.ledger.SetCreditLimit(f.ctx, admin, betledger.SetCreditLimitInput{
		TenantID: tenant, AgentID: "agt-1", CreditLimit: kes(2000),
	})
	if err != nil {
		t.Fatal(err)
	}
	if line.Headroom().Amount != 1300 {
		t.Errorf("headroom = %d, want 1300", line.Headroom().Amount)
	}
}

func TestFloatHierarchyErrors(t *testing.T) {
	f := newFixture(t)
	f.agent("agt-1", "", 0)
	f.agent("agt-2", "", 0)
	f.agent("sub-2", "agt-2", 0)
	f.topupAgent("agt-1", 1000)

	t.Run("sub-agent needs a registered parent", func(t *testing.T) {
		_, err := f.ledger.RegisterAgent(f.ctx, admin, betledger.RegisterAgentInput{
			TenantID: tenant, AgentID: "sub-9", OwnerType: account.OwnerSubAgent,
			ParentAgentID: "ghost", Currency: currency,
		})
		if !errors.Is(err, betledger.ErrNoParentAgent) {
			t.Fatalf("err = %v, want ErrNoParentAgent", err)
		}
	})

	t.Run("allocate to another agent's sub-agent", func(t *testing.T) {
		_, err := f.ledger.AllocateFloat(f.ctx, agentActor("agt-1"), betledger.AllocateFloatInput{
			TenantID: tenant, IdempotencyKey: "alloc-x", ParentAgentID: "agt-1",
			SubAgentID: "sub-2", Amount: kes(10),
		})
		if !errors.Is(err, betledger.ErrNoParentAgent) {
			t.Fatalf("err = %v, want ErrNoParentAgent", err)
		}
	})

	t.Run("treasury does not fund sub-agents", func(t *testing.T) {
		_, err := f.ledger.TopupFloat(f.ctx, admin, betledger.TopupFloatInput{
			TenantID: tenant, IdempotencyKey: "topup-sub", AgentID: "sub-2",
			Amount: kes(10), FundingType: account.FundingCash,
		})
		if !errors.Is(err, betledger.ErrInvalidInput) {
			t.Fatalf("err = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("agent acting for another agent", func(t *testing.T) {
		_, err := f.ledger.TopupPlayer(f.ctx, agentActor("agt-2"), betledger.TopupPlayerInput{
			TenantID: tenant, IdempotencyKey: "steal", AgentID: "agt-1",
			PlayerIdentifier: "ply-1", Amount: kes(10),
		})
		if !errors.Is(err, betledger.ErrInsufficientAuthority) {
			t.Fatalf("err = %v, want ErrInsufficientAuthority", err)
		}
	})

	t.Run("agent reads a sibling's line", func(t *testing.T) {
		_, err := f.ledger.GetFloatLine(f.ctx, agentActor("agt-2"), tenant, "agt-1")
		if !errors.Is(err, betledger.ErrInsufficientAuthority) {
			t.Fatalf("err = %v, want ErrInsufficientAuthority", err)
		}
		if _, err := f.ledger.GetFloatLine(f.ctx, agentActor("agt-2"), tenant, "sub-2"); err != nil {
			t.Fatalf("parent reading its sub-agent: %v", err)
		}
	})

	t.Run("invalid funding type", func(t *testing.T) {
		_, err := f.ledger.TopupFloat(f.ctx, admin, betledger.TopupFloatInput{
			TenantID: tenant, IdempotencyKey: "topup-bad", AgentID: "agt-1",
			Amount: kes(10), FundingType: "barter",
		})
		if !errors.Is(err, betledger.ErrInvalidInput) {
			t.Fatalf("err = %v, want ErrInvalidInput", err)
		}
	})

	f.checkInvariants()
}

func TestTopupPlayerIdempotent(t *testing.T) {
	f := newFixture(t)
	player := f.fundedPlayer("ply-1", 100)
	in := betledger.TopupPlayerInput{
		TenantID:         tenant,
		IdempotencyKey:   "cash-dup",
		AgentID:          "agt-1",
		PlayerIdentifier: "ply-1",
		Amount:           kes(250),
	}
	first, err := f.ledger.TopupPlayer(f.ctx, agentActor("agt-1"), in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.ledger.TopupPlayer(f.ctx, agentActor("agt-1"), in)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("replay posted a new transaction %s, want %s", second.ID, first.ID)
	}
	if got := f.available(player.ID); got != 350 {
		t.Errorf("player = %d, want 350", got)
	}
	f.checkInvariants()
}

func TestTopupPlayerDirectory(t *testing.T) {
	dir := betledger.PlayerDirectoryFunc(func(_ context.Context, tenantID, identifier string) (*betledger.Player, error) {
		switch identifier {
		case "+254700000001":
			return &betledger.Player{PlayerID: "ply-7", TenantID: tenantID}, nil
		case "roamer@example.com":
			return &betledger.Player{PlayerID: "ply-8", TenantID: "tnt_beta"}, nil
		}
		return nil, betledger.ErrPlayerNotFound
	})
	f := newFixture(t, betledger.WithPlayerDirectory(dir))
	f.agent("agt-1", "", 0)
	f.topupAgent("agt-1", 1000)

	topup := func(identifier string) error {
		_, err := f.ledger.TopupPlayer(f.ctx, agentActor("agt-1"), betledger.TopupPlayerInput{
			TenantID:         tenant,
			IdempotencyKey:   f.key("cash"),
			AgentID:          "agt-1",
			PlayerIdentifier: identifier,
			Amount:           kes(100),
		})
		return err
	}

	if err := topup("+254700000001"); err != nil {
		t.Fatalf("TopupPlayer: %v", err)
	}
	a, err := f.ledger.LookupAccount(f.ctx, admin, tenant, account.OwnerPlayer, "ply-7")
	if err != nil {
		t.Fatalf("player account not created: %v", err)
	}
	if got := f.available(a.ID); got != 100 {
		t.Errorf("player = %d, want 100", got)
	}
	if err := topup("roamer@example.com"); !errors.Is(err, betledger.ErrTenantMismatch) {
		t.Errorf("err = %v, want ErrTenantMismatch", err)
	}
	if err := topup("nobody"); !errors.Is(err, betledger.ErrPlayerNotFound) {
		t.Errorf("err = %v, want ErrPlayerNotFound", err)
	}
	f.checkInvariants()
}

func TestTopupPlayerDefaultDirectory(t *testing.T) {
	f := newFixture(t)
	line := f.agent("agt-1", "", 0)
	f.topupAgent("agt-1", 1000)

	_, err := f.ledger.TopupPlayer(f.ctx, agentActor("agt-1"), betledger.TopupPlayerInput{
		TenantID: tenant, IdempotencyKey: "cash-1", AgentID: "agt-1",
		PlayerIdentifier: "ply-new", Amount: kes(100),
	})
	if !errors.Is(err, betledger.ErrPlayerNotFound) {
		t.Fatalf("err = %v, want ErrPlayerNotFound", err)
	}
	if _, err := f.ledger.LookupAccount(f.ctx, admin, tenant, account.OwnerPlayer, "ply-new"); !errors.Is(err, betledger.ErrAccountNotFound) {
		t.Errorf("account created for an unresolved player: err = %v", err)
	}
	if got := f.available(line.AccountID); got != 1000 {
		t.Errorf("agent float = %d, want 1000", got)
	}
}

func TestWithdrawFromAgent(t *testing.T) {
	verifier := betledger.VerifierFunc(func(_ context.Context, _, _ string, v betledger.Verification) error {
		if v.Code != "1234" {
			return betledger.ErrVerificationFailed
		}
		return nil
	})
	f := newFixture(t, betledger.WithVerifier(verifier))
	player := f.fundedPlayer("ply-1", 500)
	line, err := f.ledger.GetFloatLine(f.ctx, agentActor("agt-1"), tenant, "agt-1")
	if err != nil {
		t.Fatal(err)
	}
	floatBefore := f.available(line.AccountID)

	withdraw := func(key string, amount int64, code string) (*entry.Transaction, error) {
		return f.ledger.WithdrawFromAgent(f.ctx, agentActor("agt-1"), betledger.WithdrawFromAgentInput{
			TenantID:       tenant,
			IdempotencyKey: key,
			PlayerID:       "ply-1",
			AgentID:        "agt-1",
			Amount:         kes(amount),
			Verification:   betledger.Verification{Method: "otp", Code: code, Reference: "otp-77"},
		})
	}

	tests := []struct {
		name   string
		amount int64
		code   string
		want   error
	}{
		{"no code", 100, "", betledger.ErrVerificationRequired},
		{"wrong code", 100, "0000", betledger.ErrVerificationFailed},
		{"more than the wallet holds", 501, "1234", betledger.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := withdraw(f.key("wd"), tt.amount, tt.code); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	txn, err := withdraw("wd-ok", 300, "1234")
	if err != nil {
		t.Fatalf("WithdrawFromAgent: %v", err)
	}
	if txn.Metadata["verification_method"] != "otp" || txn.Metadata["verification_ref"] != "otp-77" {
		t.Errorf("metadata = %v", txn.Metadata)
	}
	if got := f.available(player.ID); got != 200 {
		t.Errorf("player = %d, want 200", got)
	}
	if got := f.available(line.AccountID); got != floatBefore+300 {
		t.Errorf("agent float = %d, want %d", got, floatBefore+300)
	}
	f.checkInvariants()
}

func TestWithdrawWithoutVerifier(t *testing.T) {
	f := newFixture(t)
	f.fundedPlayer("ply-1", 500)
	_, err := f.ledger.WithdrawFromAgent(f.ctx, agentActor("agt-1"), betledger.WithdrawFromAgentInput{
		TenantID:       tenant,
		IdempotencyKey: "wd-1",
		PlayerID:       "ply-1",
		AgentID:        "agt-1",
		Amount:         kes(100),
		Verification:   betledger.Verification{Method: "otp", Code: "1234"},
	})
	if !errors.Is(err, betledger.ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}
}
