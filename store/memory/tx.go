package memory

import (
	"context"
	"time"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/bet"
	"github.com/xraph/betledger/commission"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/policy"
)

// tx writes straight into the shared state while the store's write lock
// is held, recording how to undo each write.
type tx struct {
	*state
	undo []func()
}

func (t *tx) onRollback(fn func()) { t.undo = append(t.undo, fn) }

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

func (t *tx) CreateAccount(_ context.Context, a *account.Account) error {
	k := key(a.TenantID, string(a.OwnerType), a.OwnerID)
	if _, ok := t.accountKeys[k]; ok {
		return betledger.ErrAlreadyExists
	}
	aid := a.ID.String()
	cp := *a
	t.accounts[aid] = &cp
	t.accountKeys[k] = a.ID
	t.balances[aid] = account.NewBalance(a.ID, a.Currency, a.CreatedAt)
	t.onRollback(func() {
		delete(t.accounts, aid)
		delete(t.accountKeys, k)
		delete(t.balances, aid)
	})
	return nil
}

func (t *tx) UpdateAccountStatus(_ context.Context, accountID id.AccountID, status account.Status, at time.Time) error {
	a, ok := t.accounts[accountID.String()]
	if !ok {
		return betledger.ErrAccountNotFound
	}
	prev := *a
	a.Status = status
	a.Touch(at)
	t.onRollback(func() { *a = prev })
	return nil
}

func (t *tx) LockBalances(_ context.Context, accountIDs []id.AccountID) (map[string]*account.Balance, error) {
	out := make(map[string]*account.Balance, len(accountIDs))
	for _, aid := range accountIDs {
		b, ok := t.balances[aid.String()]
		if !ok {
			return nil, betledger.ErrAccountNotFound
		}
		cp := *b
		out[aid.String()] = &cp
	}
	return out, nil
}

func (t *tx) SaveBalance(_ context.Context, b *account.Balance) error {
	aid := b.AccountID.String()
	cur, ok := t.balances[aid]
	if !ok {
		return betledger.ErrAccountNotFound
	}
	prev := *cur
	*cur = *b
	t.onRollback(func() { *cur = prev })
	return nil
}

// ──────────────────────────────────────────────────
// Float lines
// ──────────────────────────────────────────────────

func (t *tx) CreateFloatLine(_ context.Context, f *account.FloatLine) error {
	k := key(f.TenantID, f.AgentID)
	if _, ok := t.floatLines[k]; ok {
		return betledger.ErrAlreadyExists
	}
	cp := *f
	t.floatLines[k] = &cp
	t.onRollback(func() { delete(t.floatLines, k) })
	return nil
}

func (t *tx) LockFloatLine(ctx context.Context, tenantID, agentID string) (*account.FloatLine, error) {
	return t.GetFloatLine(ctx, tenantID, agentID)
}

func (t *tx) SaveFloatLine(_ context.Context, f *account.FloatLine) error {
	cur, ok := t.floatLines[key(f.TenantID, f.AgentID)]
	if !ok {
		return betledger.ErrFloatLineNotFound
	}
	prev := *cur
	*cur = *f
	t.onRollback(func() { *cur = prev })
	return nil
}

// ──────────────────────────────────────────────────
// Ledger
// ──────────────────────────────────────────────────

func (t *tx) InsertTransaction(_ context.Context, txn *entry.Transaction) error {
	k := key(txn.TenantID, txn.IdempotencyKey)
	if _, ok := t.txnKeys[k]; ok {
		return betledger.ErrDuplicateTransaction
	}
	tid := txn.ID.String()
	cp := cloneTransaction(txn)
	t.txns[tid] = cp
	t.txnKeys[k] = txn.ID

	entriesLen := len(t.entries)
	accountLens := make(map[string]int, len(cp.Entries))
	for _, e := range cp.Entries {
		aid := e.AccountID.String()
		if _, seen := accountLens[aid]; !seen {
			accountLens[aid] = len(t.byAccount[aid])
		}
		t.entries = append(t.entries, e)
		t.byAccount[aid] = append(t.byAccount[aid], e)
	}

	t.onRollback(func() {
		delete(t.txns, tid)
		delete(t.txnKeys, k)
		t.entries = t.entries[:entriesLen]
		for aid, n := range accountLens {
			t.byAccount[aid] = t.byAccount[aid][:n]
		}
	})
	return nil
}

// ──────────────────────────────────────────────────
// Bets
// ──────────────────────────────────────────────────

func (t *tx) CreateBet(_ context.Context, b *bet.Bet) error {
	k := key(b.TenantID, b.IdempotencyKey)
	if _, ok := t.betKeys[k]; ok {
		return betledger.ErrAlreadyExists
	}
	bid := b.ID.String()
	t.bets[bid] = cloneBet(b)
	t.betKeys[k] = b.ID
	t.onRollback(func() {
		delete(t.bets, bid)
		delete(t.betKeys, k)
	})
	return nil
}

func (t *tx) LockBet(ctx context.Context, betID id.BetID) (*bet.Bet, error) {
	return t.GetBet(ctx, betID)
}

func (t *tx) UpdateBet(_ context.Context, b *bet.Bet, from bet.Status) error {
	bid := b.ID.String()
	cur, ok := t.bets[bid]
	if !ok {
		return betledger.ErrBetNotFound
	}
	if cur.Status != from {
		return betledger.ErrBetAlreadySettled
	}
	t.bets[bid] = cloneBet(b)
	t.onRollback(func() { t.bets[bid] = cur })
	return nil
}

// ──────────────────────────────────────────────────
// Commissions
// ──────────────────────────────────────────────────

func (t *tx) CreateCommission(_ context.Context, c *commission.Settlement) error {
	k := key(c.TenantID, c.Key)
	if _, ok := t.commissionKeys[k]; ok {
		return betledger.ErrAlreadyExists
	}
	cid := c.ID.String()
	cp := *c
	t.commissions[cid] = &cp
	t.commissionKeys[k] = c.ID
	t.onRollback(func() {
		delete(t.commissions, cid)
		delete(t.commissionKeys, k)
	})
	return nil
}

func (t *tx) LockCommission(ctx context.Context, commissionID id.CommissionID) (*commission.Settlement, error) {
	return t.GetCommission(ctx, commissionID)
}

func (t *tx) UpdateCommission(_ context.Context, c *commission.Settlement, from commission.Status) error {
	cid := c.ID.String()
	cur, ok := t.commissions[cid]
	if !ok {
		return betledger.ErrCommissionNotFound
	}
	if cur.Status != from {
		return betledger.ErrConflict
	}
	cp := *c
	t.commissions[cid] = &cp
	t.onRollback(func() { t.commissions[cid] = cur })
	return nil
}

// ──────────────────────────────────────────────────
// Policies
// ──────────────────────────────────────────────────

func (t *tx) CreatePolicy(_ context.Context, p *policy.Policy) error {
	versions := t.policies[p.TenantID]
	if n := len(versions); n > 0 && versions[n-1].Version >= p.Version {
		return betledger.ErrAlreadyExists
	}
	t.policies[p.TenantID] = append(versions, clonePolicy(p))
	t.onRollback(func() {
		if len(versions) == 0 {
			delete(t.policies, p.TenantID)
			return
		}
		t.policies[p.TenantID] = versions
	})
	return nil
}

// ──────────────────────────────────────────────────
// Copies
// ──────────────────────────────────────────────────

func cloneTransaction(src *entry.Transaction) *entry.Transaction {
	cp := *src
	if src.Metadata != nil {
		cp.Metadata = make(map[string]string, len(src.Metadata))
		for k, v := range src.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.Entries = make([]*entry.Entry, len(src.Entries))
	for i, e := range src.Entries {
		ec := *e
		cp.Entries[i] = &ec
	}
	return &cp
}

func cloneBet(src *bet.Bet) *bet.Bet {
	cp := *src
	cp.Selections = append([]bet.Selection(nil), src.Selections...)
	if src.Breakdown != nil {
		bd := *src.Breakdown
		bd.VoidSelections = append([]string(nil), src.Breakdown.VoidSelections...)
		cp.Breakdown = &bd
	}
	if src.SettledAt != nil {
		at := *src.SettledAt
		cp.SettledAt = &at
	}
	return &cp
}

func clonePolicy(src *policy.Policy) *policy.Policy {
	cp := *src
	cp.MaxWinRules = append([]policy.MaxWinRule(nil), src.MaxWinRules...)
	cp.CommissionTiers = append([]policy.CommissionTier(nil), src.CommissionTiers...)
	cp.AgentRates = append([]policy.AgentRate(nil), src.AgentRates...)
	return &cp
}
