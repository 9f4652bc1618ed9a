package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/bet"
	"github.com/xraph/betledger/commission"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/policy"
)

// tx is a unit of work bound to one open transaction. Reads inside it see
// its own writes.
type tx struct {
	conn
}

// exists reports whether any row of model's table matches where.
func (t *tx) exists(ctx context.Context, model any, where ...Clause) (bool, error) {
	n, err := t.q.Count(ctx, model, where...)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// insert runs an INSERT whose uniqueness was already checked in this
// transaction. A unique violation then means a concurrent writer won the
// race, reported as a conflict so the unit of work is retried and the
// pre-check sees the winner.
func (t *tx) insert(ctx context.Context, op string, model any) error {
	if err := t.q.Insert(ctx, model); err != nil {
		if errors.Is(t.d.classify(err), betledger.ErrAlreadyExists) {
			return fmt.Errorf("betledger/%s: %s: %w", t.d.Name, op, betledger.ErrConflict)
		}
		return t.d.wrap(op, err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

func (t *tx) CreateAccount(ctx context.Context, a *account.Account) error {
	taken, err := t.exists(ctx, new(accountModel),
		Where("tenant_id = ?", a.TenantID),
		Where("owner_type = ?", string(a.OwnerType)),
		Where("owner_id = ?", a.OwnerID))
	if err != nil {
		return t.d.wrap("create account", err)
	}
	if taken {
		return betledger.ErrAlreadyExists
	}

	if err := t.insert(ctx, "create account", toAccountModel(a)); err != nil {
		return err
	}
	return t.insert(ctx, "create balance", toBalanceModel(account.NewBalance(a.ID, a.Currency, a.CreatedAt)))
}

func (t *tx) UpdateAccountStatus(ctx context.Context, accountID id.AccountID, status account.Status, at time.Time) error {
	m := &accountModel{Status: string(status), UpdatedAt: nanos(at)}
	n, err := t.q.Update(ctx, m, []string{"status", "updated_at"}, Where("id = ?", accountID.String()))
	if err != nil {
		return t.d.wrap("update account status", err)
	}
	if n == 0 {
		return betledger.ErrAccountNotFound
	}
	return nil
}

func (t *tx) LockBalances(ctx context.Context, accountIDs []id.AccountID) (map[string]*account.Balance, error) {
	ordered := append([]id.AccountID(nil), accountIDs...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].String() < ordered[j].String() })

	out := make(map[string]*account.Balance, len(ordered))
	for _, aid := range ordered {
		if _, ok := out[aid.String()]; ok {
			continue
		}
		b, err := t.getBalance(ctx, "lock balance", aid, true)
		if err != nil {
			return nil, err
		}
		out[aid.String()] = b
	}
	return out, nil
}

func (t *tx) SaveBalance(ctx context.Context, b *account.Balance) error {
	n, err := t.q.Update(ctx, toBalanceModel(b), balanceColumns, Where("account_id = ?", b.AccountID.String()))
	if err != nil {
		return t.d.wrap("save balance", err)
	}
	if n == 0 {
		return betledger.ErrAccountNotFound
	}
	return nil
}

// ──────────────────────────────────────────────────
// Float lines
// ──────────────────────────────────────────────────

func (t *tx) CreateFloatLine(ctx context.Context, f *account.FloatLine) error {
	taken, err := t.exists(ctx, new(floatLineModel), Where("tenant_id = ?", f.TenantID), Where("agent_id = ?", f.AgentID))
	if err != nil {
		return t.d.wrap("create float line", err)
	}
	if taken {
		return betledger.ErrAlreadyExists
	}
	return t.insert(ctx, "create float line", toFloatLineModel(f))
}

func (t *tx) LockFloatLine(ctx context.Context, tenantID, agentID string) (*account.FloatLine, error) {
	return t.getFloatLine(ctx, "lock float line", tenantID, agentID, true)
}

func (t *tx) SaveFloatLine(ctx context.Context, f *account.FloatLine) error {
	n, err := t.q.Update(ctx, toFloatLineModel(f), floatLineColumns,
		Where("tenant_id = ?", f.TenantID), Where("agent_id = ?", f.AgentID))
	if err != nil {
		return t.d.wrap("save float line", err)
	}
	if n == 0 {
		return betledger.ErrFloatLineNotFound
	}
	return nil
}

// ──────────────────────────────────────────────────
// Ledger
// ──────────────────────────────────────────────────

func (t *tx) InsertTransaction(ctx context.Context, txn *entry.Transaction) error {
	taken, err := t.exists(ctx, new(transactionModel),
		Where("tenant_id = ?", txn.TenantID), Where("idempotency_key = ?", txn.IdempotencyKey))
	if err != nil {
		return t.d.wrap("insert transaction", err)
	}
	if taken {
		return betledger.ErrDuplicateTransaction
	}

	m, err := toTransactionModel(txn)
	if err != nil {
		return t.d.wrap("encode transaction metadata", err)
	}
	if err := t.insert(ctx, "insert transaction", m); err != nil {
		return err
	}

	for i, e := range txn.Entries {
		if err := t.q.Insert(ctx, toEntryModel(e, i)); err != nil {
			return t.d.wrap("insert entry", err)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Bets
// ──────────────────────────────────────────────────

func (t *tx) CreateBet(ctx context.Context, b *bet.Bet) error {
	taken, err := t.exists(ctx, new(betModel), Where("tenant_id = ?", b.TenantID), Where("idempotency_key = ?", b.IdempotencyKey))
	if err != nil {
		return t.d.wrap("create bet", err)
	}
	if taken {
		return betledger.ErrAlreadyExists
	}

	m, err := toBetModel(b)
	if err != nil {
		return t.d.wrap("encode bet", err)
	}
	return t.insert(ctx, "create bet", m)
}

func (t *tx) LockBet(ctx context.Context, betID id.BetID) (*bet.Bet, error) {
	return t.getBet(ctx, Query{Where: []Clause{Where("id = ?", betID.String())}, Lock: true})
}

func (t *tx) UpdateBet(ctx context.Context, b *bet.Bet, from bet.Status) error {
	m, err := toBetModel(b)
	if err != nil {
		return t.d.wrap("encode bet", err)
	}
	n, err := t.q.Update(ctx, m, betColumns, Where("id = ?", m.ID), Where("status = ?", string(from)))
	if err != nil {
		return t.d.wrap("update bet", err)
	}
	if n > 0 {
		return nil
	}
	found, err := t.exists(ctx, new(betModel), Where("id = ?", m.ID))
	if err != nil {
		return t.d.wrap("update bet", err)
	}
	if !found {
		return betledger.ErrBetNotFound
	}
	return betledger.ErrBetAlreadySettled
}

// ──────────────────────────────────────────────────
// Commissions
// ──────────────────────────────────────────────────

func (t *tx) CreateCommission(ctx context.Context, c *commission.Settlement) error {
	taken, err := t.exists(ctx, new(commissionModel), Where("tenant_id = ?", c.TenantID), Where("settlement_key = ?", c.Key))
	if err != nil {
		return t.d.wrap("create commission", err)
	}
	if taken {
		return betledger.ErrAlreadyExists
	}

	m, err := toCommissionModel(c)
	if err != nil {
		return t.d.wrap("encode commission", err)
	}
	return t.insert(ctx, "create commission", m)
}

func (t *tx) LockCommission(ctx context.Context, commissionID id.CommissionID) (*commission.Settlement, error) {
	return t.getCommission(ctx, Query{Where: []Clause{Where("id = ?", commissionID.String())}, Lock: true})
}

func (t *tx) UpdateCommission(ctx context.Context, c *commission.Settlement, from commission.Status) error {
	m, err := toCommissionModel(c)
	if err != nil {
		return t.d.wrap("encode commission", err)
	}
	n, err := t.q.Update(ctx, m, commissionColumns, Where("id = ?", m.ID), Where("status = ?", string(from)))
	if err != nil {
		return t.d.wrap("update commission", err)
	}
	if n > 0 {
		return nil
	}
	found, err := t.exists(ctx, new(commissionModel), Where("id = ?", m.ID))
	if err != nil {
		return t.d.wrap("update commission", err)
	}
	if !found {
		return betledger.ErrCommissionNotFound
	}
	return betledger.ErrConflict
}

// ──────────────────────────────────────────────────
// Policies
// ──────────────────────────────────────────────────

func (t *tx) CreatePolicy(ctx context.Context, p *policy.Policy) error {
	latest, err := t.LatestPolicyVersion(ctx, p.TenantID)
	if err != nil {
		return err
	}
	if latest >= p.Version {
		return betledger.ErrAlreadyExists
	}

	m, err := toPolicyModel(p)
	if err != nil {
		return t.d.wrap("encode policy", err)
	}
	return t.insert(ctx, "create policy", m)
}
