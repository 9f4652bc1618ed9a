package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/bet"
	"github.com/xraph/betledger/commission"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/policy"
	"github.com/xraph/betledger/types"
)

// conn runs reads against either the pool or an open transaction.
type conn struct {
	q Querier
	d *Dialect
}

// notFound maps sql.ErrNoRows to sentinel and wraps anything else.
func (c *conn) notFound(op string, err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return c.d.wrap(op, err)
}

// convert turns each scanned model into its domain value.
func convert[M, T any](op string, d *Dialect, models []M, fn func(*M) (*T, error)) ([]*T, error) {
	out := make([]*T, 0, len(models))
	for i := range models {
		v, err := fn(&models[i])
		if err != nil {
			return nil, d.wrap(op, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

func (c *conn) getAccount(ctx context.Context, op string, q Query) (*account.Account, error) {
	m := new(accountModel)
	if err := c.q.Select(ctx, m, q); err != nil {
		return nil, c.notFound(op, err, betledger.ErrAccountNotFound)
	}
	a, err := fromAccountModel(m)
	if err != nil {
		return nil, c.d.wrap(op, err)
	}
	return a, nil
}

func (c *conn) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return c.getAccount(ctx, "get account", Query{Where: []Clause{Where("id = ?", accountID.String())}})
}

func (c *conn) FindAccount(ctx context.Context, tenantID string, ownerType account.OwnerType, ownerID string) (*account.Account, error) {
	return c.getAccount(ctx, "find account", Query{Where: []Clause{
		Where("tenant_id = ?", tenantID),
		Where("owner_type = ?", string(ownerType)),
		Where("owner_id = ?", ownerID),
	}})
}

func (c *conn) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	q := Query{Order: "id ASC", Limit: opts.Limit, Offset: opts.Offset}
	if opts.TenantID != "" {
		q.Where = append(q.Where, Where("tenant_id = ?", opts.TenantID))
	}
	if opts.OwnerType != "" {
		q.Where = append(q.Where, Where("owner_type = ?", string(opts.OwnerType)))
	}
	if opts.Status != "" {
		q.Where = append(q.Where, Where("status = ?", string(opts.Status)))
	}

	var models []accountModel
	if err := c.q.Select(ctx, &models, q); err != nil {
		return nil, c.d.wrap("list accounts", err)
	}
	return convert("list accounts", c.d, models, fromAccountModel)
}

func (c *conn) getBalance(ctx context.Context, op string, accountID id.AccountID, lock bool) (*account.Balance, error) {
	m := new(balanceModel)
	err := c.q.Select(ctx, m, Query{Where: []Clause{Where("account_id = ?", accountID.String())}, Lock: lock})
	if err != nil {
		return nil, c.notFound(op, err, betledger.ErrAccountNotFound)
	}
	b, err := fromBalanceModel(m)
	if err != nil {
		return nil, c.d.wrap(op, err)
	}
	return b, nil
}

func (c *conn) GetBalance(ctx context.Context, accountID id.AccountID) (*account.Balance, error) {
	return c.getBalance(ctx, "get balance", accountID, false)
}

func (c *conn) getFloatLine(ctx context.Context, op, tenantID, agentID string, lock bool) (*account.FloatLine, error) {
	m := new(floatLineModel)
	err := c.q.Select(ctx, m, Query{
		Where: []Clause{Where("tenant_id = ?", tenantID), Where("agent_id = ?", agentID)},
		Lock:  lock,
	})
	if err != nil {
		return nil, c.notFound(op, err, betledger.ErrFloatLineNotFound)
	}
	f, err := fromFloatLineModel(m)
	if err != nil {
		return nil, c.d.wrap(op, err)
	}
	return f, nil
}

func (c *conn) GetFloatLine(ctx context.Context, tenantID, agentID string) (*account.FloatLine, error) {
	return c.getFloatLine(ctx, "get float line", tenantID, agentID, false)
}

// ──────────────────────────────────────────────────
// Ledger
// ──────────────────────────────────────────────────

func (c *conn) getTransaction(ctx context.Context, where ...Clause) (*entry.Transaction, error) {
	m := new(transactionModel)
	if err := c.q.Select(ctx, m, Query{Where: where}); err != nil {
		return nil, c.notFound("get transaction", err, betledger.ErrTransactionNotFound)
	}
	t, err := fromTransactionModel(m)
	if err != nil {
		return nil, c.d.wrap("decode transaction", err)
	}

	var entries []entryModel
	err = c.q.Select(ctx, &entries, Query{
		Where: []Clause{Where("transaction_id = ?", m.ID)},
		Order: "seq ASC",
	})
	if err != nil {
		return nil, c.d.wrap("get transaction entries", err)
	}
	if t.Entries, err = convert("get transaction entries", c.d, entries, fromEntryModel); err != nil {
		return nil, err
	}
	return t, nil
}

func (c *conn) GetTransaction(ctx context.Context, txID id.TransactionID) (*entry.Transaction, error) {
	return c.getTransaction(ctx, Where("id = ?", txID.String()))
}

func (c *conn) GetTransactionByKey(ctx context.Context, tenantID, key string) (*entry.Transaction, error) {
	return c.getTransaction(ctx, Where("tenant_id = ?", tenantID), Where("idempotency_key = ?", key))
}

func (c *conn) QueryEntries(ctx context.Context, f entry.Filter, page entry.Page) ([]*entry.Entry, error) {
	q := Query{Order: "created_at DESC, id DESC", Limit: page.Limit, Offset: page.Offset}
	if f.TenantID != "" {
		q.Where = append(q.Where, Where("tenant_id = ?", f.TenantID))
	}
	if !f.AccountID.IsNil() {
		q.Where = append(q.Where, Where("account_id = ?", f.AccountID.String()))
	}
	if !f.TransactionID.IsNil() {
		q.Where = append(q.Where, Where("transaction_id = ?", f.TransactionID.String()))
	}
	if f.Type != "" {
		q.Where = append(q.Where, Where("type = ?", string(f.Type)))
	}
	if f.Reference != "" {
		q.Where = append(q.Where, Where("reference = ?", f.Reference))
	}
	if !f.From.IsZero() {
		q.Where = append(q.Where, Where("created_at >= ?", nanos(f.From)))
	}
	if !f.To.IsZero() {
		q.Where = append(q.Where, Where("created_at < ?", nanos(f.To)))
	}

	var models []entryModel
	if err := c.q.Select(ctx, &models, q); err != nil {
		return nil, c.d.wrap("query entries", err)
	}
	return convert("query entries", c.d, models, fromEntryModel)
}

func (c *conn) ReplayAccount(ctx context.Context, accountID id.AccountID) (entry.Totals, error) {
	n, err := c.q.Count(ctx, new(accountModel), Where("id = ?", accountID.String()))
	if err != nil {
		return entry.Totals{}, c.d.wrap("replay account", err)
	}
	if n == 0 {
		return entry.Totals{}, betledger.ErrAccountNotFound
	}

	var row totalsRow
	err = c.q.Raw(ctx, `SELECT
    CAST(COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE 0 END), 0) AS BIGINT) AS credits,
    CAST(COALESCE(SUM(CASE WHEN direction = 'debit' THEN amount ELSE 0 END), 0) AS BIGINT) AS debits,
    COUNT(*) AS entries,
    COUNT(DISTINCT transaction_id) AS transactions
FROM betledger_entries WHERE account_id = ?`, []any{accountID.String()}, &row)
	if err != nil {
		return entry.Totals{}, c.d.wrap("replay account", err)
	}
	return entry.Totals{
		Signed:       row.Credits - row.Debits,
		Debits:       row.Debits,
		Credits:      row.Credits,
		Entries:      row.Entries,
		Transactions: row.Transactions,
	}, nil
}

// ──────────────────────────────────────────────────
// Bets
// ──────────────────────────────────────────────────

func (c *conn) getBet(ctx context.Context, q Query) (*bet.Bet, error) {
	m := new(betModel)
	if err := c.q.Select(ctx, m, q); err != nil {
		return nil, c.notFound("get bet", err, betledger.ErrBetNotFound)
	}
	b, err := fromBetModel(m)
	if err != nil {
		return nil, c.d.wrap("decode bet", err)
	}
	return b, nil
}

func (c *conn) GetBet(ctx context.Context, betID id.BetID) (*bet.Bet, error) {
	return c.getBet(ctx, Query{Where: []Clause{Where("id = ?", betID.String())}})
}

func (c *conn) GetBetByKey(ctx context.Context, tenantID, key string) (*bet.Bet, error) {
	return c.getBet(ctx, Query{Where: []Clause{Where("tenant_id = ?", tenantID), Where("idempotency_key = ?", key)}})
}

func (c *conn) ListBets(ctx context.Context, opts bet.ListOpts) ([]*bet.Bet, error) {
	q := Query{Order: "id DESC", Limit: opts.Limit, Offset: opts.Offset}
	if opts.TenantID != "" {
		q.Where = append(q.Where, Where("tenant_id = ?", opts.TenantID))
	}
	if opts.PlayerID != "" {
		q.Where = append(q.Where, Where("player_id = ?", opts.PlayerID))
	}
	if opts.AgentID != "" {
		q.Where = append(q.Where, Where("agent_id = ?", opts.AgentID))
	}
	if opts.Status != "" {
		q.Where = append(q.Where, Where("status = ?", string(opts.Status)))
	}

	var models []betModel
	if err := c.q.Select(ctx, &models, q); err != nil {
		return nil, c.d.wrap("list bets", err)
	}
	return convert("decode bet", c.d, models, fromBetModel)
}

func (c *conn) AgentActivity(ctx context.Context, tenantID string, from, to time.Time) ([]commission.Activity, error) {
	var rows []activityRow
	err := c.q.Raw(ctx, `SELECT agent_id, currency,
    CAST(SUM(stake_amount) AS BIGINT) AS turnover,
    CAST(SUM(CASE WHEN status = 'won' THEN payout_amount ELSE 0 END) AS BIGINT) AS payouts,
    COUNT(*) AS bet_count
FROM betledger_bets
WHERE tenant_id = ? AND agent_id <> '' AND status IN ('won', 'lost')
  AND settled_at IS NOT NULL AND settled_at >= ? AND settled_at < ?
GROUP BY agent_id, currency
ORDER BY agent_id ASC`, []any{tenantID, nanos(from), nanos(to)}, &rows)
	if err != nil {
		return nil, c.d.wrap("agent activity", err)
	}

	out := make([]commission.Activity, 0, len(rows))
	for _, r := range rows {
		out = append(out, commission.Activity{
			AgentID:  r.AgentID,
			Turnover: types.New(r.Turnover, r.Currency),
			Payouts:  types.New(r.Payouts, r.Currency),
			BetCount: r.BetCount,
		})
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Commissions
// ──────────────────────────────────────────────────

func (c *conn) getCommission(ctx context.Context, q Query) (*commission.Settlement, error) {
	m := new(commissionModel)
	if err := c.q.Select(ctx, m, q); err != nil {
		return nil, c.notFound("get commission", err, betledger.ErrCommissionNotFound)
	}
	s, err := fromCommissionModel(m)
	if err != nil {
		return nil, c.d.wrap("decode commission", err)
	}
	return s, nil
}

func (c *conn) GetCommission(ctx context.Context, commissionID id.CommissionID) (*commission.Settlement, error) {
	return c.getCommission(ctx, Query{Where: []Clause{Where("id = ?", commissionID.String())}})
}

func (c *conn) FindCommissionByKey(ctx context.Context, tenantID, key string) (*commission.Settlement, error) {
	return c.getCommission(ctx, Query{Where: []Clause{Where("tenant_id = ?", tenantID), Where("settlement_key = ?", key)}})
}

func (c *conn) ListCommissions(ctx context.Context, opts commission.ListOpts) ([]*commission.Settlement, error) {
	q := Query{Order: "id DESC", Limit: opts.Limit, Offset: opts.Offset}
	if opts.TenantID != "" {
		q.Where = append(q.Where, Where("tenant_id = ?", opts.TenantID))
	}
	if opts.AgentID != "" {
		q.Where = append(q.Where, Where("agent_id = ?", opts.AgentID))
	}
	if opts.Status != "" {
		q.Where = append(q.Where, Where("status = ?", string(opts.Status)))
	}
	if !opts.From.IsZero() {
		q.Where = append(q.Where, Where("period_start >= ?", nanos(opts.From)))
	}
	if !opts.To.IsZero() {
		q.Where = append(q.Where, Where("period_end <= ?", nanos(opts.To)))
	}

	var models []commissionModel
	if err := c.q.Select(ctx, &models, q); err != nil {
		return nil, c.d.wrap("list commissions", err)
	}
	return convert("decode commission", c.d, models, fromCommissionModel)
}

// ──────────────────────────────────────────────────
// Policies
// ──────────────────────────────────────────────────

func (c *conn) getPolicy(ctx context.Context, q Query) (*policy.Policy, error) {
	m := new(policyModel)
	if err := c.q.Select(ctx, m, q); err != nil {
		return nil, c.notFound("get policy", err, betledger.ErrPolicyNotFound)
	}
	p, err := fromPolicyModel(m)
	if err != nil {
		return nil, c.d.wrap("decode policy", err)
	}
	return p, nil
}

func (c *conn) GetPolicy(ctx context.Context, tenantID string, asOf time.Time) (*policy.Policy, error) {
	return c.getPolicy(ctx, Query{
		Where: []Clause{Where("tenant_id = ?", tenantID), Where("effective_from <= ?", nanos(asOf))},
		Order: "version DESC",
		Limit: 1,
	})
}

func (c *conn) GetPolicyVersion(ctx context.Context, tenantID string, version int) (*policy.Policy, error) {
	return c.getPolicy(ctx, Query{Where: []Clause{Where("tenant_id = ?", tenantID), Where("version = ?", version)}})
}

func (c *conn) LatestPolicyVersion(ctx context.Context, tenantID string) (int, error) {
	var v int64
	err := c.q.Raw(ctx, `SELECT COALESCE(MAX(version), 0) FROM betledger_policies WHERE tenant_id = ?`,
		[]any{tenantID}, &v)
	if err != nil {
		return 0, c.d.wrap("latest policy version", err)
	}
	return int(v), nil
}

func (c *conn) ListPolicyTenants(ctx context.Context) ([]string, error) {
	var rows []tenantRow
	if err := c.q.Raw(ctx, `SELECT DISTINCT tenant_id FROM betledger_policies`, nil, &rows); err != nil {
		return nil, c.d.wrap("list policy tenants", err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.TenantID)
	}
	sort.Strings(out)
	return out, nil
}
