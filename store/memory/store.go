// Package memory is an in-memory store.Store. Transactions are serialized
// by a single mutex and rolled back through an undo log, which makes it
// suitable for tests and single-process development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

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

// Compile-time interface checks.
var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*tx)(nil)
)

type Store struct {
	mu     sync.RWMutex
	closed bool
	data   *state
}

type state struct {
	// Account storage
	accounts    map[string]*account.Account
	accountKeys map[string]id.ID
	balances    map[string]*account.Balance
	floatLines  map[string]*account.FloatLine

	// Ledger storage
	txns      map[string]*entry.Transaction
	txnKeys   map[string]id.ID
	entries   []*entry.Entry
	byAccount map[string][]*entry.Entry

	// Bet storage
	bets    map[string]*bet.Bet
	betKeys map[string]id.ID

	// Commission storage
	commissions    map[string]*commission.Settlement
	commissionKeys map[string]id.ID

	// Policy storage, versions ascending
	policies map[string][]*policy.Policy
}

func New() *Store {
	return &Store{data: &state{
		accounts:       make(map[string]*account.Account),
		accountKeys:    make(map[string]id.ID),
		balances:       make(map[string]*account.Balance),
		floatLines:     make(map[string]*account.FloatLine),
		txns:           make(map[string]*entry.Transaction),
		txnKeys:        make(map[string]id.ID),
		byAccount:      make(map[string][]*entry.Entry),
		bets:           make(map[string]*bet.Bet),
		betKeys:        make(map[string]id.ID),
		commissions:    make(map[string]*commission.Settlement),
		commissionKeys: make(map[string]id.ID),
		policies:       make(map[string][]*policy.Policy),
	}}
}

func key(parts ...string) string {
	k := ""
	for i, p := range parts {
		if i > 0 {
			k += "\x00"
		}
		k += p
	}
	return k
}

// ──────────────────────────────────────────────────
// Unit of work
// ──────────────────────────────────────────────────

// RunInTx holds the write lock for the whole of fn. On error every write
// made through tx is undone in reverse order.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return betledger.ErrStoreClosed
	}

	t := &tx{state: s.data}
	if err := fn(ctx, t); err != nil {
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
		return err
	}
	return nil
}

func (s *Store) read() (*state, func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, nil, betledger.ErrStoreClosed
	}
	return s.data, s.mu.RUnlock, nil
}

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return betledger.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Reader (store side)
// ──────────────────────────────────────────────────

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	d, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()
	return d.GetAccount(ctx, accountID)
}

func (s *Store) FindAccount(ctx context.Context, tenantID string, ownerType account.OwnerType, ownerID string) (*account.Account, error) {
	d, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()
	return d.FindAccount(ctx, tenantID, ownerType, ownerID)
}

func (s *Store) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	d, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()
	return d.ListAccounts(ctx, opts)
}

func (s *Store) GetBalance(ctx context.Context, accountID id.AccountID) (*account.Balance, error) {
	d, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()
	return d.GetBalance(ctx, accountID)
}

func (s *Store) GetFloatLine(ctx context.Context, tenantID, agentID string) (*account.FloatLine, error) {
	d, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()
	return d.GetFloatLine(ctx, tenantID, agentID)
}

func (s *Store) GetTransaction(ctx context.Context, txID id.TransactionID) (*entry.Transaction, error) {
	d, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()
	return d.GetTransaction(ctx, txID)
}

func (s *Store) GetTransactionByKey(ctx context.Context, tenantID, k string) (*entry.Transaction, error) {
	d, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()
	return d.GetTransactionByKey(ctx, tenantID, k)
}

func (s *Store) QueryEntries(ctx context.Context, filter entry.Filter, page entry.Page) ([]*entry.Entry, error) {
	d, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()
	return d.QueryEntries(ctx, filter, page)
}

func (s *Store) ReplayAccount(ctx context.Context, accountID id.AccountID) (entry.Totals, error) {
	d, done, err := s.read()
	if err != nil {
		return entry.Totals{}, err
	}
	defer done()
	return d.ReplayAccount(ctx, accountID)
}

func (s *Store) GetBet(ctx context.Context, betID id.BetID) (*bet.Bet, error) {
	d, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()
	return d.GetBet(ctx, betID)
}

func (s *Store) GetBetByKey(ctx context.Context, tenantID, k string) (*bet.Bet, error) {
	d, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()
	return d.GetBetByKey(ctx, tenantID, k)
}

func (s *Store) ListBets(ctx context.Context, opts bet.ListOpts) ([]*bet.Bet, error) {
	d, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()
	return d.ListBets(ctx, opts)
}

func (s *Store) AgentActivity(ctx context.Context, tenantID string, from, to time.Time) ([]commission.Activity, error) {
	d, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()
	return d.AgentActivity(ctx, tenantID, from, to)
}

func (s *Store) GetCommission(ctx context.Context, commissionID id.CommissionID) (*commission.Settlement, error) {
	d, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()
	return d.GetCommission(ctx, commissionID)
}

func (s *Store) FindCommissionByKey(ctx context.Context, tenantID, k string) (*commission.Settlement, error) {
	d, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()
	return d.FindCommissionByKey(ctx, tenantID, k)
}

func (s *Store) ListCommissions(ctx context.Context, opts commission.ListOpts) ([]*commission.Settlement, error) {
	d, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()
	return d.ListCommissions(ctx, opts)
}

func (s *Store) GetPolicy(ctx context.Context, tenantID string, asOf time.Time) (*policy.Policy, error) {
	d, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()
	return d.GetPolicy(ctx, tenantID, asOf)
}

func (s *Store) GetPolicyVersion(ctx context.Context, tenantID string, version int) (*policy.Policy, error) {
	d, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()
	return d.GetPolicyVersion(ctx, tenantID, version)
}

func (s *Store) LatestPolicyVersion(ctx context.Context, tenantID string) (int, error) {
	d, done, err := s.read()
	if err != nil {
		return 0, err
	}
	defer done()
	return d.LatestPolicyVersion(ctx, tenantID)
}

func (s *Store) ListPolicyTenants(ctx context.Context) ([]string, error) {
	d, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()
	return d.ListPolicyTenants(ctx)
}

// ──────────────────────────────────────────────────
// Reader (unlocked, shared by store and tx)
// ──────────────────────────────────────────────────

func (d *state) GetAccount(_ context.Context, accountID id.AccountID) (*account.Account, error) {
	a, ok := d.accounts[accountID.String()]
	if !ok {
		return nil, betledger.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (d *state) FindAccount(ctx context.Context, tenantID string, ownerType account.OwnerType, ownerID string) (*account.Account, error) {
	aid, ok := d.accountKeys[key(tenantID, string(ownerType), ownerID)]
	if !ok {
		return nil, betledger.ErrAccountNotFound
	}
	return d.GetAccount(ctx, aid)
}

func (d *state) ListAccounts(_ context.Context, opts account.ListOpts) ([]*account.Account, error) {
	var out []*account.Account
	for _, a := range d.accounts {
		if opts.TenantID != "" && a.TenantID != opts.TenantID {
			continue
		}
		if opts.OwnerType != "" && a.OwnerType != opts.OwnerType {
			continue
		}
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return paginate(out, opts.Offset, opts.Limit), nil
}

func (d *state) GetBalance(_ context.Context, accountID id.AccountID) (*account.Balance, error) {
	b, ok := d.balances[accountID.String()]
	if !ok {
		return nil, betledger.ErrAccountNotFound
	}
	cp := *b
	return &cp, nil
}

func (d *state) GetFloatLine(_ context.Context, tenantID, agentID string) (*account.FloatLine, error) {
	f, ok := d.floatLines[key(tenantID, agentID)]
	if !ok {
		return nil, betledger.ErrFloatLineNotFound
	}
	cp := *f
	return &cp, nil
}

func (d *state) GetTransaction(_ context.Context, txID id.TransactionID) (*entry.Transaction, error) {
	t, ok := d.txns[txID.String()]
	if !ok {
		return nil, betledger.ErrTransactionNotFound
	}
	return cloneTransaction(t), nil
}

func (d *state) GetTransactionByKey(ctx context.Context, tenantID, k string) (*entry.Transaction, error) {
	tid, ok := d.txnKeys[key(tenantID, k)]
	if !ok {
		return nil, betledger.ErrTransactionNotFound
	}
	return d.GetTransaction(ctx, tid)
}

func (d *state) QueryEntries(_ context.Context, f entry.Filter, page entry.Page) ([]*entry.Entry, error) {
	source := d.entries
	if !f.AccountID.IsNil() {
		source = d.byAccount[f.AccountID.String()]
	}
	var out []*entry.Entry
	for _, e := range source {
		if !matchEntry(e, f) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return paginate(out, page.Offset, page.Limit), nil
}

func matchEntry(e *entry.Entry, f entry.Filter) bool {
	switch {
	case f.TenantID != "" && e.TenantID != f.TenantID:
		return false
	case !f.AccountID.IsNil() && e.AccountID != f.AccountID:
		return false
	case !f.TransactionID.IsNil() && e.TransactionID != f.TransactionID:
		return false
	case f.Type != "" && e.Type != f.Type:
		return false
	case f.Reference != "" && e.Reference != f.Reference:
		return false
	case !f.From.IsZero() && e.CreatedAt.Before(f.From):
		return false
	case !f.To.IsZero() && !e.CreatedAt.Before(f.To):
		return false
	}
	return true
}

func (d *state) ReplayAccount(_ context.Context, accountID id.AccountID) (entry.Totals, error) {
	if _, ok := d.accounts[accountID.String()]; !ok {
		return entry.Totals{}, betledger.ErrAccountNotFound
	}
	return entry.Replay(d.byAccount[accountID.String()]), nil
}

func (d *state) GetBet(_ context.Context, betID id.BetID) (*bet.Bet, error) {
	b, ok := d.bets[betID.String()]
	if !ok {
		return nil, betledger.ErrBetNotFound
	}
	return cloneBet(b), nil
}

func (d *state) GetBetByKey(ctx context.Context, tenantID, k string) (*bet.Bet, error) {
	bid, ok := d.betKeys[key(tenantID, k)]
	if !ok {
		return nil, betledger.ErrBetNotFound
	}
	return d.GetBet(ctx, bid)
}

func (d *state) ListBets(_ context.Context, opts bet.ListOpts) ([]*bet.Bet, error) {
	var out []*bet.Bet
	for _, b := range d.bets {
		if opts.TenantID != "" && b.TenantID != opts.TenantID {
			continue
		}
		if opts.PlayerID != "" && b.PlayerID != opts.PlayerID {
			continue
		}
		if opts.AgentID != "" && b.AgentID != opts.AgentID {
			continue
		}
		if opts.Status != "" && b.Status != opts.Status {
			continue
		}
		out = append(out, cloneBet(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() > out[j].ID.String() })
	return paginate(out, opts.Offset, opts.Limit), nil
}

func (d *state) AgentActivity(_ context.Context, tenantID string, from, to time.Time) ([]commission.Activity, error) {
	byAgent := make(map[string]*commission.Activity)
	for _, b := range d.bets {
		if b.TenantID != tenantID || b.AgentID == "" || b.SettledAt == nil {
			continue
		}
		if b.Status != bet.StatusWon && b.Status != bet.StatusLost {
			continue
		}
		if b.SettledAt.Before(from) || !b.SettledAt.Before(to) {
			continue
		}
		a, ok := byAgent[b.AgentID]
		if !ok {
			a = &commission.Activity{
				AgentID:  b.AgentID,
				Turnover: types.Zero(b.Stake.Currency),
				Payouts:  types.Zero(b.Stake.Currency),
			}
			byAgent[b.AgentID] = a
		}
		a.Turnover = a.Turnover.Add(b.Stake)
		if b.Status == bet.StatusWon {
			a.Payouts = a.Payouts.Add(b.ActualPayout)
		}
		a.BetCount++
	}

	out := make([]commission.Activity, 0, len(byAgent))
	for _, a := range byAgent {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (d *state) GetCommission(_ context.Context, commissionID id.CommissionID) (*commission.Settlement, error) {
	c, ok := d.commissions[commissionID.String()]
	if !ok {
		return nil, betledger.ErrCommissionNotFound
	}
	cp := *c
	return &cp, nil
}

func (d *state) FindCommissionByKey(ctx context.Context, tenantID, k string) (*commission.Settlement, error) {
	cid, ok := d.commissionKeys[key(tenantID, k)]
	if !ok {
		return nil, betledger.ErrCommissionNotFound
	}
	return d.GetCommission(ctx, cid)
}

func (d *state) ListCommissions(_ context.Context, opts commission.ListOpts) ([]*commission.Settlement, error) {
	var out []*commission.Settlement
	for _, c := range d.commissions {
		if opts.TenantID != "" && c.TenantID != opts.TenantID {
			continue
		}
		if opts.AgentID != "" && c.AgentID != opts.AgentID {
			continue
		}
		if opts.Status != "" && c.Status != opts.Status {
			continue
		}
		if !opts.From.IsZero() && c.PeriodStart.Before(opts.From) {
			continue
		}
		if !opts.To.IsZero() && c.PeriodEnd.After(opts.To) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() > out[j].ID.String() })
	return paginate(out, opts.Offset, opts.Limit), nil
}

func (d *state) GetPolicy(_ context.Context, tenantID string, asOf time.Time) (*policy.Policy, error) {
	versions := d.policies[tenantID]
	for i := len(versions) - 1; i >= 0; i-- {
		if !versions[i].EffectiveFrom.After(asOf) {
			return clonePolicy(versions[i]), nil
		}
	}
	return nil, betledger.ErrPolicyNotFound
}

func (d *state) GetPolicyVersion(_ context.Context, tenantID string, version int) (*policy.Policy, error) {
	for _, p := range d.policies[tenantID] {
		if p.Version == version {
			return clonePolicy(p), nil
		}
	}
	return nil, betledger.ErrPolicyNotFound
}

func (d *state) LatestPolicyVersion(_ context.Context, tenantID string) (int, error) {
	versions := d.policies[tenantID]
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[len(versions)-1].Version, nil
}

func (d *state) ListPolicyTenants(_ context.Context) ([]string, error) {
	out := make([]string, 0, len(d.policies))
	for t := range d.policies {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
