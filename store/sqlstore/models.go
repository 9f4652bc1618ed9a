package sqlstore

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/grove"

	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/bet"
	"github.com/xraph/betledger/commission"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/policy"
	"github.com/xraph/betledger/types"
)

// Instants are stored as unix nanoseconds in UTC so both backends compare
// them as integers.
func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func parseID(s string) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return id.Parse(s)
}

// ==================== Account models ====================

type accountModel struct {
	grove.BaseModel `grove:"table:betledger_accounts"`

	ID        string `grove:"id,pk"`
	TenantID  string `grove:"tenant_id"`
	OwnerType string `grove:"owner_type"`
	OwnerID   string `grove:"owner_id"`
	Currency  string `grove:"currency"`
	Status    string `grove:"status"`
	CreatedAt int64  `grove:"created_at"`
	UpdatedAt int64  `grove:"updated_at"`
}

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ID:        a.ID.String(),
		TenantID:  a.TenantID,
		OwnerType: string(a.OwnerType),
		OwnerID:   a.OwnerID,
		Currency:  a.Currency,
		Status:    string(a.Status),
		CreatedAt: nanos(a.CreatedAt),
		UpdatedAt: nanos(a.UpdatedAt),
	}
}

func fromAccountModel(m *accountModel) (*account.Account, error) {
	aid, err := parseID(m.ID)
	if err != nil {
		return nil, err
	}
	a := &account.Account{
		ID:        aid,
		TenantID:  m.TenantID,
		OwnerType: account.OwnerType(m.OwnerType),
		OwnerID:   m.OwnerID,
		Currency:  m.Currency,
		Status:    account.Status(m.Status),
	}
	a.CreatedAt = fromNanos(m.CreatedAt)
	a.UpdatedAt = fromNanos(m.UpdatedAt)
	return a, nil
}

type balanceModel struct {
	grove.BaseModel `grove:"table:betledger_balances"`

	AccountID    string `grove:"account_id,pk"`
	Currency     string `grove:"currency"`
	Available    int64  `grove:"available"`
	Pending      int64  `grove:"pending"`
	Locked       int64  `grove:"locked"`
	TotalDebits  int64  `grove:"total_debits"`
	TotalCredits int64  `grove:"total_credits"`
	TxCount      int64  `grove:"tx_count"`
	Version      int64  `grove:"version"`
	UpdatedAt    int64  `grove:"updated_at"`
}

// balanceColumns are the columns SaveBalance rewrites.
var balanceColumns = []string{
	"available", "pending", "locked", "total_debits", "total_credits", "tx_count", "version", "updated_at",
}

func toBalanceModel(b *account.Balance) *balanceModel {
	return &balanceModel{
		AccountID:    b.AccountID.String(),
		Currency:     b.Available.Currency,
		Available:    b.Available.Amount,
		Pending:      b.Pending.Amount,
		Locked:       b.Locked.Amount,
		TotalDebits:  b.TotalDebits.Amount,
		TotalCredits: b.TotalCredits.Amount,
		TxCount:      b.TxCount,
		Version:      b.Version,
		UpdatedAt:    nanos(b.UpdatedAt),
	}
}

func fromBalanceModel(m *balanceModel) (*account.Balance, error) {
	aid, err := parseID(m.AccountID)
	if err != nil {
		return nil, err
	}
	return &account.Balance{
		AccountID:    aid,
		Available:    types.New(m.Available, m.Currency),
		Pending:      types.New(m.Pending, m.Currency),
		Locked:       types.New(m.Locked, m.Currency),
		TotalDebits:  types.New(m.TotalDebits, m.Currency),
		TotalCredits: types.New(m.TotalCredits, m.Currency),
		TxCount:      m.TxCount,
		Version:      m.Version,
		UpdatedAt:    fromNanos(m.UpdatedAt),
	}, nil
}

type floatLineModel struct {
	grove.BaseModel `grove:"table:betledger_float_lines"`

	TenantID        string `grove:"tenant_id,pk"`
	AgentID         string `grove:"agent_id,pk"`
	AccountID       string `grove:"account_id"`
	OwnerType       string `grove:"owner_type"`
	ParentAgentID   string `grove:"parent_agent_id"`
	Currency        string `grove:"currency"`
	CreditLimit     int64  `grove:"credit_limit"`
	UsedCredit      int64  `grove:"used_credit"`
	CollateralRatio string `grove:"collateral_ratio"`
	CreatedAt       int64  `grove:"created_at"`
	UpdatedAt       int64  `grove:"updated_at"`
}

var floatLineColumns = []string{
	"parent_agent_id", "credit_limit", "used_credit", "collateral_ratio", "updated_at",
}

func toFloatLineModel(f *account.FloatLine) *floatLineModel {
	return &floatLineModel{
		TenantID:        f.TenantID,
		AgentID:         f.AgentID,
		AccountID:       f.AccountID.String(),
		OwnerType:       string(f.OwnerType),
		ParentAgentID:   f.ParentAgentID,
		Currency:        f.CreditLimit.Currency,
		CreditLimit:     f.CreditLimit.Amount,
		UsedCredit:      f.UsedCredit.Amount,
		CollateralRatio: f.CollateralRatio.String(),
		CreatedAt:       nanos(f.CreatedAt),
		UpdatedAt:       nanos(f.UpdatedAt),
	}
}

func fromFloatLineModel(m *floatLineModel) (*account.FloatLine, error) {
	aid, err := parseID(m.AccountID)
	if err != nil {
		return nil, err
	}
	ratio, err := decimal.NewFromString(m.CollateralRatio)
	if err != nil {
		return nil, err
	}
	f := &account.FloatLine{
		AccountID:       aid,
		TenantID:        m.TenantID,
		AgentID:         m.AgentID,
		OwnerType:       account.OwnerType(m.OwnerType),
		ParentAgentID:   m.ParentAgentID,
		CreditLimit:     types.New(m.CreditLimit, m.Currency),
		UsedCredit:      types.New(m.UsedCredit, m.Currency),
		CollateralRatio: ratio,
	}
	f.CreatedAt = fromNanos(m.CreatedAt)
	f.UpdatedAt = fromNanos(m.UpdatedAt)
	return f, nil
}

// ==================== Ledger models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:betledger_transactions"`

	ID             string  `grove:"id,pk"`
	TenantID       string  `grove:"tenant_id"`
	IdempotencyKey string  `grove:"idempotency_key"`
	Type           string  `grove:"type"`
	Reference      string  `grove:"reference"`
	ReversalOf     *string `grove:"reversal_of"`
	Metadata       string  `grove:"metadata"`
	CreatedAt      int64   `grove:"created_at"`
}

func toTransactionModel(t *entry.Transaction) (*transactionModel, error) {
	m := &transactionModel{
		ID:             t.ID.String(),
		TenantID:       t.TenantID,
		IdempotencyKey: t.IdempotencyKey,
		Type:           string(t.Type),
		Reference:      t.Reference,
		Metadata:       "{}",
		CreatedAt:      nanos(t.CreatedAt),
	}
	if !t.ReversalOf.IsNil() {
		s := t.ReversalOf.String()
		m.ReversalOf = &s
	}
	if len(t.Metadata) > 0 {
		raw, err := json.Marshal(t.Metadata)
		if err != nil {
			return nil, err
		}
		m.Metadata = string(raw)
	}
	return m, nil
}

func fromTransactionModel(m *transactionModel) (*entry.Transaction, error) {
	tid, err := parseID(m.ID)
	if err != nil {
		return nil, err
	}
	t := &entry.Transaction{
		ID:             tid,
		TenantID:       m.TenantID,
		IdempotencyKey: m.IdempotencyKey,
		Type:           entry.Type(m.Type),
		Reference:      m.Reference,
		CreatedAt:      fromNanos(m.CreatedAt),
	}
	if m.ReversalOf != nil {
		if t.ReversalOf, err = parseID(*m.ReversalOf); err != nil {
			return nil, err
		}
	}
	if m.Metadata != "" && m.Metadata != "{}" {
		if err := json.Unmarshal([]byte(m.Metadata), &t.Metadata); err != nil {
			return nil, err
		}
	}
	return t, nil
}

type entryModel struct {
	grove.BaseModel `grove:"table:betledger_entries"`

	ID            string `grove:"id,pk"`
	TransactionID string `grove:"transaction_id"`
	Seq           int    `grove:"seq"`
	TenantID      string `grove:"tenant_id"`
	AccountID     string `grove:"account_id"`
	Direction     string `grove:"direction"`
	Amount        int64  `grove:"amount"`
	Currency      string `grove:"currency"`
	Bucket        string `grove:"bucket"`
	Type          string `grove:"type"`
	Reference     string `grove:"reference"`
	BalanceAfter  int64  `grove:"balance_after"`
	CreatedAt     int64  `grove:"created_at"`
}

func toEntryModel(e *entry.Entry, seq int) *entryModel {
	return &entryModel{
		ID:            e.ID.String(),
		TransactionID: e.TransactionID.String(),
		Seq:           seq,
		TenantID:      e.TenantID,
		AccountID:     e.AccountID.String(),
		Direction:     string(e.Direction),
		Amount:        e.Amount.Amount,
		Currency:      e.Amount.Currency,
		Bucket:        string(e.Bucket),
		Type:          string(e.Type),
		Reference:     e.Reference,
		BalanceAfter:  e.BalanceAfter.Amount,
		CreatedAt:     nanos(e.CreatedAt),
	}
}

func fromEntryModel(m *entryModel) (*entry.Entry, error) {
	eid, err := parseID(m.ID)
	if err != nil {
		return nil, err
	}
	tid, err := parseID(m.TransactionID)
	if err != nil {
		return nil, err
	}
	aid, err := parseID(m.AccountID)
	if err != nil {
		return nil, err
	}
	return &entry.Entry{
		ID:            eid,
		TransactionID: tid,
		TenantID:      m.TenantID,
		AccountID:     aid,
		Direction:     entry.Direction(m.Direction),
		Amount:        types.New(m.Amount, m.Currency),
		Bucket:        entry.Bucket(m.Bucket),
		Type:          entry.Type(m.Type),
		Reference:     m.Reference,
		BalanceAfter:  types.New(m.BalanceAfter, m.Currency),
		CreatedAt:     fromNanos(m.CreatedAt),
	}, nil
}

// ==================== Bet models ====================

// betModel keeps the whole bet as a JSON document next to the columns
// that filters and the commission aggregate need.
type betModel struct {
	grove.BaseModel `grove:"table:betledger_bets"`

	ID             string `grove:"id,pk"`
	TenantID       string `grove:"tenant_id"`
	IdempotencyKey string `grove:"idempotency_key"`
	PlayerID       string `grove:"player_id"`
	AgentID        string `grove:"agent_id"`
	Status         string `grove:"status"`
	Currency       string `grove:"currency"`
	StakeAmount    int64  `grove:"stake_amount"`
	PayoutAmount   int64  `grove:"payout_amount"`
	SettledAt      *int64 `grove:"settled_at"`
	Doc            string `grove:"doc"`
	CreatedAt      int64  `grove:"created_at"`
	UpdatedAt      int64  `grove:"updated_at"`
}

var betColumns = []string{"status", "payout_amount", "settled_at", "doc", "updated_at"}

func toBetModel(b *bet.Bet) (*betModel, error) {
	doc, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	m := &betModel{
		ID:             b.ID.String(),
		TenantID:       b.TenantID,
		IdempotencyKey: b.IdempotencyKey,
		PlayerID:       b.PlayerID,
		AgentID:        b.AgentID,
		Status:         string(b.Status),
		Currency:       b.Stake.Currency,
		StakeAmount:    b.Stake.Amount,
		PayoutAmount:   b.ActualPayout.Amount,
		Doc:            string(doc),
		CreatedAt:      nanos(b.CreatedAt),
		UpdatedAt:      nanos(b.UpdatedAt),
	}
	if b.SettledAt != nil {
		n := nanos(*b.SettledAt)
		m.SettledAt = &n
	}
	return m, nil
}

func fromBetModel(m *betModel) (*bet.Bet, error) {
	var b bet.Bet
	if err := json.Unmarshal([]byte(m.Doc), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ==================== Commission models ====================

type commissionModel struct {
	grove.BaseModel `grove:"table:betledger_commissions"`

	ID            string `grove:"id,pk"`
	TenantID      string `grove:"tenant_id"`
	AgentID       string `grove:"agent_id"`
	SettlementKey string `grove:"settlement_key"`
	Status        string `grove:"status"`
	PeriodStart   int64  `grove:"period_start"`
	PeriodEnd     int64  `grove:"period_end"`
	Doc           string `grove:"doc"`
	CreatedAt     int64  `grove:"created_at"`
	UpdatedAt     int64  `grove:"updated_at"`
}

var commissionColumns = []string{"status", "doc", "updated_at"}

func toCommissionModel(c *commission.Settlement) (*commissionModel, error) {
	doc, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return &commissionModel{
		ID:            c.ID.String(),
		TenantID:      c.TenantID,
		AgentID:       c.AgentID,
		SettlementKey: c.Key,
		Status:        string(c.Status),
		PeriodStart:   nanos(c.PeriodStart),
		PeriodEnd:     nanos(c.PeriodEnd),
		Doc:           string(doc),
		CreatedAt:     nanos(c.CreatedAt),
		UpdatedAt:     nanos(c.UpdatedAt),
	}, nil
}

func fromCommissionModel(m *commissionModel) (*commission.Settlement, error) {
	var c commission.Settlement
	if err := json.Unmarshal([]byte(m.Doc), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ==================== Policy models ====================

type policyModel struct {
	grove.BaseModel `grove:"table:betledger_policies"`

	ID            string `grove:"id"`
	TenantID      string `grove:"tenant_id,pk"`
	Version       int    `grove:"version,pk"`
	EffectiveFrom int64  `grove:"effective_from"`
	Doc           string `grove:"doc"`
	CreatedAt     int64  `grove:"created_at"`
}

func toPolicyModel(p *policy.Policy) (*policyModel, error) {
	doc, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return &policyModel{
		ID:            p.ID.String(),
		TenantID:      p.TenantID,
		Version:       p.Version,
		EffectiveFrom: nanos(p.EffectiveFrom),
		Doc:           string(doc),
		CreatedAt:     nanos(p.CreatedAt),
	}, nil
}

func fromPolicyModel(m *policyModel) (*policy.Policy, error) {
	var p policy.Policy
	if err := json.Unmarshal([]byte(m.Doc), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ==================== Aggregate rows ====================

type activityRow struct {
	AgentID  string `grove:"agent_id"`
	Currency string `grove:"currency"`
	Turnover int64  `grove:"turnover"`
	Payouts  int64  `grove:"payouts"`
	BetCount int64  `grove:"bet_count"`
}

type totalsRow struct {
	Credits      int64 `grove:"credits"`
	Debits       int64 `grove:"debits"`
	Entries      int64 `grove:"entries"`
	Transactions int64 `grove:"transactions"`
}

type tenantRow struct {
	TenantID string `grove:"tenant_id"`
}
