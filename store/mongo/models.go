package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/bet"
	"github.com/xraph/betledger/commission"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/policy"
	"github.com/xraph/betledger/types"
)

// Instants are stored as unix nanoseconds so that ordering and period
// boundaries match the other stores exactly.
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
	ID        string `bson:"_id"`
	TenantID  string `bson:"tenant_id"`
	OwnerType string `bson:"owner_type"`
	OwnerID   string `bson:"owner_id"`
	Currency  string `bson:"currency"`
	Status    string `bson:"status"`
	CreatedAt int64  `bson:"created_at"`
	UpdatedAt int64  `bson:"updated_at"`
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
	aid, err := id.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse account id: %w", err)
	}
	return &account.Account{
		Entity:    types.Entity{CreatedAt: fromNanos(m.CreatedAt), UpdatedAt: fromNanos(m.UpdatedAt)},
		ID:        aid,
		TenantID:  m.TenantID,
		OwnerType: account.OwnerType(m.OwnerType),
		OwnerID:   m.OwnerID,
		Currency:  m.Currency,
		Status:    account.Status(m.Status),
	}, nil
}

type balanceModel struct {
	AccountID    string `bson:"_id"`
	Currency     string `bson:"currency"`
	Available    int64  `bson:"available"`
	Pending      int64  `bson:"pending"`
	Locked       int64  `bson:"locked"`
	TotalDebits  int64  `bson:"total_debits"`
	TotalCredits int64  `bson:"total_credits"`
	TxCount      int64  `bson:"tx_count"`
	Version      int64  `bson:"version"`
	UpdatedAt    int64  `bson:"updated_at"`
	LockSeq      int64  `bson:"lock_seq"`
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
	aid, err := id.Parse(m.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse balance account id: %w", err)
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
	ID              string `bson:"_id"`
	TenantID        string `bson:"tenant_id"`
	AgentID         string `bson:"agent_id"`
	AccountID       string `bson:"account_id"`
	OwnerType       string `bson:"owner_type"`
	ParentAgentID   string `bson:"parent_agent_id"`
	Currency        string `bson:"currency"`
	CreditLimit     int64  `bson:"credit_limit"`
	UsedCredit      int64  `bson:"used_credit"`
	CollateralRatio string `bson:"collateral_ratio"`
	CreatedAt       int64  `bson:"created_at"`
	UpdatedAt       int64  `bson:"updated_at"`
	LockSeq         int64  `bson:"lock_seq"`
}

func floatLineKey(tenantID, agentID string) string { return tenantID + "/" + agentID }

func toFloatLineModel(f *account.FloatLine) *floatLineModel {
	return &floatLineModel{
		ID:              floatLineKey(f.TenantID, f.AgentID),
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
	aid, err := id.Parse(m.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse float line account id: %w", err)
	}
	ratio, err := decimal.NewFromString(m.CollateralRatio)
	if err != nil {
		return nil, fmt.Errorf("parse collateral ratio: %w", err)
	}
	return &account.FloatLine{
		Entity:          types.Entity{CreatedAt: fromNanos(m.CreatedAt), UpdatedAt: fromNanos(m.UpdatedAt)},
		AccountID:       aid,
		TenantID:        m.TenantID,
		AgentID:         m.AgentID,
		OwnerType:       account.OwnerType(m.OwnerType),
		ParentAgentID:   m.ParentAgentID,
		CreditLimit:     types.New(m.CreditLimit, m.Currency),
		UsedCredit:      types.New(m.UsedCredit, m.Currency),
		CollateralRatio: ratio,
	}, nil
}

// ==================== Ledger models ====================

type transactionModel struct {
	ID             string            `bson:"_id"`
	TenantID       string            `bson:"tenant_id"`
	IdempotencyKey string            `bson:"idempotency_key"`
	Type           string            `bson:"type"`
	Reference      string            `bson:"reference"`
	ReversalOf     string            `bson:"reversal_of,omitempty"`
	Metadata       map[string]string `bson:"metadata,omitempty"`
	CreatedAt      int64             `bson:"created_at"`
}

type entryModel struct {
	ID            string `bson:"_id"`
	TransactionID string `bson:"transaction_id"`
	Seq           int    `bson:"seq"`
	TenantID      string `bson:"tenant_id"`
	AccountID     string `bson:"account_id"`
	Direction     string `bson:"direction"`
	Amount        int64  `bson:"amount"`
	Currency      string `bson:"currency"`
	Bucket        string `bson:"bucket"`
	Type          string `bson:"type"`
	Reference     string `bson:"reference"`
	BalanceAfter  int64  `bson:"balance_after"`
	CreatedAt     int64  `bson:"created_at"`
}

func toTransactionModel(t *entry.Transaction) (*transactionModel, []any) {
	m := &transactionModel{
		ID:             t.ID.String(),
		TenantID:       t.TenantID,
		IdempotencyKey: t.IdempotencyKey,
		Type:           string(t.Type),
		Reference:      t.Reference,
		ReversalOf:     t.ReversalOf.String(),
		Metadata:       t.Metadata,
		CreatedAt:      nanos(t.CreatedAt),
	}
	entries := make([]any, len(t.Entries))
	for i, e := range t.Entries {
		entries[i] = &entryModel{
			ID:            e.ID.String(),
			TransactionID: e.TransactionID.String(),
			Seq:           i,
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
	return m, entries
}

func fromTransactionModel(m *transactionModel, entries []*entry.Entry) (*entry.Transaction, error) {
	tid, err := id.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse transaction id: %w", err)
	}
	rev, err := parseID(m.ReversalOf)
	if err != nil {
		return nil, fmt.Errorf("parse reversal id: %w", err)
	}
	return &entry.Transaction{
		ID:             tid,
		TenantID:       m.TenantID,
		IdempotencyKey: m.IdempotencyKey,
		Type:           entry.Type(m.Type),
		Reference:      m.Reference,
		ReversalOf:     rev,
		Metadata:       m.Metadata,
		Entries:        entries,
		CreatedAt:      fromNanos(m.CreatedAt),
	}, nil
}

func fromEntryModel(m *entryModel) (*entry.Entry, error) {
	eid, err := id.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse entry id: %w", err)
	}
	tid, err := id.Parse(m.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("parse entry transaction id: %w", err)
	}
	aid, err := id.Parse(m.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse entry account id: %w", err)
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

// ==================== Document models ====================

// Bets, commission settlements and policies carry nested decimals and ids.
// They are stored as their JSON encoding next to the fields queries need.

type betModel struct {
	ID             string `bson:"_id"`
	TenantID       string `bson:"tenant_id"`
	IdempotencyKey string `bson:"idempotency_key"`
	PlayerID       string `bson:"player_id"`
	AgentID        string `bson:"agent_id"`
	Status         string `bson:"status"`
	Currency       string `bson:"currency"`
	StakeAmount    int64  `bson:"stake_amount"`
	PayoutAmount   int64  `bson:"payout_amount"`
	SettledAt      *int64 `bson:"settled_at,omitempty"`
	Doc            string `bson:"doc"`
	CreatedAt      int64  `bson:"created_at"`
	UpdatedAt      int64  `bson:"updated_at"`
	LockSeq        int64  `bson:"lock_seq"`
}

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
		at := nanos(*b.SettledAt)
		m.SettledAt = &at
	}
	return m, nil
}

func fromBetModel(m *betModel) (*bet.Bet, error) {
	var b bet.Bet
	if err := json.Unmarshal([]byte(m.Doc), &b); err != nil {
		return nil, fmt.Errorf("decode bet: %w", err)
	}
	return &b, nil
}

type commissionModel struct {
	ID          string `bson:"_id"`
	TenantID    string `bson:"tenant_id"`
	AgentID     string `bson:"agent_id"`
	Key         string `bson:"settlement_key"`
	Status      string `bson:"status"`
	PeriodStart int64  `bson:"period_start"`
	PeriodEnd   int64  `bson:"period_end"`
	Doc         string `bson:"doc"`
	CreatedAt   int64  `bson:"created_at"`
	UpdatedAt   int64  `bson:"updated_at"`
	LockSeq     int64  `bson:"lock_seq"`
}

func toCommissionModel(c *commission.Settlement) (*commissionModel, error) {
	doc, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return &commissionModel{
		ID:          c.ID.String(),
		TenantID:    c.TenantID,
		AgentID:     c.AgentID,
		Key:         c.Key,
		Status:      string(c.Status),
		PeriodStart: nanos(c.PeriodStart),
		PeriodEnd:   nanos(c.PeriodEnd),
		Doc:         string(doc),
		CreatedAt:   nanos(c.CreatedAt),
		UpdatedAt:   nanos(c.UpdatedAt),
	}, nil
}

func fromCommissionModel(m *commissionModel) (*commission.Settlement, error) {
	var c commission.Settlement
	if err := json.Unmarshal([]byte(m.Doc), &c); err != nil {
		return nil, fmt.Errorf("decode commission: %w", err)
	}
	return &c, nil
}

type policyModel struct {
	ID            string `bson:"_id"`
	PolicyID      string `bson:"policy_id"`
	TenantID      string `bson:"tenant_id"`
	Version       int    `bson:"version"`
	EffectiveFrom int64  `bson:"effective_from"`
	Doc           string `bson:"doc"`
	CreatedAt     int64  `bson:"created_at"`
}

func policyKey(tenantID string, version int) string { return fmt.Sprintf("%s/%d", tenantID, version) }

func toPolicyModel(p *policy.Policy) (*policyModel, error) {
	doc, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return &policyModel{
		ID:            policyKey(p.TenantID, p.Version),
		PolicyID:      p.ID.String(),
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
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return &p, nil
}
