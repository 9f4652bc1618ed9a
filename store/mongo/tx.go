package mongo

import (
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/bet"
	"github.com/xraph/betledger/commission"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/policy"
)

// tx is a unit of work. Its context carries the session, so every
// operation below joins the surrounding transaction.
type tx struct {
	conn
}

func (t *tx) exists(ctx context.Context, col string, filter bson.M) (bool, error) {
	n, err := t.col(col).CountDocuments(ctx, filter)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// lock bumps lock_seq on the document matched by filter and decodes it.
// A second transaction locking the same document hits a write conflict.
func (t *tx) lock(ctx context.Context, col string, filter bson.M, out any) error {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	return t.col(col).FindOneAndUpdate(ctx, filter, bson.M{"$inc": bson.M{"lock_seq": 1}}, opts).Decode(out)
}

// ==================== Accounts ====================

func (t *tx) CreateAccount(ctx context.Context, a *account.Account) error {
	taken, err := t.exists(ctx, colAccounts, bson.M{"tenant_id": a.TenantID, "owner_type": string(a.OwnerType), "owner_id": a.OwnerID})
	if err != nil {
		return wrap("create account", err)
	}
	if taken {
		return betledger.ErrAlreadyExists
	}
	if _, err := t.col(colAccounts).InsertOne(ctx, toAccountModel(a)); err != nil {
		return wrap("create account", err)
	}
	b := account.NewBalance(a.ID, a.Currency, a.CreatedAt)
	if _, err := t.col(colBalances).InsertOne(ctx, toBalanceModel(b)); err != nil {
		return wrap("create balance", err)
	}
	return nil
}

func (t *tx) UpdateAccountStatus(ctx context.Context, accountID id.AccountID, status account.Status, at time.Time) error {
	res, err := t.col(colAccounts).UpdateOne(ctx,
		bson.M{"_id": accountID.String()},
		bson.M{"$set": bson.M{"status": string(status), "updated_at": nanos(at)}})
	if err != nil {
		return wrap("update account status", err)
	}
	if res.MatchedCount == 0 {
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
		var m balanceModel
		if err := t.lock(ctx, colBalances, bson.M{"_id": aid.String()}, &m); err != nil {
			return nil, notFound("lock balance", err, betledger.ErrAccountNotFound)
		}
		b, err := fromBalanceModel(&m)
		if err != nil {
			return nil, wrap("lock balance", err)
		}
		out[aid.String()] = b
	}
	return out, nil
}

func (t *tx) SaveBalance(ctx context.Context, b *account.Balance) error {
	m := toBalanceModel(b)
	res, err := t.col(colBalances).UpdateOne(ctx,
		bson.M{"_id": m.AccountID},
		bson.M{"$set": bson.M{
			"available":     m.Available,
			"pending":       m.Pending,
			"locked":        m.Locked,
			"total_debits":  m.TotalDebits,
			"total_credits": m.TotalCredits,
			"tx_count":      m.TxCount,
			"version":       m.Version,
			"updated_at":    m.UpdatedAt,
		}})
	if err != nil {
		return wrap("save balance", err)
	}
	if res.MatchedCount == 0 {
		return betledger.ErrAccountNotFound
	}
	return nil
}

// ==================== Float lines ====================

func (t *tx) CreateFloatLine(ctx context.Context, f *account.FloatLine) error {
	m := toFloatLineModel(f)
	taken, err := t.exists(ctx, colFloatLines, bson.M{"_id": m.ID})
	if err != nil {
		return wrap("create float line", err)
	}
	if taken {
		return betledger.ErrAlreadyExists
	}
	if _, err := t.col(colFloatLines).InsertOne(ctx, m); err != nil {
		return wrap("create float line", err)
	}
	return nil
}

func (t *tx) LockFloatLine(ctx context.Context, tenantID, agentID string) (*account.FloatLine, error) {
	var m floatLineModel
	if err := t.lock(ctx, colFloatLines, bson.M{"_id": floatLineKey(tenantID, agentID)}, &m); err != nil {
		return nil, notFound("lock float line", err, betledger.ErrFloatLineNotFound)
	}
	return fromFloatLineModel(&m)
}

func (t *tx) SaveFloatLine(ctx context.Context, f *account.FloatLine) error {
	m := toFloatLineModel(f)
	res, err := t.col(colFloatLines).UpdateOne(ctx,
		bson.M{"_id": m.ID},
		bson.M{"$set": bson.M{
			"parent_agent_id":  m.ParentAgentID,
			"credit_limit":     m.CreditLimit,
			"used_credit":      m.UsedCredit,
			"collateral_ratio": m.CollateralRatio,
			"updated_at":       m.UpdatedAt,
		}})
	if err != nil {
		return wrap("save float line", err)
	}
	if res.MatchedCount == 0 {
		return betledger.ErrFloatLineNotFound
	}
	return nil
}

// ==================== Ledger ====================

func (t *tx) InsertTransaction(ctx context.Context, txn *entry.Transaction) error {
	taken, err := t.exists(ctx, colTransactions, bson.M{"tenant_id": txn.TenantID, "idempotency_key": txn.IdempotencyKey})
	if err != nil {
		return wrap("insert transaction", err)
	}
	if taken {
		return betledger.ErrDuplicateTransaction
	}

	m, entries := toTransactionModel(txn)
	if _, err := t.col(colTransactions).InsertOne(ctx, m); err != nil {
		return wrap("insert transaction", err)
	}
	for _, e := range entries {
		if _, err := t.col(colEntries).InsertOne(ctx, e); err != nil {
			return wrap("insert entry", err)
		}
	}
	return nil
}

// ==================== Bets ====================

func (t *tx) CreateBet(ctx context.Context, b *bet.Bet) error {
	taken, err := t.exists(ctx, colBets, bson.M{"tenant_id": b.TenantID, "idempotency_key": b.IdempotencyKey})
	if err != nil {
		return wrap("create bet", err)
	}
	if taken {
		return betledger.ErrAlreadyExists
	}
	m, err := toBetModel(b)
	if err != nil {
		return wrap("encode bet", err)
	}
	if _, err := t.col(colBets).InsertOne(ctx, m); err != nil {
		return wrap("create bet", err)
	}
	return nil
}

func (t *tx) LockBet(ctx context.Context, betID id.BetID) (*bet.Bet, error) {
	var m betModel
	if err := t.lock(ctx, colBets, bson.M{"_id": betID.String()}, &m); err != nil {
		return nil, notFound("lock bet", err, betledger.ErrBetNotFound)
	}
	return fromBetModel(&m)
}

func (t *tx) UpdateBet(ctx context.Context, b *bet.Bet, from bet.Status) error {
	m, err := toBetModel(b)
	if err != nil {
		return wrap("encode bet", err)
	}
	res, err := t.col(colBets).UpdateOne(ctx,
		bson.M{"_id": m.ID, "status": string(from)},
		bson.M{"$set": bson.M{
			"status":        m.Status,
			"payout_amount": m.PayoutAmount,
			"settled_at":    m.SettledAt,
			"doc":           m.Doc,
			"updated_at":    m.UpdatedAt,
		}})
	if err != nil {
		return wrap("update bet", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	found, err := t.exists(ctx, colBets, bson.M{"_id": m.ID})
	if err != nil {
		return wrap("update bet", err)
	}
	if !found {
		return betledger.ErrBetNotFound
	}
	return betledger.ErrBetAlreadySettled
}

// ==================== Commissions ====================

func (t *tx) CreateCommission(ctx context.Context, c *commission.Settlement) error {
	taken, err := t.exists(ctx, colCommissions, bson.M{"tenant_id": c.TenantID, "settlement_key": c.Key})
	if err != nil {
		return wrap("create commission", err)
	}
	if taken {
		return betledger.ErrAlreadyExists
	}
	m, err := toCommissionModel(c)
	if err != nil {
		return wrap("encode commission", err)
	}
	if _, err := t.col(colCommissions).InsertOne(ctx, m); err != nil {
		return wrap("create commission", err)
	}
	return nil
}

func (t *tx) LockCommission(ctx context.Context, commissionID id.CommissionID) (*commission.Settlement, error) {
	var m commissionModel
	if err := t.lock(ctx, colCommissions, bson.M{"_id": commissionID.String()}, &m); err != nil {
		return nil, notFound("lock commission", err, betledger.ErrCommissionNotFound)
	}
	return fromCommissionModel(&m)
}

func (t *tx) UpdateCommission(ctx context.Context, c *commission.Settlement, from commission.Status) error {
	m, err := toCommissionModel(c)
	if err != nil {
		return wrap("encode commission", err)
	}
	res, err := t.col(colCommissions).UpdateOne(ctx,
		bson.M{"_id": m.ID, "status": string(from)},
		bson.M{"$set": bson.M{"status": m.Status, "doc": m.Doc, "updated_at": m.UpdatedAt}})
	if err != nil {
		return wrap("update commission", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	found, err := t.exists(ctx, colCommissions, bson.M{"_id": m.ID})
	if err != nil {
		return wrap("update commission", err)
	}
	if !found {
		return betledger.ErrCommissionNotFound
	}
	return betledger.ErrConflict
}

// ==================== Policies ====================

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
		return wrap("encode policy", err)
	}
	if _, err := t.col(colPolicies).InsertOne(ctx, m); err != nil {
		return wrap("create policy", err)
	}
	return nil
}
