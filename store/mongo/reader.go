package mongo

import (
	"context"
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
	"github.com/xraph/betledger/types"
)

// findAll decodes every document matching filter.
func findAll[M any](ctx context.Context, c *conn, col string, filter bson.M, opts *options.FindOptionsBuilder) ([]M, error) {
	cur, err := c.col(col).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var out []M
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func paged(sort bson.D, limit, offset int) *options.FindOptionsBuilder {
	opts := options.Find().SetSort(sort)
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts = opts.SetSkip(int64(offset))
	}
	return opts
}

// ==================== Accounts ====================

func (c *conn) findAccount(ctx context.Context, filter bson.M) (*account.Account, error) {
	var m accountModel
	if err := c.col(colAccounts).FindOne(ctx, filter).Decode(&m); err != nil {
		return nil, notFound("get account", err, betledger.ErrAccountNotFound)
	}
	return fromAccountModel(&m)
}

func (c *conn) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return c.findAccount(ctx, bson.M{"_id": accountID.String()})
}

func (c *conn) FindAccount(ctx context.Context, tenantID string, ownerType account.OwnerType, ownerID string) (*account.Account, error) {
	return c.findAccount(ctx, bson.M{"tenant_id": tenantID, "owner_type": string(ownerType), "owner_id": ownerID})
}

func (c *conn) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	filter := bson.M{}
	if opts.TenantID != "" {
		filter["tenant_id"] = opts.TenantID
	}
	if opts.OwnerType != "" {
		filter["owner_type"] = string(opts.OwnerType)
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	models, err := findAll[accountModel](ctx, c, colAccounts, filter, paged(bson.D{{Key: "_id", Value: 1}}, opts.Limit, opts.Offset))
	if err != nil {
		return nil, wrap("list accounts", err)
	}
	out := make([]*account.Account, 0, len(models))
	for i := range models {
		a, err := fromAccountModel(&models[i])
		if err != nil {
			return nil, wrap("list accounts", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (c *conn) GetBalance(ctx context.Context, accountID id.AccountID) (*account.Balance, error) {
	var m balanceModel
	if err := c.col(colBalances).FindOne(ctx, bson.M{"_id": accountID.String()}).Decode(&m); err != nil {
		return nil, notFound("get balance", err, betledger.ErrAccountNotFound)
	}
	return fromBalanceModel(&m)
}

func (c *conn) GetFloatLine(ctx context.Context, tenantID, agentID string) (*account.FloatLine, error) {
	var m floatLineModel
	if err := c.col(colFloatLines).FindOne(ctx, bson.M{"_id": floatLineKey(tenantID, agentID)}).Decode(&m); err != nil {
		return nil, notFound("get float line", err, betledger.ErrFloatLineNotFound)
	}
	return fromFloatLineModel(&m)
}

// ==================== Ledger ====================

func (c *conn) findEntries(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*entry.Entry, error) {
	models, err := findAll[entryModel](ctx, c, colEntries, filter, opts)
	if err != nil {
		return nil, wrap("query entries", err)
	}
	out := make([]*entry.Entry, 0, len(models))
	for i := range models {
		e, err := fromEntryModel(&models[i])
		if err != nil {
			return nil, wrap("query entries", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *conn) findTransaction(ctx context.Context, filter bson.M) (*entry.Transaction, error) {
	var m transactionModel
	if err := c.col(colTransactions).FindOne(ctx, filter).Decode(&m); err != nil {
		return nil, notFound("get transaction", err, betledger.ErrTransactionNotFound)
	}
	entries, err := c.findEntries(ctx, bson.M{"transaction_id": m.ID}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	t, err := fromTransactionModel(&m, entries)
	if err != nil {
		return nil, wrap("get transaction", err)
	}
	return t, nil
}

func (c *conn) GetTransaction(ctx context.Context, txID id.TransactionID) (*entry.Transaction, error) {
	return c.findTransaction(ctx, bson.M{"_id": txID.String()})
}

func (c *conn) GetTransactionByKey(ctx context.Context, tenantID, key string) (*entry.Transaction, error) {
	return c.findTransaction(ctx, bson.M{"tenant_id": tenantID, "idempotency_key": key})
}

func (c *conn) QueryEntries(ctx context.Context, f entry.Filter, page entry.Page) ([]*entry.Entry, error) {
	filter := bson.M{}
	if f.TenantID != "" {
		filter["tenant_id"] = f.TenantID
	}
	if !f.AccountID.IsNil() {
		filter["account_id"] = f.AccountID.String()
	}
	if !f.TransactionID.IsNil() {
		filter["transaction_id"] = f.TransactionID.String()
	}
	if f.Type != "" {
		filter["type"] = string(f.Type)
	}
	if f.Reference != "" {
		filter["reference"] = f.Reference
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		window := bson.M{}
		if !f.From.IsZero() {
			window["$gte"] = nanos(f.From)
		}
		if !f.To.IsZero() {
			window["$lt"] = nanos(f.To)
		}
		filter["created_at"] = window
	}
	sort := bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}
	return c.findEntries(ctx, filter, paged(sort, page.Limit, page.Offset))
}

func (c *conn) ReplayAccount(ctx context.Context, accountID id.AccountID) (entry.Totals, error) {
	if _, err := c.GetAccount(ctx, accountID); err != nil {
		return entry.Totals{}, err
	}

	signedBy := func(direction string) bson.M {
		return bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$direction", direction}}, "$amount", 0}}}
	}
	pipeline := bson.A{
		bson.M{"$match": bson.M{"account_id": accountID.String()}},
		bson.M{"$group": bson.M{
			"_id":     nil,
			"credits": signedBy("credit"),
			"debits":  signedBy("debit"),
			"entries": bson.M{"$sum": 1},
			"txns":    bson.M{"$addToSet": "$transaction_id"},
		}},
		bson.M{"$project": bson.M{
			"credits":      1,
			"debits":       1,
			"entries":      1,
			"transactions": bson.M{"$size": "$txns"},
		}},
	}
	cursor, err := c.col(colEntries).Aggregate(ctx, pipeline)
	if err != nil {
		return entry.Totals{}, wrap("replay account", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Credits      int64 `bson:"credits"`
		Debits       int64 `bson:"debits"`
		Entries      int64 `bson:"entries"`
		Transactions int64 `bson:"transactions"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return entry.Totals{}, wrap("replay account decode", err)
	}
	if len(results) == 0 {
		return entry.Totals{}, nil
	}
	r := results[0]
	return entry.Totals{
		Signed:       r.Credits - r.Debits,
		Debits:       r.Debits,
		Credits:      r.Credits,
		Entries:      r.Entries,
		Transactions: r.Transactions,
	}, nil
}

// ==================== Bets ====================

func (c *conn) findBet(ctx context.Context, filter bson.M) (*bet.Bet, error) {
	var m betModel
	if err := c.col(colBets).FindOne(ctx, filter).Decode(&m); err != nil {
		return nil, notFound("get bet", err, betledger.ErrBetNotFound)
	}
	return fromBetModel(&m)
}

func (c *conn) GetBet(ctx context.Context, betID id.BetID) (*bet.Bet, error) {
	return c.findBet(ctx, bson.M{"_id": betID.String()})
}

func (c *conn) GetBetByKey(ctx context.Context, tenantID, key string) (*bet.Bet, error) {
	return c.findBet(ctx, bson.M{"tenant_id": tenantID, "idempotency_key": key})
}

func (c *conn) ListBets(ctx context.Context, opts bet.ListOpts) ([]*bet.Bet, error) {
	filter := bson.M{}
	if opts.TenantID != "" {
		filter["tenant_id"] = opts.TenantID
	}
	if opts.PlayerID != "" {
		filter["player_id"] = opts.PlayerID
	}
	if opts.AgentID != "" {
		filter["agent_id"] = opts.AgentID
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	models, err := findAll[betModel](ctx, c, colBets, filter, paged(bson.D{{Key: "_id", Value: -1}}, opts.Limit, opts.Offset))
	if err != nil {
		return nil, wrap("list bets", err)
	}
	out := make([]*bet.Bet, 0, len(models))
	for i := range models {
		b, err := fromBetModel(&models[i])
		if err != nil {
			return nil, wrap("list bets", err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (c *conn) AgentActivity(ctx context.Context, tenantID string, from, to time.Time) ([]commission.Activity, error) {
	pipeline := bson.A{
		bson.M{"$match": bson.M{
			"tenant_id":  tenantID,
			"agent_id":   bson.M{"$ne": ""},
			"status":     bson.M{"$in": bson.A{string(bet.StatusWon), string(bet.StatusLost)}},
			"settled_at": bson.M{"$gte": nanos(from), "$lt": nanos(to)},
		}},
		bson.M{"$group": bson.M{
			"_id":      bson.M{"agent_id": "$agent_id", "currency": "$currency"},
			"turnover": bson.M{"$sum": "$stake_amount"},
			"payouts": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$status", string(bet.StatusWon)}}, "$payout_amount", 0,
			}}},
			"count": bson.M{"$sum": 1},
		}},
		bson.M{"$sort": bson.D{{Key: "_id.agent_id", Value: 1}}},
	}
	cursor, err := c.col(colBets).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, wrap("agent activity", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		ID struct {
			AgentID  string `bson:"agent_id"`
			Currency string `bson:"currency"`
		} `bson:"_id"`
		Turnover int64 `bson:"turnover"`
		Payouts  int64 `bson:"payouts"`
		Count    int64 `bson:"count"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, wrap("agent activity decode", err)
	}

	out := make([]commission.Activity, 0, len(results))
	for _, r := range results {
		out = append(out, commission.Activity{
			AgentID:  r.ID.AgentID,
			Turnover: types.New(r.Turnover, r.ID.Currency),
			Payouts:  types.New(r.Payouts, r.ID.Currency),
			BetCount: r.Count,
		})
	}
	return out, nil
}

// ==================== Commissions ====================

func (c *conn) findCommission(ctx context.Context, filter bson.M) (*commission.Settlement, error) {
	var m commissionModel
	if err := c.col(colCommissions).FindOne(ctx, filter).Decode(&m); err != nil {
		return nil, notFound("get commission", err, betledger.ErrCommissionNotFound)
	}
	return fromCommissionModel(&m)
}

func (c *conn) GetCommission(ctx context.Context, commissionID id.CommissionID) (*commission.Settlement, error) {
	return c.findCommission(ctx, bson.M{"_id": commissionID.String()})
}

func (c *conn) FindCommissionByKey(ctx context.Context, tenantID, key string) (*commission.Settlement, error) {
	return c.findCommission(ctx, bson.M{"tenant_id": tenantID, "settlement_key": key})
}

func (c *conn) ListCommissions(ctx context.Context, opts commission.ListOpts) ([]*commission.Settlement, error) {
	filter := bson.M{}
	if opts.TenantID != "" {
		filter["tenant_id"] = opts.TenantID
	}
	if opts.AgentID != "" {
		filter["agent_id"] = opts.AgentID
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if !opts.From.IsZero() {
		filter["period_start"] = bson.M{"$gte": nanos(opts.From)}
	}
	if !opts.To.IsZero() {
		filter["period_end"] = bson.M{"$lte": nanos(opts.To)}
	}

	models, err := findAll[commissionModel](ctx, c, colCommissions, filter, paged(bson.D{{Key: "_id", Value: -1}}, opts.Limit, opts.Offset))
	if err != nil {
		return nil, wrap("list commissions", err)
	}
	out := make([]*commission.Settlement, 0, len(models))
	for i := range models {
		s, err := fromCommissionModel(&models[i])
		if err != nil {
			return nil, wrap("list commissions", err)
		}
		out = append(out, s)
	}
	return out, nil
}

// ==================== Policies ====================

func (c *conn) findPolicy(ctx context.Context, filter bson.M) (*policy.Policy, error) {
	var m policyModel
	opts := options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}})
	if err := c.col(colPolicies).FindOne(ctx, filter, opts).Decode(&m); err != nil {
		return nil, notFound("get policy", err, betledger.ErrPolicyNotFound)
	}
	return fromPolicyModel(&m)
}

func (c *conn) GetPolicy(ctx context.Context, tenantID string, asOf time.Time) (*policy.Policy, error) {
	return c.findPolicy(ctx, bson.M{"tenant_id": tenantID, "effective_from": bson.M{"$lte": nanos(asOf)}})
}

func (c *conn) GetPolicyVersion(ctx context.Context, tenantID string, version int) (*policy.Policy, error) {
	return c.findPolicy(ctx, bson.M{"_id": policyKey(tenantID, version)})
}

func (c *conn) LatestPolicyVersion(ctx context.Context, tenantID string) (int, error) {
	var m policyModel
	opts := options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}})
	if err := c.col(colPolicies).FindOne(ctx, bson.M{"tenant_id": tenantID}, opts).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return 0, nil
		}
		return 0, wrap("latest policy version", err)
	}
	return m.Version, nil
}

func (c *conn) ListPolicyTenants(ctx context.Context) ([]string, error) {
	pipeline := bson.A{
		bson.M{"$group": bson.M{"_id": "$tenant_id"}},
		bson.M{"$sort": bson.D{{Key: "_id", Value: 1}}},
	}
	cursor, err := c.col(colPolicies).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, wrap("list policy tenants", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		TenantID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, wrap("list policy tenants decode", err)
	}
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.TenantID)
	}
	return out, nil
}
