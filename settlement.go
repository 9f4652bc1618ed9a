package betledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/authz"
	"github.com/xraph/betledger/bet"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/policy"
	"github.com/xraph/betledger/store"
	"github.com/xraph/betledger/types"
)

// PlaceBetInput is a wager. A player places bets from their own wallet;
// an agent placing for a walk-in customer sets OnBehalf, and the stake and
// any winnings then move through the agent's account.
type PlaceBetInput struct {
	TenantID       string          `json:"tenant_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	PlayerID       string          `json:"player_id,omitempty"`
	AgentID        string          `json:"agent_id,omitempty"`
	OnBehalf       bool            `json:"on_behalf,omitempty"`
	Channel        string          `json:"channel,omitempty"`
	UserTier       string          `json:"user_tier,omitempty"`
	Stake          types.Money     `json:"stake"`
	Selections     []bet.Selection `json:"selections"`
}

func validateSelections(selections []bet.Selection) error {
	if len(selections) == 0 {
		return ValidationError{Field: "selections", Message: "at least one selection is required"}
	}
	one := decimal.NewFromInt(1)
	for i, s := range selections {
		if s.EventID == "" || s.MarketID == "" || s.OutcomeID == "" {
			return ValidationError{Field: fmt.Sprintf("selections[%d]", i), Message: "event, market and outcome are required"}
		}
		if !s.Odds.GreaterThan(one) {
			return fmt.Errorf("%w: selections[%d] has odds %s", ErrInvalidOdds, i, s.Odds)
		}
	}
	return nil
}

func (in PlaceBetInput) validate() error {
	if in.IdempotencyKey == "" {
		return ErrMissingIdempotencyKey
	}
	if !in.Stake.IsPositive() {
		return fmt.Errorf("%w: stake %s", ErrInvalidAmount, in.Stake)
	}
	if in.OnBehalf {
		if in.AgentID == "" {
			return ValidationError{Field: "agent_id", Message: "is required for bets placed on behalf of a customer"}
		}
	} else if in.PlayerID == "" {
		return ValidationError{Field: "player_id", Message: "is required"}
	}
	return validateSelections(in.Selections)
}

// PlaceBet stakes a wager. The stake transaction and the pending bet are
// committed together; a reused key returns the bet already placed.
func (l *Ledger) PlaceBet(ctx context.Context, actor authz.Actor, in PlaceBetInput) (*bet.Bet, error) {
	if err := l.authorize(ctx, actor, authz.CanPlaceBet, in.TenantID); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	owner := in.PlayerID
	if in.OnBehalf {
		owner = in.AgentID
	}
	if err := actor.ActsAs(owner); err != nil {
		return nil, err
	}
	if b, err := l.store.GetBetByKey(ctx, in.TenantID, in.IdempotencyKey); err == nil {
		return b, nil
	} else if !errors.Is(err, ErrBetNotFound) {
		return nil, err
	}
	if !in.OnBehalf {
		agentID, err := l.attachedAgent(ctx, in)
		if err != nil {
			return nil, err
		}
		in.AgentID = agentID
	}

	var placed *bet.Bet
	err := l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		existing, err := tx.GetBetByKey(ctx, in.TenantID, in.IdempotencyKey)
		if err == nil {
			placed = existing
			return nil
		}
		if !errors.Is(err, ErrBetNotFound) {
			return err
		}

		now := l.now()
		pol, err := tx.GetPolicy(ctx, in.TenantID, now)
		if err != nil {
			return err
		}
		if pol.Currency != in.Stake.Currency {
			return fmt.Errorf("%w: stake in %s, tenant settles in %s", ErrCurrencyMismatch, in.Stake.Currency, pol.Currency)
		}

		funding, err := l.bettingAccount(ctx, tx, in)
		if err != nil {
			return err
		}
		if in.AgentID != "" && !in.OnBehalf {
			if _, err := tx.GetFloatLine(ctx, in.TenantID, in.AgentID); err != nil {
				if errors.Is(err, ErrFloatLineNotFound) {
					return fmt.Errorf("%w: %q", ErrAgentNotFound, in.AgentID)
				}
				return err
			}
		}
		house, err := l.systemAccount(ctx, tx, u, in.TenantID, account.SystemPayout, pol.Currency)
		if err != nil {
			return err
		}

		b := &bet.Bet{
			Entity:           types.NewEntityAt(now),
			ID:               id.NewBetID(),
			TenantID:         in.TenantID,
			PlayerID:         in.PlayerID,
			AgentID:          in.AgentID,
			PlacedBy:         bet.PlacedByPlayer,
			Channel:          in.Channel,
			FundingAccountID: funding,
			PayoutAccountID:  funding,
			UserTier:         in.UserTier,
			Stake:            in.Stake,
			ActualPayout:     types.Zero(in.Stake.Currency),
			Status:           bet.StatusPending,
			IdempotencyKey:   in.IdempotencyKey,
			PolicyVersion:    pol.Version,
		}
		if in.OnBehalf {
			b.PlacedBy = bet.PlacedByAgent
		}
		b.Selections = make([]bet.Selection, len(in.Selections))
		for i, s := range in.Selections {
			if s.ID.IsNil() {
				s.ID = id.NewSelectionID()
			}
			s.Result = bet.ResultPending
			b.Selections[i] = s
		}
		b.TotalOdds = bet.CombinedOdds(b.Selections)
		b.PotentialPayout = maxWin(pol, b.Stake, b.TotalOdds, target(b)).NetAmount

		stake, err := l.post(ctx, tx, u, postRequest{
			TenantID:  in.TenantID,
			Key:       "bet:" + in.IdempotencyKey + ":stake",
			Type:      entry.TypeStake,
			Reference: b.ID.String(),
			Metadata: map[string]string{
				"placed_by": string(b.PlacedBy),
				"channel":   in.Channel,
			},
			Legs: []entry.Leg{
				entry.DebitLeg(funding, in.Stake),
				entry.CreditLeg(house.ID, in.Stake),
			},
		})
		if err != nil {
			return err
		}
		b.StakeTxID = stake.ID

		if err := tx.CreateBet(ctx, b); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				return fmt.Errorf("%w: %w", ErrConflict, err)
			}
			return err
		}

		placed = b
		snapshot := *b
		u.onCommit(func(ctx context.Context) {
			l.logger.Info("bet placed",
				"tenant_id", snapshot.TenantID,
				"bet_id", snapshot.ID.String(),
				"placed_by", snapshot.PlacedBy,
				"stake", snapshot.Stake.Amount,
				"selections", len(snapshot.Selections),
				"policy_version", snapshot.PolicyVersion,
			)
			l.plugins.EmitBetPlaced(ctx, &snapshot)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

// bettingAccount is the account that funds the stake and receives any
// payout: the player's wallet, or the agent's account for bets placed on
// behalf of a walk-in customer.
func (l *Ledger) bettingAccount(ctx context.Context, tx store.Tx, in PlaceBetInput) (id.AccountID, error) {
	if in.OnBehalf {
		line, err := tx.GetFloatLine(ctx, in.TenantID, in.AgentID)
		if errors.Is(err, ErrFloatLineNotFound) {
			return id.AccountID{}, fmt.Errorf("%w: %q", ErrAgentNotFound, in.AgentID)
		}
		if err != nil {
			return id.AccountID{}, err
		}
		return line.AccountID, nil
	}
	a, err := tx.FindAccount(ctx, in.TenantID, account.OwnerPlayer, in.PlayerID)
	if err != nil {
		return id.AccountID{}, err
	}
	return a.ID, nil
}

// attachedAgent is the agent a player's bet is credited to. A player the
// directory attaches to an agent bets through that agent only, and the
// agent is filled in when the bet names none.
func (l *Ledger) attachedAgent(ctx context.Context, in PlaceBetInput) (string, error) {
	p, err := l.resolvePlayer(ctx, in.TenantID, in.PlayerID)
	if err != nil {
		return "", err
	}
	switch {
	case p.AgentID == "":
		return in.AgentID, nil
	case in.AgentID == "":
		return p.AgentID, nil
	case in.AgentID != p.AgentID:
		return "", ValidationError{Field: "agent_id", Message: fmt.Sprintf("player %q is attached to agent %q", in.PlayerID, p.AgentID)}
	}
	return in.AgentID, nil
}

func target(b *bet.Bet) policy.Target {
	sport, league := bet.CommonScope(b.Selections)
	return policy.Target{Sport: sport, League: league, UserTier: b.UserTier}
}

// maxWin computes a winning breakdown: gross win at odds, capped by the
// most specific max-win rule.
func maxWin(pol *policy.Policy, stake types.Money, odds decimal.Decimal, t policy.Target) *bet.Breakdown {
	gross := stake.MulDecimal(odds)
	zero := types.Zero(stake.Currency)
	bd := &bet.Breakdown{
		Outcome:       bet.StatusWon,
		EffectiveOdds: odds,
		GrossWin:      gross,
		Deduction:     zero,
		NetAmount:     gross,
		Refund:        zero,
	}
	rule := pol.ApplicableRule(t)
	if rule == nil {
		return bd
	}
	limit := rule.Limit
	bd.Limit = &limit
	bd.AppliedRule = &bet.AppliedRule{
		RuleID:        rule.ID,
		Scope:         rule.Scope(),
		Limit:         limit,
		PolicyVersion: pol.Version,
	}
	if gross.GreaterThan(limit) {
		bd.NetAmount = limit
		bd.Deduction = gross.Subtract(limit)
		bd.Capped = true
	}
	return bd
}

// breakdown derives the settlement of b for outcome.
func breakdown(pol *policy.Policy, b *bet.Bet, outcome bet.Status, odds decimal.Decimal) *bet.Breakdown {
	if outcome == bet.StatusWon {
		return maxWin(pol, b.Stake, odds, target(b))
	}
	zero := types.Zero(b.Stake.Currency)
	bd := &bet.Breakdown{
		Outcome:       outcome,
		EffectiveOdds: odds,
		GrossWin:      zero,
		Deduction:     zero,
		NetAmount:     zero,
		Refund:        zero,
	}
	if outcome.IsRefund() {
		bd.Refund = b.Stake
	}
	return bd
}

// SettleBetInput carries the authoritative results for a bet's events.
type SettleBetInput struct {
	TenantID string            `json:"tenant_id"`
	BetID    id.BetID          `json:"bet_id"`
	Results  []bet.EventResult `json:"results"`
}

// SettleBet evaluates a pending bet against event results and posts the
// payout or refund. Settling a bet that is already terminal returns it
// unchanged.
func (l *Ledger) SettleBet(ctx context.Context, actor authz.Actor, in SettleBetInput) (*bet.Bet, error) {
	if err := l.authorize(ctx, actor, authz.CanSettleBet, in.TenantID); err != nil {
		return nil, err
	}
	release, err := l.locks.Lock(ctx, in.BetID.String())
	if err != nil {
		return nil, err
	}
	defer release()

	results := bet.NewResults(in.Results...)
	var settled *bet.Bet
	err = l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		b, err := tx.LockBet(ctx, in.BetID)
		if err != nil {
			return err
		}
		if err := checkTenant(b.TenantID, in.TenantID); err != nil {
			return err
		}
		if b.Status.IsTerminal() {
			settled = b
			return nil
		}

		ev := bet.Evaluate(b.Selections, results)
		if len(ev.Missing) > 0 {
			return fmt.Errorf("%w: %s", ErrResultUnavailable, strings.Join(ev.Missing, ","))
		}
		for i := range b.Selections {
			b.Selections[i].Result = ev.Results[i]
		}

		pol, err := tx.GetPolicyVersion(ctx, b.TenantID, b.PolicyVersion)
		if err != nil {
			return err
		}
		bd := breakdown(pol, b, ev.Outcome, ev.EffectiveOdds)
		bd.VoidSelections = ev.VoidSelections

		if err := l.settle(ctx, tx, u, b, bd); err != nil {
			return err
		}
		settled = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// ManualSettleInput overrides a bet's outcome.
type ManualSettleInput struct {
	TenantID string     `json:"tenant_id"`
	BetID    id.BetID   `json:"bet_id"`
	Outcome  bet.Status `json:"outcome"`
	Reason   string     `json:"reason"`
}

// ManualSettleBet settles a pending bet with an operator-chosen outcome.
// A WON override pays at the combined odds of every selection, under the
// same max-win rules.
func (l *Ledger) ManualSettleBet(ctx context.Context, actor authz.Actor, in ManualSettleInput) (*bet.Bet, error) {
	if err := l.authorize(ctx, actor, authz.CanManualSettle, in.TenantID); err != nil {
		return nil, err
	}
	if in.Reason == "" {
		return nil, ErrReasonRequired
	}
	if !in.Outcome.IsManualOutcome() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, in.Outcome)
	}
	release, err := l.locks.Lock(ctx, in.BetID.String())
	if err != nil {
		return nil, err
	}
	defer release()

	var settled *bet.Bet
	err = l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		b, err := tx.LockBet(ctx, in.BetID)
		if err != nil {
			return err
		}
		if err := checkTenant(b.TenantID, in.TenantID); err != nil {
			return err
		}
		if b.Status.IsTerminal() {
			return fmt.Errorf("%w: bet %s is %s", ErrBetAlreadySettled, b.ID, b.Status)
		}

		pol, err := tx.GetPolicyVersion(ctx, b.TenantID, b.PolicyVersion)
		if err != nil {
			return err
		}
		bd := breakdown(pol, b, in.Outcome, bet.CombinedOdds(b.Selections))
		bd.Override = &bet.Override{
			ActorID: actor.UserID,
			Role:    string(actor.Role),
			Reason:  in.Reason,
			At:      l.now(),
		}

		if err := l.settle(ctx, tx, u, b, bd); err != nil {
			return err
		}
		settled = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// CancelBetInput cancels a pending bet and refunds its stake.
type CancelBetInput struct {
	TenantID string   `json:"tenant_id"`
	BetID    id.BetID `json:"bet_id"`
	Reason   string   `json:"reason"`
}

// CancelBet is ManualSettleBet with the CANCELLED outcome.
func (l *Ledger) CancelBet(ctx context.Context, actor authz.Actor, in CancelBetInput) (*bet.Bet, error) {
	return l.ManualSettleBet(ctx, actor, ManualSettleInput{
		TenantID: in.TenantID,
		BetID:    in.BetID,
		Outcome:  bet.StatusCancelled,
		Reason:   in.Reason,
	})
}

// settle posts the ledger effect of bd and moves b out of pending. If the
// posting fails nothing is written and the bet stays pending.
func (l *Ledger) settle(ctx context.Context, tx store.Tx, u *unit, b *bet.Bet, bd *bet.Breakdown) error {
	from := b.Status
	house, err := l.systemAccount(ctx, tx, u, b.TenantID, account.SystemPayout, b.Stake.Currency)
	if err != nil {
		return err
	}

	var (
		txType entry.Type
		to     id.AccountID
		amount types.Money
	)
	switch {
	case bd.Outcome == bet.StatusWon:
		txType, to, amount = entry.TypePayout, b.PayoutAccountID, bd.NetAmount
	case bd.Outcome.IsRefund():
		txType, to, amount = entry.TypeRefund, b.FundingAccountID, bd.Refund
	}

	b.ActualPayout = types.Zero(b.Stake.Currency)
	if amount.IsPositive() {
		txn, err := l.post(ctx, tx, u, postRequest{
			TenantID:  b.TenantID,
			Key:       "settle:" + b.ID.String(),
			Type:      txType,
			Reference: b.ID.String(),
			Metadata: map[string]string{
				"outcome":        string(bd.Outcome),
				"policy_version": fmt.Sprint(b.PolicyVersion),
			},
			Legs: []entry.Leg{
				entry.DebitLeg(house.ID, amount),
				entry.CreditLeg(to, amount),
			},
		})
		if err != nil {
			return err
		}
		b.SettlementTxID = txn.ID
		b.ActualPayout = amount
	}

	now := l.now()
	b.Status = bd.Outcome
	b.Breakdown = bd
	b.SettledAt = &now
	b.Touch(now)
	if err := tx.UpdateBet(ctx, b, from); err != nil {
		return err
	}

	snapshot := *b
	u.onCommit(func(ctx context.Context) {
		attrs := []any{
			"tenant_id", snapshot.TenantID,
			"bet_id", snapshot.ID.String(),
			"outcome", snapshot.Status,
			"payout", snapshot.ActualPayout.Amount,
		}
		if bd.Override != nil {
			attrs = append(attrs, "override_by", bd.Override.ActorID, "reason", bd.Override.Reason)
		}
		l.logger.Info("bet settled", attrs...)
		l.plugins.EmitBetSettled(ctx, &snapshot)
		if bd.Capped {
			l.logger.Info("max win applied",
				"tenant_id", snapshot.TenantID,
				"bet_id", snapshot.ID.String(),
				"gross_win", bd.GrossWin.Amount,
				"net_amount", bd.NetAmount.Amount,
				"rule_scope", bd.AppliedRule.Scope,
			)
			l.plugins.EmitMaxWinApplied(ctx, &snapshot)
		}
	})
	return nil
}

// GetBet returns a bet. Players see their own bets and agents the bets
// placed through them.
func (l *Ledger) GetBet(ctx context.Context, actor authz.Actor, tenantID string, betID id.BetID) (*bet.Bet, error) {
	if err := l.authorize(ctx, actor, authz.CanViewBets, tenantID); err != nil {
		return nil, err
	}
	b, err := l.store.GetBet(ctx, betID)
	if err != nil {
		return nil, err
	}
	if err := checkTenant(b.TenantID, tenantID); err != nil {
		return nil, err
	}
	switch {
	case actor.Role == authz.RolePlayer && b.PlayerID != actor.UserID,
		actor.Role.IsAgent() && b.AgentID != actor.UserID:
		return nil, fmt.Errorf("%w: bet %s", ErrInsufficientAuthority, betID)
	}
	return b, nil
}

// ListBets lists bets, newest first. Players and agents only ever see
// their own.
func (l *Ledger) ListBets(ctx context.Context, actor authz.Actor, opts bet.ListOpts) ([]*bet.Bet, error) {
	if err := l.authorize(ctx, actor, authz.CanViewBets, opts.TenantID); err != nil {
		return nil, err
	}
	switch {
	case actor.Role == authz.RolePlayer:
		opts.PlayerID = actor.UserID
	case actor.Role.IsAgent():
		opts.AgentID = actor.UserID
	}
	if opts.Limit <= 0 || opts.Limit > maxPageSize {
		opts.Limit = defaultPageSize
	}
	return l.store.ListBets(ctx, opts)
}

// ValidateMaxWinInput describes a prospective bet.
type ValidateMaxWinInput struct {
	TenantID   string          `json:"tenant_id"`
	Stake      types.Money     `json:"stake"`
	Selections []bet.Selection `json:"selections"`
	UserTier   string          `json:"user_tier,omitempty"`
}

// ValidateMaxWin returns the breakdown a bet would settle with if every
// selection won, without placing it.
func (l *Ledger) ValidateMaxWin(ctx context.Context, actor authz.Actor, in ValidateMaxWinInput) (*bet.Breakdown, error) {
	if err := l.authorize(ctx, actor, authz.CanPlaceBet, in.TenantID); err != nil {
		return nil, err
	}
	if !in.Stake.IsPositive() {
		return nil, fmt.Errorf("%w: stake %s", ErrInvalidAmount, in.Stake)
	}
	if err := validateSelections(in.Selections); err != nil {
		return nil, err
	}
	pol, err := l.store.GetPolicy(ctx, in.TenantID, l.now())
	if err != nil {
		return nil, err
	}
	if pol.Currency != in.Stake.Currency {
		return nil, fmt.Errorf("%w: stake in %s, tenant settles in %s", ErrCurrencyMismatch, in.Stake.Currency, pol.Currency)
	}
	sport, league := bet.CommonScope(in.Selections)
	return maxWin(pol, in.Stake, bet.CombinedOdds(in.Selections), policy.Target{
		Sport:    sport,
		League:   league,
		UserTier: in.UserTier,
	}), nil
}
