// Package bet defines wagers, their selections and the pure evaluation of
// selections against authoritative event results.
package bet

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusWon       Status = "won"
	StatusLost      Status = "lost"
	StatusVoid      Status = "void"
	StatusCancelled Status = "cancelled"
)

func (s Status) IsTerminal() bool { return s != StatusPending }

// IsRefund reports whether settling with s returns the stake.
func (s Status) IsRefund() bool { return s == StatusVoid || s == StatusCancelled }

// IsManualOutcome reports whether s is a valid operator override outcome.
func (s Status) IsManualOutcome() bool {
	switch s {
	case StatusWon, StatusLost, StatusVoid, StatusCancelled:
		return true
	}
	return false
}

// Placer records who placed the bet, and therefore who funds the stake and
// receives the payout.
type Placer string

const (
	PlacedByPlayer Placer = "player"
	PlacedByAgent  Placer = "agent"
)

type SelectionResult string

const (
	ResultPending SelectionResult = "pending"
	ResultWon     SelectionResult = "won"
	ResultLost    SelectionResult = "lost"
	ResultVoid    SelectionResult = "void"
)

type Selection struct {
	ID        id.SelectionID  `json:"id"`
	EventID   string          `json:"event_id"`
	MarketID  string          `json:"market_id"`
	OutcomeID string          `json:"outcome_id"`
	Odds      decimal.Decimal `json:"odds"`
	Sport     string          `json:"sport,omitempty"`
	League    string          `json:"league,omitempty"`
	Result    SelectionResult `json:"result"`
}

type Bet struct {
	types.Entity
	ID               id.BetID         `json:"id"`
	TenantID         string           `json:"tenant_id"`
	PlayerID         string           `json:"player_id,omitempty"`
	AgentID          string           `json:"agent_id,omitempty"`
	PlacedBy         Placer           `json:"placed_by"`
	Channel          string           `json:"channel,omitempty"`
	FundingAccountID id.AccountID     `json:"funding_account_id"`
	PayoutAccountID  id.AccountID     `json:"payout_account_id"`
	UserTier         string           `json:"user_tier,omitempty"`
	Stake            types.Money      `json:"stake"`
	TotalOdds        decimal.Decimal  `json:"total_odds"`
	PotentialPayout  types.Money      `json:"potential_payout"`
	ActualPayout     types.Money      `json:"actual_payout"`
	Selections       []Selection      `json:"selections"`
	Status           Status           `json:"status"`
	IdempotencyKey   string           `json:"idempotency_key"`
	StakeTxID        id.TransactionID `json:"stake_tx_id"`
	SettlementTxID   id.TransactionID `json:"settlement_tx_id,omitempty"`
	PolicyVersion    int              `json:"policy_version"`
	Breakdown        *Breakdown       `json:"breakdown,omitempty"`
	SettledAt        *time.Time       `json:"settled_at,omitempty"`
}

// AppliedRule identifies the max-win rule that capped a payout.
type AppliedRule struct {
	RuleID        id.MaxWinRuleID `json:"rule_id"`
	Scope         string          `json:"scope"`
	Limit         types.Money     `json:"limit"`
	PolicyVersion int             `json:"policy_version"`
}

// Override records a manual settlement.
type Override struct {
	ActorID string    `json:"actor_id"`
	Role    string    `json:"role"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// Breakdown explains how a settlement amount was derived, for the player
// receipt and for audit.
type Breakdown struct {
	Outcome        Status          `json:"outcome"`
	EffectiveOdds  decimal.Decimal `json:"effective_odds"`
	VoidSelections []string        `json:"void_selections,omitempty"`
	GrossWin       types.Money     `json:"gross_win"`
	Limit          *types.Money    `json:"limit,omitempty"`
	AppliedRule    *AppliedRule    `json:"applied_rule,omitempty"`
	Deduction      types.Money     `json:"deduction"`
	NetAmount      types.Money     `json:"net_amount"`
	Refund         types.Money     `json:"refund"`
	Capped         bool            `json:"capped"`
	Override       *Override       `json:"override,omitempty"`
}

type EventStatus string

const (
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
	EventPostponed EventStatus = "postponed"
)

// MarketResult is the authoritative outcome of one market.
type MarketResult struct {
	WinningOutcomes []string `json:"winning_outcomes"`
	Void            bool     `json:"void"`
}

// EventResult is the authoritative outcome of one event.
type EventResult struct {
	EventID string                  `json:"event_id"`
	Status  EventStatus             `json:"status"`
	Markets map[string]MarketResult `json:"markets"`
}

// Results holds event results keyed by event id.
type Results map[string]EventResult

// NewResults indexes results by event id.
func NewResults(results ...EventResult) Results {
	out := make(Results, len(results))
	for _, r := range results {
		out[r.EventID] = r
	}
	return out
}

type ListOpts struct {
	TenantID string
	PlayerID string
	AgentID  string
	Status   Status
	Limit    int
	Offset   int
}
