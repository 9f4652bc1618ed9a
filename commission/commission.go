// Package commission models agent commission settlements computed from
// gross gaming revenue over a settlement period.
package commission

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/types"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusPaid     Status = "paid"
	StatusReversed Status = "reversed"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusReversed},
	StatusApproved: {StatusPaid, StatusReversed},
	StatusPaid:     {StatusReversed},
}

// CanTransition reports whether a settlement may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Settlement is one agent's commission for one period.
type Settlement struct {
	types.Entity
	ID            id.CommissionID  `json:"id"`
	TenantID      string           `json:"tenant_id"`
	AgentID       string           `json:"agent_id"`
	AccountID     id.AccountID     `json:"account_id"`
	PeriodStart   time.Time        `json:"period_start"`
	PeriodEnd     time.Time        `json:"period_end"`
	Key           string           `json:"key"`
	Turnover      types.Money      `json:"turnover"`
	Payouts       types.Money      `json:"payouts"`
	GGR           types.Money      `json:"ggr"`
	Rate          decimal.Decimal  `json:"rate"`
	Amount        types.Money      `json:"amount"`
	BetCount      int64            `json:"bet_count"`
	Status        Status           `json:"status"`
	TransactionID id.TransactionID `json:"transaction_id,omitempty"`
	PolicyVersion int              `json:"policy_version"`
	ApprovedBy    string           `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time       `json:"approved_at,omitempty"`
	PaidBy        string           `json:"paid_by,omitempty"`
	PaidAt        *time.Time       `json:"paid_at,omitempty"`
	ReversedBy    string           `json:"reversed_by,omitempty"`
	ReversedAt    *time.Time       `json:"reversed_at,omitempty"`
	CorrectionOf  id.CommissionID  `json:"correction_of,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

// Activity is an agent's settled betting volume within a period.
type Activity struct {
	AgentID  string      `json:"agent_id"`
	Turnover types.Money `json:"turnover"`
	Payouts  types.Money `json:"payouts"`
	BetCount int64       `json:"bet_count"`
}

// GGR is stakes minus payouts.
func (a Activity) GGR() types.Money { return a.Turnover.Subtract(a.Payouts) }

// Compute applies rate to the activity's GGR. Non-positive GGR earns
// nothing; amounts are truncated to the minor unit.
func Compute(a Activity, rate decimal.Decimal) types.Money {
	ggr := a.GGR()
	if !ggr.IsPositive() {
		return types.Zero(ggr.Currency)
	}
	return ggr.MulDecimal(rate)
}

// PeriodKey is the uniqueness key of an agent's settlement for a period.
func PeriodKey(agentID string, start, end time.Time) string {
	return fmt.Sprintf("commission:%s:%s:%s", agentID, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
}

// CorrectionKey keys a corrective settlement issued for original.
func CorrectionKey(original id.CommissionID) string {
	return "correction:" + original.String()
}

// WeekBounds returns the Monday-to-Monday UTC week containing t.
func WeekBounds(t time.Time) (start, end time.Time) {
	return WeekBoundsFrom(t, time.Monday)
}

// WeekBoundsFrom returns the UTC week containing t for weeks starting on
// first.
func WeekBoundsFrom(t time.Time, first time.Weekday) (start, end time.Time) {
	t = t.UTC()
	offset := (int(t.Weekday()) - int(first) + 7) % 7
	start = time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 7)
}

// PreviousWeek returns the last complete week before t for weeks starting
// on first.
func PreviousWeek(t time.Time, first time.Weekday) (start, end time.Time) {
	start, _ = WeekBoundsFrom(t, first)
	return start.AddDate(0, 0, -7), start
}

type ListOpts struct {
	TenantID string
	AgentID  string
	Status   Status
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}
