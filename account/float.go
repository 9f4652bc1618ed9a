package account

import (
	"github.com/shopspring/decimal"

	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/types"
)

// FundingType describes how a float movement was funded.
type FundingType string

const (
	FundingCash         FundingType = "cash"
	FundingBankTransfer FundingType = "bank_transfer"
	FundingMobileMoney  FundingType = "mobile_money"
	FundingCredit       FundingType = "credit"
)

func (f FundingType) IsValid() bool {
	switch f {
	case FundingCash, FundingBankTransfer, FundingMobileMoney, FundingCredit:
		return true
	}
	return false
}

// IsCredit reports whether the movement is advanced on credit and therefore
// counts against the receiver's credit limit.
func (f FundingType) IsCredit() bool { return f == FundingCredit }

// FloatLine is the credit facility an agent or sub-agent holds with its
// parent. An empty ParentAgentID means the parent is the tenant itself.
type FloatLine struct {
	types.Entity
	AccountID       id.AccountID    `json:"account_id"`
	TenantID        string          `json:"tenant_id"`
	AgentID         string          `json:"agent_id"`
	OwnerType       OwnerType       `json:"owner_type"`
	ParentAgentID   string          `json:"parent_agent_id,omitempty"`
	CreditLimit     types.Money     `json:"credit_limit"`
	UsedCredit      types.Money     `json:"used_credit"`
	CollateralRatio decimal.Decimal `json:"collateral_ratio"`
}

// HasParentAgent reports whether the line reports to another agent rather
// than to the tenant.
func (l *FloatLine) HasParentAgent() bool { return l.ParentAgentID != "" }

// Headroom is the credit still available to draw.
func (l *FloatLine) Headroom() types.Money {
	return l.CreditLimit.Subtract(l.UsedCredit)
}

// Draw raises UsedCredit by amount. It reports false, leaving the line
// untouched, when that would exceed the credit limit.
func (l *FloatLine) Draw(amount types.Money) bool {
	if l.UsedCredit.Add(amount).GreaterThan(l.CreditLimit) {
		return false
	}
	l.UsedCredit = l.UsedCredit.Add(amount)
	return true
}

// Offset applies a float return: used credit is settled first and whatever
// is left over is returned as free float.
func (l *FloatLine) Offset(amount types.Money) (offset, remainder types.Money) {
	offset = amount.Min(l.UsedCredit)
	if offset.IsNegative() {
		offset = types.Zero(amount.Currency)
	}
	l.UsedCredit = l.UsedCredit.Subtract(offset)
	return offset, amount.Subtract(offset)
}

// CollateralRequired is the collateral the agent must hold against its
// outstanding credit.
func (l *FloatLine) CollateralRequired() types.Money {
	return l.UsedCredit.MulDecimal(l.CollateralRatio)
}
