// Package account defines financial accounts, their balance projection and
// the float (credit facility) lines carried by agents.
package account

import (
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/types"
)

type OwnerType string

const (
	OwnerPlayer         OwnerType = "player"
	OwnerAgent          OwnerType = "agent"
	OwnerSubAgent       OwnerType = "sub_agent"
	OwnerTenant         OwnerType = "tenant"
	OwnerSystem         OwnerType = "system"
	OwnerCommissionPool OwnerType = "commission_pool"
	OwnerBonusPool      OwnerType = "bonus_pool"
)

// IsValid reports whether o is a known owner type.
func (o OwnerType) IsValid() bool {
	switch o {
	case OwnerPlayer, OwnerAgent, OwnerSubAgent, OwnerTenant, OwnerSystem, OwnerCommissionPool, OwnerBonusPool:
		return true
	}
	return false
}

// AllowsOverdraft reports whether accounts of this type may hold a negative
// balance. Tenant treasuries and system accounts issue value and run negative.
func (o OwnerType) AllowsOverdraft() bool {
	return o == OwnerTenant || o == OwnerSystem
}

// IsAgent reports whether o is an agent or sub-agent.
func (o OwnerType) IsAgent() bool {
	return o == OwnerAgent || o == OwnerSubAgent
}

type Status string

const (
	StatusActive    Status = "active"
	StatusFrozen    Status = "frozen"
	StatusSuspended Status = "suspended"
	StatusClosed    Status = "closed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusFrozen, StatusSuspended, StatusClosed:
		return true
	}
	return false
}

// CanTransition reports whether an account may move from s to next.
// Closed is terminal.
func (s Status) CanTransition(next Status) bool {
	if !next.IsValid() || s == StatusClosed {
		return false
	}
	return s != next
}

// Well-known owner ids of tenant-scoped SYSTEM accounts.
const (
	SystemPayout            = "payout"
	SystemCommissionExpense = "commission_expense"
)

type Account struct {
	types.Entity
	ID        id.AccountID `json:"id"`
	TenantID  string       `json:"tenant_id,omitempty"`
	OwnerType OwnerType    `json:"owner_type"`
	OwnerID   string       `json:"owner_id"`
	Currency  string       `json:"currency"`
	Status    Status       `json:"status"`
}

func (a *Account) IsActive() bool { return a.Status == StatusActive }

// IsPlatform reports whether the account lives outside any tenant.
func (a *Account) IsPlatform() bool { return a.TenantID == "" }

// VisibleTo reports whether a caller scoped to tenantID may touch the
// account. Platform-level SYSTEM accounts are shared by every tenant.
func (a *Account) VisibleTo(tenantID string) bool {
	if a.TenantID == tenantID {
		return true
	}
	return a.IsPlatform() && a.OwnerType == OwnerSystem
}

type ListOpts struct {
	TenantID  string
	OwnerType OwnerType
	Status    Status
	Limit     int
	Offset    int
}
