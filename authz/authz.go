// Package authz maps actor roles to capability sets. Every ledger operation
// declares the capability it needs and asks a single Authorizer, instead of
// comparing role strings at call sites.
package authz

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInsufficientAuthority is returned when the actor's role lacks the
	// capability an operation requires.
	ErrInsufficientAuthority = errors.New("betledger: insufficient authority")

	// ErrTenantMismatch is returned when an actor, or an account, belongs to a
	// different tenant than the operation targets.
	ErrTenantMismatch = errors.New("betledger: tenant mismatch")
)

// Capability names one permission.
type Capability string

const (
	CanPostTransaction    Capability = "CAN_POST_TRANSACTION"
	CanReverseTransaction Capability = "CAN_REVERSE_TRANSACTION"
	CanViewLedger         Capability = "CAN_VIEW_LEDGER"
	CanManageAccounts     Capability = "CAN_MANAGE_ACCOUNTS"
	CanReconcile          Capability = "CAN_RECONCILE"

	CanRegisterAgent  Capability = "CAN_REGISTER_AGENT"
	CanTopupAgent     Capability = "CAN_TOPUP_AGENT"
	CanAllocateFloat  Capability = "CAN_ALLOCATE_FLOAT"
	CanTopupPlayer    Capability = "CAN_TOPUP_PLAYER"
	CanReturnFloat    Capability = "CAN_RETURN_FLOAT"
	CanWithdrawPlayer Capability = "CAN_WITHDRAW_PLAYER"
	CanViewFloat      Capability = "CAN_VIEW_FLOAT"

	CanPlaceBet     Capability = "CAN_PLACE_BET"
	CanSettleBet    Capability = "CAN_SETTLE_BET"
	CanManualSettle Capability = "CAN_MANUAL_SETTLE"
	CanViewBets     Capability = "CAN_VIEW_BETS"

	CanManagePolicy Capability = "CAN_MANAGE_POLICY"
	CanViewPolicy   Capability = "CAN_VIEW_POLICY"

	CanRunCommission      Capability = "CAN_RUN_COMMISSION"
	CanApproveCommission  Capability = "CAN_APPROVE_COMMISSION"
	CanPayCommission      Capability = "CAN_PAY_COMMISSION"
	CanReverseCommission  Capability = "CAN_REVERSE_COMMISSION"
	CanWithdrawCommission Capability = "CAN_WITHDRAW_COMMISSION"
	CanViewCommission     Capability = "CAN_VIEW_COMMISSION"
)

// Role is an actor's role as asserted by the identity provider.
type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleTenantAdmin   Role = "tenant_admin"
	RoleOperator      Role = "operator"
	RoleRiskManager   Role = "risk_manager"
	RoleFinance       Role = "finance"
	RoleAgent         Role = "agent"
	RoleSubAgent      Role = "sub_agent"
	RolePlayer        Role = "player"
	RoleSystem        Role = "system"
)

// IsPlatform reports whether the role spans all tenants.
func (r Role) IsPlatform() bool { return r == RolePlatformAdmin || r == RoleSystem }

// IsAgent reports whether the role is an agent tier.
func (r Role) IsAgent() bool { return r == RoleAgent || r == RoleSubAgent }

// Actor is the authenticated identity performing an operation.
type Actor struct {
	UserID   string `json:"user_id"`
	Role     Role   `json:"role"`
	TenantID string `json:"tenant_id"`
}

// System returns the actor used by background workers.
func System() Actor { return Actor{UserID: "system", Role: RoleSystem} }

func (a Actor) String() string {
	return fmt.Sprintf("%s(%s@%s)", a.UserID, a.Role, a.TenantID)
}

// ActsAs checks that an agent or player only operates on its own
// resources. Staff roles may act on behalf of anyone in their tenant.
func (a Actor) ActsAs(ownerID string) error {
	switch a.Role {
	case RoleAgent, RoleSubAgent, RolePlayer:
		if a.UserID != ownerID {
			return fmt.Errorf("%w: %s may not act for %q", ErrInsufficientAuthority, a, ownerID)
		}
	}
	return nil
}

// Authorizer decides whether actor may exercise capability in tenantID.
type Authorizer interface {
	Authorize(ctx context.Context, actor Actor, capability Capability, tenantID string) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, actor Actor, capability Capability, tenantID string) error

func (f AuthorizerFunc) Authorize(ctx context.Context, actor Actor, capability Capability, tenantID string) error {
	return f(ctx, actor, capability, tenantID)
}

// CapabilitySet is the set of capabilities granted to one role.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from caps.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// All lists every capability.
func All() []Capability {
	return []Capability{
		CanPostTransaction, CanReverseTransaction, CanViewLedger, CanManageAccounts, CanReconcile,
		CanRegisterAgent, CanTopupAgent, CanAllocateFloat, CanTopupPlayer, CanReturnFloat, CanWithdrawPlayer, CanViewFloat,
		CanPlaceBet, CanSettleBet, CanManualSettle, CanViewBets,
		CanManagePolicy, CanViewPolicy,
		CanRunCommission, CanApproveCommission, CanPayCommission, CanReverseCommission, CanWithdrawCommission, CanViewCommission,
	}
}

// DefaultRoles returns the built-in role mapping.
func DefaultRoles() map[Role]CapabilitySet {
	return map[Role]CapabilitySet{
		RolePlatformAdmin: NewCapabilitySet(All()...),
		RoleSystem: NewCapabilitySet(
			CanSettleBet, CanReconcile, CanRunCommission, CanViewLedger, CanViewBets,
			CanViewPolicy, CanViewCommission, CanManageAccounts,
		),
		RoleTenantAdmin: NewCapabilitySet(All()...),
		RoleOperator: NewCapabilitySet(
			CanViewLedger, CanRegisterAgent, CanTopupAgent, CanViewFloat,
			CanSettleBet, CanViewBets, CanViewPolicy, CanViewCommission, CanManageAccounts,
		),
		RoleRiskManager: NewCapabilitySet(
			CanViewLedger, CanManualSettle, CanSettleBet, CanViewBets, CanManagePolicy, CanViewPolicy,
			CanReconcile, CanManageAccounts, CanReverseTransaction,
		),
		RoleFinance: NewCapabilitySet(
			CanViewLedger, CanPostTransaction, CanReverseTransaction, CanReconcile, CanViewFloat,
			CanTopupAgent, CanViewPolicy,
			CanRunCommission, CanApproveCommission, CanPayCommission, CanReverseCommission, CanViewCommission,
		),
		RoleAgent: NewCapabilitySet(
			CanAllocateFloat, CanTopupPlayer, CanReturnFloat, CanWithdrawPlayer, CanViewFloat,
			CanPlaceBet, CanViewBets, CanWithdrawCommission, CanViewCommission,
		),
		RoleSubAgent: NewCapabilitySet(
			CanTopupPlayer, CanReturnFloat, CanWithdrawPlayer, CanViewFloat,
			CanPlaceBet, CanViewBets, CanWithdrawCommission, CanViewCommission,
		),
		RolePlayer: NewCapabilitySet(CanPlaceBet, CanViewBets),
	}
}

// RoleAuthorizer authorizes by looking up the actor's role.
type RoleAuthorizer struct {
	roles map[Role]CapabilitySet
}

// NewRoleAuthorizer returns an authorizer over the default roles, with
// overrides replacing the capability set of the roles they name.
func NewRoleAuthorizer(overrides map[Role][]Capability) *RoleAuthorizer {
	roles := DefaultRoles()
	for r, caps := range overrides {
		roles[r] = NewCapabilitySet(caps...)
	}
	return &RoleAuthorizer{roles: roles}
}

// Capabilities returns the set granted to role.
func (a *RoleAuthorizer) Capabilities(role Role) CapabilitySet { return a.roles[role] }

func (a *RoleAuthorizer) Authorize(_ context.Context, actor Actor, capability Capability, tenantID string) error {
	if !actor.Role.IsPlatform() && actor.TenantID != tenantID {
		return fmt.Errorf("%w: actor %s, tenant %q", ErrTenantMismatch, actor, tenantID)
	}
	if !a.roles[actor.Role].Has(capability) {
		return fmt.Errorf("%w: %s lacks %s", ErrInsufficientAuthority, actor, capability)
	}
	return nil
}

var _ Authorizer = (*RoleAuthorizer)(nil)
