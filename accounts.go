package betledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/authz"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/store"
	"github.com/xraph/betledger/types"
)

// EnsureAccountInput identifies an account by its owner.
type EnsureAccountInput struct {
	TenantID  string            `json:"tenant_id"`
	OwnerType account.OwnerType `json:"owner_type"`
	OwnerID   string            `json:"owner_id"`
	Currency  string            `json:"currency"`
}

func (in EnsureAccountInput) validate() error {
	if !in.OwnerType.IsValid() {
		return ValidationError{Field: "owner_type", Message: fmt.Sprintf("unknown owner type %q", in.OwnerType)}
	}
	if in.OwnerID == "" {
		return ValidationError{Field: "owner_id", Message: "is required"}
	}
	if in.Currency == "" {
		return ValidationError{Field: "currency", Message: "is required"}
	}
	if in.OwnerType == account.OwnerTenant && in.OwnerID != in.TenantID {
		return ValidationError{Field: "owner_id", Message: "a tenant account is owned by its tenant"}
	}
	if in.TenantID == "" && in.OwnerType != account.OwnerSystem {
		return ValidationError{Field: "tenant_id", Message: "only system accounts live outside a tenant"}
	}
	return nil
}

// EnsureAccount returns the account for the owner, creating it on first
// use. Calling it again with the same owner returns the same account.
func (l *Ledger) EnsureAccount(ctx context.Context, actor authz.Actor, in EnsureAccountInput) (*account.Account, error) {
	if err := l.authorize(ctx, actor, authz.CanManageAccounts, in.TenantID); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var a *account.Account
	err := l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		var err error
		a, err = l.ensureAccount(ctx, tx, u, in)
		return err
	})
	return a, err
}

// ensureAccount finds or creates an account inside tx.
func (l *Ledger) ensureAccount(ctx context.Context, tx store.Tx, u *unit, in EnsureAccountInput) (*account.Account, error) {
	currency := strings.ToLower(in.Currency)
	a, err := tx.FindAccount(ctx, in.TenantID, in.OwnerType, in.OwnerID)
	if err == nil {
		if a.Currency != currency {
			return nil, fmt.Errorf("%w: account %s holds %s, not %s", ErrCurrencyMismatch, a.ID, a.Currency, currency)
		}
		return a, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	a = &account.Account{
		Entity:    types.NewEntityAt(l.now()),
		ID:        id.NewAccountID(),
		TenantID:  in.TenantID,
		OwnerType: in.OwnerType,
		OwnerID:   in.OwnerID,
		Currency:  currency,
		Status:    account.StatusActive,
	}
	if err := tx.CreateAccount(ctx, a); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return nil, err
	}

	created := *a
	u.onCommit(func(ctx context.Context) {
		l.logger.Info("account created",
			"account_id", created.ID.String(),
			"tenant_id", created.TenantID,
			"owner_type", created.OwnerType,
			"owner_id", created.OwnerID,
		)
		l.plugins.EmitAccountCreated(ctx, &created)
	})
	return a, nil
}

// GetAccount returns an account. Agents and players may read their own.
func (l *Ledger) GetAccount(ctx context.Context, actor authz.Actor, accountID id.AccountID) (*account.Account, error) {
	a, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := l.authorizeView(ctx, actor, a); err != nil {
		return nil, err
	}
	return a, nil
}

// LookupAccount finds an account by owner without creating it.
func (l *Ledger) LookupAccount(ctx context.Context, actor authz.Actor, tenantID string, ownerType account.OwnerType, ownerID string) (*account.Account, error) {
	a, err := l.store.FindAccount(ctx, tenantID, ownerType, ownerID)
	if err != nil {
		return nil, err
	}
	if err := l.authorizeView(ctx, actor, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAccounts lists a tenant's accounts.
func (l *Ledger) ListAccounts(ctx context.Context, actor authz.Actor, opts account.ListOpts) ([]*account.Account, error) {
	if err := l.authorize(ctx, actor, authz.CanViewLedger, opts.TenantID); err != nil {
		return nil, err
	}
	return l.store.ListAccounts(ctx, opts)
}

// GetBalance returns the account's balance projection.
func (l *Ledger) GetBalance(ctx context.Context, actor authz.Actor, accountID id.AccountID) (*account.Balance, error) {
	if _, err := l.GetAccount(ctx, actor, accountID); err != nil {
		return nil, err
	}
	return l.store.GetBalance(ctx, accountID)
}

// SetAccountStatusInput moves an account to a new status.
type SetAccountStatusInput struct {
	AccountID id.AccountID   `json:"account_id"`
	Status    account.Status `json:"status"`
	Reason    string         `json:"reason"`
}

// SetAccountStatus freezes, suspends, reactivates or closes an account.
func (l *Ledger) SetAccountStatus(ctx context.Context, actor authz.Actor, in SetAccountStatusInput) (*account.Account, error) {
	current, err := l.store.GetAccount(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	if err := l.authorize(ctx, actor, authz.CanManageAccounts, current.TenantID); err != nil {
		return nil, err
	}
	if in.Reason == "" {
		return nil, ErrReasonRequired
	}

	var a *account.Account
	err = l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		var err error
		a, err = l.setStatus(ctx, tx, u, in.AccountID, in.Status, in.Reason, actor.UserID)
		return err
	})
	return a, err
}

func (l *Ledger) setStatus(ctx context.Context, tx store.Tx, u *unit, accountID id.AccountID, status account.Status, reason, by string) (*account.Account, error) {
	a, err := tx.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	from := a.Status
	if !from.CanTransition(status) {
		return nil, fmt.Errorf("%w: account %s from %s to %s", ErrInvalidTransition, accountID, from, status)
	}
	now := l.now()
	if err := tx.UpdateAccountStatus(ctx, accountID, status, now); err != nil {
		return nil, err
	}
	a.Status = status
	a.Touch(now)

	changed := *a
	u.onCommit(func(ctx context.Context) {
		l.logger.Warn("account status changed",
			"account_id", changed.ID.String(),
			"tenant_id", changed.TenantID,
			"from", from,
			"to", changed.Status,
			"reason", reason,
			"by", by,
		)
		l.plugins.EmitAccountStatusChanged(ctx, &changed, from)
	})
	return a, nil
}

// authorizeView lets agents and players read their own accounts and
// otherwise requires CanViewLedger in the account's tenant.
func (l *Ledger) authorizeView(ctx context.Context, actor authz.Actor, a *account.Account) error {
	if ownsAccount(actor, a) {
		return nil
	}
	return l.authorize(ctx, actor, authz.CanViewLedger, a.TenantID)
}

func ownsAccount(actor authz.Actor, a *account.Account) bool {
	if actor.TenantID != a.TenantID || actor.UserID != a.OwnerID {
		return false
	}
	switch actor.Role {
	case authz.RolePlayer:
		return a.OwnerType == account.OwnerPlayer
	case authz.RoleAgent, authz.RoleSubAgent:
		return a.OwnerType.IsAgent() || a.OwnerType == account.OwnerCommissionPool
	}
	return false
}

// systemAccount ensures one of the tenant's well-known system accounts.
func (l *Ledger) systemAccount(ctx context.Context, tx store.Tx, u *unit, tenantID, ownerID, currency string) (*account.Account, error) {
	return l.ensureAccount(ctx, tx, u, EnsureAccountInput{
		TenantID:  tenantID,
		OwnerType: account.OwnerSystem,
		OwnerID:   ownerID,
		Currency:  currency,
	})
}

func checkTenant(resourceTenant, tenantID string) error {
	if resourceTenant != tenantID {
		return fmt.Errorf("%w: resource belongs to tenant %q", ErrTenantMismatch, resourceTenant)
	}
	return nil
}
