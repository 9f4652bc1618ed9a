package betledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/store"
)

// Player is a player as resolved by the identity collaborator. AgentID is
// the agent the player is attached to, when the directory tracks one.
type Player struct {
	PlayerID string `json:"player_id"`
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id,omitempty"`
	Tier     string `json:"tier,omitempty"`
}

// PlayerDirectory resolves a phone number, email or username to a player.
// It returns ErrPlayerNotFound when nobody matches.
type PlayerDirectory interface {
	ResolvePlayer(ctx context.Context, tenantID, identifier string) (*Player, error)
}

// PlayerDirectoryFunc adapts a function to PlayerDirectory.
type PlayerDirectoryFunc func(ctx context.Context, tenantID, identifier string) (*Player, error)

func (f PlayerDirectoryFunc) ResolvePlayer(ctx context.Context, tenantID, identifier string) (*Player, error) {
	return f(ctx, tenantID, identifier)
}

// accountDirectory treats the identifier as a player id with an existing
// account in the tenant.
type accountDirectory struct {
	store store.Store
}

func (d *accountDirectory) ResolvePlayer(ctx context.Context, tenantID, identifier string) (*Player, error) {
	a, err := d.store.FindAccount(ctx, tenantID, account.OwnerPlayer, identifier)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrPlayerNotFound, identifier)
	}
	if err != nil {
		return nil, err
	}
	return &Player{PlayerID: a.OwnerID, TenantID: a.TenantID}, nil
}

// Verification is the proof a player presents to withdraw cash.
type Verification struct {
	Method    string `json:"method"`
	Code      string `json:"code"`
	Reference string `json:"reference,omitempty"`
}

// Verifier checks a player's verification, typically an OTP. It returns an
// error wrapping ErrVerificationFailed when the proof is rejected.
type Verifier interface {
	Verify(ctx context.Context, tenantID, playerID string, v Verification) error
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, tenantID, playerID string, v Verification) error

func (f VerifierFunc) Verify(ctx context.Context, tenantID, playerID string, v Verification) error {
	return f(ctx, tenantID, playerID, v)
}

// resolvePlayer calls the directory outside any lock, bounded by the
// external timeout.
func (l *Ledger) resolvePlayer(ctx context.Context, tenantID, identifier string) (*Player, error) {
	ctx, cancel := context.WithTimeout(ctx, l.externalTimeout)
	defer cancel()

	p, err := l.players.ResolvePlayer(ctx, tenantID, identifier)
	if err != nil {
		return nil, err
	}
	if p.TenantID != tenantID {
		return nil, fmt.Errorf("%w: player %q belongs to another tenant", ErrTenantMismatch, identifier)
	}
	return p, nil
}

func (l *Ledger) verify(ctx context.Context, tenantID, playerID string, v Verification) error {
	if v.Code == "" {
		return ErrVerificationRequired
	}
	if l.verifier == nil {
		return fmt.Errorf("%w: no verifier configured", ErrVerificationFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, l.externalTimeout)
	defer cancel()

	if err := l.verifier.Verify(ctx, tenantID, playerID, v); err != nil {
		if errors.Is(err, ErrVerificationFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}
	return nil
}
