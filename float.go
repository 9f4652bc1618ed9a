package betledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/authz"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/store"
	"github.com/xraph/betledger/types"
)

// MovementDetails is the physical context of a float movement, recorded
// in the transaction metadata for audit.
type MovementDetails struct {
	Channel     string `json:"channel,omitempty"`
	Location    string `json:"location,omitempty"`
	ReceiptRef  string `json:"receipt_ref,omitempty"`
	WitnessName string `json:"witness_name,omitempty"`
	WitnessID   string `json:"witness_id,omitempty"`
	Note        string `json:"note,omitempty"`
}

func (d MovementDetails) metadata(by string) map[string]string {
	ref := d.ReceiptRef
	if ref == "" {
		ref = uuid.NewString()
	}
	m := map[string]string{
		"receipt_ref":  ref,
		"initiated_by": by,
	}
	for k, v := range map[string]string{
		"channel":      d.Channel,
		"location":     d.Location,
		"witness_name": d.WitnessName,
		"witness_id":   d.WitnessID,
		"note":         d.Note,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

func checkMovement(key string, amount types.Money) error {
	if key == "" {
		return ErrMissingIdempotencyKey
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Agent registration
// ──────────────────────────────────────────────────

// RegisterAgentInput opens an agent or sub-agent float line.
type RegisterAgentInput struct {
	TenantID        string            `json:"tenant_id"`
	AgentID         string            `json:"agent_id"`
	OwnerType       account.OwnerType `json:"owner_type"`
	ParentAgentID   string            `json:"parent_agent_id,omitempty"`
	Currency        string            `json:"currency"`
	CreditLimit     types.Money       `json:"credit_limit"`
	CollateralRatio decimal.Decimal   `json:"collateral_ratio"`
}

func (in *RegisterAgentInput) validate() error {
	if in.AgentID == "" {
		return ValidationError{Field: "agent_id", Message: "is required"}
	}
	if !in.OwnerType.IsAgent() {
		return ValidationError{Field: "owner_type", Message: "must be agent or sub_agent"}
	}
	if in.OwnerType == account.OwnerAgent && in.ParentAgentID != "" {
		return ValidationError{Field: "parent_agent_id", Message: "a top-level agent reports to the tenant"}
	}
	if in.ParentAgentID == in.AgentID && in.AgentID != "" {
		return ValidationError{Field: "parent_agent_id", Message: "an agent cannot be its own parent"}
	}
	if in.Currency == "" {
		return ValidationError{Field: "currency", Message: "is required"}
	}
	if in.CreditLimit.Currency == "" {
		in.CreditLimit = types.Zero(in.Currency)
	}
	if in.CreditLimit.Currency != types.Zero(in.Currency).Currency {
		return fmt.Errorf("%w: credit limit in %s, agent in %s", ErrCurrencyMismatch, in.CreditLimit.Currency, in.Currency)
	}
	if in.CreditLimit.IsNegative() {
		return ValidationError{Field: "credit_limit", Message: "must not be negative"}
	}
	if in.CollateralRatio.IsNegative() || in.CollateralRatio.GreaterThan(decimal.NewFromInt(1)) {
		return ValidationError{Field: "collateral_ratio", Message: "must be within [0,1]"}
	}
	return nil
}

// RegisterAgent ensures the agent's account and opens its float line.
// Registering the same agent again returns the existing line.
func (l *Ledger) RegisterAgent(ctx context.Context, actor authz.Actor, in RegisterAgentInput) (*account.FloatLine, error) {
	if err := l.authorize(ctx, actor, authz.CanRegisterAgent, in.TenantID); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var line *account.FloatLine
	err := l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		existing, err := tx.GetFloatLine(ctx, in.TenantID, in.AgentID)
		if err == nil {
			line = existing
			return nil
		}
		if !errors.Is(err, ErrFloatLineNotFound) {
			return err
		}

		if in.OwnerType == account.OwnerSubAgent {
			if in.ParentAgentID == "" {
				return fmt.Errorf("%w: sub-agent %q", ErrNoParentAgent, in.AgentID)
			}
			if _, err := tx.GetFloatLine(ctx, in.TenantID, in.ParentAgentID); err != nil {
				if errors.Is(err, ErrFloatLineNotFound) {
					return fmt.Errorf("%w: parent %q is not a registered agent", ErrNoParentAgent, in.ParentAgentID)
				}
				return err
			}
		}

		a, err := l.ensureAccount(ctx, tx, u, EnsureAccountInput{
			TenantID:  in.TenantID,
			OwnerType: in.OwnerType,
			OwnerID:   in.AgentID,
			Currency:  in.Currency,
		})
		if err != nil {
			return err
		}

		line = &account.FloatLine{
			Entity:          types.NewEntityAt(l.now()),
			AccountID:       a.ID,
			TenantID:        in.TenantID,
			AgentID:         in.AgentID,
			OwnerType:       in.OwnerType,
			ParentAgentID:   in.ParentAgentID,
			CreditLimit:     in.CreditLimit,
			UsedCredit:      types.Zero(a.Currency),
			CollateralRatio: in.CollateralRatio,
		}
		if err := tx.CreateFloatLine(ctx, line); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				return fmt.Errorf("%w: %w", ErrConflict, err)
			}
			return err
		}

		registered := *line
		u.onCommit(func(context.Context) {
			l.logger.Info("agent registered",
				"tenant_id", registered.TenantID,
				"agent_id", registered.AgentID,
				"owner_type", registered.OwnerType,
				"parent_agent_id", registered.ParentAgentID,
				"credit_limit", registered.CreditLimit.Amount,
			)
		})
		return nil
	})
	return line, err
}

// SetCreditLimitInput changes an agent's credit limit.
type SetCreditLimitInput struct {
	TenantID    string      `json:"tenant_id"`
	AgentID     string      `json:"agent_id"`
	CreditLimit types.Money `json:"credit_limit"`
}

// SetCreditLimit updates the limit. It never drops below the credit the
// agent has already drawn.
func (l *Ledger) SetCreditLimit(ctx context.Context, actor authz.Actor, in SetCreditLimitInput) (*account.FloatLine, error) {
	if err := l.authorize(ctx, actor, authz.CanRegisterAgent, in.TenantID); err != nil {
		return nil, err
	}
	if in.CreditLimit.IsNegative() {
		return nil, ValidationError{Field: "credit_limit", Message: "must not be negative"}
	}

	var line *account.FloatLine
	err := l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		var err error
		line, err = tx.LockFloatLine(ctx, in.TenantID, in.AgentID)
		if err != nil {
			return err
		}
		if line.CreditLimit.Currency != in.CreditLimit.Currency {
			return fmt.Errorf("%w: line in %s, limit in %s", ErrCurrencyMismatch, line.CreditLimit.Currency, in.CreditLimit.Currency)
		}
		if in.CreditLimit.LessThan(line.UsedCredit) {
			return &BalanceError{
				Err:       ErrCreditLimitExceeded,
				AccountID: line.AccountID,
				Available: line.UsedCredit,
				Requested: in.CreditLimit,
			}
		}
		previous := line.CreditLimit
		line.CreditLimit = in.CreditLimit
		line.Touch(l.now())
		if err := tx.SaveFloatLine(ctx, line); err != nil {
			return err
		}
		u.onCommit(func(context.Context) {
			l.logger.Info("credit limit changed",
				"tenant_id", in.TenantID,
				"agent_id", in.AgentID,
				"from", previous.Amount,
				"to", in.CreditLimit.Amount,
				"by", actor.UserID,
			)
		})
		return nil
	})
	return line, err
}

// GetFloatLine returns an agent's float line. Agents may read their own
// line and those of their direct sub-agents.
func (l *Ledger) GetFloatLine(ctx context.Context, actor authz.Actor, tenantID, agentID string) (*account.FloatLine, error) {
	if err := l.authorize(ctx, actor, authz.CanViewFloat, tenantID); err != nil {
		return nil, err
	}
	line, err := l.store.GetFloatLine(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	if actor.Role.IsAgent() && actor.UserID != agentID && actor.UserID != line.ParentAgentID {
		return nil, fmt.Errorf("%w: %s may not view agent %q", ErrInsufficientAuthority, actor, agentID)
	}
	return line, nil
}

// ──────────────────────────────────────────────────
// Float movements
// ──────────────────────────────────────────────────

// TopupFloatInput funds a top-level agent from the tenant treasury.
type TopupFloatInput struct {
	TenantID       string              `json:"tenant_id"`
	IdempotencyKey string              `json:"idempotency_key"`
	AgentID        string              `json:"agent_id"`
	Amount         types.Money         `json:"amount"`
	FundingType    account.FundingType `json:"funding_type"`
	Details        MovementDetails     `json:"details"`
}

// TopupFloat debits the tenant account and credits the agent. Credit
// funding draws against the agent's credit limit.
func (l *Ledger) TopupFloat(ctx context.Context, actor authz.Actor, in TopupFloatInput) (*entry.Transaction, error) {
	if err := l.authorize(ctx, actor, authz.CanTopupAgent, in.TenantID); err != nil {
		return nil, err
	}
	if err := checkMovement(in.IdempotencyKey, in.Amount); err != nil {
		return nil, err
	}
	if !in.FundingType.IsValid() {
		return nil, ValidationError{Field: "funding_type", Message: fmt.Sprintf("unknown funding type %q", in.FundingType)}
	}
	meta := in.Details.metadata(actor.UserID)
	meta["funding_type"] = string(in.FundingType)

	var txn *entry.Transaction
	err := l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		prior, ok, err := replay(ctx, tx, in.TenantID, in.IdempotencyKey)
		if err != nil || ok {
			txn = prior
			return err
		}

		line, err := tx.LockFloatLine(ctx, in.TenantID, in.AgentID)
		if err != nil {
			return err
		}
		if line.HasParentAgent() {
			return ValidationError{Field: "agent_id", Message: "sub-agents are funded by their parent agent"}
		}
		if in.FundingType.IsCredit() {
			if !line.Draw(in.Amount) {
				return &BalanceError{
					Err:       ErrCreditLimitExceeded,
					AccountID: line.AccountID,
					Available: line.Headroom(),
					Requested: in.Amount,
				}
			}
			line.Touch(l.now())
			if err := tx.SaveFloatLine(ctx, line); err != nil {
				return err
			}
		}

		treasury, err := l.ensureAccount(ctx, tx, u, EnsureAccountInput{
			TenantID:  in.TenantID,
			OwnerType: account.OwnerTenant,
			OwnerID:   in.TenantID,
			Currency:  in.Amount.Currency,
		})
		if err != nil {
			return err
		}

		txn, err = l.post(ctx, tx, u, postRequest{
			TenantID:  in.TenantID,
			Key:       in.IdempotencyKey,
			Type:      entry.TypeFloatTopup,
			Reference: in.AgentID,
			Metadata:  meta,
			Legs: []entry.Leg{
				entry.DebitLeg(treasury.ID, in.Amount),
				entry.CreditLeg(line.AccountID, in.Amount),
			},
		})
		if err != nil {
			return err
		}
		l.floatMoved(u, line, txn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// AllocateFloatInput moves float from an agent to one of its sub-agents.
type AllocateFloatInput struct {
	TenantID       string              `json:"tenant_id"`
	IdempotencyKey string              `json:"idempotency_key"`
	ParentAgentID  string              `json:"parent_agent_id"`
	SubAgentID     string              `json:"sub_agent_id"`
	Amount         types.Money         `json:"amount"`
	FundingType    account.FundingType `json:"funding_type"`
	Details        MovementDetails     `json:"details"`
}

// AllocateFloat debits the parent agent and credits the sub-agent. The
// parent must hold the amount; credit funding draws against the
// sub-agent's limit.
func (l *Ledger) AllocateFloat(ctx context.Context, actor authz.Actor, in AllocateFloatInput) (*entry.Transaction, error) {
	if err := l.authorize(ctx, actor, authz.CanAllocateFloat, in.TenantID); err != nil {
		return nil, err
	}
	if err := actor.ActsAs(in.ParentAgentID); err != nil {
		return nil, err
	}
	if err := checkMovement(in.IdempotencyKey, in.Amount); err != nil {
		return nil, err
	}
	if in.FundingType == "" {
		in.FundingType = account.FundingCash
	}
	if !in.FundingType.IsValid() {
		return nil, ValidationError{Field: "funding_type", Message: fmt.Sprintf("unknown funding type %q", in.FundingType)}
	}
	meta := in.Details.metadata(actor.UserID)
	meta["funding_type"] = string(in.FundingType)

	var txn *entry.Transaction
	err := l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		prior, ok, err := replay(ctx, tx, in.TenantID, in.IdempotencyKey)
		if err != nil || ok {
			txn = prior
			return err
		}

		sub, err := tx.LockFloatLine(ctx, in.TenantID, in.SubAgentID)
		if err != nil {
			return err
		}
		if sub.ParentAgentID != in.ParentAgentID {
			return fmt.Errorf("%w: agent %q does not report to %q", ErrNoParentAgent, in.SubAgentID, in.ParentAgentID)
		}
		parent, err := tx.GetFloatLine(ctx, in.TenantID, in.ParentAgentID)
		if err != nil {
			if errors.Is(err, ErrFloatLineNotFound) {
				return fmt.Errorf("%w: %q", ErrNoParentAgent, in.ParentAgentID)
			}
			return err
		}
		if in.FundingType.IsCredit() {
			if !sub.Draw(in.Amount) {
				return &BalanceError{
					Err:       ErrCreditLimitExceeded,
					AccountID: sub.AccountID,
					Available: sub.Headroom(),
					Requested: in.Amount,
				}
			}
			sub.Touch(l.now())
			if err := tx.SaveFloatLine(ctx, sub); err != nil {
				return err
			}
		}

		txn, err = l.post(ctx, tx, u, postRequest{
			TenantID:  in.TenantID,
			Key:       in.IdempotencyKey,
			Type:      entry.TypeFloatAllocation,
			Reference: in.SubAgentID,
			Metadata:  meta,
			Shortfall: ErrInsufficientFloat,
			Legs: []entry.Leg{
				entry.DebitLeg(parent.AccountID, in.Amount),
				entry.CreditLeg(sub.AccountID, in.Amount),
			},
		})
		if err != nil {
			return err
		}
		l.floatMoved(u, sub, txn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// TopupPlayerInput is a cash-in: the agent takes cash and credits the
// player's wallet from its float.
type TopupPlayerInput struct {
	TenantID         string          `json:"tenant_id"`
	IdempotencyKey   string          `json:"idempotency_key"`
	AgentID          string          `json:"agent_id"`
	PlayerIdentifier string          `json:"player_identifier"` // phone, email or username
	Amount           types.Money     `json:"amount"`
	Details          MovementDetails `json:"details"`
}

// TopupPlayer debits the agent and credits the player. The player is
// resolved through the PlayerDirectory; a resolved player without an
// account gets one inside the same unit of work. The default directory
// only resolves players that already hold an account.
//
// A sub-agent's cash-ins also draw on its credit line: the cash it takes
// is owed to its parent until returned. With the line exhausted the
// top-up fails with ErrInsufficientFloat.
func (l *Ledger) TopupPlayer(ctx context.Context, actor authz.Actor, in TopupPlayerInput) (*entry.Transaction, error) {
	if err := l.authorize(ctx, actor, authz.CanTopupPlayer, in.TenantID); err != nil {
		return nil, err
	}
	if err := actor.ActsAs(in.AgentID); err != nil {
		return nil, err
	}
	if err := checkMovement(in.IdempotencyKey, in.Amount); err != nil {
		return nil, err
	}
	if in.PlayerIdentifier == "" {
		return nil, ValidationError{Field: "player_identifier", Message: "is required"}
	}
	if prior, ok, err := replay(ctx, l.store, in.TenantID, in.IdempotencyKey); err != nil || ok {
		return prior, err
	}

	p, err := l.resolvePlayer(ctx, in.TenantID, in.PlayerIdentifier)
	if err != nil {
		return nil, err
	}
	meta := in.Details.metadata(actor.UserID)
	meta["player_identifier"] = in.PlayerIdentifier

	var txn *entry.Transaction
	err = l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		prior, ok, err := replay(ctx, tx, in.TenantID, in.IdempotencyKey)
		if err != nil || ok {
			txn = prior
			return err
		}

		line, err := tx.LockFloatLine(ctx, in.TenantID, in.AgentID)
		if err != nil {
			return err
		}
		if line.OwnerType == account.OwnerSubAgent {
			if line.CreditLimit.Currency != in.Amount.Currency {
				return fmt.Errorf("%w: line in %s, top-up in %s", ErrCurrencyMismatch, line.CreditLimit.Currency, in.Amount.Currency)
			}
			if !line.Draw(in.Amount) {
				return &BalanceError{
					Err:       fmt.Errorf("%w: %w", ErrInsufficientFloat, ErrCreditLimitExceeded),
					AccountID: line.AccountID,
					Available: line.Headroom(),
					Requested: in.Amount,
				}
			}
			line.Touch(l.now())
			if err := tx.SaveFloatLine(ctx, line); err != nil {
				return err
			}
		}
		player, err := l.ensureAccount(ctx, tx, u, EnsureAccountInput{
			TenantID:  in.TenantID,
			OwnerType: account.OwnerPlayer,
			OwnerID:   p.PlayerID,
			Currency:  in.Amount.Currency,
		})
		if err != nil {
			return err
		}

		txn, err = l.post(ctx, tx, u, postRequest{
			TenantID:  in.TenantID,
			Key:       in.IdempotencyKey,
			Type:      entry.TypeCashIn,
			Reference: p.PlayerID,
			Metadata:  meta,
			Shortfall: ErrInsufficientFloat,
			Legs: []entry.Leg{
				entry.DebitLeg(line.AccountID, in.Amount),
				entry.CreditLeg(player.ID, in.Amount),
			},
		})
		if err != nil {
			return err
		}
		l.floatMoved(u, line, txn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// ReturnFloatInput returns float from an agent to its parent.
type ReturnFloatInput struct {
	TenantID       string          `json:"tenant_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	AgentID        string          `json:"agent_id"`
	Amount         types.Money     `json:"amount"`
	Details        MovementDetails `json:"details"`
}

// ReturnFloatToParent moves float back up the hierarchy. The amount first
// settles the agent's used credit; the remainder is free float. Either way
// the whole amount moves in one transaction whose metadata records the
// split.
func (l *Ledger) ReturnFloatToParent(ctx context.Context, actor authz.Actor, in ReturnFloatInput) (*entry.Transaction, error) {
	if err := l.authorize(ctx, actor, authz.CanReturnFloat, in.TenantID); err != nil {
		return nil, err
	}
	if err := actor.ActsAs(in.AgentID); err != nil {
		return nil, err
	}
	if err := checkMovement(in.IdempotencyKey, in.Amount); err != nil {
		return nil, err
	}
	meta := in.Details.metadata(actor.UserID)

	var txn *entry.Transaction
	err := l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		prior, ok, err := replay(ctx, tx, in.TenantID, in.IdempotencyKey)
		if err != nil || ok {
			txn = prior
			return err
		}

		line, err := tx.LockFloatLine(ctx, in.TenantID, in.AgentID)
		if err != nil {
			return err
		}
		parent, err := l.parentAccount(ctx, tx, u, line, in.Amount.Currency)
		if err != nil {
			return err
		}

		offset, free := line.Offset(in.Amount)
		if offset.IsPositive() {
			line.Touch(l.now())
			if err := tx.SaveFloatLine(ctx, line); err != nil {
				return err
			}
		}
		meta["credit_offset"] = strconv.FormatInt(offset.Amount, 10)
		meta["free_return"] = strconv.FormatInt(free.Amount, 10)

		txn, err = l.post(ctx, tx, u, postRequest{
			TenantID:  in.TenantID,
			Key:       in.IdempotencyKey,
			Type:      entry.TypeFloatReturn,
			Reference: in.AgentID,
			Metadata:  meta,
			Shortfall: ErrInsufficientFloat,
			Legs: []entry.Leg{
				entry.DebitLeg(line.AccountID, in.Amount),
				entry.CreditLeg(parent, in.Amount),
			},
		})
		if err != nil {
			return err
		}
		l.floatMoved(u, line, txn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// parentAccount is the account float returns to: the parent agent's, or
// the tenant treasury for a top-level agent.
func (l *Ledger) parentAccount(ctx context.Context, tx store.Tx, u *unit, line *account.FloatLine, currency string) (id.AccountID, error) {
	if line.HasParentAgent() {
		parent, err := tx.GetFloatLine(ctx, line.TenantID, line.ParentAgentID)
		if errors.Is(err, ErrFloatLineNotFound) {
			return id.AccountID{}, fmt.Errorf("%w: parent %q of %q", ErrNoParentAgent, line.ParentAgentID, line.AgentID)
		}
		if err != nil {
			return id.AccountID{}, err
		}
		return parent.AccountID, nil
	}
	if line.OwnerType == account.OwnerSubAgent {
		return id.AccountID{}, fmt.Errorf("%w: sub-agent %q", ErrNoParentAgent, line.AgentID)
	}
	treasury, err := l.ensureAccount(ctx, tx, u, EnsureAccountInput{
		TenantID:  line.TenantID,
		OwnerType: account.OwnerTenant,
		OwnerID:   line.TenantID,
		Currency:  currency,
	})
	if err != nil {
		return id.AccountID{}, err
	}
	return treasury.ID, nil
}

// WithdrawFromAgentInput is a cash-out: the player's wallet is debited and
// the agent hands over cash.
type WithdrawFromAgentInput struct {
	TenantID       string          `json:"tenant_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	PlayerID       string          `json:"player_id"`
	AgentID        string          `json:"agent_id"`
	Amount         types.Money     `json:"amount"`
	Verification   Verification    `json:"verification"`
	Details        MovementDetails `json:"details"`
}

// WithdrawFromAgent debits the player and credits the agent once the
// player's verification has been accepted.
func (l *Ledger) WithdrawFromAgent(ctx context.Context, actor authz.Actor, in WithdrawFromAgentInput) (*entry.Transaction, error) {
	if err := l.authorize(ctx, actor, authz.CanWithdrawPlayer, in.TenantID); err != nil {
		return nil, err
	}
	if err := actor.ActsAs(in.AgentID); err != nil {
		return nil, err
	}
	if err := checkMovement(in.IdempotencyKey, in.Amount); err != nil {
		return nil, err
	}
	if in.PlayerID == "" {
		return nil, ValidationError{Field: "player_id", Message: "is required"}
	}
	if prior, ok, err := replay(ctx, l.store, in.TenantID, in.IdempotencyKey); err != nil || ok {
		return prior, err
	}
	if err := l.verify(ctx, in.TenantID, in.PlayerID, in.Verification); err != nil {
		return nil, err
	}
	meta := in.Details.metadata(actor.UserID)
	meta["verification_method"] = in.Verification.Method
	if in.Verification.Reference != "" {
		meta["verification_ref"] = in.Verification.Reference
	}

	var txn *entry.Transaction
	err := l.write(ctx, func(ctx context.Context, tx store.Tx, u *unit) error {
		prior, ok, err := replay(ctx, tx, in.TenantID, in.IdempotencyKey)
		if err != nil || ok {
			txn = prior
			return err
		}

		line, err := tx.GetFloatLine(ctx, in.TenantID, in.AgentID)
		if err != nil {
			return err
		}
		player, err := tx.FindAccount(ctx, in.TenantID, account.OwnerPlayer, in.PlayerID)
		if err != nil {
			return err
		}

		txn, err = l.post(ctx, tx, u, postRequest{
			TenantID:  in.TenantID,
			Key:       in.IdempotencyKey,
			Type:      entry.TypeWithdrawal,
			Reference: in.PlayerID,
			Metadata:  meta,
			Shortfall: ErrInsufficientFunds,
			Legs: []entry.Leg{
				entry.DebitLeg(player.ID, in.Amount),
				entry.CreditLeg(line.AccountID, in.Amount),
			},
		})
		if err != nil {
			return err
		}
		l.floatMoved(u, line, txn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (l *Ledger) floatMoved(u *unit, line *account.FloatLine, txn *entry.Transaction) {
	snapshot := *line
	u.onCommit(func(ctx context.Context) {
		l.logger.Info("float moved",
			"tenant_id", txn.TenantID,
			"transaction_id", txn.ID.String(),
			"type", txn.Type,
			"agent_id", snapshot.AgentID,
			"receipt_ref", txn.Metadata["receipt_ref"],
		)
		l.plugins.EmitFloatMoved(ctx, &snapshot, txn)
	})
}
