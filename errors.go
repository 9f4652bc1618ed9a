package betledger

import (
	"errors"
	"fmt"

	"github.com/xraph/betledger/authz"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/types"
)

// Sentinel errors, grouped by the error kind they belong to. Kind maps
// each of them to exactly one ErrorKind.
var (
	// Validation errors
	ErrInvalidInput          = errors.New("betledger: invalid input")
	ErrInvalidAmount         = errors.New("betledger: amount must be positive")
	ErrMissingIdempotencyKey = errors.New("betledger: idempotency key is required")
	ErrInvalidOdds           = errors.New("betledger: odds must be greater than 1")
	ErrInvalidOutcome        = errors.New("betledger: invalid settlement outcome")
	ErrResultUnavailable     = errors.New("betledger: event result unavailable for selection")
	ErrInvalidTransition     = errors.New("betledger: invalid status transition")
	ErrReasonRequired        = errors.New("betledger: reason is required")
	ErrInvalidPeriod         = errors.New("betledger: invalid commission period")

	// Authorization errors
	ErrInsufficientAuthority = authz.ErrInsufficientAuthority
	ErrTenantMismatch        = authz.ErrTenantMismatch
	ErrVerificationRequired  = errors.New("betledger: player verification required")
	ErrVerificationFailed    = errors.New("betledger: player verification failed")

	// Consistency errors
	ErrUnbalancedTransaction = errors.New("betledger: unbalanced transaction")
	ErrCurrencyMismatch      = errors.New("betledger: currency mismatch")
	ErrDuplicateTransaction  = errors.New("betledger: duplicate transaction")
	ErrConflict              = errors.New("betledger: concurrent modification conflict")
	ErrAccountNotActive      = errors.New("betledger: account is not active")
	ErrAlreadyExists         = errors.New("betledger: already exists")
	ErrBetAlreadySettled     = errors.New("betledger: bet already settled")
	ErrAlreadyReversed       = errors.New("betledger: transaction already reversed")

	// Resource errors
	ErrInsufficientFloat             = errors.New("betledger: insufficient float")
	ErrInsufficientFunds             = errors.New("betledger: insufficient funds")
	ErrInsufficientCommissionBalance = errors.New("betledger: insufficient commission balance")
	ErrCreditLimitExceeded           = errors.New("betledger: credit limit exceeded")
	ErrNoParentAgent                 = errors.New("betledger: no parent agent registered")

	// Not found errors
	ErrNotFound            = errors.New("betledger: not found")
	ErrAccountNotFound     = errors.New("betledger: account not found")
	ErrTransactionNotFound = errors.New("betledger: transaction not found")
	ErrFloatLineNotFound   = errors.New("betledger: agent float line not found")
	ErrBetNotFound         = errors.New("betledger: bet not found")
	ErrCommissionNotFound  = errors.New("betledger: commission settlement not found")
	ErrPolicyNotFound      = errors.New("betledger: tenant policy not found")
	ErrPlayerNotFound      = errors.New("betledger: player not found")
	ErrAgentNotFound       = errors.New("betledger: agent not found")

	// Reconciliation errors. Never returned from an operation; they are
	// reported through reconciliation reports and alerts.
	ErrReconciliationDivergence = errors.New("betledger: balance projection diverges from ledger")

	// Store errors
	ErrStoreClosed = errors.New("betledger: store is closed")
)

// ErrorKind classifies an error so that retry policy is deterministic.
type ErrorKind string

// Error kinds.
const (
	KindUnknown        ErrorKind = "unknown"
	KindValidation     ErrorKind = "validation"
	KindAuthorization  ErrorKind = "authorization"
	KindConsistency    ErrorKind = "consistency"
	KindResource       ErrorKind = "resource"
	KindNotFound       ErrorKind = "not_found"
	KindReconciliation ErrorKind = "reconciliation"
)

// kinds is checked in order, so an error wrapping sentinels of several
// kinds reports the first match. Authorization failures come first: a
// caller without authority must not learn whether the target exists.
var kinds = []struct {
	kind      ErrorKind
	sentinels []error
}{
	{KindAuthorization, []error{
		ErrInsufficientAuthority, ErrTenantMismatch, ErrVerificationRequired, ErrVerificationFailed,
	}},
	{KindValidation, []error{
		ErrInvalidInput, ErrInvalidAmount, ErrMissingIdempotencyKey, ErrInvalidOdds,
		ErrInvalidOutcome, ErrResultUnavailable, ErrInvalidTransition, ErrReasonRequired,
		ErrInvalidPeriod,
	}},
	{KindConsistency, []error{
		ErrUnbalancedTransaction, ErrCurrencyMismatch, ErrDuplicateTransaction, ErrConflict,
		ErrAccountNotActive, ErrAlreadyExists, ErrBetAlreadySettled, ErrAlreadyReversed,
	}},
	{KindReconciliation, []error{ErrReconciliationDivergence}},
	{KindResource, []error{
		ErrInsufficientFloat, ErrInsufficientFunds, ErrInsufficientCommissionBalance,
		ErrCreditLimitExceeded, ErrNoParentAgent,
	}},
	{KindNotFound, []error{
		ErrNotFound, ErrAccountNotFound, ErrTransactionNotFound, ErrFloatLineNotFound,
		ErrBetNotFound, ErrCommissionNotFound, ErrPolicyNotFound, ErrPlayerNotFound, ErrAgentNotFound,
	}},
}

// Kind reports the error kind of err.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		for _, s := range k.sentinels {
			if errors.Is(err, s) {
				return k.kind
			}
		}
	}
	return KindUnknown
}

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("betledger: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match any ValidationError.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// BalanceError is a resource error that carries the balance observed when
// the operation was rejected, for client feedback.
type BalanceError struct {
	Err       error
	AccountID id.AccountID
	Available types.Money
	Requested types.Money
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("%s: account %s has %s available, %s requested",
		e.Err.Error(), e.AccountID, e.Available, e.Requested)
}

func (e *BalanceError) Unwrap() error { return e.Err }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "betledger: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("betledger: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return Kind(err) == KindNotFound
}

// IsResourceError returns true if the error reports a shortfall of funds,
// float, commission or credit.
func IsResourceError(err error) bool {
	return Kind(err) == KindResource
}

// IsRetryable returns true if the operation lost a concurrency race and can
// be retried as-is. The engine retries these internally with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
