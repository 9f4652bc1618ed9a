package audithook

// Action constants for audit events.
const (
	// Account actions
	ActionAccountCreated  = "account.created"
	ActionAccountFrozen   = "account.frozen"
	ActionAccountStatus   = "account.status_changed"
	ActionBalanceDiverged = "balance.diverged"

	// Ledger actions
	ActionTransactionPosted   = "transaction.posted"
	ActionTransactionReversed = "transaction.reversed"
	ActionFloatMoved          = "float.moved"

	// Bet actions
	ActionBetPlaced        = "bet.placed"
	ActionBetSettled       = "bet.settled"
	ActionBetManualSettled = "bet.manual_settled"
	ActionMaxWinApplied    = "bet.max_win_applied"

	// Commission actions
	ActionCommissionComputed = "commission.computed"
	ActionCommissionApproved = "commission.approved"
	ActionCommissionPaid     = "commission.paid"
	ActionCommissionReversed = "commission.reversed"

	// Policy actions
	ActionPolicySaved = "policy.saved"
)

// Resource constants for audit events.
const (
	ResourceAccount     = "account"
	ResourceTransaction = "transaction"
	ResourceFloatLine   = "float_line"
	ResourceBet         = "bet"
	ResourceCommission  = "commission"
	ResourcePolicy      = "policy"
)

// Category constants for audit events.
const (
	CategoryLedger     = "ledger"
	CategoryFloat      = "float"
	CategorySettlement = "settlement"
	CategoryCommission = "commission"
	CategoryRisk       = "risk"
	CategoryIntegrity  = "integrity"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
