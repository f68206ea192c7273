package audithook

// Action constants for audit events.
const (
	// Account actions
	ActionAccountOpened  = "account.opened"
	ActionWalletCredited = "wallet.credited"
	ActionWalletDebited  = "wallet.debited"

	// Order actions
	ActionOrderCreated         = "order.created"
	ActionContentSubmitted     = "order.content_submitted"
	ActionFulfillmentSubmitted = "order.fulfillment_submitted"
	ActionOrderApproved        = "order.approved"
	ActionOrderRefunded        = "order.refunded"
	ActionOrderAutoRefunded    = "order.auto_refunded"
	ActionOrderCancelled       = "order.cancelled"

	// Operational actions
	ActionSweepCompleted         = "sweep.completed"
	ActionReconciliationRequired = "reconciliation.required"
)

// Resource constants for audit events.
const (
	ResourceAccount = "account"
	ResourceWallet  = "wallet"
	ResourceOrder   = "order"
	ResourceSweep   = "sweep"
)

// Category constants for audit events.
const (
	CategoryWallet     = "wallet"
	CategoryOrder      = "order"
	CategorySettlement = "settlement"
	CategoryOperations = "operations"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
