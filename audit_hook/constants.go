package audithook

// Action constants for audit events.
const (
	// Account actions
	ActionAccountCreated = "account.created"

	// Ledger actions
	ActionEntryAppended       = "ledger.entry_appended"
	ActionInsufficientCredits = "ledger.insufficient_credits"
	ActionDriftDetected       = "ledger.drift_detected"

	// Subscription actions
	ActionSubscriptionActivated = "subscription.activated"
	ActionSubscriptionCanceled  = "subscription.canceled"
	ActionDowngradeScheduled    = "subscription.downgrade_scheduled"

	// Webhook actions
	ActionEventProcessed = "webhook.processed"
)

// Resource constants for audit events.
const (
	ResourceAccount      = "account"
	ResourceEntry        = "ledger_entry"
	ResourceSubscription = "subscription"
	ResourceWebhook      = "webhook"
)

// Category constants for audit events.
const (
	CategoryBilling      = "billing"
	CategorySubscription = "subscription"
	CategoryIntegrity    = "integrity"
	CategoryIntegration  = "integration"
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
)
