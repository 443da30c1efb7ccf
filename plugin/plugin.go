// Package plugin provides an extensible plugin system for the credits engine.
// Plugins can hook into billing lifecycle events to extend functionality.
package plugin

import (
	"context"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Account lifecycle hooks
// ──────────────────────────────────────────────────

// OnAccountCreated is called when a new account is provisioned.
type OnAccountCreated interface {
	Plugin
	OnAccountCreated(ctx context.Context, acct interface{}) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnEntryAppended is called after a ledger entry is applied. It does not
// fire for duplicate-suppressed appends.
type OnEntryAppended interface {
	Plugin
	OnEntryAppended(ctx context.Context, e interface{}, balanceAfter int64) error
}

// OnInsufficientCredits is called when a debit is rejected for lack of
// funds.
type OnInsufficientCredits interface {
	Plugin
	OnInsufficientCredits(ctx context.Context, accountID string, needed, balance int64) error
}

// OnDriftDetected is called when reconciliation finds the cached balance
// disagreeing with the entry sum.
type OnDriftDetected interface {
	Plugin
	OnDriftDetected(ctx context.Context, accountID string, cached, actual int64) error
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionActivated is called when a plan period is activated, both
// for first activation and renewals.
type OnSubscriptionActivated interface {
	Plugin
	OnSubscriptionActivated(ctx context.Context, sub interface{}) error
}

// OnSubscriptionCanceled is called when a subscription is canceled.
type OnSubscriptionCanceled interface {
	Plugin
	OnSubscriptionCanceled(ctx context.Context, sub interface{}) error
}

// OnDowngradeScheduled is called when a downgrade is scheduled for the next
// period boundary.
type OnDowngradeScheduled interface {
	Plugin
	OnDowngradeScheduled(ctx context.Context, sub interface{}, pendingPlan string) error
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnEventProcessed is called after a provider event is reconciled, with the
// typed outcome. It fires for every outcome, including duplicates and
// failures.
type OnEventProcessed interface {
	Plugin
	OnEventProcessed(ctx context.Context, result interface{}) error
}

// ──────────────────────────────────────────────────
// Payment provider hooks
// ──────────────────────────────────────────────────

// PaymentProviderPlugin provides a payment provider implementation.
type PaymentProviderPlugin interface {
	Plugin
	Provider() interface{} // Returns provider.Provider
}
