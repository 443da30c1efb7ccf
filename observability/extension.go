// Package observability provides a metrics extension for the credits engine
// that records lifecycle event counts via go-utils MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/event"
	"github.com/xraph/credits/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                  = (*MetricsExtension)(nil)
	_ plugin.OnInit                  = (*MetricsExtension)(nil)
	_ plugin.OnAccountCreated        = (*MetricsExtension)(nil)
	_ plugin.OnEntryAppended         = (*MetricsExtension)(nil)
	_ plugin.OnInsufficientCredits   = (*MetricsExtension)(nil)
	_ plugin.OnDriftDetected         = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionActivated = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCanceled  = (*MetricsExtension)(nil)
	_ plugin.OnDowngradeScheduled    = (*MetricsExtension)(nil)
	_ plugin.OnEventProcessed        = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a credits plugin to automatically track billing metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Account metrics
	AccountsCreated Counter

	// Ledger metrics
	EntriesAppended     Counter
	CreditsGranted      Counter
	CreditsSpent        Counter
	InsufficientCredits Counter
	DriftIncidents      Counter
	BalanceAfter        Histogram

	// Subscription metrics
	SubscriptionsActivated Counter
	SubscriptionsCanceled  Counter
	DowngradesScheduled    Counter

	// Webhook metrics
	EventsApplied   Counter
	EventsDuplicate Counter
	EventsStale     Counter
	EventsIgnored   Counter
	EventsFailed    Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Account metrics
		AccountsCreated: factory.Counter("credits.account.created"),

		// Ledger metrics
		EntriesAppended:     factory.Counter("credits.ledger.entries"),
		CreditsGranted:      factory.Counter("credits.ledger.granted"),
		CreditsSpent:        factory.Counter("credits.ledger.spent"),
		InsufficientCredits: factory.Counter("credits.ledger.insufficient"),
		DriftIncidents:      factory.Counter("credits.ledger.drift"),
		BalanceAfter:        factory.Histogram("credits.ledger.balance_after"),

		// Subscription metrics
		SubscriptionsActivated: factory.Counter("credits.subscription.activated"),
		SubscriptionsCanceled:  factory.Counter("credits.subscription.canceled"),
		DowngradesScheduled:    factory.Counter("credits.subscription.downgrades"),

		// Webhook metrics
		EventsApplied:   factory.Counter("credits.webhook.applied"),
		EventsDuplicate: factory.Counter("credits.webhook.duplicate"),
		EventsStale:     factory.Counter("credits.webhook.stale"),
		EventsIgnored:   factory.Counter("credits.webhook.ignored"),
		EventsFailed:    factory.Counter("credits.webhook.failed"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Account lifecycle hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (m *MetricsExtension) OnAccountCreated(_ context.Context, _ interface{}) error {
	m.AccountsCreated.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnEntryAppended implements plugin.OnEntryAppended.
func (m *MetricsExtension) OnEntryAppended(_ context.Context, v interface{}, balanceAfter int64) error {
	m.EntriesAppended.Inc()
	m.BalanceAfter.Observe(float64(balanceAfter))

	if ent, ok := v.(*entry.Entry); ok {
		if ent.Credit() {
			m.CreditsGranted.Inc()
		} else if ent.Debit() {
			m.CreditsSpent.Inc()
		}
	}
	return nil
}

// OnInsufficientCredits implements plugin.OnInsufficientCredits.
func (m *MetricsExtension) OnInsufficientCredits(_ context.Context, _ string, _, _ int64) error {
	m.InsufficientCredits.Inc()
	return nil
}

// OnDriftDetected implements plugin.OnDriftDetected.
func (m *MetricsExtension) OnDriftDetected(_ context.Context, _ string, _, _ int64) error {
	m.DriftIncidents.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionActivated implements plugin.OnSubscriptionActivated.
func (m *MetricsExtension) OnSubscriptionActivated(_ context.Context, _ interface{}) error {
	m.SubscriptionsActivated.Inc()
	return nil
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (m *MetricsExtension) OnSubscriptionCanceled(_ context.Context, _ interface{}) error {
	m.SubscriptionsCanceled.Inc()
	return nil
}

// OnDowngradeScheduled implements plugin.OnDowngradeScheduled.
func (m *MetricsExtension) OnDowngradeScheduled(_ context.Context, _ interface{}, _ string) error {
	m.DowngradesScheduled.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnEventProcessed implements plugin.OnEventProcessed.
func (m *MetricsExtension) OnEventProcessed(_ context.Context, v interface{}) error {
	res, ok := v.(event.Result)
	if !ok {
		return nil
	}

	switch res.Outcome {
	case event.OutcomeApplied:
		m.EventsApplied.Inc()
	case event.OutcomeDuplicate:
		m.EventsDuplicate.Inc()
	case event.OutcomeStale:
		m.EventsStale.Inc()
	case event.OutcomeIgnored:
		m.EventsIgnored.Inc()
	case event.OutcomeFailed:
		m.EventsFailed.Inc()
	}
	return nil
}
