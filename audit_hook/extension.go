// Package audithook bridges credits lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/event"
	"github.com/xraph/credits/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                  = (*Extension)(nil)
	_ plugin.OnAccountCreated        = (*Extension)(nil)
	_ plugin.OnEntryAppended         = (*Extension)(nil)
	_ plugin.OnInsufficientCredits   = (*Extension)(nil)
	_ plugin.OnDriftDetected         = (*Extension)(nil)
	_ plugin.OnSubscriptionActivated = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled  = (*Extension)(nil)
	_ plugin.OnDowngradeScheduled    = (*Extension)(nil)
	_ plugin.OnEventProcessed        = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly — callers inject
// the concrete *chronicle.Chronicle at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges credits lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Account lifecycle hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (e *Extension) OnAccountCreated(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionAccountCreated, SeverityInfo, OutcomeSuccess,
		ResourceAccount, "", CategoryBilling, nil,
		"event", "account_created",
	)
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnEntryAppended implements plugin.OnEntryAppended.
func (e *Extension) OnEntryAppended(ctx context.Context, v interface{}, balanceAfter int64) error {
	var (
		entryID   string
		accountID string
		delta     int64
		reason    string
	)
	if ent, ok := v.(*entry.Entry); ok {
		entryID = ent.ID.String()
		accountID = ent.AccountID.String()
		delta = ent.Delta
		reason = string(ent.Reason)
	}

	return e.record(ctx, ActionEntryAppended, SeverityInfo, OutcomeSuccess,
		ResourceEntry, entryID, CategoryBilling, nil,
		"account_id", accountID,
		"delta", delta,
		"reason", reason,
		"balance_after", balanceAfter,
	)
}

// OnInsufficientCredits implements plugin.OnInsufficientCredits.
func (e *Extension) OnInsufficientCredits(ctx context.Context, accountID string, needed, balance int64) error {
	return e.record(ctx, ActionInsufficientCredits, SeverityWarning, OutcomeFailure,
		ResourceAccount, accountID, CategoryBilling, nil,
		"account_id", accountID,
		"needed", needed,
		"balance", balance,
	)
}

// OnDriftDetected implements plugin.OnDriftDetected.
func (e *Extension) OnDriftDetected(ctx context.Context, accountID string, cached, actual int64) error {
	return e.record(ctx, ActionDriftDetected, SeverityCritical, OutcomeFailure,
		ResourceAccount, accountID, CategoryIntegrity, nil,
		"account_id", accountID,
		"cached", cached,
		"actual", actual,
		"drift", cached-actual,
	)
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionActivated implements plugin.OnSubscriptionActivated.
func (e *Extension) OnSubscriptionActivated(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionSubscriptionActivated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, "", CategorySubscription, nil,
		"event", "subscription_activated",
	)
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (e *Extension) OnSubscriptionCanceled(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionSubscriptionCanceled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, "", CategorySubscription, nil,
		"event", "subscription_canceled",
	)
}

// OnDowngradeScheduled implements plugin.OnDowngradeScheduled.
func (e *Extension) OnDowngradeScheduled(ctx context.Context, _ interface{}, pendingPlan string) error {
	return e.record(ctx, ActionDowngradeScheduled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, "", CategorySubscription, nil,
		"event", "downgrade_scheduled",
		"pending_plan", pendingPlan,
	)
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnEventProcessed implements plugin.OnEventProcessed.
func (e *Extension) OnEventProcessed(ctx context.Context, v interface{}) error {
	res, ok := v.(event.Result)
	if !ok {
		return nil
	}

	severity := SeverityInfo
	outcome := OutcomeSuccess
	var err error
	if res.Outcome == event.OutcomeFailed {
		severity = SeverityError
		outcome = OutcomeFailure
		err = res.Err
	}

	return e.record(ctx, ActionEventProcessed, severity, outcome,
		ResourceWebhook, res.EventID, CategoryIntegration, err,
		"kind", string(res.Kind),
		"outcome", string(res.Outcome),
		"detail", res.Detail,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
