package credits

import (
	"context"
	"strconv"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/event"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/plan"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/subscription"
)

// ProcessEvent reconciles one verified provider event against local state.
// It never returns an error: every path, including store failures, yields a
// typed Result. Duplicate and out-of-order deliveries settle as Duplicate
// or Stale; a Failed outcome tells the HTTP layer to answer non-2xx so the
// provider redelivers. Store mutations are atomic, so a failed event leaves
// no partial state behind and redelivery is safe.
func (e *Engine) ProcessEvent(ctx context.Context, evt *event.Event) event.Result {
	var res event.Result

	switch p := evt.Payload.(type) {
	case *event.CheckoutCompleted:
		res = e.applyCheckoutCompleted(ctx, evt, p)
	case *event.SubscriptionCreated:
		res = e.applySubscriptionCreated(ctx, evt, p)
	case *event.SubscriptionUpdated:
		res = e.applySubscriptionUpdated(ctx, evt, p)
	case *event.SubscriptionDeleted:
		res = e.applySubscriptionDeleted(ctx, evt, p)
	case *event.InvoicePaymentSucceeded:
		res = e.applyInvoicePaymentSucceeded(ctx, evt, p)
	case *event.InvoicePaymentFailed:
		res = e.applyInvoicePaymentFailed(ctx, evt, p)
	default:
		res = event.Ignored(evt.ID, evt.Kind, "unhandled event kind")
	}

	e.plugins.EmitEventProcessed(ctx, res)
	e.logger.Info("webhook event processed",
		"event_id", evt.ID,
		"kind", evt.Kind,
		"outcome", res.Outcome,
		"detail", res.Detail,
	)
	return res
}

// applyCheckoutCompleted grants a one-time credit pack, keyed by the
// checkout session id. Subscription-mode checkouts carry no grant here;
// the subscription event stream activates them.
func (e *Engine) applyCheckoutCompleted(ctx context.Context, evt *event.Event, p *event.CheckoutCompleted) event.Result {
	if p.Mode != "payment" {
		return event.Ignored(evt.ID, evt.Kind, "subscription checkout, reconciled via subscription events")
	}
	if p.Credits <= 0 {
		return event.Ignored(evt.ID, evt.Kind, "no credits in session metadata")
	}

	accountID, err := id.ParseAccountID(p.AccountID)
	if err != nil {
		return event.Ignored(evt.ID, evt.Kind, "no account in session metadata")
	}

	res, err := e.append(ctx, &entry.Entry{
		ID:             id.NewEntryID(),
		AccountID:      accountID,
		Delta:          p.Credits,
		Reason:         entry.ReasonPurchase,
		IdempotencyKey: "checkout:" + p.SessionID,
		Meta:           map[string]string{"session_id": p.SessionID},
	}, false)
	if err != nil {
		return event.Failed(evt.ID, evt.Kind, err)
	}
	if !res.Applied {
		return event.Duplicate(evt.ID, evt.Kind, "pack already granted for session")
	}
	return event.Applied(evt.ID, evt.Kind, "pack granted")
}

// applySubscriptionCreated activates the plan and grants the initial period
// credits, keyed by (provider ref, period start).
func (e *Engine) applySubscriptionCreated(ctx context.Context, evt *event.Event, p *event.SubscriptionCreated) event.Result {
	a, res, ok := e.resolveAccount(ctx, evt, p.AccountID, p.CustomerRef)
	if !ok {
		return res
	}

	// First subscription binds the provider customer to the account.
	if a.CustomerRef == "" && p.CustomerRef != "" {
		a.CustomerRef = p.CustomerRef
		if err := e.store.UpdateAccount(ctx, a); err != nil {
			return event.Failed(evt.ID, evt.Kind, err)
		}
	}

	tier, ok := e.resolveTier(p.PlanName, p.PriceID)
	if !ok {
		return event.Ignored(evt.ID, evt.Kind, "unknown plan "+p.PlanName)
	}

	out, err := e.store.ActivateSubscriptionPeriod(ctx, store.ActivatePeriodParams{
		AccountID:    a.ID,
		PlanName:     tier.Name,
		ProviderRef:  p.ProviderRef,
		PeriodStart:  p.PeriodStart,
		PeriodEnd:    p.PeriodEnd,
		GrantCredits: tier.Credits,
		GrantReason:  entry.ReasonSubscription,
		GrantKey:     periodGrantKey(p.ProviderRef, p.PeriodStart),
		GrantMeta:    map[string]string{"provider_ref": p.ProviderRef, "plan": tier.Name},
	})
	if err != nil {
		return event.Failed(evt.ID, evt.Kind, err)
	}
	if out.Stale {
		return event.Stale(evt.ID, evt.Kind, "older than current subscription state")
	}

	e.plugins.EmitSubscriptionActivated(ctx, p)
	if !out.Granted {
		return event.Duplicate(evt.ID, evt.Kind, "period already granted")
	}
	return event.Applied(evt.ID, evt.Kind, "subscription activated")
}

// applySubscriptionUpdated syncs status, period, and downgrade markers.
// No credits move here; period rollovers grant through the invoice event.
func (e *Engine) applySubscriptionUpdated(ctx context.Context, evt *event.Event, p *event.SubscriptionUpdated) event.Result {
	sub, err := e.store.GetSubscriptionByProviderRef(ctx, p.ProviderRef)
	if err != nil {
		if IsNotFound(err) {
			return event.Ignored(evt.ID, evt.Kind, "unknown subscription "+p.ProviderRef)
		}
		return event.Failed(evt.ID, evt.Kind, err)
	}

	if sub.Status == subscription.StatusCanceled {
		return event.Stale(evt.ID, evt.Kind, "subscription already canceled")
	}
	if p.PeriodStart.Before(sub.CurrentPeriodStart) {
		return event.Stale(evt.ID, evt.Kind, "older billing period")
	}

	planName := sub.PlanName
	if tier, ok := e.resolveTier(p.PlanName, p.PriceID); ok {
		planName = tier.Name
	}
	status := subscription.StatusActive
	if p.PendingPlan != "" {
		status = subscription.StatusPendingDowngrade
	}

	if sub.PlanName == planName && sub.Status == status &&
		sub.PendingPlan == p.PendingPlan &&
		sub.CurrentPeriodStart.Equal(p.PeriodStart) && sub.CurrentPeriodEnd.Equal(p.PeriodEnd) {
		return event.Duplicate(evt.ID, evt.Kind, "no state change")
	}

	if planName != sub.PlanName {
		// A plan change activates the (account, plan) record for the new
		// plan and demotes the old one; rewriting the plan name in place
		// would collide with an existing record for the target plan. No
		// credits move here, the invoice event carries the period grant.
		if _, err := e.store.ActivateSubscriptionPeriod(ctx, store.ActivatePeriodParams{
			AccountID:   sub.AccountID,
			PlanName:    planName,
			ProviderRef: p.ProviderRef,
			PeriodStart: p.PeriodStart,
			PeriodEnd:   p.PeriodEnd,
			Reactivate:  true,
		}); err != nil {
			return event.Failed(evt.ID, evt.Kind, err)
		}
		if p.PendingPlan != "" {
			if err := e.store.ScheduleDowngrade(ctx, sub.AccountID, p.PendingPlan); err != nil {
				return event.Failed(evt.ID, evt.Kind, err)
			}
		}
		return event.Applied(evt.ID, evt.Kind, "subscription synced")
	}

	sub.Status = status
	sub.PendingPlan = p.PendingPlan
	sub.CurrentPeriodStart = p.PeriodStart
	sub.CurrentPeriodEnd = p.PeriodEnd
	sub.Touch()

	if err := e.store.SyncSubscription(ctx, sub); err != nil {
		return event.Failed(evt.ID, evt.Kind, err)
	}
	return event.Applied(evt.ID, evt.Kind, "subscription synced")
}

// applySubscriptionDeleted marks the subscription canceled. Credits already
// granted are retained; there is no clawback.
func (e *Engine) applySubscriptionDeleted(ctx context.Context, evt *event.Event, p *event.SubscriptionDeleted) event.Result {
	sub, err := e.store.GetSubscriptionByProviderRef(ctx, p.ProviderRef)
	if err != nil {
		if IsNotFound(err) {
			return event.Ignored(evt.ID, evt.Kind, "unknown subscription "+p.ProviderRef)
		}
		return event.Failed(evt.ID, evt.Kind, err)
	}
	if sub.Status == subscription.StatusCanceled {
		return event.Duplicate(evt.ID, evt.Kind, "already canceled")
	}

	canceledAt := p.CanceledAt
	if canceledAt.IsZero() {
		canceledAt = time.Now().UTC()
	}
	if err := e.store.MarkSubscriptionCanceled(ctx, p.ProviderRef, canceledAt); err != nil {
		return event.Failed(evt.ID, evt.Kind, err)
	}

	e.plugins.EmitSubscriptionCanceled(ctx, sub)
	return event.Applied(evt.ID, evt.Kind, "subscription canceled")
}

// applyInvoicePaymentSucceeded grants the period's credits, keyed by
// (provider ref, period start) so replays and the initial invoice after
// activation both settle as duplicates. A pending downgrade is applied at
// the rollover boundary.
func (e *Engine) applyInvoicePaymentSucceeded(ctx context.Context, evt *event.Event, p *event.InvoicePaymentSucceeded) event.Result {
	sub, err := e.store.GetSubscriptionByProviderRef(ctx, p.ProviderRef)
	if err != nil {
		if IsNotFound(err) {
			return event.Ignored(evt.ID, evt.Kind, "unknown subscription "+p.ProviderRef)
		}
		return event.Failed(evt.ID, evt.Kind, err)
	}

	planName := sub.PlanName
	if sub.PendingPlan != "" && p.PeriodStart.After(sub.CurrentPeriodStart) {
		planName = sub.PendingPlan
	}
	tier, ok := e.catalog.Get(planName)
	if !ok {
		return event.Ignored(evt.ID, evt.Kind, "unknown plan "+planName)
	}

	out, err := e.store.ActivateSubscriptionPeriod(ctx, store.ActivatePeriodParams{
		AccountID:    sub.AccountID,
		PlanName:     tier.Name,
		ProviderRef:  p.ProviderRef,
		PeriodStart:  p.PeriodStart,
		PeriodEnd:    p.PeriodEnd,
		GrantCredits: tier.Credits,
		GrantReason:  entry.ReasonSubscription,
		GrantKey:     periodGrantKey(p.ProviderRef, p.PeriodStart),
		GrantMeta: map[string]string{
			"provider_ref":   p.ProviderRef,
			"invoice_id":     p.InvoiceID,
			"billing_reason": p.BillingReason,
		},
	})
	if err != nil {
		return event.Failed(evt.ID, evt.Kind, err)
	}
	if out.Stale {
		return event.Stale(evt.ID, evt.Kind, "older than current subscription state")
	}

	e.plugins.EmitSubscriptionActivated(ctx, sub)
	if !out.Granted {
		return event.Duplicate(evt.ID, evt.Kind, "period already granted")
	}
	return event.Applied(evt.ID, evt.Kind, "renewal granted")
}

// applyInvoicePaymentFailed observes the failure. Dunning belongs to the
// provider; local state waits for its follow-up events.
func (e *Engine) applyInvoicePaymentFailed(ctx context.Context, evt *event.Event, p *event.InvoicePaymentFailed) event.Result {
	e.logger.Warn("invoice payment failed",
		"provider_ref", p.ProviderRef,
		"invoice_id", p.InvoiceID,
		"attempted_at", p.AttemptedAt,
	)
	return event.Ignored(evt.ID, evt.Kind, "payment failure observed, no mutation")
}

// resolveAccount finds the account by its id from checkout metadata, or by
// the provider customer reference.
func (e *Engine) resolveAccount(ctx context.Context, evt *event.Event, accountID, customerRef string) (*account.Account, event.Result, bool) {
	if accountID != "" {
		parsed, err := id.ParseAccountID(accountID)
		if err == nil {
			a, err := e.store.GetAccount(ctx, parsed)
			if err == nil {
				return a, event.Result{}, true
			}
			if !IsNotFound(err) {
				return nil, event.Failed(evt.ID, evt.Kind, err), false
			}
		}
	}

	if customerRef != "" {
		a, err := e.store.GetAccountByCustomerRef(ctx, customerRef)
		if err == nil {
			return a, event.Result{}, true
		}
		if !IsNotFound(err) {
			return nil, event.Failed(evt.ID, evt.Kind, err), false
		}
	}

	return nil, event.Ignored(evt.ID, evt.Kind, "no matching account"), false
}

// resolveTier prefers the provider price id, falling back to the plan name
// carried in metadata.
func (e *Engine) resolveTier(planName, priceID string) (plan.Tier, bool) {
	if priceID != "" {
		if t, ok := e.catalog.ByProviderPrice(priceID); ok {
			return t, true
		}
	}
	if planName != "" {
		return e.catalog.Get(planName)
	}
	return plan.Tier{}, false
}

func periodGrantKey(providerRef string, periodStart time.Time) string {
	return "grant:" + providerRef + ":" + strconv.FormatInt(periodStart.Unix(), 10)
}
