package credits

import (
	"context"
	"fmt"
	"strconv"

	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/provider"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/subscription"
	"github.com/xraph/credits/types"
)

// CheckoutURLs carries the redirect targets for a hosted checkout.
type CheckoutURLs struct {
	Success string
	Cancel  string
}

// StartSubscription creates a provider checkout session for a plan and
// records the local subscription as incomplete. Activation happens when the
// provider confirms payment through the webhook stream.
func (e *Engine) StartSubscription(ctx context.Context, accountID id.AccountID, planName string, urls CheckoutURLs) (*provider.CheckoutSession, error) {
	p, err := e.paymentProvider()
	if err != nil {
		return nil, err
	}

	tier, ok := e.catalog.Get(planName)
	if !ok {
		return nil, ErrInvalidPlan
	}

	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	session, err := p.CreateCheckoutSession(ctx, provider.CheckoutParams{
		AccountID:   accountID,
		CustomerRef: a.CustomerRef,
		Email:       a.Email,
		Mode:        provider.ModeSubscription,
		PlanName:    planName,
		PriceID:     tier.ProviderPrice,
		SuccessURL:  urls.Success,
		CancelURL:   urls.Cancel,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPaymentProvider, err)
	}

	sub := &subscription.Subscription{
		Entity:    types.NewEntity(),
		ID:        id.NewSubscriptionID(),
		AccountID: accountID,
		PlanName:  planName,
		Status:    subscription.StatusIncomplete,
		Metadata:  map[string]string{"checkout_session": session.ID},
	}
	if err := e.store.CreateSubscription(ctx, sub); err != nil && !IsAlreadyExists(err) {
		return nil, err
	}

	return session, nil
}

// StartPackPurchase creates a provider checkout session for a one-time
// credit pack. The grant lands when the checkout-completed webhook arrives.
func (e *Engine) StartPackPurchase(ctx context.Context, accountID id.AccountID, credits int64, priceID string, urls CheckoutURLs) (*provider.CheckoutSession, error) {
	p, err := e.paymentProvider()
	if err != nil {
		return nil, err
	}
	if credits <= 0 {
		return nil, ErrInvalidAmount
	}

	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	session, err := p.CreateCheckoutSession(ctx, provider.CheckoutParams{
		AccountID:   accountID,
		CustomerRef: a.CustomerRef,
		Email:       a.Email,
		Mode:        provider.ModePayment,
		PriceID:     priceID,
		Credits:     credits,
		SuccessURL:  urls.Success,
		CancelURL:   urls.Cancel,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPaymentProvider, err)
	}
	return session, nil
}

// ChangePlanResult reports what a plan change did.
type ChangePlanResult struct {
	Upgraded       bool
	PendingPlan    string
	GrantedCredits int64
	BalanceAfter   int64
}

// ChangePlan moves an account to a different plan. Upgrades take effect
// immediately: the provider swaps the price with proration and the credit
// difference is granted now. Downgrades are scheduled for the period
// boundary and move no credits. The provider call happens first, so a
// provider failure leaves local state untouched.
func (e *Engine) ChangePlan(ctx context.Context, accountID id.AccountID, newPlanName string) (*ChangePlanResult, error) {
	p, err := e.paymentProvider()
	if err != nil {
		return nil, err
	}

	target, ok := e.catalog.Get(newPlanName)
	if !ok {
		return nil, ErrInvalidPlan
	}

	sub, err := e.store.GetActiveSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	current, ok := e.catalog.Get(sub.PlanName)
	if !ok {
		return nil, ErrInvalidPlan
	}
	if target.Name == current.Name {
		return nil, ErrSamePlan
	}

	if target.Rank > current.Rank {
		return e.upgradePlan(ctx, p, sub, current.Credits, target.Name, target.ProviderPrice, target.Credits)
	}
	return e.downgradePlan(ctx, p, sub, target.Name)
}

func (e *Engine) upgradePlan(ctx context.Context, p provider.Provider, sub *subscription.Subscription, currentCredits int64, targetPlan, targetPrice string, targetCredits int64) (*ChangePlanResult, error) {
	if err := p.SwapSubscriptionPrice(ctx, sub.ProviderRef, targetPrice); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPaymentProvider, err)
	}

	diff := targetCredits - currentCredits
	grantKey := "upgrade:" + sub.ProviderRef + ":" + strconv.FormatInt(sub.CurrentPeriodStart.Unix(), 10) + ":" + targetPlan

	// Reactivate lets the account re-enter a plan it left earlier in the
	// same period; the grant key still dedupes a retried upgrade.
	res, err := e.store.ActivateSubscriptionPeriod(ctx, store.ActivatePeriodParams{
		AccountID:    sub.AccountID,
		PlanName:     targetPlan,
		ProviderRef:  sub.ProviderRef,
		PeriodStart:  sub.CurrentPeriodStart,
		PeriodEnd:    sub.CurrentPeriodEnd,
		Reactivate:   true,
		GrantCredits: diff,
		GrantReason:  entry.ReasonSubscriptionUpgrade,
		GrantKey:     grantKey,
		GrantMeta:    map[string]string{"from_plan": sub.PlanName, "to_plan": targetPlan},
	})
	if err != nil {
		return nil, err
	}
	if res.Stale {
		return nil, ErrStaleSubscription
	}

	e.plugins.EmitSubscriptionActivated(ctx, sub)
	e.logger.Info("plan upgraded",
		"account_id", sub.AccountID,
		"from_plan", sub.PlanName,
		"to_plan", targetPlan,
		"granted", diff,
	)

	out := &ChangePlanResult{Upgraded: true, BalanceAfter: res.BalanceAfter}
	if res.Granted {
		out.GrantedCredits = diff
	}
	return out, nil
}

func (e *Engine) downgradePlan(ctx context.Context, p provider.Provider, sub *subscription.Subscription, targetPlan string) (*ChangePlanResult, error) {
	if err := p.MarkPendingPlan(ctx, sub.ProviderRef, targetPlan); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPaymentProvider, err)
	}

	if err := e.store.ScheduleDowngrade(ctx, sub.AccountID, targetPlan); err != nil {
		return nil, err
	}

	e.plugins.EmitDowngradeScheduled(ctx, sub, targetPlan)
	e.logger.Info("downgrade scheduled",
		"account_id", sub.AccountID,
		"from_plan", sub.PlanName,
		"to_plan", targetPlan,
	)

	return &ChangePlanResult{PendingPlan: targetPlan}, nil
}

// CancelScheduledDowngrade reverts a scheduled downgrade: the subscription
// returns to active, the pending plan is cleared, and the ledger is not
// touched.
func (e *Engine) CancelScheduledDowngrade(ctx context.Context, accountID id.AccountID) error {
	p, err := e.paymentProvider()
	if err != nil {
		return err
	}

	sub, err := e.store.GetActiveSubscription(ctx, accountID)
	if err != nil {
		return err
	}
	if sub.Status != subscription.StatusPendingDowngrade {
		return ErrNoPendingDowngrade
	}

	if err := p.ClearPendingPlan(ctx, sub.ProviderRef); err != nil {
		return fmt.Errorf("%w: %w", ErrPaymentProvider, err)
	}

	if err := e.store.CancelScheduledDowngrade(ctx, accountID); err != nil {
		return err
	}

	e.logger.Info("scheduled downgrade canceled",
		"account_id", accountID,
		"plan", sub.PlanName,
	)
	return nil
}

// CancelPlan schedules cancellation at the period end. Local status follows
// the provider's deletion webhook; granted credits are retained.
func (e *Engine) CancelPlan(ctx context.Context, accountID id.AccountID) error {
	p, err := e.paymentProvider()
	if err != nil {
		return err
	}

	sub, err := e.store.GetActiveSubscription(ctx, accountID)
	if err != nil {
		return err
	}

	if err := p.CancelAtPeriodEnd(ctx, sub.ProviderRef); err != nil {
		return fmt.Errorf("%w: %w", ErrPaymentProvider, err)
	}

	e.logger.Info("cancellation scheduled",
		"account_id", accountID,
		"plan", sub.PlanName,
		"period_end", sub.CurrentPeriodEnd,
	)
	return nil
}

// ActiveSubscription returns the account's live subscription record.
func (e *Engine) ActiveSubscription(ctx context.Context, accountID id.AccountID) (*subscription.Subscription, error) {
	return e.store.GetActiveSubscription(ctx, accountID)
}

func (e *Engine) paymentProvider() (provider.Provider, error) {
	if e.provider == nil {
		return nil, ErrProviderNotConfigured
	}
	return e.provider, nil
}
