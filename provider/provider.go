// Package provider defines the payment provider interface used by the
// credits engine. Providers handle money movement; the engine only ever
// reconciles provider state through webhook events.
package provider

import (
	"context"

	"github.com/xraph/credits/id"
)

// CheckoutMode selects between a one-time credit pack purchase and a
// recurring subscription.
type CheckoutMode string

const (
	ModePayment      CheckoutMode = "payment"
	ModeSubscription CheckoutMode = "subscription"
)

// CheckoutParams describes a hosted checkout session to create.
type CheckoutParams struct {
	AccountID   id.AccountID
	CustomerRef string // provider customer reference, empty for first purchase
	Email       string
	Mode        CheckoutMode
	PlanName    string // subscription mode
	PriceID     string
	Credits     int64 // one-time packs: credits granted on completion
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is the created hosted session the caller redirects to.
type CheckoutSession struct {
	ID  string
	URL string
}

// Provider is the payment provider surface the engine depends on. All
// methods are remote calls; failures map to ErrPaymentProvider at the
// engine boundary and never leave partial local state behind.
type Provider interface {
	Name() string

	// CreateCheckoutSession creates a hosted checkout session.
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error)

	// SwapSubscriptionPrice moves the subscription to a new price with an
	// immediate prorated invoice. Used for upgrades.
	SwapSubscriptionPrice(ctx context.Context, providerRef, priceID string) error

	// MarkPendingPlan records a scheduled downgrade target on the provider
	// subscription so the next renewal invoice can apply it.
	MarkPendingPlan(ctx context.Context, providerRef, planName string) error

	// ClearPendingPlan removes a previously recorded downgrade marker.
	ClearPendingPlan(ctx context.Context, providerRef string) error

	// CancelAtPeriodEnd schedules the subscription for cancellation at the
	// period boundary. The deletion webhook drives the local transition.
	CancelAtPeriodEnd(ctx context.Context, providerRef string) error
}
