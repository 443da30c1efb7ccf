// Package event defines the provider-agnostic webhook event model.
//
// The HTTP boundary verifies signatures and decodes provider payloads into
// these types; the engine's reconciler consumes them. Each event kind has
// its own payload variant so the reconciler's switch is exhaustive and the
// compiler catches unhandled kinds.
package event

import "time"

// Kind identifies the provider event type.
type Kind string

const (
	KindCheckoutCompleted       Kind = "checkout.session.completed"
	KindSubscriptionCreated     Kind = "customer.subscription.created"
	KindSubscriptionUpdated     Kind = "customer.subscription.updated"
	KindSubscriptionDeleted     Kind = "customer.subscription.deleted"
	KindInvoicePaymentSucceeded Kind = "invoice.payment_succeeded"
	KindInvoicePaymentFailed    Kind = "invoice.payment_failed"
)

// Event is one verified provider notification. ID is the provider's event
// id and is the first line of duplicate suppression.
type Event struct {
	ID      string
	Kind    Kind
	Payload Payload
}

// Payload is the kind-specific body of an event. It is a sealed interface:
// exactly one variant per Kind.
type Payload interface {
	isPayload()
}

// CheckoutCompleted is a finished checkout session. Mode distinguishes
// one-time credit pack purchases from subscription checkouts.
type CheckoutCompleted struct {
	SessionID string
	Mode      string // "payment" or "subscription"
	AccountID string
	PlanName  string
	Credits   int64
}

// SubscriptionCreated is the provider's confirmation of a new subscription.
type SubscriptionCreated struct {
	ProviderRef string
	CustomerRef string
	AccountID   string
	PlanName    string
	PriceID     string
	Status      string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// SubscriptionUpdated carries status and period changes.
type SubscriptionUpdated struct {
	ProviderRef       string
	PlanName          string
	PriceID           string
	Status            string
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	PendingPlan       string
}

// SubscriptionDeleted marks the subscription's end at the provider.
type SubscriptionDeleted struct {
	ProviderRef string
	CanceledAt  time.Time
}

// InvoicePaymentSucceeded is a paid invoice. BillingReason tells renewal
// apart from the initial subscription invoice.
type InvoicePaymentSucceeded struct {
	ProviderRef   string
	InvoiceID     string
	BillingReason string // "subscription_create", "subscription_cycle", ...
	PeriodStart   time.Time
	PeriodEnd     time.Time
}

// InvoicePaymentFailed is a failed payment attempt. Observed and logged;
// state transitions wait for the provider's follow-up events.
type InvoicePaymentFailed struct {
	ProviderRef string
	InvoiceID   string
	AttemptedAt time.Time
}

func (CheckoutCompleted) isPayload()       {}
func (SubscriptionCreated) isPayload()     {}
func (SubscriptionUpdated) isPayload()     {}
func (SubscriptionDeleted) isPayload()     {}
func (InvoicePaymentSucceeded) isPayload() {}
func (InvoicePaymentFailed) isPayload()    {}
