// Package stripe implements the payment provider interface on Stripe.
package stripe

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	stripesub "github.com/stripe/stripe-go/v82/subscription"

	"github.com/xraph/credits/provider"
)

// PendingPlanMetadataKey is the subscription metadata key carrying a
// scheduled downgrade target. The renewal webhook reads it back.
const PendingPlanMetadataKey = "pending_plan"

// Provider calls the Stripe API. It sets the package-level API key once at
// construction; stripe-go clients are safe for concurrent use.
type Provider struct {
	webhookSecret string
}

var _ provider.Provider = (*Provider)(nil)

// New configures Stripe with the given secret key and returns the provider.
func New(apiKey, webhookSecret string) *Provider {
	stripelib.Key = strings.TrimSpace(apiKey)
	return &Provider{webhookSecret: webhookSecret}
}

func (p *Provider) Name() string { return "stripe" }

// WebhookSecret returns the endpoint signing secret for signature
// verification at the HTTP boundary.
func (p *Provider) WebhookSecret() string { return p.webhookSecret }

func (p *Provider) CreateCheckoutSession(ctx context.Context, cp provider.CheckoutParams) (*provider.CheckoutSession, error) {
	params := &stripelib.CheckoutSessionParams{
		Mode:       stripelib.String(string(cp.Mode)),
		SuccessURL: stripelib.String(cp.SuccessURL),
		CancelURL:  stripelib.String(cp.CancelURL),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(cp.PriceID),
				Quantity: stripelib.Int64(1),
			},
		},
		Metadata: map[string]string{
			"account_id": cp.AccountID.String(),
		},
	}
	params.Context = ctx

	if cp.CustomerRef != "" {
		params.Customer = stripelib.String(cp.CustomerRef)
	} else if cp.Email != "" {
		params.CustomerEmail = stripelib.String(cp.Email)
	}

	switch cp.Mode {
	case provider.ModeSubscription:
		params.Metadata["plan"] = cp.PlanName
	case provider.ModePayment:
		params.Metadata["credits"] = strconv.FormatInt(cp.Credits, 10)
	}

	session, err := stripesession.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	if session.URL == "" {
		return nil, fmt.Errorf("stripe: checkout session %s has no URL", session.ID)
	}

	return &provider.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (p *Provider) SwapSubscriptionPrice(ctx context.Context, providerRef, priceID string) error {
	current, err := stripesub.Get(providerRef, &stripelib.SubscriptionParams{
		Params: stripelib.Params{Context: ctx},
	})
	if err != nil {
		return fmt.Errorf("stripe: get subscription %s: %w", providerRef, err)
	}
	if len(current.Items.Data) == 0 {
		return fmt.Errorf("stripe: subscription %s has no items", providerRef)
	}

	params := &stripelib.SubscriptionParams{
		Params: stripelib.Params{Context: ctx},
		Items: []*stripelib.SubscriptionItemsParams{
			{
				ID:    stripelib.String(current.Items.Data[0].ID),
				Price: stripelib.String(priceID),
			},
		},
		ProrationBehavior: stripelib.String("always_invoice"),
	}

	if _, err := stripesub.Update(providerRef, params); err != nil {
		return fmt.Errorf("stripe: swap price on %s: %w", providerRef, err)
	}
	return nil
}

func (p *Provider) MarkPendingPlan(ctx context.Context, providerRef, planName string) error {
	params := &stripelib.SubscriptionParams{
		Params: stripelib.Params{Context: ctx},
	}
	params.AddMetadata(PendingPlanMetadataKey, planName)

	if _, err := stripesub.Update(providerRef, params); err != nil {
		return fmt.Errorf("stripe: mark pending plan on %s: %w", providerRef, err)
	}
	return nil
}

func (p *Provider) ClearPendingPlan(ctx context.Context, providerRef string) error {
	params := &stripelib.SubscriptionParams{
		Params: stripelib.Params{Context: ctx},
	}
	// Stripe removes a metadata key when its value is set to empty.
	params.AddMetadata(PendingPlanMetadataKey, "")

	if _, err := stripesub.Update(providerRef, params); err != nil {
		return fmt.Errorf("stripe: clear pending plan on %s: %w", providerRef, err)
	}
	return nil
}

func (p *Provider) CancelAtPeriodEnd(ctx context.Context, providerRef string) error {
	params := &stripelib.SubscriptionParams{
		Params:            stripelib.Params{Context: ctx},
		CancelAtPeriodEnd: stripelib.Bool(true),
	}

	if _, err := stripesub.Update(providerRef, params); err != nil {
		return fmt.Errorf("stripe: cancel at period end %s: %w", providerRef, err)
	}
	return nil
}
