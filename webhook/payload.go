package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/xraph/credits/event"
)

// Minimal typed views of the Stripe payloads this system consumes. Decoding
// into local structs instead of the SDK's full types keeps the parse
// explicit about which fields the reconciler actually depends on.

type checkoutSessionPayload struct {
	ID       string            `json:"id"`
	Mode     string            `json:"mode"`
	Customer string            `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}

type subscriptionPayload struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CanceledAt         int64  `json:"canceled_at"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// periodStart prefers the top-level period, falling back to the first
// subscription item for API versions that moved the period there.
func (s *subscriptionPayload) periodStart() time.Time {
	if s.CurrentPeriodStart > 0 {
		return time.Unix(s.CurrentPeriodStart, 0).UTC()
	}
	if len(s.Items.Data) > 0 && s.Items.Data[0].CurrentPeriodStart > 0 {
		return time.Unix(s.Items.Data[0].CurrentPeriodStart, 0).UTC()
	}
	return time.Time{}
}

func (s *subscriptionPayload) periodEnd() time.Time {
	if s.CurrentPeriodEnd > 0 {
		return time.Unix(s.CurrentPeriodEnd, 0).UTC()
	}
	if len(s.Items.Data) > 0 && s.Items.Data[0].CurrentPeriodEnd > 0 {
		return time.Unix(s.Items.Data[0].CurrentPeriodEnd, 0).UTC()
	}
	return time.Time{}
}

func (s *subscriptionPayload) firstPriceID() string {
	if len(s.Items.Data) > 0 {
		return s.Items.Data[0].Price.ID
	}
	return ""
}

type invoicePayload struct {
	ID            string `json:"id"`
	Subscription  string `json:"subscription"`
	BillingReason string `json:"billing_reason"`
	Created       int64  `json:"created"`
	Parent        struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (i *invoicePayload) subscriptionRef() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	return i.Parent.SubscriptionDetails.Subscription
}

func (i *invoicePayload) period() (start, end time.Time) {
	if len(i.Lines.Data) > 0 {
		p := i.Lines.Data[0].Period
		if p.Start > 0 {
			start = time.Unix(p.Start, 0).UTC()
		}
		if p.End > 0 {
			end = time.Unix(p.End, 0).UTC()
		}
	}
	return start, end
}

// Decode maps a verified Stripe event onto the reconciler's event model.
// handled is false for event types this system does not act on.
func Decode(se *stripelib.Event) (*event.Event, bool, error) {
	kind := event.Kind(se.Type)

	switch kind {
	case event.KindCheckoutCompleted:
		var cs checkoutSessionPayload
		if err := json.Unmarshal(se.Data.Raw, &cs); err != nil {
			return nil, false, fmt.Errorf("webhook: decode checkout session: %w", err)
		}
		credits, _ := strconv.ParseInt(cs.Metadata["credits"], 10, 64)
		return &event.Event{
			ID:   se.ID,
			Kind: kind,
			Payload: &event.CheckoutCompleted{
				SessionID: cs.ID,
				Mode:      cs.Mode,
				AccountID: cs.Metadata["account_id"],
				PlanName:  cs.Metadata["plan"],
				Credits:   credits,
			},
		}, true, nil

	case event.KindSubscriptionCreated:
		var sp subscriptionPayload
		if err := json.Unmarshal(se.Data.Raw, &sp); err != nil {
			return nil, false, fmt.Errorf("webhook: decode subscription: %w", err)
		}
		return &event.Event{
			ID:   se.ID,
			Kind: kind,
			Payload: &event.SubscriptionCreated{
				ProviderRef: sp.ID,
				CustomerRef: sp.Customer,
				AccountID:   sp.Metadata["account_id"],
				PlanName:    sp.Metadata["plan"],
				PriceID:     sp.firstPriceID(),
				Status:      sp.Status,
				PeriodStart: sp.periodStart(),
				PeriodEnd:   sp.periodEnd(),
			},
		}, true, nil

	case event.KindSubscriptionUpdated:
		var sp subscriptionPayload
		if err := json.Unmarshal(se.Data.Raw, &sp); err != nil {
			return nil, false, fmt.Errorf("webhook: decode subscription: %w", err)
		}
		return &event.Event{
			ID:   se.ID,
			Kind: kind,
			Payload: &event.SubscriptionUpdated{
				ProviderRef:       sp.ID,
				PlanName:          sp.Metadata["plan"],
				PriceID:           sp.firstPriceID(),
				Status:            sp.Status,
				PeriodStart:       sp.periodStart(),
				PeriodEnd:         sp.periodEnd(),
				CancelAtPeriodEnd: sp.CancelAtPeriodEnd,
				PendingPlan:       sp.Metadata["pending_plan"],
			},
		}, true, nil

	case event.KindSubscriptionDeleted:
		var sp subscriptionPayload
		if err := json.Unmarshal(se.Data.Raw, &sp); err != nil {
			return nil, false, fmt.Errorf("webhook: decode subscription: %w", err)
		}
		var canceledAt time.Time
		if sp.CanceledAt > 0 {
			canceledAt = time.Unix(sp.CanceledAt, 0).UTC()
		}
		return &event.Event{
			ID:   se.ID,
			Kind: kind,
			Payload: &event.SubscriptionDeleted{
				ProviderRef: sp.ID,
				CanceledAt:  canceledAt,
			},
		}, true, nil

	case event.KindInvoicePaymentSucceeded:
		var ip invoicePayload
		if err := json.Unmarshal(se.Data.Raw, &ip); err != nil {
			return nil, false, fmt.Errorf("webhook: decode invoice: %w", err)
		}
		start, end := ip.period()
		return &event.Event{
			ID:   se.ID,
			Kind: kind,
			Payload: &event.InvoicePaymentSucceeded{
				ProviderRef:   ip.subscriptionRef(),
				InvoiceID:     ip.ID,
				BillingReason: ip.BillingReason,
				PeriodStart:   start,
				PeriodEnd:     end,
			},
		}, true, nil

	case event.KindInvoicePaymentFailed:
		var ip invoicePayload
		if err := json.Unmarshal(se.Data.Raw, &ip); err != nil {
			return nil, false, fmt.Errorf("webhook: decode invoice: %w", err)
		}
		var attemptedAt time.Time
		if ip.Created > 0 {
			attemptedAt = time.Unix(ip.Created, 0).UTC()
		}
		return &event.Event{
			ID:   se.ID,
			Kind: kind,
			Payload: &event.InvoicePaymentFailed{
				ProviderRef: ip.subscriptionRef(),
				InvoiceID:   ip.ID,
				AttemptedAt: attemptedAt,
			},
		}, true, nil
	}

	return nil, false, nil
}
