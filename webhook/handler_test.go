package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/xraph/credits/event"
)

const testSecret = "whsec_test_secret"

// stubProcessor records the events it receives and answers with a fixed result.
type stubProcessor struct {
	events []*event.Event
	result event.Result
}

func (s *stubProcessor) ProcessEvent(_ context.Context, evt *event.Event) event.Result {
	s.events = append(s.events, evt)
	res := s.result
	res.EventID = evt.ID
	res.Kind = evt.Kind
	return res
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// signPayload builds a Stripe-Signature header for the payload.
func signPayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripeEventBody(evtID, evtType string, object map[string]any) []byte {
	raw, _ := json.Marshal(object)
	body, _ := json.Marshal(map[string]any{
		"id":   evtID,
		"type": evtType,
		"data": map[string]any{"object": json.RawMessage(raw)},
	})
	return body
}

func postWebhook(t *testing.T, h *Handler, body []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/stripe", strings.NewReader(string(body)))
	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHandlerValidSignature(t *testing.T) {
	proc := &stubProcessor{result: event.Result{Outcome: event.OutcomeApplied}}
	h := NewHandler(testSecret, proc, discardLogger())

	body := stripeEventBody("evt_1", "checkout.session.completed", map[string]any{
		"id":   "cs_1",
		"mode": "payment",
		"metadata": map[string]string{
			"account_id": "acct_01h455vb4pex5vsknk084sn02q",
			"credits":    "40",
		},
	})

	rec := postWebhook(t, h, body, signPayload(body, testSecret, time.Now()))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	if len(proc.events) != 1 {
		t.Fatalf("processed events: got %d, want 1", len(proc.events))
	}

	evt := proc.events[0]
	if evt.ID != "evt_1" || evt.Kind != event.KindCheckoutCompleted {
		t.Errorf("event: id=%s kind=%s", evt.ID, evt.Kind)
	}
	p, ok := evt.Payload.(*event.CheckoutCompleted)
	if !ok {
		t.Fatalf("payload type: %T", evt.Payload)
	}
	if p.SessionID != "cs_1" || p.Mode != "payment" || p.Credits != 40 {
		t.Errorf("payload: %+v", p)
	}
}

func TestHandlerBadSignature(t *testing.T) {
	proc := &stubProcessor{result: event.Result{Outcome: event.OutcomeApplied}}
	h := NewHandler(testSecret, proc, discardLogger())

	body := stripeEventBody("evt_1", "checkout.session.completed", map[string]any{"id": "cs_1"})

	// Signed with the wrong secret.
	rec := postWebhook(t, h, body, signPayload(body, "whsec_wrong", time.Now()))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("wrong secret: got %d, want 400", rec.Code)
	}

	// Stale timestamp outside the tolerance window.
	rec = postWebhook(t, h, body, signPayload(body, testSecret, time.Now().Add(-time.Hour)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("stale timestamp: got %d, want 400", rec.Code)
	}

	// Tampered body after signing.
	sig := signPayload(body, testSecret, time.Now())
	rec = postWebhook(t, h, append(body, ' '), sig)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("tampered body: got %d, want 400", rec.Code)
	}

	// Rejected deliveries never reach the processor.
	if len(proc.events) != 0 {
		t.Errorf("processed events: got %d, want 0", len(proc.events))
	}
}

func TestHandlerMissingSignature(t *testing.T) {
	proc := &stubProcessor{}
	h := NewHandler(testSecret, proc, discardLogger())

	rec := postWebhook(t, h, []byte(`{}`), "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
	if len(proc.events) != 0 {
		t.Errorf("processed events: got %d, want 0", len(proc.events))
	}
}

func TestHandlerNoSecretConfigured(t *testing.T) {
	proc := &stubProcessor{}
	h := NewHandler("", proc, discardLogger())

	body := []byte(`{}`)
	rec := postWebhook(t, h, body, signPayload(body, testSecret, time.Now()))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", rec.Code)
	}
}

func TestHandlerUnhandledEventType(t *testing.T) {
	proc := &stubProcessor{}
	h := NewHandler(testSecret, proc, discardLogger())

	body := stripeEventBody("evt_1", "customer.created", map[string]any{"id": "cus_1"})
	rec := postWebhook(t, h, body, signPayload(body, testSecret, time.Now()))
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
	if len(proc.events) != 0 {
		t.Errorf("processed events: got %d, want 0", len(proc.events))
	}
}

func TestHandlerFailedOutcome(t *testing.T) {
	proc := &stubProcessor{result: event.Result{Outcome: event.OutcomeFailed, Err: fmt.Errorf("store down")}}
	h := NewHandler(testSecret, proc, discardLogger())

	body := stripeEventBody("evt_1", "checkout.session.completed", map[string]any{
		"id":       "cs_1",
		"mode":     "payment",
		"metadata": map[string]string{"credits": "40"},
	})
	rec := postWebhook(t, h, body, signPayload(body, testSecret, time.Now()))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500 so the provider redelivers", rec.Code)
	}
}

func TestDecodeSubscriptionPeriods(t *testing.T) {
	// Newer API versions carry the billing period on the subscription items.
	raw := []byte(`{
		"id": "sub_1",
		"customer": "cus_1",
		"status": "active",
		"items": {"data": [{
			"current_period_start": 1767225600,
			"current_period_end": 1769904000,
			"price": {"id": "price_pro"}
		}]},
		"metadata": {"plan": "pro"}
	}`)
	se := &stripelib.Event{
		ID:   "evt_1",
		Type: "customer.subscription.created",
		Data: &stripelib.EventData{Raw: raw},
	}

	evt, handled, err := Decode(se)
	if err != nil {
		t.Fatal(err)
	}
	if !handled {
		t.Fatal("event should be handled")
	}
	p, ok := evt.Payload.(*event.SubscriptionCreated)
	if !ok {
		t.Fatalf("payload type: %T", evt.Payload)
	}
	if p.ProviderRef != "sub_1" || p.PriceID != "price_pro" || p.PlanName != "pro" {
		t.Errorf("payload: %+v", p)
	}
	if p.PeriodStart.IsZero() || p.PeriodEnd.IsZero() {
		t.Error("periods should fall back to the subscription item")
	}
	if !p.PeriodStart.Equal(time.Unix(1767225600, 0).UTC()) {
		t.Errorf("period start: got %v", p.PeriodStart)
	}
}

func TestDecodeInvoiceSubscriptionRef(t *testing.T) {
	// Newer API versions move the subscription reference under parent.
	raw := []byte(`{
		"id": "in_1",
		"billing_reason": "subscription_cycle",
		"parent": {"subscription_details": {"subscription": "sub_1"}},
		"lines": {"data": [{"period": {"start": 1767225600, "end": 1769904000}}]}
	}`)
	se := &stripelib.Event{
		ID:   "evt_1",
		Type: "invoice.payment_succeeded",
		Data: &stripelib.EventData{Raw: raw},
	}

	evt, handled, err := Decode(se)
	if err != nil {
		t.Fatal(err)
	}
	if !handled {
		t.Fatal("event should be handled")
	}
	p, ok := evt.Payload.(*event.InvoicePaymentSucceeded)
	if !ok {
		t.Fatalf("payload type: %T", evt.Payload)
	}
	if p.ProviderRef != "sub_1" || p.InvoiceID != "in_1" {
		t.Errorf("payload: %+v", p)
	}
	if p.PeriodStart.IsZero() || p.PeriodEnd.IsZero() {
		t.Error("period should come from the first invoice line")
	}
}
