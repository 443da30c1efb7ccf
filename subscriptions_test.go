package credits_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/credits"
	"github.com/xraph/credits/event"
	"github.com/xraph/credits/provider"
	"github.com/xraph/credits/subscription"
)

// fakeProvider records provider calls and can be told to fail them.
type fakeProvider struct {
	failCheckout bool
	failSwap     bool
	failMark     bool
	failClear    bool
	failCancel   bool

	sessions []provider.CheckoutParams
	swapped  []string
	pending  map[string]string
	cleared  []string
	canceled []string
}

var errProviderDown = errors.New("provider unavailable")

func newFakeProvider() *fakeProvider {
	return &fakeProvider{pending: make(map[string]string)}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, p provider.CheckoutParams) (*provider.CheckoutSession, error) {
	if f.failCheckout {
		return nil, errProviderDown
	}
	f.sessions = append(f.sessions, p)
	return &provider.CheckoutSession{ID: "cs_fake_1", URL: "https://checkout.example.com/cs_fake_1"}, nil
}

func (f *fakeProvider) SwapSubscriptionPrice(_ context.Context, providerRef, _ string) error {
	if f.failSwap {
		return errProviderDown
	}
	f.swapped = append(f.swapped, providerRef)
	return nil
}

func (f *fakeProvider) MarkPendingPlan(_ context.Context, providerRef, planName string) error {
	if f.failMark {
		return errProviderDown
	}
	f.pending[providerRef] = planName
	return nil
}

func (f *fakeProvider) ClearPendingPlan(_ context.Context, providerRef string) error {
	if f.failClear {
		return errProviderDown
	}
	delete(f.pending, providerRef)
	f.cleared = append(f.cleared, providerRef)
	return nil
}

func (f *fakeProvider) CancelAtPeriodEnd(_ context.Context, providerRef string) error {
	if f.failCancel {
		return errProviderDown
	}
	f.canceled = append(f.canceled, providerRef)
	return nil
}

func TestStartSubscription(t *testing.T) {
	fake := newFakeProvider()
	e, st := newTestEngine(t, credits.WithProvider(fake))
	a := newTestAccount(t, e)
	ctx := context.Background()

	session, err := e.StartSubscription(ctx, a.ID, "pro", credits.CheckoutURLs{
		Success: "https://app.example.com/done",
		Cancel:  "https://app.example.com/pricing",
	})
	if err != nil {
		t.Fatal(err)
	}
	if session.URL == "" {
		t.Error("session should carry a redirect URL")
	}
	if len(fake.sessions) != 1 || fake.sessions[0].Mode != provider.ModeSubscription {
		t.Fatalf("provider sessions: %+v, want one subscription-mode session", fake.sessions)
	}

	// The local record waits in incomplete until the webhook confirms payment.
	sub, err := st.GetSubscription(ctx, a.ID, "pro")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusIncomplete {
		t.Errorf("status: got %s, want incomplete", sub.Status)
	}
	if sub.Metadata["checkout_session"] != session.ID {
		t.Errorf("metadata: got %q, want %q", sub.Metadata["checkout_session"], session.ID)
	}

	if _, err := e.StartSubscription(ctx, a.ID, "platinum", credits.CheckoutURLs{}); !errors.Is(err, credits.ErrInvalidPlan) {
		t.Errorf("unknown plan: got %v, want ErrInvalidPlan", err)
	}
}

func TestStartPackPurchase(t *testing.T) {
	fake := newFakeProvider()
	e, _ := newTestEngine(t, credits.WithProvider(fake))
	a := newTestAccount(t, e)
	ctx := context.Background()

	session, err := e.StartPackPurchase(ctx, a.ID, 40, "price_pack_40", credits.CheckoutURLs{})
	if err != nil {
		t.Fatal(err)
	}
	if session.ID == "" {
		t.Error("session should carry an id")
	}
	if len(fake.sessions) != 1 || fake.sessions[0].Mode != provider.ModePayment || fake.sessions[0].Credits != 40 {
		t.Fatalf("provider sessions: %+v, want one payment-mode session for 40 credits", fake.sessions)
	}

	if _, err := e.StartPackPurchase(ctx, a.ID, 0, "price_pack_0", credits.CheckoutURLs{}); !errors.Is(err, credits.ErrInvalidAmount) {
		t.Errorf("zero credits: got %v, want ErrInvalidAmount", err)
	}

	// No ledger movement until the webhook lands.
	balance, _ := e.Balance(ctx, a.ID)
	if balance != 3 {
		t.Errorf("balance: got %d, want 3", balance)
	}
}

func TestChangePlanUpgrade(t *testing.T) {
	fake := newFakeProvider()
	e, _ := newTestEngine(t, credits.WithProvider(fake))
	a := newTestAccount(t, e)
	ctx := context.Background()

	e.ProcessEvent(ctx, subscriptionCreatedEvent("evt_1", "sub_1", a.ID.String(), "pro"))

	res, err := e.ChangePlan(ctx, a.ID, "studio")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Upgraded || res.GrantedCredits != 70 {
		t.Errorf("result: %+v, want upgraded with 70 granted", res)
	}
	if res.BalanceAfter != 123 {
		t.Errorf("balance after: got %d, want 3+50+70=123", res.BalanceAfter)
	}
	if len(fake.swapped) != 1 || fake.swapped[0] != "sub_1" {
		t.Errorf("provider swaps: %v, want [sub_1]", fake.swapped)
	}

	sub, err := e.ActiveSubscription(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.PlanName != "studio" || sub.Status != subscription.StatusActive {
		t.Errorf("subscription: plan=%s status=%s, want studio/active", sub.PlanName, sub.Status)
	}

	// The proration invoice trails the swap; it must not grant again.
	trailing := e.ProcessEvent(ctx, invoiceEvent("evt_2", "sub_1", period1Start, period1End))
	if trailing.Outcome == event.OutcomeApplied {
		t.Errorf("trailing invoice: got %s, want suppressed", trailing.Outcome)
	}
	balance, _ := e.Balance(ctx, a.ID)
	if balance != 123 {
		t.Errorf("balance after trailing invoice: got %d, want 123", balance)
	}
	assertConsistent(t, e, a.ID)
}

func TestChangePlanUpgradeAfterDowngradeRollover(t *testing.T) {
	fake := newFakeProvider()
	e, st := newTestEngine(t, credits.WithProvider(fake))
	a := newTestAccount(t, e)
	ctx := context.Background()

	// pro, scheduled downgrade to entry, applied at the period boundary.
	e.ProcessEvent(ctx, subscriptionCreatedEvent("evt_1", "sub_1", a.ID.String(), "pro"))
	if _, err := e.ChangePlan(ctx, a.ID, "entry"); err != nil {
		t.Fatal(err)
	}
	e.ProcessEvent(ctx, invoiceEvent("evt_2", "sub_1", period2Start, period2End))

	sub, err := e.ActiveSubscription(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.PlanName != "entry" {
		t.Fatalf("plan before upgrade: got %s, want entry", sub.PlanName)
	}

	// Upgrading back to a plan the account left earlier re-enters its
	// record and grants the tier difference.
	res, err := e.ChangePlan(ctx, a.ID, "pro")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Upgraded || res.GrantedCredits != 35 {
		t.Errorf("result: %+v, want upgraded with 50-15=35 granted", res)
	}
	if res.BalanceAfter != 103 {
		t.Errorf("balance after: got %d, want 3+50+15+35=103", res.BalanceAfter)
	}

	sub, err = e.ActiveSubscription(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.PlanName != "pro" || sub.Status != subscription.StatusActive || sub.ProviderRef != "sub_1" {
		t.Errorf("subscription: plan=%s status=%s ref=%s, want pro/active/sub_1",
			sub.PlanName, sub.Status, sub.ProviderRef)
	}
	demoted, err := st.GetSubscription(ctx, a.ID, "entry")
	if err != nil {
		t.Fatal(err)
	}
	if demoted.Status != subscription.StatusCanceled || demoted.ProviderRef != "" {
		t.Errorf("demoted record: status=%s ref=%q, want canceled with no ref",
			demoted.Status, demoted.ProviderRef)
	}
	assertConsistent(t, e, a.ID)
}

func TestChangePlanUpgradeProviderFailure(t *testing.T) {
	fake := newFakeProvider()
	fake.failSwap = true
	e, _ := newTestEngine(t, credits.WithProvider(fake))
	a := newTestAccount(t, e)
	ctx := context.Background()

	e.ProcessEvent(ctx, subscriptionCreatedEvent("evt_1", "sub_1", a.ID.String(), "pro"))

	_, err := e.ChangePlan(ctx, a.ID, "studio")
	if !errors.Is(err, credits.ErrPaymentProvider) {
		t.Fatalf("got %v, want ErrPaymentProvider", err)
	}

	// Provider failure leaves local state untouched.
	sub, err := e.ActiveSubscription(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.PlanName != "pro" || sub.Status != subscription.StatusActive {
		t.Errorf("subscription: plan=%s status=%s, want pro/active", sub.PlanName, sub.Status)
	}
	balance, _ := e.Balance(ctx, a.ID)
	if balance != 53 {
		t.Errorf("balance: got %d, want 53", balance)
	}
}

func TestChangePlanDowngrade(t *testing.T) {
	fake := newFakeProvider()
	e, _ := newTestEngine(t, credits.WithProvider(fake))
	a := newTestAccount(t, e)
	ctx := context.Background()

	e.ProcessEvent(ctx, subscriptionCreatedEvent("evt_1", "sub_1", a.ID.String(), "studio"))

	res, err := e.ChangePlan(ctx, a.ID, "entry")
	if err != nil {
		t.Fatal(err)
	}
	if res.Upgraded || res.PendingPlan != "entry" || res.GrantedCredits != 0 {
		t.Errorf("result: %+v, want scheduled downgrade to entry with no grant", res)
	}
	if fake.pending["sub_1"] != "entry" {
		t.Errorf("provider pending: %v, want sub_1->entry", fake.pending)
	}

	sub, err := e.ActiveSubscription(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusPendingDowngrade || sub.PendingPlan != "entry" {
		t.Errorf("subscription: status=%s pending=%s, want pending_downgrade/entry", sub.Status, sub.PendingPlan)
	}
	// Still on the current plan until the boundary.
	if sub.PlanName != "studio" {
		t.Errorf("plan: got %s, want studio", sub.PlanName)
	}

	// Downgrades move no credits.
	balance, _ := e.Balance(ctx, a.ID)
	if balance != 123 {
		t.Errorf("balance: got %d, want 3+120=123", balance)
	}
	assertConsistent(t, e, a.ID)
}

func TestChangePlanValidation(t *testing.T) {
	fake := newFakeProvider()
	e, _ := newTestEngine(t, credits.WithProvider(fake))
	a := newTestAccount(t, e)
	ctx := context.Background()

	if _, err := e.ChangePlan(ctx, a.ID, "pro"); !errors.Is(err, credits.ErrNoActiveSubscription) {
		t.Errorf("no subscription: got %v, want ErrNoActiveSubscription", err)
	}

	e.ProcessEvent(ctx, subscriptionCreatedEvent("evt_1", "sub_1", a.ID.String(), "pro"))

	if _, err := e.ChangePlan(ctx, a.ID, "pro"); !errors.Is(err, credits.ErrSamePlan) {
		t.Errorf("same plan: got %v, want ErrSamePlan", err)
	}
	if _, err := e.ChangePlan(ctx, a.ID, "platinum"); !errors.Is(err, credits.ErrInvalidPlan) {
		t.Errorf("unknown plan: got %v, want ErrInvalidPlan", err)
	}
}

func TestCancelScheduledDowngrade(t *testing.T) {
	fake := newFakeProvider()
	e, _ := newTestEngine(t, credits.WithProvider(fake))
	a := newTestAccount(t, e)
	ctx := context.Background()

	e.ProcessEvent(ctx, subscriptionCreatedEvent("evt_1", "sub_1", a.ID.String(), "studio"))
	if _, err := e.ChangePlan(ctx, a.ID, "entry"); err != nil {
		t.Fatal(err)
	}

	before, _ := e.Balance(ctx, a.ID)

	if err := e.CancelScheduledDowngrade(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if len(fake.cleared) != 1 || fake.cleared[0] != "sub_1" {
		t.Errorf("provider clears: %v, want [sub_1]", fake.cleared)
	}

	sub, err := e.ActiveSubscription(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusActive || sub.PendingPlan != "" {
		t.Errorf("subscription: status=%s pending=%q, want active/empty", sub.Status, sub.PendingPlan)
	}

	// Reverting a downgrade touches no credits.
	after, _ := e.Balance(ctx, a.ID)
	if after != before {
		t.Errorf("balance changed: %d -> %d", before, after)
	}

	// Nothing left to cancel.
	if err := e.CancelScheduledDowngrade(ctx, a.ID); !errors.Is(err, credits.ErrNoPendingDowngrade) {
		t.Errorf("second cancel: got %v, want ErrNoPendingDowngrade", err)
	}
}

func TestCancelScheduledDowngradeProviderFailure(t *testing.T) {
	fake := newFakeProvider()
	e, _ := newTestEngine(t, credits.WithProvider(fake))
	a := newTestAccount(t, e)
	ctx := context.Background()

	e.ProcessEvent(ctx, subscriptionCreatedEvent("evt_1", "sub_1", a.ID.String(), "studio"))
	if _, err := e.ChangePlan(ctx, a.ID, "entry"); err != nil {
		t.Fatal(err)
	}

	fake.failClear = true
	if err := e.CancelScheduledDowngrade(ctx, a.ID); !errors.Is(err, credits.ErrPaymentProvider) {
		t.Fatalf("got %v, want ErrPaymentProvider", err)
	}

	// The downgrade stays scheduled when the provider call fails.
	sub, err := e.ActiveSubscription(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusPendingDowngrade || sub.PendingPlan != "entry" {
		t.Errorf("subscription: status=%s pending=%s, want pending_downgrade/entry", sub.Status, sub.PendingPlan)
	}
}

func TestCancelPlan(t *testing.T) {
	fake := newFakeProvider()
	e, _ := newTestEngine(t, credits.WithProvider(fake))
	a := newTestAccount(t, e)
	ctx := context.Background()

	e.ProcessEvent(ctx, subscriptionCreatedEvent("evt_1", "sub_1", a.ID.String(), "pro"))

	if err := e.CancelPlan(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if len(fake.canceled) != 1 || fake.canceled[0] != "sub_1" {
		t.Errorf("provider cancels: %v, want [sub_1]", fake.canceled)
	}

	// Local state follows the provider's deletion webhook, not the request.
	sub, err := e.ActiveSubscription(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusActive {
		t.Errorf("status: got %s, want active until the webhook", sub.Status)
	}

	e.ProcessEvent(ctx, &event.Event{
		ID:      "evt_2",
		Kind:    event.KindSubscriptionDeleted,
		Payload: &event.SubscriptionDeleted{ProviderRef: "sub_1", CanceledAt: period1End},
	})
	if _, err := e.ActiveSubscription(ctx, a.ID); err == nil {
		t.Error("deletion webhook should end the subscription")
	}
}

func TestProviderNotConfigured(t *testing.T) {
	e, _ := newTestEngine(t)
	a := newTestAccount(t, e)
	ctx := context.Background()

	if _, err := e.StartSubscription(ctx, a.ID, "pro", credits.CheckoutURLs{}); !errors.Is(err, credits.ErrProviderNotConfigured) {
		t.Errorf("StartSubscription: got %v, want ErrProviderNotConfigured", err)
	}
	if _, err := e.StartPackPurchase(ctx, a.ID, 40, "price_pack_40", credits.CheckoutURLs{}); !errors.Is(err, credits.ErrProviderNotConfigured) {
		t.Errorf("StartPackPurchase: got %v, want ErrProviderNotConfigured", err)
	}
	if _, err := e.ChangePlan(ctx, a.ID, "pro"); !errors.Is(err, credits.ErrProviderNotConfigured) {
		t.Errorf("ChangePlan: got %v, want ErrProviderNotConfigured", err)
	}
	if err := e.CancelPlan(ctx, a.ID); !errors.Is(err, credits.ErrProviderNotConfigured) {
		t.Errorf("CancelPlan: got %v, want ErrProviderNotConfigured", err)
	}
}
