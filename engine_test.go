package credits_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/artifact"
	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/store/memory"
)

func newTestEngine(t *testing.T, opts ...credits.Option) (*credits.Engine, *memory.Store) {
	t.Helper()

	st := memory.New()
	base := []credits.Option{
		credits.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	e := credits.New(st, append(base, opts...)...)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })

	return e, st
}

func newTestAccount(t *testing.T, e *credits.Engine) *account.Account {
	t.Helper()

	a := &account.Account{Email: "owner@example.com"}
	if err := e.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return a
}

// assertConsistent checks that the cached balance matches the entry sum.
func assertConsistent(t *testing.T, e *credits.Engine, accountID id.AccountID) {
	t.Helper()

	report, err := e.Reconcile(context.Background(), accountID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Drift != 0 {
		t.Fatalf("balance drifted from ledger sum: cached=%d actual=%d", report.Cached, report.Actual)
	}
}

func TestCreateAccountSignupBonus(t *testing.T) {
	e, _ := newTestEngine(t)
	a := newTestAccount(t, e)
	ctx := context.Background()

	if a.CreditBalance != 3 {
		t.Errorf("signup balance: got %d, want 3", a.CreditBalance)
	}

	entries, err := e.History(ctx, a.ID, entry.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(entries))
	}
	if entries[0].Reason != entry.ReasonTrial {
		t.Errorf("reason: got %s, want %s", entries[0].Reason, entry.ReasonTrial)
	}
	if entries[0].Delta != 3 {
		t.Errorf("delta: got %d, want 3", entries[0].Delta)
	}
	assertConsistent(t, e, a.ID)
}

func TestCreateAccountNoBonus(t *testing.T) {
	e, _ := newTestEngine(t, credits.WithSignupBonus(0))
	a := newTestAccount(t, e)

	if a.CreditBalance != 0 {
		t.Errorf("balance: got %d, want 0", a.CreditBalance)
	}

	entries, err := e.History(context.Background(), a.ID, entry.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("entries: got %d, want 0", len(entries))
	}
}

func TestAdminGrant(t *testing.T) {
	e, _ := newTestEngine(t)
	a := newTestAccount(t, e)
	ctx := context.Background()

	res, err := e.AdminGrant(ctx, a.ID, 10, "support-ticket-42", map[string]string{"ticket": "42"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Applied || res.BalanceAfter != 13 {
		t.Errorf("grant: applied=%v balance=%d, want applied=true balance=13", res.Applied, res.BalanceAfter)
	}

	// Retrying the same key settles without a second grant.
	res, err = e.AdminGrant(ctx, a.ID, 10, "support-ticket-42", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied || res.BalanceAfter != 13 {
		t.Errorf("retry: applied=%v balance=%d, want applied=false balance=13", res.Applied, res.BalanceAfter)
	}

	if _, err := e.AdminGrant(ctx, a.ID, 0, "zero", nil); !errors.Is(err, credits.ErrInvalidAmount) {
		t.Errorf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := e.AdminGrant(ctx, a.ID, -5, "neg", nil); !errors.Is(err, credits.ErrInvalidAmount) {
		t.Errorf("negative amount: got %v, want ErrInvalidAmount", err)
	}
	assertConsistent(t, e, a.ID)
}

func TestChargeDownloadOnce(t *testing.T) {
	e, _ := newTestEngine(t)
	a := newTestAccount(t, e)
	ctx := context.Background()

	art := &artifact.Artifact{AccountID: a.ID, Kind: "staged_image"}
	if err := e.CreateArtifact(ctx, art); err != nil {
		t.Fatal(err)
	}

	res, err := e.ChargeDownload(ctx, a.ID, art.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Charged || res.BalanceAfter != 2 {
		t.Errorf("first download: charged=%v balance=%d, want charged=true balance=2", res.Charged, res.BalanceAfter)
	}

	// Repeat downloads of a settled artifact are free.
	res, err = e.ChargeDownload(ctx, a.ID, art.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Charged || res.BalanceAfter != 2 {
		t.Errorf("repeat download: charged=%v balance=%d, want charged=false balance=2", res.Charged, res.BalanceAfter)
	}

	got, err := e.GetArtifact(ctx, art.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Downloaded || got.DownloadedAt == nil {
		t.Error("artifact should be marked downloaded with a timestamp")
	}

	entries, err := e.History(ctx, a.ID, entry.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	var debits int
	for _, en := range entries {
		if en.Reason == entry.ReasonDownload {
			debits++
		}
	}
	if debits != 1 {
		t.Errorf("download debits: got %d, want 1", debits)
	}
	assertConsistent(t, e, a.ID)
}

func TestChargeDownloadExactBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("BalanceEqualsCost", func(t *testing.T) {
		e, _ := newTestEngine(t, credits.WithSignupBonus(1))
		a := newTestAccount(t, e)

		art := &artifact.Artifact{AccountID: a.ID}
		if err := e.CreateArtifact(ctx, art); err != nil {
			t.Fatal(err)
		}

		res, err := e.ChargeDownload(ctx, a.ID, art.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Charged || res.BalanceAfter != 0 {
			t.Errorf("got charged=%v balance=%d, want charged=true balance=0", res.Charged, res.BalanceAfter)
		}
	})

	t.Run("BalanceOneShort", func(t *testing.T) {
		e, _ := newTestEngine(t, credits.WithSignupBonus(0))
		a := newTestAccount(t, e)

		art := &artifact.Artifact{AccountID: a.ID}
		if err := e.CreateArtifact(ctx, art); err != nil {
			t.Fatal(err)
		}

		_, err := e.ChargeDownload(ctx, a.ID, art.ID)
		if !credits.IsInsufficient(err) {
			t.Fatalf("got %v, want ErrInsufficientCredits", err)
		}

		// A failed charge leaves the artifact chargeable.
		got, err := e.GetArtifact(ctx, art.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Downloaded {
			t.Error("failed charge must not mark the artifact downloaded")
		}
		assertConsistent(t, e, a.ID)
	})
}

func TestChargeDownloadWrongOwner(t *testing.T) {
	e, _ := newTestEngine(t)
	owner := newTestAccount(t, e)
	other := newTestAccount(t, e)
	ctx := context.Background()

	art := &artifact.Artifact{AccountID: owner.ID}
	if err := e.CreateArtifact(ctx, art); err != nil {
		t.Fatal(err)
	}

	if _, err := e.ChargeDownload(ctx, other.ID, art.ID); !errors.Is(err, credits.ErrNotOwner) {
		t.Errorf("got %v, want ErrNotOwner", err)
	}
}

func TestChargeDownloadConcurrent(t *testing.T) {
	e, _ := newTestEngine(t)
	a := newTestAccount(t, e)
	ctx := context.Background()

	art := &artifact.Artifact{AccountID: a.ID}
	if err := e.CreateArtifact(ctx, art); err != nil {
		t.Fatal(err)
	}

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		charged int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.ChargeDownload(ctx, a.ID, art.ID)
			if err != nil {
				t.Errorf("concurrent charge: %v", err)
				return
			}
			if res.Charged {
				mu.Lock()
				charged++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if charged != 1 {
		t.Errorf("charged %d times, want exactly 1", charged)
	}
	balance, err := e.Balance(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if balance != 2 {
		t.Errorf("balance: got %d, want 2", balance)
	}
	assertConsistent(t, e, a.ID)
}

func TestChargeRefinement(t *testing.T) {
	e, _ := newTestEngine(t)
	a := newTestAccount(t, e)
	ctx := context.Background()
	wf := id.NewWorkflowID()

	res, err := e.ChargeRefinement(ctx, a.ID, wf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Applied || res.BalanceAfter != 2 {
		t.Errorf("round 0: applied=%v balance=%d, want applied=true balance=2", res.Applied, res.BalanceAfter)
	}

	// Retry of the same round settles without a second debit.
	res, err = e.ChargeRefinement(ctx, a.ID, wf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied || res.BalanceAfter != 2 {
		t.Errorf("round 0 retry: applied=%v balance=%d, want applied=false balance=2", res.Applied, res.BalanceAfter)
	}

	// The next round is a fresh charge.
	res, err = e.ChargeRefinement(ctx, a.ID, wf, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Applied || res.BalanceAfter != 1 {
		t.Errorf("round 1: applied=%v balance=%d, want applied=true balance=1", res.Applied, res.BalanceAfter)
	}

	if _, err := e.ChargeRefinement(ctx, a.ID, wf, -1); !errors.Is(err, credits.ErrInvalidInput) {
		t.Errorf("negative round: got %v, want ErrInvalidInput", err)
	}
	assertConsistent(t, e, a.ID)
}

func TestTransfer(t *testing.T) {
	e, _ := newTestEngine(t)
	from := newTestAccount(t, e)
	to := newTestAccount(t, e)
	ctx := context.Background()

	res, err := e.Transfer(ctx, from.ID, to.ID, 2, "gift-1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Applied || res.FromBalanceAfter != 1 || res.ToBalanceAfter != 5 {
		t.Errorf("transfer: %+v, want applied from=1 to=5", res)
	}

	// Replaying the key moves nothing.
	res, err = e.Transfer(ctx, from.ID, to.ID, 2, "gift-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied || res.FromBalanceAfter != 1 || res.ToBalanceAfter != 5 {
		t.Errorf("replay: %+v, want unapplied from=1 to=5", res)
	}

	if _, err := e.Transfer(ctx, from.ID, to.ID, 100, "gift-2"); !credits.IsInsufficient(err) {
		t.Errorf("overdraw: got %v, want ErrInsufficientCredits", err)
	}
	if _, err := e.Transfer(ctx, from.ID, from.ID, 1, "gift-3"); !errors.Is(err, credits.ErrInvalidInput) {
		t.Errorf("self transfer: got %v, want ErrInvalidInput", err)
	}
	if _, err := e.Transfer(ctx, from.ID, to.ID, 0, "gift-4"); !errors.Is(err, credits.ErrInvalidAmount) {
		t.Errorf("zero amount: got %v, want ErrInvalidAmount", err)
	}

	assertConsistent(t, e, from.ID)
	assertConsistent(t, e, to.ID)
}

func TestReconcileDrift(t *testing.T) {
	e, st := newTestEngine(t)
	a := newTestAccount(t, e)
	ctx := context.Background()

	// Corrupt the cached balance behind the ledger's back.
	stored, err := st.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	stored.CreditBalance = 999
	if err := st.UpdateAccount(ctx, stored); err != nil {
		t.Fatal(err)
	}

	report, err := e.Reconcile(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Adjusted {
		t.Fatal("drift should trigger an adjustment")
	}
	if report.Cached != 999 || report.Actual != 3 || report.Drift != 996 {
		t.Errorf("report: %+v, want cached=999 actual=3 drift=996", report)
	}

	balance, err := e.Balance(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if balance != 3 {
		t.Errorf("balance after adjust: got %d, want 3", balance)
	}

	// The incident leaves a zero-delta audit entry behind.
	entries, err := e.History(ctx, a.ID, entry.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 || entries[0].Reason != entry.ReasonAdjustment || entries[0].Delta != 0 {
		t.Fatalf("newest entry should be a zero-delta adjustment, got %+v", entries[0])
	}

	// A clean account reconciles as a no-op.
	report, err = e.Reconcile(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if report.Adjusted || report.Drift != 0 {
		t.Errorf("second pass: %+v, want no drift", report)
	}
}

func TestHistoryPagination(t *testing.T) {
	e, _ := newTestEngine(t, credits.WithSignupBonus(0))
	a := newTestAccount(t, e)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key := "grant-" + string(rune('a'+i))
		if _, err := e.AdminGrant(ctx, a.ID, int64(i+1), key, nil); err != nil {
			t.Fatal(err)
		}
	}

	first, err := e.History(ctx, a.ID, entry.ListOpts{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 {
		t.Fatalf("first page: got %d entries, want 2", len(first))
	}
	// Newest first: the last grant leads.
	if first[0].Delta != 5 || first[1].Delta != 4 {
		t.Errorf("first page deltas: got %d,%d, want 5,4", first[0].Delta, first[1].Delta)
	}

	second, err := e.History(ctx, a.ID, entry.ListOpts{Limit: 2, Cursor: first[1].ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 2 || second[0].Delta != 3 || second[1].Delta != 2 {
		t.Fatalf("second page: got %+v, want deltas 3,2", second)
	}
}
