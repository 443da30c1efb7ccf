// Package credits provides a prepaid-credit billing engine for Go applications.
//
// Credits is designed as a library, not a service. Import it directly into
// your Go application and give it a store. It provides:
//
//   - An append-only credit ledger with a cached per-account balance that
//     is updated atomically with every entry
//   - At-most-once charging for downloads and refinements, safe under
//     concurrent attempts and retries
//   - A subscription plan state machine reconciled against the payment
//     provider's webhook event stream, tolerant of duplicate and
//     out-of-order delivery
//   - Immediate prorated upgrades and period-boundary downgrades
//   - An auditable reconciliation pass that detects and corrects balance
//     drift through explicit adjustment entries
//   - Pluggable payment provider integration (Stripe built-in)
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/credits"
//	    "github.com/xraph/credits/store/postgres"
//	)
//
//	// Initialize store
//	store, err := postgres.New(databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create engine
//	eng := credits.New(store)
//
//	// Start the engine (runs migrations, initializes plugins)
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop()
//
// # Core Concepts
//
// Accounts hold a cached balance backed by an append-only ledger. The cache
// always equals the sum of the account's entry deltas; every mutation is an
// entry, never a direct balance edit:
//
//	acct := &account.Account{Email: "user@example.com"}
//	eng.CreateAccount(ctx, acct) // grants the signup bonus
//
//	balance, _ := eng.Balance(ctx, acct.ID)
//	history, _ := eng.History(ctx, acct.ID, entry.ListOpts{Limit: 20})
//
// Downloads charge at most once per artifact, no matter how many times or
// how concurrently they are attempted:
//
//	res, err := eng.ChargeDownload(ctx, acct.ID, artifactID)
//	if credits.IsInsufficient(err) {
//	    // Prompt a purchase; nothing was charged
//	}
//
// Subscriptions grant credits per billing period. The provider's webhook
// stream is the source of truth; replaying an event never grants twice:
//
//	result := eng.ProcessEvent(ctx, evt)
//	w.WriteHeader(result.Outcome.HTTPStatus())
//
// # Consistency
//
// All monetary and credit arithmetic is integer-only. Ledger entries and
// balance updates commit together or not at all, enforced by the store
// driver rather than in-process locking, so the invariant holds across
// processes. TypeID identifiers (acct_..., cent_..., sub_...) are
// K-sortable and type-checked at parse time.
package credits
