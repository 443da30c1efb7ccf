package credits_test

import (
	"context"
	"log"
	"log/slog"
	"testing"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/artifact"
	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/store/memory"
	"github.com/xraph/credits/types"
)

// TestDocumentationExamples verifies that all examples in the documentation compile
func TestDocumentationExamples(t *testing.T) {
	// Test Quick Start example from README
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		// Initialize the engine
		engine := credits.New(store,
			credits.WithLogger(slog.Default()),
			credits.WithSignupBonus(3),
			credits.WithDownloadCost(1),
		)

		// Start the engine
		ctx := context.Background()
		if err := engine.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer engine.Stop()

		// Create an account; the signup bonus lands as a ledger entry
		a := &account.Account{
			Email: "agent@example.com",
			Name:  "Example Agent",
		}
		if err := engine.CreateAccount(ctx, a); err != nil {
			t.Fatal(err)
		}

		balance, err := engine.Balance(ctx, a.ID)
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("balance after signup: %d\n", balance)

		// Register a generated artifact; generation is free
		art := &artifact.Artifact{
			AccountID:  a.ID,
			Kind:       "staged_image",
			StorageKey: "renders/example.png",
		}
		if err := engine.CreateArtifact(ctx, art); err != nil {
			t.Fatal(err)
		}

		// First download charges once; repeats are free
		res, err := engine.ChargeDownload(ctx, a.ID, art.ID)
		if err != nil {
			t.Fatal(err)
		}
		if res.Charged {
			log.Printf("download charged, balance now %d\n", res.BalanceAfter)
		}

		// Ledger history, newest first
		entries, err := engine.History(ctx, a.ID, entry.ListOpts{Limit: 10})
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			log.Printf("%s %+d (%s)\n", e.ID, e.Delta, e.Reason)
		}
	})

	// Test plan catalog example
	t.Run("CatalogExample", func(t *testing.T) {
		store := memory.New()
		engine := credits.New(store)

		if err := engine.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		defer engine.Stop()

		for _, name := range engine.Catalog().Names() {
			tier, _ := engine.Catalog().Get(name)
			log.Printf("%s: %d credits for %s\n", tier.Name, tier.Credits, tier.Price)
		}
	})

	// Test Money type examples
	t.Run("MoneyExamples", func(t *testing.T) {
		// Constructors
		_ = types.USD(4900)   // $49.00
		_ = types.EUR(9900)   // €99.00
		_ = types.Zero("usd") // $0.00

		// Arithmetic
		m1 := types.USD(100)
		m2 := types.USD(200)
		_ = m1.Add(m2)     // $3.00
		_ = m1.Multiply(3) // $3.00

		// Comparison
		if m1.LessThan(m2) {
			// m1 is less than m2
		}

		// Formatting
		_ = m1.String() // "$1.00"
	})
}
