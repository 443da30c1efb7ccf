package artifact

import (
	"context"

	"github.com/xraph/credits/id"
)

// ChargeResult reports the outcome of a Charge attempt.
type ChargeResult struct {
	// Charged is true when this call performed the debit. False means the
	// artifact was already settled and no credits moved.
	Charged      bool
	BalanceAfter int64
}

type Store interface {
	Create(ctx context.Context, a *Artifact) error
	Get(ctx context.Context, artifactID id.ArtifactID) (*Artifact, error)

	// Charge atomically verifies ownership and sufficient balance, appends
	// the debit entry, and sets the downloaded flag. An already-settled
	// artifact returns Charged=false with no mutation.
	Charge(ctx context.Context, accountID id.AccountID, artifactID id.ArtifactID, cost int64) (*ChargeResult, error)
}
