package entry

import (
	"context"

	"github.com/xraph/credits/id"
)

type Store interface {
	// Append atomically inserts the entry and applies its delta to the
	// account's cached balance. A duplicate idempotency key yields
	// Applied=false and no mutation.
	Append(ctx context.Context, e *Entry) (*AppendResult, error)

	// Debit is Append restricted to negative deltas: it additionally
	// requires balance+delta >= 0 and fails without mutating otherwise.
	Debit(ctx context.Context, e *Entry) (*AppendResult, error)

	List(ctx context.Context, accountID id.AccountID, opts ListOpts) ([]*Entry, error)

	// Sum recomputes the account's balance from its full history.
	Sum(ctx context.Context, accountID id.AccountID) (int64, error)
}
