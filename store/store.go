package store

import (
	"context"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/artifact"
	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/subscription"
)

// Store is the unified storage interface for all Credits entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
//
// Multi-entity operations (AppendEntry's balance update, ChargeArtifact,
// ActivateSubscriptionPeriod, TransferEntries) are atomic: the driver either
// applies every effect or none.
type Store interface {
	// Account methods
	CreateAccount(ctx context.Context, a *account.Account) error
	GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error)
	GetAccountByCustomerRef(ctx context.Context, customerRef string) (*account.Account, error)
	UpdateAccount(ctx context.Context, a *account.Account) error

	// Entry methods
	AppendEntry(ctx context.Context, e *entry.Entry) (*entry.AppendResult, error)
	DebitEntry(ctx context.Context, e *entry.Entry) (*entry.AppendResult, error)
	ListEntries(ctx context.Context, accountID id.AccountID, opts entry.ListOpts) ([]*entry.Entry, error)
	SumEntries(ctx context.Context, accountID id.AccountID) (int64, error)

	// TransferEntries appends a paired debit/grant across two accounts.
	// The debit side requires sufficient balance; the key dedupes retries.
	TransferEntries(ctx context.Context, p TransferParams) (*TransferResult, error)

	// ResetBalance overwrites the cached balance and inserts the given
	// zero-delta audit entry in the same atomic step.
	ResetBalance(ctx context.Context, accountID id.AccountID, balance int64, audit *entry.Entry) error

	// Artifact methods
	CreateArtifact(ctx context.Context, a *artifact.Artifact) error
	GetArtifact(ctx context.Context, artifactID id.ArtifactID) (*artifact.Artifact, error)
	ChargeArtifact(ctx context.Context, accountID id.AccountID, artifactID id.ArtifactID, cost int64) (*artifact.ChargeResult, error)

	// Subscription methods
	CreateSubscription(ctx context.Context, s *subscription.Subscription) error
	GetSubscription(ctx context.Context, accountID id.AccountID, planName string) (*subscription.Subscription, error)
	GetSubscriptionByProviderRef(ctx context.Context, providerRef string) (*subscription.Subscription, error)
	GetActiveSubscription(ctx context.Context, accountID id.AccountID) (*subscription.Subscription, error)
	ListSubscriptions(ctx context.Context, accountID id.AccountID, opts subscription.ListOpts) ([]*subscription.Subscription, error)
	SyncSubscription(ctx context.Context, s *subscription.Subscription) error
	MarkSubscriptionCanceled(ctx context.Context, providerRef string, canceledAt time.Time) error
	ScheduleDowngrade(ctx context.Context, accountID id.AccountID, pendingPlan string) error
	CancelScheduledDowngrade(ctx context.Context, accountID id.AccountID) error

	// ActivateSubscriptionPeriod upserts the subscription into active state
	// for the given period, demotes any other live plan on the account
	// (releasing its provider ref so the activated plan can carry it),
	// and appends the period's credit grant, all atomically. A grant key
	// already settled, or a period boundary at or before the stored one,
	// yields Granted=false with the subscription state untouched or synced
	// respectively.
	ActivateSubscriptionPeriod(ctx context.Context, p ActivatePeriodParams) (*ActivatePeriodResult, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// TransferParams describes a paired cross-account credit move.
type TransferParams struct {
	FromAccountID  id.AccountID
	ToAccountID    id.AccountID
	Amount         int64 // positive
	IdempotencyKey string
	Meta           map[string]string
}

// TransferResult reports both sides of a transfer.
type TransferResult struct {
	Applied          bool
	FromBalanceAfter int64
	ToBalanceAfter   int64
}

// ActivatePeriodParams describes a subscription activation or renewal.
type ActivatePeriodParams struct {
	AccountID   id.AccountID
	PlanName    string
	ProviderRef string
	PeriodStart time.Time
	PeriodEnd   time.Time

	// Reactivate bypasses the stale-period guard. Controller-driven plan
	// changes set it so an account can re-enter a plan it previously left
	// within the same billing period; webhook-driven activations leave it
	// false so replayed or out-of-order events stay no-ops.
	Reactivate bool

	// Grant entry fields. GrantKey should be derived from (ProviderRef,
	// PeriodStart) so created/renewal events suppress each other.
	GrantCredits int64
	GrantReason  entry.Reason
	GrantKey     string
	GrantMeta    map[string]string
}

// ActivatePeriodResult reports whether the period grant was applied.
type ActivatePeriodResult struct {
	Granted      bool
	Stale        bool // period boundary not newer than the stored one
	BalanceAfter int64
}
