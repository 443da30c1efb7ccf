package subscription

import (
	"context"
	"time"

	"github.com/xraph/credits/id"
)

type Store interface {
	Create(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, accountID id.AccountID, planName string) (*Subscription, error)
	GetByProviderRef(ctx context.Context, providerRef string) (*Subscription, error)
	GetActive(ctx context.Context, accountID id.AccountID) (*Subscription, error)
	List(ctx context.Context, accountID id.AccountID, opts ListOpts) ([]*Subscription, error)

	// Sync overwrites status and period boundaries from a provider event.
	Sync(ctx context.Context, s *Subscription) error

	MarkCanceled(ctx context.Context, providerRef string, canceledAt time.Time) error
	ScheduleDowngrade(ctx context.Context, accountID id.AccountID, pendingPlan string) error
	CancelScheduledDowngrade(ctx context.Context, accountID id.AccountID) error
}
