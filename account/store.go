package account

import (
	"context"

	"github.com/xraph/credits/id"
)

type Store interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, accountID id.AccountID) (*Account, error)
	GetByCustomerRef(ctx context.Context, customerRef string) (*Account, error)
	Update(ctx context.Context, a *Account) error
}
