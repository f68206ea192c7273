package account

import (
	"context"

	"github.com/xraph/escrow/id"
)

// Store persists accounts. UpdateAccount is a conditional write: it applies
// only when the stored version equals expectedVersion, and on success sets
// a.Version to expectedVersion+1.
type Store interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, accountID id.AccountID) (*Account, error)
	GetAccountByOwner(ctx context.Context, ownerID string) (*Account, error)
	ListAccounts(ctx context.Context, opts ListOpts) ([]*Account, error)
	UpdateAccount(ctx context.Context, a *Account, expectedVersion int64) error
}

type ListOpts struct {
	Role   Role
	Limit  int
	Offset int
}
