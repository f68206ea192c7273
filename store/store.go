// Package store defines the aggregate persistence contract for escrow.
// Backends live in the memory, postgres, sqlite and mongo sub-packages.
package store

import (
	"context"

	"github.com/xraph/escrow/account"
	"github.com/xraph/escrow/idempotency"
	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/transaction"
)

// Store is the single source of truth for accounts, orders, transaction
// records and idempotency keys.
type Store interface {
	account.Store
	order.Store
	transaction.Store
	idempotency.Store

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
