package order

import (
	"context"
	"time"

	"github.com/xraph/escrow/id"
)

// Store persists orders. UpdateOrder follows the same conditional-write
// contract as account.Store.UpdateAccount.
type Store interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, orderID id.OrderID) (*Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*Order, error)
	ListOrders(ctx context.Context, opts ListOpts) ([]*Order, error)
	CountOrders(ctx context.Context, opts ListOpts) (int64, error)
	// ListExpired returns pending orders whose deadline is before now,
	// oldest deadline first.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Order, error)
	UpdateOrder(ctx context.Context, o *Order, expectedVersion int64) error
}

type ListOpts struct {
	BuyerAccountID     id.AccountID
	PublisherAccountID id.AccountID
	CheckoutID         id.CheckoutID
	Status             Status
	Limit              int
	Offset             int
}
