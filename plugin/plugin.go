// Package plugin defines the hooks through which escrow publishes domain
// events. A plugin implements Plugin plus any subset of the hook
// interfaces; the Registry discovers them at registration time.
//
// Hooks run after the ledger mutation has been stored. Their errors are
// logged and never propagate back into the operation that fired them.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/escrow/account"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called from Engine.Start. engine is the *escrow.Engine.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called from Engine.Stop before the store is closed.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Wallet hooks
// ──────────────────────────────────────────────────

type OnAccountOpened interface {
	Plugin
	OnAccountOpened(ctx context.Context, a *account.Account) error
}

// OnWalletCredited fires after a balance increase has been stored.
type OnWalletCredited interface {
	Plugin
	OnWalletCredited(ctx context.Context, accountID id.AccountID, amount, balance types.Money) error
}

// OnWalletDebited fires after a balance decrease has been stored.
type OnWalletDebited interface {
	Plugin
	OnWalletDebited(ctx context.Context, accountID id.AccountID, amount, balance types.Money) error
}

// ──────────────────────────────────────────────────
// Order hooks
// ──────────────────────────────────────────────────

type OnOrderCreated interface {
	Plugin
	OnOrderCreated(ctx context.Context, o *order.Order, actor types.Actor) error
}

type OnContentSubmitted interface {
	Plugin
	OnContentSubmitted(ctx context.Context, o *order.Order, actor types.Actor) error
}

type OnFulfillmentSubmitted interface {
	Plugin
	OnFulfillmentSubmitted(ctx context.Context, o *order.Order, actor types.Actor) error
}

// OnOrderApproved fires once the publisher payout has landed and the
// order is completed.
type OnOrderApproved interface {
	Plugin
	OnOrderApproved(ctx context.Context, o *order.Order, actor types.Actor) error
}

// OnOrderRefunded fires when an admin rejection has refunded the buyer.
type OnOrderRefunded interface {
	Plugin
	OnOrderRefunded(ctx context.Context, o *order.Order, actor types.Actor) error
}

// OnOrderAutoRefunded fires for each order refunded by the deadline sweep.
type OnOrderAutoRefunded interface {
	Plugin
	OnOrderAutoRefunded(ctx context.Context, o *order.Order) error
}

type OnOrderCancelled interface {
	Plugin
	OnOrderCancelled(ctx context.Context, o *order.Order, actor types.Actor) error
}

// ──────────────────────────────────────────────────
// Operational hooks
// ──────────────────────────────────────────────────

// OnSweepCompleted reports one pass of the auto-refund sweep.
type OnSweepCompleted interface {
	Plugin
	OnSweepCompleted(ctx context.Context, refunded, skipped int, elapsed time.Duration) error
}

// OnReconciliationRequired fires when a compensating wallet mutation
// failed and an account needs manual attention.
type OnReconciliationRequired interface {
	Plugin
	OnReconciliationRequired(ctx context.Context, accountID id.AccountID, orderID id.OrderID, cause error) error
}
