package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/idempotency"
	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/pricing"
	"github.com/xraph/escrow/types"
)

// CartLine is one listing in a buyer's cart.
type CartLine struct {
	PublisherAccountID id.AccountID
	ListingID          string
	BasePrice          types.Money
	NeedsContent       bool
}

// CheckoutParams turns a cart into orders.
type CheckoutParams struct {
	BuyerAccountID id.AccountID
	Lines          []CartLine
	IdempotencyKey string
}

// CheckoutResult is the set of orders one checkout created.
type CheckoutResult struct {
	CheckoutID id.CheckoutID   `json:"checkout_id"`
	Orders     []*order.Order  `json:"orders"`
	Quotes     []pricing.Quote `json:"quotes"`
	Total      types.Money     `json:"total"`
}

const rollbackReason = "checkout rolled back"

// Checkout prices every line and creates one order per line under a shared
// checkout ID. It is all-or-nothing: if any line fails, the orders already
// created are cancelled with a full refund and the line's error is
// returned.
func (e *Engine) Checkout(ctx context.Context, actor types.Actor, p CheckoutParams) (*CheckoutResult, error) {
	if p.BuyerAccountID.IsNil() {
		return nil, invalid("buyer_account_id", "required")
	}
	if len(p.Lines) == 0 {
		return nil, invalid("lines", "cart is empty")
	}

	res := &CheckoutResult{
		CheckoutID: id.NewCheckoutID(),
		Total:      types.Zero(e.currency),
	}
	params := make([]CreateOrderParams, 0, len(p.Lines))
	for i, line := range p.Lines {
		if line.BasePrice.Currency != e.currency {
			return nil, invalid(fmt.Sprintf("lines[%d].base_price", i), "currency %q, engine uses %q",
				line.BasePrice.Currency, e.currency)
		}
		q, err := e.policy.Quote(line.BasePrice, line.NeedsContent)
		if err != nil {
			return nil, invalid(fmt.Sprintf("lines[%d].base_price", i), "%v", err)
		}
		cp := CreateOrderParams{
			BuyerAccountID:     p.BuyerAccountID,
			PublisherAccountID: line.PublisherAccountID,
			ListingID:          line.ListingID,
			BaseAmount:         q.Base,
			PlatformFee:        q.PlatformFee,
			ContentFee:         q.ContentFee,
			NeedsContent:       line.NeedsContent,
			CheckoutID:         res.CheckoutID,
		}
		if err := cp.validate(e.currency); err != nil {
			return nil, err
		}
		params = append(params, cp)
		res.Quotes = append(res.Quotes, q)
		res.Total = res.Total.Add(q.Total)
	}

	replay, done, err := e.reserve(ctx, p.IdempotencyKey, idempotency.OpCheckout)
	if err != nil {
		return nil, err
	}
	if replay != "" {
		return e.replayCheckout(ctx, replay)
	}

	err = e.checkout(ctx, p.BuyerAccountID, params, res)
	done(ctx, res.CheckoutID.String(), err)
	if err != nil {
		return nil, err
	}

	for _, o := range res.Orders {
		e.plugins.EmitOrderCreated(ctx, o, actor)
	}
	e.logger.Info("checkout completed",
		"checkout_id", res.CheckoutID.String(),
		"orders", len(res.Orders),
		"total", res.Total.String(),
	)
	return res, nil
}

func (e *Engine) checkout(ctx context.Context, buyer id.AccountID, params []CreateOrderParams, res *CheckoutResult) error {
	// Fail early on an obviously short balance. The per-order debit is
	// still the authoritative check.
	balance, err := e.wallet.Balance(ctx, buyer)
	if err != nil {
		return err
	}
	if balance.LessThan(res.Total) {
		return fmt.Errorf("%w: account %s has %s, checkout needs %s",
			ErrInsufficientFunds, buyer, balance, res.Total)
	}

	for _, cp := range params {
		o, err := e.createOrder(ctx, cp)
		if err != nil {
			return e.rollbackCheckout(ctx, res, err)
		}
		res.Orders = append(res.Orders, o)
	}
	return nil
}

// rollbackCheckout cancels every order created so far, refunding the buyer.
func (e *Engine) rollbackCheckout(ctx context.Context, res *CheckoutResult, cause error) error {
	ctx = context.WithoutCancel(ctx)
	var failed []error
	for _, o := range res.Orders {
		if _, err := e.settlement.Refund(ctx, o, order.StatusPending, order.StatusCancelled, rollbackReason); err != nil {
			failed = append(failed, fmt.Errorf("order %s: %w", o.ID, err))
		}
	}
	res.Orders = nil
	if len(failed) > 0 {
		err := fmt.Errorf("%w: checkout %s: %w", ErrReconciliation, res.CheckoutID, errors.Join(append([]error{cause}, failed...)...))
		e.logger.Error("checkout rollback incomplete", "checkout_id", res.CheckoutID.String(), "error", err)
		return err
	}
	return fmt.Errorf("escrow: checkout %s rolled back: %w", res.CheckoutID, cause)
}

func (e *Engine) replayCheckout(ctx context.Context, resourceID string) (*CheckoutResult, error) {
	checkoutID, err := id.ParseCheckoutID(resourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: stored resource %q is not a checkout", ErrIdempotencyConflict, resourceID)
	}
	orders, err := e.store.ListOrders(ctx, order.ListOpts{CheckoutID: checkoutID})
	if err != nil {
		return nil, err
	}
	res := &CheckoutResult{CheckoutID: checkoutID, Orders: orders, Total: types.Zero(e.currency)}
	for _, o := range orders {
		res.Total = res.Total.Add(o.TotalAmount)
		res.Quotes = append(res.Quotes, pricing.Quote{
			Base:        o.BaseAmount,
			ContentFee:  o.ContentFee,
			PlatformFee: o.PlatformFee,
			Total:       o.TotalAmount,
		})
	}
	return res, nil
}
