package escrow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/idempotency"
	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/transaction"
	"github.com/xraph/escrow/types"
)

// maxNumberAttempts bounds order number regeneration on a clash.
const maxNumberAttempts = 5

// CreateOrderParams describes one order. TotalAmount is derived as
// BaseAmount + PlatformFee + ContentFee.
type CreateOrderParams struct {
	BuyerAccountID     id.AccountID
	PublisherAccountID id.AccountID
	ListingID          string
	BaseAmount         types.Money
	PlatformFee        types.Money
	ContentFee         types.Money
	NeedsContent       bool
	CheckoutID         id.CheckoutID
	IdempotencyKey     string
}

func (p *CreateOrderParams) validate(currency string) error {
	if p.BuyerAccountID.IsNil() {
		return invalid("buyer_account_id", "required")
	}
	if p.PublisherAccountID.IsNil() {
		return invalid("publisher_account_id", "required")
	}
	if p.BuyerAccountID == p.PublisherAccountID {
		return invalid("publisher_account_id", "buyer and publisher must differ")
	}
	if strings.TrimSpace(p.ListingID) == "" {
		return invalid("listing_id", "required")
	}
	if p.PlatformFee.Currency == "" {
		p.PlatformFee = types.Zero(currency)
	}
	if p.ContentFee.Currency == "" {
		p.ContentFee = types.Zero(currency)
	}
	for field, m := range map[string]types.Money{
		"base_amount":  p.BaseAmount,
		"platform_fee": p.PlatformFee,
		"content_fee":  p.ContentFee,
	} {
		if m.Currency != currency {
			return invalid(field, "currency %q, engine uses %q", m.Currency, currency)
		}
		if m.IsNegative() {
			return invalid(field, "must not be negative, got %s", m)
		}
	}
	if !p.BaseAmount.IsPositive() {
		return invalid("base_amount", "must be positive, got %s", p.BaseAmount)
	}
	if !p.NeedsContent && p.ContentFee.IsPositive() {
		return invalid("content_fee", "charged for an order that needs no content")
	}
	return nil
}

// CreateOrder debits the buyer the order total and opens a pending order.
// Either both happen or neither: a failure after the debit credits the
// buyer back and appends a reversal record. Fails with ErrInsufficientFunds
// without creating anything if the buyer cannot pay.
func (e *Engine) CreateOrder(ctx context.Context, actor types.Actor, p CreateOrderParams) (*order.Order, error) {
	if err := p.validate(e.currency); err != nil {
		return nil, err
	}

	replay, done, err := e.reserve(ctx, p.IdempotencyKey, idempotency.OpCreateOrder)
	if err != nil {
		return nil, err
	}
	if replay != "" {
		return e.replayOrder(ctx, replay)
	}

	o, err := e.createOrder(ctx, p)
	done(ctx, resourceOf(o), err)
	if err != nil {
		return nil, err
	}

	e.plugins.EmitOrderCreated(ctx, o, actor)
	return o, nil
}

func (e *Engine) createOrder(ctx context.Context, p CreateOrderParams) (*order.Order, error) {
	if _, err := e.store.GetAccount(ctx, p.PublisherAccountID); err != nil {
		return nil, fmt.Errorf("escrow: publisher %s: %w", p.PublisherAccountID, err)
	}

	now := e.now().UTC()
	o := &order.Order{
		Entity:             types.NewEntityAt(now),
		ID:                 id.NewOrderID(),
		CheckoutID:         p.CheckoutID,
		BuyerAccountID:     p.BuyerAccountID,
		PublisherAccountID: p.PublisherAccountID,
		ListingID:          p.ListingID,
		BaseAmount:         p.BaseAmount,
		PlatformFee:        p.PlatformFee,
		ContentFee:         p.ContentFee,
		NeedsContent:       p.NeedsContent,
		Status:             order.StatusPending,
		AutoRefundDeadline: now.Add(e.autoRefundWindow),
	}
	o.TotalAmount = o.ExpectedTotal()

	debit := RecordParams{
		AccountID:      o.BuyerAccountID,
		OrderID:        o.ID,
		Kind:           transaction.KindDebit,
		Amount:         o.TotalAmount,
		Description:    "Payment for listing " + o.ListingID,
		IdempotencyKey: debitKey(o.ID),
	}
	err := e.settlement.post(ctx, debit)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		o.Number = e.numbers(now)
		err = e.store.CreateOrder(ctx, o)
		if err == nil || !errors.Is(err, ErrAlreadyExists) || attempt+1 >= maxNumberAttempts {
			break
		}
	}
	if err != nil {
		if undoErr := e.settlement.reverse(ctx, debit); undoErr != nil {
			return nil, e.settlement.reconcile(ctx, o.BuyerAccountID, o.ID, err, undoErr)
		}
		return nil, fmt.Errorf("escrow: create order: %w", err)
	}
	return o, nil
}

// SubmitContent attaches the buyer's content and moves a pending order to
// content_submitted.
func (e *Engine) SubmitContent(ctx context.Context, actor types.Actor, orderID id.OrderID, payload string) (*order.Order, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, invalid("content_payload", "required")
	}
	if n := utf8.RuneCountInString(payload); n > order.MaxContentLength {
		return nil, invalid("content_payload", "%d characters exceeds the limit of %d", n, order.MaxContentLength)
	}

	o, err := e.transition(ctx, orderID, "submit content", order.StatusPending, order.StatusContentSubmitted,
		func(o *order.Order) { o.ContentPayload = payload })
	if err != nil {
		return nil, err
	}
	e.plugins.EmitContentSubmitted(ctx, o, actor)
	return o, nil
}

// SubmitFulfillment records the publisher's published URL and moves the
// order to pending_approval.
func (e *Engine) SubmitFulfillment(ctx context.Context, actor types.Actor, orderID id.OrderID, link, notes string) (*order.Order, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, invalid("fulfillment_url", "must be an absolute http(s) URL")
	}

	o, err := e.transition(ctx, orderID, "submit fulfillment", order.StatusContentSubmitted, order.StatusPendingApproval,
		func(o *order.Order) {
			o.FulfillmentURL = u.String()
			o.FulfillmentNotes = notes
		})
	if err != nil {
		return nil, err
	}
	e.plugins.EmitFulfillmentSubmitted(ctx, o, actor)
	return o, nil
}

// DecideParams is an admin's decision on an order awaiting approval.
type DecideParams struct {
	OrderID        id.OrderID
	Approved       bool
	Reason         string
	IdempotencyKey string
}

// AdminDecide settles a pending_approval order: approval pays the
// publisher, rejection refunds the buyer in full. Any other status fails
// with ErrInvalidState, so an order is never settled twice.
func (e *Engine) AdminDecide(ctx context.Context, actor types.Actor, p DecideParams) (*order.Order, error) {
	if p.OrderID.IsNil() {
		return nil, invalid("order_id", "required")
	}
	if !p.Approved && strings.TrimSpace(p.Reason) == "" {
		return nil, invalid("reason", "required when rejecting")
	}

	replay, done, err := e.reserve(ctx, p.IdempotencyKey, idempotency.OpAdminDecide)
	if err != nil {
		return nil, err
	}
	if replay != "" {
		return e.replayOrder(ctx, replay)
	}

	o, err := e.decide(ctx, p)
	done(ctx, resourceOf(o), err)
	if err != nil {
		return nil, err
	}

	if p.Approved {
		e.plugins.EmitOrderApproved(ctx, o, actor)
	} else {
		e.plugins.EmitOrderRefunded(ctx, o, actor)
	}
	return o, nil
}

func (e *Engine) decide(ctx context.Context, p DecideParams) (*order.Order, error) {
	o, err := e.store.GetOrder(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusPendingApproval {
		return nil, &StateError{OrderID: o.ID, Op: "decide", From: o.Status}
	}
	if p.Approved {
		return e.settlement.Approve(ctx, o)
	}
	return e.settlement.Refund(ctx, o, order.StatusPendingApproval, order.StatusRefunded, p.Reason)
}

// Cancel withdraws a pending order and refunds the buyer in full.
func (e *Engine) Cancel(ctx context.Context, actor types.Actor, orderID id.OrderID, reason string) (*order.Order, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o, err = e.settlement.Refund(ctx, o, order.StatusPending, order.StatusCancelled, reason)
	if err != nil {
		return nil, err
	}
	e.plugins.EmitOrderCancelled(ctx, o, actor)
	return o, nil
}

// transition performs a non-monetary status change from -> to.
func (e *Engine) transition(ctx context.Context, orderID id.OrderID, op string, from, to order.Status,
	mutate func(*order.Order)) (*order.Order, error) {
	return casOrder(ctx, e.store, e.now, e.orderRetries, orderID, op, func(cur *order.Order) error {
		if cur.Status != from || !order.CanTransition(from, to) {
			return &StateError{OrderID: cur.ID, Op: op, From: cur.Status}
		}
		mutate(cur)
		cur.Status = to
		return nil
	})
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// GetOrder retrieves an order by ID.
func (e *Engine) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	return e.store.GetOrder(ctx, orderID)
}

// GetOrderByNumber retrieves an order by its human-readable number.
func (e *Engine) GetOrderByNumber(ctx context.Context, number string) (*order.Order, error) {
	return e.store.GetOrderByNumber(ctx, number)
}

// ListOrders lists orders, newest first.
func (e *Engine) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	return e.store.ListOrders(ctx, opts)
}

// ListOverdue returns pending orders whose content deadline has passed at
// now. These are the orders the next sweep will refund.
func (e *Engine) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*order.Order, error) {
	if limit <= 0 {
		limit = e.sweepBatchSize
	}
	return e.store.ListExpired(ctx, now, limit)
}

func (e *Engine) replayOrder(ctx context.Context, resourceID string) (*order.Order, error) {
	oid, err := id.ParseOrderID(resourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: stored resource %q is not an order", ErrIdempotencyConflict, resourceID)
	}
	return e.store.GetOrder(ctx, oid)
}

func resourceOf(o *order.Order) string {
	if o == nil {
		return ""
	}
	return o.ID.String()
}
