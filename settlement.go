package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/plugin"
	"github.com/xraph/escrow/transaction"
	"github.com/xraph/escrow/types"
)

// Settlement moves money for an order's terminal decision and is the only
// place an order enters completed or refunded.
//
// An approval first claims the order into payment_pending with a
// conditional status write, so a duplicated or concurrent decision pays at
// most once; if the payout cannot be made the claim is released. A refund
// credits the buyer first and then writes the terminal status, reversing
// the credit if that write fails. Postings are keyed, so a retried step
// never moves money twice.
type Settlement struct {
	orders   order.Store
	wallet   *Wallet
	recorder *Recorder
	plugins  *plugin.Registry
	logger   *slog.Logger
	now      func() time.Time
	retries  int
	platform id.AccountID
}

var (
	errPayoutReversed   = errors.New("payout was reversed")
	errAlreadyCompleted = errors.New("order already completed")
)

// Approve pays the publisher the base amount and completes the order.
// The order must be pending_approval.
func (s *Settlement) Approve(ctx context.Context, o *order.Order) (*order.Order, error) {
	claimed, err := s.claim(ctx, o.ID, "approve", func(cur *order.Order) error {
		if cur.Status != order.StatusPendingApproval {
			return &StateError{OrderID: cur.ID, Op: "approve", From: cur.Status}
		}
		cur.Status = order.StatusPaymentPending
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.pay(ctx, claimed)
}

// Resume finishes an approval that stopped after its claim, for example
// because the process exited between the payout and the completion write.
// Postings that already landed under the claim are not repeated.
func (s *Settlement) Resume(ctx context.Context, o *order.Order) (*order.Order, error) {
	o, err := s.orders.GetOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusPaymentPending {
		return nil, &StateError{OrderID: o.ID, Op: "resume", From: o.Status}
	}
	// A reversed payout means the earlier attempt failed and only the
	// claim release was lost.
	if _, err := s.recorder.records.GetRecordByKey(ctx, payoutKey(o)+"-reversal"); err == nil {
		return nil, s.release(ctx, o, errPayoutReversed)
	}
	return s.pay(ctx, o)
}

// pay moves the money for a claimed order and completes it.
func (s *Settlement) pay(ctx context.Context, claimed *order.Order) (*order.Order, error) {
	payout := RecordParams{
		AccountID:      claimed.PublisherAccountID,
		OrderID:        claimed.ID,
		Kind:           transaction.KindCredit,
		Amount:         claimed.BaseAmount,
		Description:    "Payout for order " + claimed.Number,
		IdempotencyKey: payoutKey(claimed),
	}
	if err := s.post(ctx, payout); err != nil {
		return nil, s.release(ctx, claimed, err)
	}

	if retained := claimed.Retained(); !s.platform.IsNil() && retained.IsPositive() {
		err := s.post(ctx, RecordParams{
			AccountID:      s.platform,
			OrderID:        claimed.ID,
			Kind:           transaction.KindCredit,
			Amount:         retained,
			Description:    "Platform fee for order " + claimed.Number,
			IdempotencyKey: feeKey(claimed),
		})
		if err != nil {
			if undoErr := s.reverse(ctx, payout); undoErr != nil {
				return nil, s.reconcile(ctx, claimed.PublisherAccountID, claimed.ID, err, undoErr)
			}
			return nil, s.release(ctx, claimed, err)
		}
	}

	return s.complete(ctx, claimed)
}

// complete moves a claimed order whose payout has landed to completed.
// An order another caller already completed under the same claim is
// returned as is.
func (s *Settlement) complete(ctx context.Context, claimed *order.Order) (*order.Order, error) {
	var already *order.Order
	done, err := s.claim(ctx, claimed.ID, "complete", func(cur *order.Order) error {
		if cur.Status == order.StatusCompleted {
			already = cur
			return errAlreadyCompleted
		}
		if cur.Status != order.StatusPaymentPending {
			return &StateError{OrderID: cur.ID, Op: "complete", From: cur.Status}
		}
		if _, err := s.recorder.records.GetRecordByKey(ctx, payoutKey(claimed)+"-reversal"); err == nil {
			return errPayoutReversed
		}
		now := s.now().UTC()
		cur.Status = order.StatusCompleted
		cur.CompletedAt = &now
		return nil
	})
	if errors.Is(err, errAlreadyCompleted) {
		return already, nil
	}
	if err != nil {
		return nil, fmt.Errorf("escrow: payout for order %s recorded but completion failed: %w", claimed.ID, err)
	}
	return done, nil
}

// Refund returns the full total to the buyer and moves the order from
// `from` to `to` (refunded or cancelled), storing reason.
//
// The credit is posted first, keyed by the order version it was read at,
// and the status write is conditional on that version. Whoever wins the
// write from that version owns the credit. A caller that loses to any
// other transition reverses it; once the version has moved no refund can
// claim that key again.
func (s *Settlement) Refund(ctx context.Context, o *order.Order, from, to order.Status, reason string) (*order.Order, error) {
	op := "refund"
	if to == order.StatusCancelled {
		op = "cancel"
	}

	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		cur, err := s.orders.GetOrder(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		if cur.Status != from || !order.CanTransition(from, to) {
			return nil, &StateError{OrderID: cur.ID, Op: op, From: cur.Status}
		}
		before := cur.Clone()
		expected := cur.Version

		credit := RecordParams{
			AccountID:      cur.BuyerAccountID,
			OrderID:        cur.ID,
			Kind:           transaction.KindCredit,
			Amount:         cur.TotalAmount,
			Description:    "Refund for order " + cur.Number,
			IdempotencyKey: refundKey(cur),
		}
		if err := s.post(ctx, credit); err != nil {
			return nil, fmt.Errorf("escrow: %s order %s: %w", op, cur.ID, err)
		}

		now := s.now().UTC()
		cur.Status = to
		cur.RejectionReason = reason
		if to == order.StatusCancelled {
			cur.CancelledAt = &now
		} else {
			cur.RefundedAt = &now
		}
		cur.Touch(now)

		err = s.orders.UpdateOrder(ctx, cur, expected)
		if err == nil {
			return cur, nil
		}

		if !errors.Is(err, ErrConcurrentModification) {
			// The outcome of the failed write is unknown to other refunders
			// holding the same key. Moving the version past theirs makes
			// the reversal safe; if even that fails the credit stays and the
			// next attempt from this version completes the refund.
			fenced := before.Clone()
			fenced.Touch(now)
			fenceErr := s.orders.UpdateOrder(ctx, fenced, expected)
			if fenceErr != nil && !errors.Is(fenceErr, ErrConcurrentModification) {
				return nil, s.reconcile(ctx, credit.AccountID, cur.ID, err, fenceErr)
			}
			if fenceErr == nil {
				if undoErr := s.reverse(ctx, credit); undoErr != nil {
					return nil, s.reconcile(ctx, credit.AccountID, cur.ID, err, undoErr)
				}
				return nil, fmt.Errorf("escrow: %s order %s: %w", op, cur.ID, err)
			}
		}

		latest, getErr := s.orders.GetOrder(ctx, cur.ID)
		if getErr != nil {
			return nil, s.reconcile(ctx, credit.AccountID, cur.ID, err, getErr)
		}
		if latest.Version == expected+1 && isRefunded(latest.Status) {
			return nil, &StateError{OrderID: cur.ID, Op: op, From: latest.Status}
		}
		if undoErr := s.reverse(ctx, credit); undoErr != nil {
			return nil, s.reconcile(ctx, credit.AccountID, cur.ID, err, undoErr)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %s order %s after %d attempts: %w", ErrConcurrentModification, op, o.ID, s.retries, lastErr)
}

func isRefunded(st order.Status) bool {
	return st == order.StatusRefunded || st == order.StatusCancelled
}

// ──────────────────────────────────────────────────
// Money movement
// ──────────────────────────────────────────────────

// post applies a wallet mutation and appends its record.
// p.IdempotencyKey is required; a key already on file means an earlier
// attempt posted and nothing is applied again. The mutation is undone
// when its record cannot be written, and also when a concurrent caller
// recorded the same key first, since that caller's mutation is the one
// the record accounts for.
func (s *Settlement) post(ctx context.Context, p RecordParams) error {
	existing, err := s.recorder.records.GetRecordByKey(ctx, p.IdempotencyKey)
	switch {
	case err == nil:
		_, err := matchRecord(existing, p)
		return err
	case !errors.Is(err, ErrNotFound):
		return err
	}

	if err := s.apply(ctx, p.Kind, p.AccountID, p.Amount); err != nil {
		return err
	}

	_, replayed, err := s.recorder.append(ctx, p)
	if err == nil && !replayed {
		return nil
	}
	if undoErr := s.apply(ctx, opposite(p.Kind), p.AccountID, p.Amount); undoErr != nil {
		cause := err
		if cause == nil {
			cause = fmt.Errorf("record key %q taken concurrently", p.IdempotencyKey)
		}
		return s.reconcile(ctx, p.AccountID, p.OrderID, cause, undoErr)
	}
	return err
}

// reverse undoes a posting with an opposite mutation and a reversal
// record. The original record stays in place.
func (s *Settlement) reverse(ctx context.Context, p RecordParams) error {
	return s.post(ctx, RecordParams{
		AccountID:      p.AccountID,
		OrderID:        p.OrderID,
		Kind:           opposite(p.Kind),
		Amount:         p.Amount,
		Description:    "Reversal of " + p.IdempotencyKey,
		IdempotencyKey: p.IdempotencyKey + "-reversal",
	})
}

func (s *Settlement) apply(ctx context.Context, kind transaction.Kind, accountID id.AccountID, amount types.Money) error {
	var err error
	if kind == transaction.KindDebit {
		_, err = s.wallet.Debit(ctx, accountID, amount)
	} else {
		_, err = s.wallet.Credit(ctx, accountID, amount)
	}
	return err
}

func opposite(k transaction.Kind) transaction.Kind {
	if k == transaction.KindDebit {
		return transaction.KindCredit
	}
	return transaction.KindDebit
}

func (s *Settlement) reconcile(ctx context.Context, accountID id.AccountID, orderID id.OrderID, cause, undoErr error) error {
	err := fmt.Errorf("%w: account %s, order %s: %w", ErrReconciliation, accountID, orderID, errors.Join(cause, undoErr))
	s.logger.Error("compensation failed",
		"account_id", accountID.String(),
		"order_id", orderID.String(),
		"error", err,
	)
	s.plugins.EmitReconciliationRequired(ctx, accountID, orderID, err)
	return err
}

// ──────────────────────────────────────────────────
// Order claims
// ──────────────────────────────────────────────────

// claim applies mutate to the latest copy of the order and stores it
// conditionally, re-reading on a version conflict.
func (s *Settlement) claim(ctx context.Context, orderID id.OrderID, op string, mutate func(*order.Order) error) (*order.Order, error) {
	return casOrder(ctx, s.orders, s.now, s.retries, orderID, op, mutate)
}

// release puts a payment_pending order back to pending_approval after its
// payout failed, then returns cause.
func (s *Settlement) release(ctx context.Context, claimed *order.Order, cause error) error {
	_, err := s.claim(ctx, claimed.ID, "release", func(cur *order.Order) error {
		if cur.Status != order.StatusPaymentPending {
			return &StateError{OrderID: cur.ID, Op: "release", From: cur.Status}
		}
		cur.Status = order.StatusPendingApproval
		return nil
	})
	if err != nil {
		s.logger.Error("settlement claim not released",
			"order_id", claimed.ID.String(),
			"cause", cause,
			"error", err,
		)
		return fmt.Errorf("escrow: settle order %s: %w (claim release failed: %v)", claimed.ID, cause, err)
	}
	return fmt.Errorf("escrow: settle order %s: %w", claimed.ID, cause)
}

// casOrder is the read-check-write loop shared by every order transition.
func casOrder(ctx context.Context, orders order.Store, now func() time.Time, retries int,
	orderID id.OrderID, op string, mutate func(*order.Order) error) (*order.Order, error) {
	for attempt := 0; attempt < retries; attempt++ {
		cur, err := orders.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		expected := cur.Version
		if err := mutate(cur); err != nil {
			return nil, err
		}
		cur.Touch(now())

		err = orders.UpdateOrder(ctx, cur, expected)
		if err == nil {
			return cur, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s order %s after %d attempts", ErrConcurrentModification, op, orderID, retries)
}

// Record keys. Settlement keys carry the version of the claim that moved
// the money, so a decision retried after a released claim posts afresh
// while a resumed claim finds its own earlier posting.
func debitKey(orderID id.OrderID) string { return "order:" + orderID.String() + ":debit" }
func payoutKey(o *order.Order) string    { return settlementKey(o, "payout") }
func feeKey(o *order.Order) string       { return settlementKey(o, "fee") }
func refundKey(o *order.Order) string    { return settlementKey(o, "refund") }

func settlementKey(o *order.Order, what string) string {
	return "order:" + o.ID.String() + ":" + what + ":v" + strconv.FormatInt(o.Version, 10)
}
