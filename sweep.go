package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/types"
)

// AutoRefundReason is stored on orders refunded by the sweep.
const AutoRefundReason = "auto-refund: deadline passed"

// SweepResult summarises one sweep run.
type SweepResult struct {
	Refunded int           `json:"refunded"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Elapsed  time.Duration `json:"elapsed"`
}

// SweepExpired refunds every pending order whose content deadline is
// before now. Orders that change status while the sweep runs are skipped.
// It is safe to run concurrently with itself and with decisions, and
// running it twice refunds nothing the second time.
func (e *Engine) SweepExpired(ctx context.Context, now time.Time) (SweepResult, error) {
	start := e.now()
	var (
		res  SweepResult
		errs []error
	)

	for {
		batch, err := e.store.ListExpired(ctx, now, e.sweepBatchSize)
		if err != nil {
			return res, fmt.Errorf("escrow: list expired orders: %w", err)
		}

		progress := 0
		for _, o := range batch {
			if err := ctx.Err(); err != nil {
				res.Elapsed = e.now().Sub(start)
				return res, err
			}

			refunded, err := e.settlement.Refund(ctx, o, order.StatusPending, order.StatusRefunded, AutoRefundReason)
			switch {
			case err == nil:
				res.Refunded++
				progress++
				e.plugins.EmitOrderAutoRefunded(ctx, refunded)
			case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConcurrentModification):
				res.Skipped++
				progress++
			default:
				res.Failed++
				errs = append(errs, err)
				e.logger.Warn("auto-refund failed", "order_id", o.ID.String(), "error", err)
			}
		}

		// A short page is the last one; a page with no progress would be
		// returned again unchanged.
		if len(batch) < e.sweepBatchSize || progress == 0 {
			break
		}
	}

	res.Elapsed = e.now().Sub(start)
	e.plugins.EmitSweepCompleted(ctx, res.Refunded, res.Skipped, res.Elapsed)
	e.logger.Info("sweep completed",
		"refunded", res.Refunded,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"elapsed", res.Elapsed,
	)
	return res, errors.Join(errs...)
}

// ResumeSettlements finishes approvals that have sat in payment_pending
// for longer than the stall threshold and returns how many completed.
func (e *Engine) ResumeSettlements(ctx context.Context) (int, error) {
	cutoff := e.now().Add(-e.stallAfter)

	// Collect first: resuming moves orders out of the listed status and
	// would shift later pages.
	var stalled []*order.Order
	for offset := 0; ; offset += e.sweepBatchSize {
		batch, err := e.store.ListOrders(ctx, order.ListOpts{
			Status: order.StatusPaymentPending,
			Limit:  e.sweepBatchSize,
			Offset: offset,
		})
		if err != nil {
			return 0, fmt.Errorf("escrow: list stalled orders: %w", err)
		}
		for _, o := range batch {
			if !o.UpdatedAt.After(cutoff) {
				stalled = append(stalled, o)
			}
		}
		if len(batch) < e.sweepBatchSize {
			break
		}
	}

	var (
		resumed int
		errs    []error
	)
	for _, o := range stalled {
		done, err := e.settlement.Resume(ctx, o)
		if err != nil {
			if !errors.Is(err, ErrInvalidState) && !errors.Is(err, ErrConcurrentModification) {
				errs = append(errs, err)
			}
			continue
		}
		resumed++
		e.plugins.EmitOrderApproved(ctx, done, types.System)
	}

	if len(stalled) > 0 {
		e.logger.Info("stalled settlements processed", "stalled", len(stalled), "resumed", resumed)
	}
	return resumed, errors.Join(errs...)
}
