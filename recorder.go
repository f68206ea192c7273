package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/transaction"
	"github.com/xraph/escrow/types"
)

// Recorder appends immutable transaction records. It never touches
// balances and never updates or deletes a record.
type Recorder struct {
	records transaction.Store
	now     func() time.Time
}

// RecordParams describes one audit-trail entry.
type RecordParams struct {
	AccountID   id.AccountID
	OrderID     id.OrderID // Nil for entries not tied to an order
	Kind        transaction.Kind
	Amount      types.Money
	Description string
	// IdempotencyKey makes the call safe to repeat: a second call with the
	// same key returns the first record instead of appending another.
	IdempotencyKey string
	PaymentRef     string
}

// Record appends an entry and returns it.
func (r *Recorder) Record(ctx context.Context, p RecordParams) (*transaction.Record, error) {
	rec, _, err := r.append(ctx, p)
	return rec, err
}

// append is Record that also reports whether the key was already on file,
// in which case rec is the earlier entry and nothing was written.
func (r *Recorder) append(ctx context.Context, p RecordParams) (rec *transaction.Record, replayed bool, err error) {
	if p.AccountID.IsNil() {
		return nil, false, invalid("account_id", "required")
	}
	if !p.Kind.Valid() {
		return nil, false, invalid("kind", "unknown kind %q", p.Kind)
	}
	if !p.Amount.IsPositive() {
		return nil, false, invalid("amount", "must be positive, got %s", p.Amount)
	}

	if p.IdempotencyKey != "" {
		existing, err := r.records.GetRecordByKey(ctx, p.IdempotencyKey)
		switch {
		case err == nil:
			rec, err := matchRecord(existing, p)
			return rec, true, err
		case !errors.Is(err, ErrNotFound):
			return nil, false, err
		}
	}

	rec = &transaction.Record{
		ID:             id.NewTransactionID(),
		AccountID:      p.AccountID,
		Kind:           p.Kind,
		Amount:         p.Amount,
		Description:    p.Description,
		IdempotencyKey: p.IdempotencyKey,
		PaymentRef:     p.PaymentRef,
		CreatedAt:      r.now().UTC(),
	}
	if !p.OrderID.IsNil() {
		oid := p.OrderID
		rec.OrderID = &oid
	}

	if err := r.records.AppendRecord(ctx, rec); err != nil {
		if p.IdempotencyKey != "" && errors.Is(err, ErrAlreadyExists) {
			existing, getErr := r.records.GetRecordByKey(ctx, p.IdempotencyKey)
			if getErr != nil {
				return nil, false, getErr
			}
			rec, err := matchRecord(existing, p)
			return rec, true, err
		}
		return nil, false, fmt.Errorf("escrow: record %s: %w", p.Kind, err)
	}
	return rec, false, nil
}

// Records lists an account's entries, oldest first.
func (r *Recorder) Records(ctx context.Context, accountID id.AccountID, opts transaction.ListOpts) ([]*transaction.Record, error) {
	return r.records.ListRecords(ctx, accountID, opts)
}

// OrderRecords lists every entry tied to an order.
func (r *Recorder) OrderRecords(ctx context.Context, orderID id.OrderID) ([]*transaction.Record, error) {
	return r.records.ListRecordsByOrder(ctx, orderID)
}

func matchRecord(existing *transaction.Record, p RecordParams) (*transaction.Record, error) {
	if existing.AccountID != p.AccountID || existing.Kind != p.Kind || !existing.Amount.Equal(p.Amount) {
		return nil, fmt.Errorf("%w: record key %q", ErrIdempotencyConflict, p.IdempotencyKey)
	}
	return existing, nil
}
