package transaction

import (
	"time"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/types"
)

type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

func (k Kind) Valid() bool { return k == KindCredit || k == KindDebit }

// Record is one immutable entry in an account's audit trail. OrderID is
// nil for entries not tied to an order, such as wallet top-ups.
type Record struct {
	ID             id.TransactionID `json:"id"`
	AccountID      id.AccountID     `json:"account_id"`
	OrderID        *id.OrderID      `json:"order_id,omitempty"`
	Kind           Kind             `json:"kind"`
	Amount         types.Money      `json:"amount"`
	Description    string           `json:"description"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	PaymentRef     string           `json:"payment_ref,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Signed returns the amount with debits negated.
func (r *Record) Signed() types.Money {
	if r.Kind == KindDebit {
		return r.Amount.Negate()
	}
	return r.Amount
}

// Totals is the per-kind sum of an account's records, in minor units.
type Totals struct {
	Credits int64 `json:"credits"`
	Debits  int64 `json:"debits"`
	Count   int64 `json:"count"`
}

// Net is credits minus debits.
func (t Totals) Net() int64 { return t.Credits - t.Debits }
