package order

import (
	"time"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/types"
)

// MaxContentLength bounds the buyer-supplied content payload, in runes.
const MaxContentLength = 2000

// AutoRefundWindow is how long a pending order waits for content before
// the sweep refunds it.
const AutoRefundWindow = 7 * 24 * time.Hour

type Order struct {
	types.Entity
	ID                 id.OrderID    `json:"id"`
	Number             string        `json:"number"`
	CheckoutID         id.CheckoutID `json:"checkout_id,omitempty"`
	BuyerAccountID     id.AccountID  `json:"buyer_account_id"`
	PublisherAccountID id.AccountID  `json:"publisher_account_id"`
	ListingID          string        `json:"listing_id"`
	BaseAmount         types.Money   `json:"base_amount"`
	PlatformFee        types.Money   `json:"platform_fee"`
	ContentFee         types.Money   `json:"content_fee"`
	TotalAmount        types.Money   `json:"total_amount"`
	NeedsContent       bool          `json:"needs_content"`
	Status             Status        `json:"status"`
	ContentPayload     string        `json:"content_payload,omitempty"`
	FulfillmentURL     string        `json:"fulfillment_url,omitempty"`
	FulfillmentNotes   string        `json:"fulfillment_notes,omitempty"`
	RejectionReason    string        `json:"rejection_reason,omitempty"`
	AutoRefundDeadline time.Time     `json:"auto_refund_deadline"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	RefundedAt         *time.Time    `json:"refunded_at,omitempty"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	Version            int64         `json:"version"`
}

// ExpectedTotal is base + platform fee + content fee.
func (o *Order) ExpectedTotal() types.Money {
	return o.BaseAmount.Add(o.PlatformFee).Add(o.ContentFee)
}

// Retained is what the platform keeps when the order completes.
func (o *Order) Retained() types.Money {
	return o.PlatformFee.Add(o.ContentFee)
}

// Clone returns a shallow copy whose time pointers are not shared.
func (o *Order) Clone() *Order {
	c := *o
	c.CompletedAt = copyTime(o.CompletedAt)
	c.RefundedAt = copyTime(o.RefundedAt)
	c.CancelledAt = copyTime(o.CancelledAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
