// Package notify forwards escrow domain events to an external Sink
// (a message broker, a job queue, a webhook) without blocking the ledger.
//
// The Notifier is an escrow plugin. Hooks copy the event into a bounded
// queue; a fixed pool of workers drains it into the Sink. A full queue
// drops the event and logs a warning: notifications are best effort and
// the transaction records remain the source of truth.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/types"
)

// EventType names what happened.
type EventType string

const (
	EventOrderCreated           EventType = "order.created"
	EventContentSubmitted       EventType = "order.content_submitted"
	EventFulfillmentSubmitted   EventType = "order.fulfillment_submitted"
	EventOrderApproved          EventType = "order.approved"
	EventOrderRefunded          EventType = "order.refunded"
	EventOrderAutoRefunded      EventType = "order.auto_refunded"
	EventOrderCancelled         EventType = "order.cancelled"
	EventReconciliationRequired EventType = "reconciliation.required"
)

// Event is the envelope handed to a Sink. Amount is in minor units of
// Currency.
type Event struct {
	ID                 string    `json:"id"`
	Type               EventType `json:"type"`
	OccurredAt         time.Time `json:"occurred_at"`
	OrderID            string    `json:"order_id,omitempty"`
	OrderNumber        string    `json:"order_number,omitempty"`
	Status             string    `json:"status,omitempty"`
	BuyerAccountID     string    `json:"buyer_account_id,omitempty"`
	PublisherAccountID string    `json:"publisher_account_id,omitempty"`
	AccountID          string    `json:"account_id,omitempty"`
	Amount             int64     `json:"amount,omitempty"`
	Currency           string    `json:"currency,omitempty"`
	ActorRole          string    `json:"actor_role,omitempty"`
	ActorID            string    `json:"actor_id,omitempty"`
	Reason             string    `json:"reason,omitempty"`
}

// Key is the routing key used by broker sinks, e.g. "escrow.order.approved".
func (e Event) Key() string { return "escrow." + string(e.Type) }

// Sink delivers events. Deliver may be retried, so implementations should
// treat Event.ID as an idempotency key.
type Sink interface {
	Deliver(ctx context.Context, evt Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, evt Event) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, evt Event) error { return f(ctx, evt) }

func orderEvent(typ EventType, at time.Time, o *order.Order, actor types.Actor, amount types.Money) Event {
	return Event{
		ID:                 newEventID(),
		Type:               typ,
		OccurredAt:         at,
		OrderID:            o.ID.String(),
		OrderNumber:        o.Number,
		Status:             string(o.Status),
		BuyerAccountID:     o.BuyerAccountID.String(),
		PublisherAccountID: o.PublisherAccountID.String(),
		Amount:             amount.Amount,
		Currency:           amount.Currency,
		ActorRole:          string(actor.Role),
		ActorID:            actor.ID,
		Reason:             o.RejectionReason,
	}
}

func newEventID() string { return uuid.NewString() }
