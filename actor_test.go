package escrow_test

import (
	"errors"
	"testing"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/order"
)

func TestAuthorize(t *testing.T) {
	o := &order.Order{
		ID:                 id.NewOrderID(),
		BuyerAccountID:     id.NewAccountID(),
		PublisherAccountID: id.NewAccountID(),
	}
	buyer := escrow.Buyer(o.BuyerAccountID.String())
	publisher := escrow.Publisher(o.PublisherAccountID.String())
	stranger := escrow.Buyer(id.NewAccountID().String())
	admin := escrow.Admin("operator-1")

	tests := []struct {
		name   string
		actor  escrow.Actor
		action escrow.Action
		allow  bool
	}{
		{"buyer submits content", buyer, escrow.ActionSubmitContent, true},
		{"buyer cancels", buyer, escrow.ActionCancel, true},
		{"buyer fulfills", buyer, escrow.ActionSubmitFulfillment, false},
		{"buyer decides", buyer, escrow.ActionDecide, false},
		{"publisher fulfills", publisher, escrow.ActionSubmitFulfillment, true},
		{"publisher submits content", publisher, escrow.ActionSubmitContent, false},
		{"publisher views", publisher, escrow.ActionView, true},
		{"admin decides", admin, escrow.ActionDecide, true},
		{"admin cancels", admin, escrow.ActionCancel, false},
		{"stranger views", stranger, escrow.ActionView, false},
		{"stranger cancels", stranger, escrow.ActionCancel, false},
		{"system decides", escrow.System, escrow.ActionDecide, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := escrow.Authorize(tt.actor, o, tt.action)
			if tt.allow && err != nil {
				t.Fatalf("got %v, want allowed", err)
			}
			if !tt.allow && !errors.Is(err, escrow.ErrForbidden) {
				t.Fatalf("got %v, want ErrForbidden", err)
			}
		})
	}
}
