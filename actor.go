package escrow

import (
	"fmt"

	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/types"
)

// Action is an order operation subject to ownership checks.
type Action string

const (
	ActionSubmitContent     Action = "submit_content"
	ActionSubmitFulfillment Action = "submit_fulfillment"
	ActionDecide            Action = "decide"
	ActionCancel            Action = "cancel"
	ActionView              Action = "view"
)

// Authorize reports whether actor may perform action on o. It is meant
// for the request boundary; the engine operations themselves trust their
// caller. The buyer owns content and cancellation, the publisher owns
// fulfillment and admins own decisions. Admins may view everything.
func Authorize(actor types.Actor, o *order.Order, action Action) error {
	isBuyer := actor.Role == types.ActorBuyer && actor.ID == o.BuyerAccountID.String()
	isPublisher := actor.Role == types.ActorPublisher && actor.ID == o.PublisherAccountID.String()
	isAdmin := actor.Role == types.ActorAdmin || actor.Role == types.ActorSystem

	var ok bool
	switch action {
	case ActionSubmitContent, ActionCancel:
		ok = isBuyer
	case ActionSubmitFulfillment:
		ok = isPublisher
	case ActionDecide:
		ok = isAdmin
	case ActionView:
		ok = isBuyer || isPublisher || isAdmin
	}
	if !ok {
		return fmt.Errorf("%w: %s %q may not %s order %s", ErrForbidden, actor.Role, actor.ID, action, o.ID)
	}
	return nil
}
