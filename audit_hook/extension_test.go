package audithook_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/account"
	audithook "github.com/xraph/escrow/audit_hook"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/store/memory"
	"github.com/xraph/escrow/types"
)

type captured struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (c *captured) Record(_ context.Context, evt *audithook.AuditEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *captured) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Action
	}
	return out
}

func TestOrderLifecycleIsAudited(t *testing.T) {
	ctx := context.Background()
	rec := &captured{}
	ext := audithook.New(rec, audithook.WithEnabledActions(
		audithook.ActionOrderCreated,
		audithook.ActionOrderApproved,
	))

	e := escrow.New(memory.New(), escrow.WithPlugin(ext))
	buyer, _ := e.OpenAccount(ctx, "buyer", account.RoleBuyer)
	publisher, _ := e.OpenAccount(ctx, "publisher", account.RolePublisher)
	if _, err := e.TopUp(ctx, escrow.TopUpParams{AccountID: buyer.ID, Amount: types.USD(1000), PaymentRef: "pay-1"}); err != nil {
		t.Fatal(err)
	}

	o, err := e.CreateOrder(ctx, escrow.Buyer(buyer.ID.String()), escrow.CreateOrderParams{
		BuyerAccountID:     buyer.ID,
		PublisherAccountID: publisher.ID,
		ListingID:          "listing-1",
		BaseAmount:         types.USD(100),
		PlatformFee:        types.USD(5),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitContent(ctx, escrow.Buyer(buyer.ID.String()), o.ID, "draft"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitFulfillment(ctx, escrow.Publisher(publisher.ID.String()), o.ID, "https://example.com/p", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AdminDecide(ctx, escrow.Admin("ops"), escrow.DecideParams{OrderID: o.ID, Approved: true}); err != nil {
		t.Fatal(err)
	}

	got := rec.actions()
	want := []string{audithook.ActionOrderCreated, audithook.ActionOrderApproved}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}

	approved := rec.events[1]
	if approved.ResourceID != o.ID.String() || approved.ActorRole != "admin" {
		t.Errorf("approved event = %+v", approved)
	}
	if approved.Metadata["payout"] != int64(100) {
		t.Errorf("payout = %v, want 100", approved.Metadata["payout"])
	}
}

func TestDisabledActions(t *testing.T) {
	ctx := context.Background()
	rec := &captured{}
	ext := audithook.New(rec, audithook.WithDisabledActions(audithook.ActionWalletCredited))

	_ = ext.OnWalletCredited(ctx, id.NewAccountID(), types.USD(1), types.USD(1))
	_ = ext.OnOrderCancelled(ctx, &order.Order{ID: id.NewOrderID(), Status: order.StatusCancelled}, escrow.System)

	got := rec.actions()
	if len(got) != 1 || got[0] != audithook.ActionOrderCancelled {
		t.Fatalf("got %v, want only %s", got, audithook.ActionOrderCancelled)
	}
}

func TestReconciliationIsCritical(t *testing.T) {
	rec := &captured{}
	ext := audithook.New(rec)

	cause := errors.New("store unavailable")
	_ = ext.OnReconciliationRequired(context.Background(), id.NewAccountID(), id.NewOrderID(), cause)

	if len(rec.events) != 1 {
		t.Fatalf("got %d events, want 1", len(rec.events))
	}
	evt := rec.events[0]
	if evt.Severity != audithook.SeverityCritical || evt.Outcome != audithook.OutcomeFailure {
		t.Errorf("severity/outcome = %s/%s", evt.Severity, evt.Outcome)
	}
	if evt.Reason != cause.Error() {
		t.Errorf("reason = %q, want %q", evt.Reason, cause.Error())
	}
}

func TestRecorderFailureIsSwallowed(t *testing.T) {
	ext := audithook.New(audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("backend down")
	}))
	if err := ext.OnSweepCompleted(context.Background(), 1, 0, 0); err != nil {
		t.Fatalf("got %v, want nil", err)
	}
}
