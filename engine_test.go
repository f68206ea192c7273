package escrow_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/account"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/store/memory"
	"github.com/xraph/escrow/transaction"
	"github.com/xraph/escrow/types"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	engine    *escrow.Engine
	store     *memory.Store
	clock     *clock
	buyer     *account.Account
	publisher *account.Account
}

var (
	admin = escrow.Admin("operator-1")
	ctx   = context.Background()
)

func newFixture(t *testing.T, balance int64, opts ...escrow.Option) *fixture {
	t.Helper()
	mem := memory.New()
	return newFixtureOn(t, mem, mem, balance, opts...)
}

// newFixtureOn runs the engine over s, which must be backed by mem.
func newFixtureOn(t *testing.T, mem *memory.Store, s store.Store, balance int64, opts ...escrow.Option) *fixture {
	t.Helper()

	f := &fixture{
		store: mem,
		clock: &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	opts = append([]escrow.Option{escrow.WithClock(f.clock.Now)}, opts...)
	f.engine = escrow.New(s, opts...)
	if err := f.engine.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = f.engine.Stop() })

	var err error
	if f.buyer, err = f.engine.OpenAccount(ctx, "user-buyer", account.RoleBuyer); err != nil {
		t.Fatalf("OpenAccount buyer: %v", err)
	}
	if f.publisher, err = f.engine.OpenAccount(ctx, "user-publisher", account.RolePublisher); err != nil {
		t.Fatalf("OpenAccount publisher: %v", err)
	}
	if balance > 0 {
		if _, err := f.engine.TopUp(ctx, escrow.TopUpParams{
			AccountID:  f.buyer.ID,
			Amount:     types.USD(balance),
			PaymentRef: "pay-initial",
		}); err != nil {
			t.Fatalf("TopUp: %v", err)
		}
	}
	return f
}

func (f *fixture) createOrder(t *testing.T, base, fee int64) *order.Order {
	t.Helper()
	o, err := f.engine.CreateOrder(ctx, escrow.Buyer(f.buyer.ID.String()), escrow.CreateOrderParams{
		BuyerAccountID:     f.buyer.ID,
		PublisherAccountID: f.publisher.ID,
		ListingID:          "listing-1",
		BaseAmount:         types.USD(base),
		PlatformFee:        types.USD(fee),
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return o
}

// awaitApproval walks a pending order to pending_approval.
func (f *fixture) awaitApproval(t *testing.T, o *order.Order) {
	t.Helper()
	if _, err := f.engine.SubmitContent(ctx, escrow.Buyer(f.buyer.ID.String()), o.ID, "Guest post about widgets"); err != nil {
		t.Fatalf("SubmitContent: %v", err)
	}
	if _, err := f.engine.SubmitFulfillment(ctx, escrow.Publisher(f.publisher.ID.String()), o.ID,
		"https://blog.example.com/widgets", "published"); err != nil {
		t.Fatalf("SubmitFulfillment: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, accountID id.AccountID) int64 {
	t.Helper()
	b, err := f.engine.Wallet().Balance(ctx, accountID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b.Amount
}

func (f *fixture) reconcile(t *testing.T, accounts ...id.AccountID) {
	t.Helper()
	for _, a := range accounts {
		if err := f.engine.Reconcile(ctx, a); err != nil {
			t.Errorf("Reconcile %s: %v", a, err)
		}
	}
}

func TestOrderApproved(t *testing.T) {
	f := newFixture(t, 1000)

	o := f.createOrder(t, 100, 5)
	if o.Status != order.StatusPending {
		t.Fatalf("status = %s, want pending", o.Status)
	}
	if o.TotalAmount.Amount != 105 {
		t.Errorf("total = %d, want 105", o.TotalAmount.Amount)
	}
	if !strings.HasPrefix(o.Number, "LP-2025-") || len(o.Number) != len("LP-2025-")+10 {
		t.Errorf("number = %q, want LP-2025-XXXXXXXXXX", o.Number)
	}
	if want := f.clock.Now().Add(order.AutoRefundWindow); !o.AutoRefundDeadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", o.AutoRefundDeadline, want)
	}
	if got := f.balance(t, f.buyer.ID); got != 895 {
		t.Fatalf("buyer balance = %d, want 895", got)
	}

	f.awaitApproval(t, o)
	done, err := f.engine.AdminDecide(ctx, admin, escrow.DecideParams{OrderID: o.ID, Approved: true})
	if err != nil {
		t.Fatalf("AdminDecide: %v", err)
	}
	if done.Status != order.StatusCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}
	if done.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	if got := f.balance(t, f.buyer.ID); got != 895 {
		t.Errorf("buyer balance = %d, want 895", got)
	}
	if got := f.balance(t, f.publisher.ID); got != 100 {
		t.Errorf("publisher balance = %d, want 100", got)
	}

	recs, err := f.engine.Recorder().OrderRecords(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("order records = %d, want 2", len(recs))
	}
	f.reconcile(t, f.buyer.ID, f.publisher.ID)
}

func TestOrderRejected(t *testing.T) {
	f := newFixture(t, 1000)
	o := f.createOrder(t, 100, 5)
	f.awaitApproval(t, o)

	done, err := f.engine.AdminDecide(ctx, admin, escrow.DecideParams{
		OrderID: o.ID, Approved: false, Reason: "link is broken",
	})
	if err != nil {
		t.Fatalf("AdminDecide: %v", err)
	}
	if done.Status != order.StatusRefunded {
		t.Errorf("status = %s, want refunded", done.Status)
	}
	if done.RejectionReason != "link is broken" {
		t.Errorf("reason = %q", done.RejectionReason)
	}
	if got := f.balance(t, f.buyer.ID); got != 1000 {
		t.Errorf("buyer balance = %d, want 1000", got)
	}
	if got := f.balance(t, f.publisher.ID); got != 0 {
		t.Errorf("publisher balance = %d, want 0", got)
	}

	recs, err := f.engine.Recorder().OrderRecords(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	var refund *transaction.Record
	for _, r := range recs {
		if r.Kind == transaction.KindCredit {
			refund = r
		}
	}
	if refund == nil || refund.Amount.Amount != 105 || refund.AccountID != f.buyer.ID {
		t.Fatalf("refund record = %+v, want buyer credit of 105", refund)
	}
	f.reconcile(t, f.buyer.ID, f.publisher.ID)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t, 1000)
	o := f.createOrder(t, 100, 5)
	f.awaitApproval(t, o)

	_, err := f.engine.AdminDecide(ctx, admin, escrow.DecideParams{OrderID: o.ID, Reason: "  "})
	if !errors.Is(err, escrow.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestCreateOrderInsufficientFunds(t *testing.T) {
	f := newFixture(t, 50)

	_, err := f.engine.CreateOrder(ctx, escrow.Buyer(f.buyer.ID.String()), escrow.CreateOrderParams{
		BuyerAccountID:     f.buyer.ID,
		PublisherAccountID: f.publisher.ID,
		ListingID:          "listing-1",
		BaseAmount:         types.USD(100),
		PlatformFee:        types.USD(5),
	})
	if !errors.Is(err, escrow.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	orders, err := f.engine.ListOrders(ctx, order.ListOpts{BuyerAccountID: f.buyer.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 0 {
		t.Errorf("orders = %d, want 0", len(orders))
	}
	if got := f.balance(t, f.buyer.ID); got != 50 {
		t.Errorf("buyer balance = %d, want 50", got)
	}
	recs, err := f.engine.Records(ctx, f.buyer.ID, transaction.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("buyer records = %d, want only the top-up", len(recs))
	}
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t, 1000)
	valid := escrow.CreateOrderParams{
		BuyerAccountID:     f.buyer.ID,
		PublisherAccountID: f.publisher.ID,
		ListingID:          "listing-1",
		BaseAmount:         types.USD(100),
		PlatformFee:        types.USD(5),
	}

	tests := []struct {
		name   string
		mutate func(p *escrow.CreateOrderParams)
	}{
		{"zero base", func(p *escrow.CreateOrderParams) { p.BaseAmount = types.USD(0) }},
		{"negative fee", func(p *escrow.CreateOrderParams) { p.PlatformFee = types.USD(-1) }},
		{"self purchase", func(p *escrow.CreateOrderParams) { p.PublisherAccountID = p.BuyerAccountID }},
		{"missing listing", func(p *escrow.CreateOrderParams) { p.ListingID = "" }},
		{"content fee without content", func(p *escrow.CreateOrderParams) { p.ContentFee = types.USD(50) }},
		{"other currency", func(p *escrow.CreateOrderParams) { p.BaseAmount = types.EUR(100) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			_, err := f.engine.CreateOrder(ctx, escrow.System, p)
			if !errors.Is(err, escrow.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}

	if got := f.balance(t, f.buyer.ID); got != 1000 {
		t.Errorf("buyer balance = %d, want 1000", got)
	}
}

func TestCreateOrderUnknownPublisher(t *testing.T) {
	f := newFixture(t, 1000)
	_, err := f.engine.CreateOrder(ctx, escrow.System, escrow.CreateOrderParams{
		BuyerAccountID:     f.buyer.ID,
		PublisherAccountID: id.NewAccountID(),
		ListingID:          "listing-1",
		BaseAmount:         types.USD(100),
	})
	if !errors.Is(err, escrow.ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
	if got := f.balance(t, f.buyer.ID); got != 1000 {
		t.Errorf("buyer balance = %d, want 1000", got)
	}
}

func TestCreateOrderNumberClash(t *testing.T) {
	f := newFixture(t, 1000, escrow.WithOrderNumbers(func(time.Time) string { return "LP-2025-FIXED00000" }))
	f.createOrder(t, 100, 5)

	_, err := f.engine.CreateOrder(ctx, escrow.System, escrow.CreateOrderParams{
		BuyerAccountID:     f.buyer.ID,
		PublisherAccountID: f.publisher.ID,
		ListingID:          "listing-2",
		BaseAmount:         types.USD(100),
		PlatformFee:        types.USD(5),
	})
	if !errors.Is(err, escrow.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}

	// The second debit was compensated with a reversal credit.
	if got := f.balance(t, f.buyer.ID); got != 895 {
		t.Errorf("buyer balance = %d, want 895", got)
	}
	recs, err := f.engine.Records(ctx, f.buyer.ID, transaction.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 4 {
		t.Errorf("buyer records = %d, want top-up, two debits and a reversal", len(recs))
	}
	f.reconcile(t, f.buyer.ID)
}

func TestSubmitContentLimit(t *testing.T) {
	f := newFixture(t, 1000)

	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"empty", "", escrow.ErrValidation},
		{"too long", strings.Repeat("é", order.MaxContentLength+1), escrow.ErrValidation},
		{"at limit", strings.Repeat("é", order.MaxContentLength), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := f.createOrder(t, 10, 0)
			got, err := f.engine.SubmitContent(ctx, escrow.System, o.ID, tt.payload)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err == nil && got.Status != order.StatusContentSubmitted {
				t.Errorf("status = %s, want content_submitted", got.Status)
			}
		})
	}
}

func TestSubmitFulfillmentURL(t *testing.T) {
	f := newFixture(t, 1000)
	o := f.createOrder(t, 100, 5)
	if _, err := f.engine.SubmitContent(ctx, escrow.System, o.ID, "content"); err != nil {
		t.Fatal(err)
	}

	for _, link := range []string{"", "not a url", "ftp://example.com/x", "/relative/path"} {
		if _, err := f.engine.SubmitFulfillment(ctx, escrow.System, o.ID, link, ""); !errors.Is(err, escrow.ErrValidation) {
			t.Errorf("link %q: err = %v, want ErrValidation", link, err)
		}
	}
}

func TestInvalidTransitions(t *testing.T) {
	f := newFixture(t, 1000)
	o := f.createOrder(t, 100, 5)

	if _, err := f.engine.SubmitFulfillment(ctx, escrow.System, o.ID, "https://example.com", ""); !errors.Is(err, escrow.ErrInvalidState) {
		t.Errorf("fulfillment from pending: err = %v, want ErrInvalidState", err)
	}
	if _, err := f.engine.AdminDecide(ctx, admin, escrow.DecideParams{OrderID: o.ID, Approved: true}); !errors.Is(err, escrow.ErrInvalidState) {
		t.Errorf("decide from pending: err = %v, want ErrInvalidState", err)
	}

	f.awaitApproval(t, o)
	if _, err := f.engine.SubmitContent(ctx, escrow.System, o.ID, "again"); !errors.Is(err, escrow.ErrInvalidState) {
		t.Errorf("content from pending_approval: err = %v, want ErrInvalidState", err)
	}
	if _, err := f.engine.Cancel(ctx, escrow.System, o.ID, "changed my mind"); !errors.Is(err, escrow.ErrInvalidState) {
		t.Errorf("cancel from pending_approval: err = %v, want ErrInvalidState", err)
	}

	if _, err := f.engine.AdminDecide(ctx, admin, escrow.DecideParams{OrderID: o.ID, Approved: true}); err != nil {
		t.Fatalf("first decide: %v", err)
	}
	_, err := f.engine.AdminDecide(ctx, admin, escrow.DecideParams{OrderID: o.ID, Approved: false, Reason: "late"})
	var stateErr *escrow.StateError
	if !errors.As(err, &stateErr) || stateErr.From != order.StatusCompleted {
		t.Fatalf("second decide: err = %v, want StateError from completed", err)
	}
	if got := f.balance(t, f.publisher.ID); got != 100 {
		t.Errorf("publisher balance = %d, want 100", got)
	}
}

func TestConcurrentDecide(t *testing.T) {
	f := newFixture(t, 1000)
	o := f.createOrder(t, 100, 5)
	f.awaitApproval(t, o)

	const deciders = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		unexpect  []error
	)
	for i := range deciders {
		wg.Add(1)
		go func(approve bool) {
			defer wg.Done()
			_, err := f.engine.AdminDecide(ctx, admin, escrow.DecideParams{
				OrderID: o.ID, Approved: approve, Reason: "racing",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, escrow.ErrInvalidState), errors.Is(err, escrow.ErrConcurrentModification):
			default:
				unexpect = append(unexpect, err)
			}
		}(i%2 == 0)
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}
	if len(unexpect) > 0 {
		t.Fatalf("unexpected errors: %v", unexpect)
	}

	final, err := f.engine.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	buyer, publisher := f.balance(t, f.buyer.ID), f.balance(t, f.publisher.ID)
	switch final.Status {
	case order.StatusCompleted:
		if buyer != 895 || publisher != 100 {
			t.Errorf("balances = %d/%d, want 895/100", buyer, publisher)
		}
	case order.StatusRefunded:
		if buyer != 1000 || publisher != 0 {
			t.Errorf("balances = %d/%d, want 1000/0", buyer, publisher)
		}
	default:
		t.Fatalf("status = %s, want a settled status", final.Status)
	}
	f.reconcile(t, f.buyer.ID, f.publisher.ID)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, 1000)
	o := f.createOrder(t, 100, 5)

	got, err := f.engine.Cancel(ctx, escrow.Buyer(f.buyer.ID.String()), o.ID, "no longer needed")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != order.StatusCancelled || got.CancelledAt == nil {
		t.Errorf("order = %s cancelled_at=%v, want cancelled with timestamp", got.Status, got.CancelledAt)
	}
	if b := f.balance(t, f.buyer.ID); b != 1000 {
		t.Errorf("buyer balance = %d, want 1000", b)
	}
	if _, err := f.engine.Cancel(ctx, escrow.System, o.ID, "again"); !errors.Is(err, escrow.ErrInvalidState) {
		t.Errorf("second cancel: err = %v, want ErrInvalidState", err)
	}
	f.reconcile(t, f.buyer.ID)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t, 1000)
	stale := f.createOrder(t, 100, 5)
	progressing := f.createOrder(t, 200, 10)
	if _, err := f.engine.SubmitContent(ctx, escrow.System, progressing.ID, "content"); err != nil {
		t.Fatal(err)
	}
	if got := f.balance(t, f.buyer.ID); got != 685 {
		t.Fatalf("buyer balance = %d, want 685", got)
	}

	f.clock.Advance(6 * 24 * time.Hour)
	res, err := f.engine.SweepExpired(ctx, f.clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if res.Refunded != 0 {
		t.Errorf("refunded before deadline = %d, want 0", res.Refunded)
	}

	f.clock.Advance(2 * 24 * time.Hour)
	overdue, err := f.engine.ListOverdue(ctx, f.clock.Now(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(overdue) != 1 || overdue[0].ID != stale.ID {
		t.Fatalf("overdue = %d orders, want only the stale one", len(overdue))
	}

	res, err = f.engine.SweepExpired(ctx, f.clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if res.Refunded != 1 {
		t.Fatalf("refunded = %d, want 1", res.Refunded)
	}

	got, err := f.engine.GetOrder(ctx, stale.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusRefunded || got.RejectionReason != escrow.AutoRefundReason {
		t.Errorf("order = %s %q, want refunded by sweep", got.Status, got.RejectionReason)
	}
	if b := f.balance(t, f.buyer.ID); b != 790 {
		t.Errorf("buyer balance = %d, want 790", b)
	}

	other, err := f.engine.GetOrder(ctx, progressing.ID)
	if err != nil {
		t.Fatal(err)
	}
	if other.Status != order.StatusContentSubmitted {
		t.Errorf("progressing order = %s, want content_submitted", other.Status)
	}

	res, err = f.engine.SweepExpired(ctx, f.clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if res.Refunded != 0 {
		t.Errorf("second sweep refunded = %d, want 0", res.Refunded)
	}
	if b := f.balance(t, f.buyer.ID); b != 790 {
		t.Errorf("buyer balance after second sweep = %d, want 790", b)
	}
	f.reconcile(t, f.buyer.ID)
}

func TestSweepPaging(t *testing.T) {
	f := newFixture(t, 10000, escrow.WithSweepBatchSize(2))
	for range 5 {
		f.createOrder(t, 100, 5)
	}

	f.clock.Advance(8 * 24 * time.Hour)
	res, err := f.engine.SweepExpired(ctx, f.clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if res.Refunded != 5 {
		t.Errorf("refunded = %d, want 5", res.Refunded)
	}
	if b := f.balance(t, f.buyer.ID); b != 10000 {
		t.Errorf("buyer balance = %d, want 10000", b)
	}
}

func TestCheckout(t *testing.T) {
	f := newFixture(t, 100000)
	lines := []escrow.CartLine{
		{PublisherAccountID: f.publisher.ID, ListingID: "listing-1", BasePrice: types.USD(10000)},
		{PublisherAccountID: f.publisher.ID, ListingID: "listing-2", BasePrice: types.USD(10000), NeedsContent: true},
	}

	res, err := f.engine.Checkout(ctx, escrow.Buyer(f.buyer.ID.String()), escrow.CheckoutParams{
		BuyerAccountID: f.buyer.ID,
		Lines:          lines,
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if len(res.Orders) != 2 {
		t.Fatalf("orders = %d, want 2", len(res.Orders))
	}
	if res.Total.Amount != 10500+15750 {
		t.Errorf("total = %d, want %d", res.Total.Amount, 10500+15750)
	}
	for _, o := range res.Orders {
		if o.CheckoutID != res.CheckoutID {
			t.Errorf("order %s checkout = %s, want %s", o.ID, o.CheckoutID, res.CheckoutID)
		}
	}
	if b := f.balance(t, f.buyer.ID); b != 100000-26250 {
		t.Errorf("buyer balance = %d, want %d", b, 100000-26250)
	}
	f.reconcile(t, f.buyer.ID)
}

func TestCheckoutAllOrNothing(t *testing.T) {
	f := newFixture(t, 100000)
	lines := []escrow.CartLine{
		{PublisherAccountID: f.publisher.ID, ListingID: "listing-1", BasePrice: types.USD(10000)},
		{PublisherAccountID: id.NewAccountID(), ListingID: "listing-2", BasePrice: types.USD(10000)},
	}

	_, err := f.engine.Checkout(ctx, escrow.System, escrow.CheckoutParams{BuyerAccountID: f.buyer.ID, Lines: lines})
	if !errors.Is(err, escrow.ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
	if b := f.balance(t, f.buyer.ID); b != 100000 {
		t.Errorf("buyer balance = %d, want 100000", b)
	}

	orders, err := f.engine.ListOrders(ctx, order.ListOpts{BuyerAccountID: f.buyer.ID})
	if err != nil {
		t.Fatal(err)
	}
	for _, o := range orders {
		if o.Status != order.StatusCancelled {
			t.Errorf("order %s left in %s, want cancelled", o.ID, o.Status)
		}
	}
	f.reconcile(t, f.buyer.ID)
}

func TestCheckoutInsufficientFunds(t *testing.T) {
	f := newFixture(t, 1000)
	_, err := f.engine.Checkout(ctx, escrow.System, escrow.CheckoutParams{
		BuyerAccountID: f.buyer.ID,
		Lines: []escrow.CartLine{
			{PublisherAccountID: f.publisher.ID, ListingID: "listing-1", BasePrice: types.USD(10000)},
		},
	})
	if !errors.Is(err, escrow.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	n, err := f.store.CountOrders(ctx, order.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("orders = %d, want 0", n)
	}
}

func TestIdempotentCreateOrder(t *testing.T) {
	f := newFixture(t, 1000)
	p := escrow.CreateOrderParams{
		BuyerAccountID:     f.buyer.ID,
		PublisherAccountID: f.publisher.ID,
		ListingID:          "listing-1",
		BaseAmount:         types.USD(100),
		PlatformFee:        types.USD(5),
		IdempotencyKey:     "req-1",
	}

	first, err := f.engine.CreateOrder(ctx, escrow.System, p)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.engine.CreateOrder(ctx, escrow.System, p)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("replay returned %s, want %s", second.ID, first.ID)
	}
	if b := f.balance(t, f.buyer.ID); b != 895 {
		t.Errorf("buyer balance = %d, want 895", b)
	}

	_, err = f.engine.AdminDecide(ctx, admin, escrow.DecideParams{OrderID: first.ID, Approved: true, IdempotencyKey: "req-1"})
	if !errors.Is(err, escrow.ErrIdempotencyConflict) {
		t.Errorf("key reused for decide: err = %v, want ErrIdempotencyConflict", err)
	}
}

func TestIdempotentDecide(t *testing.T) {
	f := newFixture(t, 1000)
	o := f.createOrder(t, 100, 5)
	f.awaitApproval(t, o)

	p := escrow.DecideParams{OrderID: o.ID, Approved: true, IdempotencyKey: "decide-1"}
	if _, err := f.engine.AdminDecide(ctx, admin, p); err != nil {
		t.Fatal(err)
	}
	replayed, err := f.engine.AdminDecide(ctx, admin, p)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed.Status != order.StatusCompleted {
		t.Errorf("replayed status = %s, want completed", replayed.Status)
	}
	if b := f.balance(t, f.publisher.ID); b != 100 {
		t.Errorf("publisher balance = %d, want 100", b)
	}
}

func TestTopUpIdempotent(t *testing.T) {
	f := newFixture(t, 0)
	p := escrow.TopUpParams{AccountID: f.buyer.ID, Amount: types.USD(2500), PaymentRef: "pi_123"}

	first, err := f.engine.TopUp(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if first.PaymentRef != "pi_123" || first.OrderID != nil {
		t.Errorf("record = %+v, want payment ref and no order", first)
	}
	second, err := f.engine.TopUp(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("replay returned %s, want %s", second.ID, first.ID)
	}
	if b := f.balance(t, f.buyer.ID); b != 2500 {
		t.Errorf("balance = %d, want 2500", b)
	}

	if _, err := f.engine.TopUp(ctx, escrow.TopUpParams{AccountID: f.buyer.ID, Amount: types.EUR(100), PaymentRef: "pi_eur"}); !errors.Is(err, escrow.ErrCurrencyMismatch) {
		t.Errorf("foreign currency: err = %v, want ErrCurrencyMismatch", err)
	}
}

func TestOpenAccount(t *testing.T) {
	f := newFixture(t, 0)

	again, err := f.engine.OpenAccount(ctx, "user-buyer", account.RoleBuyer)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != f.buyer.ID {
		t.Errorf("reopen returned %s, want %s", again.ID, f.buyer.ID)
	}
	if _, err := f.engine.OpenAccount(ctx, "user-buyer", account.RolePublisher); !errors.Is(err, escrow.ErrAlreadyExists) {
		t.Errorf("role change: err = %v, want ErrAlreadyExists", err)
	}
	if _, err := f.engine.OpenAccount(ctx, "user-x", account.Role("admin")); !errors.Is(err, escrow.ErrValidation) {
		t.Errorf("bad role: err = %v, want ErrValidation", err)
	}
}

func TestPlatformAccount(t *testing.T) {
	s := memory.New()
	platform := &account.Account{
		Entity:  types.NewEntity(),
		ID:      id.NewAccountID(),
		OwnerID: "platform",
		Role:    account.RolePlatform,
		Balance: types.Zero("usd"),
	}
	if err := s.CreateAccount(ctx, platform); err != nil {
		t.Fatal(err)
	}

	e := escrow.New(s, escrow.WithPlatformAccount(platform.ID))
	buyer, _ := e.OpenAccount(ctx, "buyer", account.RoleBuyer)
	publisher, _ := e.OpenAccount(ctx, "publisher", account.RolePublisher)
	if _, err := e.TopUp(ctx, escrow.TopUpParams{AccountID: buyer.ID, Amount: types.USD(1000), PaymentRef: "p1"}); err != nil {
		t.Fatal(err)
	}

	o, err := e.CreateOrder(ctx, escrow.System, escrow.CreateOrderParams{
		BuyerAccountID:     buyer.ID,
		PublisherAccountID: publisher.ID,
		ListingID:          "listing-1",
		BaseAmount:         types.USD(100),
		PlatformFee:        types.USD(5),
		ContentFee:         types.USD(50),
		NeedsContent:       true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitContent(ctx, escrow.System, o.ID, "content"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitFulfillment(ctx, escrow.System, o.ID, "https://example.com/post", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AdminDecide(ctx, admin, escrow.DecideParams{OrderID: o.ID, Approved: true}); err != nil {
		t.Fatal(err)
	}

	b, err := e.Wallet().Balance(ctx, platform.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.Amount != 55 {
		t.Errorf("platform balance = %d, want 55", b.Amount)
	}
	for _, a := range []id.AccountID{buyer.ID, publisher.ID, platform.ID} {
		if err := e.Reconcile(ctx, a); err != nil {
			t.Errorf("Reconcile: %v", err)
		}
	}
}

func TestResumeSettlements(t *testing.T) {
	f := newFixture(t, 1000)
	o := f.createOrder(t, 100, 5)
	f.awaitApproval(t, o)

	// Simulate a claim whose process died before paying out.
	stuck, err := f.store.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	stuck.Status = order.StatusPaymentPending
	if err := f.store.UpdateOrder(ctx, stuck, stuck.Version); err != nil {
		t.Fatal(err)
	}

	n, err := f.engine.ResumeSettlements(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("resumed fresh claim: %d, want 0", n)
	}

	f.clock.Advance(10 * time.Minute)
	n, err = f.engine.ResumeSettlements(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("resumed = %d, want 1", n)
	}
	got, err := f.engine.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != order.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if b := f.balance(t, f.publisher.ID); b != 100 {
		t.Errorf("publisher balance = %d, want 100", b)
	}

	if n, _ := f.engine.ResumeSettlements(ctx); n != 0 {
		t.Errorf("second resume = %d, want 0", n)
	}
	f.reconcile(t, f.buyer.ID, f.publisher.ID)
}

func TestReconcileDetectsDrift(t *testing.T) {
	f := newFixture(t, 1000)

	a, err := f.store.GetAccount(ctx, f.buyer.ID)
	if err != nil {
		t.Fatal(err)
	}
	a.Balance = types.USD(1200)
	if err := f.store.UpdateAccount(ctx, a, a.Version); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Reconcile(ctx, f.buyer.ID); !errors.Is(err, escrow.ErrLedgerDrift) {
		t.Fatalf("err = %v, want ErrLedgerDrift", err)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, 1000)
	approved := f.createOrder(t, 100, 5)
	f.awaitApproval(t, approved)
	if _, err := f.engine.AdminDecide(ctx, admin, escrow.DecideParams{OrderID: approved.ID, Approved: true}); err != nil {
		t.Fatal(err)
	}
	rejected := f.createOrder(t, 200, 10)
	f.awaitApproval(t, rejected)
	if _, err := f.engine.AdminDecide(ctx, admin, escrow.DecideParams{OrderID: rejected.ID, Reason: "no"}); err != nil {
		t.Fatal(err)
	}
	f.createOrder(t, 50, 0)

	st, err := f.engine.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := map[order.Status]int64{
		order.StatusCompleted: 1,
		order.StatusRefunded:  1,
		order.StatusPending:   1,
	}
	for status, n := range want {
		if st.Orders[status] != n {
			t.Errorf("%s = %d, want %d", status, st.Orders[status], n)
		}
	}
	if st.TotalOrders != 3 {
		t.Errorf("total = %d, want 3", st.TotalOrders)
	}
	if st.PlatformRevenue.Amount != 5 {
		t.Errorf("revenue = %d, want 5", st.PlatformRevenue.Amount)
	}
}

func TestWalletConcurrentCredits(t *testing.T) {
	f := newFixture(t, 0, escrow.WithWalletRetries(100, time.Millisecond))

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.Wallet().Credit(ctx, f.buyer.ID, types.USD(10)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Credit: %v", err)
	}
	if b := f.balance(t, f.buyer.ID); b != workers*10 {
		t.Errorf("balance = %d, want %d", b, workers*10)
	}
}

func TestWalletDebitBelowZero(t *testing.T) {
	f := newFixture(t, 100)
	if _, err := f.engine.Wallet().Debit(ctx, f.buyer.ID, types.USD(101)); !errors.Is(err, escrow.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if b := f.balance(t, f.buyer.ID); b != 100 {
		t.Errorf("balance = %d, want 100", b)
	}
	if _, err := f.engine.Wallet().Credit(ctx, f.buyer.ID, types.USD(0)); !errors.Is(err, escrow.ErrValidation) {
		t.Errorf("zero credit: err = %v, want ErrValidation", err)
	}
}
