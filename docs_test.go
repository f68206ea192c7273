package escrow_test

import (
	"context"
	"log"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/account"
	"github.com/xraph/escrow/store/memory"
	"github.com/xraph/escrow/types"
)

// TestDocumentationExamples verifies that the examples in the documentation compile and run.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		e := escrow.New(store,
			escrow.WithLogger(slog.Default()),
			escrow.WithCurrency("usd"),
			escrow.WithAutoRefundWindow(7*24*time.Hour),
		)

		ctx := context.Background()
		if err := e.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer e.Stop()

		buyer, err := e.OpenAccount(ctx, "user_buyer", account.RoleBuyer)
		if err != nil {
			t.Fatal(err)
		}
		publisher, err := e.OpenAccount(ctx, "user_publisher", account.RolePublisher)
		if err != nil {
			t.Fatal(err)
		}

		// Credit a verified gateway payment
		if _, err := e.TopUp(ctx, escrow.TopUpParams{
			AccountID:  buyer.ID,
			Amount:     types.USD(50000), // $500.00
			PaymentRef: "pi_3Nk2",
		}); err != nil {
			t.Fatal(err)
		}

		// Check out a cart; fees come from the pricing policy
		res, err := e.Checkout(ctx, escrow.Buyer(buyer.ID.String()), escrow.CheckoutParams{
			BuyerAccountID: buyer.ID,
			Lines: []escrow.CartLine{
				{PublisherAccountID: publisher.ID, ListingID: "tech-blog", BasePrice: types.USD(20000), NeedsContent: true},
			},
			IdempotencyKey: "cart_8812",
		})
		if err != nil {
			t.Fatal(err)
		}
		o := res.Orders[0]
		log.Printf("Order %s charged %s\n", o.Number, o.TotalAmount)

		if _, err := e.SubmitContent(ctx, escrow.Buyer(buyer.ID.String()), o.ID, "Article draft"); err != nil {
			t.Fatal(err)
		}
		if _, err := e.SubmitFulfillment(ctx, escrow.Publisher(publisher.ID.String()), o.ID,
			"https://tech-blog.example.com/post", ""); err != nil {
			t.Fatal(err)
		}

		done, err := e.AdminDecide(ctx, escrow.Admin("ops"), escrow.DecideParams{OrderID: o.ID, Approved: true})
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("Order %s is %s\n", done.Number, done.Status)

		if err := e.Reconcile(ctx, buyer.ID); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("MoneyExamples", func(t *testing.T) {
		_ = types.USD(4900)   // $49.00
		_ = types.EUR(9900)   // €99.00
		_ = types.Zero("usd") // $0.00

		m, err := types.ParseMoney("12.34", "usd")
		if err != nil {
			t.Fatal(err)
		}
		_ = m.Add(types.USD(66)) // $13.00

		_ = m.String()      // "$12.34"
		_ = m.FormatMajor() // "12.34"
	})
}
