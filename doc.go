// Package escrow is a marketplace order and wallet ledger. Buyers pay for a
// listing up front, the money is held while the publisher does the work,
// and an admin decision either pays the publisher or refunds the buyer.
//
// Escrow is a library, not a service. Import it into your application and
// give it a store:
//
//	import (
//	    "github.com/xraph/escrow"
//	    "github.com/xraph/escrow/store/postgres"
//	)
//
//	s := postgres.New(db)
//	e := escrow.New(s, escrow.WithCurrency("usd"))
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
// # Components
//
// The engine is built from five parts:
//
//   - Store: accounts, orders, transaction records and idempotency keys,
//     with version-checked writes for accounts and orders
//   - Recorder: the append-only audit trail of credits and debits
//   - Wallet: the only code that changes balances
//   - Orders: the lifecycle methods on Engine (CreateOrder, SubmitContent,
//     SubmitFulfillment, AdminDecide, Cancel, Checkout, SweepExpired)
//   - Settlement: the only code that completes or refunds an order
//
// # Order lifecycle
//
//	pending -> content_submitted -> pending_approval -> payment_pending -> completed
//	pending -> cancelled                     (buyer cancels)
//	pending -> refunded                      (content deadline passed)
//	pending_approval -> refunded             (admin rejects)
//
// Creating an order debits the buyer the full total. Approval credits the
// publisher the base amount; the platform and content fees stay with the
// platform. Rejection, cancellation and the auto-refund return the full
// total to the buyer.
//
// # Consistency
//
// Every balance change is paired with exactly one transaction record, so
// an account balance always equals its credits minus its debits.
// Reconcile checks this. Concurrent writes to the same account or order
// are detected through a version number and retried; an order is settled
// at most once no matter how many decisions race for it.
//
// # Money
//
// Amounts are int64 minor units (cents for USD). Fee percentages are
// computed with shopspring/decimal and rounded half-to-even.
//
// # TypeID
//
// All entities use TypeID identifiers:
//
//	acct_01h2xcejqtf2nbrexx3vqjhp41  // Account ID
//	ord_01h2xcejqtf2nbrexx3vqjhp41   // Order ID
//	txn_01h455vb4pex5vsknk084sn02q   // Transaction record ID
package escrow
