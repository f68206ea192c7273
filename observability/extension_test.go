package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/account"
	"github.com/xraph/escrow/observability"
	"github.com/xraph/escrow/store/memory"
	"github.com/xraph/escrow/types"
)

func TestMetricsFollowOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

	e := escrow.New(memory.New(), escrow.WithPlugin(metrics))
	buyer, _ := e.OpenAccount(ctx, "buyer", account.RoleBuyer)
	publisher, _ := e.OpenAccount(ctx, "publisher", account.RolePublisher)
	if _, err := e.TopUp(ctx, escrow.TopUpParams{AccountID: buyer.ID, Amount: types.USD(1000), PaymentRef: "pay-1"}); err != nil {
		t.Fatal(err)
	}

	asBuyer := escrow.Buyer(buyer.ID.String())
	params := escrow.CreateOrderParams{
		BuyerAccountID:     buyer.ID,
		PublisherAccountID: publisher.ID,
		ListingID:          "listing-1",
		BaseAmount:         types.USD(100),
		PlatformFee:        types.USD(5),
	}
	approved, err := e.CreateOrder(ctx, asBuyer, params)
	if err != nil {
		t.Fatal(err)
	}
	cancelled, err := e.CreateOrder(ctx, asBuyer, params)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.SubmitContent(ctx, asBuyer, approved.ID, "draft"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitFulfillment(ctx, escrow.Publisher(publisher.ID.String()), approved.ID, "https://example.com/p", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AdminDecide(ctx, escrow.Admin("ops"), escrow.DecideParams{OrderID: approved.ID, Approved: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Cancel(ctx, asBuyer, cancelled.ID, "changed my mind"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"accounts opened", metrics.AccountsOpened.(prometheus.Counter), 2},
		{"orders created", metrics.OrdersCreated.(prometheus.Counter), 2},
		{"orders approved", metrics.OrdersApproved.(prometheus.Counter), 1},
		{"orders cancelled", metrics.OrdersCancelled.(prometheus.Counter), 1},
		{"platform revenue", metrics.PlatformRevenue.(prometheus.Counter), 5},
		// top-up, approve payout, cancel refund
		{"wallet credits", metrics.WalletCredits.(prometheus.Counter), 3},
		{"wallet debits", metrics.WalletDebits.(prometheus.Counter), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrometheusFactoryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg)

	a := f.Counter("escrow.sweep.runs")
	b := f.Counter("escrow.sweep.runs")
	a.Inc()
	b.Add(2)

	if got := testutil.ToFloat64(a.(prometheus.Counter)); got != 3 {
		t.Errorf("got %v, want 3", got)
	}

	n, err := testutil.GatherAndCount(reg, "escrow_sweep_runs")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("registered series = %d, want 1", n)
	}
}

func TestSweepHookObservesLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

	_ = metrics.OnSweepCompleted(context.Background(), 3, 1, 40*time.Millisecond)

	if got := testutil.ToFloat64(metrics.SweepRuns.(prometheus.Counter)); got != 1 {
		t.Errorf("sweep runs = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(metrics.SweepLatency.(prometheus.Histogram)); n != 1 {
		t.Errorf("latency series = %d, want 1", n)
	}
}
