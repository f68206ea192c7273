// Package observability provides a metrics plugin for escrow that records
// lifecycle event counts through a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/escrow/account"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/plugin"
	"github.com/xraph/escrow/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                   = (*MetricsExtension)(nil)
	_ plugin.OnAccountOpened          = (*MetricsExtension)(nil)
	_ plugin.OnWalletCredited         = (*MetricsExtension)(nil)
	_ plugin.OnWalletDebited          = (*MetricsExtension)(nil)
	_ plugin.OnOrderCreated           = (*MetricsExtension)(nil)
	_ plugin.OnContentSubmitted       = (*MetricsExtension)(nil)
	_ plugin.OnFulfillmentSubmitted   = (*MetricsExtension)(nil)
	_ plugin.OnOrderApproved          = (*MetricsExtension)(nil)
	_ plugin.OnOrderRefunded          = (*MetricsExtension)(nil)
	_ plugin.OnOrderAutoRefunded      = (*MetricsExtension)(nil)
	_ plugin.OnOrderCancelled         = (*MetricsExtension)(nil)
	_ plugin.OnSweepCompleted         = (*MetricsExtension)(nil)
	_ plugin.OnReconciliationRequired = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide escrow metrics.
// Money is observed in minor units.
type MetricsExtension struct {
	// Wallet metrics
	AccountsOpened Counter
	WalletCredits  Counter
	WalletDebits   Counter
	CreditAmount   Histogram
	DebitAmount    Histogram

	// Order metrics
	OrdersCreated         Counter
	ContentSubmitted      Counter
	FulfillmentSubmitted  Counter
	OrdersApproved        Counter
	OrdersRefunded        Counter
	OrdersAutoRefunded    Counter
	OrdersCancelled       Counter
	OrderTotal            Histogram
	PlatformRevenue       Counter
	ApprovalLatency       Histogram
	SweepRuns             Counter
	SweepLatency          Histogram
	ReconciliationsNeeded Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		AccountsOpened: factory.Counter("escrow.account.opened"),
		WalletCredits:  factory.Counter("escrow.wallet.credits"),
		WalletDebits:   factory.Counter("escrow.wallet.debits"),
		CreditAmount:   factory.Histogram("escrow.wallet.credit.amount"),
		DebitAmount:    factory.Histogram("escrow.wallet.debit.amount"),

		OrdersCreated:         factory.Counter("escrow.order.created"),
		ContentSubmitted:      factory.Counter("escrow.order.content_submitted"),
		FulfillmentSubmitted:  factory.Counter("escrow.order.fulfillment_submitted"),
		OrdersApproved:        factory.Counter("escrow.order.approved"),
		OrdersRefunded:        factory.Counter("escrow.order.refunded"),
		OrdersAutoRefunded:    factory.Counter("escrow.order.auto_refunded"),
		OrdersCancelled:       factory.Counter("escrow.order.cancelled"),
		OrderTotal:            factory.Histogram("escrow.order.total_amount"),
		PlatformRevenue:       factory.Counter("escrow.platform.revenue"),
		ApprovalLatency:       factory.Histogram("escrow.order.approval.latency_seconds"),
		SweepRuns:             factory.Counter("escrow.sweep.runs"),
		SweepLatency:          factory.Histogram("escrow.sweep.latency_ms"),
		ReconciliationsNeeded: factory.Counter("escrow.reconciliation.required"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Wallet hooks
// ──────────────────────────────────────────────────

func (m *MetricsExtension) OnAccountOpened(_ context.Context, _ *account.Account) error {
	m.AccountsOpened.Inc()
	return nil
}

func (m *MetricsExtension) OnWalletCredited(_ context.Context, _ id.AccountID, amount, _ types.Money) error {
	m.WalletCredits.Inc()
	m.CreditAmount.Observe(float64(amount.Amount))
	return nil
}

func (m *MetricsExtension) OnWalletDebited(_ context.Context, _ id.AccountID, amount, _ types.Money) error {
	m.WalletDebits.Inc()
	m.DebitAmount.Observe(float64(amount.Amount))
	return nil
}

// ──────────────────────────────────────────────────
// Order hooks
// ──────────────────────────────────────────────────

func (m *MetricsExtension) OnOrderCreated(_ context.Context, o *order.Order, _ types.Actor) error {
	m.OrdersCreated.Inc()
	m.OrderTotal.Observe(float64(o.TotalAmount.Amount))
	return nil
}

func (m *MetricsExtension) OnContentSubmitted(_ context.Context, _ *order.Order, _ types.Actor) error {
	m.ContentSubmitted.Inc()
	return nil
}

func (m *MetricsExtension) OnFulfillmentSubmitted(_ context.Context, _ *order.Order, _ types.Actor) error {
	m.FulfillmentSubmitted.Inc()
	return nil
}

// OnOrderApproved counts the retained fees as revenue and observes the time
// from creation to completion.
func (m *MetricsExtension) OnOrderApproved(_ context.Context, o *order.Order, _ types.Actor) error {
	m.OrdersApproved.Inc()
	m.PlatformRevenue.Add(float64(o.Retained().Amount))
	if o.CompletedAt != nil {
		m.ApprovalLatency.Observe(o.CompletedAt.Sub(o.CreatedAt).Seconds())
	}
	return nil
}

func (m *MetricsExtension) OnOrderRefunded(_ context.Context, _ *order.Order, _ types.Actor) error {
	m.OrdersRefunded.Inc()
	return nil
}

func (m *MetricsExtension) OnOrderAutoRefunded(_ context.Context, _ *order.Order) error {
	m.OrdersAutoRefunded.Inc()
	return nil
}

func (m *MetricsExtension) OnOrderCancelled(_ context.Context, _ *order.Order, _ types.Actor) error {
	m.OrdersCancelled.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Operational hooks
// ──────────────────────────────────────────────────

func (m *MetricsExtension) OnSweepCompleted(_ context.Context, _, _ int, elapsed time.Duration) error {
	m.SweepRuns.Inc()
	m.SweepLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

func (m *MetricsExtension) OnReconciliationRequired(_ context.Context, _ id.AccountID, _ id.OrderID, _ error) error {
	m.ReconciliationsNeeded.Inc()
	return nil
}
