// Package audithook turns escrow domain events into audit records.
//
// It defines a local Recorder interface so the package does not depend on
// any audit backend. Callers inject a RecorderFunc adapter at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/escrow/account"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/plugin"
	"github.com/xraph/escrow/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                   = (*Extension)(nil)
	_ plugin.OnAccountOpened          = (*Extension)(nil)
	_ plugin.OnWalletCredited         = (*Extension)(nil)
	_ plugin.OnWalletDebited          = (*Extension)(nil)
	_ plugin.OnOrderCreated           = (*Extension)(nil)
	_ plugin.OnContentSubmitted       = (*Extension)(nil)
	_ plugin.OnFulfillmentSubmitted   = (*Extension)(nil)
	_ plugin.OnOrderApproved          = (*Extension)(nil)
	_ plugin.OnOrderRefunded          = (*Extension)(nil)
	_ plugin.OnOrderAutoRefunded      = (*Extension)(nil)
	_ plugin.OnOrderCancelled         = (*Extension)(nil)
	_ plugin.OnSweepCompleted         = (*Extension)(nil)
	_ plugin.OnReconciliationRequired = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry in the audit trail.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	ActorRole  string         `json:"actor_role,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges escrow lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Wallet hooks
// ──────────────────────────────────────────────────

func (e *Extension) OnAccountOpened(ctx context.Context, a *account.Account) error {
	return e.record(ctx, ActionAccountOpened, SeverityInfo, OutcomeSuccess,
		ResourceAccount, a.ID.String(), CategoryWallet, types.System, nil,
		"owner_id", a.OwnerID,
		"role", string(a.Role),
	)
}

func (e *Extension) OnWalletCredited(ctx context.Context, accountID id.AccountID, amount, balance types.Money) error {
	return e.record(ctx, ActionWalletCredited, SeverityInfo, OutcomeSuccess,
		ResourceWallet, accountID.String(), CategoryWallet, types.System, nil,
		"amount", amount.Amount,
		"balance", balance.Amount,
		"currency", amount.Currency,
	)
}

func (e *Extension) OnWalletDebited(ctx context.Context, accountID id.AccountID, amount, balance types.Money) error {
	return e.record(ctx, ActionWalletDebited, SeverityInfo, OutcomeSuccess,
		ResourceWallet, accountID.String(), CategoryWallet, types.System, nil,
		"amount", amount.Amount,
		"balance", balance.Amount,
		"currency", amount.Currency,
	)
}

// ──────────────────────────────────────────────────
// Order hooks
// ──────────────────────────────────────────────────

func (e *Extension) OnOrderCreated(ctx context.Context, o *order.Order, actor types.Actor) error {
	return e.orderEvent(ctx, ActionOrderCreated, CategoryOrder, o, actor,
		"total", o.TotalAmount.Amount,
		"listing_id", o.ListingID,
	)
}

func (e *Extension) OnContentSubmitted(ctx context.Context, o *order.Order, actor types.Actor) error {
	return e.orderEvent(ctx, ActionContentSubmitted, CategoryOrder, o, actor)
}

func (e *Extension) OnFulfillmentSubmitted(ctx context.Context, o *order.Order, actor types.Actor) error {
	return e.orderEvent(ctx, ActionFulfillmentSubmitted, CategoryOrder, o, actor,
		"fulfillment_url", o.FulfillmentURL,
	)
}

func (e *Extension) OnOrderApproved(ctx context.Context, o *order.Order, actor types.Actor) error {
	return e.orderEvent(ctx, ActionOrderApproved, CategorySettlement, o, actor,
		"payout", o.BaseAmount.Amount,
		"retained", o.Retained().Amount,
	)
}

func (e *Extension) OnOrderRefunded(ctx context.Context, o *order.Order, actor types.Actor) error {
	return e.orderEvent(ctx, ActionOrderRefunded, CategorySettlement, o, actor,
		"refund", o.TotalAmount.Amount,
		"reason", o.RejectionReason,
	)
}

func (e *Extension) OnOrderAutoRefunded(ctx context.Context, o *order.Order) error {
	return e.orderEvent(ctx, ActionOrderAutoRefunded, CategorySettlement, o, types.System,
		"refund", o.TotalAmount.Amount,
		"deadline", o.AutoRefundDeadline,
	)
}

func (e *Extension) OnOrderCancelled(ctx context.Context, o *order.Order, actor types.Actor) error {
	return e.orderEvent(ctx, ActionOrderCancelled, CategorySettlement, o, actor,
		"refund", o.TotalAmount.Amount,
	)
}

// ──────────────────────────────────────────────────
// Operational hooks
// ──────────────────────────────────────────────────

func (e *Extension) OnSweepCompleted(ctx context.Context, refunded, skipped int, elapsed time.Duration) error {
	return e.record(ctx, ActionSweepCompleted, SeverityInfo, OutcomeSuccess,
		ResourceSweep, "", CategoryOperations, types.System, nil,
		"refunded", refunded,
		"skipped", skipped,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnReconciliationRequired records a critical failure: a compensating
// wallet mutation did not land.
func (e *Extension) OnReconciliationRequired(ctx context.Context, accountID id.AccountID, orderID id.OrderID, cause error) error {
	return e.record(ctx, ActionReconciliationRequired, SeverityCritical, OutcomeFailure,
		ResourceWallet, accountID.String(), CategoryOperations, types.System, cause,
		"order_id", orderID.String(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func (e *Extension) orderEvent(ctx context.Context, action, category string, o *order.Order, actor types.Actor, kvPairs ...any) error {
	kvPairs = append(kvPairs,
		"number", o.Number,
		"status", string(o.Status),
		"buyer_account_id", o.BuyerAccountID.String(),
		"publisher_account_id", o.PublisherAccountID.String(),
	)
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceOrder, o.ID.String(), category, actor, nil, kvPairs...)
}

// record builds and sends an audit event if the action is enabled.
// Recorder failures are logged, never returned.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	actor types.Actor,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		ActorRole:  string(actor.Role),
		ActorID:    actor.ID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
