package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/escrow/account"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/types"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry holds registered plugins and dispatches hooks to them.
// Hook implementations are discovered once, at Register time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                   []OnInit
	onShutdown               []OnShutdown
	onAccountOpened          []OnAccountOpened
	onWalletCredited         []OnWalletCredited
	onWalletDebited          []OnWalletDebited
	onOrderCreated           []OnOrderCreated
	onContentSubmitted       []OnContentSubmitted
	onFulfillmentSubmitted   []OnFulfillmentSubmitted
	onOrderApproved          []OnOrderApproved
	onOrderRefunded          []OnOrderRefunded
	onOrderAutoRefunded      []OnOrderAutoRefunded
	onOrderCancelled         []OnOrderCancelled
	onSweepCompleted         []OnSweepCompleted
	onReconciliationRequired []OnReconciliationRequired
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default(), timeout: DefaultTimeout}
}

// WithLogger sets the logger used for registration and hook failures.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout overrides the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds p and caches the hook interfaces it implements.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}
	r.plugins = append(r.plugins, p)

	var hooks []string
	add := func(ok bool, name string) bool {
		if ok {
			hooks = append(hooks, name)
		}
		return ok
	}

	if v, ok := p.(OnInit); add(ok, "OnInit") {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); add(ok, "OnShutdown") {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnAccountOpened); add(ok, "OnAccountOpened") {
		r.onAccountOpened = append(r.onAccountOpened, v)
	}
	if v, ok := p.(OnWalletCredited); add(ok, "OnWalletCredited") {
		r.onWalletCredited = append(r.onWalletCredited, v)
	}
	if v, ok := p.(OnWalletDebited); add(ok, "OnWalletDebited") {
		r.onWalletDebited = append(r.onWalletDebited, v)
	}
	if v, ok := p.(OnOrderCreated); add(ok, "OnOrderCreated") {
		r.onOrderCreated = append(r.onOrderCreated, v)
	}
	if v, ok := p.(OnContentSubmitted); add(ok, "OnContentSubmitted") {
		r.onContentSubmitted = append(r.onContentSubmitted, v)
	}
	if v, ok := p.(OnFulfillmentSubmitted); add(ok, "OnFulfillmentSubmitted") {
		r.onFulfillmentSubmitted = append(r.onFulfillmentSubmitted, v)
	}
	if v, ok := p.(OnOrderApproved); add(ok, "OnOrderApproved") {
		r.onOrderApproved = append(r.onOrderApproved, v)
	}
	if v, ok := p.(OnOrderRefunded); add(ok, "OnOrderRefunded") {
		r.onOrderRefunded = append(r.onOrderRefunded, v)
	}
	if v, ok := p.(OnOrderAutoRefunded); add(ok, "OnOrderAutoRefunded") {
		r.onOrderAutoRefunded = append(r.onOrderAutoRefunded, v)
	}
	if v, ok := p.(OnOrderCancelled); add(ok, "OnOrderCancelled") {
		r.onOrderCancelled = append(r.onOrderCancelled, v)
	}
	if v, ok := p.(OnSweepCompleted); add(ok, "OnSweepCompleted") {
		r.onSweepCompleted = append(r.onSweepCompleted, v)
	}
	if v, ok := p.(OnReconciliationRequired); add(ok, "OnReconciliationRequired") {
		r.onReconciliationRequired = append(r.onReconciliationRequired, v)
	}

	r.logger.Debug("plugin registered",
		"plugin", p.Name(),
		"type", reflect.TypeOf(p).String(),
		"hooks", hooks,
	)
	return nil
}

// Plugins returns the registered plugins in registration order.
func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// ──────────────────────────────────────────────────
// Dispatch
// ──────────────────────────────────────────────────

func (r *Registry) EmitInit(ctx context.Context, engine any) {
	dispatch(ctx, r, "OnInit", func() []OnInit { return r.onInit }, func(p OnInit) error { return p.OnInit(ctx, engine) })
}

func (r *Registry) EmitShutdown(ctx context.Context) {
	dispatch(ctx, r, "OnShutdown", func() []OnShutdown { return r.onShutdown }, func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

func (r *Registry) EmitAccountOpened(ctx context.Context, a *account.Account) {
	dispatch(ctx, r, "OnAccountOpened", func() []OnAccountOpened { return r.onAccountOpened }, func(p OnAccountOpened) error {
		return p.OnAccountOpened(ctx, a)
	})
}

func (r *Registry) EmitWalletCredited(ctx context.Context, accountID id.AccountID, amount, balance types.Money) {
	dispatch(ctx, r, "OnWalletCredited", func() []OnWalletCredited { return r.onWalletCredited }, func(p OnWalletCredited) error {
		return p.OnWalletCredited(ctx, accountID, amount, balance)
	})
}

func (r *Registry) EmitWalletDebited(ctx context.Context, accountID id.AccountID, amount, balance types.Money) {
	dispatch(ctx, r, "OnWalletDebited", func() []OnWalletDebited { return r.onWalletDebited }, func(p OnWalletDebited) error {
		return p.OnWalletDebited(ctx, accountID, amount, balance)
	})
}

func (r *Registry) EmitOrderCreated(ctx context.Context, o *order.Order, actor types.Actor) {
	dispatch(ctx, r, "OnOrderCreated", func() []OnOrderCreated { return r.onOrderCreated }, func(p OnOrderCreated) error {
		return p.OnOrderCreated(ctx, o.Clone(), actor)
	})
}

func (r *Registry) EmitContentSubmitted(ctx context.Context, o *order.Order, actor types.Actor) {
	dispatch(ctx, r, "OnContentSubmitted", func() []OnContentSubmitted { return r.onContentSubmitted }, func(p OnContentSubmitted) error {
		return p.OnContentSubmitted(ctx, o.Clone(), actor)
	})
}

func (r *Registry) EmitFulfillmentSubmitted(ctx context.Context, o *order.Order, actor types.Actor) {
	dispatch(ctx, r, "OnFulfillmentSubmitted", func() []OnFulfillmentSubmitted { return r.onFulfillmentSubmitted }, func(p OnFulfillmentSubmitted) error {
		return p.OnFulfillmentSubmitted(ctx, o.Clone(), actor)
	})
}

func (r *Registry) EmitOrderApproved(ctx context.Context, o *order.Order, actor types.Actor) {
	dispatch(ctx, r, "OnOrderApproved", func() []OnOrderApproved { return r.onOrderApproved }, func(p OnOrderApproved) error {
		return p.OnOrderApproved(ctx, o.Clone(), actor)
	})
}

func (r *Registry) EmitOrderRefunded(ctx context.Context, o *order.Order, actor types.Actor) {
	dispatch(ctx, r, "OnOrderRefunded", func() []OnOrderRefunded { return r.onOrderRefunded }, func(p OnOrderRefunded) error {
		return p.OnOrderRefunded(ctx, o.Clone(), actor)
	})
}

func (r *Registry) EmitOrderAutoRefunded(ctx context.Context, o *order.Order) {
	dispatch(ctx, r, "OnOrderAutoRefunded", func() []OnOrderAutoRefunded { return r.onOrderAutoRefunded }, func(p OnOrderAutoRefunded) error {
		return p.OnOrderAutoRefunded(ctx, o.Clone())
	})
}

func (r *Registry) EmitOrderCancelled(ctx context.Context, o *order.Order, actor types.Actor) {
	dispatch(ctx, r, "OnOrderCancelled", func() []OnOrderCancelled { return r.onOrderCancelled }, func(p OnOrderCancelled) error {
		return p.OnOrderCancelled(ctx, o.Clone(), actor)
	})
}

func (r *Registry) EmitSweepCompleted(ctx context.Context, refunded, skipped int, elapsed time.Duration) {
	dispatch(ctx, r, "OnSweepCompleted", func() []OnSweepCompleted { return r.onSweepCompleted }, func(p OnSweepCompleted) error {
		return p.OnSweepCompleted(ctx, refunded, skipped, elapsed)
	})
}

func (r *Registry) EmitReconciliationRequired(ctx context.Context, accountID id.AccountID, orderID id.OrderID, cause error) {
	dispatch(ctx, r, "OnReconciliationRequired", func() []OnReconciliationRequired { return r.onReconciliationRequired }, func(p OnReconciliationRequired) error {
		return p.OnReconciliationRequired(ctx, accountID, orderID, cause)
	})
}

// dispatch calls fn for every plugin returned by hooks, each bounded by the
// registry timeout. The slice is read under the lock; Register only ever
// appends, so the snapshot stays valid after unlocking.
func dispatch[T Plugin](ctx context.Context, r *Registry, hook string, hooks func() []T, fn func(T) error) {
	r.mu.RLock()
	snapshot := hooks()
	r.mu.RUnlock()

	for _, p := range snapshot {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin hook failed",
				"hook", hook,
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("plugin %s panicked: %v", pluginName, rec)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
