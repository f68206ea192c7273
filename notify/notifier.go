package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/plugin"
	"github.com/xraph/escrow/types"
)

var (
	_ plugin.Plugin                   = (*Notifier)(nil)
	_ plugin.OnInit                   = (*Notifier)(nil)
	_ plugin.OnShutdown               = (*Notifier)(nil)
	_ plugin.OnOrderCreated           = (*Notifier)(nil)
	_ plugin.OnContentSubmitted       = (*Notifier)(nil)
	_ plugin.OnFulfillmentSubmitted   = (*Notifier)(nil)
	_ plugin.OnOrderApproved          = (*Notifier)(nil)
	_ plugin.OnOrderRefunded          = (*Notifier)(nil)
	_ plugin.OnOrderAutoRefunded      = (*Notifier)(nil)
	_ plugin.OnOrderCancelled         = (*Notifier)(nil)
	_ plugin.OnReconciliationRequired = (*Notifier)(nil)
)

// ErrClosed is returned by Notify after the notifier has shut down.
var ErrClosed = errors.New("notify: notifier closed")

// ErrQueueFull is returned by Notify when the queue has no room.
var ErrQueueFull = errors.New("notify: queue full")

// Notifier is an escrow plugin that delivers events to a Sink from a pool
// of background workers.
type Notifier struct {
	sink    Sink
	logger  *slog.Logger
	workers int
	retries int
	backoff time.Duration
	timeout time.Duration
	size    int
	now     func() time.Time

	mu      sync.RWMutex
	queue   chan Event
	closed  bool
	started bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	delivered atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// New creates a Notifier delivering to sink.
func New(sink Sink, opts ...Option) *Notifier {
	n := &Notifier{
		sink:    sink,
		logger:  slog.Default(),
		workers: 2,
		retries: 3,
		backoff: 200 * time.Millisecond,
		timeout: 10 * time.Second,
		size:    256,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(n)
	}
	n.queue = make(chan Event, n.size)
	return n
}

// Name implements plugin.Plugin.
func (n *Notifier) Name() string { return "notify" }

// OnInit starts the workers.
func (n *Notifier) OnInit(ctx context.Context, _ any) error {
	n.Start(ctx)
	return nil
}

// OnShutdown stops accepting events and waits for the queue to drain.
func (n *Notifier) OnShutdown(ctx context.Context) error {
	return n.Close(ctx)
}

// Start launches the worker pool. Workers outlive ctx's cancellation; they
// stop when Close is called. Calling Start twice is a no-op.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started || n.closed {
		return
	}
	n.started = true

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	n.cancel = cancel
	for i := range n.workers {
		n.wg.Add(1)
		go n.work(base, i)
	}
	n.logger.Info("notify: workers started", "workers", n.workers, "queue", cap(n.queue))
}

// Close stops intake and waits for queued events to be delivered. If ctx
// expires first, in-flight deliveries are cancelled and ctx's error is
// returned.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.queue)
	started := n.started
	n.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		<-done
		return ctx.Err()
	}
}

// Notify enqueues evt without blocking.
func (n *Notifier) Notify(evt Event) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrClosed
	}
	select {
	case n.queue <- evt:
		return nil
	default:
		n.dropped.Add(1)
		return ErrQueueFull
	}
}

// Stats reports delivery counters since creation.
func (n *Notifier) Stats() (delivered, dropped, failed int64) {
	return n.delivered.Load(), n.dropped.Load(), n.failed.Load()
}

func (n *Notifier) work(ctx context.Context, worker int) {
	defer n.wg.Done()
	for evt := range n.queue {
		if err := n.deliver(ctx, evt); err != nil {
			n.failed.Add(1)
			n.logger.Warn("notify: delivery failed",
				"worker", worker,
				"event_id", evt.ID,
				"type", string(evt.Type),
				"error", err,
			)
			continue
		}
		n.delivered.Add(1)
	}
}

func (n *Notifier) deliver(ctx context.Context, evt Event) error {
	var err error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(time.Duration(attempt) * n.backoff):
			}
		}
		dctx, cancel := context.WithTimeout(ctx, n.timeout)
		err = n.sink.Deliver(dctx, evt)
		cancel()
		if err == nil {
			return nil
		}
	}
	return err
}

func (n *Notifier) enqueue(evt Event) error {
	if err := n.Notify(evt); err != nil {
		n.logger.Warn("notify: event not queued",
			"event_id", evt.ID,
			"type", string(evt.Type),
			"error", err,
		)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Hooks
// ──────────────────────────────────────────────────

func (n *Notifier) OnOrderCreated(_ context.Context, o *order.Order, actor types.Actor) error {
	return n.enqueue(orderEvent(EventOrderCreated, n.now(), o, actor, o.TotalAmount))
}

func (n *Notifier) OnContentSubmitted(_ context.Context, o *order.Order, actor types.Actor) error {
	return n.enqueue(orderEvent(EventContentSubmitted, n.now(), o, actor, types.Money{}))
}

func (n *Notifier) OnFulfillmentSubmitted(_ context.Context, o *order.Order, actor types.Actor) error {
	return n.enqueue(orderEvent(EventFulfillmentSubmitted, n.now(), o, actor, types.Money{}))
}

func (n *Notifier) OnOrderApproved(_ context.Context, o *order.Order, actor types.Actor) error {
	return n.enqueue(orderEvent(EventOrderApproved, n.now(), o, actor, o.BaseAmount))
}

func (n *Notifier) OnOrderRefunded(_ context.Context, o *order.Order, actor types.Actor) error {
	return n.enqueue(orderEvent(EventOrderRefunded, n.now(), o, actor, o.TotalAmount))
}

func (n *Notifier) OnOrderAutoRefunded(_ context.Context, o *order.Order) error {
	return n.enqueue(orderEvent(EventOrderAutoRefunded, n.now(), o, types.System, o.TotalAmount))
}

func (n *Notifier) OnOrderCancelled(_ context.Context, o *order.Order, actor types.Actor) error {
	return n.enqueue(orderEvent(EventOrderCancelled, n.now(), o, actor, o.TotalAmount))
}

func (n *Notifier) OnReconciliationRequired(_ context.Context, accountID id.AccountID, orderID id.OrderID, cause error) error {
	evt := Event{
		ID:         newEventID(),
		Type:       EventReconciliationRequired,
		OccurredAt: n.now(),
		OrderID:    orderID.String(),
		AccountID:  accountID.String(),
		ActorRole:  string(types.System.Role),
		ActorID:    types.System.ID,
	}
	if cause != nil {
		evt.Reason = cause.Error()
	}
	return n.enqueue(evt)
}
