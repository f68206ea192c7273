package notify

import (
	"log/slog"
	"time"
)

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the logger for delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) { n.logger = logger }
}

// WithQueueSize bounds the number of undelivered events held in memory.
func WithQueueSize(size int) Option {
	return func(n *Notifier) {
		if size > 0 {
			n.size = size
		}
	}
}

// WithWorkers sets the number of delivery goroutines.
func WithWorkers(workers int) Option {
	return func(n *Notifier) {
		if workers > 0 {
			n.workers = workers
		}
	}
}

// WithRetries sets how many times a failed delivery is retried, waiting
// attempt*backoff between tries.
func WithRetries(retries int, backoff time.Duration) Option {
	return func(n *Notifier) {
		if retries >= 0 {
			n.retries = retries
		}
		if backoff > 0 {
			n.backoff = backoff
		}
	}
}

// WithDeliveryTimeout bounds a single Sink.Deliver call.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}
