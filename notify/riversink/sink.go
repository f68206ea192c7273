// Package riversink makes escrow notifications durable by enqueuing each
// event as a River job in PostgreSQL. A DeliveryWorker later hands the
// event to the real target sink, with River's retries and backoff.
package riversink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"

	"github.com/xraph/escrow/notify"
)

var _ notify.Sink = (*Sink)(nil)

// Queue is the River queue escrow notifications run on.
const Queue = "escrow_notifications"

// DefaultMaxAttempts bounds delivery retries for one event.
const DefaultMaxAttempts = 10

// DeliveryArgs is the job payload.
type DeliveryArgs struct {
	Event notify.Event `json:"event"`
}

// Kind implements river.JobArgs.
func (DeliveryArgs) Kind() string { return "escrow_notification" }

// InsertOpts places jobs on Queue. Jobs are unique by args, so a
// retried Deliver of the same event does not enqueue twice.
func (DeliveryArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       Queue,
		MaxAttempts: DefaultMaxAttempts,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

// JobInserter is the part of *river.Client the sink needs.
type JobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Sink enqueues events as River jobs.
type Sink struct {
	client JobInserter
}

// New creates a Sink inserting through client.
func New(client JobInserter) *Sink {
	return &Sink{client: client}
}

// Deliver implements notify.Sink.
func (s *Sink) Deliver(ctx context.Context, evt notify.Event) error {
	if _, err := s.client.Insert(ctx, DeliveryArgs{Event: evt}, nil); err != nil {
		return fmt.Errorf("riversink: enqueue %s: %w", evt.ID, err)
	}
	return nil
}

// DeliveryWorker runs DeliveryArgs jobs against the target sink.
type DeliveryWorker struct {
	river.WorkerDefaults[DeliveryArgs]
	target notify.Sink
}

// NewDeliveryWorker creates a worker delivering to target.
func NewDeliveryWorker(target notify.Sink) *DeliveryWorker {
	return &DeliveryWorker{target: target}
}

// Work implements river.Worker. A returned error schedules a retry.
func (w *DeliveryWorker) Work(ctx context.Context, job *river.Job[DeliveryArgs]) error {
	if err := w.target.Deliver(ctx, job.Args.Event); err != nil {
		return fmt.Errorf("riversink: deliver %s (attempt %d): %w", job.Args.Event.ID, job.Attempt, err)
	}
	return nil
}

// Migrate applies River's schema migrations to pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("riversink: create migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("riversink: migrate: %w", err)
	}
	return nil
}

// NewClient builds a River client whose workers deliver to target.
// The caller starts and stops it.
func NewClient(pool *pgxpool.Pool, target notify.Sink, maxWorkers int) (*river.Client[pgx.Tx], error) {
	if maxWorkers <= 0 {
		maxWorkers = 5
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, NewDeliveryWorker(target))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			Queue: {MaxWorkers: maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("riversink: create client: %w", err)
	}
	return client, nil
}
