// Package sweep runs the engine's periodic maintenance on a cron schedule:
// auto-refunding orders past their content deadline and finishing
// settlements that stalled in payment_pending.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xraph/escrow"
)

// DefaultSchedule runs every minute, on the minute. Schedules carry a
// leading seconds field.
const DefaultSchedule = "0 * * * * *"

// DefaultTimeout bounds one run.
const DefaultTimeout = 5 * time.Minute

// Engine is the part of *escrow.Engine the scheduler drives.
type Engine interface {
	SweepExpired(ctx context.Context, now time.Time) (escrow.SweepResult, error)
	ResumeSettlements(ctx context.Context) (int, error)
}

// Result is the outcome of one run.
type Result struct {
	Sweep   escrow.SweepResult
	Resumed int
}

// Scheduler triggers RunOnce on its schedule. Overlapping runs are skipped.
type Scheduler struct {
	engine   Engine
	schedule string
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a Scheduler for engine.
func New(engine Engine, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:   engine,
		schedule: DefaultSchedule,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the job and starts the cron runner. It fails when the
// schedule does not parse or the scheduler is already running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("sweep: scheduler already started")
	}

	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.schedule, s.tick); err != nil {
		return fmt.Errorf("sweep: schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("sweep scheduler started", "schedule", s.schedule)
	return nil
}

// Stop stops scheduling and waits for a running job to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		s.logger.Info("sweep scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sweep: stop: %w", ctx.Err())
	}
}

// RunOnce refunds expired orders, then resumes stalled settlements. Both
// steps run even if the first one reports failures.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	var res Result

	sw, sweepErr := s.engine.SweepExpired(ctx, s.now())
	res.Sweep = sw
	if ctx.Err() != nil {
		return res, sweepErr
	}

	resumed, resumeErr := s.engine.ResumeSettlements(ctx)
	res.Resumed = resumed

	return res, errors.Join(sweepErr, resumeErr)
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	res, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("sweep run failed",
			"refunded", res.Sweep.Refunded,
			"failed", res.Sweep.Failed,
			"resumed", res.Resumed,
			"error", err,
		)
		return
	}
	if res.Sweep.Refunded > 0 || res.Resumed > 0 {
		s.logger.Info("sweep run",
			"refunded", res.Sweep.Refunded,
			"skipped", res.Sweep.Skipped,
			"resumed", res.Resumed,
		)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debug("cron: "+msg, kv...)
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error("cron: "+msg, append(kv, "error", err)...)
}
