// Package scheduler triggers recurring maintenance such as the nightly reconciliation batch.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"example.com/progression/internal/calendar"
	"example.com/progression/internal/reconcile"
)

// Option configures optional behaviour for the Scheduler.
type Option func(*Scheduler)

// WithLogger sets a custom logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRunTimeout bounds a single run of any scheduled task. Zero, the
// default, leaves runs unbounded; they end only when the scheduler stops.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

// Scheduler runs named tasks on cron expressions. Overlapping runs of the same
// task are skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *log.Logger
	timeout time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler evaluating expressions in loc.
func New(loc *time.Location, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		logger:  log.New(log.Writer(), "[scheduler] ", log.LstdFlags|log.Lshortfile),
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cronLogger := cron.PrintfLogger(s.logger)
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	return s
}

// Schedule registers fn under name. Errors are logged; they never stop the schedule.
func (s *Scheduler) Schedule(spec, name string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := s.taskContext()
		defer cancel()
		start := time.Now()
		if err := fn(ctx); err != nil {
			s.logger.Printf("task %s failed after %s: %v", name, time.Since(start), err)
			return
		}
		s.logger.Printf("task %s finished in %s", name, time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return nil
}

func (s *Scheduler) taskContext() (context.Context, context.CancelFunc) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if s.timeout > 0 {
		return context.WithTimeout(parent, s.timeout)
	}
	return context.WithCancel(parent)
}

// Start begins firing tasks. Cancelling ctx aborts in-flight runs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
}

// Stop prevents further runs and waits for in-flight ones up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
		<-done.Done()
	}
}

// Finalizer is the reconciliation surface the nightly task drives.
type Finalizer interface {
	FinalizeAll(ctx context.Context, date calendar.Date) (reconcile.Report, error)
	Yesterday() calendar.Date
}

// NightlyReconcile finalizes the previous reference day for every account.
func NightlyReconcile(job Finalizer, logger *log.Logger) func(ctx context.Context) error {
	if logger == nil {
		logger = log.New(log.Writer(), "[scheduler] ", log.LstdFlags|log.Lshortfile)
	}
	return func(ctx context.Context) error {
		day := job.Yesterday()
		report, err := job.FinalizeAll(ctx, day)
		if err != nil {
			return fmt.Errorf("finalize %s: %w", day, err)
		}
		logger.Printf("reconciled %s: finalized=%d already=%d skipped=%d failed=%d not_started=%d",
			day, len(report.Finalized), len(report.AlreadyFinalized), len(report.Skipped), len(report.Failed), len(report.NotStarted))
		return nil
	}
}
