// Package monitor runs the periodic jobs around the ledger: crisis scans
// that open markets, the expiry sweep that resolves them, and snapshots.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sahil75416/crisisCapital/internal/domain"
)

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler runs jobs on cron specs. When a LockManager is set each tick
// takes a distributed lock first, so only one replica runs a job at a time.
type Scheduler struct {
	cron   *cron.Cron
	locks  domain.LockManager
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a Scheduler. Specs accept an optional seconds field
// and descriptors such as "@every 10m". locks may be nil.
func NewScheduler(locks domain.LockManager, logger *slog.Logger) *Scheduler {
	logger = logger.With(slog.String("component", "scheduler"))
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cron.NewParser(
				cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
			)),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		locks:  locks,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under name. timeout bounds a single run and is also the
// lock TTL.
func (s *Scheduler) Add(name, spec string, timeout time.Duration, job Job) error {
	_, err := s.cron.AddFunc(spec, func() { s.runOnce(name, timeout, job) })
	if err != nil {
		return fmt.Errorf("monitor: schedule %s (%q): %w", name, spec, err)
	}
	return nil
}

func (s *Scheduler) runOnce(name string, timeout time.Duration, job Job) {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "job:"+name, timeout)
		if err != nil {
			s.logger.DebugContext(ctx, "job skipped", slog.String("job", name), slog.String("reason", err.Error()))
			return
		}
		defer unlock()
	}

	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.ErrorContext(ctx, "job failed",
			slog.String("job", name),
			slog.Duration("took", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.DebugContext(ctx, "job done", slog.String("job", name), slog.Duration("took", time.Since(start)))
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.cron.Entries())))
	<-ctx.Done()
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
