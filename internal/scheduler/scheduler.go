// Package scheduler runs the periodic reconcile jobs: resetting stuck
// statuses and refreshing status gauges.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/orchestrator"
)

// gaugeSpec refreshes the status gauges.
const gaugeSpec = "@every 1m"

// Reconciler is the part of the orchestrator the jobs call.
type Reconciler interface {
	ResetStatuses(ctx context.Context, req orchestrator.ResetRequest) (orchestrator.ResetReport, error)
	RefreshGauges(ctx context.Context) error
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	stuckAfter time.Duration
	timeout    time.Duration
	logger     *zap.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithJobTimeout bounds each job run. Default 5 minutes.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// New registers the jobs described by cfg. Jobs that are still running
// when their next tick fires are skipped.
func New(r Reconciler, cfg config.SchedulerConfig, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if r == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger: logger.Named("cron")}
	s := &Scheduler{
		reconciler: r,
		stuckAfter: cfg.StuckAfter.Duration(),
		timeout:    5 * time.Minute,
		logger:     logger,
		cron:       cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.stuckAfter <= 0 {
		s.stuckAfter = 2 * time.Hour
	}

	if cfg.ResetSpec != "" {
		if _, err := s.cron.AddFunc(cfg.ResetSpec, s.job("reset_status", s.reset)); err != nil {
			return nil, fmt.Errorf("reset spec %q: %w", cfg.ResetSpec, err)
		}
	}
	if _, err := s.cron.AddFunc(gaugeSpec, s.job("refresh_gauges", s.reconciler.RefreshGauges)); err != nil {
		return nil, fmt.Errorf("gauge spec: %w", err)
	}
	return s, nil
}

func (s *Scheduler) job(name string, fn func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
		}
	}
}

func (s *Scheduler) reset(ctx context.Context) error {
	_, err := s.Reset(ctx)
	return err
}

// Reset runs the status reset once.
func (s *Scheduler) Reset(ctx context.Context) (orchestrator.ResetReport, error) {
	rep, err := s.reconciler.ResetStatuses(ctx, orchestrator.ResetRequest{StuckAfter: s.stuckAfter})
	if rep.Questions > 0 || rep.Files > 0 {
		s.logger.Info("statuses reset",
			zap.Int("questions", rep.Questions),
			zap.Int("files", rep.Files),
		)
	}
	return rep, err
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

// Start runs the jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", s.Entries()))
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
