// Package scheduler runs monitoring passes in-process on a cron schedule,
// for deployments without an external cron.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler triggers Job on a standard five-field cron expression. A tick
// that arrives while the previous pass is still running is skipped.
type Scheduler struct {
	Logger *zap.Logger
	Spec   string
	Job    *Job
}

func New(logger *zap.Logger, spec string, job *Job) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return &Scheduler{Logger: logger, Spec: spec, Job: job}, nil
}

// Run blocks until ctx is cancelled, then waits for an in-flight pass.
func (s *Scheduler) Run(ctx context.Context) error {
	cl := cronLogger{s.Logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.Spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", s.Spec, err)
	}
	s.Logger.Info("scheduler_started", zap.String("schedule", s.Spec))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.Logger.Info("scheduler_stopped")
	return ctx.Err()
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sum, err := s.Job.Run(ctx)
	if err != nil {
		s.Logger.Warn("scheduled_run_failed", zap.Error(err))
		return
	}
	s.Logger.Debug("scheduled_run_done", zap.String("run_id", sum.RunID), zap.Int("notified", sum.Notified))
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
