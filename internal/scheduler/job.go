package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/lock"
	"github.com/hamed0406/sitewatch/internal/runner"
	"github.com/hamed0406/sitewatch/internal/status"
)

// Job is one locked monitoring pass: acquire the lock, load the store, run,
// save, release. It is shared by the one-shot CLI, the cron schedule and the
// API's manual trigger.
type Job struct {
	Logger  *zap.Logger
	Locker  lock.Locker
	Store   *status.Store
	Runner  *runner.Runner
	Targets []domain.Target

	mu      sync.Mutex
	last    *runner.Summary
	lastErr error
	lastAt  time.Time
}

// Run performs the pass. A held lock returns lock.ErrLocked without touching
// the store.
func (j *Job) Run(ctx context.Context) (runner.Summary, error) {
	log := j.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if j.Locker != nil {
		release, err := j.Locker.Acquire(ctx)
		if err != nil {
			if errors.Is(err, lock.ErrLocked) {
				log.Warn("run_skipped", zap.String("reason", "locked"), zap.Error(err))
			}
			return runner.Summary{}, err
		}
		defer func() {
			if err := release(); err != nil {
				log.Warn("lock_release_failed", zap.Error(err))
			}
		}()
	}

	if err := j.Store.Load(ctx); err != nil {
		log.Error("state_load_failed", zap.String("kind", "state_corrupt"), zap.Error(err))
		j.record(nil, err)
		return runner.Summary{}, err
	}
	sum, err := j.Runner.Run(ctx, j.Targets)
	j.record(&sum, err)
	return sum, err
}

func (j *Job) record(sum *runner.Summary, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if sum != nil && err == nil {
		j.last = sum
	}
	j.lastErr = err
	j.lastAt = time.Now().UTC()
}

// LastRun reports the most recent successful summary and the outcome of the
// most recent attempt.
func (j *Job) LastRun() (last *runner.Summary, lastErr error, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last, j.lastErr, j.lastAt
}
