// Package app assembles a monitoring pass from a validated config. It is the
// shared wiring behind cmd/sitewatch and cmd/api.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/config"
	"github.com/hamed0406/sitewatch/internal/lock"
	"github.com/hamed0406/sitewatch/internal/logging"
	"github.com/hamed0406/sitewatch/internal/notify"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/repo"
	"github.com/hamed0406/sitewatch/internal/repo/file"
	"github.com/hamed0406/sitewatch/internal/repo/postgres"
	"github.com/hamed0406/sitewatch/internal/runner"
	"github.com/hamed0406/sitewatch/internal/scheduler"
	"github.com/hamed0406/sitewatch/internal/status"
)

type Options struct {
	// DryRun probes and decides but sends nothing, writes no check log and
	// persists nothing. Corrupt state follows on_corrupt_state without
	// touching the stored file.
	DryRun bool
}

type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Repo     repo.Repository
	Checker  probe.Checker
	Notifier notify.Notifier
	Job      *scheduler.Job

	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	r, err := a.openRepo(ctx)
	if err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	a.Repo = r

	hc := probe.NewHTTPChecker(cfg.UserAgent)
	a.Checker = hc
	if cfg.RetryAttempts > 1 {
		a.Checker = &probe.RetryChecker{Inner: hc, Attempts: cfg.RetryAttempts, Backoff: cfg.RetryBackoff}
	}

	storeRepo := a.Repo
	checkLog := zap.NewNop()
	var locker lock.Locker
	if opts.DryRun {
		a.Notifier = notify.Discard{}
		storeRepo = readOnly{a.Repo}
	} else {
		a.Notifier = newNotifier(cfg.Notify)
		if locker, err = a.newLocker(); err != nil {
			return nil, multierr.Append(err, a.Close())
		}
		if checkLog, err = logging.NewCheckLog(cfg.LogPath); err != nil {
			return nil, multierr.Append(fmt.Errorf("check log: %w", err), a.Close())
		}
		a.closers = append(a.closers, func() error {
			_ = checkLog.Sync()
			return nil
		})
	}

	store := status.NewStore(storeRepo, logger, status.CorruptPolicy(cfg.OnCorruptState))
	a.Job = &scheduler.Job{
		Logger: logger,
		Locker: locker,
		Store:  store,
		Runner: &runner.Runner{
			Logger:            logger,
			CheckLog:          checkLog,
			Checker:           a.Checker,
			Notifier:          a.Notifier,
			Store:             store,
			FirstSeen:         runner.FirstSeen(cfg.FirstSeen),
			Concurrency:       cfg.Concurrency,
			NotifyTimeout:     cfg.Notify.Timeout,
			NotifyInterval:    cfg.Notify.Interval,
			SendSummary:       cfg.Notify.SendSummary,
			PersistEachUpdate: cfg.PersistEachUpdate,
		},
		Targets: cfg.Targets,
	}
	return a, nil
}

func (a *App) openRepo(ctx context.Context) (repo.Repository, error) {
	switch a.Config.StateBackend {
	case "postgres":
		pg, err := postgres.New(ctx, a.Config.DatabaseURL, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		return pg, nil
	default:
		return file.New(a.Config.StatePath), nil
	}
}

func (a *App) newLocker() (lock.Locker, error) {
	holder := fmt.Sprintf("%s/%d", hostname(), os.Getpid())
	if a.Config.Lock.RedisURL != "" {
		key := "sitewatch:lock:" + a.Config.StatePath
		if a.Config.StateBackend == "postgres" {
			key = "sitewatch:lock:postgres"
		}
		rl, err := lock.NewRedis(a.Config.Lock.RedisURL, key, holder+"/"+uuid.NewString(), a.Config.Lock.StaleAfter)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rl.Close)
		return rl, nil
	}
	return lock.NewFile(a.Config.LockPath(), holder, a.Config.Lock.StaleAfter, a.Logger), nil
}

// readOnly loads from the real backend and drops saves. It does not expose
// Quarantine, so a reset leaves the stored file where it is.
type readOnly struct{ repo.Repository }

func (readOnly) Save(context.Context, repo.Records) error { return nil }

func newNotifier(c config.NotifyConfig) notify.Notifier {
	if c.Transport == "slack" {
		return notify.NewSlack(c.DestinationID, c.Timeout)
	}
	return notify.NewTelegram(c.Token, c.DestinationID, c.Timeout)
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
