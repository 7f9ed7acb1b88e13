// Command sitewatch performs one monitoring pass and exits. It is meant to be
// started by an external scheduler such as cron; the exit status tells the
// scheduler whether state was durably updated.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/app"
	"github.com/hamed0406/sitewatch/internal/config"
	"github.com/hamed0406/sitewatch/internal/lock"
	"github.com/hamed0406/sitewatch/internal/logging"
	"github.com/hamed0406/sitewatch/internal/repo"
	"github.com/hamed0406/sitewatch/internal/runner"
)

const (
	exitOK = iota
	exitConfig
	exitStateLoad
	exitStateSave
	exitLocked
	exitInterrupted
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "config.json", "path to the JSON config file")
	dryRun := flag.Bool("dry-run", false, "probe and decide, but send nothing and persist nothing")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		var cerr *config.Error
		if errors.As(err, &cerr) {
			for _, p := range cerr.Problems() {
				fmt.Fprintln(os.Stderr, "  -", p)
			}
		}
		return exitConfig
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Dir: cfg.Log.Dir})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		return exitConfig
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{DryRun: *dryRun})
	if err != nil {
		logger.Error("startup_failed", zap.Error(err))
		return classify(err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close_failed", zap.Error(err))
		}
	}()

	sum, err := a.Job.Run(ctx)
	if err != nil {
		code := classify(err)
		logger.Error("run_failed", zap.Int("exit_code", code), zap.Error(err))
		return code
	}
	if perr := sum.Err(); perr != nil {
		logger.Warn("run_completed_with_isolated_failures", zap.Error(perr))
	}
	return exitOK
}

func classify(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return exitInterrupted
	case errors.Is(err, lock.ErrLocked):
		return exitLocked
	case errors.Is(err, runner.ErrSave), errors.Is(err, repo.ErrSaveState):
		return exitStateSave
	default:
		// repo.ErrCorruptState and backend connection failures
		return exitStateLoad
	}
}
