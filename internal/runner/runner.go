// Package runner executes one monitoring pass: probe every target, decide
// which status changes to announce, record them and persist the store.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/notify"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/status"
)

// ErrSave marks a run whose final state could not be persisted.
var ErrSave = errors.New("save status store")

// FirstSeen decides whether a target's first ever result is announced.
type FirstSeen string

const (
	// FirstSeenAssumeUp treats UNKNOWN as UP: a first DOWN is announced, a first UP is not.
	FirstSeenAssumeUp FirstSeen = "assume_up"
	// FirstSeenNotify announces any move away from UNKNOWN.
	FirstSeenNotify FirstSeen = "notify"
	// FirstSeenSilent records the first result without announcing it.
	FirstSeenSilent FirstSeen = "silent"
)

// ShouldNotify applies the policy to one transition.
func (p FirstSeen) ShouldNotify(tr domain.Transition) bool {
	if !tr.Changed() {
		return false
	}
	if tr.From != domain.StatusUnknown {
		return true
	}
	switch p {
	case FirstSeenNotify:
		return true
	case FirstSeenSilent:
		return false
	default:
		return tr.To == domain.StatusDown
	}
}

// Runner wires the collaborators of a pass. Store must be loaded already.
type Runner struct {
	Logger   *zap.Logger
	CheckLog *zap.Logger
	Checker  probe.Checker
	Notifier notify.Notifier
	Store    *status.Store

	FirstSeen         FirstSeen
	Concurrency       int
	NotifyTimeout     time.Duration
	NotifyInterval    time.Duration
	SendSummary       bool
	PersistEachUpdate bool

	Now func() time.Time
}

// Outcome is what happened to one target during a pass.
type Outcome struct {
	Target     domain.Target
	Result     domain.CheckResult
	Transition domain.Transition
	Notified   bool
	NotifyErr  error
}

// Summary describes a completed pass.
type Summary struct {
	RunID          string
	StartedAt      time.Time
	Duration       time.Duration
	Checked        int
	Up             int
	Down           int
	Transitions    int
	Notified       int
	NotifyFailures int
	Outcomes       []Outcome

	errs error
}

// Err aggregates the isolated per-target failures of the pass. These never
// make a run fail.
func (s Summary) Err() error { return s.errs }

// Run performs one pass over targets in config order. Only a cancelled ctx
// or a failed save is returned as an error.
func (r *Runner) Run(ctx context.Context, targets []domain.Target) (Summary, error) {
	r.defaults()
	sum := Summary{RunID: uuid.NewString(), StartedAt: r.Now()}
	log := r.Logger.With(zap.String("run_id", sum.RunID))
	log.Info("run_started", zap.Int("targets", len(targets)))

	results, err := r.probeAll(ctx, targets)
	if err != nil {
		log.Warn("run_interrupted", zap.String("phase", "probe"), zap.Error(err))
		return sum, err
	}

	var (
		lastSend  time.Time
		attempted int
	)
	for i, t := range targets {
		if err := ctx.Err(); err != nil {
			log.Warn("run_interrupted", zap.String("phase", "record"), zap.Error(err))
			return sum, err
		}
		res := results[i]
		out := Outcome{Target: t, Result: res}
		out.Transition = r.Store.Update(t.URL, res.Status(), res.CheckedAt)

		sum.Checked++
		if res.Up {
			sum.Up++
		} else {
			sum.Down++
		}
		if out.Transition.Changed() {
			sum.Transitions++
		}

		if r.FirstSeen.ShouldNotify(out.Transition) {
			r.pace(ctx, lastSend)
			title, text := notify.FormatTransition(t, out.Transition, res)
			out.NotifyErr = r.send(ctx, title, text)
			lastSend = r.Now()
			attempted++
			if out.NotifyErr != nil {
				sum.NotifyFailures++
				sum.errs = multierr.Append(sum.errs, fmt.Errorf("%s: %w", t.URL, out.NotifyErr))
				log.Error("notify_failed",
					zap.String("url", t.URL),
					zap.String("kind", "notify_error"),
					zap.String("transition", out.Transition.Arrow()),
					zap.Error(out.NotifyErr),
				)
			} else {
				out.Notified = true
				sum.Notified++
				log.Info("notified",
					zap.String("url", t.URL),
					zap.String("transition", out.Transition.Arrow()),
				)
			}
		}
		fields := []zap.Field{
			zap.String("url", t.URL),
			zap.Bool("up", res.Up),
			zap.Int("status_code", res.StatusCode),
			zap.Duration("latency", res.Latency),
			zap.String("detail", res.Detail),
		}
		if res.Up {
			log.Debug("target_checked", fields...)
		} else {
			log.Warn("target_checked", append(fields, zap.String("kind", "probe_error"))...)
		}
		r.logCheck(out)

		if r.PersistEachUpdate {
			if err := r.Store.Save(ctx); err != nil {
				log.Error("save_failed", zap.String("kind", "state_save_error"), zap.Error(err))
				return sum, fmt.Errorf("%w: %w", ErrSave, err)
			}
		}
		sum.Outcomes = append(sum.Outcomes, out)
	}

	// The summary follows any announced change, delivered or not.
	if r.SendSummary && attempted > 0 {
		r.pace(ctx, lastSend)
		title, text := notify.FormatSummary(targets, r.Store.Snapshot(), r.Now())
		if err := r.send(ctx, title, text); err != nil {
			sum.NotifyFailures++
			sum.errs = multierr.Append(sum.errs, fmt.Errorf("summary: %w", err))
			log.Error("notify_failed", zap.String("kind", "notify_error"), zap.String("message", "summary"), zap.Error(err))
		}
	}

	if err := r.Store.Save(ctx); err != nil {
		log.Error("save_failed", zap.String("kind", "state_save_error"), zap.Error(err))
		return sum, fmt.Errorf("%w: %w", ErrSave, err)
	}

	sum.Duration = r.Now().Sub(sum.StartedAt)
	log.Info("run_finished",
		zap.Int("checked", sum.Checked),
		zap.Int("up", sum.Up),
		zap.Int("down", sum.Down),
		zap.Int("transitions", sum.Transitions),
		zap.Int("notified", sum.Notified),
		zap.Int("notify_failures", sum.NotifyFailures),
		zap.Duration("duration", sum.Duration),
	)
	return sum, nil
}

func (r *Runner) defaults() {
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
	if r.CheckLog == nil {
		r.CheckLog = zap.NewNop()
	}
	if r.Notifier == nil {
		r.Notifier = notify.Discard{}
	}
	if r.FirstSeen == "" {
		r.FirstSeen = FirstSeenAssumeUp
	}
	if r.Concurrency <= 0 {
		r.Concurrency = 1
	}
	if r.NotifyTimeout <= 0 {
		r.NotifyTimeout = 10 * time.Second
	}
	if r.Now == nil {
		r.Now = time.Now
	}
}

// probeAll checks every target with bounded parallelism. Results are kept by
// index so recording can follow config order.
func (r *Runner) probeAll(ctx context.Context, targets []domain.Target) ([]domain.CheckResult, error) {
	results := make([]domain.CheckResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Concurrency)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := r.Checker.Check(gctx, t)
			if res.URL == "" {
				res.URL = t.URL
			}
			if res.CheckedAt.IsZero() {
				res.CheckedAt = r.Now()
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) send(ctx context.Context, title, text string) error {
	nctx, cancel := context.WithTimeout(ctx, r.NotifyTimeout)
	defer cancel()
	return r.Notifier.Send(nctx, title, text)
}

// pace keeps NotifyInterval between consecutive messages.
func (r *Runner) pace(ctx context.Context, last time.Time) {
	if r.NotifyInterval <= 0 || last.IsZero() {
		return
	}
	wait := r.NotifyInterval - r.Now().Sub(last)
	if wait <= 0 {
		return
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (r *Runner) logCheck(out Outcome) {
	notified := "N"
	if out.Notified {
		notified = "Y"
	}
	msg := fmt.Sprintf("%s %s -> %s notified=%s", out.Target.URL, out.Transition.From, out.Transition.To, notified)
	if out.Result.Detail != "" {
		msg += " (" + out.Result.Detail + ")"
	}
	if out.Result.Up {
		r.CheckLog.Info(msg)
	} else {
		r.CheckLog.Warn(msg)
	}
}
