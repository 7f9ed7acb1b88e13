package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hamed0406/sitewatch/internal/domain"
)

var errDown = errors.New("target down")

// RetryChecker re-probes a DOWN target before reporting it, to damp flapping.
// With Attempts <= 1 it is a plain pass-through.
type RetryChecker struct {
	Inner    Checker
	Attempts int
	Backoff  time.Duration
}

func (r *RetryChecker) Check(ctx context.Context, target domain.Target) domain.CheckResult {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	if attempts == 1 {
		return r.Inner.Check(ctx, target)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.Backoff), uint64(attempts-1)),
		ctx,
	)

	var (
		last  domain.CheckResult
		tries int
	)
	_ = backoff.Retry(func() error {
		tries++
		last = r.Inner.Check(ctx, target)
		if last.Up {
			return nil
		}
		return errDown
	}, policy)

	if !last.Up && tries > 1 {
		last.Detail = fmt.Sprintf("%s (after %d attempts)", last.Detail, tries)
	}
	return last
}
