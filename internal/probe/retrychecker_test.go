package probe

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// fake checker you can control
type fakeChecker struct {
	results []domain.CheckResult
	i       int
}

func (f *fakeChecker) Check(ctx context.Context, target domain.Target) domain.CheckResult {
	if f.i >= len(f.results) {
		return domain.CheckResult{URL: target.URL, Up: false, Detail: "no more"}
	}
	r := f.results[f.i]
	f.i++
	return r
}

var exampleTarget = domain.Target{URL: "https://example.com", Timeout: time.Second}

func TestRetryChecker_SucceedsAfterRetry(t *testing.T) {
	f := &fakeChecker{
		results: []domain.CheckResult{
			{Up: false, Detail: "first fail"},
			{Up: true, Detail: "HTTP 200"},
		},
	}
	rc := &RetryChecker{Inner: f, Attempts: 3, Backoff: 10 * time.Millisecond}

	out := rc.Check(context.Background(), exampleTarget)
	if !out.Up {
		t.Fatalf("expected success after retry, got %+v", out)
	}
	if f.i != 2 {
		t.Fatalf("expected 2 probes, got %d", f.i)
	}
	if out.Detail != "HTTP 200" {
		t.Fatalf("success detail should not be annotated, got %q", out.Detail)
	}
}

func TestRetryChecker_AllFailAnnotates(t *testing.T) {
	f := &fakeChecker{
		results: []domain.CheckResult{
			{Up: false, Detail: "fail1"},
			{Up: false, Detail: "fail2"},
		},
	}
	rc := &RetryChecker{Inner: f, Attempts: 2}

	out := rc.Check(context.Background(), exampleTarget)
	if out.Up {
		t.Fatalf("expected failure, got success")
	}
	if !strings.HasPrefix(out.Detail, "fail2") || !strings.Contains(out.Detail, "after 2 attempts") {
		t.Fatalf("expected annotated last failure, got %q", out.Detail)
	}
}

func TestRetryChecker_SingleAttemptIsPassThrough(t *testing.T) {
	f := &fakeChecker{results: []domain.CheckResult{{Up: false, Detail: "HTTP 500"}}}
	rc := &RetryChecker{Inner: f, Attempts: 0}

	out := rc.Check(context.Background(), exampleTarget)
	if out.Detail != "HTTP 500" || f.i != 1 {
		t.Fatalf("want one untouched probe, got %+v after %d calls", out, f.i)
	}
}

func TestRetryChecker_StopsOnCancel(t *testing.T) {
	f := &fakeChecker{results: []domain.CheckResult{
		{Detail: "a"}, {Detail: "b"}, {Detail: "c"}, {Detail: "d"},
	}}
	rc := &RetryChecker{Inner: f, Attempts: 4, Backoff: time.Hour}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	out := rc.Check(ctx, exampleTarget)
	if out.Up {
		t.Fatalf("expected failure")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("retry loop ignored context cancellation")
	}
}
