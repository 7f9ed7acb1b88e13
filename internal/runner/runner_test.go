package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/repo"
	"github.com/hamed0406/sitewatch/internal/repo/memory"
	"github.com/hamed0406/sitewatch/internal/status"
)

var now = time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC)

type sent struct{ title, text string }

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []sent
	failOn string // substring that makes Send fail
}

func (f *fakeNotifier) Send(_ context.Context, title, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && strings.Contains(title+text, f.failOn) {
		return errors.New("telegram unreachable")
	}
	f.sent = append(f.sent, sent{title, text})
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func fixedChecker(up map[string]bool) probe.Checker {
	return probe.CheckerFunc(func(_ context.Context, t domain.Target) domain.CheckResult {
		res := domain.CheckResult{URL: t.URL, Up: up[t.URL], CheckedAt: now}
		if res.Up {
			res.StatusCode, res.Detail = 200, "HTTP 200"
		} else {
			res.Detail = "connection failed: refused"
		}
		return res
	})
}

func newRunner(t *testing.T, mem *memory.Store, up map[string]bool, n *fakeNotifier) *Runner {
	t.Helper()
	st := status.NewStore(mem, zap.NewNop(), status.CorruptFail)
	if err := st.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return &Runner{
		Checker:     fixedChecker(up),
		Notifier:    n,
		Store:       st,
		Concurrency: 4,
		Now:         func() time.Time { return now },
	}
}

func targets(urls ...string) []domain.Target {
	out := make([]domain.Target, 0, len(urls))
	for _, u := range urls {
		out = append(out, domain.Target{URL: u, Timeout: time.Second})
	}
	return out
}

func TestRun_FirstRunUpIsSeededSilently(t *testing.T) {
	mem := memory.New()
	n := &fakeNotifier{}
	r := newRunner(t, mem, map[string]bool{"https://example.com": true}, n)

	sum, err := r.Run(context.Background(), targets("https://example.com"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n.count() != 0 {
		t.Fatalf("first UP must not notify under assume_up, sent=%d", n.count())
	}
	recs, _ := mem.Load(context.Background())
	got := recs["https://example.com"]
	if got.LastStatus != domain.StatusUp || got.ConsecutiveChecks != 1 {
		t.Fatalf("record=%+v", got)
	}
	if sum.Checked != 1 || sum.Up != 1 || mem.Saves() != 1 || sum.RunID == "" {
		t.Fatalf("summary=%+v saves=%d", sum, mem.Saves())
	}
}

func TestRun_FirstRunDownNotifies(t *testing.T) {
	mem := memory.New()
	n := &fakeNotifier{}
	r := newRunner(t, mem, map[string]bool{}, n)

	if _, err := r.Run(context.Background(), targets("https://down.example")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n.count() != 1 {
		t.Fatalf("first DOWN should notify once, sent=%d", n.count())
	}
	recs, _ := mem.Load(context.Background())
	if recs["https://down.example"].LastStatus != domain.StatusDown {
		t.Fatalf("record=%+v", recs["https://down.example"])
	}
}

func TestRun_UpToDownNotifiesOnceAndResetsCount(t *testing.T) {
	earlier := now.Add(-3 * time.Hour)
	mem := memory.Seed(repo.Records{
		"https://example.com": {URL: "https://example.com", LastStatus: domain.StatusUp, LastChangedAt: earlier, ConsecutiveChecks: 5},
	})
	n := &fakeNotifier{}
	r := newRunner(t, mem, map[string]bool{"https://example.com": false}, n)

	sum, err := r.Run(context.Background(), targets("https://example.com"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n.count() != 1 || !strings.Contains(n.sent[0].text, "UP→DOWN") {
		t.Fatalf("sent=%+v", n.sent)
	}
	recs, _ := mem.Load(context.Background())
	got := recs["https://example.com"]
	if got.LastStatus != domain.StatusDown || got.ConsecutiveChecks != 1 || !got.LastChangedAt.Equal(now) {
		t.Fatalf("record=%+v", got)
	}
	if sum.Transitions != 1 || sum.Notified != 1 || !sum.Outcomes[0].Notified {
		t.Fatalf("summary=%+v", sum)
	}
}

func TestRun_UnchangedStatusNeverNotifies(t *testing.T) {
	changed := now.Add(-time.Hour)
	for _, up := range []bool{true, false} {
		st := domain.StatusOf(up)
		mem := memory.Seed(repo.Records{
			"https://a.example": {URL: "https://a.example", LastStatus: st, LastChangedAt: changed, ConsecutiveChecks: 2},
		})
		n := &fakeNotifier{}
		r := newRunner(t, mem, map[string]bool{"https://a.example": up}, n)
		if _, err := r.Run(context.Background(), targets("https://a.example")); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if n.count() != 0 {
			t.Fatalf("%s→%s notified", st, st)
		}
		recs, _ := mem.Load(context.Background())
		got := recs["https://a.example"]
		if got.ConsecutiveChecks != 3 || !got.LastChangedAt.Equal(changed) {
			t.Fatalf("record=%+v", got)
		}
	}
}

func TestRun_NotifyFailureIsIsolated(t *testing.T) {
	mem := memory.Seed(repo.Records{
		"https://a.example": {URL: "https://a.example", LastStatus: domain.StatusUp, ConsecutiveChecks: 1},
		"https://b.example": {URL: "https://b.example", LastStatus: domain.StatusUp, ConsecutiveChecks: 1},
	})
	n := &fakeNotifier{failOn: "https://a.example"}
	r := newRunner(t, mem, map[string]bool{}, n)

	sum, err := r.Run(context.Background(), targets("https://a.example", "https://b.example"))
	if err != nil {
		t.Fatalf("notify failure must not fail the run: %v", err)
	}
	if n.count() != 1 || !strings.Contains(n.sent[0].text, "https://b.example") {
		t.Fatalf("b should still be notified: %+v", n.sent)
	}
	if sum.NotifyFailures != 1 || len(multierr.Errors(sum.Err())) != 1 {
		t.Fatalf("summary=%+v err=%v", sum, sum.Err())
	}
	recs, _ := mem.Load(context.Background())
	for _, u := range []string{"https://a.example", "https://b.example"} {
		if recs[u].LastStatus != domain.StatusDown {
			t.Fatalf("%s not persisted as DOWN: %+v", u, recs[u])
		}
	}
}

func TestRun_SaveFailureIsFatal(t *testing.T) {
	mem := memory.New()
	mem.SaveErr = errors.New("disk full")
	r := newRunner(t, mem, map[string]bool{"https://a.example": true}, &fakeNotifier{})

	_, err := r.Run(context.Background(), targets("https://a.example"))
	if !errors.Is(err, ErrSave) || !errors.Is(err, repo.ErrSaveState) {
		t.Fatalf("want ErrSave wrapping ErrSaveState, got %v", err)
	}
}

func TestRun_CanceledLeavesStateUntouched(t *testing.T) {
	mem := memory.Seed(repo.Records{
		"https://a.example": {URL: "https://a.example", LastStatus: domain.StatusUp, ConsecutiveChecks: 4},
	})
	ctx, cancel := context.WithCancel(context.Background())
	r := newRunner(t, mem, nil, &fakeNotifier{})
	r.Checker = probe.CheckerFunc(func(ctx context.Context, t domain.Target) domain.CheckResult {
		cancel()
		<-ctx.Done()
		return domain.CheckResult{URL: t.URL, Detail: "canceled"}
	})

	if _, err := r.Run(ctx, targets("https://a.example")); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if mem.Saves() != 0 {
		t.Fatalf("store saved after cancel")
	}
	if r.Store.Get("https://a.example").ConsecutiveChecks != 4 {
		t.Fatalf("in-memory record mutated after cancel")
	}
}

func TestRun_ConcurrentProbesRecordInConfigOrder(t *testing.T) {
	urls := []string{"https://1.example", "https://2.example", "https://3.example", "https://4.example", "https://5.example"}
	mem := memory.New()
	n := &fakeNotifier{}
	r := newRunner(t, mem, nil, n)
	r.FirstSeen = FirstSeenNotify
	var mu sync.Mutex
	inFlight, peak := 0, 0
	r.Concurrency = 2
	r.Checker = probe.CheckerFunc(func(_ context.Context, t domain.Target) domain.CheckResult {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return domain.CheckResult{URL: t.URL, Up: true, CheckedAt: now}
	})

	if _, err := r.Run(context.Background(), targets(urls...)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if peak > 2 {
		t.Fatalf("concurrency limit exceeded: peak=%d", peak)
	}
	if n.count() != len(urls) {
		t.Fatalf("sent=%d", n.count())
	}
	for i, s := range n.sent {
		if !strings.Contains(s.text, urls[i]) {
			t.Fatalf("notification %d out of order: %q", i, s.text)
		}
	}
}

func TestRun_PersistEachUpdateSavesPerTarget(t *testing.T) {
	mem := memory.New()
	r := newRunner(t, mem, map[string]bool{"https://a.example": true, "https://b.example": true}, &fakeNotifier{})
	r.PersistEachUpdate = true
	if _, err := r.Run(context.Background(), targets("https://a.example", "https://b.example")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if mem.Saves() != 3 {
		t.Fatalf("want 2 per-update saves plus the final one, got %d", mem.Saves())
	}
}

func TestRun_SummaryAfterTransitions(t *testing.T) {
	mem := memory.Seed(repo.Records{
		"https://a.example": {URL: "https://a.example", LastStatus: domain.StatusUp, ConsecutiveChecks: 1},
	})
	n := &fakeNotifier{}
	r := newRunner(t, mem, map[string]bool{"https://b.example": true}, n)
	r.SendSummary = true
	if _, err := r.Run(context.Background(), targets("https://a.example", "https://b.example")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n.count() != 2 || !strings.Contains(n.sent[1].title, "Summary") {
		t.Fatalf("sent=%+v", n.sent)
	}
}

func TestRun_CheckLogLinePerTarget(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	mem := memory.New()
	r := newRunner(t, mem, map[string]bool{"https://a.example": true}, &fakeNotifier{})
	r.CheckLog = zap.New(core)
	if _, err := r.Run(context.Background(), targets("https://a.example", "https://b.example")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("want 2 check lines, got %d", len(entries))
	}
	if entries[0].Message != "https://a.example UNKNOWN -> UP notified=N (HTTP 200)" {
		t.Fatalf("line0=%q", entries[0].Message)
	}
	if entries[1].Level != zapcore.WarnLevel || !strings.Contains(entries[1].Message, "notified=Y") {
		t.Fatalf("line1=%+v", entries[1])
	}
}

func TestFirstSeen_ShouldNotify(t *testing.T) {
	cases := []struct {
		policy FirstSeen
		from   domain.Status
		to     domain.Status
		want   bool
	}{
		{FirstSeenAssumeUp, domain.StatusUnknown, domain.StatusUp, false},
		{FirstSeenAssumeUp, domain.StatusUnknown, domain.StatusDown, true},
		{FirstSeenNotify, domain.StatusUnknown, domain.StatusUp, true},
		{FirstSeenSilent, domain.StatusUnknown, domain.StatusDown, false},
		{FirstSeenSilent, domain.StatusUp, domain.StatusDown, true},
		{FirstSeenNotify, domain.StatusDown, domain.StatusDown, false},
	}
	for _, c := range cases {
		got := c.policy.ShouldNotify(domain.Transition{From: c.from, To: c.to})
		if got != c.want {
			t.Errorf("%s %s→%s: got %v want %v", c.policy, c.from, c.to, got, c.want)
		}
	}
}

func TestRun_SummarySentEvenWhenTransitionSendsFail(t *testing.T) {
	mem := memory.Seed(repo.Records{
		"https://a.example": {URL: "https://a.example", LastStatus: domain.StatusUp, ConsecutiveChecks: 1},
	})
	n := &fakeNotifier{failOn: "is DOWN"}
	r := newRunner(t, mem, map[string]bool{}, n)
	r.SendSummary = true

	sum, err := r.Run(context.Background(), targets("https://a.example"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Notified != 0 || sum.NotifyFailures != 1 {
		t.Fatalf("summary=%+v", sum)
	}
	if n.count() != 1 || !strings.Contains(n.sent[0].title, "Summary") {
		t.Fatalf("summary should still go out: %+v", n.sent)
	}
}

func TestRun_NoSummaryWithoutAnnouncedChange(t *testing.T) {
	mem := memory.Seed(repo.Records{
		"https://a.example": {URL: "https://a.example", LastStatus: domain.StatusUp, ConsecutiveChecks: 1},
	})
	n := &fakeNotifier{}
	r := newRunner(t, mem, map[string]bool{"https://a.example": true}, n)
	r.SendSummary = true
	if _, err := r.Run(context.Background(), targets("https://a.example")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n.count() != 0 {
		t.Fatalf("sent=%+v", n.sent)
	}
}
