package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimit_AllowsThenBlocks(t *testing.T) {
	h := RateLimit(60, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "1.2.3.4:1234"

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != 200 {
			t.Fatalf("want 200 got %d", rr.Code)
		}
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != 429 {
		t.Fatalf("want 429 got %d", rr.Code)
	}

	time.Sleep(1100 * time.Millisecond)
	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req)
	if rr2.Code != 200 {
		t.Fatalf("want 200 after refill got %d", rr2.Code)
	}
}

func TestLimiter_SweepsIdleBuckets(t *testing.T) {
	now := time.Now()
	l := newLimiter(1, 1, time.Minute)
	l.now = func() time.Time { return now }
	l.allow("1.1.1.1")
	now = now.Add(50 * time.Second)
	l.allow("2.2.2.2")
	now = now.Add(20 * time.Second)

	l.allow("2.2.2.2")
	if _, ok := l.buckets["1.1.1.1"]; ok {
		t.Fatalf("idle bucket should have been evicted")
	}
	if _, ok := l.buckets["2.2.2.2"]; !ok {
		t.Fatalf("active bucket evicted")
	}
}

func TestClientIP_ForwardedForOnlyFromTrustedProxy(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	if got := clientIP(req, nil); got != "10.0.0.1" {
		t.Fatalf("no proxies configured: %q", got)
	}
	if got := clientIP(req, parseProxies([]string{"192.168.0.0/16"})); got != "10.0.0.1" {
		t.Fatalf("untrusted peer: %q", got)
	}
	if got := clientIP(req, parseProxies([]string{"10.0.0.0/8"})); got != "203.0.113.7" {
		t.Fatalf("trusted CIDR: %q", got)
	}
	if got := clientIP(req, parseProxies([]string{"10.0.0.1"})); got != "203.0.113.7" {
		t.Fatalf("trusted IP: %q", got)
	}
}

func TestRateLimit_SpoofedForwardedForDoesNotReset(t *testing.T) {
	h := RateLimit(60, 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i, xff := range []string{"198.51.100.1", "198.51.100.2"} {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "1.2.3.4:1234"
		req.Header.Set("X-Forwarded-For", xff)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		want := http.StatusOK
		if i > 0 {
			want = http.StatusTooManyRequests
		}
		if rr.Code != want {
			t.Fatalf("request %d with X-Forwarded-For %s: got %d want %d", i, xff, rr.Code, want)
		}
	}
}
