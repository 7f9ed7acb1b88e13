package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTelegram_SendsToChat(t *testing.T) {
	var (
		path    string
		payload telegramPayload
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer ts.Close()

	tg := NewTelegram("123:abc", "42", time.Second)
	tg.BaseURL = ts.URL
	if err := tg.Send(context.Background(), "🔴 Shop is DOWN", "URL: https://shop"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if path != "/bot123:abc/sendMessage" {
		t.Fatalf("unexpected path %q", path)
	}
	if payload.ChatID != "42" || payload.Text != "🔴 Shop is DOWN\nURL: https://shop" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestTelegram_RejectedIsNotifyError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer ts.Close()

	tg := NewTelegram("t", "nope", time.Second)
	tg.BaseURL = ts.URL
	err := tg.Send(context.Background(), "x", "y")

	var nerr *Error
	if !errors.As(err, &nerr) {
		t.Fatalf("want *notify.Error, got %T %v", err, err)
	}
	if nerr.StatusCode != http.StatusBadRequest || !strings.Contains(nerr.Error(), "chat not found") {
		t.Fatalf("unexpected error %v", nerr)
	}
}

func TestTelegram_OKFalseWith200IsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"flood"}`))
	}))
	defer ts.Close()

	tg := NewTelegram("t", "1", time.Second)
	tg.BaseURL = ts.URL
	if err := tg.Send(context.Background(), "x", "y"); err == nil {
		t.Fatalf("expected error when API answers ok=false")
	}
}

func TestTelegram_TransportErrorRedactsToken(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	base := ts.URL
	ts.Close()

	tg := NewTelegram("secret-token", "1", time.Second)
	tg.BaseURL = base
	err := tg.Send(context.Background(), "x", "y")
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Fatalf("token leaked into error: %v", err)
	}
}

func TestTelegram_HonorsTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()
	defer close(release)

	tg := NewTelegram("t", "1", 50*time.Millisecond)
	tg.BaseURL = ts.URL
	start := time.Now()
	if err := tg.Send(context.Background(), "x", "y"); err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("send was not bounded by the client timeout")
	}
}
