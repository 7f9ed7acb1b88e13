package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	apimw "github.com/hamed0406/sitewatch/internal/httpapi/middleware"
	"github.com/hamed0406/sitewatch/internal/lock"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/repo"
	"github.com/hamed0406/sitewatch/internal/runner"
)

// Job is the locked monitoring pass triggered by POST /api/run.
type Job interface {
	Run(ctx context.Context) (runner.Summary, error)
	LastRun() (last *runner.Summary, lastErr error, at time.Time)
}

type Server struct {
	Logger  *zap.Logger
	Targets []domain.Target
	Records repo.Repository
	Job     Job
	Checker probe.Checker

	// TrustedProxies may set X-Forwarded-For for rate limiting.
	TrustedProxies []string
}

func NewServer(l *zap.Logger, targets []domain.Target, records repo.Repository, job Job, c probe.Checker) *Server {
	return &Server{Logger: l, Targets: targets, Records: records, Job: job, Checker: c}
}

// Router mounts the API. An empty origins list allows any origin.
func (s *Server) Router(keys apimw.Keys, origins []string, ratePerMin, burst int) http.Handler {
	r := chi.NewRouter()
	if len(origins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "X-API-Key", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RateLimit(ratePerMin, burst, s.TrustedProxies...))
		r.With(apimw.RequireAny(keys)).Get("/api/status", s.handleStatus)
		r.With(apimw.RequireAdmin(keys)).Post("/api/run", s.handleRun)
		r.With(apimw.RequireAdmin(keys)).Post("/api/check", s.handleCheck)
	})
	return r
}

type targetStatus struct {
	URL               string        `json:"url"`
	Name              string        `json:"name"`
	Status            domain.Status `json:"status"`
	LastChangedAt     *time.Time    `json:"last_changed_at,omitempty"`
	ConsecutiveChecks int           `json:"consecutive_checks"`
}

type runInfo struct {
	RunID          string    `json:"run_id,omitempty"`
	At             time.Time `json:"at"`
	Checked        int       `json:"checked"`
	Up             int       `json:"up"`
	Down           int       `json:"down"`
	Transitions    int       `json:"transitions"`
	Notified       int       `json:"notified"`
	NotifyFailures int       `json:"notify_failures"`
	Error          string    `json:"error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	recs, err := s.Records.Load(r.Context())
	if err != nil {
		s.Logger.Warn("status_load_error", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "state unavailable")
		return
	}
	out := make([]targetStatus, 0, len(s.Targets))
	for _, t := range s.Targets {
		rec, ok := recs[t.URL]
		if !ok {
			rec = domain.UnknownRecord(t.URL)
		}
		ts := targetStatus{URL: t.URL, Name: t.DisplayName(), Status: rec.LastStatus, ConsecutiveChecks: rec.ConsecutiveChecks}
		if !rec.LastChangedAt.IsZero() {
			at := rec.LastChangedAt
			ts.LastChangedAt = &at
		}
		out = append(out, ts)
	}

	resp := map[string]any{"targets": out}
	if s.Job != nil {
		if last, lastErr, at := s.Job.LastRun(); !at.IsZero() {
			info := summaryInfo(last, at)
			if lastErr != nil {
				info.Error = lastErr.Error()
			}
			resp["last_run"] = info
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.Job == nil {
		writeError(w, http.StatusNotImplemented, "runs not enabled")
		return
	}
	// The pass outlives the request.
	sum, err := s.Job.Run(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, lock.ErrLocked):
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	case err != nil:
		s.Logger.Error("api_run_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "run failed")
		return
	}
	s.Logger.Info("api_run", zap.String("run_id", sum.RunID), zap.Int("notified", sum.Notified))
	writeJSON(w, http.StatusOK, summaryInfo(&sum, sum.StartedAt))
}

type checkPayload struct {
	URL string `json:"url"`
}

// handleCheck probes one URL on demand. The result is not recorded.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var p checkPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || !isValidHTTPURL(p.URL) {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	u := normalizeHTTPURL(p.URL)
	target, ok := s.targetFor(u)
	if !ok {
		target = domain.Target{URL: u, Timeout: 10 * time.Second}
	}
	res := s.Checker.Check(r.Context(), target)

	s.Logger.Info("adhoc_check",
		zap.String("url", u),
		zap.Bool("up", res.Up),
		zap.Duration("latency", res.Latency),
		zap.String("detail", res.Detail),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"url":         u,
		"status":      res.Status(),
		"status_code": res.StatusCode,
		"latency_ms":  res.Latency.Milliseconds(),
		"detail":      res.Detail,
		"checked_at":  res.CheckedAt,
	})
}

func (s *Server) targetFor(u string) (domain.Target, bool) {
	for _, t := range s.Targets {
		if normalizeHTTPURL(t.URL) == u {
			return t, true
		}
	}
	return domain.Target{}, false
}

func summaryInfo(sum *runner.Summary, at time.Time) runInfo {
	info := runInfo{At: at}
	if sum != nil {
		info.RunID = sum.RunID
		info.Checked = sum.Checked
		info.Up = sum.Up
		info.Down = sum.Down
		info.Transitions = sum.Transitions
		info.Notified = sum.Notified
		info.NotifyFailures = sum.NotifyFailures
	}
	return info
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func isValidHTTPURL(raw string) bool {
	u, err := url.ParseRequestURI(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Hostname() != ""
}

// normalizeHTTPURL lowercases scheme and host, drops default ports and a bare
// trailing slash.
func normalizeHTTPURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String()
}
