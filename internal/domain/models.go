package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the last known reachability of a target.
type Status string

const (
	StatusUnknown Status = "UNKNOWN"
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
)

// StatusOf maps a probe outcome onto a Status.
func StatusOf(up bool) Status {
	if up {
		return StatusUp
	}
	return StatusDown
}

// ParseStatus accepts the persisted spelling of a status, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusUp:
		return StatusUp, nil
	case StatusDown:
		return StatusDown, nil
	case StatusUnknown:
		return StatusUnknown, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Target is one monitored URL. URL is its identity within a run.
type Target struct {
	URL     string        `json:"url"`
	Name    string        `json:"name"`
	Timeout time.Duration `json:"timeout"`
}

// DisplayName falls back to the URL when no friendly name is configured.
func (t Target) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.URL
}

// StatusRecord is the persisted state of one target.
type StatusRecord struct {
	URL               string    `json:"url"`
	LastStatus        Status    `json:"last_status"`
	LastChangedAt     time.Time `json:"last_changed_at"`
	ConsecutiveChecks int       `json:"consecutive_checks"`
}

// UnknownRecord is what a never-seen URL looks like.
func UnknownRecord(url string) StatusRecord {
	return StatusRecord{URL: url, LastStatus: StatusUnknown}
}

// CheckResult is the outcome of a single probe. It is never persisted.
type CheckResult struct {
	URL        string        `json:"url"`
	Up         bool          `json:"up"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
	Detail     string        `json:"detail,omitempty"`
	CheckedAt  time.Time     `json:"checked_at"`
}

// Status is the binary classification of the result.
func (r CheckResult) Status() Status { return StatusOf(r.Up) }

// Transition describes what a single Update did to a record.
type Transition struct {
	URL      string
	From     Status
	To       Status
	At       time.Time
	Previous StatusRecord
	Current  StatusRecord
}

// Changed reports whether the status moved to a different value.
func (t Transition) Changed() bool { return t.From != t.To }

// Arrow renders the transition as "UP→DOWN".
func (t Transition) Arrow() string { return string(t.From) + "→" + string(t.To) }
