package config

import (
	"net/url"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// Defaults match the file names the cron deployment has always used.
const (
	DefaultLogPath        = "website_monitor.log"
	DefaultStatePath      = "website_status.json"
	DefaultTargetTimeout  = 30 * time.Second
	DefaultNotifyTimeout  = 10 * time.Second
	DefaultConcurrency    = 4
	DefaultStaleLockAfter = 10 * time.Minute
	DefaultAPIAddr        = "127.0.0.1:8080"
)

// Config is the validated, typed configuration for one process.
type Config struct {
	Targets []domain.Target

	Notify NotifyConfig

	LogPath   string // append-only per-check log
	StatePath string

	StateBackend string // "file" | "postgres"
	DatabaseURL  string

	FirstSeen         string // "assume_up" | "notify" | "silent"
	OnCorruptState    string // "fail" | "reset"
	PersistEachUpdate bool

	Concurrency   int
	RetryAttempts int
	RetryBackoff  time.Duration
	UserAgent     string

	Lock LockConfig
	Log  LogConfig
	API  APIConfig
}

type NotifyConfig struct {
	Transport     string // "telegram" | "slack"
	Token         string
	DestinationID string
	Timeout       time.Duration
	Interval      time.Duration
	SendSummary   bool
}

type LockConfig struct {
	Path       string
	RedisURL   string
	StaleAfter time.Duration
}

type LogConfig struct {
	Level string
	Dir   string // optional rotating copy of the operational log
}

type APIConfig struct {
	Addr           string
	PublicKeys     []string
	AdminKeys      []string
	AllowedOrigins []string
	TrustedProxies []string // IPs or CIDRs allowed to set X-Forwarded-For
	RatePerMin     int
	Burst          int
	Schedule       string // cron expression; empty disables in-process runs
}

// LockPath returns the lock file location, defaulting next to the state file.
func (c Config) LockPath() string {
	if c.Lock.Path != "" {
		return c.Lock.Path
	}
	return c.StatePath + ".lock"
}

// TargetByURL finds a configured target.
func (c Config) TargetByURL(u string) (domain.Target, bool) {
	for _, t := range c.Targets {
		if t.URL == u {
			return t, true
		}
	}
	return domain.Target{}, false
}

func hostName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Hostname()
}
