package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// EnvPrefix namespaces environment overrides, e.g. SITEWATCH_NOTIFY_TOKEN.
const EnvPrefix = "SITEWATCH"

type fileConfig struct {
	Targets           []targetEntry `mapstructure:"targets"`
	Notify            notifyEntry   `mapstructure:"notify"`
	LogPath           string        `mapstructure:"log_path"`
	StatePath         string        `mapstructure:"state_path"`
	StateBackend      string        `mapstructure:"state_backend"`
	DatabaseURL       string        `mapstructure:"database_url"`
	FirstSeen         string        `mapstructure:"first_seen"`
	OnCorruptState    string        `mapstructure:"on_corrupt_state"`
	PersistEachUpdate bool          `mapstructure:"persist_each_update"`
	Concurrency       int           `mapstructure:"concurrency"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryBackoffMS    int           `mapstructure:"retry_backoff_ms"`
	UserAgent         string        `mapstructure:"user_agent"`
	Lock              lockEntry     `mapstructure:"lock"`
	Log               logEntry      `mapstructure:"log"`
	API               apiEntry      `mapstructure:"api"`

	// pre-versioned layout: telegram/websites/settings
	Websites []string       `mapstructure:"websites"`
	Telegram telegramLegacy `mapstructure:"telegram"`
	Settings settingsLegacy `mapstructure:"settings"`
}

type targetEntry struct {
	URL            string  `mapstructure:"url"`
	Name           string  `mapstructure:"name"`
	TimeoutSeconds float64 `mapstructure:"timeout_seconds"`
}

type notifyEntry struct {
	Transport      string  `mapstructure:"transport"`
	TransportToken string  `mapstructure:"transport_token"`
	DestinationID  string  `mapstructure:"destination_id"`
	TimeoutSeconds float64 `mapstructure:"timeout_seconds"`
	IntervalMS     int     `mapstructure:"interval_ms"`
	SendSummary    bool    `mapstructure:"send_summary"`
}

type lockEntry struct {
	Path              string `mapstructure:"path"`
	RedisURL          string `mapstructure:"redis_url"`
	StaleAfterSeconds int    `mapstructure:"stale_after_seconds"`
}

type logEntry struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

type apiEntry struct {
	Addr           string   `mapstructure:"addr"`
	PublicKeys     []string `mapstructure:"public_keys"`
	AdminKeys      []string `mapstructure:"admin_keys"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
	RatePerMin     int      `mapstructure:"rate_per_min"`
	Burst          int      `mapstructure:"burst"`
	Schedule       string   `mapstructure:"schedule"`
}

type telegramLegacy struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type settingsLegacy struct {
	TimeoutSeconds float64 `mapstructure:"timeout_seconds"`
}

type envOverrides struct {
	NotifyToken       string `envconfig:"NOTIFY_TOKEN"`
	NotifyDestination string `envconfig:"NOTIFY_DESTINATION"`
	StatePath         string `envconfig:"STATE_PATH"`
	LogPath           string `envconfig:"LOG_PATH"`
	DatabaseURL       string `envconfig:"DATABASE_URL"`
	LogLevel          string `envconfig:"LOG_LEVEL"`
	APIAddr           string `envconfig:"API_ADDR"`
}

// Load reads a .env file if present, then the JSON config at path with
// ${VAR} references expanded, then applies SITEWATCH_* overrides.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, &Error{Path: ".env", Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		var cerr *Error
		if errors.As(err, &cerr) {
			cerr.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// Parse builds a Config from JSON bytes.
func Parse(data []byte) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	setDefaults(v)
	if err := v.ReadConfig(strings.NewReader(expandEnv(string(data)))); err != nil {
		return nil, &Error{Err: fmt.Errorf("parse: %w", err)}
	}
	var raw fileConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, &Error{Err: fmt.Errorf("decode: %w", err)}
	}

	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, &Error{Err: fmt.Errorf("env: %w", err)}
	}
	applyEnv(&raw, env)
	applyLegacy(&raw)

	cfg, err := build(raw)
	if err != nil {
		return nil, &Error{Err: err}
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with the JSON-escaped value of VAR.
// Bare $ signs and references to unset variables are left as written.
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		val, ok := os.LookupEnv(ref[2 : len(ref)-1])
		if !ok {
			return ref
		}
		quoted, _ := json.Marshal(val)
		return string(quoted[1 : len(quoted)-1])
	})
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_path", DefaultLogPath)
	v.SetDefault("state_path", DefaultStatePath)
	v.SetDefault("state_backend", "file")
	v.SetDefault("first_seen", "assume_up")
	v.SetDefault("on_corrupt_state", "fail")
	v.SetDefault("concurrency", DefaultConcurrency)
	v.SetDefault("retry_attempts", 1)
	v.SetDefault("notify.transport", "telegram")
	v.SetDefault("notify.timeout_seconds", DefaultNotifyTimeout.Seconds())
	v.SetDefault("notify.interval_ms", 1000)
	v.SetDefault("notify.send_summary", true)
	v.SetDefault("lock.stale_after_seconds", int(DefaultStaleLockAfter.Seconds()))
	v.SetDefault("log.level", "info")
	v.SetDefault("api.addr", DefaultAPIAddr)
	v.SetDefault("api.rate_per_min", 120)
	v.SetDefault("api.burst", 60)
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func applyEnv(raw *fileConfig, env envOverrides) {
	if env.NotifyToken != "" {
		raw.Notify.TransportToken = env.NotifyToken
	}
	if env.NotifyDestination != "" {
		raw.Notify.DestinationID = env.NotifyDestination
	}
	if env.StatePath != "" {
		raw.StatePath = env.StatePath
	}
	if env.LogPath != "" {
		raw.LogPath = env.LogPath
	}
	if env.DatabaseURL != "" {
		raw.DatabaseURL = env.DatabaseURL
	}
	if env.LogLevel != "" {
		raw.Log.Level = env.LogLevel
	}
	if env.APIAddr != "" {
		raw.API.Addr = env.APIAddr
	}
}

func applyLegacy(raw *fileConfig) {
	if len(raw.Targets) == 0 {
		for _, w := range raw.Websites {
			raw.Targets = append(raw.Targets, targetEntry{URL: w, TimeoutSeconds: raw.Settings.TimeoutSeconds})
		}
	}
	if raw.Notify.TransportToken == "" {
		raw.Notify.TransportToken = raw.Telegram.BotToken
	}
	if raw.Notify.DestinationID == "" {
		raw.Notify.DestinationID = raw.Telegram.ChatID
	}
}

func build(raw fileConfig) (*Config, error) {
	var errs error
	fail := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	cfg := &Config{
		LogPath:           strings.TrimSpace(raw.LogPath),
		StatePath:         strings.TrimSpace(raw.StatePath),
		StateBackend:      strings.ToLower(strings.TrimSpace(raw.StateBackend)),
		DatabaseURL:       strings.TrimSpace(raw.DatabaseURL),
		FirstSeen:         strings.ToLower(strings.TrimSpace(raw.FirstSeen)),
		OnCorruptState:    strings.ToLower(strings.TrimSpace(raw.OnCorruptState)),
		PersistEachUpdate: raw.PersistEachUpdate,
		Concurrency:       raw.Concurrency,
		RetryAttempts:     raw.RetryAttempts,
		RetryBackoff:      time.Duration(raw.RetryBackoffMS) * time.Millisecond,
		UserAgent:         raw.UserAgent,
		Notify: NotifyConfig{
			Transport:     strings.ToLower(strings.TrimSpace(raw.Notify.Transport)),
			Token:         strings.TrimSpace(raw.Notify.TransportToken),
			DestinationID: strings.TrimSpace(raw.Notify.DestinationID),
			Timeout:       seconds(raw.Notify.TimeoutSeconds),
			Interval:      time.Duration(raw.Notify.IntervalMS) * time.Millisecond,
			SendSummary:   raw.Notify.SendSummary,
		},
		Lock: LockConfig{
			Path:       strings.TrimSpace(raw.Lock.Path),
			RedisURL:   strings.TrimSpace(raw.Lock.RedisURL),
			StaleAfter: time.Duration(raw.Lock.StaleAfterSeconds) * time.Second,
		},
		Log: LogConfig{
			Level: strings.ToLower(strings.TrimSpace(raw.Log.Level)),
			Dir:   strings.TrimSpace(raw.Log.Dir),
		},
		API: APIConfig{
			Addr:           strings.TrimSpace(raw.API.Addr),
			PublicKeys:     cleanList(raw.API.PublicKeys),
			AdminKeys:      cleanList(raw.API.AdminKeys),
			AllowedOrigins: cleanList(raw.API.AllowedOrigins),
			TrustedProxies: cleanList(raw.API.TrustedProxies),
			RatePerMin:     raw.API.RatePerMin,
			Burst:          raw.API.Burst,
			Schedule:       strings.TrimSpace(raw.API.Schedule),
		},
	}

	if len(raw.Targets) == 0 {
		fail("targets: at least one target is required")
	}
	seen := make(map[string]int, len(raw.Targets))
	for i, t := range raw.Targets {
		u := strings.TrimSpace(t.URL)
		if !isHTTPURL(u) {
			fail("targets[%d].url %q: must be an absolute http(s) URL", i, t.URL)
			continue
		}
		if j, dup := seen[u]; dup {
			fail("targets[%d].url %q: duplicate of targets[%d]", i, u, j)
			continue
		}
		seen[u] = i
		if t.TimeoutSeconds < 0 {
			fail("targets[%d].timeout_seconds: must not be negative", i)
			continue
		}
		timeout := seconds(t.TimeoutSeconds)
		if timeout == 0 {
			timeout = DefaultTargetTimeout
		}
		name := strings.TrimSpace(t.Name)
		if name == "" {
			name = hostName(u)
		}
		cfg.Targets = append(cfg.Targets, domain.Target{URL: u, Name: name, Timeout: timeout})
	}

	switch cfg.Notify.Transport {
	case "telegram":
		if cfg.Notify.Token == "" {
			fail("notify.transport_token: required for telegram")
		}
		if cfg.Notify.DestinationID == "" {
			fail("notify.destination_id: required for telegram")
		}
	case "slack":
		if !isHTTPURL(cfg.Notify.DestinationID) {
			fail("notify.destination_id: slack needs the webhook URL")
		}
	default:
		fail("notify.transport %q: want telegram or slack", cfg.Notify.Transport)
	}
	if cfg.Notify.Timeout <= 0 {
		cfg.Notify.Timeout = DefaultNotifyTimeout
	}
	if cfg.Notify.Interval < 0 {
		fail("notify.interval_ms: must not be negative")
	}

	switch cfg.StateBackend {
	case "file":
		if cfg.StatePath == "" {
			fail("state_path: required for the file backend")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			fail("database_url: required for the postgres backend")
		}
	default:
		fail("state_backend %q: want file or postgres", cfg.StateBackend)
	}
	if cfg.LogPath == "" {
		fail("log_path: required")
	}

	switch cfg.FirstSeen {
	case "assume_up", "notify", "silent":
	default:
		fail("first_seen %q: want assume_up, notify or silent", cfg.FirstSeen)
	}
	switch cfg.OnCorruptState {
	case "fail", "reset":
	default:
		fail("on_corrupt_state %q: want fail or reset", cfg.OnCorruptState)
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		fail("log.level %q: want debug, info, warn or error", cfg.Log.Level)
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBackoff < 0 {
		fail("retry_backoff_ms: must not be negative")
	}
	if cfg.Lock.StaleAfter <= 0 {
		cfg.Lock.StaleAfter = DefaultStaleLockAfter
	}
	if cfg.Lock.RedisURL != "" && !strings.HasPrefix(cfg.Lock.RedisURL, "redis://") && !strings.HasPrefix(cfg.Lock.RedisURL, "rediss://") {
		fail("lock.redis_url: want a redis:// or rediss:// URL")
	}
	for i, p := range cfg.API.TrustedProxies {
		if !validProxy(p) {
			fail("api.trusted_proxies[%d] %q: want an IP or CIDR", i, p)
		}
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = DefaultAPIAddr
	}

	if errs != nil {
		return nil, errs
	}
	return cfg, nil
}

func isHTTPURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func validProxy(s string) bool {
	if strings.Contains(s, "/") {
		_, _, err := net.ParseCIDR(s)
		return err == nil
	}
	return net.ParseIP(s) != nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
