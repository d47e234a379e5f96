package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/Pouzor/servarr-hub/internal/logging"
	"github.com/Pouzor/servarr-hub/internal/types"
)

// ServiceConfig is the connection data for one upstream service. It is
// persisted in service_configurations and seeded from the environment.
type ServiceConfig struct {
	Source   types.Source `validate:"required,oneof=jellyfin radarr sonarr jellyseerr"`
	URL      string       `validate:"required,url"`
	APIKey   string       `validate:"required"`
	Port     int          `validate:"omitempty,min=1,max=65535"`
	IsActive bool
}

type Config struct {
	SQLitePath string
	Port       string
	APIKey     string // protects /analytics, /sync, /dashboard; empty disables auth

	LogLevel  string
	LogFormat string

	// Reconciliation
	SyncIntervalMin   int
	SyncPassTimeout   time.Duration
	SyncInitialDelay  time.Duration
	ConnectorTimeout  time.Duration
	SyncRecordCap     int
	SyncLookbackDays  int
	SyncLookaheadDays int

	// Host sampler
	PerfSampleSec int

	// Live feed keepalive
	KeepAliveSec int

	Services []ServiceConfig
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads .env (when present) and the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logging.Warn("could not read .env", "error", err)
	}

	dbPath := env("SQLITE_PATH", "/var/lib/servarr-hub/servarr.db")
	_ = os.MkdirAll(filepath.Dir(dbPath), 0755)

	cfg := Config{
		SQLitePath:        dbPath,
		Port:              env("PORT", "8000"),
		APIKey:            env("API_KEY", ""),
		LogLevel:          env("LOG_LEVEL", "info"),
		LogFormat:         env("LOG_FORMAT", "text"),
		SyncIntervalMin:   envInt("SYNC_INTERVAL_MIN", 15),
		SyncPassTimeout:   envDuration("SYNC_PASS_TIMEOUT", 5*time.Minute),
		SyncInitialDelay:  envDuration("SYNC_INITIAL_DELAY", 10*time.Second),
		ConnectorTimeout:  clampDuration(envDuration("CONNECTOR_TIMEOUT", 15*time.Second), 10*time.Second, 30*time.Second),
		SyncRecordCap:     envInt("SYNC_RECORD_CAP", 20),
		SyncLookbackDays:  envInt("SYNC_LOOKBACK_DAYS", 30),
		SyncLookaheadDays: envInt("SYNC_LOOKAHEAD_DAYS", 30),
		PerfSampleSec:     envInt("PERF_SAMPLE_SEC", 60),
		KeepAliveSec:      envInt("KEEPALIVE_SEC", 15),
	}
	cfg.Services = servicesFromEnv()

	logging.Info("Using SQLite DB", "path", dbPath)
	if cfg.APIKey == "" {
		logging.Warn("API_KEY is not set; analytics and sync endpoints are unauthenticated")
	}
	for _, s := range cfg.Services {
		logging.Info("Service configured from environment", "source", s.Source, "url", s.URL)
	}
	return cfg
}

// SyncInterval is the scheduler tick and the next_sync_time offset.
func (c Config) SyncInterval() time.Duration {
	if c.SyncIntervalMin <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.SyncIntervalMin) * time.Minute
}

// Validate checks a single service configuration.
func (s ServiceConfig) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%s config: %w", s.Source, err)
	}
	return nil
}

// servicesFromEnv returns every source whose <NAME>_URL and <NAME>_API_KEY are
// both set. Invalid entries are logged and skipped.
func servicesFromEnv() []ServiceConfig {
	var out []ServiceConfig
	for _, src := range types.AllSources() {
		prefix := strings.ToUpper(string(src))
		url := env(prefix+"_URL", "")
		key := env(prefix+"_API_KEY", "")
		if url == "" && key == "" {
			continue
		}
		sc := ServiceConfig{
			Source:   src,
			URL:      strings.TrimRight(url, "/"),
			APIKey:   key,
			Port:     envInt(prefix+"_PORT", 0),
			IsActive: envBool(prefix+"_ACTIVE", true),
		}
		if err := sc.Validate(); err != nil {
			logging.Warn("ignoring service configuration", "source", src, "error", err)
			continue
		}
		out = append(out, sc)
	}
	return out
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// envDuration accepts Go durations ("90s") or a bare number of seconds.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
