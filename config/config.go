// Package config loads server settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds every runtime setting.
type Config struct {
	HTTPPort int

	DBDriver    string // sqlite | postgres
	DBPath      string // SQLite file or ":memory:"
	DatabaseURL string // PostgreSQL DSN

	LogLevel  string
	LogFormat string // text | json

	SessionTTL     time.Duration
	RequestTimeout time.Duration
	CORSOrigins    []string
	AdminPhones    []string

	SchedulerEnabled      bool
	SessionPurgeSchedule  string
	OverdueDigestSchedule string
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		HTTPPort:              8080,
		DBDriver:              DriverSQLite,
		DBPath:                "ledger.db",
		LogLevel:              "info",
		LogFormat:             "text",
		SessionTTL:            24 * time.Hour,
		RequestTimeout:        15 * time.Second,
		CORSOrigins:           []string{"*"},
		SchedulerEnabled:      true,
		SessionPurgeSchedule:  "*/15 * * * *",
		OverdueDigestSchedule: "0 9 * * *",
	}
}

// Load reads .env (if present) and the environment on top of Default.
// Overrides (command-line flags) are applied before validation.
func Load(overrides ...func(*Config)) (Config, error) {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()
	cfg, err := parse(os.Getenv)
	if err != nil {
		return cfg, err
	}
	for _, o := range overrides {
		o(&cfg)
	}
	return cfg, cfg.Validate()
}

// FromEnv builds a Config from a lookup function, usually os.Getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg, err := parse(getenv)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func parse(getenv func(string) string) (Config, error) {
	cfg := Default()
	var err error

	if v := getenv("HTTP_PORT"); v != "" {
		if cfg.HTTPPort, err = strconv.Atoi(v); err != nil {
			return cfg, fmt.Errorf("invalid HTTP_PORT %q: %w", v, err)
		}
	}
	cfg.DBDriver = getEnv(getenv, "DB_DRIVER", cfg.DBDriver)
	cfg.DBPath = getEnv(getenv, "DB_PATH", cfg.DBPath)
	cfg.DatabaseURL = getEnv(getenv, "DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = getEnv(getenv, "LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv(getenv, "LOG_FORMAT", cfg.LogFormat)

	if cfg.SessionTTL, err = getDuration(getenv, "SESSION_TTL", cfg.SessionTTL); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout, err = getDuration(getenv, "REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return cfg, err
	}
	if v := getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	cfg.AdminPhones = splitList(getenv("ADMIN_PHONES"))

	if v := getenv("SCHEDULER_ENABLED"); v != "" {
		if cfg.SchedulerEnabled, err = strconv.ParseBool(v); err != nil {
			return cfg, fmt.Errorf("invalid SCHEDULER_ENABLED %q: %w", v, err)
		}
	}
	cfg.SessionPurgeSchedule = getEnv(getenv, "SESSION_PURGE_SCHEDULE", cfg.SessionPurgeSchedule)
	cfg.OverdueDigestSchedule = getEnv(getenv, "OVERDUE_DIGEST_SCHEDULE", cfg.OverdueDigestSchedule)

	return cfg, nil
}

// Validate checks the combinations Load cannot catch field by field.
func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port %d", c.HTTPPort)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func getEnv(getenv func(string) string, key, defaultValue string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDuration(getenv func(string) string, key string, defaultValue time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
