package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ConfigurationError reports a missing or inconsistent setting. It is surfaced at
// startup and never masked.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL string
	LogLevel    string
	Environment string

	RegistrarAPIURL            string
	RegistrarRootURL           string
	RegistrarMaintenanceMarker string
	RegistrarTimeout           time.Duration

	CacheAge            time.Duration // fresh window
	CacheSWR            time.Duration // stale-while-revalidate window
	PollInterval        time.Duration
	APIDownBackoff      time.Duration
	RefreshLeaseTimeout time.Duration // 0 disables the lease reaper

	QueueWorkers      int
	QueueSize         int
	QueueMaxAttempts  int
	QueueRetryBackoff time.Duration

	CronSpecHealthCheck string
	CronSpecLeaseReaper string

	TelegramToken  string
	SendgridAPIKey string
	EmailFrom      string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds the configuration from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) (*AppConfig, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = get("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, &ConfigurationError{Key: "DATABASE_URL", Reason: "is not set"}
	}

	cfg.RegistrarAPIURL = get("REGISTRAR_API_URL")
	if cfg.RegistrarAPIURL == "" {
		return nil, &ConfigurationError{Key: "REGISTRAR_API_URL", Reason: "is not set"}
	}
	apiURL, err := url.Parse(cfg.RegistrarAPIURL)
	if err != nil || apiURL.Scheme == "" || apiURL.Host == "" {
		return nil, &ConfigurationError{Key: "REGISTRAR_API_URL", Reason: "must be an absolute URL"}
	}

	cfg.RegistrarRootURL = get("REGISTRAR_ROOT_URL")
	if cfg.RegistrarRootURL == "" {
		cfg.RegistrarRootURL = apiURL.Scheme + "://" + apiURL.Host + "/"
	}

	cfg.RegistrarMaintenanceMarker = get("REGISTRAR_MAINTENANCE_MARKER")
	if cfg.RegistrarMaintenanceMarker == "" {
		cfg.RegistrarMaintenanceMarker = "maintenance"
	}

	if cfg.RegistrarTimeout, err = duration(get, "REGISTRAR_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	// CACHE_AGE and CACHE_SWR are plain seconds.
	if cfg.CacheAge, err = seconds(get, "CACHE_AGE", 300); err != nil {
		return nil, err
	}
	if cfg.CacheSWR, err = seconds(get, "CACHE_SWR", 360); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = duration(get, "POLL_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.APIDownBackoff, err = duration(get, "API_DOWN_BACKOFF", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.RefreshLeaseTimeout, err = duration(get, "REFRESH_LEASE_TIMEOUT", 0); err != nil {
		return nil, err
	}

	if cfg.QueueWorkers, err = integer(get, "QUEUE_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = integer(get, "QUEUE_SIZE", 256); err != nil {
		return nil, err
	}
	if cfg.QueueMaxAttempts, err = integer(get, "QUEUE_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.QueueRetryBackoff, err = duration(get, "QUEUE_RETRY_BACKOFF", 2*time.Second); err != nil {
		return nil, err
	}

	cfg.CronSpecHealthCheck = get("CRON_SPEC_HEALTH_CHECK")
	if cfg.CronSpecHealthCheck == "" {
		cfg.CronSpecHealthCheck = "@every 1m"
	}
	cfg.CronSpecLeaseReaper = get("CRON_SPEC_LEASE_REAPER")
	if cfg.CronSpecLeaseReaper == "" {
		cfg.CronSpecLeaseReaper = "@every 1m"
	}

	cfg.TelegramToken = get("TELEGRAM_TOKEN")
	cfg.SendgridAPIKey = get("SENDGRID_API_KEY")
	cfg.EmailFrom = get("EMAIL_FROM")
	if cfg.SendgridAPIKey != "" && cfg.EmailFrom == "" {
		return nil, &ConfigurationError{Key: "EMAIL_FROM", Reason: "is required when SENDGRID_API_KEY is set"}
	}

	cfg.LogLevel = strings.ToLower(get("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.Environment = strings.ToLower(get("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *AppConfig) Validate() error {
	if c.CacheAge > c.CacheSWR {
		return &ConfigurationError{
			Key:    "CACHE_AGE",
			Reason: fmt.Sprintf("fresh window (%s) must not exceed CACHE_SWR (%s)", c.CacheAge, c.CacheSWR),
		}
	}
	if c.PollInterval <= 0 {
		return &ConfigurationError{Key: "POLL_INTERVAL", Reason: "must be positive"}
	}
	if c.APIDownBackoff <= 0 {
		return &ConfigurationError{Key: "API_DOWN_BACKOFF", Reason: "must be positive"}
	}
	if c.QueueWorkers < 1 {
		return &ConfigurationError{Key: "QUEUE_WORKERS", Reason: "must be at least 1"}
	}
	if c.QueueSize < 1 {
		return &ConfigurationError{Key: "QUEUE_SIZE", Reason: "must be at least 1"}
	}
	if c.QueueMaxAttempts < 1 {
		return &ConfigurationError{Key: "QUEUE_MAX_ATTEMPTS", Reason: "must be at least 1"}
	}
	return nil
}

func seconds(get func(string) string, key string, def int) (time.Duration, error) {
	n, err := integer(get, key, def)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, &ConfigurationError{Key: key, Reason: "must not be negative"}
	}
	return time.Duration(n) * time.Second, nil
}

func integer(get func(string) string, key string, def int) (int, error) {
	raw := get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ConfigurationError{Key: key, Reason: fmt.Sprintf("invalid integer %q", raw)}
	}
	return n, nil
}

func duration(get func(string) string, key string, def time.Duration) (time.Duration, error) {
	raw := get(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &ConfigurationError{Key: key, Reason: fmt.Sprintf("invalid duration %q", raw)}
	}
	if d < 0 {
		return 0, &ConfigurationError{Key: key, Reason: "must not be negative"}
	}
	return d, nil
}
