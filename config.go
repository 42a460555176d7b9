package reqcache

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "REQCACHE_"

// Config is the environment-driven client configuration.
type Config struct {
	BaseURL  string `env:"BASE_URL"`
	TenantID string `env:"TENANT_ID"`
	Token    string `env:"TOKEN"`

	FreshnessWindow time.Duration `env:"FRESHNESS_WINDOW" envDefault:"5m"`
	InFlightMode    string        `env:"INFLIGHT_MODE" envDefault:"join"`

	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	BaseDelay   time.Duration `env:"BASE_DELAY" envDefault:"1s"`
	Backoff     string        `env:"BACKOFF" envDefault:"linear"`
	MaxDelay    time.Duration `env:"MAX_DELAY"`
	Jitter      float64       `env:"JITTER" envDefault:"0"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"100s"`

	// RulesFile is a YAML invalidation rules file, see LoadInvalidationRules.
	RulesFile string `env:"RULES_FILE"`
	// RedisURL selects a shared redisstore.Store; wiring it is up to the
	// caller since the root package does not depend on redis.
	RedisURL string `env:"REDIS_URL"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Metrics  bool   `env:"METRICS" envDefault:"false"`
}

// LoadConfig reads Config from REQCACHE_* environment variables.
func LoadConfig() (*Config, error) {
	return loadConfig(nil)
}

// loadConfig reads from environ when non-nil, else from the process.
func loadConfig(environ map[string]string) (*Config, error) {
	var cfg Config
	opts := env.Options{Prefix: EnvPrefix, Environment: environ}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Options converts the configuration into client options.
func (cfg *Config) Options() ([]Option, error) {
	mode, err := ParseInFlightMode(cfg.InFlightMode)
	if err != nil {
		return nil, err
	}

	strategy, err := ParseBackoff(cfg.Backoff)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithFreshnessWindow(cfg.FreshnessWindow),
		WithInFlightMode(mode),
		WithRetryPolicy(RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			Backoff:     strategy,
			MaxDelay:    cfg.MaxDelay,
			Jitter:      cfg.Jitter,
		}),
		WithTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	if cfg.TenantID != "" || cfg.Token != "" {
		opts = append(opts, WithCredentials(NewMemoryCredentials(cfg.TenantID, cfg.Token)))
	}
	if cfg.RulesFile != "" {
		rules, err := LoadInvalidationRulesFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithInvalidationRules(rules))
	}
	if cfg.Metrics {
		opts = append(opts, WithMetrics())
	}
	return opts, nil
}
