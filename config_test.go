package reqcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.FreshnessWindow)
	assert.Equal(t, "join", cfg.InFlightMode)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.BaseDelay)
	assert.Equal(t, "linear", cfg.Backoff)
	assert.Equal(t, 100*time.Second, cfg.Timeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Metrics)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	cfg, err := loadConfig(map[string]string{
		"REQCACHE_BASE_URL":         "http://watchalert:9001",
		"REQCACHE_TENANT_ID":        "acme",
		"REQCACHE_TOKEN":            "tok",
		"REQCACHE_FRESHNESS_WINDOW": "30s",
		"REQCACHE_INFLIGHT_MODE":    "advisory",
		"REQCACHE_MAX_ATTEMPTS":     "5",
		"REQCACHE_BASE_DELAY":       "250ms",
		"REQCACHE_METRICS":          "true",
		"BASE_URL":                  "ignored",
	})
	require.NoError(t, err)

	assert.Equal(t, "http://watchalert:9001", cfg.BaseURL)
	assert.Equal(t, "acme", cfg.TenantID)
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, 30*time.Second, cfg.FreshnessWindow)
	assert.Equal(t, "advisory", cfg.InFlightMode)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.BaseDelay)
	assert.True(t, cfg.Metrics)
}

func TestLoadConfigInvalidValue(t *testing.T) {
	_, err := loadConfig(map[string]string{"REQCACHE_MAX_ATTEMPTS": "many"})
	assert.Error(t, err)
}

func TestConfigOptions(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte("rules:\n  - path: /api/w8t/ticket/\n"), 0o600))

	cfg, err := loadConfig(map[string]string{
		"REQCACHE_BASE_URL":      "http://watchalert:9001",
		"REQCACHE_TENANT_ID":     "acme",
		"REQCACHE_INFLIGHT_MODE": "advisory",
		"REQCACHE_MAX_ATTEMPTS":  "2",
		"REQCACHE_BACKOFF":       "exponential",
		"REQCACHE_RULES_FILE":    rulesPath,
		"REQCACHE_METRICS":       "true",
	})
	require.NoError(t, err)

	opts, err := cfg.Options()
	require.NoError(t, err)
	client := New(opts...)

	require.True(t, client.IsValid(), "%v", client.ValidationError())
	assert.Equal(t, InFlightAdvisory, client.InFlight().Mode())
	assert.Equal(t, 2, client.executor.Policy().MaxAttempts)
	assert.Equal(t, BackoffExponential, client.executor.Policy().Backoff)
	assert.Equal(t, "acme", client.Credentials().TenantID())
	assert.Len(t, client.rules, 1)
	assert.NotNil(t, client.Metrics())
}

func TestConfigOptionsErrors(t *testing.T) {
	cfg := &Config{InFlightMode: "broadcast"}
	_, err := cfg.Options()
	assert.Error(t, err)

	cfg = &Config{Backoff: "fibonacci"}
	_, err = cfg.Options()
	assert.Error(t, err)

	cfg = &Config{RulesFile: filepath.Join(t.TempDir(), "missing.yaml")}
	_, err = cfg.Options()
	assert.Error(t, err)
}
