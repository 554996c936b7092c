package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/booking-payments/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"TENANT_CONFIG_FILE":    "/etc/payments/tenants.json",
		"TENANT_CONFIG_URL":     "",
		"STORE_BACKEND":         "",
		"REDIS_URL":             "",
		"RATE_LIMIT_MAX":        "",
		"RATE_LIMIT_WINDOW":     "",
		"ATTEMPT_TTL":           "",
		"CURRENCY_CODE":         "",
		"CORS_OPS_ORIGINS":      "",
		"BODY_LIMIT_BYTES":      "",
		"OBS_ENABLE_PROMETHEUS": "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)

	require.Equal(t, config.StoreMemory, cfg.StoreBackend)
	require.Equal(t, 15, cfg.RateLimitMax)
	require.Equal(t, time.Minute, cfg.RateLimitWindow)
	require.Equal(t, time.Hour, cfg.QuoteTTL)
	require.Equal(t, 30*time.Minute, cfg.AttemptTTL)
	require.Equal(t, 24*time.Hour, cfg.ConsumedRetention)
	require.Equal(t, 5*time.Minute, cfg.JanitorInterval)
	require.Equal(t, 5*time.Second, cfg.OutboundTimeout)
	require.Equal(t, int64(64<<10), cfg.BodyLimitBytes)
	require.Equal(t, "USD", cfg.CurrencyCode)
	require.True(t, cfg.Obs.EnablePrometheus)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["STORE_BACKEND"] = "Redis"
	env["REDIS_URL"] = "redis://localhost:6379/0"
	env["RATE_LIMIT_MAX"] = "30"
	env["ATTEMPT_TTL"] = "10m"
	env["CURRENCY_CODE"] = "ttd"
	env["CORS_OPS_ORIGINS"] = "https://ops.example, ,https://grafana.example"
	env["OBS_ENABLE_PROMETHEUS"] = "off"

	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, config.StoreRedis, cfg.StoreBackend)
	require.Equal(t, 30, cfg.RateLimitMax)
	require.Equal(t, 10*time.Minute, cfg.AttemptTTL)
	require.Equal(t, "TTD", cfg.CurrencyCode)
	require.Equal(t, []string{"https://ops.example", "https://grafana.example"}, cfg.CORSOpsOrigins)
	require.False(t, cfg.Obs.EnablePrometheus)
}

func TestLoadRejectsIncompleteConfig(t *testing.T) {
	env := baseEnv()
	env["STORE_BACKEND"] = "redis"
	_, err := config.LoadForTests(env)
	require.ErrorContains(t, err, "REDIS_URL")

	env = baseEnv()
	env["TENANT_CONFIG_FILE"] = ""
	_, err = config.LoadForTests(env)
	require.ErrorContains(t, err, "TENANT_CONFIG")

	env = baseEnv()
	env["STORE_BACKEND"] = "postgres"
	_, err = config.LoadForTests(env)
	require.Error(t, err)
}

func TestHTTPAddr(t *testing.T) {
	require.Equal(t, ":8080", (&config.Config{}).HTTPAddr())
	require.Equal(t, ":9000", (&config.Config{Port: "9000"}).HTTPAddr())
	require.Equal(t, ":9000", (&config.Config{Port: ":9000"}).HTTPAddr())
}
