package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Store backends accepted by STORE_BACKEND.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Obs groups the observability toggles.
type Obs struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	EnablePrometheus bool
	MetricsBuckets   string
	EnableTracing    bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
}

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv       string
	Port         string
	StoreBackend string
	RedisURL     string
	TrustProxy   bool

	RateLimitMax      int
	RateLimitWindow   time.Duration
	QuoteTTL          time.Duration
	AttemptTTL        time.Duration
	ConsumedRetention time.Duration
	JanitorInterval   time.Duration
	OutboundTimeout   time.Duration
	ShutdownTimeout   time.Duration

	TenantConfigURL   string
	TenantConfigToken string
	TenantConfigFile  string
	TenantCacheTTL    time.Duration
	TenantHeader      string

	BodyLimitBytes int64
	CurrencyCode   string
	CORSOpsOrigins []string

	SquareBaseURL string
	StripeAPIURL  string
	WiPayBaseURL  string

	Obs Obs
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:       valueOrDefault(k.String("APP_ENV"), "development"),
		Port:         valueOrDefault(k.String("PORT"), "8080"),
		StoreBackend: strings.ToLower(valueOrDefault(k.String("STORE_BACKEND"), StoreMemory)),
		RedisURL:     strings.TrimSpace(k.String("REDIS_URL")),
		TrustProxy:   parseBool(k.String("TRUST_PROXY")),

		RateLimitMax:      parseInt(k.String("RATE_LIMIT_MAX"), 15),
		RateLimitWindow:   parseDuration(k.String("RATE_LIMIT_WINDOW"), "60s"),
		QuoteTTL:          parseDuration(k.String("QUOTE_TTL"), "60m"),
		AttemptTTL:        parseDuration(k.String("ATTEMPT_TTL"), "30m"),
		ConsumedRetention: parseDuration(k.String("CONSUMED_RETENTION"), "24h"),
		JanitorInterval:   parseDuration(k.String("JANITOR_INTERVAL"), "5m"),
		OutboundTimeout:   parseDuration(k.String("OUTBOUND_TIMEOUT"), "5s"),
		ShutdownTimeout:   parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),

		TenantConfigURL:   strings.TrimSpace(k.String("TENANT_CONFIG_URL")),
		TenantConfigToken: strings.TrimSpace(k.String("TENANT_CONFIG_TOKEN")),
		TenantConfigFile:  strings.TrimSpace(k.String("TENANT_CONFIG_FILE")),
		TenantCacheTTL:    parseDuration(k.String("TENANT_CACHE_TTL"), "1m"),
		TenantHeader:      valueOrDefault(k.String("TENANT_HEADER"), "X-Tenant-Name"),

		BodyLimitBytes: int64(parseInt(k.String("BODY_LIMIT_BYTES"), 64<<10)),
		CurrencyCode:   strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "USD")),
		CORSOpsOrigins: splitAndTrim(k.String("CORS_OPS_ORIGINS")),

		SquareBaseURL: strings.TrimSpace(k.String("SQUARE_BASE_URL")),
		StripeAPIURL:  strings.TrimSpace(k.String("STRIPE_API_URL")),
		WiPayBaseURL:  strings.TrimSpace(k.String("WIPAY_BASE_URL")),

		Obs: Obs{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "booking_payments"),
			EnablePrometheus: parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
			MetricsBuckets:   strings.TrimSpace(k.String("OBS_METRICS_BUCKETS")),
			EnableTracing:    parseBoolDefault(k.String("OBS_ENABLE_TRACING"), false),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		},
	}

	switch cfg.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required when STORE_BACKEND=redis")
		}
	default:
		return nil, fmt.Errorf("STORE_BACKEND must be %q or %q", StoreMemory, StoreRedis)
	}
	if cfg.TenantConfigURL == "" && cfg.TenantConfigFile == "" {
		return nil, errors.New("TENANT_CONFIG_URL or TENANT_CONFIG_FILE is required")
	}
	if cfg.RateLimitMax <= 0 || cfg.RateLimitWindow <= 0 {
		return nil, errors.New("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}
	if cfg.BodyLimitBytes <= 0 {
		return nil, errors.New("BODY_LIMIT_BYTES must be positive")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
