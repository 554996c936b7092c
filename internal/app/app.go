// Package app assembles the payment broker from configuration: stores, tenant
// directory, gateway adapters, router and background tasks.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/booking-payments/internal/config"
	"github.com/noah-isme/booking-payments/internal/health"
	"github.com/noah-isme/booking-payments/internal/janitor"
	"github.com/noah-isme/booking-payments/internal/obs"
	"github.com/noah-isme/booking-payments/internal/payment"
	"github.com/noah-isme/booking-payments/internal/ratelimit"
	"github.com/noah-isme/booking-payments/internal/resilience"
	"github.com/noah-isme/booking-payments/internal/security"
	"github.com/noah-isme/booking-payments/internal/store"
	"github.com/noah-isme/booking-payments/internal/tenant"
)

const redisKeyPrefix = "booking-payments:"

// App is a wired broker ready to serve.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Handler http.Handler
	Service *payment.Service
	Janitor *janitor.Task

	redis *redis.Client
}

// New wires every component described by cfg. Redis is only dialled when the shared
// store backend is selected.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if cfg.Obs.EnablePrometheus {
		obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	}

	dir, sweepers, err := tenantDirectory(cfg)
	if err != nil {
		return nil, err
	}
	registry := tenant.NewRegistry(dir, cfg.OutboundTimeout)
	probes := []health.Probe{{Name: "tenants", Pinger: dir}}

	var (
		quotes   store.Store[payment.Quote]
		attempts store.Store[payment.Attempt]
		consumed store.Store[payment.Consumed]
		limiter  ratelimit.Limiter
	)
	switch cfg.StoreBackend {
	case config.StoreRedis:
		client, err := a.dialRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		quotes = store.NewRedis[payment.Quote](client, redisKeyPrefix+"quote:")
		attempts = store.NewRedis[payment.Attempt](client, redisKeyPrefix+"attempt:")
		consumed = store.NewRedis[payment.Consumed](client, redisKeyPrefix+"consumed:")
		shared, err := ratelimit.NewShared(client, redisKeyPrefix+"ratelimit", cfg.RateLimitWindow, cfg.RateLimitMax)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		limiter = shared
		probes = append(probes, health.Probe{Name: "redis", Pinger: store.NewRedis[struct{}](client, redisKeyPrefix)})
	default:
		quotes = store.NewMemory[payment.Quote]()
		attempts = store.NewMemory[payment.Attempt]()
		consumed = store.NewMemory[payment.Consumed]()
		mem := ratelimit.NewMemory(cfg.RateLimitWindow, cfg.RateLimitMax)
		limiter = mem
		sweepers = append(sweepers, janitor.Target{Name: "rate_limit", Sweeper: mem})
	}

	a.Service = &payment.Service{
		Quotes:      quotes,
		Attempts:    attempts,
		Consumed:    consumed,
		Tenants:     registry,
		Adapters:    adapters(cfg),
		QuoteTTL:    cfg.QuoteTTL,
		AttemptTTL:  cfg.AttemptTTL,
		ConsumedTTL: cfg.ConsumedRetention,
		Currency:    cfg.CurrencyCode,
	}

	targets := append([]janitor.Target{
		{Name: "quotes", Sweeper: quotes},
		{Name: "attempts", Sweeper: attempts},
		{Name: "consumed", Sweeper: consumed},
	}, sweepers...)
	a.Janitor = janitor.New(logger.With().Str("component", "janitor").Logger(), targets...).Task(cfg.JanitorInterval)

	resolver := tenant.NewResolver(cfg.TenantHeader)
	guard := payment.NewGuard(
		security.NewCORS(registry, resolver),
		ratelimit.Handler{Limiter: limiter},
		resolver,
	)
	a.Handler = a.router(payment.NewHandler(a.Service, guard), health.Handler{Probes: probes})
	return a, nil
}

func (a *App) dialRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		a.Logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.Obs.EnablePrometheus {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			a.Logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	a.redis = client
	return client, nil
}

func tenantDirectory(cfg *config.Config) (interface {
	tenant.Directory
	health.Pinger
}, []janitor.Target, error) {
	if cfg.TenantConfigFile != "" {
		dir, err := tenant.LoadStaticFile(cfg.TenantConfigFile)
		if err != nil {
			return nil, nil, fmt.Errorf("tenant config file: %w", err)
		}
		return dir, nil, nil
	}
	client := resilience.NewHTTPClient("tenant_config", cfg.OutboundTimeout, 2)
	remote := tenant.NewRemote(cfg.TenantConfigURL, cfg.TenantConfigToken, client, cfg.TenantCacheTTL)
	return remote, []janitor.Target{{Name: "tenant_cache", Sweeper: remote}}, nil
}

func adapters(cfg *config.Config) map[payment.Gateway]payment.Adapter {
	return map[payment.Gateway]payment.Adapter{
		payment.GatewaySquare: &payment.Square{
			BaseURL: cfg.SquareBaseURL,
			Client:  resilience.NewHTTPClient("square", cfg.OutboundTimeout, 2),
		},
		payment.GatewayStripe: payment.NewStripeCheckout(cfg.StripeAPIURL, cfg.OutboundTimeout),
		payment.GatewayWiPay:  payment.NewWiPay(cfg.WiPayBaseURL, cfg.OutboundTimeout),
	}
}

func (a *App) router(payments *payment.Handler, healthHandler health.Handler) http.Handler {
	cfg := a.Config

	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.EnablePrometheus {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBuckets(cfg.Obs.MetricsBuckets), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	if cfg.Obs.EnableTracing {
		r.Use(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "http.server",
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return r.Method + " " + r.URL.Path
				}))
		})
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: a.Logger}.Middleware)

	r.Group(func(ops chi.Router) {
		if len(cfg.CORSOpsOrigins) > 0 {
			ops.Use(security.OpsCORS(cfg.CORSOpsOrigins))
		}
		ops.Get("/health/live", healthHandler.Live)
		ops.Get("/health/ready", healthHandler.Ready)
		if cfg.Obs.EnablePrometheus {
			ops.Handle("/metrics", promhttp.Handler())
		}
	})

	r.Route("/api/payment", func(p chi.Router) {
		p.Use(security.Headers{Enable: true, NoStore: true, EnableHSTS: cfg.AppEnv == "production"}.Middleware)
		p.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
		payments.Routes(p)
	})
	return r
}

// Start launches the background janitor.
func (a *App) Start(ctx context.Context) error {
	return a.Janitor.Start(ctx)
}

// Close stops background work and releases connections.
func (a *App) Close() error {
	if a.Janitor != nil {
		a.Janitor.Stop()
	}
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
