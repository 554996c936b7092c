package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentAttemptsTotal counts create-attempt outcomes.
	PaymentAttemptsTotal *prometheus.CounterVec
	// GatewayDispatchTotal counts gateway submissions by gateway and outcome.
	GatewayDispatchTotal *prometheus.CounterVec
	// GatewayDuration times adapter calls by gateway and outcome.
	GatewayDuration *prometheus.HistogramVec
	// SecurityEventsTotal counts rejected tamper, origin and cross-tenant requests.
	SecurityEventsTotal *prometheus.CounterVec
	// RateLimitedTotal counts requests refused by the per-IP limiter.
	RateLimitedTotal prometheus.Counter
	// AttemptAmountCents records recalculated attempt amounts.
	AttemptAmountCents *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises the payment collectors once per process.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentAttemptsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_attempts_total",
			Help:      "Count of payment attempt creation outcomes.",
		}, []string{"result"}))
		GatewayDispatchTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_dispatch_total",
			Help:      "Count of gateway submissions by gateway and outcome.",
		}, []string{"gateway", "result"}))
		GatewayDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Latency of gateway adapter calls.",
			Buckets:   LatencyBuckets,
		}, []string{"gateway", "outcome"}))
		SecurityEventsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_events_total",
			Help:      "Count of requests rejected for security reasons.",
		}, []string{"event"}))
		RateLimitedTotal = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Number of requests refused by the rate limiter.",
		}))
		AttemptAmountCents = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_amount_cents",
			Help:      "Distribution of recalculated attempt amounts in minor units.",
			Buckets:   prometheus.ExponentialBuckets(500, 2, 10),
		}, []string{"tenant"}))
	})
}
