package obs

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// NewLogger configures a zerolog logger using the provided format and level.
func NewLogger(format, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stdout
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text":
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Str("service", "payment-broker").Logger()
}

// RequestLogger attaches a request-scoped logger to the context and records one
// structured line per request once the handler returns.
type RequestLogger struct {
	Logger zerolog.Logger
}

// Middleware implements chi middleware for structured request logs.
func (l RequestLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqLogger := l.Logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		ctx := reqLogger.WithContext(r.Context())

		recorder := NewStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r.WithContext(ctx))
		duration := time.Since(start)

		logger := zerolog.Ctx(ctx)
		evt := logger.Info()
		if recorder.Status() >= http.StatusInternalServerError {
			evt = logger.Error()
		}
		evt = evt.
			Str("method", r.Method).
			Str("route", routePattern(r)).
			Str("path", r.URL.Path).
			Int("status", recorder.Status()).
			Int64("duration_ms", duration.Milliseconds()).
			Int64("bytes", recorder.BytesWritten())
		if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
			evt = evt.Str("trace_id", spanCtx.TraceID().String()).Str("span_id", spanCtx.SpanID().String())
		}
		if ip := strings.TrimSpace(r.RemoteAddr); ip != "" {
			evt = evt.Str("remote_addr", ip)
		}
		if origin := r.Header.Get("Origin"); origin != "" {
			evt = evt.Str("origin", origin)
		}
		if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
			evt = evt.Str("user_agent", ua)
		}
		evt.Msg("http_request")
	})
}

// AnnotateTenant adds the tenant, and where it was resolved from, to the request logger
// so every later line, including the access log, carries them.
func AnnotateTenant(ctx context.Context, tenant, source string) {
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		return
	}
	logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str("tenant", tenant).Str("tenant_source", source)
	})
}

// SecurityEvent counts a security-relevant rejection and returns a warn-level log event
// tagged with it. Callers add fields and call Msg.
func SecurityEvent(ctx context.Context, event string) *zerolog.Event {
	if SecurityEventsTotal != nil {
		SecurityEventsTotal.WithLabelValues(event).Inc()
	}
	return zerolog.Ctx(ctx).Warn().Str("event", event)
}
