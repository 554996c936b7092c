package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/booking-payments/internal/common"
)

// Handler enforces rate limits before delegating to the next handler. Preflight
// requests are never counted.
type Handler struct {
	Limiter Limiter
	Key     func(*http.Request) string
	OnError func(*http.Request, error)
	OnLimit func(*http.Request, string)
}

// Admit checks r against the limiter and writes the rate limit headers. When the
// request is over budget it also writes the 429 response and returns false. Limiter
// failures admit the request.
func (h Handler) Admit(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodOptions || h.Limiter == nil {
		return true
	}
	key := h.key(r)
	d, err := h.Limiter.Allow(r.Context(), key)
	if err != nil {
		h.failed(r, err)
		return true
	}
	return h.write(w, r, key, d)
}

// Exhausted reports whether r's client has already spent its budget, without counting
// r. When it has, the 429 response is written. Callers use it ahead of work that must
// not run for throttled clients, such as directory lookups.
func (h Handler) Exhausted(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodOptions || h.Limiter == nil {
		return false
	}
	key := h.key(r)
	d, err := h.Limiter.Peek(r.Context(), key)
	if err != nil {
		h.failed(r, err)
		return false
	}
	if d.Allowed {
		return false
	}
	return !h.write(w, r, key, d)
}

// Charge counts r against its client's budget without writing a response. It is used
// for requests refused before Admit runs so rejected traffic still spends the budget.
func (h Handler) Charge(r *http.Request) {
	if r.Method == http.MethodOptions || h.Limiter == nil {
		return
	}
	if _, err := h.Limiter.Allow(r.Context(), h.key(r)); err != nil {
		h.failed(r, err)
	}
}

func (h Handler) key(r *http.Request) string {
	if h.Key != nil {
		return h.Key(r)
	}
	return common.ClientIP(r)
}

func (h Handler) failed(r *http.Request, err error) {
	if h.OnError != nil {
		h.OnError(r, err)
	}
}

func (h Handler) write(w http.ResponseWriter, r *http.Request, key string, d Decision) bool {
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(max(d.Limit, 0)))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

	if d.Allowed {
		return true
	}
	headers.Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
	if h.OnLimit != nil {
		h.OnLimit(r, key)
	}
	common.JSONError(w, http.StatusTooManyRequests, "Too many requests", "Please wait before trying again")
	return false
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// Middleware implements the http.Handler middleware interface.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.Admit(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}
