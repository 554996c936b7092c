package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("backend down")
}

func (failingLimiter) Peek(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("backend down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestHandlerSixteenthRequestIsLimited(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	handler := Handler{Limiter: NewMemory(time.Minute, 15).WithClock(func() time.Time { return now })}
	limited := handler.Middleware(okHandler())

	for i := 1; i <= 15; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/payment/create", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		rr := httptest.NewRecorder()
		limited.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/payment/create", nil)
	req.RemoteAddr = "203.0.113.7:6666"
	rr := httptest.NewRecorder()
	limited.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on 16th request, got %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Limit") != "15" {
		t.Fatalf("unexpected limit header: %q", rr.Header().Get("X-RateLimit-Limit"))
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	other := httptest.NewRequest(http.MethodPost, "/api/payment/create", nil)
	other.RemoteAddr = "198.51.100.1:1234"
	rr = httptest.NewRecorder()
	limited.ServeHTTP(rr, other)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected other IP to be unaffected, got %d", rr.Code)
	}
}

func TestHandlerSkipsPreflight(t *testing.T) {
	handler := Handler{Limiter: NewMemory(time.Minute, 1)}
	limited := handler.Middleware(okHandler())

	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		limited.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/api/payment/create", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("preflight %d: expected pass-through, got %d", i, rr.Code)
		}
	}
	rr := httptest.NewRecorder()
	limited.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/payment/create", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected first counted request allowed, got %d", rr.Code)
	}
}

func TestHandlerFailsOpen(t *testing.T) {
	var called bool
	handler := Handler{
		Limiter: failingLimiter{},
		OnError: func(*http.Request, error) { called = true },
	}
	rr := httptest.NewRecorder()
	handler.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected handler to proceed on error, got %d", rr.Code)
	}
	if !called {
		t.Fatal("expected OnError callback to be invoked")
	}
}

func TestMemoryWindowResetsAndSweeps(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory(time.Minute, 2).WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d, _ := m.Allow(ctx, "ip"); !d.Allowed {
			t.Fatalf("request %d unexpectedly limited", i)
		}
	}
	if d, _ := m.Allow(ctx, "ip"); d.Allowed {
		t.Fatal("expected third request in window to be limited")
	}

	now = now.Add(time.Minute)
	d, _ := m.Allow(ctx, "ip")
	if !d.Allowed || d.Remaining != 1 {
		t.Fatalf("expected counter reset on rollover, got %+v", d)
	}

	now = now.Add(2*time.Minute + time.Second)
	removed, err := m.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 || m.Len() != 0 {
		t.Fatalf("expected idle key purged, removed=%d len=%d", removed, m.Len())
	}
}

func TestSharedLimiterEnforcesAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	a, err := NewShared(client, "rl", time.Minute, 2)
	if err != nil {
		t.Fatalf("new shared: %v", err)
	}
	b, err := NewShared(client, "rl", time.Minute, 2)
	if err != nil {
		t.Fatalf("new shared: %v", err)
	}
	ctx := context.Background()

	if d, err := a.Allow(ctx, "203.0.113.7"); err != nil || !d.Allowed {
		t.Fatalf("first request: %+v %v", d, err)
	}
	if d, err := b.Allow(ctx, "203.0.113.7"); err != nil || !d.Allowed {
		t.Fatalf("second request: %+v %v", d, err)
	}
	d, err := a.Allow(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("third request: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected shared budget to be exhausted")
	}
	if d.Limit != 2 {
		t.Fatalf("unexpected limit %d", d.Limit)
	}
	if p, err := b.Peek(ctx, "203.0.113.7"); err != nil || p.Allowed || p.RetryAfter <= 0 {
		t.Fatalf("expected peek to report the spent budget: %+v %v", p, err)
	}
	if p, err := b.Peek(ctx, "198.51.100.1"); err != nil || !p.Allowed {
		t.Fatalf("expected untouched client to have budget: %+v %v", p, err)
	}
}

func TestRetryAfterUsesLimiterClock(t *testing.T) {
	// The limiter clock sits far from wall time; Retry-After must still be the
	// remainder of the window on that clock.
	now := time.Unix(1_000_000_000, 0)
	handler := Handler{Limiter: NewMemory(time.Minute, 1).WithClock(func() time.Time { return now })}
	limited := handler.Middleware(okHandler())

	req := func() *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		limited.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/payment/create", nil))
		return rr
	}
	if rr := req(); rr.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", rr.Code)
	}
	now = now.Add(20*time.Second + 500*time.Millisecond)
	rr := req()
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "40" {
		t.Fatalf("expected Retry-After 40, got %q", got)
	}
}

func TestExhaustedAndCharge(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory(time.Minute, 2).WithClock(func() time.Time { return now })
	handler := Handler{Limiter: m}
	newReq := func() *http.Request { return httptest.NewRequest(http.MethodPost, "/", nil) }

	rr := httptest.NewRecorder()
	if handler.Exhausted(rr, newReq()) {
		t.Fatal("fresh client must not be exhausted")
	}
	if d, _ := m.Peek(context.Background(), "192.0.2.1"); d.Remaining != 2 {
		t.Fatalf("peek must not count, remaining=%d", d.Remaining)
	}

	handler.Charge(newReq())
	handler.Charge(newReq())

	rr = httptest.NewRecorder()
	if !handler.Exhausted(rr, newReq()) {
		t.Fatal("expected exhausted after budget is charged")
	}
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("unexpected response %d retry-after=%q", rr.Code, rr.Header().Get("Retry-After"))
	}

	preflight := httptest.NewRequest(http.MethodOptions, "/", nil)
	if handler.Exhausted(httptest.NewRecorder(), preflight) {
		t.Fatal("preflight is never limited")
	}
}
