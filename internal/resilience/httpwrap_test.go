package resilience_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/booking-payments/internal/resilience"
)

func TestHTTPClientRetriesServerErrorsWithSameBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, `{"k":1}`, string(body))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := resilience.NewHTTPClient("test-retry", time.Second, 2)
	client.BaseBackoff = time.Millisecond
	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"k":1}`))
	require.NoError(t, err)

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok", string(data))
	require.Equal(t, int32(2), calls.Load())
}

func TestHTTPClientPassesClientErrorsThrough(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	client := resilience.NewHTTPClient("test-4xx", time.Second, 3)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	require.Equal(t, int32(1), calls.Load())
}

func TestHTTPClientTimeoutIsDetected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	client := resilience.NewHTTPClient("test-timeout", 20*time.Millisecond, 1)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = client.Do(context.Background(), req)
	require.Error(t, err)
	require.True(t, resilience.IsTimeout(err))
	require.False(t, resilience.IsTimeout(io.EOF))
}

func TestHTTPClientOpenBreakerShortCircuits(t *testing.T) {
	client := resilience.HTTPClient{
		Client:  http.DefaultClient,
		Breaker: resilience.NewBreaker(1, 0.5, time.Hour),
	}
	client.Breaker.Report(context.Background(), false)

	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:1", nil)
	require.NoError(t, err)
	_, err = client.Do(context.Background(), req)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
}
