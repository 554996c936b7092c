package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

var draining atomic.Bool

// SetReady flips the process-wide readiness flag. It is cleared when shutdown starts so
// load balancers stop routing before the listener closes.
func SetReady(ready bool) {
	draining.Store(!ready)
}

// Pinger is implemented by dependencies that can be probed for readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe names a dependency checked by Ready.
type Probe struct {
	Name   string
	Pinger Pinger
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Probes  []Probe
	Timeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	status := make(map[string]string, len(h.Probes)+1)
	healthy := !draining.Load()
	if !healthy {
		status["server"] = "shutting down"
	}
	for _, probe := range h.Probes {
		if probe.Pinger == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
		err := probe.Pinger.Ping(ctx)
		cancel()
		if err != nil {
			status[probe.Name] = err.Error()
			healthy = false
			continue
		}
		status[probe.Name] = "ok"
	}
	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func (h Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.Timeout
}
