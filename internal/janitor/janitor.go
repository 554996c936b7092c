// Package janitor evicts expired short-lived records in the background. Eviction is
// cleanup only: stores already treat expired entries as absent.
package janitor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Sweeper is implemented by every store the janitor cleans.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Target names a store for logging and metrics.
type Target struct {
	Name    string
	Sweeper Sweeper
}

// Janitor sweeps a fixed set of targets on each run.
type Janitor struct {
	Targets []Target
	Logger  zerolog.Logger

	evicted metric.Int64Counter
	runs    metric.Int64Counter
}

// New returns a janitor for the provided targets.
func New(logger zerolog.Logger, targets ...Target) *Janitor {
	j := &Janitor{Targets: targets, Logger: logger}
	meter := otel.Meter("github.com/noah-isme/booking-payments/internal/janitor")
	if c, err := meter.Int64Counter("janitor.evicted",
		metric.WithDescription("Expired records removed by the janitor."),
		metric.WithUnit("{record}"),
	); err == nil {
		j.evicted = c
	}
	if c, err := meter.Int64Counter("janitor.runs",
		metric.WithDescription("Completed janitor sweeps."),
	); err == nil {
		j.runs = c
	}
	return j
}

// Sweep runs one pass over every target and returns the eviction count per target.
// A failing target does not stop the others.
func (j *Janitor) Sweep(ctx context.Context) (map[string]int, error) {
	start := time.Now()
	counts := make(map[string]int, len(j.Targets))
	var errs []error
	for _, target := range j.Targets {
		if target.Sweeper == nil {
			continue
		}
		n, err := target.Sweeper.Sweep(ctx)
		counts[target.Name] = n
		if err != nil {
			errs = append(errs, err)
			j.Logger.Error().Err(err).Str("store", target.Name).Msg("sweep store")
		}
		if n > 0 && j.evicted != nil {
			j.evicted.Add(ctx, int64(n), metric.WithAttributes(attribute.String("store", target.Name)))
		}
	}
	if j.runs != nil {
		j.runs.Add(ctx, 1)
	}
	evt := j.Logger.Debug().Dur("elapsed", time.Since(start))
	for name, n := range counts {
		evt = evt.Int(name, n)
	}
	evt.Msg("janitor_sweep")
	return counts, errors.Join(errs...)
}

// Task wraps the janitor in a scheduled task running every interval.
func (j *Janitor) Task(interval time.Duration) *Task {
	return &Task{
		Name:     "ttl-janitor",
		Interval: interval,
		Logger:   j.Logger,
		Run: func(ctx context.Context) error {
			_, err := j.Sweep(ctx)
			return err
		},
	}
}
