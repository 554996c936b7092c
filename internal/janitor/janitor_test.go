package janitor_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/booking-payments/internal/janitor"
	"github.com/noah-isme/booking-payments/internal/store"
)

type failingSweeper struct{}

func (failingSweeper) Sweep(context.Context) (int, error) { return 0, errors.New("boom") }

func TestSweepEvictsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	quotes := store.NewMemory[string]().WithClock(clock)
	attempts := store.NewMemory[string]().WithClock(clock)

	require.NoError(t, quotes.Put(ctx, "q1", "quote", 60*time.Minute))
	require.NoError(t, attempts.Put(ctx, "a1", "attempt", 30*time.Minute))

	now = now.Add(45 * time.Minute)

	j := janitor.New(zerolog.Nop(),
		janitor.Target{Name: "quotes", Sweeper: quotes},
		janitor.Target{Name: "attempts", Sweeper: attempts},
	)
	counts, err := j.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, counts["quotes"])
	require.Equal(t, 1, counts["attempts"])
	require.Equal(t, 1, quotes.Len())
	require.Equal(t, 0, attempts.Len())
}

func TestSweepContinuesPastFailingTarget(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory[string]()
	require.NoError(t, mem.Put(ctx, "k", "v", time.Nanosecond))
	time.Sleep(time.Millisecond)

	j := janitor.New(zerolog.Nop(),
		janitor.Target{Name: "broken", Sweeper: failingSweeper{}},
		janitor.Target{Name: "mem", Sweeper: mem},
	)
	counts, err := j.Sweep(ctx)
	require.Error(t, err)
	require.Equal(t, 1, counts["mem"])
}

func TestTaskStartStop(t *testing.T) {
	var runs atomic.Int32
	task := &janitor.Task{
		Name:     "counter",
		Interval: 5 * time.Millisecond,
		Logger:   zerolog.Nop(),
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}
	require.NoError(t, task.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	task.Stop()

	stopped := runs.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, stopped, runs.Load())

	task.Stop()
}

func TestTaskRejectsInvalidConfig(t *testing.T) {
	task := &janitor.Task{Interval: time.Second}
	require.Error(t, task.Start(context.Background()))
	require.Error(t, task.RunOnce(context.Background()))

	task = &janitor.Task{Run: func(context.Context) error { return nil }}
	require.Error(t, task.Start(context.Background()))
}
