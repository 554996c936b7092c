package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/booking-payments/internal/store"
)

type record struct {
	ID     string
	Amount int64
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryPutGetOverwrite(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory[record]()

	require.NoError(t, m.Put(ctx, "a", record{ID: "a", Amount: 1}, time.Minute))
	require.NoError(t, m.Put(ctx, "a", record{ID: "a", Amount: 2}, time.Minute))

	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Amount)

	_, err = m.Get(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryExpiryAndSweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := store.NewMemory[record]().WithClock(clock.Now)

	require.NoError(t, m.Put(ctx, "short", record{ID: "short"}, time.Minute))
	require.NoError(t, m.Put(ctx, "long", record{ID: "long"}, time.Hour))

	clock.Advance(2 * time.Minute)

	removed, err := m.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Equal(t, 1, m.Len())

	_, err = m.Get(ctx, "short")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = m.Get(ctx, "long")
	require.NoError(t, err)
}

func TestMemoryExpiredEntryUnreachableBeforeSweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	m := store.NewMemory[record]().WithClock(clock.Now)
	require.NoError(t, m.Put(ctx, "k", record{ID: "k"}, time.Second))

	clock.Advance(time.Second)
	_, err := m.Take(ctx, "k")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryTakeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory[record]()
	require.NoError(t, m.Put(ctx, "attempt", record{ID: "attempt", Amount: 4200}, time.Minute))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Take(ctx, "attempt"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())

	_, err := m.Get(ctx, "attempt")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryUpdateIsAtomicPerKey(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory[record]()
	errTaken := errors.New("taken")

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Update(ctx, "q1", time.Minute, func(current record, found bool) (record, error) {
				if found {
					return current, errTaken
				}
				return record{ID: fmt.Sprintf("owner-%d", i)}, nil
			})
			if err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, 1, s.Len())
}

func TestMemoryUpdateErrorLeavesEntry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := store.NewMemory[record]().WithClock(clock.Now)
	require.NoError(t, s.Put(ctx, "q1", record{ID: "q1", Amount: 10}, time.Minute))

	_, err := s.Update(ctx, "q1", time.Minute, func(record, bool) (record, error) {
		return record{}, errors.New("nope")
	})
	require.Error(t, err)
	got, err := s.Get(ctx, "q1")
	require.NoError(t, err)
	require.Equal(t, int64(10), got.Amount)

	clock.Advance(2 * time.Minute)
	out, err := s.Update(ctx, "q1", time.Minute, func(current record, found bool) (record, error) {
		require.False(t, found)
		return record{ID: "q1", Amount: 20}, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(20), out.Amount)
}
