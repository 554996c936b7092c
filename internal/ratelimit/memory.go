package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Record is the per-key counter state.
type Record struct {
	WindowStart time.Time
	Count       int
	LastAccess  time.Time
}

// Memory is a process-local fixed-window limiter.
type Memory struct {
	Window time.Duration
	Max    int

	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemory returns a limiter admitting max requests per window for each key.
func NewMemory(window time.Duration, max int) *Memory {
	return &Memory{
		Window:  window,
		Max:     max,
		records: map[string]*Record{},
		now:     time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	if now != nil {
		m.now = now
	}
	return m
}

// Allow implements Limiter.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok || now.Sub(rec.WindowStart) >= m.Window {
		rec = &Record{WindowStart: now}
		m.records[key] = rec
	}
	rec.LastAccess = now

	d := Decision{Limit: m.Max, ResetAt: rec.WindowStart.Add(m.Window)}
	if rec.Count >= m.Max {
		d.RetryAfter = d.ResetAt.Sub(now)
		return d, nil
	}
	rec.Count++
	d.Allowed = true
	d.Remaining = m.Max - rec.Count
	return d, nil
}

// Peek implements Limiter.
func (m *Memory) Peek(_ context.Context, key string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok || now.Sub(rec.WindowStart) >= m.Window {
		return Decision{Allowed: true, Limit: m.Max, Remaining: m.Max, ResetAt: now.Add(m.Window)}, nil
	}
	d := Decision{Limit: m.Max, ResetAt: rec.WindowStart.Add(m.Window)}
	if rec.Count >= m.Max {
		d.RetryAfter = d.ResetAt.Sub(now)
		return d, nil
	}
	d.Allowed = true
	d.Remaining = m.Max - rec.Count
	return d, nil
}

// Sweep drops keys idle for longer than two windows and returns how many were removed.
func (m *Memory) Sweep(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-2 * m.Window)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, rec := range m.records {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if rec.LastAccess.Before(cutoff) {
			delete(m.records, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
