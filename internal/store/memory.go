package store

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]entry[V]
}

// Memory is an in-process Store. Keys are spread over independently locked shards so
// writers for distinct keys rarely share a lock.
type Memory[V any] struct {
	shards [shardCount]*shard[V]
	now    func() time.Time
}

// NewMemory constructs an empty in-memory store.
func NewMemory[V any]() *Memory[V] {
	m := &Memory[V]{now: time.Now}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: map[string]entry[V]{}}
	}
	return m
}

// WithClock overrides the time source. Intended for tests.
func (m *Memory[V]) WithClock(now func() time.Time) *Memory[V] {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *Memory[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

// Put stores value under key, replacing any previous entry.
func (m *Memory[V]) Put(_ context.Context, key string, value V, ttl time.Duration) error {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	s.items[key] = e
	return nil
}

// Update applies fn to the live value under key while holding the key's shard lock.
func (m *Memory[V]) Update(_ context.Context, key string, ttl time.Duration, fn UpdateFunc[V]) (V, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	var current V
	e, found := s.items[key]
	if found && m.expired(e) {
		found = false
	}
	if found {
		current = e.value
	}
	next, err := fn(current, found)
	if err != nil {
		return current, err
	}
	e = entry[V]{value: next}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	s.items[key] = e
	return next, nil
}

// Get returns the live value stored under key.
func (m *Memory[V]) Get(_ context.Context, key string) (V, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero V
	e, ok := s.items[key]
	if !ok {
		return zero, ErrNotFound
	}
	if m.expired(e) {
		delete(s.items, key)
		return zero, ErrNotFound
	}
	return e.value, nil
}

// Take removes key and returns its value. Exactly one concurrent caller observes the value.
func (m *Memory[V]) Take(_ context.Context, key string) (V, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero V
	e, ok := s.items[key]
	if !ok {
		return zero, ErrNotFound
	}
	delete(s.items, key)
	if m.expired(e) {
		return zero, ErrNotFound
	}
	return e.value, nil
}

// Delete removes key if present.
func (m *Memory[V]) Delete(_ context.Context, key string) error {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Sweep evicts expired entries and reports how many were removed.
func (m *Memory[V]) Sweep(ctx context.Context) (int, error) {
	removed := 0
	for _, s := range m.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		s.mu.Lock()
		for key, e := range s.items {
			if m.expired(e) {
				delete(s.items, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

// Len reports the number of stored entries, including expired ones not yet swept.
func (m *Memory[V]) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.Lock()
		total += len(s.items)
		s.mu.Unlock()
	}
	return total
}

func (m *Memory[V]) expired(e entry[V]) bool {
	return !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)
}
