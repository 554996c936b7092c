// Package store holds short-lived records keyed by opaque identifiers. Every backend
// expires entries on its own; Sweep exists for backends that need an explicit pass.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or its entry has expired.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned by Redis.Update when the key kept changing under concurrent writers.
var ErrConflict = errors.New("store: concurrent update")

// UpdateFunc receives the live value under a key, if any, and returns its replacement.
// Returning an error aborts the update and leaves the entry untouched.
type UpdateFunc[V any] func(current V, found bool) (V, error)

// Store is an expiring key/value store. Take is the atomic fetch-and-delete used to
// consume single-use records; Update is an atomic read-modify-write of one key.
type Store[V any] interface {
	Put(ctx context.Context, key string, value V, ttl time.Duration) error
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc[V]) (V, error)
	Get(ctx context.Context, key string) (V, error)
	Take(ctx context.Context, key string) (V, error)
	Delete(ctx context.Context, key string) error
	Sweep(ctx context.Context) (int, error)
}

// Pinger is implemented by backends that depend on an external service.
type Pinger interface {
	Ping(ctx context.Context) error
}
