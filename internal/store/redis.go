package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const updateRetries = 5

// Redis is a Store shared between service instances. Entries are JSON encoded and
// expire through native key TTLs; Take relies on GETDEL for atomic consumption.
type Redis[V any] struct {
	Client *redis.Client
	Prefix string
}

// NewRedis constructs a Redis-backed store that namespaces keys with prefix.
func NewRedis[V any](client *redis.Client, prefix string) *Redis[V] {
	return &Redis[V]{Client: client, Prefix: prefix}
}

func (r *Redis[V]) key(key string) string {
	return r.Prefix + key
}

// Put stores value under key with the provided TTL.
func (r *Redis[V]) Put(ctx context.Context, key string, value V, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	return r.Client.Set(ctx, r.key(key), data, ttl).Err()
}

// Update runs fn inside an optimistic WATCH/MULTI transaction and retries when another
// writer touches the key first.
func (r *Redis[V]) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc[V]) (V, error) {
	full := r.key(key)
	var next V
	txf := func(tx *redis.Tx) error {
		current, err := r.decode(tx.Get(ctx, full).Bytes())
		found := err == nil
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		next, err = fn(current, found)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("store: encode %s: %w", key, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, full, data, ttl)
			return nil
		})
		return err
	}
	for i := 0; i < updateRetries; i++ {
		err := r.Client.Watch(ctx, txf, full)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return next, err
	}
	return next, ErrConflict
}

// Get returns the value stored under key.
func (r *Redis[V]) Get(ctx context.Context, key string) (V, error) {
	return r.decode(r.Client.Get(ctx, r.key(key)).Bytes())
}

// Take atomically fetches and deletes key.
func (r *Redis[V]) Take(ctx context.Context, key string) (V, error) {
	return r.decode(r.Client.GetDel(ctx, r.key(key)).Bytes())
}

// Delete removes key if present.
func (r *Redis[V]) Delete(ctx context.Context, key string) error {
	return r.Client.Del(ctx, r.key(key)).Err()
}

// Sweep is a no-op: Redis evicts expired keys itself.
func (r *Redis[V]) Sweep(context.Context) (int, error) {
	return 0, nil
}

// Ping checks connectivity to the backing server.
func (r *Redis[V]) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

func (r *Redis[V]) decode(data []byte, err error) (V, error) {
	var value V
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return value, ErrNotFound
		}
		return value, err
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("store: decode: %w", err)
	}
	return value, nil
}
