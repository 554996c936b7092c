package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Shared is a fixed-window limiter whose counters live in Redis, so every instance of
// the service sees the same per-IP budget.
type Shared struct {
	lim *limiter.Limiter
}

// NewShared wires a Redis-backed limiter admitting max requests per window.
func NewShared(client *redis.Client, prefix string, window time.Duration, max int) (*Shared, error) {
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis store: %w", err)
	}
	rate := limiter.Rate{Period: window, Limit: int64(max)}
	return &Shared{lim: limiter.New(store, rate)}, nil
}

// Allow implements Limiter.
func (s *Shared) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := s.lim.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	return decisionFrom(res), nil
}

// Peek implements Limiter.
func (s *Shared) Peek(ctx context.Context, key string) (Decision, error) {
	res, err := s.lim.Peek(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	d := decisionFrom(res)
	// Peek does not count, so a budget spent exactly to zero is not yet Reached.
	if d.Remaining <= 0 {
		d.Allowed = false
		d.RetryAfter = time.Until(d.ResetAt)
	}
	return d, nil
}

func decisionFrom(res limiter.Context) Decision {
	d := Decision{
		Allowed:   !res.Reached,
		Limit:     int(res.Limit),
		Remaining: int(res.Remaining),
		ResetAt:   time.Unix(res.Reset, 0),
	}
	if res.Reached {
		d.RetryAfter = time.Until(d.ResetAt)
	}
	return d
}
