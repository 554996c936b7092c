package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is measured on the limiter's own clock.
	RetryAfter time.Duration
}

// Limiter counts requests per key in fixed windows. When a window rolls over the count
// starts again from zero rather than decaying. Peek reports the current state without
// counting a request.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	Peek(ctx context.Context, key string) (Decision, error)
}
