package janitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task runs fn on a fixed interval in its own goroutine. It is tied to an explicit
// Start/Stop lifecycle so callers and tests control when it runs.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(context.Context) error
	Logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the loop. Calling Start on a running task is a no-op.
func (t *Task) Start(ctx context.Context) error {
	if t.Run == nil {
		return errors.New("janitor: task has no run function")
	}
	if t.Interval <= 0 {
		return errors.New("janitor: interval must be positive")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.loop(loopCtx, t.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight run to return.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RunOnce executes a single iteration synchronously.
func (t *Task) RunOnce(ctx context.Context) error {
	if t.Run == nil {
		return errors.New("janitor: task has no run function")
	}
	return t.Run(ctx)
}

func (t *Task) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				t.Logger.Error().Err(err).Str("task", t.Name).Msg("scheduled task failed")
			}
		}
	}
}
