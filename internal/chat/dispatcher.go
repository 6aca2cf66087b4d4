package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/antoniostano/storai/internal/logging"
)

// Dispatcher runs background work detached from the request context and
// tracks it so shutdown can wait for completion.
type Dispatcher struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func NewDispatcher() *Dispatcher { return &Dispatcher{} }

// Dispatch executes handler in a new goroutine with a fresh context that
// keeps the caller's logger. A positive timeout bounds the handler. After
// Close the handler runs inline instead.
func (d *Dispatcher) Dispatch(ctx context.Context, timeout time.Duration, handler func(ctx context.Context) error) {
	bgCtx := logging.With(context.Background(), logging.From(ctx))

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		run(bgCtx, timeout, handler)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		run(bgCtx, timeout, handler)
	}()
}

func run(ctx context.Context, timeout time.Duration, handler func(ctx context.Context) error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			logging.From(ctx).Error("panic in background task", "panic", r)
		}
	}()

	if err := handler(ctx); err != nil {
		var ge *goerr.Error
		if errors.As(err, &ge) {
			logging.From(ctx).Error("background task failed", "error", err, "values", ge.Values())
			return
		}
		logging.From(ctx).Error("background task failed", "error", err)
	}
}

// Wait blocks until all dispatched work has finished or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting background work and waits for in-flight tasks.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return d.Wait(ctx)
}
