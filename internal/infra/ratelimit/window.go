package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is a request budget over a rolling fixed window. All callers
// of the price API share a single Window; when the budget for the
// current window is spent, Acquire parks the caller until the window
// would naturally reset. It cannot fail, it can only delay.
type Window struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	count       int
	windowStart time.Time

	now func() time.Time // test hook
}

// NewWindow returns a limiter allowing limit acquisitions per window.
func NewWindow(limit int, window time.Duration) *Window {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Window{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Acquire consumes one unit of budget, waiting out the remainder of
// the window first if the budget is exhausted. Returns early only on
// context cancellation; the wait never blocks other goroutines.
func (w *Window) Acquire(ctx context.Context) error {
	for {
		w.mu.Lock()
		now := w.now()

		if now.Sub(w.windowStart) >= w.window {
			w.count = 0
			w.windowStart = now
		}

		if w.count < w.limit {
			w.count++
			w.mu.Unlock()
			return nil
		}

		wait := w.window - now.Sub(w.windowStart)
		w.mu.Unlock()

		if wait <= 0 {
			continue
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Remaining reports the budget left in the current window.
func (w *Window) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.now().Sub(w.windowStart) >= w.window {
		return w.limit
	}
	left := w.limit - w.count
	if left < 0 {
		return 0
	}
	return left
}
