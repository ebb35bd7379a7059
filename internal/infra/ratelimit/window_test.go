package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWindowAllowsUpToLimit(t *testing.T) {
	w := NewWindow(5, time.Minute)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Acquire(ctx))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond, "acquisitions within budget must not block")
	require.Equal(t, 0, w.Remaining())
}

func TestWindowBlocksUntilBoundary(t *testing.T) {
	window := 300 * time.Millisecond
	w := NewWindow(3, window)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Acquire(ctx))
	}

	// The next acquisition must wait out the remainder of the window.
	start := time.Now()
	require.NoError(t, w.Acquire(ctx))
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, window-50*time.Millisecond,
		"over-budget acquire returned before the window boundary")
}

func TestWindowResetsAfterBoundary(t *testing.T) {
	window := 150 * time.Millisecond
	w := NewWindow(2, window)
	ctx := context.Background()

	require.NoError(t, w.Acquire(ctx))
	require.NoError(t, w.Acquire(ctx))

	time.Sleep(window + 20*time.Millisecond)

	start := time.Now()
	require.NoError(t, w.Acquire(ctx))
	require.Less(t, time.Since(start), 50*time.Millisecond, "fresh window must not block")
}

func TestWindowAcquireHonorsContext(t *testing.T) {
	w := NewWindow(1, time.Minute)
	require.NoError(t, w.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := w.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
