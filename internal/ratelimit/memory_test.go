package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*SlidingWindowLimiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewSlidingWindowLimiter(limit, window, WithClock(clock.Now))
	t.Cleanup(func() { require.NoError(t, l.Close()) })
	return l, clock
}

func TestSlidingWindow_AllowsUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 10, time.Minute)
	ctx := context.Background()

	for i := range 10 {
		ok, err := l.Allow(ctx, "user:a")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be allowed", i+1)
	}
	ok, err := l.Allow(ctx, "user:a")
	require.NoError(t, err)
	assert.False(t, ok, "11th request inside the window must be rejected")
	assert.Equal(t, 0, l.Remaining("user:a"))
}

func TestSlidingWindow_SlidesOpen(t *testing.T) {
	l, clock := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "k")
	assert.True(t, ok)
	clock.Advance(30 * time.Second)
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	assert.False(t, ok)

	// The first request leaves the window; only one slot opens.
	clock.Advance(31 * time.Second)
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	assert.False(t, ok)
}

func TestSlidingWindow_RejectionsNotRecorded(t *testing.T) {
	l, clock := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "k")
	assert.True(t, ok)
	for range 5 {
		clock.Advance(10 * time.Second)
		ok, _ = l.Allow(ctx, "k")
		assert.False(t, ok)
	}
	clock.Advance(11 * time.Second)
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok, "rejected attempts must not extend the window")
}

func TestSlidingWindow_IndependentKeys(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "a")
	assert.False(t, ok)
	ok, _ = l.Allow(ctx, "b")
	assert.True(t, ok)
}

func TestSlidingWindow_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(t, 50, time.Minute)
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				ok, err := l.Allow(ctx, "shared")
				assert.NoError(t, err)
				if ok {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), allowed.Load())
}

func TestSlidingWindow_EvictStale(t *testing.T) {
	l, clock := newTestLimiter(t, 5, time.Minute)
	ctx := context.Background()

	_, _ = l.Allow(ctx, "stale")
	clock.Advance(2 * time.Minute)
	_, _ = l.Allow(ctx, "recent")

	l.evictStale()

	l.mu.Lock()
	_, staleExists := l.hits["stale"]
	_, recentExists := l.hits["recent"]
	l.mu.Unlock()
	assert.False(t, staleExists)
	assert.True(t, recentExists)
}

func TestSlidingWindow_Defaults(t *testing.T) {
	l := NewSlidingWindowLimiter(0, 0)
	defer func() { _ = l.Close() }()
	assert.Equal(t, DefaultWindow, l.Window())
	assert.Equal(t, DefaultLimit, l.Remaining("anyone"))
	assert.NoError(t, l.Close(), "Close is idempotent")
}

func TestNoopLimiter(t *testing.T) {
	var l Limiter = NoopLimiter{}
	for range 100 {
		ok, err := l.Allow(context.Background(), "k")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.NoError(t, l.Close())
}
