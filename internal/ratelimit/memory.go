package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Default websocket message budget per user.
const (
	DefaultLimit  = 10
	DefaultWindow = time.Minute
)

// SlidingWindowLimiter implements Limiter by remembering the timestamps of
// accepted requests per key. A request is allowed while fewer than limit
// requests were accepted within the trailing window. Rejected requests are
// not recorded.
//
// A background goroutine drops keys with no request inside the window.
// Call Close to stop it.
type SlidingWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// Option configures a SlidingWindowLimiter.
type Option func(*SlidingWindowLimiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *SlidingWindowLimiter) { l.now = now }
}

// NewSlidingWindowLimiter creates a limiter allowing limit requests per window
// per key. Non-positive arguments fall back to DefaultLimit and DefaultWindow.
func NewSlidingWindowLimiter(limit int, window time.Duration, opts ...Option) *SlidingWindowLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &SlidingWindowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.cleanup()
	return l
}

// Allow prunes stale timestamps for key, then admits and records the request
// if the window still has room. Check and record happen under one lock.
func (l *SlidingWindowLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := prune(l.hits[key], now.Add(-l.window))
	if len(recent) >= l.limit {
		l.hits[key] = recent
		return false, nil
	}
	l.hits[key] = append(recent, now)
	return true, nil
}

// Remaining reports how many more requests key may make right now.
func (l *SlidingWindowLimiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.limit - len(prune(l.hits[key], l.now().Add(-l.window)))
	if n < 0 {
		return 0
	}
	return n
}

// Window returns the configured window length.
func (l *SlidingWindowLimiter) Window() time.Duration { return l.window }

// Close stops the cleanup goroutine. Safe to call multiple times.
func (l *SlidingWindowLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.done) })
	return nil
}

// prune drops timestamps at or before cutoff. Timestamps are appended in
// order, so the survivors are a suffix.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

func (l *SlidingWindowLimiter) cleanup() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.evictStale()
		}
	}
}

func (l *SlidingWindowLimiter) evictStale() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for key, ts := range l.hits {
		if len(prune(ts, cutoff)) == 0 {
			delete(l.hits, key)
		}
	}
}
