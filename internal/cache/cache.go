// Package cache provides the TTL-bounded result caches shared by the scenario
// orchestrator and the agent dispatcher.
//
// Entries are keyed by a digest of the normalized query text and a scope
// (a domain for run-level results, an agent kind for single calls). Lookups
// never refresh recency, so capacity eviction always removes the entry that
// was created first.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/telemetry"
)

// Defaults used by the orchestrator when config leaves them unset.
const (
	DefaultTTL     = 300 * time.Second
	DefaultMaxSize = 100
)

type entry[V any] struct {
	data      V
	createdAt time.Time
	expiresAt time.Time
	hits      int64
}

// TTL is a bounded cache whose entries expire ttl after they were written.
// Safe for concurrent use.
type TTL[V any] struct {
	name    string
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	mu        sync.Mutex
	lru       *expirable.LRU[string, *entry[V]]
	totalHits int64

	lookups metric.Int64Counter
}

// Option configures a TTL cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a cache. name labels its metrics and health output.
// Non-positive ttl or maxSize fall back to the defaults.
func New[V any](name string, ttl time.Duration, maxSize int, opts ...Option) *TTL[V] {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	c := &TTL[V]{
		name:    name,
		ttl:     ttl,
		maxSize: maxSize,
		now:     o.now,
		lru:     expirable.NewLRU[string, *entry[V]](maxSize, nil, ttl),
	}
	// Instrument errors only occur with invalid names; a nil counter disables recording.
	c.lookups, _ = telemetry.Meter("kansoku/cache").Int64Counter("kansoku.cache.lookups",
		metric.WithDescription("Result cache lookups by outcome"))
	return c
}

// Key derives the cache key for query text within scope. Case and
// surrounding whitespace do not affect the key.
func Key(query, scope string) string {
	sum := sha256.Sum256([]byte(Normalize(query) + ":" + scope))
	return hex.EncodeToString(sum[:])
}

// Normalize lowercases and trims query text.
func Normalize(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// Get returns the value cached for (query, scope). Expired entries are
// removed and reported as a miss.
func (c *TTL[V]) Get(query, scope string) (V, bool) {
	var zero V
	key := Key(query, scope)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(key)
	if !ok {
		c.record("miss")
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		c.record("expired")
		return zero, false
	}
	e.hits++
	c.totalHits++
	c.record("hit")
	return e.data, true
}

// Set stores data for (query, scope). When the cache is full the oldest
// entry by creation time is evicted first.
func (c *TTL[V]) Set(query, scope string, data V) {
	key := Key(query, scope)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(key, &entry[V]{data: data, createdAt: now, expiresAt: now.Add(c.ttl)})
}

// Len returns the number of stored entries, including ones not yet purged.
func (c *TTL[V]) Len() int {
	return c.lru.Len()
}

// Clear removes every entry and resets hit counters.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.totalHits = 0
}

// Stats reports the cache's size and hit counters.
func (c *TTL[V]) Stats() model.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.CacheStats{
		Size:       c.lru.Len(),
		MaxSize:    c.maxSize,
		TotalHits:  c.totalHits,
		TTLSeconds: c.ttl.Seconds(),
	}
}

// Name returns the label the cache was created with.
func (c *TTL[V]) Name() string { return c.name }

func (c *TTL[V]) record(result string) {
	if c.lookups == nil {
		return
	}
	c.lookups.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("cache", c.name),
		attribute.String("result", result),
	))
}
