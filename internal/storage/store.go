// Package storage keeps the sub-query texts of recent scenario runs so that a
// client can retry a single sub-query after the run has finished.
//
// Three backends implement QueryStore: an in-process LRU bounded by size and
// age, a SQLite file, and a Postgres table. All of them forget a run once it
// is older than the configured TTL.
package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashita-ai/kansoku/internal/model"
)

// ErrNotFound is returned when a run or sub-query is unknown or expired.
var ErrNotFound = errors.New("storage: not found")

// QueryStore maps (message_id, sub_id) to the original sub-query text.
type QueryStore interface {
	// Put records every sub-query of one run, replacing any previous record.
	Put(ctx context.Context, messageID string, queries []model.SubQuery) error
	// Lookup returns the text of one sub-query or ErrNotFound.
	Lookup(ctx context.Context, messageID, subID string) (string, error)
	// Close releases connections and stops background work.
	Close() error
}

// Default retention for the query store.
const (
	DefaultTTL     = time.Hour
	DefaultMaxRuns = 10000
)

// purgeInterval derives how often expired rows are deleted.
func purgeInterval(ttl time.Duration) time.Duration {
	iv := ttl / 4
	if iv < time.Minute {
		iv = time.Minute
	}
	return iv
}

// purger runs fn on an interval until stopped.
type purger struct {
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

func startPurger(interval time.Duration, logger *slog.Logger, name string, fn func(ctx context.Context) (int64, error)) *purger {
	p := &purger{done: make(chan struct{})}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				n, err := fn(ctx)
				cancel()
				if err != nil {
					logger.Warn("storage: purge expired queries failed", "store", name, "error", err)
				} else if n > 0 {
					logger.Debug("storage: purged expired queries", "store", name, "rows", n)
				}
			}
		}
	}()
	return p
}

func (p *purger) stop() {
	p.stopOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}
