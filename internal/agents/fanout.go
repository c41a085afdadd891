package agents

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kansoku/internal/model"
)

// ResultFunc receives each sub-query's result as soon as it resolves.
// Calls are serialized.
type ResultFunc func(q model.SubQuery, r model.AgentResult)

// CallAgents runs every sub-query concurrently and returns once all have
// resolved. The map always has one entry per distinct sub_id.
func (d *Dispatcher) CallAgents(ctx context.Context, queries []model.SubQuery, sessionID string) map[string]model.AgentResult {
	return d.Stream(ctx, queries, sessionID, nil)
}

// Stream is CallAgents with a callback invoked in completion order.
func (d *Dispatcher) Stream(ctx context.Context, queries []model.SubQuery, sessionID string, onResult ResultFunc) map[string]model.AgentResult {
	results := make(map[string]model.AgentResult, len(queries))
	if len(queries) == 0 {
		return results
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	if d.cfg.MaxConcurrency > 0 {
		g.SetLimit(d.cfg.MaxConcurrency)
	}

	for _, q := range queries {
		g.Go(func() error {
			r := d.resolve(ctx, q, sessionID)

			mu.Lock()
			defer mu.Unlock()
			results[q.SubID] = r
			if onResult != nil {
				onResult(q, r)
			}
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors

	return results
}

// resolve isolates one sub-query: a panic becomes that sub-query's error result.
func (d *Dispatcher) resolve(ctx context.Context, q model.SubQuery, sessionID string) (r model.AgentResult) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("agents: sub-query panicked", "sub_id", q.SubID, "panic", p)
			r = model.ErrorResult(fmt.Sprintf("internal error: %v", p))
		}
	}()
	return d.Call(ctx, q.AgentType, q.QueryText, sessionID)
}
