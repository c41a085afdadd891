package storage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ashita-ai/kansoku/internal/model"
)

// MemoryStore keeps runs in an expiring LRU. Once maxRuns runs are stored the
// oldest is dropped.
type MemoryStore struct {
	runs *expirable.LRU[string, map[string]string]
}

var _ QueryStore = (*MemoryStore)(nil)

// NewMemoryStore creates an in-process store.
func NewMemoryStore(ttl time.Duration, maxRuns int) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}
	return &MemoryStore{runs: expirable.NewLRU[string, map[string]string](maxRuns, nil, ttl)}
}

func (s *MemoryStore) Put(_ context.Context, messageID string, queries []model.SubQuery) error {
	texts := make(map[string]string, len(queries))
	for _, q := range queries {
		texts[q.SubID] = q.QueryText
	}
	s.runs.Add(messageID, texts)
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, messageID, subID string) (string, error) {
	texts, ok := s.runs.Peek(messageID)
	if !ok {
		return "", ErrNotFound
	}
	text, ok := texts[subID]
	if !ok {
		return "", ErrNotFound
	}
	return text, nil
}

// Len returns the number of runs held.
func (s *MemoryStore) Len() int { return s.runs.Len() }

func (s *MemoryStore) Close() error {
	s.runs.Purge()
	return nil
}
