package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kansoku/internal/model"
)

func sampleRun() []model.SubQuery {
	return []model.SubQuery{
		{SubID: "rec-1", AgentType: model.AgentSQL, QueryText: "What is the average temperature?"},
		{SubID: "rec-2", AgentType: model.AgentTool, QueryText: "Are there anomalies?"},
	}
}

func TestMemoryStore_PutLookup(t *testing.T) {
	s := NewMemoryStore(time.Hour, 10)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "msg-1", sampleRun()))

	text, err := s.Lookup(ctx, "msg-1", "rec-2")
	require.NoError(t, err)
	assert.Equal(t, "Are there anomalies?", text)

	_, err = s.Lookup(ctx, "msg-1", "rec-9")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Lookup(ctx, "missing", "rec-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_EvictsOldestRun(t *testing.T) {
	s := NewMemoryStore(time.Hour, 2)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", sampleRun()))
	require.NoError(t, s.Put(ctx, "b", sampleRun()))
	require.NoError(t, s.Put(ctx, "c", sampleRun()))

	assert.Equal(t, 2, s.Len())
	_, err := s.Lookup(ctx, "a", "rec-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Lookup(ctx, "c", "rec-1")
	assert.NoError(t, err)
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore(20*time.Millisecond, 10)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a", sampleRun()))

	assert.Eventually(t, func() bool {
		_, err := s.Lookup(ctx, "a", "rec-1")
		return err == ErrNotFound
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_Defaults(t *testing.T) {
	s := NewMemoryStore(0, 0)
	require.NoError(t, s.Put(context.Background(), "a", nil))
	assert.Equal(t, 1, s.Len())
}

func newTestSQLite(t *testing.T, ttl time.Duration) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "queries.db"), ttl, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_PutLookup(t *testing.T) {
	s := newTestSQLite(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "msg-1", sampleRun()))

	text, err := s.Lookup(ctx, "msg-1", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "What is the average temperature?", text)

	_, err = s.Lookup(ctx, "msg-1", "rec-5")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_PutReplacesRun(t *testing.T) {
	s := newTestSQLite(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "msg-1", sampleRun()))
	require.NoError(t, s.Put(ctx, "msg-1", []model.SubQuery{
		{SubID: "rec-1", AgentType: model.AgentSQL, QueryText: "replacement"},
	}))

	text, err := s.Lookup(ctx, "msg-1", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "replacement", text)

	_, err = s.Lookup(ctx, "msg-1", "rec-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ExpiryAndPurge(t *testing.T) {
	s := newTestSQLite(t, time.Hour)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	require.NoError(t, s.Put(ctx, "old", sampleRun()))

	s.now = func() time.Time { return base.Add(30 * time.Minute) }
	require.NoError(t, s.Put(ctx, "new", sampleRun()))

	s.now = func() time.Time { return base.Add(61 * time.Minute) }
	_, err := s.Lookup(ctx, "old", "rec-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Lookup(ctx, "new", "rec-1")
	assert.NoError(t, err)

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "queries.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path, time.Hour, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "msg-1", sampleRun()))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path, time.Hour, testLogger())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	text, err := s.Lookup(ctx, "msg-1", "rec-2")
	require.NoError(t, err)
	assert.Equal(t, "Are there anomalies?", text)
}

func TestPurgeInterval(t *testing.T) {
	assert.Equal(t, time.Minute, purgeInterval(time.Minute))
	assert.Equal(t, 15*time.Minute, purgeInterval(time.Hour))
}
