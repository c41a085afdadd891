package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/storage"
	"github.com/ashita-ai/kansoku/internal/testutil"
	"github.com/ashita-ai/kansoku/migrations"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	tc := testutil.StartPostgres(t)
	ctx := context.Background()

	store, err := tc.NewTestStore(ctx, testutil.TestLogger(), time.Hour)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	// Migrations are idempotent.
	require.NoError(t, store.RunMigrations(ctx, migrations.FS))

	run := []model.SubQuery{
		{SubID: "rec-1", AgentType: model.AgentSQL, QueryText: "Show tank levels"},
		{SubID: "rec-2", AgentType: model.AgentTool, QueryText: "Check valve TK-101"},
	}
	require.NoError(t, store.Put(ctx, "msg-1", run))

	text, err := store.Lookup(ctx, "msg-1", "rec-2")
	require.NoError(t, err)
	assert.Equal(t, "Check valve TK-101", text)

	_, err = store.Lookup(ctx, "msg-1", "rec-3")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Put(ctx, "msg-1", run[:1]))
	_, err = store.Lookup(ctx, "msg-1", "rec-2")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.Pool().Exec(ctx,
		`UPDATE scenario_queries SET created_at = now() - interval '2 hours' WHERE message_id = 'msg-1'`)
	require.NoError(t, err)
	_, err = store.Lookup(ctx, "msg-1", "rec-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	n, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
