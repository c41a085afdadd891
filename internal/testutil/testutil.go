// Package testutil provides shared test infrastructure for integration tests
// that need a Postgres container.
//
// Usage:
//
//	tc := testutil.StartPostgres(t)
//	store, err := tc.NewTestStore(ctx, testutil.TestLogger(), time.Hour)
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/kansoku/internal/storage"
	"github.com/ashita-ai/kansoku/migrations"
)

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// StartPostgres starts a Postgres container for the duration of the test.
// The test is skipped when no container runtime is reachable.
func StartPostgres(t *testing.T) *TestContainer {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "kansoku",
			"POSTGRES_PASSWORD": "kansoku",
			"POSTGRES_DB":       "kansoku",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("testutil: failed to start container: %v", err)
	}
	tc := &TestContainer{Container: container}
	t.Cleanup(tc.Terminate)

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("testutil: failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("testutil: failed to get container port: %v", err)
	}
	tc.DSN = fmt.Sprintf("postgres://kansoku:kansoku@%s:%s/kansoku?sslmode=disable", host, port.Port())
	return tc
}

// NewTestStore connects a PostgresStore to this container and runs all migrations.
func (tc *TestContainer) NewTestStore(ctx context.Context, logger *slog.Logger, ttl time.Duration) (*storage.PostgresStore, error) {
	store, err := storage.NewPostgresStore(ctx, tc.DSN, ttl, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create store: %w", err)
	}
	if err := store.RunMigrations(ctx, migrations.FS); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return store, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
