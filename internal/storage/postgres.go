package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/kansoku/internal/model"
)

// PostgresStore keeps runs in the scenario_queries table so that several
// server replicas can serve retries for each other's runs.
type PostgresStore struct {
	pool   *pgxpool.Pool
	ttl    time.Duration
	logger *slog.Logger
	purger *purger
}

var _ QueryStore = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn and verifies the connection. Call
// RunMigrations before first use.
func NewPostgresStore(ctx context.Context, dsn string, ttl time.Duration, logger *slog.Logger) (*PostgresStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	s := &PostgresStore{pool: pool, ttl: ttl, logger: logger}
	s.purger = startPurger(purgeInterval(ttl), logger, "postgres", s.PurgeExpired)
	return s, nil
}

// Pool returns the underlying connection pool.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Put(ctx context.Context, messageID string, queries []model.SubQuery) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM scenario_queries WHERE message_id = $1`, messageID)
	for _, q := range queries {
		batch.Queue(
			`INSERT INTO scenario_queries (message_id, sub_id, agent_type, query_text, created_at)
			 VALUES ($1, $2, $3, $4, now())
			 ON CONFLICT (message_id, sub_id) DO UPDATE
			 SET agent_type = EXCLUDED.agent_type, query_text = EXCLUDED.query_text, created_at = EXCLUDED.created_at`,
			messageID, q.SubID, string(q.AgentType), q.QueryText,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range batch.Len() {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("storage: store run %s: %w", messageID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("storage: close batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, messageID, subID string) (string, error) {
	var text string
	err := s.pool.QueryRow(ctx,
		`SELECT query_text FROM scenario_queries
		 WHERE message_id = $1 AND sub_id = $2 AND created_at > now() - make_interval(secs => $3)`,
		messageID, subID, s.ttl.Seconds(),
	).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("storage: lookup: %w", err)
	}
	return text, nil
}

// PurgeExpired deletes rows older than the TTL.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM scenario_queries WHERE created_at <= now() - make_interval(secs => $1)`, s.ttl.Seconds())
	if err != nil {
		return 0, fmt.Errorf("storage: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Close() error {
	s.purger.stop()
	s.pool.Close()
	return nil
}
