package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashita-ai/kansoku/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS scenario_queries (
	message_id TEXT NOT NULL,
	sub_id     TEXT NOT NULL,
	agent_type TEXT NOT NULL,
	query_text TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (message_id, sub_id)
);
CREATE INDEX IF NOT EXISTS idx_scenario_queries_created_at ON scenario_queries(created_at);
`

// SQLiteStore persists runs in a local SQLite file so retries survive a restart.
type SQLiteStore struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	purger *purger
}

var _ QueryStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path. Use
// ":memory:" for a throwaway database.
func NewSQLiteStore(path string, ttl time.Duration, logger *slog.Logger) (*SQLiteStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("storage: sqlite: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: sqlite: open: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: sqlite: enable WAL: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: sqlite: create schema: %w", err)
	}

	s := &SQLiteStore{db: db, ttl: ttl, now: time.Now}
	s.purger = startPurger(purgeInterval(ttl), logger, "sqlite", s.PurgeExpired)
	return s, nil
}

func (s *SQLiteStore) Put(ctx context.Context, messageID string, queries []model.SubQuery) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scenario_queries WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("storage: sqlite: clear run: %w", err)
	}
	created := s.now().UnixNano()
	for _, q := range queries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scenario_queries (message_id, sub_id, agent_type, query_text, created_at) VALUES (?, ?, ?, ?, ?)`,
			messageID, q.SubID, string(q.AgentType), q.QueryText, created,
		); err != nil {
			return fmt.Errorf("storage: sqlite: insert %s: %w", q.SubID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: sqlite: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Lookup(ctx context.Context, messageID, subID string) (string, error) {
	cutoff := s.now().Add(-s.ttl).UnixNano()
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT query_text FROM scenario_queries WHERE message_id = ? AND sub_id = ? AND created_at > ?`,
		messageID, subID, cutoff,
	).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("storage: sqlite: lookup: %w", err)
	}
	return text, nil
}

// PurgeExpired deletes runs older than the TTL and returns the number of rows removed.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.ttl).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM scenario_queries WHERE created_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: sqlite: purge: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks that the database file is still usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	s.purger.stop()
	return s.db.Close()
}
