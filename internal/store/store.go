// Package store persists relay state in SQLite: sticky session bindings,
// per-request usage statistics, and the migration ledger that versions the
// schema.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// timeLayout is the SQLite datetime text format. Values sort
// lexicographically in chronological order.
const timeLayout = "2006-01-02 15:04:05"

// Store wraps the SQLite database holding sticky sessions and usage stats.
type Store struct {
	db *sql.DB
}

// Open creates parent directories as needed, opens the database in WAL mode,
// and applies pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err = db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err = db.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err = s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Infof("database initialized at %s", path)
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path
}

// migrations run once each, in ascending id order, tracked in _migrations.
var migrations = []struct {
	id   int
	stmt string
}{
	{1, `
		CREATE TABLE IF NOT EXISTS usage_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_api_key_hash TEXT NOT NULL,
			account_id TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
			cache_read_tokens INTEGER NOT NULL DEFAULT 0,
			request_count INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_usage_account_date
			ON usage_stats(account_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_usage_client_date
			ON usage_stats(client_api_key_hash, created_at);
	`},
	{2, `
		CREATE TABLE IF NOT EXISTS sticky_sessions (
			session_hash TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			expires_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sticky_expires
			ON sticky_sessions(expires_at);
	`},
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			id INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migration ledger: %w", err)
	}

	for _, m := range migrations {
		var applied int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM _migrations WHERE id = ?`, m.id).Scan(&applied); err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.id, err)
		}
		if applied > 0 {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.id, err)
		}
		if _, err = tx.ExecContext(ctx, m.stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", m.id, err)
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO _migrations (id) VALUES (?)`, m.id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.id, err)
		}
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.id, err)
		}
		log.Debugf("applied migration %d", m.id)
	}
	return nil
}

func nowUTC() string {
	return time.Now().UTC().Format(timeLayout)
}
