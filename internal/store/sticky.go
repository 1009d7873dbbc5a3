package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetSticky returns the live binding for a session hash. Expired rows are
// treated as absent; the sweeper removes them later.
func (s *Store) GetSticky(ctx context.Context, sessionHash string) (accountID string, expiresAt time.Time, ok bool, err error) {
	var expires string
	err = s.db.QueryRowContext(ctx, `
		SELECT account_id, expires_at FROM sticky_sessions
		WHERE session_hash = ? AND expires_at > ?
	`, sessionHash, nowUTC()).Scan(&accountID, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("failed to read sticky session: %w", err)
	}

	expiresAt, err = time.ParseInLocation(timeLayout, expires, time.UTC)
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("failed to parse sticky expiry: %w", err)
	}
	return accountID, expiresAt, true, nil
}

// UpsertSticky binds a session hash to an account for ttl from now,
// replacing any previous binding.
func (s *Store) UpsertSticky(ctx context.Context, sessionHash, accountID string, ttl time.Duration) error {
	expiresAt := time.Now().UTC().Add(ttl).Format(timeLayout)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sticky_sessions (session_hash, account_id, expires_at)
		VALUES (?, ?, ?)
	`, sessionHash, accountID, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert sticky session: %w", err)
	}
	return nil
}

// DeleteSticky removes a binding regardless of its expiry.
func (s *Store) DeleteSticky(ctx context.Context, sessionHash string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM sticky_sessions WHERE session_hash = ?
	`, sessionHash)
	if err != nil {
		return fmt.Errorf("failed to delete sticky session: %w", err)
	}
	return nil
}

// SweepSticky deletes expired bindings and reports how many were removed.
func (s *Store) SweepSticky(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sticky_sessions WHERE expires_at <= ?
	`, nowUTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sticky sessions: %w", err)
	}
	return res.RowsAffected()
}
