package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Usage is one recorded request against an upstream account.
type Usage struct {
	ClientKeyHash       string
	AccountID           string
	Model               string
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
}

// UsageAggregate sums an account's usage over a trailing window.
type UsageAggregate struct {
	AccountID     string `json:"account_id"`
	TotalInput    int64  `json:"total_input"`
	TotalOutput   int64  `json:"total_output"`
	TotalRequests int64  `json:"total_requests"`
}

// RecordUsage appends one usage row. request_count defaults to 1 so
// aggregates count requests as well as tokens.
func (s *Store) RecordUsage(ctx context.Context, u Usage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_stats
		(client_api_key_hash, account_id, model, input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ClientKeyHash, u.AccountID, u.Model, u.InputTokens, u.OutputTokens, u.CacheCreationTokens, u.CacheReadTokens)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// UsageByAccount aggregates one account's usage over the trailing number of
// days. Accounts without rows in the window yield a zero aggregate.
func (s *Store) UsageByAccount(ctx context.Context, accountID string, days int) (UsageAggregate, error) {
	agg := UsageAggregate{AccountID: accountID}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			account_id,
			COALESCE(SUM(input_tokens), 0) AS total_input,
			COALESCE(SUM(output_tokens), 0) AS total_output,
			COALESCE(SUM(request_count), 0) AS total_requests
		FROM usage_stats
		WHERE account_id = ?
		AND created_at >= datetime('now', ? || ' days')
		GROUP BY account_id
	`, accountID, -days).Scan(&agg.AccountID, &agg.TotalInput, &agg.TotalOutput, &agg.TotalRequests)
	if errors.Is(err, sql.ErrNoRows) {
		return agg, nil
	}
	if err != nil {
		return agg, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return agg, nil
}
