package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "relay.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestOpen_MigrationsRunOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM _migrations`).Scan(&count))
	require.Equal(t, len(migrations), count)
	require.NoError(t, s.Close())

	// Reopening must not reapply anything.
	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM _migrations`).Scan(&count))
	require.Equal(t, len(migrations), count)
}

func TestSticky_Roundtrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, _, ok, err := s.GetSticky(ctx, "sess-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.UpsertSticky(ctx, "sess-1", "acct-a", time.Hour))

	accountID, expiresAt, ok, err := s.GetSticky(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "acct-a", accountID)
	require.Greater(t, time.Until(expiresAt), 50*time.Minute)
}

func TestSticky_RebindReplacesAccount(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertSticky(ctx, "sess-1", "acct-a", time.Hour))
	require.NoError(t, s.UpsertSticky(ctx, "sess-1", "acct-b", time.Hour))

	accountID, _, ok, err := s.GetSticky(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "acct-b", accountID)
}

func TestSticky_Delete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertSticky(ctx, "sess-1", "acct-a", time.Hour))
	require.NoError(t, s.DeleteSticky(ctx, "sess-1"))

	_, _, ok, err := s.GetSticky(ctx, "sess-1")
	require.NoError(t, err)
	require.False(t, ok)

	// Deleting an absent binding is not an error.
	require.NoError(t, s.DeleteSticky(ctx, "sess-1"))
}

func TestSticky_ExpiredRowsInvisible(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertSticky(ctx, "sess-old", "acct-a", -time.Minute))

	_, _, ok, err := s.GetSticky(ctx, "sess-old")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSticky_SweepRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertSticky(ctx, "sess-old", "acct-a", -time.Minute))
	require.NoError(t, s.UpsertSticky(ctx, "sess-live", "acct-b", time.Hour))

	removed, err := s.SweepSticky(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	_, _, ok, err := s.GetSticky(ctx, "sess-live")
	require.NoError(t, err)
	require.True(t, ok)

	var remaining int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sticky_sessions`).Scan(&remaining))
	require.Equal(t, 1, remaining)
}

func TestSticky_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertSticky(ctx, "sess-1", "acct-a", time.Hour))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	accountID, _, ok, err := s.GetSticky(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "acct-a", accountID)
}

func TestUsage_RecordAndAggregate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.RecordUsage(ctx, Usage{
		ClientKeyHash: "client-1", AccountID: "acct-a", Model: "claude-sonnet-4-20250514",
		InputTokens: 100, OutputTokens: 40, CacheCreationTokens: 10, CacheReadTokens: 5,
	}))
	require.NoError(t, s.RecordUsage(ctx, Usage{
		ClientKeyHash: "client-2", AccountID: "acct-a", Model: "claude-3-5-haiku-20241022",
		InputTokens: 30, OutputTokens: 8,
	}))
	require.NoError(t, s.RecordUsage(ctx, Usage{
		ClientKeyHash: "client-1", AccountID: "acct-b", Model: "gemini-1.5-pro",
		InputTokens: 999, OutputTokens: 999,
	}))

	agg, err := s.UsageByAccount(ctx, "acct-a", 7)
	require.NoError(t, err)
	require.Equal(t, "acct-a", agg.AccountID)
	require.Equal(t, int64(130), agg.TotalInput)
	require.Equal(t, int64(48), agg.TotalOutput)
	require.Equal(t, int64(2), agg.TotalRequests)
}

func TestUsage_UnknownAccountYieldsZeroAggregate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	agg, err := s.UsageByAccount(ctx, "ghost", 30)
	require.NoError(t, err)
	require.Equal(t, UsageAggregate{AccountID: "ghost"}, agg)
}

func TestUsage_WindowExcludesOldRows(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_stats
		(client_api_key_hash, account_id, model, input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, created_at)
		VALUES ('client-1', 'acct-a', 'claude-3-opus-20240229', 500, 500, 0, 0, datetime('now', '-10 days'))
	`)
	require.NoError(t, err)
	require.NoError(t, s.RecordUsage(ctx, Usage{
		ClientKeyHash: "client-1", AccountID: "acct-a", Model: "claude-3-opus-20240229",
		InputTokens: 7, OutputTokens: 3,
	}))

	recent, err := s.UsageByAccount(ctx, "acct-a", 7)
	require.NoError(t, err)
	require.Equal(t, int64(7), recent.TotalInput)
	require.Equal(t, int64(1), recent.TotalRequests)

	wide, err := s.UsageByAccount(ctx, "acct-a", 30)
	require.NoError(t, err)
	require.Equal(t, int64(507), wide.TotalInput)
	require.Equal(t, int64(2), wide.TotalRequests)
}
