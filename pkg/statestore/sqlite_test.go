package statestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	_, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"), "not a cron")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "janitor schedule")
}

func TestSQLiteStoreSetGetTTL(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()
	clock := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "dedupe:slack:1", "1", 300*time.Second))
	require.NoError(t, s.Set(ctx, "dedupe:slack:1", "2", 300*time.Second), "upsert replaces")

	v, ok, err := s.Get(ctx, "dedupe:slack:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", v)

	clock = clock.Add(301 * time.Second)
	_, ok, err = s.Get(ctx, "dedupe:slack:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path, "")
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "state:slack:t1:step", "3", 0))
	require.NoError(t, s.Subscribe(ctx, "slack:t1"))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path, "")
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.Get(ctx, "state:slack:t1:step")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", v)

	sub, err := reopened.IsSubscribed(ctx, "slack:t1")
	require.NoError(t, err)
	assert.True(t, sub)
}

func TestSQLiteStoreLockBlocksSecondAcquire(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()

	lock, err := s.AcquireLock(ctx, "slack:t1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = s.AcquireLock(waitCtx, "slack:t1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, s.ReleaseLock(ctx, lock))
	second, err := s.AcquireLock(ctx, "slack:t1")
	require.NoError(t, err)
	require.NoError(t, s.ReleaseLock(ctx, second))
}

func TestSQLiteStoreReleaseRequiresToken(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()

	lock, err := s.AcquireLock(ctx, "slack:t1")
	require.NoError(t, err)

	stale := lock
	stale.Token = "someone-else"
	require.NoError(t, s.ReleaseLock(ctx, stale))

	// The real holder's release still works; the stale one was a no-op.
	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = s.AcquireLock(waitCtx, "slack:t1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, s.ReleaseLock(ctx, lock))
}

func TestSQLiteStoreSubscriptions(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()

	sub, err := s.IsSubscribed(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, sub)

	require.NoError(t, s.Subscribe(ctx, "t1"))
	require.NoError(t, s.Subscribe(ctx, "t1"), "idempotent")
	sub, _ = s.IsSubscribed(ctx, "t1")
	assert.True(t, sub)

	require.NoError(t, s.Unsubscribe(ctx, "t1"))
	sub, _ = s.IsSubscribed(ctx, "t1")
	assert.False(t, sub)
}
