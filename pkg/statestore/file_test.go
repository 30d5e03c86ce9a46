package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "state:slack:t1:step", "3", 0))
	require.NoError(t, s.Subscribe(ctx, "slack:t1"))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)

	v, ok, err := reopened.Get(ctx, "state:slack:t1:step")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", v)

	sub, err := reopened.IsSubscribed(ctx, "slack:t1")
	require.NoError(t, err)
	assert.True(t, sub)
}

func TestFileStoreUnsubscribeRemovesRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Subscribe(ctx, "slack:t1"))
	require.NoError(t, s.Unsubscribe(ctx, "slack:t1"))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	sub, err := reopened.IsSubscribed(ctx, "slack:t1")
	require.NoError(t, err)
	assert.False(t, sub)
}

func TestFileStoreExpiry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	clock := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	require.NoError(t, s.Set(ctx, "dedupe:slack:1", "1", 300*time.Second))
	_, ok, _ := s.Get(ctx, "dedupe:slack:1")
	assert.True(t, ok)

	clock = clock.Add(301 * time.Second)
	_, ok, _ = s.Get(ctx, "dedupe:slack:1")
	assert.False(t, ok)
}

func TestFileStoreKeysPrefix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "state:t1:a", "1", 0))
	require.NoError(t, s.Set(ctx, "state:t1:b", "2", 0))
	require.NoError(t, s.Set(ctx, "dedupe:slack:1", "1", 0))

	assert.Len(t, s.Keys("state:t1:"), 2)
	assert.Len(t, s.Keys("dedupe:"), 1)
	assert.Empty(t, s.Keys("sub:"))
}

func TestFileStoreKeysSurviveOddCharacters(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	require.NoError(t, err)

	key := "state:telegram:-1001234:55:path/with @odd:chars"
	require.NoError(t, s.Set(ctx, key, "v", 0))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	v, ok, err := reopened.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", v)
}
