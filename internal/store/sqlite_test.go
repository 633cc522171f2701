package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err, "failed to create store")
	defer store.Close()

	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		value := []byte(`[{"id":"a"}]`)
		require.NoError(t, store.Set(ctx, "stories", value))

		got, err := store.Get(ctx, "stories")
		require.NoError(t, err)
		assert.Equal(t, value, got)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := store.Get(ctx, "nonexistent")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SetOverwrites", func(t *testing.T) {
		store.Set(ctx, "viewed", []byte(`["a"]`))
		require.NoError(t, store.Set(ctx, "viewed", []byte(`["a","b"]`)))

		got, _ := store.Get(ctx, "viewed")
		assert.Equal(t, `["a","b"]`, string(got))
	})

	t.Run("SetEmpty", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "empty", nil))

		got, err := store.Get(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Stats", func(t *testing.T) {
		stats, err := store.GetStats(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3, stats.Keys)
		assert.Equal(t, int64(len(`[{"id":"a"}]`)+len(`["a","b"]`)), stats.TotalBytes)
		assert.False(t, stats.LastWritten.IsZero(), "expected last written time")
		assert.WithinDuration(t, time.Now(), stats.LastWritten, time.Minute)
	})
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stories.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "stories", []byte("snapshot")))
	first.Close()

	second, err := NewSQLiteStore(path)
	require.NoError(t, err, "failed to reopen store")
	defer second.Close()

	got, err := second.Get(ctx, "stories")
	require.NoError(t, err)
	assert.Equal(t, "snapshot", string(got))
}

func TestSQLiteStore_EmptyStats(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	stats, err := store.GetStats(context.Background())
	require.NoError(t, err)

	assert.Zero(t, stats.Keys)
	assert.Zero(t, stats.TotalBytes)
	assert.True(t, stats.LastWritten.IsZero())
}
