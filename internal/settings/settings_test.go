package settings

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordcards/cardsync/internal/db"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "local.db"), db.ModeLocal)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return New(database.Conn())
}

func TestGetMissingKey(t *testing.T) {
	s := setupStore(t)
	v := "untouched"
	ok, err := s.Get(context.Background(), "nope", &v)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "untouched", v)
}

func TestSetOverwrites(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	require.NoError(t, s.Set(ctx, "k", 1))
	require.NoError(t, s.Set(ctx, "k", 2))

	var v int
	ok, err := s.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	require.NoError(t, s.Delete(ctx, "k"))
	ok, err = s.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncTimeRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	got, err := s.GetSyncTime(ctx, "learning")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	when := time.Date(2024, 3, 1, 12, 0, 0, 987654321, time.FixedZone("x", 3600))
	require.NoError(t, s.AddOrUpdateSyncTime(ctx, "learning", when))

	got, err = s.GetSyncTime(ctx, "learning")
	require.NoError(t, err)
	assert.True(t, got.Equal(when))

	other, err := s.GetSyncTime(ctx, "translations")
	require.NoError(t, err)
	assert.True(t, other.IsZero())

	keys, err := s.Keys(ctx, "SyncTime_")
	require.NoError(t, err)
	assert.Equal(t, []string{"SyncTime_learning"}, keys)
}

func TestSyncContentionCount(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	n, err := s.GetSyncContention(ctx, "learning")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.SetSyncContention(ctx, "learning", 2))
	n, err = s.GetSyncContention(ctx, "learning")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.GetSyncContention(ctx, "translations")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIsActiveDefaultsTrue(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	active, err := s.IsActive(ctx)
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, s.SetActive(ctx, false))
	active, err = s.IsActive(ctx)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestListsAreNormalized(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	require.NoError(t, s.SetBlacklistedProcesses(ctx, []string{" obs ", "", "zoom", "obs"}))
	procs, err := s.BlacklistedProcesses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"obs", "zoom"}, procs)

	require.NoError(t, s.AddExcludedWord(ctx, "the"))
	require.NoError(t, s.AddExcludedWord(ctx, "the"))
	require.NoError(t, s.AddExcludedWord(ctx, "a"))
	words, err := s.ExcludedWords(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"the", "a"}, words)
}

func TestUILanguage(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	lang, err := s.UILanguage(ctx)
	require.NoError(t, err)
	assert.Empty(t, lang)

	require.NoError(t, s.SetUILanguage(ctx, "de"))
	lang, err = s.UILanguage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "de", lang)
}
