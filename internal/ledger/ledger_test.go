package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordcards/cardsync/internal/db"
	"github.com/wordcards/cardsync/internal/schema"
)

func setupLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "local.db"), db.ModeLocal)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return New(database.Conn(), "learning")
}

func collect(t *testing.T, seq func(func(*schema.DeletionRecord, error) bool)) []*schema.DeletionRecord {
	t.Helper()
	var out []*schema.DeletionRecord
	for rec, err := range seq {
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func TestRecordAndTryGet(t *testing.T) {
	ctx := context.Background()
	l := setupLedger(t)
	key := schema.NewKey("apple", "en", "fr")
	when := time.Date(2024, 1, 2, 3, 4, 5, 678, time.UTC)

	rec, err := l.TryGet(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, l.Record(ctx, key, when))

	rec, err = l.TryGet(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, key, rec.Key)
	assert.True(t, rec.DeletedDate.Equal(when))
}

func TestRecordKeepsNewest(t *testing.T) {
	ctx := context.Background()
	l := setupLedger(t)
	key := schema.NewKey("apple", "en", "fr")
	older := time.Unix(100, 0)
	newer := time.Unix(200, 0)

	require.NoError(t, l.Record(ctx, key, newer))
	require.NoError(t, l.Record(ctx, key, older))

	rec, err := l.TryGet(ctx, key)
	require.NoError(t, err)
	assert.True(t, rec.DeletedDate.Equal(newer))
}

func TestCollectionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	l := setupLedger(t)
	other := New(l.db, "translations")
	key := schema.NewKey("apple", "en", "fr")

	require.NoError(t, l.Record(ctx, key, time.Unix(1, 0)))

	rec, err := other.TryGet(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSinceAndPrune(t *testing.T) {
	ctx := context.Background()
	l := setupLedger(t)

	for i, word := range []string{"a", "b", "c"} {
		require.NoError(t, l.Record(ctx, schema.NewKey(word, "en", "fr"), time.Unix(int64(10*(i+1)), 0)))
	}

	all := collect(t, l.All(ctx))
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Key.Text)

	recent := collect(t, l.Since(ctx, time.Unix(20, 0)))
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Key.Text)

	n, err := l.Prune(ctx, time.Unix(25, 0))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Len(t, collect(t, l.All(ctx)), 1)
}

func TestRecordRejectsInvalidKey(t *testing.T) {
	err := setupLedger(t).Record(context.Background(), schema.EntityKey{}, time.Now())
	assert.ErrorIs(t, err, schema.ErrInvalidKey)
}
