package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordcards/cardsync/internal/db"
	"github.com/wordcards/cardsync/internal/learning"
	"github.com/wordcards/cardsync/internal/schema"
	"github.com/wordcards/cardsync/internal/tracked"
)

func setupService(t *testing.T) *learning.Service {
	t.Helper()
	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "local.db"), db.ModeLocal)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	return learning.NewService(
		tracked.New(database.Conn(), learning.LearningCollection, learning.NewInfo),
		tracked.New(database.Conn(), learning.TranslationCollection, learning.NewTranslation),
		nil, nil)
}

const sample = `{"text":"apple","source":"en","target":"fr","translation":"pomme","favorite":true,"categories":["Food"]}

{"text":"pear","translation":"poire"}
not json
{"text":"   ","source":"en","target":"fr"}
{"text":"Apple","source":"EN","target":"FR"}
`

func TestImport(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t)

	result, err := Import(ctx, svc, strings.NewReader(sample), Options{DefaultSource: "en", DefaultTarget: "fr"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 1, result.Existing)
	assert.Equal(t, 2, result.Invalid)
	require.Len(t, result.Errors, 2)
	assert.True(t, strings.HasPrefix(result.Errors[0], "line 4:"), result.Errors[0])

	card, err := svc.Get(ctx, schema.NewKey("apple", "en", "fr"))
	require.NoError(t, err)
	assert.True(t, card.Info.IsFavorited)
	assert.Equal(t, []string{"food"}, card.Info.Categories)
	assert.Equal(t, "pomme", card.Translation.Translation)

	_, err = svc.Get(ctx, schema.NewKey("pear", "en", "fr"))
	assert.NoError(t, err)
}

func TestImportDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t)

	result, err := Import(ctx, svc, strings.NewReader(sample), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported, "lines without languages are invalid without defaults")
	assert.Equal(t, 3, result.Invalid)

	n, err := svc.Infos().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type failingAdder struct{ err error }

func (f failingAdder) Add(context.Context, learning.AddRequest) (*learning.Card, error) {
	return nil, f.err
}

func TestImportStopsOnStorageError(t *testing.T) {
	boom := errors.New("disk full")
	result, err := Import(context.Background(), failingAdder{err: boom}, strings.NewReader(sample), Options{})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, result.Imported)
}

func TestImportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cards.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"text":"apple","source":"en","target":"fr"}`+"\n"), 0o600))

	result, err := ImportFile(context.Background(), setupService(t), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)

	_, err = ImportFile(context.Background(), setupService(t), filepath.Join(t.TempDir(), "missing.jsonl"), Options{})
	assert.Error(t, err)
}
