package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "local.db")

	database, err := Open(ctx, path, ModeLocal)
	require.NoError(t, err)
	defer database.Close()

	for _, table := range []string{"documents", "deletions", "settings"} {
		var name string
		err := database.Conn().QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, "table %s", table)
	}
	assert.Equal(t, path, database.Path())
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	first, err := Open(ctx, path, ModeLocal)
	require.NoError(t, err)
	_, err = first.Conn().ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ('k', '1', 0)`)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(ctx, path, ModeLocal)
	require.NoError(t, err)
	defer second.Close()

	var value string
	require.NoError(t, second.Conn().QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key='k'`).Scan(&value))
	assert.Equal(t, "1", value)
}

func TestSharedModeLeavesSingleFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "learning.db")

	database, err := Open(ctx, path, ModeShared)
	require.NoError(t, err)
	require.NoError(t, database.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "learning.db", entries[0].Name())
}

func TestCloseTwice(t *testing.T) {
	database, err := Open(context.Background(), filepath.Join(t.TempDir(), "x.db"), ModeLocal)
	require.NoError(t, err)
	require.NoError(t, database.Close())
	assert.NoError(t, database.Close())
}
