package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordcards/cardsync/internal/db"
	"github.com/wordcards/cardsync/internal/learning"
	"github.com/wordcards/cardsync/internal/schema"
	"github.com/wordcards/cardsync/internal/settings"
	"github.com/wordcards/cardsync/internal/tracked"
)

func TestParseAge(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"90d", 90 * 24 * time.Hour, true},
		{"36h", 36 * time.Hour, true},
		{" 1d ", 24 * time.Hour, true},
		{"0d", 0, false},
		{"-5h", 0, false},
		{"soon", 0, false},
		{"d", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAge(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseWhen(t *testing.T) {
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	got, err := parseWhen("", base)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseWhen("2026-04-01T12:00:00Z", base)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC), got)

	got, err = parseWhen("in 3 days", base)
	require.NoError(t, err)
	assert.Equal(t, base.AddDate(0, 0, 3).YearDay(), got.YearDay())

	got, err = parseWhen("tomorrow", base)
	require.NoError(t, err)
	assert.Equal(t, 11, got.Day())

	_, err = parseWhen("whenever", base)
	assert.Error(t, err)
}

func TestCountArg(t *testing.T) {
	n, err := countArg(nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = countArg([]string{"3"}, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = countArg([]string{"0"}, 10)
	assert.Error(t, err)
	_, err = countArg([]string{"many"}, 10)
	assert.Error(t, err)
}

// machineConfig writes a config for one machine sharing cloud with others.
func machineConfig(t *testing.T, home, cloud, name string) string {
	t.Helper()
	dir := filepath.Join(home, name)
	path := filepath.Join(dir, "cardsync.yaml")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: `+filepath.Join(dir, "data")+`
sync:
  root: `+cloud+`
  machine_name: `+name+`
languages:
  source: de
  target: en
`), 0o600))
	return path
}

func run(t *testing.T, args ...string) {
	t.Helper()
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), "cardsync %v", args)
}

func openLocal(t *testing.T, configPath string) (*db.DB, *tracked.Repository[*schema.LearningInfo]) {
	t.Helper()
	dataDir := filepath.Join(filepath.Dir(configPath), "data")
	local, err := db.Open(context.Background(), filepath.Join(dataDir, "local.db"), db.ModeLocal)
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })
	return local, tracked.New(local.Conn(), learning.LearningCollection, learning.NewInfo)
}

func TestCommandsSyncTwoMachines(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("NO_COLOR", "1")
	cloud := filepath.Join(home, "cloud")
	require.NoError(t, os.MkdirAll(cloud, 0o755))

	laptop := machineConfig(t, home, cloud, "laptop")
	desktop := machineConfig(t, home, cloud, "desktop")

	run(t, "--config", laptop, "add", "Haus", "house")
	run(t, "--config", laptop, "add", "Baum", "tree")
	run(t, "--config", laptop, "sync")

	run(t, "--config", desktop, "exclude", "baum")
	run(t, "--config", desktop, "sync")

	_, infos := openLocal(t, desktop)
	ctx := context.Background()
	_, err := infos.Get(ctx, schema.NewKey("Haus", "de", "en"))
	assert.NoError(t, err, "card pulled from the other machine")
	_, err = infos.Get(ctx, schema.NewKey("Baum", "de", "en"))
	assert.ErrorIs(t, err, tracked.ErrNotFound, "excluded word not pulled")

	run(t, "--config", desktop, "delete", "Haus")
	run(t, "--config", desktop, "sync")
	run(t, "--config", laptop, "sync")

	_, laptopInfos := openLocal(t, laptop)
	_, err = laptopInfos.Get(ctx, schema.NewKey("Haus", "de", "en"))
	assert.ErrorIs(t, err, tracked.ErrNotFound, "deletion reached the laptop")
	_, err = laptopInfos.Get(ctx, schema.NewKey("Baum", "de", "en"))
	assert.NoError(t, err)
}

func TestPauseCommandPersists(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	cfgPath := machineConfig(t, home, filepath.Join(home, "cloud"), "laptop")

	run(t, "--config", cfgPath, "pause", "on holiday")

	local, _ := openLocal(t, cfgPath)
	active, err := settings.New(local.Conn()).IsActive(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
	require.NoError(t, local.Close())

	run(t, "--config", cfgPath, "resume")

	local, _ = openLocal(t, cfgPath)
	active, err = settings.New(local.Conn()).IsActive(context.Background())
	require.NoError(t, err)
	assert.True(t, active)
}

func TestPruneTombstonesCommandPrunesSharedReplica(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("NO_COLOR", "1")
	cloud := filepath.Join(home, "cloud")
	require.NoError(t, os.MkdirAll(cloud, 0o755))
	laptop := machineConfig(t, home, cloud, "laptop")

	run(t, "--config", laptop, "add", "Haus", "house")
	run(t, "--config", laptop, "sync")
	run(t, "--config", laptop, "delete", "Haus")
	run(t, "--config", laptop, "sync")

	time.Sleep(10 * time.Millisecond)
	run(t, "--config", laptop, "maintenance", "prune-tombstones", "--older-than", "1ms")

	ctx := context.Background()
	key := schema.NewKey("Haus", "de", "en")
	shared, err := db.Open(ctx, filepath.Join(cloud, "cardsync", learning.LearningCollection+".db"), db.ModeShared)
	require.NoError(t, err)
	rec, err := tracked.New(shared.Conn(), learning.LearningCollection, learning.NewInfo).Ledger().TryGet(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, rec, "shared replica pruned")
	require.NoError(t, shared.Close())

	run(t, "--config", laptop, "sync")
	local, infos := openLocal(t, laptop)
	rec, err = infos.Ledger().TryGet(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, rec, "the next pass does not bring the record back")
	require.NoError(t, local.Close())
}
