package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config directory at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	t.Setenv("ANTHROPIC_API_KEY", "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", AppName), cfg.DataDir)
	assert.Equal(t, AppName, cfg.Sync.AppName)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 3, cfg.Sync.LockContentionThreshold)
	assert.Equal(t, 3, cfg.Scheduler.CategoryAffinity)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NotEmpty(t, cfg.Sync.MachineName)
	assert.Equal(t, filepath.Join(cfg.DataDir, "local.db"), cfg.LocalDB())
}

func TestLoadFileAndEnv(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(t.TempDir(), "cardsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: ~/cards
sync:
  root: /cloud/Dropbox
  interval: 90s
scheduler:
  favorite_probability: 1
log:
  level: debug
languages:
  source: de
  target: en
`), 0o600))

	t.Setenv("CARDSYNC_SYNC_MACHINE_NAME", "studio")
	t.Setenv("CARDSYNC_LOG_LEVEL", "warn")
	t.Setenv("ANTHROPIC_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "cards"), cfg.DataDir)
	assert.Equal(t, "/cloud/Dropbox", cfg.Sync.Root)
	assert.Equal(t, 90*time.Second, cfg.Sync.Interval)
	assert.Equal(t, "studio", cfg.Sync.MachineName)
	assert.Equal(t, 1.0, cfg.Scheduler.FavoriteProbability)
	assert.Equal(t, "warn", cfg.Log.Level, "environment overrides the file")
	assert.Equal(t, "from-env", cfg.Classify.APIKey)
	assert.Equal(t, "de", cfg.Languages.Source)
	assert.Equal(t, "en", cfg.Languages.Target)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	isolate(t)
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Sync.Interval = 0 }},
		{"negative debounce", func(c *Config) { c.Sync.Debounce = -time.Second }},
		{"probability above one", func(c *Config) { c.Scheduler.OlderProbability = 1.5 }},
		{"negative probability", func(c *Config) { c.Scheduler.FavoriteProbability = -0.1 }},
		{"port out of range", func(c *Config) { c.Dashboard.Port = 70000 }},
		{"no data dir", func(c *Config) { c.DataDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, base.Validate())
}
