package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileLoggerWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "cardsync.log")
	logger, cleanup, err := New(Options{File: path, Level: "debug", MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Debug("sync pass complete", zap.String("repository", "learning"), zap.Int("pushed", 2))
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "sync pass complete", entry["msg"])
	assert.Equal(t, "learning", entry["repository"])
	assert.Equal(t, float64(2), entry["pushed"])
}

func TestLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cardsync.log")
	logger, cleanup, err := New(Options{File: path, Level: "warn"})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestInvalidLevel(t *testing.T) {
	_, _, err := New(Options{Level: "chatty"})
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
