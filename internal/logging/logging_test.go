package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirindex/internal/model"
)

func TestNew_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dirindex.log")
	logger, err := New(Config{Level: "debug", Format: "json", OutputPath: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Info("processed", Message(model.IngestMessage{
		Time:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Filepath: "/a/b",
		Action:   model.ActionMkdir,
	}))
	require.NoError(t, logger.Sync())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(b))

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "processed", entry["msg"])
	msg, ok := entry["message"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/a/b", msg["filepath"])
	assert.Equal(t, "MKDIR", msg["action"])
}

func TestSetLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lvl.log")
	logger, err := New(Config{Level: "info", OutputPath: path})
	require.NoError(t, err)
	t.Cleanup(func() { SetLevel("info") })

	logger.Debug("hidden")
	SetLevel("debug")
	logger.Debug("shown")
	require.NoError(t, logger.Sync())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "hidden")
	assert.Contains(t, string(b), "shown")
}

func TestL_DefaultsWithoutInit(t *testing.T) {
	assert.NotNil(t, L())
	assert.NotNil(t, S())
}
