package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projects/config"
)

func TestNew_TeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("stale\n"), 0o600))

	logger, done, err := New(config.LogConfig{Level: "info", File: path, Format: "console"})
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("cost lowered")
	done()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cost lowered")
	assert.NotContains(t, string(data), "hidden")
	assert.NotContains(t, string(data), "stale")
}

func TestNew_Errors(t *testing.T) {
	_, _, err := New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)

	_, _, err = New(config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)

	_, _, err = New(config.LogConfig{Level: "info", File: filepath.Join(t.TempDir(), "missing", "log.txt")})
	assert.Error(t, err)
}
