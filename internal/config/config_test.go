package config_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rajeee/chatdf/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CHATDF_CONFIG", "CHATDF_WS_URL", "CHATDF_PAGE_URL", "CHATDF_API_URL", "CHATDF_TOKEN",
		"CHATDF_BACKOFF_FLOOR", "CHATDF_BACKOFF_CEILING", "CHATDF_HANDSHAKE_TIMEOUT",
		"CHATDF_LOG_FILE", "CHATDF_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()
	assert.Empty(t, cfg.WSURL)
	assert.Equal(t, config.DefaultPageURL, cfg.PageURL)
	assert.Equal(t, config.DefaultPageURL+"/api", cfg.APIURL)
	assert.Equal(t, time.Second, cfg.BackoffFloor)
	assert.Equal(t, 30*time.Second, cfg.BackoffCeiling)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATDF_WS_URL", "ws://backend:8000/ws")
	t.Setenv("CHATDF_TOKEN", "abc123")
	t.Setenv("CHATDF_BACKOFF_FLOOR", "500ms")
	t.Setenv("CHATDF_LOG_LEVEL", "debug")

	cfg := config.Load()
	assert.Equal(t, "ws://backend:8000/ws", cfg.WSURL)
	assert.Equal(t, "abc123", cfg.Token)
	assert.Equal(t, 500*time.Millisecond, cfg.BackoffFloor)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "chatdf.yaml")
	err := os.WriteFile(path, []byte(`
page_url: https://chat.example.com
token: from-file
backoff_ceiling: 10s
log_level: warn
`), 0o600)
	require.NoError(t, err)

	t.Setenv("CHATDF_TOKEN", "from-env")

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", cfg.PageURL)
	assert.Equal(t, "https://chat.example.com/api", cfg.APIURL)
	assert.Equal(t, "from-env", cfg.Token, "environment should win over the file")
	assert.Equal(t, 10*time.Second, cfg.BackoffCeiling)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
}

func TestLoadFileInvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATDF_BACKOFF_FLOOR", "not-a-duration")
	t.Setenv("CHATDF_BACKOFF_CEILING", "100ms")

	cfg := config.Load()
	assert.Equal(t, time.Second, cfg.BackoffFloor)
	assert.Equal(t, time.Second, cfg.BackoffCeiling, "ceiling is never below the floor")
}

func TestLoadFileMissing(t *testing.T) {
	clearEnv(t)
	_, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := config.SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("connected", "url", "ws://x/ws")

	assert.Contains(t, stderr.String(), "connected")
	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, file.String(), `"msg":"connected"`)
}
