package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8891", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	assert.Equal(t, "./apps", cfg.Apps.Dir)
	assert.Equal(t, "0.11.0", cfg.Apps.ProtocolFloor)
	assert.Equal(t, 2*time.Second, cfg.Apps.DisableGrace.Duration)
	assert.Equal(t, 500*time.Millisecond, cfg.Apps.PersistDebounce.Duration)
	assert.True(t, cfg.Apps.Autostart)

	assert.True(t, cfg.Platforms.WebSocketEnabled)
	assert.False(t, cfg.Platforms.ADBEnabled)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadMatchesDefault(t *testing.T) {
	t.Setenv(FileEnv, "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"THINGHOST_PORT":             "9000",
		"THINGHOST_HOST":             "0.0.0.0",
		"THINGHOST_APPS_DIR":         "/srv/apps",
		"THINGHOST_DISABLE_GRACE":    "250ms",
		"THINGHOST_PERSIST_DEBOUNCE": "1s",
		"THINGHOST_ADB_ENABLED":      "true",
		"LOG_LEVEL":                  "debug",
		"LOG_DEV":                    "true",
		"RATE_LIMIT_ENABLED":         "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "/srv/apps", cfg.Apps.Dir)
	assert.Equal(t, 250*time.Millisecond, cfg.Apps.DisableGrace.Duration)
	assert.Equal(t, time.Second, cfg.Apps.PersistDebounce.Duration)
	assert.True(t, cfg.Platforms.ADBEnabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.False(t, cfg.RateLimit.Enabled)

	// Untouched values keep their defaults.
	assert.Equal(t, "./data", cfg.Apps.DataDir)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("THINGHOST_PURGE_GRACE", "soon")

	_, err := Load()
	assert.Error(t, err)
}

func TestApplyFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "thinghost.yaml",
			content: `
server:
  port: "7000"
apps:
  dir: /opt/apps
  purge_grace: 3s
platforms:
  adb_enabled: true
`,
		},
		{
			name: "toml",
			file: "thinghost.toml",
			content: `
[server]
port = "7000"

[apps]
dir = "/opt/apps"
purge_grace = "3s"

[platforms]
adb_enabled = true
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			cfg := Default()
			require.NoError(t, cfg.ApplyFile(path))

			assert.Equal(t, "7000", cfg.Server.Port)
			assert.Equal(t, "/opt/apps", cfg.Apps.Dir)
			assert.Equal(t, 3*time.Second, cfg.Apps.PurgeGrace.Duration)
			assert.True(t, cfg.Platforms.ADBEnabled)

			// Keys absent from the file are left alone.
			assert.Equal(t, "127.0.0.1", cfg.Server.Host)
			assert.Equal(t, 2*time.Second, cfg.Apps.DisableGrace.Duration)
		})
	}
}

func TestApplyFileUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thinghost.ini")
	require.NoError(t, os.WriteFile(path, []byte("port=1"), 0o644))

	err := Default().ApplyFile(path)
	assert.Error(t, err)
}

func TestLoadReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thinghost.yml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o644))
	t.Setenv(FileEnv, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}
