package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	assert.Equal(t, 2, cfg.Transcode.Workers)
	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, "ffmpeg", cfg.Transcode.FFmpegPath)
	require.NoError(t, Validate(cfg))

	timeout, err := cfg.TranscodeTimeout()
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, timeout)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[library]
root = "/music"

[transcode]
workers = 4
timeout = "90s"

[sync]
mirror = true

[logging]
log_level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/music", cfg.Library.Root)
	assert.Equal(t, 4, cfg.Transcode.Workers)
	assert.True(t, cfg.Sync.Mirror)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)

	// Unset sections keep their defaults.
	assert.Equal(t, "ffmpeg", cfg.Transcode.FFmpegPath)

	timeout, err := cfg.TranscodeTimeout()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, timeout)
}

func TestLoad_UnknownKeyFails(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[transcode]
wokers = 4
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.Contains(t, err.Error(), "wokers")
}

func TestLoad_InvalidLogLevelFails(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[logging]
log_level = "loud"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoad_InvalidTimeoutFails(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[transcode]
timeout = "two minutes"
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	t.Parallel()

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Transcode, cfg.Transcode)
}

func TestResolve_CLIOverridesWin(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[library]
root = "/music"

[sync]
mirror = true
`)

	root := "/other"
	mirror := false

	cfg, err := Resolve(CLIOverrides{
		ConfigPath:  path,
		LibraryRoot: &root,
		Mirror:      &mirror,
	})
	require.NoError(t, err)

	assert.Equal(t, "/other", cfg.Library.Root)
	assert.False(t, cfg.Sync.Mirror, "--mirror=false overrides the config file")
}

func TestExpandHome(t *testing.T) {
	t.Parallel()

	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "Music"), ExpandHome("~/Music"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, home, ExpandHome("~"))
}
