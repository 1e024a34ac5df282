package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9090"
upload_dir: /data/in
max_concurrent_executions: 2
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "/data/in", cfg.UploadDir)
	assert.Equal(t, 2, cfg.MaxConcurrentExecutions)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Unset keys keep their defaults.
	assert.Equal(t, "outputs", cfg.OutputDir)
	assert.Equal(t, "tabflow.db", cfg.DatabasePath)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: [not a string"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":9090\"\n"), 0o644))

	t.Setenv("TABFLOW_LISTEN_ADDR", ":7070")
	t.Setenv("TABFLOW_DATABASE_PATH", "override.db")
	t.Setenv("TABFLOW_MAX_CONCURRENT_EXECUTIONS", "11")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, "override.db", cfg.DatabasePath)
	assert.Equal(t, 11, cfg.MaxConcurrentExecutions)
}

func TestEnvBadInteger(t *testing.T) {
	t.Setenv("TABFLOW_MAX_CONCURRENT_EXECUTIONS", "lots")
	_, err := Load("")
	require.Error(t, err)
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Config{LogLevel: tt.in}.SlogLevel(), tt.in)
	}
}
