package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weakcheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "rc11", cfg.Model)
	assert.Equal(t, 4096, cfg.MaxLinearExtensions)
	assert.Equal(t, 1, cfg.Workers)
	assert.True(t, cfg.Races)
}

// TestLoadOverlaysDefaults verifies that file settings replace defaults
// and unset keys keep them.
func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
model: ra
workers: 4
symmetry: true
dedup: badger
dedup_path: /tmp/weakcheck-dedup
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ra", cfg.Model)
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.Symmetry)
	assert.Equal(t, "badger", cfg.Dedup)
	assert.Equal(t, "wf", cfg.Schedule, "unset key keeps its default")
	assert.True(t, cfg.Races)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "modle: sc\n"))
	assert.ErrorContains(t, err, "modle", "unknown keys are rejected")

	_, err = Load(writeConfig(t, "workers: [1, 2]\n"))
	assert.Error(t, err)
}

// TestValidate verifies that each invalid setting is reported by its
// config file key.
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"model", func(c *Config) { c.Model = "tso" }, "model must be one of [sc ra rc11]"},
		{"schedule", func(c *Config) { c.Schedule = "rtl" }, "schedule must be one of"},
		{"workers", func(c *Config) { c.Workers = 0 }, "workers must be at least 1"},
		{"unroll", func(c *Config) { c.Unroll = -1 }, "unroll must be at least 0"},
		{"extensions", func(c *Config) { c.MaxLinearExtensions = 0 }, "max_linear_extensions must be at least 1"},
		{"dedup", func(c *Config) { c.Dedup = "redis" }, "dedup must be one of"},
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "log_level must be one of"},
		{"dedup path", func(c *Config) { c.DedupPath = "/tmp/x" }, "dedup_path requires dedup: badger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLevel(t *testing.T) {
	cfg := Default()
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	cfg.LogLevel = "debug"
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	cfg.LogLevel = "bogus"
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}
