package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/kbimage/errors"
	"github.com/wippyai/kbimage/image"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvPolicy, EnvMaxRecords, EnvLogLevel, EnvCatalogPath} {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		clearEnv(t)
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("empty path yields defaults", func(t *testing.T) {
		clearEnv(t)
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, string(image.CapabilitySubstitute), cfg.Image.CapabilityPolicy)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "kbimage.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
image:
  capability_policy: fail
  max_records: 42
logging:
  level: debug
`), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "fail", cfg.Image.CapabilityPolicy)
		assert.Equal(t, int64(42), cfg.Image.MaxRecords)
		assert.Equal(t, image.DefaultMaxSegmentBytes, cfg.Image.MaxSegmentBytes)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("malformed file", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "kbimage.yaml")
		require.NoError(t, os.WriteFile(path, []byte("image: [not a map"), 0o644))

		_, err := Load(path)
		assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindFormat})
	})

	t.Run("invalid policy in file", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "kbimage.yaml")
		require.NoError(t, os.WriteFile(path, []byte("image:\n  capability_policy: ignore\n"), 0o644))

		_, err := Load(path)
		assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindInvalidInput})
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Run("env wins over file", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "kbimage.yaml")
		require.NoError(t, os.WriteFile(path, []byte("image:\n  capability_policy: fail\n"), 0o644))
		t.Setenv(EnvPolicy, "substitute")
		t.Setenv(EnvMaxRecords, "1000")
		t.Setenv(EnvLogLevel, "warn")
		t.Setenv(EnvCatalogPath, "/tmp/images.db")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "substitute", cfg.Image.CapabilityPolicy)
		assert.Equal(t, int64(1000), cfg.Image.MaxRecords)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, "/tmp/images.db", cfg.Catalog.Path)
	})

	t.Run("non-integer max records", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvMaxRecords, "lots")

		cfg := DefaultConfig()
		err := cfg.applyEnvOverrides()
		require.Error(t, err)
		assert.Contains(t, err.Error(), EnvMaxRecords)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"policy", func(c *Config) { c.Image.CapabilityPolicy = "" }, "image.capability_policy"},
		{"max records", func(c *Config) { c.Image.MaxRecords = 0 }, "image.max_records"},
		{"max segment bytes", func(c *Config) { c.Image.MaxSegmentBytes = -1 }, "image.max_segment_bytes"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.path)
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "kbimage.yaml")

	cfg := DefaultConfig()
	cfg.Image.CapabilityPolicy = string(image.CapabilityFail)
	cfg.Image.MaxSegmentBytes = 1 << 20
	cfg.Logging.Development = true
	cfg.Catalog.Path = "images.db"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestEngineOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Image.CapabilityPolicy = "fail"
	assert.Len(t, cfg.EngineOptions(nil), 4)

	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
