// Package config loads kbimage configuration from YAML with environment
// overrides.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/kbimage/errors"
	"github.com/wippyai/kbimage/image"
)

// Config holds all kbimage configuration.
type Config struct {
	Image   ImageConfig   `yaml:"image"`
	Logging LoggingConfig `yaml:"logging"`
	Catalog CatalogConfig `yaml:"catalog"`
}

// ImageConfig configures the image engine.
type ImageConfig struct {
	CapabilityPolicy string `yaml:"capability_policy"` // substitute, fail
	MaxRecords       int64  `yaml:"max_records"`
	MaxSegmentBytes  int64  `yaml:"max_segment_bytes"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// CatalogConfig configures the image catalog.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// Environment overrides.
const (
	EnvPolicy      = "KBIMAGE_CAPABILITY_POLICY"
	EnvMaxRecords  = "KBIMAGE_MAX_RECORDS"
	EnvLogLevel    = "KBIMAGE_LOG_LEVEL"
	EnvCatalogPath = "KBIMAGE_CATALOG"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Image: ImageConfig{
			CapabilityPolicy: string(image.CapabilitySubstitute),
			MaxRecords:       image.DefaultMaxRecords,
			MaxSegmentBytes:  image.DefaultMaxSegmentBytes,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Catalog: CatalogConfig{
			Path: filepath.Join(".kbimage", "catalog.db"),
		},
	}
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, errors.IO(errors.PhaseConfig, "read config", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrap(errors.PhaseConfig, errors.KindFormat, err, "parse config")
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.IO(errors.PhaseConfig, "create config directory", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInternal, err, "marshal config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.IO(errors.PhaseConfig, "write config", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(EnvPolicy); v != "" {
		c.Image.CapabilityPolicy = v
	}
	if v := os.Getenv(EnvMaxRecords); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Path(EnvMaxRecords).
				Cause(err).
				Detail("not an integer").
				Build()
		}
		c.Image.MaxRecords = n
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvCatalogPath); v != "" {
		c.Catalog.Path = v
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !image.CapabilityPolicy(c.Image.CapabilityPolicy).Valid() {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("image", "capability_policy").
			Value(c.Image.CapabilityPolicy).
			Detail("must be %q or %q", image.CapabilitySubstitute, image.CapabilityFail).
			Build()
	}
	if c.Image.MaxRecords <= 0 {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("image", "max_records").
			Value(c.Image.MaxRecords).
			Detail("must be positive").
			Build()
	}
	if c.Image.MaxSegmentBytes <= 0 {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("image", "max_segment_bytes").
			Value(c.Image.MaxSegmentBytes).
			Detail("must be positive").
			Build()
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("logging", "level").
			Value(c.Logging.Level).
			Cause(err).
			Build()
	}
	return nil
}

// EngineOptions returns the image engine options the configuration names.
func (c *Config) EngineOptions(log *zap.Logger) []image.Option {
	return []image.Option{
		image.WithCapabilityPolicy(image.CapabilityPolicy(c.Image.CapabilityPolicy)),
		image.WithMaxRecords(c.Image.MaxRecords),
		image.WithMaxSegmentBytes(c.Image.MaxSegmentBytes),
		image.WithLogger(log),
	}
}

// NewLogger builds a zap logger at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "logging level")
	}
	zc := zap.NewProductionConfig()
	if c.Logging.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
