package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	opts := cfg.SearchOptions()
	assert.Equal(t, 3000, opts.MaxDimension)
	assert.Equal(t, 20, opts.MaxAttempts)
	assert.Equal(t, 0.05, opts.Tolerance)
	assert.Equal(t, 0.01, opts.MinQuality)
	assert.True(t, cfg.IsSupportedExtension(".JPG"))
	assert.False(t, cfg.IsSupportedExtension(".pdf"))
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
encoder:
  max_attempts: 30
  tolerance: 0.1
processing:
  supported_extensions: [JPG, png]
server:
  port: 9090
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Encoder.MaxAttempts)
	assert.Equal(t, 0.1, cfg.Encoder.Tolerance)
	assert.Equal(t, 3000, cfg.Encoder.MaxDimension)
	assert.Equal(t, []string{".jpg", ".png"}, cfg.Processing.SupportedExtensions)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0644))
	t.Setenv("IMAGE_SHRINKER_ENCODER_MAX_ATTEMPTS", "12")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Encoder.MaxAttempts)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"tolerance", func(c *Config) { c.Encoder.Tolerance = 1.5 }},
		{"min quality", func(c *Config) { c.Encoder.MinQuality = 0 }},
		{"attempts", func(c *Config) { c.Encoder.MaxAttempts = -1 }},
		{"default quality", func(c *Config) { c.Encoder.DefaultQuality = 2 }},
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"log level", func(c *Config) { c.Logging.Level = "chatty" }},
		{"resample filter", func(c *Config) { c.Encoder.ResampleFilter = "bicubic" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultTargetBytes(t *testing.T) {
	cfg := DefaultConfig()
	n, err := cfg.DefaultTargetBytes()
	require.NoError(t, err)
	assert.Zero(t, n)

	cfg.Encoder.DefaultTarget = "500KB"
	n, err = cfg.DefaultTargetBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(500*1024), n)

	cfg.Encoder.DefaultTarget = "lots"
	assert.Error(t, cfg.Validate())
}

func TestCodecOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Encoder.ResampleFilter = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "lanczos", cfg.Encoder.ResampleFilter)
	assert.Len(t, cfg.CodecOptions(), 2)

	cfg.Encoder.ResampleFilter = "box"
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.CodecOptions(), 2)
}
