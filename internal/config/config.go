package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"image-shrinker-go/internal/codec"
	"image-shrinker-go/internal/fileutil"
	"image-shrinker-go/internal/sizer"
)

// Config represents the main configuration structure
type Config struct {
	Encoder     EncoderConfig     `mapstructure:"encoder"`
	Processing  ProcessingConfig  `mapstructure:"processing"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// EncoderConfig contains the size search knobs
type EncoderConfig struct {
	MaxDimension   int     `mapstructure:"max_dimension"`
	MaxAttempts    int     `mapstructure:"max_attempts"`
	Tolerance      float64 `mapstructure:"tolerance"`
	MinQuality     float64 `mapstructure:"min_quality"`
	MinStep        float64 `mapstructure:"min_step"`
	NudgeStep      float64 `mapstructure:"nudge_step"`
	DefaultQuality float64 `mapstructure:"default_quality"`
	// DefaultTarget is a size string such as "500KB"; empty means half the source.
	DefaultTarget string `mapstructure:"default_target"`
	AutoOrient    bool   `mapstructure:"auto_orient"`
	// ResampleFilter is used when downscaling: nearest, box, linear, catmullrom or lanczos.
	ResampleFilter string `mapstructure:"resample_filter"`
}

// ProcessingConfig contains file processing settings
type ProcessingConfig struct {
	TargetDirectory     string   `mapstructure:"target_directory"`
	SupportedExtensions []string `mapstructure:"supported_extensions"`
	SkipCompressed      bool     `mapstructure:"skip_compressed"`
	MarkCompressed      bool     `mapstructure:"mark_compressed"`
	DryRun              bool     `mapstructure:"dry_run"`
}

// PerformanceConfig contains performance tuning settings
type PerformanceConfig struct {
	WorkerThreads int `mapstructure:"worker_threads"`
	CacheSize     int `mapstructure:"cache_size"`
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Port        int `mapstructure:"port"`
	MaxUploadMB int `mapstructure:"max_upload_mb"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Encoder: EncoderConfig{
			MaxDimension:   sizer.DefaultMaxDimension,
			MaxAttempts:    sizer.DefaultMaxAttempts,
			Tolerance:      sizer.DefaultTolerance,
			MinQuality:     sizer.DefaultMinQuality,
			MinStep:        sizer.DefaultMinStep,
			NudgeStep:      sizer.DefaultNudgeStep,
			DefaultQuality: sizer.DefaultInitialQuality,
			AutoOrient:     true,
			ResampleFilter: "lanczos",
		},
		Processing: ProcessingConfig{
			TargetDirectory: "compressed",
			SupportedExtensions: []string{
				".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif", ".webp",
			},
			SkipCompressed: true,
			MarkCompressed: true,
		},
		Performance: PerformanceConfig{
			WorkerThreads: 4,
			CacheSize:     64,
		},
		Server: ServerConfig{
			Port:        8080,
			MaxUploadMB: 50,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "image-shrinker.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.image-shrinker")
		v.AddConfigPath("/etc/image-shrinker")
	}

	v.SetEnvPrefix("IMAGE_SHRINKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// setDefaults registers every key with viper so that environment variables
// reach Unmarshal even when no config file mentions them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("encoder.max_dimension", d.Encoder.MaxDimension)
	v.SetDefault("encoder.max_attempts", d.Encoder.MaxAttempts)
	v.SetDefault("encoder.tolerance", d.Encoder.Tolerance)
	v.SetDefault("encoder.min_quality", d.Encoder.MinQuality)
	v.SetDefault("encoder.min_step", d.Encoder.MinStep)
	v.SetDefault("encoder.nudge_step", d.Encoder.NudgeStep)
	v.SetDefault("encoder.default_quality", d.Encoder.DefaultQuality)
	v.SetDefault("encoder.default_target", d.Encoder.DefaultTarget)
	v.SetDefault("encoder.auto_orient", d.Encoder.AutoOrient)
	v.SetDefault("encoder.resample_filter", d.Encoder.ResampleFilter)

	v.SetDefault("processing.target_directory", d.Processing.TargetDirectory)
	v.SetDefault("processing.supported_extensions", d.Processing.SupportedExtensions)
	v.SetDefault("processing.skip_compressed", d.Processing.SkipCompressed)
	v.SetDefault("processing.mark_compressed", d.Processing.MarkCompressed)
	v.SetDefault("processing.dry_run", d.Processing.DryRun)

	v.SetDefault("performance.worker_threads", d.Performance.WorkerThreads)
	v.SetDefault("performance.cache_size", d.Performance.CacheSize)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file_path", d.Logging.FilePath)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	e := &c.Encoder
	if e.MaxDimension <= 0 {
		e.MaxDimension = sizer.DefaultMaxDimension
	}
	if e.MaxAttempts <= 0 {
		return fmt.Errorf("encoder.max_attempts must be positive, got %d", e.MaxAttempts)
	}
	if e.Tolerance <= 0 || e.Tolerance >= 1 {
		return fmt.Errorf("encoder.tolerance must be in (0,1), got %v", e.Tolerance)
	}
	if e.MinQuality <= 0 || e.MinQuality >= 1 {
		return fmt.Errorf("encoder.min_quality must be in (0,1), got %v", e.MinQuality)
	}
	if e.DefaultQuality <= 0 || e.DefaultQuality > 1 {
		return fmt.Errorf("encoder.default_quality must be in (0,1], got %v", e.DefaultQuality)
	}
	if e.MinStep <= 0 {
		e.MinStep = sizer.DefaultMinStep
	}
	if e.NudgeStep <= 0 {
		e.NudgeStep = sizer.DefaultNudgeStep
	}

	if e.ResampleFilter == "" {
		e.ResampleFilter = "lanczos"
	}
	if _, ok := codec.FilterByName(e.ResampleFilter); !ok {
		return fmt.Errorf("invalid encoder.resample_filter: %s", e.ResampleFilter)
	}
	if _, err := c.DefaultTargetBytes(); err != nil {
		return fmt.Errorf("encoder.default_target: %w", err)
	}

	c.Processing.SupportedExtensions = normalizeExtensions(c.Processing.SupportedExtensions)

	if c.Performance.WorkerThreads <= 0 {
		c.Performance.WorkerThreads = 4
	}
	if c.Performance.CacheSize < 0 {
		c.Performance.CacheSize = 0
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 50
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// SearchOptions converts the encoder section into sizer options.
func (c *Config) SearchOptions() sizer.Options {
	return sizer.Options{
		MaxDimension:   c.Encoder.MaxDimension,
		MaxAttempts:    c.Encoder.MaxAttempts,
		Tolerance:      c.Encoder.Tolerance,
		MinQuality:     c.Encoder.MinQuality,
		MinStep:        c.Encoder.MinStep,
		NudgeStep:      c.Encoder.NudgeStep,
		InitialQuality: c.Encoder.DefaultQuality,
	}
}

// DefaultTargetBytes parses encoder.default_target. Zero means the target is
// derived from each source.
func (c *Config) DefaultTargetBytes() (int64, error) {
	if strings.TrimSpace(c.Encoder.DefaultTarget) == "" {
		return 0, nil
	}
	return fileutil.ParseSize(c.Encoder.DefaultTarget)
}

// CodecOptions converts the encoder section into codec options.
func (c *Config) CodecOptions() []codec.Option {
	opts := []codec.Option{codec.WithAutoOrientation(c.Encoder.AutoOrient)}
	if f, ok := codec.FilterByName(c.Encoder.ResampleFilter); ok {
		opts = append(opts, codec.WithFilter(f))
	}
	return opts
}

// IsSupportedExtension checks if the extension is accepted for compression
func (c *Config) IsSupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supportedExt := range c.Processing.SupportedExtensions {
		if ext == supportedExt {
			return true
		}
	}
	return false
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[i] = ext
	}
	return normalized
}
