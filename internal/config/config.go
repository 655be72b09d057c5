// Package config provides configuration management for movieforge using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultMaxOpenConns        = 25
	defaultMaxIdleConns        = 10
	defaultConnMaxIdleTime     = 30 * time.Minute
	defaultPlannerConcurrency  = 0 // 0 = derive from CPU count at runtime
	defaultPlannerUpToLayer    = -1
	defaultRecoveryPollEvery   = 2 * time.Minute
	defaultHandlerDeadline     = 5 * time.Minute
	defaultS3Region            = "auto"
	defaultCompactionThreshold = 5000
)

// Config holds all configuration for the application.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Planner  PlannerConfig  `mapstructure:"planner"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
}

// StorageConfig holds file storage backend configuration.
type StorageConfig struct {
	// Driver selects the Storage backend implementation: "local" or "s3".
	Driver string `mapstructure:"driver"`

	// BaseDir is the root directory for the local backend.
	BaseDir string `mapstructure:"base_dir"`

	// S3 holds settings for the S3-compatible backend. Credentials are read
	// from S3_ACCESS_KEY_ID / S3_SECRET_ACCESS_KEY, never from the config file.
	S3 S3Config `mapstructure:"s3"`

	// BlobCompression enables brotli compression for compressible blob
	// mime types (text/plain, application/json, image/svg+xml). Hashes are
	// always computed over the uncompressed bytes.
	BlobCompression bool `mapstructure:"blob_compression"`
}

// S3Config holds S3-compatible object storage configuration.
type S3Config struct {
	Endpoint string `mapstructure:"endpoint"`
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
}

// DatabaseConfig holds database connection configuration for the movie
// registry. This is a derived, rebuildable index — the file-based
// event log and manifests remain the source of truth.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// PlannerConfig holds default planner/runtime tuning.
type PlannerConfig struct {
	// DefaultConcurrency bounds parallel job execution within a layer.
	// 0 means derive a default from the host's logical CPU count.
	DefaultConcurrency int `mapstructure:"default_concurrency"`

	// DefaultUpToLayer caps planning to a layer index; -1 means unbounded.
	DefaultUpToLayer int `mapstructure:"default_up_to_layer"`

	// HandlerDeadline is the per-invocation timeout passed to handlers
	// absent a job-specific override.
	HandlerDeadline time.Duration `mapstructure:"handler_deadline"`

	// CompactionThreshold is loaded and defaulted but not read by any
	// package; the event log has no compaction operation and grows
	// monotonically.
	CompactionThreshold int `mapstructure:"compaction_threshold"`
}

// RecoveryConfig holds recovery pre-pass scheduling configuration.
type RecoveryConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	PollEvery time.Duration `mapstructure:"poll_every"`
	CronExpr  string        `mapstructure:"cron_expr"` // overrides PollEvery when set
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with MOVIEFORGE_ and use underscores
// for nesting, e.g. MOVIEFORGE_STORAGE_BASE_DIR=/data.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/movieforge")
		v.AddConfigPath("$HOME/.movieforge")
	}

	v.SetEnvPrefix("MOVIEFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind the documented external environment variables directly — these carry
	// no MOVIEFORGE_ prefix because they are shared conventions for
	// S3-compatible credentials, not movieforge-specific settings.
	_ = v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	_ = v.BindEnv("storage.s3.bucket", "S3_BUCKET")
	_ = v.BindEnv("storage.s3.region", "S3_REGION")

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.blob_compression", false)
	v.SetDefault("storage.s3.region", defaultS3Region)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "movieforge.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("planner.default_concurrency", defaultPlannerConcurrency)
	v.SetDefault("planner.default_up_to_layer", defaultPlannerUpToLayer)
	v.SetDefault("planner.handler_deadline", defaultHandlerDeadline)
	v.SetDefault("planner.compaction_threshold", defaultCompactionThreshold)

	v.SetDefault("recovery.enabled", false)
	v.SetDefault("recovery.poll_every", defaultRecoveryPollEvery)
	v.SetDefault("recovery.cron_expr", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validStorageDrivers := map[string]bool{"local": true, "s3": true}
	if !validStorageDrivers[c.Storage.Driver] {
		return fmt.Errorf("storage.driver must be one of: local, s3")
	}
	if c.Storage.Driver == "local" && c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required for the local driver")
	}
	if c.Storage.Driver == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required for the s3 driver")
	}

	validDBDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDBDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Planner.DefaultConcurrency < 0 {
		return fmt.Errorf("planner.default_concurrency must be >= 0")
	}

	return nil
}
