// Package config loads and validates the document storage manager's
// configuration, following the teacher's layering: a YAML/TOML file plus
// DOCSTORE_* environment variables plus defaults, decoded with viper,
// validated with struct tags. One Unmarshal decodes every store-specific
// sub-section into its typed struct; CreateRawStore and CreateDirectory then
// build the selected backends from them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config is the complete docstore configuration.
//
// Configuration sources, highest precedence first:
//  1. Legacy environment variables GRIST_BACKUP_DELAY_SECS / GRIST_DISABLE_S3
//     (spec.md §6 names these explicitly; they override everything else)
//  2. DOCSTORE_* environment variables
//  3. Configuration file (YAML)
//  4. Default values
type Config struct {
	// DocsRoot is the local directory holding every document's artifacts
	// (.grist, .grist-hash, .grist-backup, .grist-replacing).
	DocsRoot string `mapstructure:"docs_root" validate:"required"`

	// WorkerID identifies this worker process in the worker directory.
	WorkerID string `mapstructure:"worker_id" validate:"required"`

	// DisableS3 runs with the fs/memory object store and a memory
	// directory instead of S3 and badger, for single-worker local runs.
	// Mirrors GRIST_DISABLE_S3.
	DisableS3 bool `mapstructure:"disable_s3"`

	Uploads     UploadsConfig     `mapstructure:"uploads"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store"`
	Directory   DirectoryConfig   `mapstructure:"directory"`
	Pruner      PrunerConfig      `mapstructure:"pruner"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// UploadsConfig controls the push scheduler's debounce and retry behavior.
type UploadsConfig struct {
	// SecondsBeforePush is the quiet-period debounce window before a
	// changed document is pushed. Mirrors GRIST_BACKUP_DELAY_SECS.
	SecondsBeforePush int `mapstructure:"seconds_before_push" validate:"required,gt=0"`

	// SecondsBeforeFirstRetry is the initial retry backoff after a failed
	// push, doubling on each subsequent failure.
	SecondsBeforeFirstRetry int `mapstructure:"seconds_before_first_retry" validate:"required,gt=0"`

	// MaxConcurrentPushes caps the number of uploads running at once
	// across all documents.
	MaxConcurrentPushes uint `mapstructure:"max_concurrent_pushes" validate:"required,gt=0"`
}

// ObjectStoreConfig selects and configures the external object store.
type ObjectStoreConfig struct {
	// Type selects the RawStore implementation: s3, fs, or memory.
	Type string `mapstructure:"type" validate:"required,oneof=s3 fs memory"`

	S3 S3Config `mapstructure:"s3"`
	Fs FsConfig `mapstructure:"fs"`
}

// S3Config configures the S3-backed object store. Only used when
// ObjectStoreConfig.Type == "s3".
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// FsConfig configures the local-directory object store. Only used when
// ObjectStoreConfig.Type == "fs".
type FsConfig struct {
	Root string `mapstructure:"root"`
}

// DirectoryConfig selects and configures the worker directory client.
type DirectoryConfig struct {
	// Type selects the Directory implementation: badger or memory.
	Type string `mapstructure:"type" validate:"required,oneof=badger memory"`

	Badger BadgerDirectoryConfig `mapstructure:"badger"`
}

// BadgerDirectoryConfig configures the BadgerDB-backed worker directory.
// Only used when DirectoryConfig.Type == "badger".
type BadgerDirectoryConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// PrunerConfig controls the snapshot pruner.
type PrunerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	DryRun  bool `mapstructure:"dry_run"`
}

// LoggingConfig describes log output; pkg/config itself never constructs a
// logger. cmd/docstore reads only Level: Format and Output are validated but
// not applied, and its logs are always bracketed text lines on stdout.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, or ERROR
	// (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is "text" or "json".
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output is "stdout", "stderr", or a file path.
	Output string `mapstructure:"output" validate:"required"`
}

// Load reads the config file and DOCSTORE_* environment variables (the
// latter taking precedence), applies the two legacy environment variable
// overrides spec.md §6 names explicitly, fills remaining zero-valued fields
// with defaults, then validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyLegacyEnvOverrides(&cfg)
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper wires up DOCSTORE_* environment variables and config file
// search, following the teacher's setupViper.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("DOCSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	configDir := getConfigDir()
	v.AddConfigPath(configDir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the config file if present; a missing file is not an
// error, since defaults plus environment variables may be sufficient.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/docstore, falling back to
// ~/.config/docstore, or "." if the home directory can't be determined.
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "docstore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "docstore")
}

// applyLegacyEnvOverrides applies the two environment variables spec.md §6
// names directly, on top of whatever DOCSTORE_* or file config set, since
// these are the documented interface and must work even for a deployment
// that has never heard of the DOCSTORE_ prefix.
func applyLegacyEnvOverrides(cfg *Config) {
	if raw, ok := os.LookupEnv("GRIST_BACKUP_DELAY_SECS"); ok {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			cfg.Uploads.SecondsBeforePush = secs
		}
	}
	if raw, ok := os.LookupEnv("GRIST_DISABLE_S3"); ok {
		cfg.DisableS3 = isTruthy(raw)
	}
}

func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// GetDefaultConfigPath returns the default config file location.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
