package config

import "strings"

// ApplyDefaults fills in zero-valued fields with sensible defaults, called
// after unmarshalling and the legacy env overrides and before validation.
func ApplyDefaults(cfg *Config) {
	if cfg.DocsRoot == "" {
		cfg.DocsRoot = "/var/lib/docstore/docs"
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-1"
	}

	applyUploadsDefaults(&cfg.Uploads)
	applyObjectStoreDefaults(&cfg.ObjectStore, cfg.DisableS3)
	applyDirectoryDefaults(&cfg.Directory, cfg.DisableS3)
	applyLoggingDefaults(&cfg.Logging)
	// Pruner.Enabled/DryRun default to false, matching a conservative
	// out-of-the-box posture; operators opt in explicitly.
}

func applyUploadsDefaults(cfg *UploadsConfig) {
	if cfg.SecondsBeforePush == 0 {
		cfg.SecondsBeforePush = 15
	}
	if cfg.SecondsBeforeFirstRetry == 0 {
		cfg.SecondsBeforeFirstRetry = 3
	}
	if cfg.MaxConcurrentPushes == 0 {
		cfg.MaxConcurrentPushes = 8
	}
}

func applyObjectStoreDefaults(cfg *ObjectStoreConfig, disableS3 bool) {
	if cfg.Type == "" {
		if disableS3 {
			cfg.Type = "fs"
		} else {
			cfg.Type = "s3"
		}
	}
	if cfg.Fs.Root == "" {
		cfg.Fs.Root = "/var/lib/docstore/objects"
	}
	if cfg.S3.KeyPrefix == "" {
		cfg.S3.KeyPrefix = "docs/"
	}
}

func applyDirectoryDefaults(cfg *DirectoryConfig, disableS3 bool) {
	if cfg.Type == "" {
		if disableS3 {
			cfg.Type = "memory"
		} else {
			cfg.Type = "badger"
		}
	}
	if cfg.Badger.DBPath == "" {
		cfg.Badger.DBPath = "/var/lib/docstore/directory"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// GetDefaultConfig returns a Config with every default applied, useful for
// sample-config generation and tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
