package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance, following the teacher's
// package-level init pattern.
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate runs struct-tag validation followed by cross-field rules that
// can't be expressed in tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules checks invariants that span more than one field.
func validateCustomRules(cfg *Config) error {
	if cfg.ObjectStore.Type == "s3" {
		if cfg.ObjectStore.S3.Bucket == "" {
			return fmt.Errorf("object_store.s3.bucket is required when object_store.type is s3")
		}
		if cfg.ObjectStore.S3.Region == "" {
			return fmt.Errorf("object_store.s3.region is required when object_store.type is s3")
		}
	}
	if cfg.ObjectStore.Type == "fs" && cfg.ObjectStore.Fs.Root == "" {
		return fmt.Errorf("object_store.fs.root is required when object_store.type is fs")
	}
	if cfg.Directory.Type == "badger" && cfg.Directory.Badger.DBPath == "" {
		return fmt.Errorf("directory.badger.db_path is required when directory.type is badger")
	}
	if cfg.Uploads.SecondsBeforeFirstRetry > cfg.Uploads.SecondsBeforePush {
		return fmt.Errorf("uploads.seconds_before_first_retry must not exceed uploads.seconds_before_push")
	}
	return nil
}

// formatValidationError converts the first validator failure into a
// friendly message, matching the teacher's formatValidationError.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
