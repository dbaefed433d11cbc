package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/agentshield/agentshield/internal/domain/auth"
)

// RegisterCustomValidators registers agentshield-specific validation rules.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("storage_dsn", validateStorageDSN); err != nil {
		return fmt.Errorf("failed to register storage_dsn validator: %w", err)
	}
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	if err := v.RegisterValidation("key_hash", validateKeyHash); err != nil {
		return fmt.Errorf("failed to register key_hash validator: %w", err)
	}
	return nil
}

// validateStorageDSN accepts sqlite file DSNs and postgres URLs.
func validateStorageDSN(fl validator.FieldLevel) bool {
	dsn := fl.Field().String()
	switch {
	case strings.HasPrefix(dsn, "file:"):
		return len(dsn) > len("file:")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return true
	case strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname="):
		// libpq key/value form
		return true
	case strings.HasSuffix(dsn, ".db"), dsn == ":memory:":
		return true
	default:
		return false
	}
}

// validateDuration accepts positive time.ParseDuration strings.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

func validateKeyHash(fl validator.FieldLevel) bool {
	return auth.DetectHashType(fl.Field().String()) != "unknown"
}

// Validate checks struct tags and cross-field rules.
// Returns an error with actionable messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateNotifier(); err != nil {
		return err
	}
	if c.Tracing.Exporter == "otlp" && c.Tracing.OTLPEndpoint == "" {
		return errors.New("tracing.otlp_endpoint is required when tracing.exporter is otlp")
	}
	return c.validateUniqueKeyNames()
}

func (c *Config) validateStorage() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required when storage.driver is postgres")
		}
	case "sqlite":
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required when storage.driver is sqlite")
		}
	}
	return nil
}

func (c *Config) validateNotifier() error {
	if c.Notifier.RedisURL == "" {
		return nil
	}
	if _, err := redis.ParseURL(c.Notifier.RedisURL); err != nil {
		return fmt.Errorf("notifier.redis_url: %w", err)
	}
	return nil
}

func (c *Config) validateUniqueKeyNames() error {
	seen := make(map[string]struct{}, len(c.Auth.APIKeys))
	for i, k := range c.Auth.APIKeys {
		if _, dup := seen[k.Name]; dup {
			return fmt.Errorf("auth.api_keys[%d]: duplicate name %q", i, k.Name)
		}
		seen[k.Name] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "uuid":
		return fmt.Sprintf("%s must be a UUID", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "storage_dsn":
		return fmt.Sprintf("%s must be a sqlite file DSN (file:...) or a postgres URL", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration such as 15s", field)
	case "key_hash":
		return fmt.Sprintf("%s must be sha256:<hex> or an argon2id hash", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
