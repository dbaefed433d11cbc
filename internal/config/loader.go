package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for agentshield.yaml/.yml in standard locations.
// A .env file in the working directory is loaded into the environment first;
// variables already set take precedence.
func InitViper(configFile string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig will return ConfigFileNotFoundError, handled by callers.
		viper.SetConfigName("agentshield")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: AGENTSHIELD_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("AGENTSHIELD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
	return nil
}

// findConfigFile searches standard locations for agentshield.yaml or .yml.
// The explicit extension keeps the binary itself from matching.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	return findConfigFileInPaths([]string{
		".",
		filepath.Join(home, ".agentshield"),
		"/etc/agentshield",
	})
}

// findConfigFileInPaths returns the first agentshield.yaml or .yml found in
// paths, or "".
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "agentshield"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested keys so AGENTSHIELD_STORAGE_DSN overrides
// storage.dsn even when the key is absent from the config file.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.log_format")
	_ = viper.BindEnv("server.allowed_origins")

	_ = viper.BindEnv("storage.driver")
	_ = viper.BindEnv("storage.dsn")

	_ = viper.BindEnv("approval.wait_timeout")
	_ = viper.BindEnv("approval.poll_interval")

	_ = viper.BindEnv("risk.approval_threshold")

	_ = viper.BindEnv("notifier.redis_url")

	_ = viper.BindEnv("tracing.exporter")
	_ = viper.BindEnv("tracing.otlp_endpoint")

	// auth.api_keys is a list; configure it in the file.
	_ = viper.BindEnv("auth.api_key_prefix")

	_ = viper.BindEnv("policies_file")
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration, applies defaults and dev defaults, and
// validates it.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded config file, or "".
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
