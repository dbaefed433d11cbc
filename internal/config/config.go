// Package config provides configuration loading for agentshield.
package config

import (
	"time"

	"github.com/agentshield/agentshield/internal/service"
)

// Config is the root configuration, loaded once at startup and treated as
// immutable afterwards.
type Config struct {
	// Server configures the HTTP listener and logging.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Storage selects where policies, evaluations and approvals live.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Approval tunes synchronous approval waits.
	Approval ApprovalConfig `yaml:"approval" mapstructure:"approval"`

	// Risk tunes the risk-derived default decision.
	Risk RiskConfig `yaml:"risk" mapstructure:"risk"`

	// Notifier optionally carries approval resolutions between instances.
	Notifier NotifierConfig `yaml:"notifier" mapstructure:"notifier"`

	// Tracing configures the OpenTelemetry exporter.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// Auth lists the accepted API keys.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// PoliciesFile is a YAML or JSON policy bundle applied at startup.
	PoliciesFile string `yaml:"policies_file" mapstructure:"policies_file"`

	// DevMode enables debug logging, in-memory storage, a dev tenant and
	// API key, and the starter policy.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the listen address (e.g., "127.0.0.1:8080").
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogFormat is text or json.
	LogFormat string `yaml:"log_format" mapstructure:"log_format" validate:"omitempty,oneof=text json"`

	// AllowedOrigins is the CORS allow-list for browser clients.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins" validate:"omitempty,dive,url"`
}

// StorageConfig selects the store implementation.
type StorageConfig struct {
	// Driver is memory, sqlite or postgres.
	Driver string `yaml:"driver" mapstructure:"driver" validate:"required,oneof=memory sqlite postgres"`

	// DSN is the sqlite file DSN or postgres connection URL.
	DSN string `yaml:"dsn" mapstructure:"dsn" validate:"omitempty,storage_dsn"`
}

// ApprovalConfig tunes approval waits.
type ApprovalConfig struct {
	// WaitTimeout bounds wait_for_approval (e.g., "15s").
	WaitTimeout string `yaml:"wait_timeout" mapstructure:"wait_timeout" validate:"omitempty,duration"`

	// PollInterval is the fallback re-read interval while waiting.
	PollInterval string `yaml:"poll_interval" mapstructure:"poll_interval" validate:"omitempty,duration"`
}

// RiskConfig tunes risk handling.
type RiskConfig struct {
	// ApprovalThreshold is the score at or above which the default decision
	// becomes REQUIRE_APPROVAL.
	ApprovalThreshold int `yaml:"approval_threshold" mapstructure:"approval_threshold" validate:"min=0,max=100"`
}

// NotifierConfig configures cross-instance notifications.
type NotifierConfig struct {
	// RedisURL enables Redis pub/sub when set (redis://host:6379/0).
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url" validate:"omitempty,url"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Exporter is none, stdout or otlp.
	Exporter string `yaml:"exporter" mapstructure:"exporter" validate:"omitempty,oneof=none stdout otlp"`

	// OTLPEndpoint is the collector host:port for the otlp exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
}

// AuthConfig configures API key authentication.
type AuthConfig struct {
	// APIKeyPrefix is prepended to keys generated by bootstrap.
	APIKeyPrefix string `yaml:"api_key_prefix" mapstructure:"api_key_prefix"`

	// APIKeys are the accepted keys.
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`
}

// APIKeyConfig is one accepted API key.
type APIKeyConfig struct {
	// Name labels the key in logs.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// TenantID is the tenant the key acts for.
	TenantID string `yaml:"tenant_id" mapstructure:"tenant_id" validate:"required,uuid"`

	// KeyHash is "sha256:<hex>" or an Argon2id PHC string.
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required,key_hash"`

	// Scopes granted to the key; "admin" may resolve approvals.
	Scopes []string `yaml:"scopes" mapstructure:"scopes"`
}

// DevTenantID is the tenant used in dev mode.
const DevTenantID = "5f0c1d2e-3a4b-4c5d-8e6f-708192a3b4c5"

// devAPIKeyHash is the SHA-256 of "dev-api-key".
const devAPIKeyHash = "sha256:6e1e4e1b8f8b36d08901cdb51b97841dfe20f5efd2fd2fd00768971408c46274"

// SetDevDefaults applies permissive defaults for development mode.
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	c.Server.LogLevel = "debug"
	c.Storage.Driver = "memory"

	// SHA256 of "dev-api-key", with admin scope so approvals can be resolved.
	if len(c.Auth.APIKeys) == 0 {
		c.Auth.APIKeys = []APIKeyConfig{
			{
				Name:     "dev",
				TenantID: DevTenantID,
				KeyHash:  devAPIKeyHash,
				Scopes:   []string{"admin"},
			},
		}
	}
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless configured otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "text"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.DSN == "" {
		c.Storage.DSN = "file:agentshield.db"
	}

	if c.Approval.WaitTimeout == "" {
		c.Approval.WaitTimeout = "15s"
	}
	if c.Approval.PollInterval == "" {
		c.Approval.PollInterval = "500ms"
	}

	if c.Risk.ApprovalThreshold == 0 {
		c.Risk.ApprovalThreshold = 60
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "none"
	}

	if c.Auth.APIKeyPrefix == "" {
		c.Auth.APIKeyPrefix = "ash_live_"
	}
}

// ServiceConfig returns the engine settings. Durations must already have
// passed validation.
func (c *Config) ServiceConfig() service.Config {
	cfg := service.DefaultConfig()
	cfg.ApprovalThreshold = c.Risk.ApprovalThreshold
	if d, err := time.ParseDuration(c.Approval.WaitTimeout); err == nil {
		cfg.WaitTimeout = d
	}
	if d, err := time.ParseDuration(c.Approval.PollInterval); err == nil {
		cfg.PollInterval = d
	}
	return cfg
}
