// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	Transport    TransportConfig    `mapstructure:"transport" yaml:"transport"`
	Agents       AgentsConfig       `mapstructure:"agents" yaml:"agents"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Upload       UploadConfig       `mapstructure:"upload" yaml:"upload"`
	Audit        AuditConfig        `mapstructure:"audit" yaml:"audit"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// TransportConfig tunes the client used to reach the agent-execution and
// asset-upload endpoints.
type TransportConfig struct {
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RatePerSecond   float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	ForceHTTP2      bool          `mapstructure:"force_http2" yaml:"force_http2"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	APIKey          string        `mapstructure:"api_key" yaml:"-"`
}

// AgentEntry maps a logical agent name onto its remote identifier and payload
// kind. Entries override or extend the built-in registry.
type AgentEntry struct {
	ID          string `mapstructure:"id" yaml:"id"`
	Kind        string `mapstructure:"kind" yaml:"kind"`
	DisplayName string `mapstructure:"display_name" yaml:"display_name"`
}

// AgentsConfig carries registry overrides keyed by logical agent name.
type AgentsConfig struct {
	Registry map[string]AgentEntry `mapstructure:"registry" yaml:"registry"`
}

// OrchestratorConfig controls retry behavior for transport-level failures.
// Agent-reported errors are never retried.
type OrchestratorConfig struct {
	RetryAttempts int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
}

// UploadConfig constrains what the upload coordinator accepts before any
// network call is made.
type UploadConfig struct {
	AllowedExtensions []string `mapstructure:"allowed_extensions" yaml:"allowed_extensions"`
	MaxFileSizeBytes  int64    `mapstructure:"max_file_size_bytes" yaml:"max_file_size_bytes"`
}

// AuditConfig configures the optional audit trail store. An empty URL
// disables persistence entirely.
type AuditConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ServerConfig holds settings for the dashboard API server.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "diligence-cli")
	v.SetDefault("logger.log_file", "diligence.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Transport --
	v.SetDefault("transport.base_url", "")
	v.SetDefault("transport.request_timeout", "60s")
	v.SetDefault("transport.rate_per_second", 5.0)
	v.SetDefault("transport.rate_burst", 5)
	v.SetDefault("transport.force_http2", true)
	v.SetDefault("transport.ignore_tls_errors", false)

	// -- Orchestrator --
	v.SetDefault("orchestrator.retry_attempts", 2)
	v.SetDefault("orchestrator.retry_backoff", "2s")

	// -- Upload --
	v.SetDefault("upload.allowed_extensions", []string{"pdf", "docx", "xlsx", "txt"})
	v.SetDefault("upload.max_file_size_bytes", int64(50*1024*1024))

	// -- Audit --
	v.SetDefault("audit.url", "")

	// -- Server --
	v.SetDefault("server.listen_addr", ":8790")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Sensitive values come from the environment, never the config file.
	if err := v.BindEnv("transport.api_key", "DILIGENCE_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind api key env var: %w", err)
	}
	if err := v.BindEnv("audit.url", "DILIGENCE_AUDIT_DB_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind audit url env var: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Transport.RequestTimeout <= 0 {
		return fmt.Errorf("transport.request_timeout must be a positive duration")
	}
	if c.Transport.RatePerSecond <= 0 {
		return fmt.Errorf("transport.rate_per_second must be positive")
	}
	if c.Transport.RateBurst <= 0 {
		return fmt.Errorf("transport.rate_burst must be a positive integer")
	}
	if c.Orchestrator.RetryAttempts < 0 {
		return fmt.Errorf("orchestrator.retry_attempts must not be negative")
	}
	if c.Orchestrator.RetryAttempts > 0 && c.Orchestrator.RetryBackoff <= 0 {
		return fmt.Errorf("orchestrator.retry_backoff must be a positive duration when retries are enabled")
	}
	if c.Upload.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("upload.max_file_size_bytes must be positive")
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		return fmt.Errorf("upload.allowed_extensions must not be empty")
	}
	for name, entry := range c.Agents.Registry {
		if strings.TrimSpace(entry.ID) == "" {
			return fmt.Errorf("agents.registry.%s.id must not be empty", name)
		}
	}
	return nil
}
