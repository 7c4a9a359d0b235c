// Package config provides configuration management for agentmesh.
// It supports loading configuration from environment variables, config files,
// and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for agentmesh.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Health       HealthConfig       `mapstructure:"health"`
	Discovery    DiscoveryConfig    `mapstructure:"discovery"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database connection configuration.
// Driver selects between "sqlite" and "postgres".
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlitePath"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	DBName     string `mapstructure:"dbName"`
	SSLMode    string `mapstructure:"sslMode"`
	MaxConns   int    `mapstructure:"maxConns"`
	MinConns   int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// OrchestratorConfig holds pipeline configuration.
type OrchestratorConfig struct {
	// Production controls the missing-security-agent policy: in production a
	// missing security agent is a hard failure, in development it defaults to
	// allow with low risk.
	Production bool `mapstructure:"production"`

	// AgentCallTimeout is the per-agent invocation timeout in seconds.
	AgentCallTimeout int `mapstructure:"agentCallTimeout"`

	// TaskTimeout is the per-task wall-clock deadline in seconds.
	TaskTimeout int `mapstructure:"taskTimeout"`
}

// HealthConfig holds health monitor configuration.
type HealthConfig struct {
	CheckInterval    int `mapstructure:"checkInterval"`    // in seconds
	HeartbeatTimeout int `mapstructure:"heartbeatTimeout"` // in seconds
	ProbeTimeout     int `mapstructure:"probeTimeout"`     // in seconds
}

// DiscoveryConfig holds discovery filter configuration.
type DiscoveryConfig struct {
	// FreshnessWindow is the maximum heartbeat age, in seconds, for an agent
	// to be considered live by discovery.
	FreshnessWindow int `mapstructure:"freshnessWindow"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// AgentCallTimeoutDuration returns the per-call timeout as a time.Duration.
func (o *OrchestratorConfig) AgentCallTimeoutDuration() time.Duration {
	return time.Duration(o.AgentCallTimeout) * time.Second
}

// TaskTimeoutDuration returns the per-task deadline as a time.Duration.
func (o *OrchestratorConfig) TaskTimeoutDuration() time.Duration {
	return time.Duration(o.TaskTimeout) * time.Second
}

// CheckIntervalDuration returns the sweep interval as a time.Duration.
func (h *HealthConfig) CheckIntervalDuration() time.Duration {
	return time.Duration(h.CheckInterval) * time.Second
}

// HeartbeatTimeoutDuration returns the heartbeat timeout as a time.Duration.
func (h *HealthConfig) HeartbeatTimeoutDuration() time.Duration {
	return time.Duration(h.HeartbeatTimeout) * time.Second
}

// ProbeTimeoutDuration returns the probe timeout as a time.Duration.
func (h *HealthConfig) ProbeTimeoutDuration() time.Duration {
	return time.Duration(h.ProbeTimeout) * time.Second
}

// FreshnessWindowDuration returns the freshness window as a time.Duration.
func (d *DiscoveryConfig) FreshnessWindowDuration() time.Duration {
	return time.Duration(d.FreshnessWindow) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on
// environment: "json" for production deployments, "text" for terminals.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTMESH_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlitePath", "~/.agentmesh/agentmesh.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "agentmesh")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "agentmesh")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "agentmesh-cluster")
	v.SetDefault("nats.clientId", "agentmesh-client")
	v.SetDefault("nats.maxReconnects", 10)

	// Orchestrator defaults
	v.SetDefault("orchestrator.production", false)
	v.SetDefault("orchestrator.agentCallTimeout", 30)
	v.SetDefault("orchestrator.taskTimeout", 3600)

	// Health monitor defaults
	v.SetDefault("health.checkInterval", 60)
	v.SetDefault("health.heartbeatTimeout", 300)
	v.SetDefault("health.probeTimeout", 5)

	// Discovery defaults
	v.SetDefault("discovery.freshnessWindow", 300)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix AGENTMESH_ with snake_case
// naming. The config file should be named config.yaml and placed in the
// current directory or /etc/agentmesh/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default
// locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("database.sqlitePath", "AGENTMESH_DATABASE_SQLITE_PATH")
	_ = v.BindEnv("orchestrator.agentCallTimeout", "AGENTMESH_ORCHESTRATOR_AGENT_CALL_TIMEOUT")
	_ = v.BindEnv("orchestrator.taskTimeout", "AGENTMESH_ORCHESTRATOR_TASK_TIMEOUT")
	_ = v.BindEnv("health.checkInterval", "AGENTMESH_HEALTH_CHECK_INTERVAL")
	_ = v.BindEnv("health.heartbeatTimeout", "AGENTMESH_HEALTH_HEARTBEAT_TIMEOUT")
	_ = v.BindEnv("discovery.freshnessWindow", "AGENTMESH_DISCOVERY_FRESHNESS_WINDOW")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentmesh/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate performs basic sanity checks on the loaded configuration.
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %q", cfg.Database.Driver)
	}
	if cfg.Orchestrator.AgentCallTimeout <= 0 {
		return fmt.Errorf("orchestrator.agentCallTimeout must be positive")
	}
	if cfg.Orchestrator.TaskTimeout <= 0 {
		return fmt.Errorf("orchestrator.taskTimeout must be positive")
	}
	if cfg.Health.CheckInterval <= 0 {
		return fmt.Errorf("health.checkInterval must be positive")
	}
	return nil
}
