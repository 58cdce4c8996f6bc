// Package config provides configuration handling for upgraderunner.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Manager is the remote management API configuration
	Manager ManagerConfig `json:"manager"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Auth configuration
	Auth AuthConfig `json:"auth"`

	// Scheduler configuration
	Scheduler SchedulerConfig `json:"scheduler"`

	// Workflow configuration
	Workflow WorkflowConfig `json:"workflow"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Host to bind to
	Host string `json:"host"`

	// Port to listen on
	Port int `json:"port"`

	// TLS configuration
	TLS TLSConfig `json:"tls"`
}

// TLSConfig contains TLS settings
type TLSConfig struct {
	// Enabled indicates whether TLS is enabled
	Enabled bool `json:"enabled"`

	// CertFile is the path to the certificate file
	CertFile string `json:"cert_file"`

	// KeyFile is the path to the key file
	KeyFile string `json:"key_file"`
}

// ManagerConfig contains settings for the remote management API
type ManagerConfig struct {
	// BaseURL of the manager, e.g. "https://example.org/contao-manager"
	BaseURL string `json:"base_url"`

	// Token authenticates against the manager API
	Token string `json:"token"`

	// TimeoutSeconds is the per-request timeout, 0 for the default
	TimeoutSeconds int `json:"timeout_seconds"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	// Type of storage to use
	Type string `json:"type"` // "memory", "postgresql", "redis"

	// PostgreSQL configuration
	Postgres PostgresConfig `json:"postgres"`

	// Redis configuration
	Redis RedisConfig `json:"redis"`
}

// PostgresConfig contains PostgreSQL settings
type PostgresConfig struct {
	// Host is the database host
	Host string `json:"host"`

	// Port is the database port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// User is the database user
	User string `json:"user"`

	// Password is the database password
	Password string `json:"password"`

	// SSLMode is the SSL mode
	SSLMode string `json:"ssl_mode"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	// Address is the host:port of the Redis server
	Address string `json:"address"`

	// Password is the Redis password
	Password string `json:"password"`

	// DB is the Redis database number
	DB int `json:"db"`
}

// AuthConfig contains authentication settings for the control API
type AuthConfig struct {
	// Username accepted by the login endpoint
	Username string `json:"username"`

	// PasswordHash is the bcrypt hash of the login password
	PasswordHash string `json:"password_hash"`

	// JWTSecret is the secret for signing JWT tokens
	JWTSecret string `json:"jwt_secret"`

	// TokenExpiration is the token expiration time in hours
	TokenExpiration int `json:"token_expiration"`
}

// SchedulerConfig contains maintenance window settings
type SchedulerConfig struct {
	// Enabled indicates whether scheduled runs are active
	Enabled bool `json:"enabled"`

	// CronSpec is the cron expression for scheduled upgrade runs
	CronSpec string `json:"cron_spec"`

	// PlanFile is the workflow plan to run on schedule, empty for the
	// default plan
	PlanFile string `json:"plan_file"`
}

// WorkflowConfig contains workflow engine settings
type WorkflowConfig struct {
	// PollIntervalSeconds overrides the default task poll interval
	PollIntervalSeconds int `json:"poll_interval_seconds"`

	// HistoryLimit caps how many finished runs are listed by default
	HistoryLimit int `json:"history_limit"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	// Level is the logging level
	Level string `json:"level"` // "debug", "info", "warn", "error"

	// Format is the log format
	Format string `json:"format"` // "json", "text"

	// Output is the log output
	Output string `json:"output"` // "stdout", "file"

	// FilePath is the path to the log file
	FilePath string `json:"file_path"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
			TLS: TLSConfig{
				Enabled: false,
			},
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "upgraderunner",
				User:     "upgraderunner",
				SSLMode:  "disable",
			},
			Redis: RedisConfig{
				Address: "localhost:6379",
			},
		},
		Auth: AuthConfig{
			Username:        "admin",
			TokenExpiration: 24,
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			CronSpec: "0 3 * * 0",
		},
		Workflow: WorkflowConfig{
			HistoryLimit: 50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// SaveConfig saves the configuration to a file
func SaveConfig(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// FromEnv overlays environment variables onto the configuration. Only the
// secrets and connection settings that commonly come from the environment
// are read.
func FromEnv(config *Config) {
	if v := os.Getenv("UPGRADERUNNER_MANAGER_URL"); v != "" {
		config.Manager.BaseURL = v
	}
	if v := os.Getenv("UPGRADERUNNER_MANAGER_TOKEN"); v != "" {
		config.Manager.Token = v
	}
	if v := os.Getenv("UPGRADERUNNER_JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}
	if v := os.Getenv("UPGRADERUNNER_PASSWORD_HASH"); v != "" {
		config.Auth.PasswordHash = v
	}
	if v := os.Getenv("UPGRADERUNNER_STORAGE_TYPE"); v != "" {
		config.Storage.Type = v
	}
	if v := os.Getenv("UPGRADERUNNER_POSTGRES_PASSWORD"); v != "" {
		config.Storage.Postgres.Password = v
	}
	if v := os.Getenv("UPGRADERUNNER_REDIS_ADDRESS"); v != "" {
		config.Storage.Redis.Address = v
	}
}
