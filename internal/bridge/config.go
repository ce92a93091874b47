package bridge

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete bridge configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	Auth        AuthConfig        `yaml:"auth"`
	Connections ConnectionsConfig `yaml:"connections"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig contains the listen settings for the WebSocket and API server
type ServerConfig struct {
	Address       string `yaml:"address"`
	WebSocketPath string `yaml:"websocket_path"`
}

// RedisConfig contains the pub/sub bus settings
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig contains device credential verification settings
type AuthConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// ConnectionsConfig contains idle eviction settings
type ConnectionsConfig struct {
	IdleThreshold string `yaml:"idle_threshold"`
	SweepInterval string `yaml:"sweep_interval"`

	idleThreshold time.Duration
	sweepInterval time.Duration
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.setDefaults(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SaveConfig writes configuration to a YAML file
func SaveConfig(config *Config, filepath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NewDefaultConfig returns a configuration with default values
func NewDefaultConfig() *Config {
	config := &Config{
		Server: ServerConfig{
			Address:       ":8081",
			WebSocketPath: "/ws",
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Auth: AuthConfig{
			Secret: "access-token-secret",
			Issuer: "",
		},
		Connections: ConnectionsConfig{
			IdleThreshold: "120s",
			SweepInterval: "60s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}

	// Defaults are always valid
	_ = config.setDefaults()
	return config
}

// setDefaults fills missing fields and validates durations
func (c *Config) setDefaults() error {
	if c.Server.Address == "" {
		c.Server.Address = ":8081"
	}
	if c.Server.WebSocketPath == "" {
		c.Server.WebSocketPath = "/ws"
	}
	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379/0"
	}
	if c.Auth.Secret == "" {
		c.Auth.Secret = "access-token-secret"
	}
	if c.Connections.IdleThreshold == "" {
		c.Connections.IdleThreshold = "120s"
	}
	if c.Connections.SweepInterval == "" {
		c.Connections.SweepInterval = "60s"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	var err error
	c.Connections.idleThreshold, err = time.ParseDuration(c.Connections.IdleThreshold)
	if err != nil {
		return fmt.Errorf("invalid idle_threshold %q: %w", c.Connections.IdleThreshold, err)
	}
	c.Connections.sweepInterval, err = time.ParseDuration(c.Connections.SweepInterval)
	if err != nil {
		return fmt.Errorf("invalid sweep_interval %q: %w", c.Connections.SweepInterval, err)
	}
	if c.Connections.idleThreshold <= 0 {
		return fmt.Errorf("idle_threshold must be positive")
	}
	if c.Connections.sweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}

	return nil
}

// IdleThreshold returns how long a connection may stay silent before eviction.
func (c *Config) IdleThreshold() time.Duration {
	return c.Connections.idleThreshold
}

// SweepInterval returns how often the idle sweep runs.
func (c *Config) SweepInterval() time.Duration {
	return c.Connections.sweepInterval
}
