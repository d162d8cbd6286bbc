// Package config loads and validates the YAML process configuration,
// grounded on the teacher's src/config/config.go: read file, unmarshal
// with gopkg.in/yaml.v3, validate, and support round-tripping back to
// disk.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/backtest-replay/server/internal/models"
)

// Config wraps models.ServerConfig with load/save/validate behavior.
type Config struct {
	*models.ServerConfig
}

// Load reads and validates the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var sc models.ServerConfig
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	cfg := &Config{ServerConfig: &sc}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate performs basic sanity checks on the loaded configuration.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort != 0 && c.GrpcPort == c.Port {
		return fmt.Errorf("grpc_port must differ from port")
	}

	switch c.Storage.DBType {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path cannot be empty for sqlite")
		}
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return fmt.Errorf("storage.db_connection_string cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("storage.db_type must be 'sqlite' or 'postgres', got %q", c.Storage.DBType)
	}

	if c.Storage.Timezone == "" {
		return fmt.Errorf("storage.timezone cannot be empty")
	}
	switch c.Storage.EpochUnit {
	case "s", "ms", "us":
	default:
		return fmt.Errorf("storage.epoch_unit must be one of s, ms, us, got %q", c.Storage.EpochUnit)
	}

	if c.Replay.DefaultReplayIntervalMS < 0 {
		return fmt.Errorf("replay.default_replay_interval_ms cannot be negative")
	}

	return nil
}

// Save persists the configuration back to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c.ServerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", path, err)
	}
	return nil
}
