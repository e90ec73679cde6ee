// Package config loads server configuration from a YAML file with
// environment-variable overrides, following the same
// defaults-then-file-then-env layering and validation/clamping habits as
// the rest of the pack.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// WorkerConfig sizes the discovery worker pool: total concurrent
// discovery jobs is Instances * PoolSize.
type WorkerConfig struct {
	Instances int `yaml:"instances"`
	PoolSize  int `yaml:"poolSize"`
}

// DiscoveryConfig groups discovery-pipeline tunables.
type DiscoveryConfig struct {
	Worker WorkerConfig `yaml:"worker"`
}

// EncryptionConfig holds the credential-secret encryption key.
type EncryptionConfig struct {
	Key string `yaml:"key"`
}

// DatabaseConfig holds the connection string and per-domain pool sizes.
type DatabaseConfig struct {
	URL               string `yaml:"url"`
	RequestPoolSize   int32  `yaml:"requestPoolSize"`
	DiscoveryPoolSize int32  `yaml:"discoveryPoolSize"`
}

// Config is the top-level server configuration.
type Config struct {
	ListenAddr string           `yaml:"listenAddr"`
	LogLevel   string           `yaml:"logLevel"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Database   DatabaseConfig   `yaml:"database"`
}

// DefaultConfig returns a config with the defaults named in spec §6:
// 2 instances x 4 pool size = 8 discovery workers.
func DefaultConfig() Config {
	return Config{
		ListenAddr: ":8080",
		LogLevel:   "INFO",
		Discovery: DiscoveryConfig{
			Worker: WorkerConfig{
				Instances: 2,
				PoolSize:  4,
			},
		},
		Database: DatabaseConfig{
			RequestPoolSize:   4,
			DiscoveryPoolSize: 16,
		},
	}
}

// Load reads configuration from a YAML file, applies environment
// overrides, and validates required fields.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if v := os.Getenv("DISCOVERY_WORKER_INSTANCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Discovery.Worker.Instances = n
		}
	}
	if v := os.Getenv("DISCOVERY_WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Discovery.Worker.PoolSize = n
		}
	}
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		cfg.Encryption.Key = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToUpper(v)
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database.url is required")
	}
	if cfg.Encryption.Key == "" {
		return nil, fmt.Errorf("encryption.key is required")
	}

	if cfg.Discovery.Worker.Instances < 1 {
		cfg.Discovery.Worker.Instances = 1
	}
	if cfg.Discovery.Worker.PoolSize < 1 {
		cfg.Discovery.Worker.PoolSize = 1
	}

	return &cfg, nil
}
