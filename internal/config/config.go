package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can say "30s" or "250ms".
type Duration time.Duration

// UnmarshalYAML parses the standard Go duration syntax.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the application configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	Database struct {
		Dialect string `yaml:"dialect"`
		DSN     string `yaml:"dsn"`
	} `yaml:"database"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Port    int    `yaml:"port"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Sync struct {
		MaxBatchSize  int      `yaml:"max_batch_size"`
		MaxRetries    int      `yaml:"max_retries"`
		RetryBackoff  Duration `yaml:"retry_backoff"`
		BatchDeadline Duration `yaml:"batch_deadline"`
	} `yaml:"sync"`
	Auth struct {
		Secret string `yaml:"secret"`
	} `yaml:"auth"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{Listen: ":8080"}
	cfg.Database.Dialect = "sqlite3"
	cfg.Database.DSN = "comanda.db"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 9090
	cfg.Metrics.Path = "/metrics"
	cfg.Sync.MaxBatchSize = 500
	cfg.Sync.MaxRetries = 3
	cfg.Sync.RetryBackoff = Duration(50 * time.Millisecond)
	cfg.Sync.BatchDeadline = Duration(30 * time.Second)
	return cfg
}

// Load reads a yaml config file over the defaults. A missing file is not
// an error; the defaults run a local sqlite instance.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
