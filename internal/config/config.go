package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"stride/internal/writequeue"
)

// Config models stride.yml.
type Config struct {
	Athlete struct {
		Name        string `yaml:"name"`
		WeeklyHours int    `yaml:"weekly_hours"`
	} `yaml:"athlete"`
	Writes struct {
		IdempotencyTTLHours int `yaml:"idempotency_ttl_hours"`
		StaleLockSeconds    int `yaml:"stale_lock_seconds"`
	} `yaml:"writes"`
	Policies struct {
		Dir string `yaml:"dir"`
	} `yaml:"policies"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stride.yml")
}

// Load reads stride.yml, falling back to defaults when it does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures override values stay sensible.
func (c *Config) Validate() error {
	if c.Writes.IdempotencyTTLHours < 0 {
		return fmt.Errorf("config.writes.idempotency_ttl_hours must not be negative")
	}
	if c.Writes.StaleLockSeconds < 0 {
		return fmt.Errorf("config.writes.stale_lock_seconds must not be negative")
	}
	if c.Athlete.WeeklyHours < 0 {
		return fmt.Errorf("config.athlete.weekly_hours must not be negative")
	}
	return nil
}

// IdempotencyTTL returns the configured TTL or the queue default.
func (c *Config) IdempotencyTTL() time.Duration {
	if c.Writes.IdempotencyTTLHours > 0 {
		return time.Duration(c.Writes.IdempotencyTTLHours) * time.Hour
	}
	return writequeue.DefaultIdempotencyTTL
}

// StaleLockAge returns the configured threshold or the queue default.
func (c *Config) StaleLockAge() time.Duration {
	if c.Writes.StaleLockSeconds > 0 {
		return time.Duration(c.Writes.StaleLockSeconds) * time.Second
	}
	return writequeue.DefaultStaleLockAge
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML for stride init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `athlete:
  name: athlete
  weekly_hours: 8

writes:
  idempotency_ttl_hours: 24
  stale_lock_seconds: 60

policies:
  dir: policies
`
