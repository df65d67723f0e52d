// Package config loads PI's YAML configuration document: the RabbitMQ
// connection, the consumer binding set, and the tunables that govern the
// manifest cycle (refresh_time, manifest_size, cooldown_time, active_time).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConsumerBindings describes the exchange/queue this instance consumes
// start/stop messages from.
type ConsumerBindings struct {
	Exchange   string   `yaml:"exchange"`
	InputQueue string   `yaml:"input_queue"`
	Keys       []string `yaml:"keys"`
	QueueSize  int      `yaml:"queue_size"`
}

// Config is the parsed contents of the YAML config document.
type Config struct {
	RabbitMQHost     string           `yaml:"rabbitmq_host"`
	RabbitMQUser     string           `yaml:"rabbitmq_user"`
	RabbitMQPassword string           `yaml:"rabbitmq_password"`
	ConsumerBindings ConsumerBindings `yaml:"consumer_bindings"`
	RefreshTime      int64            `yaml:"refresh_time"`
	ManifestSize     int              `yaml:"manifest_size"`
	CooldownTime     int64            `yaml:"cooldown_time"`
	ActiveTime       int64            `yaml:"active_time"`
	PublishExchange  string           `yaml:"publish_exchange"`
	PublishKey       string           `yaml:"publish_key"`
	OpsHTTPAddr      string           `yaml:"ops_http_addr"`
}

// Validate rejects configurations that cannot be used to run the engine.
// manifest_size and active_time of 0 are valid boundary values (spec.md
// §8) and are not rejected here.
func (c *Config) Validate() error {
	if c.RabbitMQHost == "" {
		return fmt.Errorf("rabbitmq_host must not be empty")
	}
	if c.ConsumerBindings.Exchange == "" {
		return fmt.Errorf("consumer_bindings.exchange must not be empty")
	}
	if c.ConsumerBindings.InputQueue == "" {
		return fmt.Errorf("consumer_bindings.input_queue must not be empty")
	}
	if len(c.ConsumerBindings.Keys) == 0 {
		return fmt.Errorf("consumer_bindings.keys must not be empty")
	}
	if c.RefreshTime < 0 {
		return fmt.Errorf("refresh_time must not be negative")
	}
	if c.CooldownTime < 0 {
		return fmt.Errorf("cooldown_time must not be negative")
	}
	return nil
}

// Overrides holds CLI flag values that take priority over the YAML file.
type Overrides struct {
	ConfigPath string
	LogLevel   string
}

// Load reads and parses the YAML config at overrides.ConfigPath (default
// "./pi.yaml"), then validates it.
func Load(overrides Overrides) (*Config, error) {
	path := overrides.ConfigPath
	if path == "" {
		path = "./pi.yaml"
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.OpsHTTPAddr == "" {
		cfg.OpsHTTPAddr = ":9090"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}

	return cfg, nil
}
