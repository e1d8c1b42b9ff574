package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models farehop.yml.
type Config struct {
	Remote struct {
		BaseURL string `yaml:"base_url"`
		Token   string `yaml:"token"`
	} `yaml:"remote"`
	Fare struct {
		Base    int `yaml:"base"`
		PerStop int `yaml:"per_stop"`
	} `yaml:"fare"`
	Ticket struct {
		Validity time.Duration `yaml:"validity"`
	} `yaml:"ticket"`
	Sync struct {
		PollInterval time.Duration `yaml:"poll_interval"`
	} `yaml:"sync"`
	Assist struct {
		Endpoint string `yaml:"endpoint"`
		APIKey   string `yaml:"api_key"`
		Model    string `yaml:"model"`
	} `yaml:"assist"`
	Server struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
}

// Load reads config from the workspace, falling back to defaults for any
// field left unset.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	if c.Fare.Base < 0 || c.Fare.PerStop < 0 {
		return fmt.Errorf("config.fare values must not be negative")
	}
	if c.Ticket.Validity <= 0 {
		return fmt.Errorf("config.ticket.validity must be positive")
	}
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("config.sync.poll_interval must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "farehop.yml")
}

// Default returns the built-in configuration. Fare constants and the ticket
// validity window match the production tariff.
func Default() *Config {
	var cfg Config
	cfg.Fare.Base = 10
	cfg.Fare.PerStop = 2
	cfg.Ticket.Validity = 3 * time.Hour
	cfg.Sync.PollInterval = 15 * time.Second
	cfg.Assist.Endpoint = "https://api.groq.com/openai/v1/chat/completions"
	cfg.Assist.Model = "moonshotai/kimi-k2-instruct-0905"
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Unset fields take
// their defaults.
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}
