package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"logLevel"`

	// Upstream service base URLs.
	AuthBaseURL string `yaml:"authBaseUrl"`
	BlogBaseURL string `yaml:"blogBaseUrl"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AUTH_BASE_URL"); v != "" {
		cfg.AuthBaseURL = v
	}
	if v := os.Getenv("BLOG_BASE_URL"); v != "" {
		cfg.BlogBaseURL = v
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch strings.ToLower(cfg.Environment) {
	case "development", "testing", "production":
	default:
		return fmt.Errorf("config: unknown environment %q", cfg.Environment)
	}
	if cfg.AuthBaseURL == "" {
		return errors.New("config: authBaseUrl is required")
	}
	if cfg.BlogBaseURL == "" {
		return errors.New("config: blogBaseUrl is required")
	}
	return nil
}
