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

	// Optional readiness probes. Empty values disable the probe.
	DiskPath         string  `yaml:"diskPath"`
	DiskMaxPercent   float64 `yaml:"diskMaxPercent"`
	MemoryMaxPercent float64 `yaml:"memoryMaxPercent"`
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
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	if cfg.DiskMaxPercent <= 0 {
		cfg.DiskMaxPercent = 90
	}
	if cfg.MemoryMaxPercent <= 0 {
		cfg.MemoryMaxPercent = 90
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
	return nil
}
