package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"logLevel"`

	JWTSecret       string        `yaml:"jwtSecret"`
	AccessTokenTTL  time.Duration `yaml:"accessTokenTtl"`
	RefreshTokenTTL time.Duration `yaml:"refreshTokenTtl"`

	// DatabaseURL empty falls back to the in-memory store (local runs, tests).
	DatabaseURL string `yaml:"databaseUrl"`

	// RedisAddr empty falls back to in-process token blacklist, refresh
	// store and login limiter.
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	LoginRateLimit  int           `yaml:"loginRateLimit"`
	LoginRateWindow time.Duration `yaml:"loginRateWindow"`

	TrustedProxies []string `yaml:"trustedProxies"`
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
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if cfg.LoginRateLimit <= 0 {
		cfg.LoginRateLimit = 10
	}
	if cfg.LoginRateWindow <= 0 {
		cfg.LoginRateWindow = time.Minute
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
	if len(strings.TrimSpace(cfg.JWTSecret)) < 16 {
		return errors.New("config: jwtSecret must be at least 16 characters")
	}
	switch strings.ToLower(cfg.Environment) {
	case "development", "testing", "production":
	default:
		return fmt.Errorf("config: unknown environment %q", cfg.Environment)
	}
	if strings.EqualFold(cfg.Environment, "production") {
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseUrl is required in production")
		}
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required in production")
		}
	}
	return nil
}
