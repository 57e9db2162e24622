package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML. Environment
// variables override file values.
type FileConfig struct {
	Port             string `yaml:"port"`
	DatabaseURL      string `yaml:"databaseURL"`
	LogLevel         string `yaml:"logLevel"`
	JWTSecret        string `yaml:"jwtSecret"`
	AMQPURL          string `yaml:"amqpURL"`
	EventExchange    string `yaml:"eventExchange"`
	RedisAddr        string `yaml:"redisAddr"`
	RedisPassword    string `yaml:"redisPassword"`
	RateLimit        int    `yaml:"rateLimit"`
	RateWindow       string `yaml:"rateWindow"`
	RequestMaxAge    string `yaml:"requestMaxAge"`
	SweepInterval    string `yaml:"sweepInterval"`
	TrustProxyHeader bool   `yaml:"trustProxyHeader"`
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
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("SHELFSHARE_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CATALOG_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit = n
		}
	}
	if v := os.Getenv("CATALOG_TRUST_PROXY"); v == "true" {
		cfg.TrustProxyHeader = true
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
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or SHELFSHARE_JWT_SECRET)")
	}
	return nil
}

// ParseDuration parses a duration field, returning fallback for "".
func ParseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: duration %q must be positive", raw)
	}
	return d, nil
}
