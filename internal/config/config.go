// Package config loads the engine's process configuration: a YAML file
// with environment-variable overrides and typed defaults applied after
// parse, in the same shape the rest of the pack uses for service config.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the campaign engine process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Registry  RegistryConfig  `yaml:"registry"`
}

// ServerConfig holds HTTP listener and environment settings.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	LogLevel    string `yaml:"log_level"`
	Environment string `yaml:"environment"` // "development" relaxes sanitized error bodies
}

// RateLimitConfig holds the Redis URL backing the HTTP-boundary rate
// limiter. Empty RedisURL falls back to the in-memory limiter.
type RateLimitConfig struct {
	RedisURL string `yaml:"redis_url"`
}

// RegistryConfig holds the campaign registry's tunables.
type RegistryConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// Load reads and parses the configuration file at path, filling in
// documented defaults for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = "production"
	}
	if cfg.Registry.MaxConcurrent == 0 {
		cfg.Registry.MaxConcurrent = 3
	}
}

// LoadFromEnv loads the YAML file at path, then applies environment
// variable overrides. It loads a .env file first (no error if missing) so
// secrets can live there locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, convErr := strconv.Atoi(v); convErr == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("NODE_ENV"); v != "" {
		cfg.Server.Environment = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RateLimit.RedisURL = v
	}

	return cfg, nil
}
