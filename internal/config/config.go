// Package config loads the node's runtime configuration from environment
// variables, optionally preloaded from a .env file, applies defaults, and
// validates the result (spec §9, "Config surface").
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the node's full runtime configuration.
type Config struct {
	BindAddr string
	APIBase  string
	NodeName string
	Contact  string

	// DBPath is a PostgreSQL connection string. Empty selects the ephemeral
	// in-memory backend.
	DBPath string

	SyncInterval        time.Duration
	BootstrapPeers      []string
	MaxPeers            int
	RateLimitPerMinute  int
	ReputationVoteSigma float64

	RedisURL string
	NATSURL  string

	LogLevel string
}

// defaults returns a Config with sane default values for all fields.
func defaults() Config {
	return Config{
		BindAddr:            ":8765",
		APIBase:             "http://localhost:8765",
		NodeName:            "semanticweft-node",
		SyncInterval:        60 * time.Second,
		MaxPeers:            50,
		RateLimitPerMinute:  120,
		ReputationVoteSigma: 1.0,
		LogLevel:            "info",
	}
}

// Load reads configuration from the environment, preloading envFilePath with
// godotenv first if it is non-empty. A missing .env file is not an error —
// the node runs fine from ambient environment variables alone.
func Load(envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: loading %s: %w", envFilePath, err)
		}
	}

	cfg := defaults()
	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides overrides cfg fields with SWEFT_-prefixed environment
// variables when set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SWEFT_BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("SWEFT_API_BASE"); v != "" {
		cfg.APIBase = v
	}
	if v := os.Getenv("SWEFT_NODE_NAME"); v != "" {
		cfg.NodeName = v
	}
	if v := os.Getenv("SWEFT_CONTACT"); v != "" {
		cfg.Contact = v
	}
	if v := os.Getenv("SWEFT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SWEFT_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SyncInterval = d
		}
	}
	if v := os.Getenv("SWEFT_BOOTSTRAP_PEERS"); v != "" {
		cfg.BootstrapPeers = splitAndTrim(v)
	}
	if v := os.Getenv("SWEFT_MAX_PEERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPeers = n
		}
	}
	if v := os.Getenv("SWEFT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("SWEFT_REPUTATION_VOTE_SIGMA_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ReputationVoteSigma = f
		}
	}
	if v := os.Getenv("SWEFT_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("SWEFT_NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("SWEFT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validate checks that required configuration fields are present and valid.
func validate(cfg *Config) error {
	if cfg.BindAddr == "" {
		return fmt.Errorf("config: SWEFT_BIND_ADDR must not be empty")
	}
	if cfg.APIBase == "" {
		return fmt.Errorf("config: SWEFT_API_BASE must not be empty")
	}
	if cfg.MaxPeers < 0 {
		return fmt.Errorf("config: SWEFT_MAX_PEERS must not be negative")
	}
	if cfg.RateLimitPerMinute < 0 {
		return fmt.Errorf("config: SWEFT_RATE_LIMIT_PER_MINUTE must not be negative")
	}
	if cfg.ReputationVoteSigma < 0 {
		return fmt.Errorf("config: SWEFT_REPUTATION_VOTE_SIGMA_FACTOR must not be negative")
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("config: SWEFT_LOG_LEVEL must be one of: debug, info, warn, error (got %q)", cfg.LogLevel)
	}
	return nil
}
