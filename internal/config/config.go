// Package config loads runtime settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	APIBaseURL   string `mapstructure:"API_BASE_URL"`
	APIToken     string `mapstructure:"API_TOKEN"`
	DataDir      string `mapstructure:"DATA_DIR"`
	SyncInterval int    `mapstructure:"SYNC_INTERVAL_SECONDS"`
	BatchSize    int    `mapstructure:"SYNC_BATCH_SIZE"`
	MaxRetries   int    `mapstructure:"SYNC_MAX_RETRIES"`
	WSPort       string `mapstructure:"WS_PORT"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("API_BASE_URL", "http://localhost:8080/api")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("SYNC_INTERVAL_SECONDS", 30)
	v.SetDefault("SYNC_BATCH_SIZE", 50)
	v.SetDefault("SYNC_MAX_RETRIES", 3)
	v.SetDefault("WS_PORT", "8090")
	v.SetDefault("LOG_LEVEL", "info")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("API_BASE_URL")
	v.BindEnv("API_TOKEN")
	v.BindEnv("DATA_DIR")
	v.BindEnv("SYNC_INTERVAL_SECONDS")
	v.BindEnv("SYNC_BATCH_SIZE")
	v.BindEnv("SYNC_MAX_RETRIES")
	v.BindEnv("WS_PORT")
	v.BindEnv("LOG_LEVEL")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL is required")
	}
	if cfg.SyncInterval < 1 {
		return nil, fmt.Errorf("SYNC_INTERVAL_SECONDS must be positive")
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("SYNC_BATCH_SIZE must be positive")
	}

	return cfg, nil
}

// Interval returns the auto-sync cadence as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.SyncInterval) * time.Second
}
