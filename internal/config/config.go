package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBFile           string        `mapstructure:"db_file"`
	APIAddr          string        `mapstructure:"api_addr"`
	AdminAddr        string        `mapstructure:"admin_addr"`
	BaseURL          string        `mapstructure:"base_url"`
	TokenExpiry      time.Duration `mapstructure:"token_expiry"`
	LogLevel         string        `mapstructure:"log_level"`
	LogPretty        bool          `mapstructure:"log_pretty"`
	RedisAddr        string        `mapstructure:"redis_addr"`
	RedisPassword    string        `mapstructure:"redis_password"`
	RedisDB          int           `mapstructure:"redis_db"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	ReadLimit        int64         `mapstructure:"read_limit"`
	MaxMessageLength int           `mapstructure:"max_message_length"`
	HistorySize      int           `mapstructure:"history_size"`
}

// env maps config keys to their environment variable names.
var env = map[string]string{
	"db_file":            "NEXUS_DB",
	"api_addr":           "API_ADDR",
	"admin_addr":         "ADMIN_ADDR",
	"base_url":           "BASE_URL",
	"token_expiry":       "TOKEN_EXPIRY",
	"log_level":          "LOG_LEVEL",
	"log_pretty":         "LOG_PRETTY",
	"redis_addr":         "REDIS_ADDR",
	"redis_password":     "REDIS_PASSWORD",
	"redis_db":           "REDIS_DB",
	"send_buffer":        "SEND_BUFFER",
	"ping_period":        "PING_PERIOD",
	"read_limit":         "READ_LIMIT",
	"max_message_length": "MAX_MESSAGE_LENGTH",
	"history_size":       "HISTORY_SIZE",
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("db_file", "nexus.db")
	v.SetDefault("api_addr", ":3001")
	v.SetDefault("admin_addr", "localhost:3002")
	v.SetDefault("base_url", "http://localhost:3001")
	v.SetDefault("token_expiry", "24h")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("send_buffer", 64)
	v.SetDefault("ping_period", "25s")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("max_message_length", 4000)
	v.SetDefault("history_size", 100)

	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", name, err)
		}
	}

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBFile == "" {
		return fmt.Errorf("NEXUS_DB is required")
	}
	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}
	if c.PingPeriod <= 0 {
		return fmt.Errorf("PING_PERIOD must be greater than 0")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be greater than 0")
	}
	if c.ReadLimit <= 0 {
		return fmt.Errorf("READ_LIMIT must be greater than 0")
	}
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("MAX_MESSAGE_LENGTH must be greater than 0")
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("HISTORY_SIZE must be greater than 0")
	}
	return nil
}
