// config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Thoughts  ThoughtsConfig  `yaml:"thoughts"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

type StoreConfig struct {
	Type    string        `yaml:"type" envconfig:"STORE_TYPE"`
	Redis   RedisConfig   `yaml:"redis"`
	Breaker BreakerConfig `yaml:"breaker"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
}

type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled" envconfig:"BREAKER_ENABLED"`
	MaxFailures uint32        `yaml:"max_failures" envconfig:"BREAKER_MAX_FAILURES"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"BREAKER_TIMEOUT"`
}

type ThoughtsConfig struct {
	Lifetime      time.Duration `yaml:"lifetime" envconfig:"THOUGHT_LIFETIME"`
	MaxTextLength int           `yaml:"max_text_length" envconfig:"MAX_TEXT_LENGTH"`
	SweepInterval time.Duration `yaml:"sweep_interval" envconfig:"SWEEP_INTERVAL"`
	IDFormat      string        `yaml:"id_format" envconfig:"ID_FORMAT"`
	Seed          bool          `yaml:"seed" envconfig:"SEED"`
}

type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" envconfig:"RATE_LIMIT_ENABLED"`
	RequestsPerMin int  `yaml:"requests_per_min" envconfig:"RATE_LIMIT_REQUESTS"`
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Type: "memory",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				Password: "",
				DB:       0,
			},
			Breaker: BreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
			},
		},
		Thoughts: ThoughtsConfig{
			Lifetime:      15 * time.Second,
			MaxTextLength: 280,
			SweepInterval: 30 * time.Second,
			IDFormat:      "uuid",
			Seed:          true,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 120,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDotEnv copies variables from a .env file into the environment without
// overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading env file: %w", err)
	}
	return nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File not found is OK, use defaults
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// loadFromEnv only touches fields whose variable is set. Each field answers
// to its short name (PORT) and to its prefixed one (SERVER_PORT).
func (c *Config) loadFromEnv() error {
	if err := envconfig.Process("", c); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}

	if c.Store.Type != "memory" && c.Store.Type != "redis" {
		return fmt.Errorf("invalid store type: %s (must be 'memory' or 'redis')", c.Store.Type)
	}

	if c.Store.Type == "redis" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when store type is 'redis'")
	}

	if c.Store.Breaker.Enabled {
		if c.Store.Breaker.MaxFailures < 1 {
			return fmt.Errorf("breaker max_failures must be at least 1")
		}
		if c.Store.Breaker.Timeout <= 0 {
			return fmt.Errorf("breaker timeout must be positive")
		}
	}

	if c.Thoughts.Lifetime <= 0 {
		return fmt.Errorf("lifetime must be positive")
	}

	if c.Thoughts.MaxTextLength < 0 {
		return fmt.Errorf("max_text_length must not be negative")
	}

	if c.Thoughts.SweepInterval < 0 {
		return fmt.Errorf("sweep_interval must not be negative")
	}

	if c.Thoughts.IDFormat != "uuid" && c.Thoughts.IDFormat != "short" {
		return fmt.Errorf("invalid id format: %s (must be 'uuid' or 'short')", c.Thoughts.IDFormat)
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMin < 1 {
		return fmt.Errorf("requests_per_min must be at least 1")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be 'json' or 'console')", c.Log.Format)
	}

	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
