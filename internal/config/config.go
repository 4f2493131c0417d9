package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Admin   AdminConfig   `mapstructure:"admin"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Cursor  CursorConfig  `mapstructure:"cursor"`
	Runner  RunnerConfig  `mapstructure:"runner"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type AdminConfig struct {
	Port int `mapstructure:"port"`
}

type SinkConfig struct {
	Type     string     `mapstructure:"type"`
	Buffer   int        `mapstructure:"buffer"`
	Overflow string     `mapstructure:"overflow"`
	NATS     NATSConfig `mapstructure:"nats"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type CursorConfig struct {
	Backend  string         `mapstructure:"backend"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type RunnerConfig struct {
	BackoffBase            time.Duration `mapstructure:"backoff_base"`
	BackoffMax             time.Duration `mapstructure:"backoff_max"`
	MaxAuthRetries         int           `mapstructure:"max_auth_retries"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("admin.port", 8095)
	v.SetDefault("sink.type", "channel")
	v.SetDefault("sink.buffer", 1000)
	v.SetDefault("sink.overflow", "block")
	v.SetDefault("sink.nats.url", "nats://localhost:4222")
	v.SetDefault("sink.nats.subject_prefix", "edase.events")
	v.SetDefault("sink.nats.timeout", "5s")
	v.SetDefault("cursor.backend", "memory")
	v.SetDefault("runner.backoff_base", "1s")
	v.SetDefault("runner.backoff_max", "2m")
	v.SetDefault("runner.max_auth_retries", 3)
	v.SetDefault("runner.max_consecutive_failures", 5)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/edase")
	}

	// Environment variables override (EDASE_SINK_TYPE, etc.)
	v.SetEnvPrefix("EDASE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Sink.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unknown sink type %q", c.Sink.Type)
	}
	switch c.Cursor.Backend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unknown cursor backend %q", c.Cursor.Backend)
	}
	if c.Cursor.Backend == "redis" && c.Cursor.Redis.URL == "" {
		return fmt.Errorf("cursor backend redis requires cursor.redis.url")
	}
	if c.Cursor.Backend == "postgres" && c.Cursor.Postgres.URL == "" {
		return fmt.Errorf("cursor backend postgres requires cursor.postgres.url")
	}
	return nil
}
