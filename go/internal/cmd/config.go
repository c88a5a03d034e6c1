package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/envelope-race/go/internal/race/gateway"
	"github.com/mcdev12/envelope-race/go/internal/race/orchestrator"
	"github.com/mcdev12/envelope-race/go/internal/race/outbox"
	"github.com/mcdev12/envelope-race/go/internal/race/session"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            string        `yaml:"port"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Race    orchestrator.Config      `yaml:"race"`
	Session SessionConfig            `yaml:"session"`
	Gateway gateway.ConnectionConfig `yaml:"gateway"`
	Outbox  OutboxConfig             `yaml:"outbox"`
}

type SessionConfig struct {
	Goal             int           `yaml:"goal"`
	MinInputInterval time.Duration `yaml:"min_input_interval"`
}

type OutboxConfig struct {
	// Enabled runs the relay; setting NATS_URL turns it on.
	Enabled bool `yaml:"enabled"`

	// LogOnly publishes to the log instead of JetStream
	LogOnly bool `yaml:"log_only"`

	FallbackInterval time.Duration          `yaml:"fallback_interval"`
	AlertThreshold   time.Duration          `yaml:"alert_threshold"`
	JetStream        outbox.JetStreamConfig `yaml:"jetstream"`
}

func defaultConfig() *Config {
	cfg := &Config{
		Race:    orchestrator.DefaultConfig(),
		Gateway: gateway.DefaultConnectionConfig(),
		Session: SessionConfig{
			Goal:             session.DefaultGoal,
			MinInputInterval: session.DefaultMinInputInterval,
		},
		Outbox: OutboxConfig{
			FallbackInterval: outbox.DefaultRelayConfig().FallbackInterval,
			AlertThreshold:   5 * time.Minute,
			JetStream:        outbox.DefaultJetStreamConfig(),
		},
	}
	cfg.Server.Port = "8080"
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Server.ShutdownTimeout = 10 * time.Second
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads path over the defaults. A missing file is not an error.
// Environment variables win over the file.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Server.Port = getEnv("PORT", config.Server.Port)
	if url := os.Getenv("NATS_URL"); url != "" {
		config.Outbox.JetStream.URL = url
		config.Outbox.Enabled = true
	}
	if d := getEnvAsInt("RACE_MIN_ELIGIBLE", 0); d > 0 {
		config.Race.MinEligible = d
	}
	if iv := os.Getenv("FALLBACK_INTERVAL"); iv != "" {
		if d, err := time.ParseDuration(iv); err == nil {
			config.Outbox.FallbackInterval = d
		}
	}

	return config, nil
}
