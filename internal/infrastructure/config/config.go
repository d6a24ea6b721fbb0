package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all gateway configuration.
type Config struct {
	Server    ServerConfig
	Apps      AppsConfig
	Process   ProcessConfig
	Protocol  ProtocolConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP/WebSocket listener configuration.
type ServerConfig struct {
	Port int    `envconfig:"PREVIEWD_PORT" default:"7420"`
	Host string `envconfig:"PREVIEWD_HOST" default:"127.0.0.1"`
}

// AppsConfig holds app catalog configuration.
type AppsConfig struct {
	Dir    string `envconfig:"PREVIEWD_APPS_DIR" default:"./apps"`
	SDKDir string `envconfig:"PREVIEWD_SDK_DIR" default:"./sdk/dist"`
}

// ProcessConfig holds process supervisor configuration.
type ProcessConfig struct {
	ReadyInterval time.Duration `envconfig:"PREVIEWD_READY_INTERVAL" default:"500ms"`
	ReadyTimeout  time.Duration `envconfig:"PREVIEWD_READY_TIMEOUT" default:"30s"`
	StopGrace     time.Duration `envconfig:"PREVIEWD_STOP_GRACE" default:"5s"`
}

// ProtocolConfig holds protocol gateway configuration.
type ProtocolConfig struct {
	ExecuteTimeout time.Duration `envconfig:"PREVIEWD_EXECUTE_TIMEOUT" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"PREVIEWD_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"PREVIEWD_LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration for the control API.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"PREVIEWD_RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"PREVIEWD_RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"PREVIEWD_RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 7420,
			Host: "127.0.0.1",
		},
		Apps: AppsConfig{
			Dir:    "./apps",
			SDKDir: "./sdk/dist",
		},
		Process: ProcessConfig{
			ReadyInterval: 500 * time.Millisecond,
			ReadyTimeout:  30 * time.Second,
			StopGrace:     5 * time.Second,
		},
		Protocol: ProtocolConfig{
			ExecuteTimeout: 30 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
