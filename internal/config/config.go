// Package config loads and validates Nexo's server configuration from
// environment variables (and an optional .env file), mirroring the
// caarlos0/env + godotenv pattern used throughout the stack.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every tunable of the broker process.
type Config struct {
	Host          string `env:"NEXO_HOST" envDefault:"0.0.0.0"`
	Port          int    `env:"NEXO_PORT" envDefault:"7777"`
	DashboardPort int    `env:"NEXO_DASHBOARD_PORT" envDefault:"7778"`

	MaxConnections int `env:"NEXO_MAX_CONNECTIONS" envDefault:"10000"`
	MaxGoroutines  int `env:"NEXO_MAX_GOROUTINES" envDefault:"20000"`

	WorkerCount    int `env:"NEXO_WORKER_COUNT" envDefault:"0"` // 0 => 2*NumCPU
	WorkerQueueSize int `env:"NEXO_WORKER_QUEUE_SIZE" envDefault:"0"` // 0 => WorkerCount*100

	CPURejectThreshold float64       `env:"NEXO_CPU_REJECT_THRESHOLD" envDefault:"85.0"`
	MetricsInterval    time.Duration `env:"NEXO_METRICS_INTERVAL" envDefault:"15s"`
	SweepInterval      time.Duration `env:"NEXO_SWEEP_INTERVAL" envDefault:"1s"`

	PendingRequestTimeout time.Duration `env:"NEXO_PENDING_REQUEST_TIMEOUT" envDefault:"30s"`

	LogLevel  string `env:"NEXO_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"NEXO_LOG_FORMAT" envDefault:"json"`

	KafkaBrokers string `env:"NEXO_KAFKA_BROKERS" envDefault:""`
	NATSURL      string `env:"NEXO_NATS_URL" envDefault:""`
}

// Load reads .env (if present) then environment variables, applying defaults
// and validating the result. Priority: env vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = defaultWorkerCount()
	}
	if cfg.WorkerQueueSize == 0 {
		cfg.WorkerQueueSize = cfg.WorkerCount * 100
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate rejects nonsensical values before the server starts accepting
// connections.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("NEXO_HOST is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("NEXO_PORT must be 1-65535, got %d", c.Port)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("NEXO_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("NEXO_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("NEXO_WORKER_COUNT must be > 0, got %d", c.WorkerCount)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("NEXO_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "text": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("NEXO_LOG_FORMAT must be one of: json, text, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// Addr is the listen address for the binary wire protocol.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DashboardAddr is the listen address for the read-only snapshot/metrics HTTP server.
func (c *Config) DashboardAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.DashboardPort)
}

// KafkaIngestEnabled reports whether the optional Kafka ingest bridge should start.
func (c *Config) KafkaIngestEnabled() bool {
	return c.KafkaBrokers != ""
}

// NATSBridgeEnabled reports whether the optional NATS bridge should start.
func (c *Config) NATSBridgeEnabled() bool {
	return c.NATSURL != ""
}

// LogConfig emits the loaded configuration as a structured log event.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("host", c.Host).
		Int("port", c.Port).
		Int("dashboard_port", c.DashboardPort).
		Int("max_connections", c.MaxConnections).
		Int("max_goroutines", c.MaxGoroutines).
		Int("worker_count", c.WorkerCount).
		Int("worker_queue_size", c.WorkerQueueSize).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Dur("metrics_interval", c.MetricsInterval).
		Dur("sweep_interval", c.SweepInterval).
		Dur("pending_request_timeout", c.PendingRequestTimeout).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Bool("kafka_ingest_enabled", c.KafkaIngestEnabled()).
		Bool("nats_bridge_enabled", c.NATSBridgeEnabled()).
		Msg("configuration loaded")
}
