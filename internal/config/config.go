package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN         string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL         string `env:"RABBITMQ_URL,required=true"`
	RedisURL            string `env:"REDIS_URL,required=true"`
	RelayBaseURL        string `env:"RELAY_BASE_URL,required=true"`
	RelayInternalSecret string `env:"RELAY_INTERNAL_SECRET,required=true"`
	MessagingWebhookURL string `env:"MESSAGING_WEBHOOK_URL,required=true"`
	RedeemBaseURL       string `env:"REDEEM_BASE_URL,default=http://localhost:8080"`

	SendRatePerSec      int `env:"SEND_RATE_PER_SEC,default=20"`
	WorkerConcurrency   int `env:"WORKER_CONCURRENCY,default=16"`
	WorkerPrefetch      int `env:"WORKER_PREFETCH,default=4"`
	MaxDeliveryAttempts int `env:"MAX_DELIVERY_ATTEMPTS,default=5"`
	MaxRowsPerJob       int `env:"MAX_ROWS_PER_JOB,default=5000"`

	RelayBufferSize int `env:"RELAY_BUFFER_SIZE,default=1024"`
	RelayRatePerSec int `env:"RELAY_RATE_PER_SEC,default=50"`
	RelayTimeoutSec int `env:"RELAY_TIMEOUT_SEC,default=5"`

	FlagRefreshIntervalSec int `env:"FLAG_REFRESH_INTERVAL_SEC,default=60"`
	StaleJobTimeoutMin     int `env:"STALE_JOB_TIMEOUT_MIN,default=0"`
	ReconcileIntervalSec   int `env:"RECONCILE_INTERVAL_SEC,default=300"`

	APIPort           int    `env:"API_PORT,default=8080"`
	WorkerMetricsPort int    `env:"WORKER_METRICS_PORT,default=9090"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.WorkerConcurrency < 1:
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.WorkerConcurrency)
	case c.MaxDeliveryAttempts < 1:
		return fmt.Errorf("MAX_DELIVERY_ATTEMPTS must be positive, got %d", c.MaxDeliveryAttempts)
	case c.MaxRowsPerJob < 1:
		return fmt.Errorf("MAX_ROWS_PER_JOB must be positive, got %d", c.MaxRowsPerJob)
	case c.StaleJobTimeoutMin < 0:
		return fmt.Errorf("STALE_JOB_TIMEOUT_MIN must not be negative, got %d", c.StaleJobTimeoutMin)
	}
	return nil
}

func (c *Config) RelayTimeout() time.Duration {
	return time.Duration(c.RelayTimeoutSec) * time.Second
}

func (c *Config) FlagRefreshInterval() time.Duration {
	return time.Duration(c.FlagRefreshIntervalSec) * time.Second
}

// StaleJobTimeout is zero when the reconciler is disabled.
func (c *Config) StaleJobTimeout() time.Duration {
	return time.Duration(c.StaleJobTimeoutMin) * time.Minute
}

func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSec) * time.Second
}
