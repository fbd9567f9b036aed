package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN     string `env:"DATABASE_DSN,required=true"`
	DBMaxOpenConns  int    `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns  int    `env:"DB_MAX_IDLE_CONNS,default=5"`
	RabbitMQURL     string `env:"RABBITMQ_URL,required=true"`
	RedisURL        string `env:"REDIS_URL,required=true"`
	RateLimitPerSec int    `env:"RATE_LIMIT_PER_SEC,default=100"`

	RecoverySchedule   string `env:"RECOVERY_SCHEDULE"`
	DefaultChannel     string `env:"DEFAULT_CHANNEL,default=whatsapp"`
	DefaultCountryCode string `env:"DEFAULT_COUNTRY_CODE,default=91"`

	GupshupAPIKey     string `env:"GUPSHUP_API_KEY"`
	GupshupAppName    string `env:"GUPSHUP_APP_NAME"`
	GupshupEndpoint   string `env:"GUPSHUP_ENDPOINT,default=https://api.gupshup.io/sm/api/v1/msg"`
	EmailRelayURL     string `env:"EMAIL_RELAY_URL"`
	ChannelTimeoutSec int    `env:"CHANNEL_TIMEOUT_SEC,default=10"`

	WorkerConcurrency    int `env:"WORKER_CONCURRENCY,default=16"`
	SignalConcurrency    int `env:"SIGNAL_CONCURRENCY,default=4"`
	ReconcileIntervalSec int `env:"RECONCILE_INTERVAL_SEC,default=60"`
	ShutdownTimeoutSec   int `env:"SHUTDOWN_TIMEOUT_SEC,default=15"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) ChannelTimeout() time.Duration {
	return seconds(c.ChannelTimeoutSec, 10)
}

func (c *Config) ReconcileInterval() time.Duration {
	return seconds(c.ReconcileIntervalSec, 60)
}

func (c *Config) ShutdownTimeout() time.Duration {
	return seconds(c.ShutdownTimeoutSec, 15)
}

func seconds(v int, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}
