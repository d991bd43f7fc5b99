package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "jwt-secret", "password",
}

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	Port         int    `env:"PORT" envDefault:"8080"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	StoreBackend string `env:"STORE_BACKEND" envDefault:"memory"`
	RedisURL     string `env:"REDIS_URL"`
	DatabaseURL  string `env:"DATABASE_URL"`
	JWTSecret    string `env:"JWT_SECRET,required"`

	BackendURL            string `env:"BACKEND_URL"`
	BackendToken          string `env:"BACKEND_TOKEN"`
	BackendTimeoutSeconds int    `env:"BACKEND_TIMEOUT_SECONDS" envDefault:"30"`

	RateLimitPerMin       int  `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	QueueMaxSize          int  `env:"QUEUE_MAX_SIZE" envDefault:"100"`
	QueueTTLSeconds       int  `env:"QUEUE_TTL_SECONDS" envDefault:"86400"`
	OTPTTLSeconds         int  `env:"OTP_TTL_SECONDS" envDefault:"600"`
	OTPFallbackInResponse bool `env:"OTP_FALLBACK_IN_RESPONSE" envDefault:"false"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"no-reply@marketlens.local"`

	ConsumerSchedule  string `env:"CONSUMER_SCHEDULE" envDefault:"@every 5s"`
	ConsumerBatchSize int    `env:"CONSUMER_BATCH_SIZE" envDefault:"10"`

	// Only set behind a proxy that overwrites X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
}

func (c *Config) QueueTTL() time.Duration {
	return time.Duration(c.QueueTTLSeconds) * time.Second
}

func (c *Config) OTPTTL() time.Duration {
	return time.Duration(c.OTPTTLSeconds) * time.Second
}

func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// SMTPEnabled reports whether OTP codes can be delivered by email.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

func (c *Config) Validate(isProduction bool) error {
	switch c.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORE_BACKEND=redis")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, redis, postgres (got %q)", c.StoreBackend)
	}

	if c.QueueMaxSize <= 0 {
		return fmt.Errorf("QUEUE_MAX_SIZE must be positive")
	}

	if isProduction {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}
		if c.StoreBackend == StoreMemory {
			log.Warn().Msg("STORE_BACKEND=memory in production: sessions, codes and queues are lost on restart")
		}
		if c.OTPFallbackInResponse {
			log.Warn().Msg("OTP_FALLBACK_IN_RESPONSE is enabled in production: codes may be returned to callers when email delivery fails")
		}
		if !c.SMTPEnabled() {
			log.Warn().Msg("SMTP_HOST is empty in production: verification codes are only written to the log")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
