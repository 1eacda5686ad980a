// Package config содержит логику чтения конфигурации сервиса продажи eSIM.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	DatabaseURI     string `env:"DATABASE_URI"`
	ProviderAddress string `env:"PROVIDER_ADDRESS"`
	PaymentAddress  string `env:"PAYMENT_ADDRESS"`
	PublicBaseURL   string `env:"PUBLIC_BASE_URL"`

	ProviderAPIKey string `env:"PROVIDER_API_KEY"`
	WebhookSecret  string `env:"WEBHOOK_SECRET"`
	TrackingSecret string `env:"TRACKING_SECRET"`

	TrackingLinkTTL time.Duration `env:"TRACKING_LINK_TTL" envDefault:"24h"`
	TrackRateLimit  int           `env:"TRACK_RATE_LIMIT" envDefault:"5"`
	TrackRateWindow time.Duration `env:"TRACK_RATE_WINDOW" envDefault:"15m"`

	VATRate string `env:"VAT_RATE" envDefault:"0"`

	ProvisionInterval    time.Duration `env:"PROVISION_INTERVAL" envDefault:"2s"`
	ProvisionMaxAttempts int           `env:"PROVISION_MAX_ATTEMPTS" envDefault:"5"`

	SMTP SMTPConfig

	RedisAddr      string   `env:"REDIS_ADDR"`
	KafkaBrokers   []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic     string   `env:"KAFKA_TOPIC" envDefault:"order-status"`
	JaegerEndpoint string   `env:"JAEGER_ENDPOINT"`
}

// SMTPConfig содержит параметры отправки писем.
type SMTPConfig struct {
	Server   string `env:"SMTP_SERVER"`
	Port     string `env:"SMTP_PORT" envDefault:"587"`
	User     string `env:"SMTP_USER"`
	Password string `env:"SMTP_PASS"`
	FromAddr string `env:"FROM_ADDR"`
	FromName string `env:"FROM_NAME" envDefault:"eSIM Store"`
}

// Enabled сообщает, хватает ли параметров для отправки писем.
func (c SMTPConfig) Enabled() bool {
	return c.Server != "" && c.FromAddr != ""
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envProviderAddress := cfg.ProviderAddress
	envPaymentAddress := cfg.PaymentAddress
	envPublicBaseURL := cfg.PublicBaseURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.ProviderAddress, "p", "", "esim provider address")
	flag.StringVar(&cfg.PaymentAddress, "g", "", "payment gateway address")
	flag.StringVar(&cfg.PublicBaseURL, "b", "", "public base URL used in emailed links")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envProviderAddress != "" {
		cfg.ProviderAddress = envProviderAddress
	}
	if envPaymentAddress != "" {
		cfg.PaymentAddress = envPaymentAddress
	}
	if envPublicBaseURL != "" {
		cfg.PublicBaseURL = envPublicBaseURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "http://" + cfg.RunAddress
	}

	return cfg, nil
}
