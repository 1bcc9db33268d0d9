package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends selectable through STORE_BACKEND.
const (
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

type Config struct {
	RunLocal bool
	Server   ServerConfig
	AWS      AWSConfig
	Store    StoreConfig
	Paystack PaystackConfig
	Download DownloadConfig
	Fulfill  FulfillmentConfig
	Admin    AdminConfig
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RateLimitRPS   int
	RateLimitBurst int
}

type AWSConfig struct {
	Region           string
	EndpointOverride string
	MetricsNamespace string
}

type StoreConfig struct {
	Backend             string
	OrdersTable         string
	BooksTable          string
	CustomersTable      string
	IdempotencyTable    string
	CustomersEmailIndex string
	MaxRetries          int
	IdempotencyTTL      time.Duration
	SeedBooksFile       string // memory backend only
}

type PaystackConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	CallbackURL   string
	Timeout       time.Duration
}

type DownloadConfig struct {
	TokenSecret   string
	PublicBaseURL string
	Bucket        string
	PresignTTL    time.Duration
}

type FulfillmentConfig struct {
	QueueURL string
	MailFrom string
}

type AdminConfig struct {
	APIToken string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	godotenv.Load()

	secretKey := getEnv("PAYSTACK_SECRET_KEY", "")
	cfg := &Config{
		RunLocal: getEnvBool("RUN_LOCAL", false),
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			RateLimitRPS:   getEnvInt("RATE_LIMIT_RPS", 10),
			RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),
		},
		AWS: AWSConfig{
			Region:           getEnv("AWS_REGION", "us-east-1"),
			EndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
			MetricsNamespace: getEnv("METRICS_NAMESPACE", "Bookstore/Orders"),
		},
		Store: StoreConfig{
			Backend:             strings.ToLower(getEnv("STORE_BACKEND", BackendDynamoDB)),
			OrdersTable:         getEnv("ORDERS_TABLE", "orders"),
			BooksTable:          getEnv("BOOKS_TABLE", "books"),
			CustomersTable:      getEnv("CUSTOMERS_TABLE", "customers"),
			IdempotencyTable:    getEnv("IDEMPOTENCY_TABLE", "idempotency"),
			CustomersEmailIndex: getEnv("CUSTOMERS_EMAIL_INDEX", "email-index"),
			MaxRetries:          getEnvInt("STORE_MAX_RETRIES", 5),
			IdempotencyTTL:      getEnvDuration("IDEMPOTENCY_TTL", 48*time.Hour),
			SeedBooksFile:       getEnv("SEED_BOOKS_FILE", ""),
		},
		Paystack: PaystackConfig{
			SecretKey:     secretKey,
			WebhookSecret: getEnv("PAYSTACK_WEBHOOK_SECRET", secretKey),
			BaseURL:       getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			CallbackURL:   getEnv("PAYSTACK_CALLBACK_URL", ""),
			Timeout:       getEnvDuration("PAYSTACK_TIMEOUT", 15*time.Second),
		},
		Download: DownloadConfig{
			TokenSecret:   getEnv("DOWNLOAD_TOKEN_SECRET", ""),
			PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
			Bucket:        getEnv("DOWNLOADS_BUCKET", ""),
			PresignTTL:    getEnvDuration("DOWNLOAD_PRESIGN_TTL", 15*time.Minute),
		},
		Fulfill: FulfillmentConfig{
			QueueURL: getEnv("FULFILLMENT_QUEUE_URL", ""),
			MailFrom: getEnv("MAIL_FROM", ""),
		},
		Admin: AdminConfig{
			APIToken: getEnv("ADMIN_API_TOKEN", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Paystack.SecretKey == "" {
		errs = append(errs, errors.New("PAYSTACK_SECRET_KEY is required"))
	}
	if c.Paystack.WebhookSecret == "" {
		errs = append(errs, errors.New("PAYSTACK_WEBHOOK_SECRET is required"))
	}
	if c.Download.TokenSecret == "" {
		errs = append(errs, errors.New("DOWNLOAD_TOKEN_SECRET is required"))
	}
	if c.Download.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	}
	switch c.Store.Backend {
	case BackendDynamoDB, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		slog.Warn("invalid integer in environment, using default", "key", key)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		slog.Warn("invalid boolean in environment, using default", "key", key)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		slog.Warn("invalid duration in environment, using default", "key", key)
	}
	return defaultValue
}
