// Package config loads service configuration from the environment and derives
// the feature capabilities the rest of the service is allowed to rely on.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPAddr          string `envconfig:"HTTP_ADDR" default:":8080"`
	GRPCAddr          string `envconfig:"GRPC_ADDR" default:":50051"`
	BaseURL           string `envconfig:"BASE_URL" default:"http://localhost:5173"`
	Currency          string `envconfig:"CURRENCY" default:"usd"`
	CORSAllowedOrigin string `envconfig:"CORS_ALLOWED_ORIGIN" default:"*"`

	Stripe StripeConfig `ignored:"true"`
	Email  EmailConfig  `ignored:"true"`
	AI     AIConfig     `ignored:"true"`
	Auth   AuthConfig   `ignored:"true"`
	DB     DBConfig     `ignored:"true"`
	Redis  RedisConfig  `ignored:"true"`
	Kafka  KafkaConfig  `ignored:"true"`

	NotifyTimeout   time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"5s"`
	CheckoutTimeout time.Duration `envconfig:"CHECKOUT_TIMEOUT" default:"15s"`
	JaegerEndpoint  string        `envconfig:"JAEGER_ENDPOINT" default:"http://localhost:14268/api/traces"`
}

type StripeConfig struct {
	SecretKey      string `envconfig:"STRIPE_SECRET_KEY"`
	WebhookSecret  string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	PublishableKey string `envconfig:"STRIPE_PUBLISHABLE_KEY"`
}

type EmailConfig struct {
	ResendAPIKey string `envconfig:"RESEND_API_KEY"`
	From         string `envconfig:"EMAIL_FROM" default:"MindCraft <onboarding@resend.dev>"`
}

type AIConfig struct {
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`
	Model        string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
}

type AuthConfig struct {
	JWTSecret string `envconfig:"AUTH_JWT_SECRET"`
}

type DBConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:"postgres"`
	Name     string `envconfig:"DB_NAME" default:"storefront"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
}

// DSN returns a lib/pq connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host            string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port            string        `envconfig:"REDIS_PORT" default:"6379"`
	Password        string        `envconfig:"REDIS_PASSWORD"`
	CartTTL         time.Duration `envconfig:"CART_TTL" default:"168h"`
	HistoryCacheTTL time.Duration `envconfig:"HISTORY_CACHE_TTL" default:"30s"`
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	Topic   string   `envconfig:"KAFKA_TOPIC" default:"purchase_events"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"storefront"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	// Sections are processed one by one so their variables keep flat names
	// (STRIPE_SECRET_KEY rather than STRIPE_STRIPE_SECRET_KEY).
	sections := []any{&cfg, &cfg.Stripe, &cfg.Email, &cfg.AI, &cfg.Auth, &cfg.DB, &cfg.Redis, &cfg.Kafka}
	for _, section := range sections {
		if err := envconfig.Process("", section); err != nil {
			return Config{}, fmt.Errorf("failed to process environment: %w", err)
		}
	}
	cfg.Currency = strings.ToLower(strings.TrimSpace(cfg.Currency))
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return cfg, nil
}

// Capabilities is computed once at startup; components receive the flag that
// gates them instead of checking the environment themselves.
type Capabilities struct {
	Payments  bool `json:"payments"`
	Webhooks  bool `json:"webhooks"`
	Email     bool `json:"email"`
	Assistant bool `json:"assistant"`
	Auth      bool `json:"auth"`
}

func (c Config) Capabilities() Capabilities {
	return Capabilities{
		Payments:  strings.TrimSpace(c.Stripe.SecretKey) != "",
		Webhooks:  strings.TrimSpace(c.Stripe.WebhookSecret) != "",
		Email:     strings.TrimSpace(c.Email.ResendAPIKey) != "",
		Assistant: strings.TrimSpace(c.AI.GeminiAPIKey) != "",
		Auth:      strings.TrimSpace(c.Auth.JWTSecret) != "",
	}
}

type keyCheck struct {
	name   string
	value  string
	prefix string
}

// Diagnose lists configuration problems without echoing any secret material.
func (c Config) Diagnose() []string {
	checks := []keyCheck{
		{"STRIPE_SECRET_KEY", c.Stripe.SecretKey, "sk_"},
		{"STRIPE_WEBHOOK_SECRET", c.Stripe.WebhookSecret, "whsec_"},
		{"STRIPE_PUBLISHABLE_KEY", c.Stripe.PublishableKey, "pk_"},
		{"RESEND_API_KEY", c.Email.ResendAPIKey, "re_"},
		{"GEMINI_API_KEY", c.AI.GeminiAPIKey, ""},
		{"AUTH_JWT_SECRET", c.Auth.JWTSecret, ""},
	}

	var issues []string
	for _, chk := range checks {
		v := strings.TrimSpace(chk.value)
		switch {
		case v == "":
			issues = append(issues, chk.name+" is missing")
		case chk.prefix != "" && !strings.HasPrefix(v, chk.prefix):
			issues = append(issues, fmt.Sprintf("%s has invalid format (should start with %s)", chk.name, chk.prefix))
		}
	}
	if c.NotifyTimeout <= 0 {
		issues = append(issues, "NOTIFY_TIMEOUT must be positive")
	}
	return issues
}
