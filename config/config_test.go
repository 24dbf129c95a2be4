package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("BASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "usd", cfg.Currency)
	assert.Equal(t, 5*time.Second, cfg.NotifyTimeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "storefront", cfg.DB.Name)
	assert.False(t, cfg.Capabilities().Payments)
}

func TestLoad_FlatNames(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_abc")
	t.Setenv("RESEND_API_KEY", "re_xyz")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CURRENCY", " EUR ")
	t.Setenv("BASE_URL", "https://shop.example.com/")
	t.Setenv("NOTIFY_TIMEOUT", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sk_test_123", cfg.Stripe.SecretKey)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "eur", cfg.Currency)
	assert.Equal(t, "https://shop.example.com", cfg.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.NotifyTimeout)

	caps := cfg.Capabilities()
	assert.True(t, caps.Payments)
	assert.True(t, caps.Webhooks)
	assert.True(t, caps.Email)
	assert.False(t, caps.Assistant)
}

func TestDiagnose(t *testing.T) {
	cfg := Config{NotifyTimeout: time.Second}
	cfg.Stripe.SecretKey = "pk_wrong"
	cfg.Stripe.WebhookSecret = "whsec_ok"
	cfg.Stripe.PublishableKey = "pk_ok"
	cfg.Email.ResendAPIKey = "re_ok"
	cfg.AI.GeminiAPIKey = "key"
	cfg.Auth.JWTSecret = "secret"

	issues := cfg.Diagnose()
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "STRIPE_SECRET_KEY has invalid format")
	assert.NotContains(t, issues[0], "pk_wrong")

	assert.Len(t, Config{}.Diagnose(), 7)
}
