package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1, cfg.Tokens.ProposalCost)
	assert.Equal(t, 20, cfg.Tokens.MonthlyAmount)
	assert.Equal(t, 90, cfg.Strikes.ExpiryDays)
	assert.Equal(t, 5, cfg.Contracts.AutoReleaseOnSubmitDays)
	assert.Equal(t, 3, cfg.Contracts.AutoReleaseOnAcceptDays)
	assert.Equal(t, time.Hour, cfg.Maintenance.Interval)
	assert.NotEmpty(t, cfg.JWT.Secret, "development falls back to a dev secret")
}

func TestLoad_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_ProductionStripeWebhookSecret(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "prod-secret")
	t.Setenv("STRIPE_SECRET_KEY", "sk_live_x")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("API_PORT", "9999")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("WITHDRAWAL_FEE_RATE", "0.05")
	t.Setenv("MAINTENANCE_INTERVAL", "15m")
	t.Setenv("SMTP_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.Withdrawal.FeeRate.Equal(decimal.NewFromFloat(0.05)))
	assert.Equal(t, 15*time.Minute, cfg.Maintenance.Interval)
	assert.True(t, cfg.SMTP.Enabled)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("API_PORT", "not-a-number")
	t.Setenv("REDIS_ENABLED", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Redis.Enabled)
}
