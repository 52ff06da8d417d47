package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL": "postgres://localhost:5432/properti_test",
		"REDIS_URL":    "redis://localhost:6379/1",
		"JWT_SECRET":   "test-secret",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)

	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, "ETB", cfg.CurrencyCode)
	require.Equal(t, 2, cfg.CurrencyDecimals)
	require.Equal(t, "INV", cfg.InvoicePrefix)
	require.Equal(t, 14, cfg.InvoiceDueInDays)
	require.Equal(t, 2*time.Minute, cfg.BulkUpdateLockTTL)
	require.Equal(t, 5, cfg.NotifyMaxAttempts)
	require.True(t, cfg.WebhookDeliveryEnabled)
	require.Equal(t, 24*time.Hour, cfg.WebhookReplayTTL)
	require.Equal(t, "properti", cfg.QueuePrefix)
	require.True(t, cfg.AuditEnabled)
	require.Equal(t, 1.0, cfg.AuditSamplingRate)
	require.Equal(t, 300, cfg.RateLimitRPM)
	require.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	require.Nil(t, cfg.NotifyEmailTopics)
}

func TestLoadRequiredFields(t *testing.T) {
	for _, missing := range []string{"DATABASE_URL", "REDIS_URL", "JWT_SECRET"} {
		env := baseEnv()
		env[missing] = ""
		_, err := LoadForTests(env)
		require.Error(t, err, missing)
		require.Contains(t, err.Error(), missing)
	}
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["PORT"] = "9090"
	env["CURRENCY_DECIMALS"] = "0"
	env["CORS_ALLOWED_ORIGINS"] = "https://app.properti.et, https://admin.properti.et"
	env["NOTIFY_EMAIL_TOPICS"] = "rent.bulk_applied,invoice.overdue"
	env["RATE_LIMIT_ENABLED"] = "off"
	env["WEBHOOK_BACKOFF_BASE_SEC"] = "10"

	cfg, err := LoadForTests(env)
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.Equal(t, 0, cfg.CurrencyDecimals)
	require.Equal(t, []string{"https://app.properti.et", "https://admin.properti.et"}, cfg.CORSAllowedOrigins)
	require.Equal(t, map[string]bool{"rent.bulk_applied": true, "invoice.overdue": true}, cfg.NotifyEmailTopics)
	require.False(t, cfg.RateLimitEnabled)
	require.Equal(t, 10, cfg.WebhookBackoffBaseSec)
}

func TestLoadRejectsOutOfRangeDecimals(t *testing.T) {
	env := baseEnv()
	env["CURRENCY_DECIMALS"] = "7"
	_, err := LoadForTests(env)
	require.Error(t, err)
	require.Contains(t, err.Error(), "CURRENCY_DECIMALS")
}

func TestParseDurationFallsBack(t *testing.T) {
	require.Equal(t, 2*time.Minute, parseDuration("garbage", "2m"))
	require.Equal(t, 45*time.Second, parseDuration("45s", "2m"))
}
