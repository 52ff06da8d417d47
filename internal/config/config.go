package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	CORSAllowedOrigins []string

	// Currency controls how money is rounded. Birr deployments run with
	// zero decimals, others typically with two.
	CurrencyCode     string
	CurrencyDecimals int

	// Billing defaults.
	DefaultVATRate   float64
	InvoicePrefix    string
	InvoiceDueInDays int

	// Bulk rent update guard rails.
	BulkUpdateLockTTL time.Duration

	// Notification delivery tunables.
	NotifyEmailEnabled bool
	NotifyEmailFrom    string
	NotifyEmailTopics  map[string]bool
	NotifyMaxAttempts  int
	NotifyTimeout      time.Duration

	// Outbound webhook dispatch.
	WebhookDeliveryEnabled  bool
	WebhookBackoffBaseSec   int
	WebhookReplayTTL        time.Duration
	WebhookAllowInsecureTLS bool
	EventWorkerConcurrency  int

	// Payment provider credentials.
	ChapaWebhookSecret     string
	TelebirrAppSecret      string
	PaymentReplayTTL       time.Duration
	PaymentIntentTTL       time.Duration
	PaymentCallbackBaseURL string

	AnalyticsCacheTTL     time.Duration
	AnalyticsDefaultRange int
	LedgerCacheTTL        time.Duration

	QueuePrefix   string
	QueueDedupTTL time.Duration

	AuditEnabled      bool
	AuditSamplingRate float64

	RateLimitEnabled bool
	RateLimitRPM     int

	AccessTokenTTL   time.Duration
	AccessCookieName string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		CurrencyCode:     valueOrDefault(k.String("CURRENCY_CODE"), "ETB"),
		CurrencyDecimals: parseInt(k.String("CURRENCY_DECIMALS"), 2),

		DefaultVATRate:   parseFloat(k.String("DEFAULT_VAT_RATE"), 15),
		InvoicePrefix:    valueOrDefault(k.String("INVOICE_PREFIX"), "INV"),
		InvoiceDueInDays: parseInt(k.String("INVOICE_DUE_IN_DAYS"), 14),

		BulkUpdateLockTTL: parseDuration(k.String("BULK_UPDATE_LOCK_TTL"), "2m"),

		NotifyEmailEnabled: parseBool(k.String("NOTIFY_EMAIL_ENABLED"), false),
		NotifyEmailFrom:    valueOrDefault(k.String("NOTIFY_EMAIL_FROM"), "no-reply@properti.local"),
		NotifyEmailTopics:  parseToggles(k.String("NOTIFY_EMAIL_TOPICS")),
		NotifyMaxAttempts:  parseInt(k.String("NOTIFY_MAX_ATTEMPTS"), 5),
		NotifyTimeout:      parseDuration(k.String("NOTIFY_TIMEOUT"), "10s"),

		WebhookDeliveryEnabled:  parseBool(k.String("WEBHOOK_DELIVERY_ENABLED"), true),
		WebhookBackoffBaseSec:   parseInt(k.String("WEBHOOK_BACKOFF_BASE_SEC"), 30),
		WebhookReplayTTL:        parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		WebhookAllowInsecureTLS: parseBool(k.String("WEBHOOK_ALLOW_INSECURE_TLS"), false),
		EventWorkerConcurrency:  parseInt(k.String("EVENT_WORKER_CONCURRENCY"), 1),

		ChapaWebhookSecret:     k.String("CHAPA_WEBHOOK_SECRET"),
		TelebirrAppSecret:      k.String("TELEBIRR_APP_SECRET"),
		PaymentReplayTTL:       parseDuration(k.String("PAYMENT_REPLAY_TTL"), "72h"),
		PaymentIntentTTL:       parseDuration(k.String("PAYMENT_INTENT_TTL"), "15m"),
		PaymentCallbackBaseURL: k.String("PAYMENT_CALLBACK_BASE_URL"),

		AnalyticsCacheTTL:     parseDuration(k.String("ANALYTICS_CACHE_TTL"), "5m"),
		AnalyticsDefaultRange: parseInt(k.String("ANALYTICS_DEFAULT_RANGE_DAYS"), 30),
		LedgerCacheTTL:        parseDuration(k.String("LEDGER_CACHE_TTL"), "5m"),

		QueuePrefix:   valueOrDefault(k.String("QUEUE_PREFIX"), "properti"),
		QueueDedupTTL: parseDuration(k.String("QUEUE_DEDUP_TTL"), "24h"),

		AuditEnabled:      parseBool(k.String("AUDIT_ENABLED"), true),
		AuditSamplingRate: parseFloat(k.String("AUDIT_SAMPLING_RATE"), 1),

		RateLimitEnabled: parseBool(k.String("RATE_LIMIT_ENABLED"), true),
		RateLimitRPM:     parseInt(k.String("RATE_LIMIT_RPM"), 300),

		AccessTokenTTL:   parseDuration(k.String("ACCESS_TOKEN_TTL"), "15m"),
		AccessCookieName: valueOrDefault(k.String("ACCESS_COOKIE_NAME"), "properti_access"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.CurrencyDecimals < 0 || cfg.CurrencyDecimals > 4 {
		return nil, fmt.Errorf("CURRENCY_DECIMALS out of range: %d", cfg.CurrencyDecimals)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	}
	return fallback
}

// parseToggles reads a comma separated list of topics into an enable map.
// An empty value means every topic is allowed.
func parseToggles(value string) map[string]bool {
	parts := splitAndTrim(value)
	if len(parts) == 0 {
		return nil
	}
	toggles := make(map[string]bool, len(parts))
	for _, part := range parts {
		toggles[part] = true
	}
	return toggles
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
