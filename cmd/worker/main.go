package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-properti/internal/config"
	"github.com/noah-isme/backend-properti/internal/db"
	"github.com/noah-isme/backend-properti/internal/lock"
	"github.com/noah-isme/backend-properti/internal/notify"
	"github.com/noah-isme/backend-properti/internal/obs"
	"github.com/noah-isme/backend-properti/internal/queue"
	"github.com/noah-isme/backend-properti/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, "properti-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("open database pool")
	}
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	notifyStore := notify.NewStore(pool)
	taskQueue := queue.Enqueuer{R: redisClient, Prefix: cfg.QueuePrefix, DedupTTL: cfg.QueueDedupTTL}
	dispatcher := &notify.Dispatcher{
		Store: notifyStore,
		HTTP: &resilience.HTTPClient{
			Client:      notify.HTTPClient(int(cfg.NotifyTimeout/time.Millisecond), cfg.WebhookAllowInsecureTLS),
			Breaker:     resilience.NewBreaker(envInt("CIRCUIT_WEBHOOK_MIN_REQ", 10), envFloat("CIRCUIT_WEBHOOK_FAILURE_RATE", 0.5), envDuration("CIRCUIT_WEBHOOK_OPEN_FOR", 30*time.Second)).WithTarget("webhook-delivery").WithLogger(logger),
			BaseBackoff: envDuration("RETRY_BASE", 200*time.Millisecond),
			MaxAttempts: envInt("RETRY_MAX_ATTEMPTS", 3),
			Jitter:      envFloat("RETRY_JITTER_PERCENT", 0.2),
			Timeout:     cfg.NotifyTimeout,
		},
		Queue:              taskQueue,
		BackoffBaseSec:     cfg.WebhookBackoffBaseSec,
		DefaultMaxAttempts: cfg.NotifyMaxAttempts,
		Enabled:            cfg.WebhookDeliveryEnabled,
		Replay:             notify.RedisReplayProtector{Client: redisClient},
		ReplayTTL:          cfg.WebhookReplayTTL,
	}

	deliveryWorker := notify.DeliveryWorker{
		Dispatcher: dispatcher,
		Locker:     lock.Locker{R: redisClient, RetryBackoff: envDuration("LOCK_RETRY_BACKOFF", 100*time.Millisecond)},
		LockTTL:    envDuration("LOCK_TTL", 30*time.Second),
	}

	dispatchQueueWorker := queue.Worker{
		R:                 redisClient,
		Prefix:            cfg.QueuePrefix,
		Kind:              notify.DispatchTask(),
		Concurrency:       envInt("QUEUE_CONCURRENCY_DISPATCH", 4),
		VisibilityTimeout: envDuration("QUEUE_VISIBILITY_TIMEOUT", time.Minute),
		RetryBase:         envDuration("QUEUE_BACKOFF_BASE", 5*time.Second),
		RetryJitter:       envFloat("QUEUE_BACKOFF_JITTER", 0.2),
		Store:             queue.NewStore(pool),
		Handler: func(jobCtx context.Context, task queue.Task) error {
			return deliveryWorker.Handle(jobCtx, task.Payload)
		},
	}

	logger.Info().Msg("worker starting")
	if err := dispatchQueueWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}
