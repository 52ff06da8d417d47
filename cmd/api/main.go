package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-properti/internal/analytics"
	"github.com/noah-isme/backend-properti/internal/audit"
	"github.com/noah-isme/backend-properti/internal/auth"
	"github.com/noah-isme/backend-properti/internal/billing"
	"github.com/noah-isme/backend-properti/internal/common"
	"github.com/noah-isme/backend-properti/internal/config"
	"github.com/noah-isme/backend-properti/internal/db"
	"github.com/noah-isme/backend-properti/internal/events"
	"github.com/noah-isme/backend-properti/internal/health"
	"github.com/noah-isme/backend-properti/internal/lock"
	"github.com/noah-isme/backend-properti/internal/notify"
	"github.com/noah-isme/backend-properti/internal/obs"
	"github.com/noah-isme/backend-properti/internal/payment"
	"github.com/noah-isme/backend-properti/internal/property"
	"github.com/noah-isme/backend-properti/internal/queue"
	"github.com/noah-isme/backend-properti/internal/ratelimit"
	"github.com/noah-isme/backend-properti/internal/rent"
	"github.com/noah-isme/backend-properti/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "properti")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "properti-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, "properti-api")
	if err != nil {
		logger.Fatal().Err(err).Msg("open database pool")
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	mailer := common.NopEmailSender{}
	enqueuer := queue.Enqueuer{R: redisClient, Prefix: cfg.QueuePrefix, DedupTTL: cfg.QueueDedupTTL}

	notifyStore := notify.NewStore(pool)
	dispatcher := &notify.Dispatcher{
		Store:              notifyStore,
		Client:             notify.HTTPClient(int(cfg.NotifyTimeout/time.Millisecond), cfg.WebhookAllowInsecureTLS),
		Queue:              enqueuer,
		BackoffBaseSec:     cfg.WebhookBackoffBaseSec,
		DefaultMaxAttempts: cfg.NotifyMaxAttempts,
		Enabled:            cfg.WebhookDeliveryEnabled,
		Replay:             notify.RedisReplayProtector{Client: redisClient},
		ReplayTTL:          cfg.WebhookReplayTTL,
	}
	emailNotifier := notify.EmailNotifier{
		Mail:         mailer,
		Enabled:      cfg.NotifyEmailEnabled,
		From:         cfg.NotifyEmailFrom,
		TopicToggles: cfg.NotifyEmailTopics,
	}
	bus := &events.Bus{
		Store:     events.NewStore(pool),
		Notifiers: []events.Notifier{dispatcher, emailNotifier},
	}

	rentService, err := rent.NewService(rent.ServiceConfig{
		Store:            rent.NewStore(pool),
		Locker:           lock.Locker{R: redisClient},
		Bus:              bus,
		Notifier:         notify.RentChangeNotifier{Store: notifyStore, Mail: mailer, Enabled: cfg.NotifyEmailEnabled},
		CurrencyDecimals: cfg.CurrencyDecimals,
		LockTTL:          cfg.BulkUpdateLockTTL,
		Logger:           logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rent service")
	}
	rentHandler := rent.NewHandler(rentService)

	propertyService, err := property.NewService(property.ServiceConfig{
		Store: property.NewStore(pool),
		Cache: property.NewCache(redisClient, cfg.LedgerCacheTTL),
		Bus:   bus,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise property service")
	}
	propertyHandler := property.NewHandler(propertyService)

	billingService, err := billing.NewService(billing.ServiceConfig{
		Store:            billing.NewStore(pool),
		Bus:              bus,
		CurrencyDecimals: cfg.CurrencyDecimals,
		InvoicePrefix:    cfg.InvoicePrefix,
		DueInDays:        cfg.InvoiceDueInDays,
		Logger:           logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise billing service")
	}
	billingHandler := billing.NewHandler(billingService)

	paymentProviders := map[string]payment.Provider{
		"chapa":    payment.Chapa{WebhookSecret: cfg.ChapaWebhookSecret},
		"telebirr": payment.Telebirr{AppSecret: cfg.TelebirrAppSecret},
	}
	paymentService, err := payment.NewService(payment.ServiceConfig{
		Store:           payment.NewStore(pool),
		Invoices:        billingService,
		Bus:             bus,
		Replay:          redisClient,
		ReplayTTL:       cfg.PaymentReplayTTL,
		Providers:       paymentProviders,
		IntentTTL:       cfg.PaymentIntentTTL,
		Currency:        cfg.CurrencyCode,
		CallbackBaseURL: cfg.PaymentCallbackBaseURL,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise payment service")
	}
	paymentWebhook := payment.Webhook{Service: paymentService, Providers: paymentProviders}
	paymentIntents := payment.Intents{Service: paymentService}

	analyticsService := &analytics.Service{
		Q:            analytics.NewStore(pool),
		R:            redisClient,
		TTL:          cfg.AnalyticsCacheTTL,
		DefaultRange: cfg.AnalyticsDefaultRange,
	}
	analyticsHandler := &analytics.Handler{Svc: analyticsService}

	notifyAdmin := &notify.AdminHandler{Store: notifyStore, Disp: dispatcher}
	queueAdmin := &queue.AdminHandler{
		Store:  queue.NewStore(pool),
		Queue:  enqueuer,
		Logger: logger,
	}

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    "properti-api",
		Audience:  "properti",
		AccessTTL: cfg.AccessTokenTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise token service")
	}
	authMiddleware := auth.Middleware{Tokens: tokens, AccessCookie: cfg.AccessCookieName}

	auditService := audit.Service{
		Store:        audit.NewStore(pool),
		Enabled:      cfg.AuditEnabled,
		SamplingRate: cfg.AuditSamplingRate,
	}
	auditRecorder := audit.HTTPRecorder{
		Service: &auditService,
		OnError: func(err error) { logger.Warn().Err(err).Msg("audit record") },
	}
	auditHandler := &audit.Handler{Store: auditService.Store}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true}.Middleware)
	r.Use(security.BodyLimit{Max: envInt64("SECURE_MAX_BODY_BYTES", 1<<20)}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if cfg.RateLimitEnabled {
		r.Use(ratelimit.Handler{
			Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:"},
			Config: ratelimit.Config{
				Key:    func(req *http.Request) string { return common.ClientIP(req) },
				Window: time.Minute,
				Max:    cfg.RateLimitRPM,
			},
			OnError: func(err error) { logger.Warn().Err(err).Msg("rate limit") },
		}.Middleware)
	}

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	pprofEnabled := envBool("OBS_ENABLE_PPROF", true)
	if pprofEnabled {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Post("/payments/webhook/{org}/{provider}", paymentWebhook.Handle)

		v.Group(func(protected chi.Router) {
			protected.Use(security.CSRF{}.Middleware)
			protected.Use(authMiddleware.RequireAuth)
			propertyHandler.Routes(protected)
			billingHandler.Routes(protected)
			protected.Post("/payments/intent", paymentIntents.Create)

			protected.Group(func(manager chi.Router) {
				manager.Use(authMiddleware.RequireRole("manager"))
				manager.With(auditRecorder.Middleware(audit.HTTPConfig{
					Action:       "rent.bulk_update",
					ResourceType: "buildings",
				})).Post("/rent/bulk-update", rentHandler.BulkUpdate)
				manager.Post("/rent/resolve", rentHandler.ResolveRent)
			})

			protected.Route("/analytics", func(an chi.Router) {
				an.Use(authMiddleware.RequireRole("manager"))
				an.Get("/revenue", analyticsHandler.Revenue)
				an.Get("/top-units", analyticsHandler.TopUnits)
				an.Get("/overview", analyticsHandler.Overview)
			})

			protected.Route("/admin", func(admin chi.Router) {
				admin.Use(authMiddleware.RequireRole("admin"))
				admin.Post("/webhooks", notifyAdmin.CreateEndpoint)
				admin.Put("/webhooks/{id}", notifyAdmin.UpdateEndpoint)
				admin.Get("/webhooks", notifyAdmin.ListEndpoints)
				admin.Delete("/webhooks/{id}", notifyAdmin.DeleteEndpoint)
				admin.Get("/webhook-deliveries", notifyAdmin.ListDeliveries)
				admin.Post("/webhook-deliveries/{id}/replay", notifyAdmin.ReplayDelivery)
				admin.Get("/queue/dlq", queueAdmin.ListDLQ)
				admin.Post("/queue/dlq/replay", queueAdmin.ReplayDLQ)
				admin.Get("/queue/stats", queueAdmin.Stats)
				admin.Get("/audit-logs", auditHandler.List)
			})
		})
	})

	if cfg.WebhookDeliveryEnabled {
		for i := 0; i < cfg.EventWorkerConcurrency; i++ {
			go func() {
				ticker := time.NewTicker(2 * time.Second)
				defer ticker.Stop()
				for range ticker.C {
					if err := dispatcher.WorkOnce(context.Background(), 50); err != nil {
						logger.Error().Err(err).Msg("dispatch webhook")
					}
				}
			}()
		}
	}

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	health.SetReady(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
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

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
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

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
