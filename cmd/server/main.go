// Package main is the entry point for the care case server.
// It provides a REST API for the caregiving case lifecycle:
//
//   - Guardians open cases and agree to them, which issues a caregiver link
//   - Caregivers agree and record daily care logs through that link alone
//   - Period changes, force-end and deletion are audited in the activity trail
//   - Care certificates are rendered once every requirement is met
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carelink/care-server/internal/config"
	"github.com/carelink/care-server/internal/database"
	"github.com/carelink/care-server/internal/handlers"
	"github.com/carelink/care-server/internal/logger"
	"github.com/carelink/care-server/internal/middleware"
	"github.com/carelink/care-server/internal/services"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, "care-server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	sugar := log.Sugar()

	sugar.Infow("Starting care server",
		"port", cfg.Port,
		"env", cfg.Environment,
		"timezone", cfg.Timezone,
	)

	loc, err := cfg.Location()
	if err != nil {
		sugar.Fatalf("Invalid timezone: %v", err)
	}
	clock := services.NewClock(loc)

	ctx := context.Background()

	store, closeStore := openStore(ctx, cfg, sugar)
	defer closeStore()

	sealer, err := services.NewSealer(cfg.BankInfoKey)
	if err != nil {
		sugar.Fatalf("Invalid BANK_INFO_KEY: %v", err)
	}
	if cfg.BankInfoKey == "" {
		sugar.Warn("BANK_INFO_KEY not set; sealed bank details will not survive a restart")
	}

	var notifier services.Notifier = services.NewLogNotifier(sugar)
	if cfg.NotifyWebhookURL != "" {
		notifier = services.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifyRetryCount, sugar)
	}

	var renderer services.Renderer
	if cfg.RenderServiceURL != "" {
		renderer = services.NewHTTPRenderer(cfg.RenderServiceURL, cfg.RenderTimeout)
	} else {
		sugar.Warn("RENDER_SERVICE_URL not set; document issuance is unavailable")
	}

	limiter, closeLimiter := openLimiter(ctx, cfg, sugar)
	defer closeLimiter()

	// Initialize services
	activitySvc := services.NewActivityLogService(store, clock, sugar)
	tokenSvc := services.NewAccessTokenService(store, cfg.AccessTokenTTL, clock, sugar)
	caseSvc := services.NewCaseService(services.CaseServiceDeps{
		Store:         store,
		Tokens:        tokenSvc,
		Activity:      activitySvc,
		Notifier:      notifier,
		Sealer:        sealer,
		Clock:         clock,
		PublicBaseURL: cfg.PublicBaseURL,
		MaxPeriodDays: cfg.MaxPeriodDays,
		Logger:        sugar,
	})
	periodSvc := services.NewPeriodService(store, activitySvc, clock, cfg.MaxPeriodDays, sugar)
	careLogSvc := services.NewCareLogService(store, tokenSvc, clock, sugar)
	readinessSvc := services.NewReadinessService(store)
	paymentSvc := services.NewPaymentService(store, clock, sugar)
	documentSvc := services.NewDocumentService(store, readinessSvc, renderer, sealer, sugar)
	exportSvc := services.NewExportService(store, sugar)
	auditSvc := services.NewAuditIntegrityService(store, clock, sugar)

	// Initialize handlers
	router := handlers.NewRouter(&handlers.Handlers{
		Health:    handlers.NewHealthHandler(store, sugar),
		Cases:     handlers.NewCaseHandler(caseSvc, sugar),
		Caregiver: handlers.NewCaregiverHandler(caseSvc, careLogSvc, sugar),
		Period:    handlers.NewPeriodHandler(periodSvc, sugar),
		CareLogs:  handlers.NewCareLogHandler(careLogSvc, exportSvc, sugar),
		Payments:  handlers.NewPaymentHandler(paymentSvc, sugar),
		Documents: handlers.NewDocumentHandler(readinessSvc, documentSvc, sugar),
		Activity:  handlers.NewActivityHandler(activitySvc, sugar),
		Integrity: handlers.NewIntegrityHandler(auditSvc, sugar),
	}, handlers.RouterConfig{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimitRPM:   cfg.RateLimitRPM,
		Limiter:        limiter,
		Logger:         log,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sugar.Infof("Server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	sugar.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Fatalf("Forced shutdown: %v", err)
	}

	sugar.Info("Server stopped")
}

// openStore connects to Postgres when DATABASE_URL is set, otherwise it
// falls back to the in-memory store.
func openStore(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (database.Store, func()) {
	if cfg.DatabaseURL == "" {
		sugar.Warn("DATABASE_URL not set; using in-memory store")
		return database.NewMemoryStore(), func() {}
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
	if err != nil {
		sugar.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		sugar.Fatalf("Failed to migrate database: %v", err)
	}
	return database.NewPostgresStore(pool), pool.Close
}

// openLimiter uses Redis when REDIS_URL is set so that limits hold across instances.
func openLimiter(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (middleware.Limiter, func()) {
	if cfg.RedisURL == "" {
		return middleware.NewMemoryLimiter(), func() {}
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		sugar.Fatalf("Invalid REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		sugar.Warnw("Redis unreachable; limiter fails open until it recovers", "error", err)
	}
	return middleware.NewRedisLimiter(client), func() { _ = client.Close() }
}
