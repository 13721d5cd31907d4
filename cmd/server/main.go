package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/styryl1/invoicecore/internal"
	"github.com/styryl1/invoicecore/internal/bootstrap"
	"github.com/styryl1/invoicecore/internal/credential"
	"github.com/styryl1/invoicecore/internal/events"
	"github.com/styryl1/invoicecore/internal/handler/ops"
	"github.com/styryl1/invoicecore/internal/handler/webhook"
	"github.com/styryl1/invoicecore/internal/postgres"
	"github.com/styryl1/invoicecore/internal/provider"
	"github.com/styryl1/invoicecore/internal/queue"
	"github.com/styryl1/invoicecore/internal/reconcile"
	"github.com/styryl1/invoicecore/internal/service"
	"github.com/styryl1/invoicecore/internal/storage"
	"github.com/styryl1/invoicecore/internal/telemetry"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for the application
	pool, err := postgres.Connect(ctx, cfg.DatabaseUrl)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := postgres.NewStore(pool)

	// Blob storage for cached invoice documents
	blobs, err := storage.NewStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	logger.Info("Storage initialized", "provider", cfg.Storage.Provider)

	// Event publisher: NATS when configured, otherwise a no-op
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Events.Enabled && cfg.Events.NatsURL != "" {
		natsPublisher, err := events.NewNatsPublisher(cfg.Events.NatsURL)
		if err != nil {
			return fmt.Errorf("nats connection failed: %w", err)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
		logger.Info("NATS publisher initialized", "url", cfg.Events.NatsURL)
	}

	metrics := telemetry.NewMetrics("invoicecore")

	// Provider adapters behind the registry
	credentials := credential.NewService(store, logger)
	enabled := bootstrap.EnabledProviders(cfg)
	registry := provider.NewRegistry(
		bootstrap.ProviderBuilders(cfg, credentials, blobs, logger),
		enabled,
		time.Hour,
	)

	// Reconciliation, refresh queue and the service boundary
	reconciler := reconcile.New(store, publisher, metrics, logger)
	queueService := queue.NewService(store, registry, reconciler, metrics, logger, queue.Config{
		Lease:       cfg.Queue.Lease,
		MaxAttempts: cfg.Queue.MaxAttempts,
	})
	invoiceService := service.NewInvoiceService(store, registry, credentials, queueService, publisher, metrics, logger, enabled)

	// HTTP surface
	webhookHandler := webhook.NewHandler(store, registry, reconciler, metrics, logger, webhook.Config{
		MoneybirdSecret: cfg.Providers.Moneybird.WebhookSecret,
		WeFactSecret:    cfg.Providers.WeFact.WebhookSecret,
	})
	opsHandler := ops.NewHandler(invoiceService, cfg.Queue.BatchSize, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/webhooks/moneybird", webhookHandler.HandleMoneybird)
	e.POST("/webhooks/wefact", webhookHandler.HandleWeFact)

	e.POST("/internal/jobs/run", opsHandler.RunDue)
	e.GET("/internal/dead-letters", opsHandler.ListDeadLetters)
	e.POST("/internal/dead-letters/:invoice_id/reenqueue", opsHandler.ReenqueueDeadLetter)

	// Background poller for the refresh queue
	go func() {
		ticker := time.NewTicker(cfg.Queue.PollInterval)
		defer ticker.Stop()
		for range ticker.C {
			n, err := invoiceService.RunDueJobs(ctx, cfg.Queue.BatchSize)
			if err != nil {
				logger.Error("refresh poll failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("refresh poll complete", "processed", n)
			}
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("Starting server", "address", addr)
	return e.Start(addr)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
