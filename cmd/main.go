package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"cart-recovery-service/internal/clients"
	"cart-recovery-service/internal/config"
	"cart-recovery-service/internal/events"
	"cart-recovery-service/internal/handlers"
	"cart-recovery-service/internal/middleware"
	"cart-recovery-service/internal/models"
	"cart-recovery-service/internal/repository"
	"cart-recovery-service/internal/services"
	"cart-recovery-service/internal/workers"

	gosharedmw "github.com/Tesseract-Nexus/go-shared/middleware"
	"github.com/Tesseract-Nexus/go-shared/tracing"
)

const (
	serviceName  = "cart-recovery-service"
	sweepLockKey = "cart-recovery:sweep-lock"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.App.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	// Initialize Redis client (optional - graceful degradation if Redis unavailable)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: Failed to parse Redis URL: %v", err)
			log.Println("Continuing without Redis...")
		} else {
			redisClient = redis.NewClient(opt)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := redisClient.Ping(ctx).Err()
			cancel()
			if err != nil {
				log.Printf("Warning: Failed to connect to Redis: %v", err)
				log.Println("Continuing without Redis...")
				redisClient = nil
			} else {
				log.Println("✓ Connected to Redis")
			}
		}
	} else {
		log.Println("REDIS_URL not configured, catalog cache is process-local and sweep lock is in-process")
	}

	commerceClient := clients.NewCommerceClient(clients.CommerceClientConfig{
		BaseURL:        cfg.Commerce.BaseURL,
		ConsumerKey:    cfg.Commerce.ConsumerKey,
		ConsumerSecret: cfg.Commerce.ConsumerSecret,
		Timeout:        cfg.Commerce.Timeout,
		MaxRetries:     uint64(cfg.Commerce.MaxRetries),
		Redis:          redisClient,
	}, logger)
	log.Println("✓ WooCommerce client initialized")

	criticalChecks := map[string]handlers.DependencyCheck{}
	optionalChecks := map[string]handlers.DependencyCheck{}

	// Select the cart store
	var cartRepo repository.AbandonedCartRepository
	switch cfg.App.StoreBackend {
	case config.StoreBackendWooCommerce:
		cartRepo = repository.NewCommerceAbandonedCartRepository(commerceClient)
		log.Println("✓ Abandoned carts stored as WooCommerce pending orders")
	default:
		db, err := initDatabase(cfg.GetDatabaseDSN())
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		if err := db.AutoMigrate(&models.AbandonedCart{}); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		cartRepo = repository.NewGormAbandonedCartRepository(db)
		criticalChecks["database"] = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
		log.Println("✓ Abandoned carts stored in PostgreSQL")
	}

	if redisClient != nil {
		optionalChecks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	// Mail transport
	sender := clients.Sender{Address: cfg.Mail.FromAddress, Name: cfg.Mail.FromName}
	var mailer clients.Mailer
	switch cfg.Mail.Provider {
	case config.MailProviderSendGrid:
		mailer = clients.NewSendGridMailer(cfg.Mail.SendGridAPIKey, sender, logger)
	default:
		mailer = clients.NewSMTPMailer(cfg.Mail.SMTPHost, cfg.Mail.SMTPPort, cfg.Mail.SMTPUser, cfg.Mail.SMTPPassword, sender, logger)
	}
	log.Printf("✓ Mailer initialized (%s)", cfg.Mail.Provider)

	// Event publisher (optional)
	var publisher *events.Publisher
	var eventPublisher services.EventPublisher
	if cfg.NATSURL != "" {
		publisher, err = events.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			log.Printf("WARNING: Failed to initialize event publisher: %v (continuing without events)", err)
			publisher = nil
		} else {
			eventPublisher = publisher
			optionalChecks["nats"] = func(ctx context.Context) error {
				if !publisher.IsConnected() {
					return fmt.Errorf("nats disconnected")
				}
				return nil
			}
			log.Println("✓ Event publisher initialized")
		}
	}

	// Initialize services
	snapshotService := services.NewSnapshotService(cartRepo, commerceClient, eventPublisher, services.SnapshotConfig{
		RearmOnUpdate: cfg.Recovery.RearmOnUpdate,
		TokenLookback: cfg.Recovery.RecoveryLookback,
	}, logger)
	recoveryService := services.NewRecoveryService(cartRepo, commerceClient, cfg.Recovery.RecoveryLookback, nil, logger)
	statsService := services.NewStatsService(cartRepo, cfg.Recovery.StatsWindow, cfg.Recovery.GracePeriod, cfg.Recovery.StatsLocation, nil, logger)

	var sweepLock services.SweepLock = &services.LocalSweepLock{}
	if redisClient != nil {
		sweepLock = services.NewRedisSweepLock(redisClient, sweepLockKey)
	}
	sweepService := services.NewSweepService(cartRepo, commerceClient, mailer, sweepLock, eventPublisher, services.SweepConfig{
		GracePeriod: cfg.Recovery.GracePeriod,
		Lookback:    cfg.Recovery.SweepLookback,
		Budget:      cfg.Recovery.SweepBudget,
		Email: services.EmailConfig{
			StorefrontURL:   cfg.Storefront.URL,
			StoreName:       cfg.Storefront.StoreName,
			SupportWhatsApp: cfg.Storefront.SupportWhatsApp,
			Currency:        cfg.Storefront.Currency,
		},
	}, logger)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(criticalChecks, optionalChecks)
	abandonedCartHandler := handlers.NewAbandonedCartHandler(snapshotService, recoveryService)
	cronHandler := handlers.NewCronHandler(sweepService)
	statsHandler := handlers.NewStatsHandler(statsService)
	stripeHandler := handlers.NewStripeWebhookHandler(snapshotService, cfg.Secrets.StripeWebhookSecret, logger)

	if cfg.Secrets.CronSecret == "" {
		log.Println("WARNING: CRON_SECRET not set, /cron endpoints will reject every request")
	}
	if cfg.Secrets.AdminSecret == "" {
		log.Println("WARNING: ADMIN_SECRET not set, /admin endpoints are open")
	}

	// Initialize OpenTelemetry tracing
	var tracerProvider *tracing.TracerProvider
	var tracerErr error
	if cfg.IsProduction() {
		tracerProvider, tracerErr = tracing.InitTracer(tracing.ProductionConfig(serviceName))
	} else {
		tracerProvider, tracerErr = tracing.InitTracer(tracing.DefaultConfig(serviceName))
	}
	if tracerErr != nil {
		log.Printf("WARNING: Failed to initialize tracing: %v (continuing without tracing)", tracerErr)
	} else {
		log.Println("✓ OpenTelemetry tracing initialized")
	}

	// Initialize Prometheus metrics
	metrics := gosharedmw.InitGlobalMetrics("tesseract", "cart_recovery_service")
	log.Println("✓ Prometheus metrics initialized")

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(gosharedmw.SecurityHeaders())

	if redisClient != nil {
		router.Use(gosharedmw.RedisRateLimitMiddlewareWithProfile(redisClient, "standard"))
		log.Println("✓ Redis-backed rate limiting enabled")
	} else {
		router.Use(gosharedmw.RateLimit())
	}

	router.Use(metrics.Middleware())
	router.Use(tracing.GinMiddleware(serviceName))
	router.Use(middleware.SetupCORS(cfg.CORSOrigins))

	// Health and metrics endpoints (no auth)
	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/ready", healthHandler.ReadinessCheck)
	router.GET("/metrics", gosharedmw.Handler())

	// Storefront endpoints
	router.POST("/abandoned-cart", abandonedCartHandler.Record)
	router.DELETE("/abandoned-cart", abandonedCartHandler.Cancel)
	router.GET("/abandoned-cart/recover", abandonedCartHandler.Recover)

	cron := router.Group("/cron")
	cron.Use(middleware.CronAuth(cfg.Secrets.CronSecret))
	{
		cron.GET("/abandoned-cart", cronHandler.AbandonedCartSweep)
	}

	admin := router.Group("/admin")
	admin.Use(middleware.AdminAuth(cfg.Secrets.AdminSecret))
	{
		admin.GET("/abandoned-cart-stats", statsHandler.GetStats)
		admin.GET("/abandoned-cart-stats/export", statsHandler.Export)
	}

	router.POST("/webhooks/stripe", stripeHandler.Handle)
	log.Println("✓ Routes registered")

	// In-process sweep for deployments without an external scheduler
	var sweepWorker *workers.RecoverySweepWorker
	if cfg.Recovery.SweepWorkerEnabled {
		sweepWorker = workers.NewRecoverySweepWorker(sweepService, cfg.Recovery.SweepInterval, logger)
		sweepWorker.Start()
		log.Println("✓ Recovery sweep worker started")
	}

	// Checkout and catalog event subscriber
	var subscriber *events.Subscriber
	if cfg.NATSURL != "" {
		subscriber, err = events.NewSubscriber(cfg.NATSURL, snapshotService, commerceClient, logger)
		if err != nil {
			log.Printf("WARNING: Failed to initialize event subscriber: %v", err)
			subscriber = nil
		} else if err := subscriber.Start(context.Background()); err != nil {
			log.Printf("WARNING: Failed to start event subscriber: %v", err)
			subscriber.Close()
			subscriber = nil
		} else {
			log.Println("✓ Checkout event subscriber started")
		}
	}

	srv := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting %s on %s", serviceName, cfg.GetServerAddress())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("Shutting down %s...", serviceName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sweepWorker != nil {
		sweepWorker.Stop()
		log.Println("✓ Recovery sweep worker stopped")
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if subscriber != nil {
		subscriber.Close()
	}
	if publisher != nil {
		publisher.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer provider: %v", err)
		} else {
			log.Println("✓ Tracer provider shut down")
		}
	}

	log.Printf("%s stopped", serviceName)
}

func initDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}
