package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"eventpay_echo/internal/config"
	"eventpay_echo/internal/handlers"
	authMiddleware "eventpay_echo/internal/middleware"
	"eventpay_echo/internal/reconcile"
	"eventpay_echo/internal/services"
	"eventpay_echo/internal/tasks"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Firebase
	var authClient services.AuthClient
	if client, err := services.InitFirebase(ctx, cfg.FirebaseCredentialsPath); err != nil {
		log.Printf("Warning: Firebase initialization failed: %v", err)
		log.Println("Auth features will not work until valid credentials are provided")
	} else {
		authClient = client
	}

	// Initialize Database
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	db, err := services.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := services.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Redis is optional: without it finalize runs unlocked on the unique index
	cache, err := services.NewRedisCache(cfg.RedisURL)
	if err != nil {
		log.Printf("Warning: redis unavailable, running without cache: %v", err)
		cache = nil
	} else {
		defer cache.Close()
	}

	var publisher services.EventPublisher = services.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := services.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, 5)
		if err != nil {
			log.Printf("Warning: %v; payment events will not be published", err)
		} else {
			publisher = kafka
		}
	}
	defer publisher.Close()

	notifier := services.NewNotificationService(db, tasks.EnqueueNotificationDelivery, logger)
	payments := services.NewPaymentService(services.PaymentServiceDeps{
		DB:       db,
		Gateway:  services.NewMidtransService(cfg.Midtrans),
		Cache:    cache,
		Notifier: notifier,
		Events:   publisher,
		Logger:   logger,
		Config: services.PaymentConfig{
			AppURL:              cfg.AppURL,
			PaymentTTL:          cfg.PaymentTTL,
			CryptoWalletAddress: cfg.CryptoWalletAddress,
			BankTransferBank:    cfg.BankTransferBank,
		},
	})

	manager := reconcile.NewManager()
	defer manager.CloseAll()

	checkout := handlers.NewCheckoutHandler(payments, manager, reconcile.Options{
		PollInterval: cfg.PollInterval,
		PollWindow:   cfg.PollWindow,
		Logger:       logger,
	})
	go checkout.PruneLoop(ctx, time.Minute)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Validator = authMiddleware.NewRequestValidator()
	e.HTTPErrorHandler = authMiddleware.JSONErrorHandler(logger)

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	handlers.RegisterRoutes(e, handlers.Handlers{
		Auth:          handlers.NewAuthHandler(authClient, cfg.IsProduction()),
		Payments:      handlers.NewPaymentHandler(payments, logger),
		Checkout:      checkout,
		Notifications: handlers.NewNotificationHandler(notifier),
		Preferences:   handlers.NewUserPreferenceHandler(db),
	}, authClient, db)

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
