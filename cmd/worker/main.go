package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"eventpay_echo/internal/config"
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

	// Initialize Database
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	db, err := services.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

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

	payments := services.NewPaymentService(services.PaymentServiceDeps{
		DB:       db,
		Gateway:  services.NewMidtransService(cfg.Midtrans),
		Cache:    cache,
		Notifier: services.NewNotificationService(db, tasks.EnqueueNotificationDelivery, logger),
		Events:   publisher,
		Logger:   logger,
		Config: services.PaymentConfig{
			AppURL:              cfg.AppURL,
			PaymentTTL:          cfg.PaymentTTL,
			CryptoWalletAddress: cfg.CryptoWalletAddress,
			BankTransferBank:    cfg.BankTransferBank,
		},
	})

	// Initialize Task Registry
	tasks.DefineTasks(tasks.Dependencies{
		Payments: payments,
		Email:    services.NewEmailService(cfg.SMTP),
		Whatsapp: services.NewWahaService(cfg.Waha),
	})

	// Create context that cancels on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if created, err := tasks.EnsureExpirySweep(ctx, db, time.Now()); err != nil {
		log.Printf("Warning: %v", err)
	} else if created {
		log.Println("Scheduled recurring expire_pending_payments task")
	}

	runner := tasks.NewRunner(db, nil)

	log.Printf("Worker started. Checking every %s", cfg.WorkerInterval)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	// run once on start, then on every tick
	runner.ProcessDue(ctx)

	for {
		select {
		case <-ticker.C:
			runner.ProcessDue(ctx)
		case <-ctx.Done():
			log.Println("Shutting down worker...")
			return
		}
	}
}
