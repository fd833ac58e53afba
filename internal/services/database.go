package services

import (
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"eventpay_echo/internal/models"
)

// InitDB initializes the database connection with connection pooling
func InitDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// Get underlying sql.DB to configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// Connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Println("Database connection established")
	return db, nil
}

// AllModels lists every table the application owns
func AllModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.UserNotifPreference{},
		&models.Event{},
		&models.Registration{},
		&models.Payment{},
		&models.GatewaySession{},
		&models.PaymentCallbackHistory{},
		&models.Notification{},
		&models.ScheduledTask{},
		&models.ScheduledTaskHistory{},
	}
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return err
	}

	log.Println("Database migrations completed")
	return nil
}
