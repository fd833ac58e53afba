package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type MidtransConfig struct {
	ServerKey    string
	ClientKey    string
	IsProduction bool
}

type SMTPConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	From     string
}

type WahaConfig struct {
	BaseURL string
	APIKey  string
	Session string
}

// Config holds every setting read from the environment
type Config struct {
	Env         string
	Port        string
	AppURL      string
	DatabaseURL string
	RedisURL    string

	FirebaseCredentialsPath string

	Midtrans MidtransConfig
	SMTP     SMTPConfig
	Waha     WahaConfig

	KafkaBrokers []string
	KafkaTopic   string

	// Reconciliation engine
	PollInterval time.Duration
	PollWindow   time.Duration

	// Payments
	PaymentTTL          time.Duration
	CryptoWalletAddress string
	BankTransferBank    string

	WorkerInterval time.Duration
}

// Load reads .env (if present) and the process environment
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env
func FromEnv() *Config {
	return &Config{
		Env:         getEnv("ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		AppURL:      getEnv("APP_URL", "http://localhost:8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		FirebaseCredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", "./firebase-service-account.json"),

		Midtrans: MidtransConfig{
			ServerKey:    os.Getenv("MIDTRANS_SERVER_KEY"),
			ClientKey:    os.Getenv("MIDTRANS_CLIENT_KEY"),
			IsProduction: os.Getenv("MIDTRANS_IS_PRODUCTION") == "true",
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     os.Getenv("SMTP_PORT"),
			User:     os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASS"),
			From:     os.Getenv("EMAIL_FROM"),
		},
		Waha: WahaConfig{
			BaseURL: getEnv("WAHA_BASE_URL", "http://waha:3000"),
			APIKey:  os.Getenv("WAHA_API_KEY"),
			Session: getEnv("WAHA_SESSION", "default"),
		},

		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_PAYMENT_TOPIC", "payment-events"),

		PollInterval: getDuration("POLL_INTERVAL", 3*time.Second),
		PollWindow:   getDuration("POLL_WINDOW", 10*time.Minute),

		PaymentTTL:          getDuration("PAYMENT_TTL", 24*time.Hour),
		CryptoWalletAddress: os.Getenv("CRYPTO_WALLET_ADDRESS"),
		BankTransferBank:    getEnv("BANK_TRANSFER_BANK", "bca"),

		WorkerInterval: getDuration("WORKER_INTERVAL", 5*time.Minute),
	}
}

// IsProduction reports whether ENV is production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	// plain integers are read as seconds
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	log.Printf("Invalid duration for %s=%q, using %s", key, value, defaultValue)
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
