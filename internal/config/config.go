package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string
	HTTPAddr    string

	DBType        string
	DBHost        string
	DBPort        string
	DBName        string
	DBUser        string
	DBPassword    string
	DBSSLMode     string
	DBMaxIdleConn int
	DBMaxOpenConn int

	Currency        string
	TaxRate         string
	GracePeriodDays int

	BufferMaxSize       int
	BufferFlushInterval time.Duration

	ProcessorBaseURL string
	ProcessorAPIKey  string
	WebhookSecret    string

	ReminderHour int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "tally"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:        getenv("DATABASE_TYPE", "postgres"),
		DBHost:        getenv("DATABASE_HOST", "localhost"),
		DBPort:        getenv("DATABASE_PORT", "5432"),
		DBName:        getenv("DATABASE_NAME", "tally"),
		DBUser:        getenv("DATABASE_USER", "postgres"),
		DBPassword:    getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:     getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn: getenvInt("DATABASE_MAX_IDLE_CONN", 2),
		DBMaxOpenConn: getenvInt("DATABASE_MAX_OPEN_CONN", 10),

		Currency:        strings.ToUpper(getenv("BILLING_CURRENCY", "USD")),
		TaxRate:         getenv("BILLING_TAX_RATE", "0.10"),
		GracePeriodDays: getenvInt("BILLING_GRACE_PERIOD_DAYS", 14),

		BufferMaxSize:       getenvInt("USAGE_BUFFER_MAX_SIZE", 100),
		BufferFlushInterval: getenvDuration("USAGE_BUFFER_FLUSH_INTERVAL", 5*time.Second),

		ProcessorBaseURL: strings.TrimRight(getenv("PROCESSOR_BASE_URL", "http://localhost:9090"), "/"),
		ProcessorAPIKey:  strings.TrimSpace(getenv("PROCESSOR_API_KEY", "")),
		WebhookSecret:    strings.TrimSpace(getenv("PAYMENT_WEBHOOK_SECRET", "")),

		ReminderHour: getenvInt("BILLING_REMINDER_HOUR", 9),
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
