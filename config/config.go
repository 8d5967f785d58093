package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App         AppConfig
	HTTP        ServerConfig
	GRPC        ServerConfig
	MySQL       MySQLConfig
	Redis       RedisConfig
	Log         LogConfig
	MercadoPago MercadoPagoConfig
	Breaker     BreakerConfig
	Payments    PaymentsConfig
	Jobs        JobsConfig
}

type AppConfig struct {
	ServiceName string
	APIKey      string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional: an empty Addr disables webhook de-duplication.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	DedupTTL time.Duration
}

type LogConfig struct {
	Level string
}

type MercadoPagoConfig struct {
	BaseURL           string
	AccessToken       string
	WebhookSecret     string
	WebhookURL        string
	DefaultSuccessURL string
	DefaultFailureURL string
	DefaultPendingURL string
	DefaultCurrency   string
	MaxRetryAttempts  int
	InitialRetryDelay time.Duration
	HTTPTimeout       time.Duration
}

type BreakerConfig struct {
	Enabled          bool
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

type PaymentsConfig struct {
	ReconcileStaleAfter time.Duration
	JobBatchSize        int32
}

type JobsConfig struct {
	ReconcileInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	accessToken := strings.TrimSpace(os.Getenv("MERCADOPAGO_ACCESS_TOKEN"))
	if accessToken == "" {
		return nil, errors.New("MERCADOPAGO_ACCESS_TOKEN environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "payment-gateway"),
			APIKey:      getEnv("APP_API_KEY", ""),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			DedupTTL: getMinutesEnv("WEBHOOK_DEDUP_TTL_MINUTES", 24*time.Hour),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		MercadoPago: MercadoPagoConfig{
			BaseURL:           getEnv("MERCADOPAGO_BASE_URL", "https://api.mercadopago.com"),
			AccessToken:       accessToken,
			WebhookSecret:     getEnv("MERCADOPAGO_WEBHOOK_SECRET", ""),
			WebhookURL:        getEnv("MERCADOPAGO_WEBHOOK_URL", ""),
			DefaultSuccessURL: getEnv("MERCADOPAGO_DEFAULT_SUCCESS_URL", ""),
			DefaultFailureURL: getEnv("MERCADOPAGO_DEFAULT_FAILURE_URL", ""),
			DefaultPendingURL: getEnv("MERCADOPAGO_DEFAULT_PENDING_URL", ""),
			DefaultCurrency:   strings.ToUpper(getEnv("MERCADOPAGO_DEFAULT_CURRENCY", "ARS")),
			MaxRetryAttempts:  getIntEnv("MERCADOPAGO_MAX_RETRY_ATTEMPTS", 3),
			InitialRetryDelay: getMillisecondsEnv("MERCADOPAGO_INITIAL_RETRY_DELAY_MS", 500*time.Millisecond),
			HTTPTimeout:       getSecondsEnv("MERCADOPAGO_TIMEOUT_SECONDS", 30*time.Second),
		},
		Breaker: BreakerConfig{
			Enabled:          getBoolEnv("MERCADOPAGO_BREAKER_ENABLED", true),
			FailureThreshold: uint32(getIntEnv("MERCADOPAGO_BREAKER_FAILURE_THRESHOLD", 5)),
			OpenTimeout:      getSecondsEnv("MERCADOPAGO_BREAKER_OPEN_SECONDS", 30*time.Second),
		},
		Payments: PaymentsConfig{
			ReconcileStaleAfter: getMinutesEnv("PAYMENTS_RECONCILE_STALE_AFTER_MINUTES", 15*time.Minute),
			JobBatchSize:        int32(getIntEnv("PAYMENTS_JOB_BATCH_SIZE", 100)),
		},
		Jobs: JobsConfig{
			ReconcileInterval: getMinutesEnv("PAYMENTS_RECONCILE_INTERVAL_MINUTES", 2*time.Minute),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getMillisecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
