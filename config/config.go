package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	HTTP     ServerConfig
	MySQL    MySQLConfig
	Log      LogConfig
	Momo     MomoConfig
	Payments PaymentsConfig
	Jobs     JobsConfig
}

type AppConfig struct {
	ServiceName string
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

type LogConfig struct {
	Level string
}

type MomoConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	HTTPTimeout   time.Duration
}

type PaymentsConfig struct {
	ProviderCode int32

	PendingTTL       time.Duration
	PollGrace        time.Duration
	PollBaseInterval time.Duration
	PollMaxInterval  time.Duration

	OrderSyncMaxAttempts   int32
	OrderSyncRetryInterval time.Duration

	PurgeTerminalAfter time.Duration

	JobBatchSize int32
}

type JobsConfig struct {
	PollInterval          time.Duration
	ExpirePendingInterval time.Duration
	OrderSyncInterval     time.Duration
	PurgeInterval         time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "momo-payments"),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Momo: MomoConfig{
			BaseURL:       getEnv("MOMO_BASE_URL", ""),
			APIKey:        getEnv("MOMO_API_KEY", ""),
			WebhookSecret: getEnv("MOMO_WEBHOOK_SECRET", ""),
			HTTPTimeout:   getSecondsEnv("MOMO_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Payments: PaymentsConfig{
			ProviderCode:           int32(getIntEnv("PAYMENTS_PROVIDER_CODE", 1)),
			PendingTTL:             getMinutesEnv("PAYMENTS_PENDING_TTL_MINUTES", 60*time.Minute),
			PollGrace:              getSecondsEnv("PAYMENTS_POLL_GRACE_SECONDS", 30*time.Second),
			PollBaseInterval:       getSecondsEnv("PAYMENTS_POLL_BASE_INTERVAL_SECONDS", 30*time.Second),
			PollMaxInterval:        getMinutesEnv("PAYMENTS_POLL_MAX_INTERVAL_MINUTES", 10*time.Minute),
			OrderSyncMaxAttempts:   int32(getIntEnv("PAYMENTS_ORDER_SYNC_MAX_ATTEMPTS", 10)),
			OrderSyncRetryInterval: getMinutesEnv("PAYMENTS_ORDER_SYNC_RETRY_INTERVAL_MINUTES", time.Minute),
			PurgeTerminalAfter:     getMinutesEnv("PAYMENTS_PURGE_TERMINAL_AFTER_MINUTES", 24*60*time.Minute),
			JobBatchSize:           int32(getIntEnv("PAYMENTS_JOB_BATCH_SIZE", 100)),
		},
		Jobs: JobsConfig{
			PollInterval:          getSecondsEnv("PAYMENTS_POLL_INTERVAL_SECONDS", 30*time.Second),
			ExpirePendingInterval: getMinutesEnv("PAYMENTS_EXPIRE_PENDING_INTERVAL_MINUTES", 5*time.Minute),
			OrderSyncInterval:     getMinutesEnv("PAYMENTS_ORDER_SYNC_INTERVAL_MINUTES", time.Minute),
			PurgeInterval:         getMinutesEnv("PAYMENTS_PURGE_INTERVAL_MINUTES", 60*time.Minute),
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
