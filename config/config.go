package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	HTTP      ServerConfig
	MySQL     MySQLConfig
	Log       LogConfig
	Auth      AuthConfig
	Contracts ContractsConfig
	Processor ProcessorConfig
	Payments  PaymentsConfig
	Jobs      JobsConfig
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

type AuthConfig struct {
	JWTSecret string
}

type ContractsConfig struct {
	BaseURL     string
	APIKey      string
	HTTPTimeout time.Duration
}

type ProcessorConfig struct {
	BaseURL      string
	APIKey       string
	HTTPTimeout  time.Duration
	WebhookToken string
}

type PaymentsConfig struct {
	SyncMaxAttempts   int32
	SyncRetryInterval time.Duration
	JobBatchSize      int32
}

type JobsConfig struct {
	ContractSyncInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "payments-service"),
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
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		},
		Contracts: ContractsConfig{
			BaseURL:     getEnv("CONTRACTS_BASE_URL", ""),
			APIKey:      getEnv("CONTRACTS_API_KEY", ""),
			HTTPTimeout: getSecondsEnv("CONTRACTS_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Processor: ProcessorConfig{
			BaseURL:      getEnv("PROCESSOR_BASE_URL", ""),
			APIKey:       getEnv("PROCESSOR_API_KEY", ""),
			HTTPTimeout:  getSecondsEnv("PROCESSOR_HTTP_TIMEOUT_SECONDS", 10*time.Second),
			WebhookToken: getEnv("PROCESSOR_WEBHOOK_TOKEN", ""),
		},
		Payments: PaymentsConfig{
			SyncMaxAttempts:   int32(getIntEnv("PAYMENTS_SYNC_MAX_ATTEMPTS", 10)),
			SyncRetryInterval: getMinutesEnv("PAYMENTS_SYNC_RETRY_INTERVAL_MINUTES", 5*time.Minute),
			JobBatchSize:      int32(getIntEnv("PAYMENTS_JOB_BATCH_SIZE", 100)),
		},
		Jobs: JobsConfig{
			ContractSyncInterval: getMinutesEnv("PAYMENTS_CONTRACT_SYNC_INTERVAL_MINUTES", 2*time.Minute),
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
