package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server          ServerConfig
	Mongo           MongoConfig
	Database        DatabaseConfig
	Kafka           KafkaConfig
	Redis           RedisConfig
	PortfolioUpdate PortfolioUpdateConfig
	Scheduler       SchedulerConfig
	ExchangeRate    ExchangeRateConfig
	Log             LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// MongoConfig holds the document store configuration
type MongoConfig struct {
	URI      string
	Database string
}

// DatabaseConfig holds PostgreSQL configuration for the position event ledger
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// KafkaConfig holds Kafka/Redpanda configuration
type KafkaConfig struct {
	Brokers         []string
	MarketDataTopic string
	ValuationsTopic string
	ConsumerGroup   string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// PortfolioUpdateConfig tunes the recompute pipeline
type PortfolioUpdateConfig struct {
	BatchSize        int
	MaxRetryAttempts int
	RetryBaseDelay   time.Duration
	CacheExpiration  time.Duration
	LockTimeout      time.Duration
}

// SchedulerConfig holds cron schedules for background jobs.
// Schedules use six fields (seconds first).
type SchedulerConfig struct {
	Timezone            string
	DailyValueCron      string
	StockUpdaterCron    string
	StockUpdaterBaseURL string
	StockTypes          []string
}

// ExchangeRateConfig configures the USD-TWD rate source
type ExchangeRateConfig struct {
	SourceURL string
	Timeout   time.Duration
}

// LogConfig configures the root logger
type LogConfig struct {
	Level  string
	Pretty bool
}

// Load reads configuration from environment variables, after loading
// an optional .env file from the working directory.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Mongo: MongoConfig{
			URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGODB_DATABASE", "portfolio_manager"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "postgres"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "portfolio"),
			Password: getEnv("DB_PASSWORD", "portfolio"),
			DBName:   getEnv("DB_NAME", "portfolio_events"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Kafka: KafkaConfig{
			Brokers:         parseList(getEnv("KAFKA_BROKERS", "localhost:19092")),
			MarketDataTopic: getEnv("KAFKA_MARKET_DATA_TOPIC", "market.prices"),
			ValuationsTopic: getEnv("KAFKA_VALUATIONS_TOPIC", "portfolio.valuations"),
			ConsumerGroup:   getEnv("KAFKA_CONSUMER_GROUP", "portfolio-manager"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		PortfolioUpdate: PortfolioUpdateConfig{
			BatchSize:        getEnvInt("PORTFOLIO_UPDATE_BATCH_SIZE", 100),
			MaxRetryAttempts: getEnvInt("PORTFOLIO_UPDATE_MAX_RETRY_ATTEMPTS", 3),
			RetryBaseDelay:   getEnvDuration("PORTFOLIO_UPDATE_RETRY_BASE_DELAY", time.Second),
			CacheExpiration:  getEnvDuration("PORTFOLIO_CACHE_EXPIRATION", 5*time.Minute),
			LockTimeout:      getEnvDuration("EXCHANGE_RATE_LOCK_TIMEOUT", 5*time.Second),
		},
		Scheduler: SchedulerConfig{
			Timezone:            getEnv("SCHEDULER_TIMEZONE", "Asia/Taipei"),
			DailyValueCron:      getEnv("DAILY_VALUE_CRON", "0 0 0 * * *"),
			StockUpdaterCron:    getEnv("STOCK_UPDATER_CRON", "0 */30 9-13 * * MON-FRI"),
			StockUpdaterBaseURL: getEnv("STOCK_UPDATER_BASE_URL", ""),
			StockTypes:          parseList(getEnv("STOCK_UPDATER_TYPES", "TW,US")),
		},
		ExchangeRate: ExchangeRateConfig{
			SourceURL: getEnv("EXCHANGE_RATE_SOURCE_URL", "https://www.google.com/finance/quote/USD-TWD"),
			Timeout:   getEnvDuration("EXCHANGE_RATE_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getEnv("LOG_FORMAT", "json") == "console",
		},
	}
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

// Address returns the Redis address in host:port format
func (r *RedisConfig) Address() string {
	return r.Host + ":" + r.Port
}

// Location resolves the scheduler timezone, falling back to UTC+8
// when the tz database is unavailable.
func (s *SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.FixedZone(s.Timezone, 8*60*60)
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

// parseList splits a comma-separated list
func parseList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
