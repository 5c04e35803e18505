package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Load reads configuration from the environment, after loading a .env file
// when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"repricer-api"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`

	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"repricer"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`

	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic for per-item analysis results
	KafkaResultTopic string `env:"KAFKA_RESULT_TOPIC" env-default:"repricer-results"`
	// Kafka topic for run lifecycle events
	KafkaEventTopic string `env:"KAFKA_EVENT_TOPIC" env-default:"repricer-run-events"`

	// Marketplace settings
	// Base URL of the marketplace API
	MarketplaceBaseURL string `env:"MARKETPLACE_BASE_URL" env-default:""`
	// Marketplace account username
	MarketplaceUsername string `env:"MARKETPLACE_USERNAME" env-default:""`
	// Marketplace account password
	MarketplacePassword string `env:"MARKETPLACE_PASSWORD" env-default:""`
	// HTTP timeout for marketplace calls
	MarketplaceTimeout time.Duration `env:"MARKETPLACE_TIMEOUT" env-default:"30s"`

	// Worker settings
	// Number of concurrent competitor lookups
	WorkerMaxConcurrency int `env:"WORKER_MAX_CONCURRENCY" env-default:"1"`
	// Minimum pause between items
	WorkerDelayMin time.Duration `env:"WORKER_DELAY_MIN" env-default:"500ms"`
	// Maximum pause between items
	WorkerDelayMax time.Duration `env:"WORKER_DELAY_MAX" env-default:"1500ms"`

	// Retry settings
	// Maximum attempts per marketplace operation, counting the first call
	RetryMaxRetries int `env:"RETRY_MAX_RETRIES" env-default:"3"`

	// Scheduler settings
	// Gap between automatic reconciliation runs
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" env-default:"6h"`
	// Enable/disable the scheduler
	SchedulerEnabled bool `env:"SCHEDULER_ENABLED" env-default:"true"`
}
