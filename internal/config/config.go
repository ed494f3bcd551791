// Package config defines configuration parsing and validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration parsed from environment
// variables (§6.3).
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	// Port is the ambient health/metrics mux port (§10.6); the
	// workflow-trigger HTTP endpoint itself is out of scope.
	Port int `env:"PORT" envDefault:"8080"`

	// Source API (§6.1).
	APIURL              string        `env:"API_URL" envDefault:"http://localhost:8000" validate:"required,url"`
	MaxPageSize         int           `env:"MAX_PAGE_SIZE" envDefault:"250" validate:"min=1,max=250"`
	RequestTimeout      time.Duration `env:"ETL_REQUEST_TIMEOUT" envDefault:"30s"`
	HTTPConcurrency     int           `env:"ETL_MAX_HTTP_CONCURRENCY" envDefault:"8" validate:"min=1"`
	HTTPRetryTotal      int           `env:"ETL_HTTP_RETRY_TOTAL" envDefault:"5" validate:"min=0"`
	HTTPRetryBackoff    time.Duration `env:"ETL_HTTP_RETRY_BACKOFF" envDefault:"500ms"`
	MaxChatMessageChats int           `env:"ETL_MAX_CHAT_MESSAGE_CHATS" envDefault:"500" validate:"min=0"`

	// Heartbeats and worker sizing (§4.4, §4.5, §5).
	HeartbeatEveryPages int `env:"ETL_HEARTBEAT_EVERY_PAGES" envDefault:"5" validate:"min=1"`
	HeartbeatEveryRows  int `env:"ETL_HEARTBEAT_EVERY_ROWS" envDefault:"1000" validate:"min=1"`
	ActivityWorkers     int `env:"ETL_ACTIVITY_WORKERS" envDefault:"8" validate:"min=1"`

	// Analytics DB (§6.2).
	AnalyticsDBHost     string `env:"ANALYTICS_DB_HOST" envDefault:"localhost"`
	AnalyticsDBPort     int    `env:"ANALYTICS_DB_PORT" envDefault:"5432"`
	AnalyticsDBName     string `env:"ANALYTICS_DB_NAME" envDefault:"analytics"`
	AnalyticsDBUser     string `env:"ANALYTICS_DB_USER" envDefault:"postgres"`
	AnalyticsDBPassword string `env:"ANALYTICS_DB_PASSWORD" envDefault:"postgres"`
	AnalyticsDBSSLMode  string `env:"ANALYTICS_DB_SSLMODE" envDefault:"disable"`

	// Loader batching (§4.7).
	LoaderBatchSize      int `env:"ETL_LOADER_BATCH_SIZE" envDefault:"1000" validate:"min=1"`
	LoaderSmallBatchSize int `env:"ETL_LOADER_SMALL_BATCH_SIZE" envDefault:"100" validate:"min=1"`

	// Workflow driver transport (§4.8, §10.2): the task queue and its
	// retry/heartbeat state store.
	TemporalAddress  string   `env:"TEMPORAL_ADDRESS" envDefault:""`
	KafkaBrokers     []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:19092"`
	ActivityTopic    string   `env:"ETL_ACTIVITY_TOPIC" envDefault:"etl-task-queue"`
	ActivityDLQTopic string   `env:"ETL_ACTIVITY_DLQ_TOPIC" envDefault:"etl-task-queue-dlq"`
	RedisAddr        string   `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword    string   `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB          int      `env:"REDIS_DB" envDefault:"0"`

	// Spill file layout (§6.5).
	SpillDir string `env:"ETL_SPILL_DIR" envDefault:"/tmp"`

	// Observability.
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"messaging-analytics-etl"`

	// Ambient HTTP mux (§10.6): health/readiness/metrics only.
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"30"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// Spill cleanup sweeper (adapted from the teacher's data-retention
	// sweeper, repurposed to stale spill files instead of stale DB rows).
	SpillRetention  time.Duration `env:"ETL_SPILL_RETENTION" envDefault:"24h"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"24h"`

	// Queue consumer concurrency (§5).
	ConsumerMaxConcurrency int `env:"CONSUMER_MAX_CONCURRENCY" envDefault:"8"`

	// Worker scaling.
	WorkerScalingInterval time.Duration `env:"WORKER_SCALING_INTERVAL" envDefault:"2s"`
	WorkerIdleTimeout     time.Duration `env:"WORKER_IDLE_TIMEOUT" envDefault:"30s"`

	// DLQ sweeping.
	DLQMaxAge          time.Duration `env:"DLQ_MAX_AGE" envDefault:"168h"`
	DLQCleanupInterval time.Duration `env:"DLQ_CLEANUP_INTERVAL" envDefault:"24h"`
}

// AnalyticsDSN builds a libpq-style connection string from the
// discrete ANALYTICS_DB_* fields, grounded on the discrete
// {host,port,database,user,password} config dict the source system
// builds its own DSN from (§6.2).
func (c Config) AnalyticsDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.AnalyticsDBUser, c.AnalyticsDBPassword, c.AnalyticsDBHost, c.AnalyticsDBPort, c.AnalyticsDBName, c.AnalyticsDBSSLMode,
	)
}

// Load parses environment variables into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: invalid configuration: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }
