// Package config loads process configuration once at startup from the
// environment, per the operational table in the spec. It never re-reads
// after Load returns.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL        string
	DatabaseReplicaURL string // empty routes reads to primary
	ReplicaLagLimit    time.Duration

	RedisURL  string
	RedisPass string

	JWTSecret        string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration

	FrontendURL string
	NodeEnv     string

	ServerPort    string
	WebSocketPort string

	PrometheusEnabled bool
	PrometheusPort    string

	RateLimitEnabled bool
	RateLimitLimit   float64
	RateLimitBurst   int

	WorkerBatchSize    int
	WorkerPollInterval time.Duration
	WorkerRetryDelay   time.Duration
	WorkerMaxRetries   int
	WorkerErrorBackoff time.Duration

	PushFanoutGRPCEnabled bool
	PushFanoutGRPCPort    string

	RunMigrations bool

	OTLPEndpoint string
}

func Load() *Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("config: no .env file found, using environment variables directly")
	}

	accessTTL, _ := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "15"))
	refreshTTL, _ := strconv.Atoi(getEnv("REFRESH_TOKEN_TTL_DAYS", "7"))
	replicaLag, _ := strconv.Atoi(getEnv("REPLICA_LAG_LIMIT_SECONDS", "10"))

	promEnabled, _ := strconv.ParseBool(getEnv("PROMETHEUS_ENABLED", "true"))
	rateLimitEnabled, _ := strconv.ParseBool(getEnv("RATE_LIMIT_ENABLED", "true"))
	rateLimitLimit, _ := strconv.ParseFloat(getEnv("RATE_LIMIT_LIMIT", "100"), 64)
	rateLimitBurst, _ := strconv.Atoi(getEnv("RATE_LIMIT_BURST", "100"))

	workerBatchSize, _ := strconv.Atoi(getEnv("WORKER_BATCH_SIZE", "10"))
	workerPollInterval, _ := strconv.Atoi(getEnv("WORKER_POLL_INTERVAL_SECONDS", "1"))
	workerRetryDelay, _ := strconv.Atoi(getEnv("WORKER_RETRY_DELAY_SECONDS", "60"))
	workerMaxRetries, _ := strconv.Atoi(getEnv("WORKER_MAX_RETRIES", "5"))
	workerErrorBackoff, _ := strconv.Atoi(getEnv("WORKER_ERROR_BACKOFF_SECONDS", "5"))

	pushGRPCEnabled, _ := strconv.ParseBool(getEnv("PUSH_FANOUT_GRPC_ENABLED", "false"))
	runMigrations, _ := strconv.ParseBool(getEnv("RUN_MIGRATIONS", "false"))

	return &Config{
		DatabaseURL:        getEnv("DATABASE_URL", "postgres://localhost:5432/messenger?sslmode=disable"),
		DatabaseReplicaURL: getEnv("DATABASE_REPLICA_URL", ""),
		ReplicaLagLimit:    time.Duration(replicaLag) * time.Second,

		RedisURL:  getEnv("REDIS_URL", "localhost:6379"),
		RedisPass: getEnv("REDIS_PASSWORD", ""),

		JWTSecret:        getEnv("JWT_SECRET", "dev-access-secret"),
		JWTRefreshSecret: getEnv("JWT_REFRESH_SECRET", "dev-refresh-secret"),
		AccessTokenTTL:   time.Minute * time.Duration(accessTTL),
		RefreshTokenTTL:  24 * time.Hour * time.Duration(refreshTTL),

		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),
		NodeEnv:     getEnv("NODE_ENV", "development"),

		ServerPort:    getEnv("SERVER_PORT", "8080"),
		WebSocketPort: getEnv("WS_PORT", "8081"),

		PrometheusEnabled: promEnabled,
		PrometheusPort:    getEnv("PROMETHEUS_PORT", "9091"),

		RateLimitEnabled: rateLimitEnabled,
		RateLimitLimit:   rateLimitLimit,
		RateLimitBurst:   rateLimitBurst,

		WorkerBatchSize:    workerBatchSize,
		WorkerPollInterval: time.Duration(workerPollInterval) * time.Second,
		WorkerRetryDelay:   time.Duration(workerRetryDelay) * time.Second,
		WorkerMaxRetries:   workerMaxRetries,
		WorkerErrorBackoff: time.Duration(workerErrorBackoff) * time.Second,

		PushFanoutGRPCEnabled: pushGRPCEnabled,
		PushFanoutGRPCPort:    getEnv("PUSH_FANOUT_GRPC_PORT", "9099"),

		RunMigrations: runMigrations,

		OTLPEndpoint: getEnv("OTLP_ENDPOINT", "localhost:4317"),
	}
}

func (c *Config) IsProduction() bool { return strings.EqualFold(c.NodeEnv, "production") }

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
