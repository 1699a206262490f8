package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coreflow/backbone/internal/ratelimit"
)

type Config struct {
	Env        string
	Port       int
	DBURL      string
	DBPoolSize int

	BaseURL string

	JWTSecret     string
	JWTAccessTTL  time.Duration
	JWTRefreshTTL time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Cleanup   CleanupConfig
	Workers   map[string]WorkerPoolConfig
	RateLimit ratelimit.Config
}

// CleanupConfig mirrors cleanup.Config's fields one-to-one; kept separate
// so this package never imports internal/jobqueue/cleanup for a handful
// of primitive fields.
type CleanupConfig struct {
	Interval           time.Duration
	CompletedRetention time.Duration
	FailedRetention    time.Duration
	BatchSize          int
}

// WorkerPoolConfig mirrors worker.PoolConfig minus the Name, which is
// supplied by the map key it's stored under.
type WorkerPoolConfig struct {
	Types                  []string
	Count                  int
	JobTimeout             time.Duration
	MaxRetries             int
	BaseRetryDelay         time.Duration
	RetryBackoffMultiplier float64
}

func Load() Config {
	return Config{
		Env:        getEnv("APP_ENV", "dev"),
		Port:       getEnvInt("PORT", 8080),
		DBURL:      buildDBURL(),
		DBPoolSize: getEnvInt("DB_POOL_SIZE", 10),

		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		JWTSecret:     getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTAccessTTL:  getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute),
		JWTRefreshTTL: getEnvDuration("JWT_REFRESH_TTL", 30*24*time.Hour),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		Cleanup: CleanupConfig{
			Interval:           getEnvDuration("JOBS_CLEANUP_INTERVAL", time.Hour),
			CompletedRetention: getEnvDuration("JOBS_CLEANUP_COMPLETED_RETENTION", 2*time.Hour),
			FailedRetention:    getEnvDuration("JOBS_CLEANUP_FAILED_RETENTION", 48*time.Hour),
			BatchSize:          getEnvInt("JOBS_CLEANUP_BATCH_SIZE", 1000),
		},

		Workers:   defaultWorkerPools(),
		RateLimit: defaultRateLimitConfig(),
	}
}

// defaultWorkerPools describes a single general-purpose pool serving every
// job type this binary registers. Deployments that want dedicated pools
// per job type can still construct config.Config{Workers: ...} by hand;
// nothing here reads a WORKERS_* env var because pool topology is an
// operational decision better made in code than in a flat env namespace.
func defaultWorkerPools() map[string]WorkerPoolConfig {
	return map[string]WorkerPoolConfig{
		"default": {
			Types:                  []string{"notification.send"},
			Count:                  getEnvInt("JOBS_WORKER_DEFAULT_COUNT", 4),
			JobTimeout:             getEnvDuration("JOBS_WORKER_DEFAULT_TIMEOUT", 30*time.Second),
			MaxRetries:             getEnvInt("JOBS_WORKER_DEFAULT_MAX_RETRIES", 5),
			BaseRetryDelay:         getEnvDuration("JOBS_WORKER_DEFAULT_BASE_RETRY_DELAY", 2*time.Second),
			RetryBackoffMultiplier: getEnvFloat("JOBS_WORKER_DEFAULT_BACKOFF_MULTIPLIER", 2.0),
		},
	}
}

// defaultRateLimitConfig carries the user_create/user_verify profiles
// forward from the original rate limiter, since they're the only two
// actions with a stated exact tier shape; everything else falls back to
// Config.limitFor's derived two-tier default.
func defaultRateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		Enabled:           getEnvBool("RATE_LIMIT_ENABLED", true),
		DefaultWindow:     getEnvDuration("RATE_LIMIT_DEFAULT_WINDOW", time.Minute),
		DefaultMaxRequest: getEnvInt("RATE_LIMIT_DEFAULT_MAX_REQUESTS", 100),
		BackoffMultiplier: getEnvFloat("RATE_LIMIT_BACKOFF_MULTIPLIER", 2.0),
		Actions: map[string]ratelimit.ActionLimit{
			"user_create": {Tiers: []ratelimit.Tier{
				{Window: 5 * time.Second, MaxRequests: 2},
				{Window: 60 * time.Second, MaxRequests: 5},
				{Window: time.Hour, MaxRequests: 20},
			}},
			"user_verify": {Tiers: []ratelimit.Tier{
				{Window: 5 * time.Second, MaxRequests: 15},
				{Window: 20 * time.Second, MaxRequests: 30},
				{Window: 60 * time.Second, MaxRequests: 60},
				{Window: 300 * time.Second, MaxRequests: 150},
			}},
		},
	}
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "backbone")
	pass := getEnv("DB_PASSWORD", "backbone")
	name := getEnv("DB_NAME", "backbone")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
			return fallback
		}
		return num
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.ParseFloat(v, 64)
		if err != nil {
			fmt.Println(err)
			return fallback
		}
		return num
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			fmt.Println(err)
			return fallback
		}
		return d
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
