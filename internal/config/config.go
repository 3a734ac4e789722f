package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the API and the job worker.
type Config struct {
	Port string

	AuthToken string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisQueueKey string

	MaxActiveJobs        int
	JobTimeoutMinutes    int
	WorkerEnabled        bool
	WorkerPollIntervalMS int
	WorkerIdleDelayMS    int

	UploadDir       string
	OutputDir       string
	MaxUploadSizeMB int

	JobRetentionHours      int
	CleanupIntervalMinutes int

	RateLimitRPS   float64
	RateLimitBurst int

	CORSAllowedOrigins []string
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisQueueKey: getEnv("REDIS_QUEUE_KEY", "json2excel:jobs"),

		MaxActiveJobs:        getEnvPositiveInt("MAX_ACTIVE_JOBS", 5),
		JobTimeoutMinutes:    getEnvPositiveInt("JOB_TIMEOUT_MINUTES", 10),
		WorkerEnabled:        getEnvBool("WORKER_ENABLED", true),
		WorkerPollIntervalMS: getEnvPositiveInt("WORKER_POLL_INTERVAL_MS", 1000),
		WorkerIdleDelayMS:    getEnvInt("WORKER_IDLE_DELAY_MS", 100),

		UploadDir:       getEnv("UPLOAD_DIR", "data/uploads"),
		OutputDir:       getEnv("OUTPUT_DIR", "data/outputs"),
		MaxUploadSizeMB: getEnvPositiveInt("MAX_UPLOAD_SIZE_MB", 16),

		JobRetentionHours:      getEnvPositiveInt("JOB_RETENTION_HOURS", 24),
		CleanupIntervalMinutes: getEnvPositiveInt("CLEANUP_INTERVAL_MINUTES", 30),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}
}

func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutMinutes) * time.Minute
}

func (c Config) WorkerPollInterval() time.Duration {
	return time.Duration(c.WorkerPollIntervalMS) * time.Millisecond
}

func (c Config) WorkerIdleDelay() time.Duration {
	if c.WorkerIdleDelayMS < 0 {
		return 0
	}
	return time.Duration(c.WorkerIdleDelayMS) * time.Millisecond
}

func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadSizeMB) << 20
}

func (c Config) JobRetention() time.Duration {
	return time.Duration(c.JobRetentionHours) * time.Hour
}

func (c Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvPositiveInt is for limits where zero or less makes no sense.
func getEnvPositiveInt(key string, fallback int) int {
	parsed := getEnvInt(key, fallback)
	if parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}
