package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	QuotaBackendMemory = "memory"
	QuotaBackendRedis  = "redis"
)

type Config struct {
	AppEnv  string
	AppAddr string

	DatabaseURL string
	RedisURL    string
	AMQPURL     string

	QuotaBackend string

	ProviderAPIURL    string
	PersonalBridgeURL string
	TransportTimeout  time.Duration
	WebhookTimeout    time.Duration

	TemplateCacheTTL   time.Duration
	TemplateReplaceAll bool

	DefaultPacingDelay time.Duration
	MaxPacingDelay     time.Duration

	SchedulerInterval time.Duration
	SchedulerBatch    int
	SchedulerLease    time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads .env when present and then the process environment.
// The returned bool is false when no .env file was found.
func Load() (Config, bool, error) {
	dotenv := godotenv.Load() == nil

	c := Config{}
	c.AppEnv = getEnv("APP_ENV", "development")
	c.AppAddr = getEnv("APP_ADDR", ":8080")

	c.DatabaseURL = getEnv("DATABASE_URL", "")
	c.RedisURL = getEnv("REDIS_URL", "")
	c.AMQPURL = getEnv("AMQP_URL", "")

	c.QuotaBackend = strings.ToLower(getEnv("QUOTA_BACKEND", QuotaBackendMemory))

	c.ProviderAPIURL = getEnv("PROVIDER_API_URL", "https://api.whatsapp.com/send")
	c.PersonalBridgeURL = getEnv("PERSONAL_BRIDGE_URL", "")
	c.TransportTimeout = getDuration("TRANSPORT_TIMEOUT", 15*time.Second)
	c.WebhookTimeout = getDuration("WEBHOOK_TIMEOUT", 5*time.Second)

	c.TemplateCacheTTL = getDuration("TEMPLATE_CACHE_TTL", 10*time.Minute)
	c.TemplateReplaceAll = getBool("TEMPLATE_REPLACE_ALL", false)

	c.DefaultPacingDelay = getDuration("DEFAULT_PACING_DELAY", time.Second)
	c.MaxPacingDelay = getDuration("MAX_PACING_DELAY", time.Minute)

	c.SchedulerInterval = getDuration("SCHEDULER_INTERVAL", 30*time.Second)
	c.SchedulerBatch = getInt("SCHEDULER_BATCH", 100)
	c.SchedulerLease = getDuration("SCHEDULER_LEASE", 10*time.Minute)

	c.RateLimitRPS = getFloat("RATE_LIMIT_RPS", 20)
	c.RateLimitBurst = getInt("RATE_LIMIT_BURST", 40)

	return c, dotenv, c.Validate()
}

func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	switch c.QuotaBackend {
	case QuotaBackendMemory:
	case QuotaBackendRedis:
		if c.RedisURL == "" {
			return errors.New("QUOTA_BACKEND=redis requires REDIS_URL")
		}
	default:
		return errors.New("QUOTA_BACKEND must be memory or redis")
	}
	if c.MaxPacingDelay < c.DefaultPacingDelay {
		return errors.New("MAX_PACING_DELAY must not be lower than DEFAULT_PACING_DELAY")
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
