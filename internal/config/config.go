package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName    string
	AppVersion string
	Port       string
	LogLevel   string
	NodeID     int64

	Environment string

	// AuthJWTSecret verifies bearer tokens issued by the identity provider.
	AuthJWTSecret string
	// AgentServiceToken is the credential automated agents present.
	AgentServiceToken string
	AdminAPIToken     string

	OTLPEndpoint string

	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Sync SyncConfig
}

// SyncConfig tunes the outbound sync drain.
type SyncConfig struct {
	PollInterval      time.Duration
	BatchSize         int
	MaxAttempts       int
	Concurrency       int
	LeaseTTL          time.Duration
	DeliveryTimeout   time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	ReconcileInterval time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "proposald"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Port:              getenv("PORT", "8080"),
		LogLevel:          strings.TrimSpace(getenv("LOG_LEVEL", "")),
		NodeID:            getenvInt64("NODE_ID", 1),
		Environment:       getenv("ENVIRONMENT", "development"),
		AuthJWTSecret:     strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		AgentServiceToken: strings.TrimSpace(getenv("AGENT_SERVICE_TOKEN", "")),
		AdminAPIToken:     strings.TrimSpace(getenv("ADMIN_API_TOKEN", "")),
		OTLPEndpoint:      strings.TrimSpace(getenv("OTLP_ENDPOINT", "")),
		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "proposals"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DB_SSL_MODE", "disable"),
		DBMaxIdleConn:     getenvInt("DB_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DB_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DB_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DB_CONN_MAX_IDLE_TIME", 60),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
		RedisDB:           getenvInt("REDIS_DB", 0),
		Sync: SyncConfig{
			PollInterval:      getenvDuration("SYNC_POLL_INTERVAL", 5*time.Second),
			BatchSize:         getenvInt("SYNC_BATCH_SIZE", 50),
			MaxAttempts:       getenvInt("SYNC_MAX_ATTEMPTS", 5),
			Concurrency:       getenvInt("SYNC_CONCURRENCY", 8),
			LeaseTTL:          getenvDuration("SYNC_LEASE_TTL", 2*time.Minute),
			DeliveryTimeout:   getenvDuration("SYNC_DELIVERY_TIMEOUT", 15*time.Second),
			InitialBackoff:    getenvDuration("SYNC_INITIAL_BACKOFF", 10*time.Second),
			MaxBackoff:        getenvDuration("SYNC_MAX_BACKOFF", 5*time.Minute),
			ReconcileInterval: getenvDuration("SYNC_RECONCILE_INTERVAL", 30*time.Second),
		},
	}

	return &cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("30s") or a bare number of seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}
