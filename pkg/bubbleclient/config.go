package bubbleclient

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls the legacy data API client.
type Config struct {
	BaseURL string        `env:"BUBBLE_API_URL"`
	APIKey  string        `env:"BUBBLE_API_KEY"`
	Timeout time.Duration `env:"BUBBLE_TIMEOUT" envDefault:"15s"`

	// RateLimit is in requests per minute.
	RateLimit int `env:"BUBBLE_RATE_LIMIT" envDefault:"600"`
	RateBurst int `env:"BUBBLE_RATE_BURST" envDefault:"10"`

	CircuitBreakerEnabled bool          `env:"BUBBLE_CIRCUIT_BREAKER_ENABLED" envDefault:"true"`
	CBFailureThreshold    int           `env:"BUBBLE_CIRCUIT_BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	CBRecoveryTime        time.Duration `env:"BUBBLE_CIRCUIT_BREAKER_RECOVERY_TIME" envDefault:"60s"`
	CBMinRequests         int           `env:"BUBBLE_CIRCUIT_BREAKER_MIN_REQUESTS" envDefault:"10"`
	CBSamplingDuration    time.Duration `env:"BUBBLE_CIRCUIT_BREAKER_SAMPLING_DURATION" envDefault:"60s"`
	CBHalfOpenMaxSuccess  int           `env:"BUBBLE_CIRCUIT_BREAKER_HALF_OPEN_MAX_SUCCESS" envDefault:"3"`
}

func LoadFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse bubble client env: %w", err)
	}
	return cfg, nil
}
