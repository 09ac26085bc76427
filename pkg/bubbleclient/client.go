package bubbleclient

import (
	"net/http"
	"time"
)

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *RateLimiter
	breaker CircuitBreaker
}

func NewFromEnv() (*Client, error) {
	cfg, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		breaker: NewCircuitBreaker(cfg),
	}
}
