package outbox

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Backoff computes the delay before the next attempt of an item.
type Backoff struct {
	initial time.Duration
	max     time.Duration
}

func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = 10 * time.Second
	}
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max}
}

// Delay returns the jittered exponential delay after the given attempt
// (1-based), never above the configured maximum.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	// ExponentialBackOff keeps state, so each call gets its own.
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.initial
	eb.MaxInterval = b.max
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.5
	eb.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = eb.NextBackOff()
	}
	if d > b.max {
		d = b.max
	}
	if d <= 0 {
		d = b.initial
	}
	return d
}
