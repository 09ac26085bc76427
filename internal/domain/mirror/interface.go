package mirror

import (
	"context"
	"errors"

	"github.com/splitlease/proposal-sync/internal/domain/proposal"
)

// Write is one idempotent upsert or delete against the legacy system,
// addressed by table and stable record identifier.
type Write struct {
	Table          string
	RecordID       string
	Operation      proposal.Operation
	Fields         map[string]any
	IdempotencyKey string
}

// Mirror applies writes to the legacy system. Applying the same Write twice
// must leave the external record in the same state as applying it once.
type Mirror interface {
	Apply(ctx context.Context, w Write) error
}

// RetryableError is implemented by errors that know whether a later attempt
// can succeed.
type RetryableError interface {
	Retryable() bool
}

// IsRetryable reports whether err is worth another attempt. Errors that do
// not say otherwise (timeouts, dropped connections) are retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return true
}
