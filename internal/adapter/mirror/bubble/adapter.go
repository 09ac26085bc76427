package bubble

import (
	"context"
	"fmt"

	"github.com/splitlease/proposal-sync/internal/domain/mirror"
	"github.com/splitlease/proposal-sync/internal/domain/proposal"
)

// ObjectClient is the subset of the legacy data API the mirror needs.
type ObjectClient interface {
	PutObject(ctx context.Context, table, id string, fields map[string]any, idempotencyKey string) error
	DeleteObject(ctx context.Context, table, id string, idempotencyKey string) error
}

// Adapter mirrors sync writes onto the legacy data API. Inserts and updates
// are both keyed upserts so a replayed write converges on the same record.
type Adapter struct {
	client ObjectClient
}

func NewAdapter(client ObjectClient) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) Apply(ctx context.Context, w mirror.Write) error {
	switch w.Operation {
	case proposal.OperationInsert, proposal.OperationUpdate:
		return a.client.PutObject(ctx, w.Table, w.RecordID, w.Fields, w.IdempotencyKey)
	case proposal.OperationDelete:
		return a.client.DeleteObject(ctx, w.Table, w.RecordID, w.IdempotencyKey)
	default:
		return &unsupportedOperationError{op: w.Operation}
	}
}

type unsupportedOperationError struct {
	op proposal.Operation
}

func (e *unsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported sync operation %q", e.op)
}

func (e *unsupportedOperationError) Retryable() bool { return false }
