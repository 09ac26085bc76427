package outbox

import (
	"context"

	"go.uber.org/zap"
)

// Alerter is told about every item that will not be retried automatically.
type Alerter interface {
	SyncFailedPermanently(ctx context.Context, item Item, err error)
}

// LogAlerter raises the alert as an error log line, which the log pipeline
// routes to the on-call channel.
type LogAlerter struct {
	logger *zap.Logger
}

func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	return &LogAlerter{logger: logger.Named("outbox.alert")}
}

func (a *LogAlerter) SyncFailedPermanently(_ context.Context, item Item, err error) {
	failedPermanentTotal.WithLabelValues(item.TargetTable).Inc()
	a.logger.Error("sync_item_failed_permanent",
		zap.Error(err),
		zap.Int64("item_id", item.ID),
		zap.String("correlation_id", item.CorrelationID),
		zap.Int("sequence", item.Sequence),
		zap.String("proposal_id", item.ProposalID),
		zap.String("target_table", item.TargetTable),
		zap.String("target_record_id", item.TargetRecordID),
		zap.Int("attempts", item.AttemptCount),
	)
}
