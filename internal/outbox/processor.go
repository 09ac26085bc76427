package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/splitlease/proposal-sync/internal/config"
	"github.com/splitlease/proposal-sync/internal/domain/mirror"
	"github.com/splitlease/proposal-sync/internal/domain/proposal"
	"github.com/splitlease/proposal-sync/pkg/telemetry/correlation"
	"github.com/splitlease/proposal-sync/pkg/telemetry/tracing"
)

// DeliveryError describes a failed attempt to mirror one item.
type DeliveryError struct {
	ItemID        int64
	CorrelationID string
	Sequence      int
	Attempt       int
	Retryable     bool
	Err           error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver sync item %d (%s#%d) attempt %d: %v", e.ItemID, e.CorrelationID, e.Sequence, e.Attempt, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Processor drains the sync queue against the legacy mirror. It runs apart
// from request handling so a slow mirror never blocks a transition.
type Processor struct {
	store    *Store
	mirror   mirror.Mirror
	notifier Notifier
	alerter  Alerter
	logger   *zap.Logger
	owner    string

	pollInterval    time.Duration
	batchSize       int
	maxAttempts     int
	concurrency     int
	leaseTTL        time.Duration
	deliveryTimeout time.Duration
	backoff         *Backoff
	now             func() time.Time
}

func NewProcessor(store *Store, m mirror.Mirror, notifier Notifier, alerter Alerter, cfg *config.Config, logger *zap.Logger) *Processor {
	sc := cfg.Sync
	return &Processor{
		store:           store,
		mirror:          m,
		notifier:        notifier,
		alerter:         alerter,
		logger:          logger.Named("outbox.processor"),
		owner:           correlation.NewID(),
		pollInterval:    positiveDuration(sc.PollInterval, 5*time.Second),
		batchSize:       positiveInt(sc.BatchSize, 50),
		maxAttempts:     positiveInt(sc.MaxAttempts, 5),
		concurrency:     positiveInt(sc.Concurrency, 8),
		leaseTTL:        positiveDuration(sc.LeaseTTL, 2*time.Minute),
		deliveryTimeout: positiveDuration(sc.DeliveryTimeout, 15*time.Second),
		backoff:         NewBackoff(sc.InitialBackoff, sc.MaxBackoff),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Run drains on start, on every poll tick and whenever the notifier
// signals a fresh enqueue.
func (p *Processor) Run(ctx context.Context) {
	wake := p.notifier.Subscribe(ctx)

	if _, err := p.Drain(ctx); err != nil {
		p.logger.Error("outbox_initial_drain_failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Drain(ctx); err != nil {
				p.logger.Error("outbox_poll_failed", zap.Error(err))
			}
		case <-wake:
			if _, err := p.Drain(ctx); err != nil {
				p.logger.Error("outbox_wake_drain_failed", zap.Error(err))
			}
		}
	}
}

// Drain processes batches until nothing is claimable, so successors made
// eligible by a delivery in this pass go out without waiting for a tick.
func (p *Processor) Drain(ctx context.Context) (int, error) {
	total := 0
	for ctx.Err() == nil {
		n, err := p.processBatch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
	return total, ctx.Err()
}

func (p *Processor) processBatch(ctx context.Context) (int, error) {
	items, err := p.store.ClaimDue(ctx, p.owner, p.batchSize, p.leaseTTL)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	// ClaimDue never returns two items of one group or of one proposal, so
	// proposals proceed in parallel while each stays strictly ordered.
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, item := range items {
		g.Go(func() error {
			p.deliver(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	return len(items), nil
}

func (p *Processor) deliver(ctx context.Context, item Item) {
	ctx, span := tracing.Tracer().Start(ctx, "outbox.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("sync.item_id", item.ID),
		attribute.String("sync.correlation_id", item.CorrelationID),
		attribute.Int("sync.sequence", item.Sequence),
		attribute.String("sync.table", item.TargetTable),
		attribute.Int("sync.attempt", item.AttemptCount),
	)

	start := time.Now()
	err := p.apply(ctx, item)
	observeDelivery(item.TargetTable, err, time.Since(start))

	if err == nil {
		if markErr := p.store.MarkDelivered(ctx, item.ID, p.owner); markErr != nil {
			p.logger.Error("outbox_mark_delivered_failed", zap.Error(markErr), zap.Int64("item_id", item.ID))
			return
		}
		deliveredTotal.WithLabelValues(item.TargetTable).Inc()
		p.logger.Debug("sync_item_delivered",
			zap.Int64("item_id", item.ID),
			zap.String("correlation_id", item.CorrelationID),
			zap.Int("sequence", item.Sequence),
		)
		return
	}

	derr := &DeliveryError{
		ItemID:        item.ID,
		CorrelationID: item.CorrelationID,
		Sequence:      item.Sequence,
		Attempt:       item.AttemptCount,
		Retryable:     mirror.IsRetryable(err),
		Err:           err,
	}
	span.RecordError(derr)
	span.SetStatus(codes.Error, "delivery failed")

	if !derr.Retryable || item.AttemptCount >= p.maxAttempts {
		if markErr := p.store.MarkFailedPermanent(ctx, item.ID, p.owner, derr); markErr != nil {
			p.logger.Error("outbox_mark_failed_permanent_failed", zap.Error(markErr), zap.Int64("item_id", item.ID))
			return
		}
		p.alerter.SyncFailedPermanently(ctx, item, derr)
		return
	}

	next := p.now().Add(p.backoff.Delay(item.AttemptCount))
	if markErr := p.store.MarkRetry(ctx, item.ID, p.owner, next, derr); markErr != nil {
		p.logger.Error("outbox_mark_retry_failed", zap.Error(markErr), zap.Int64("item_id", item.ID))
		return
	}
	retriedTotal.WithLabelValues(item.TargetTable).Inc()
	p.logger.Warn("sync_item_retry_scheduled",
		zap.Error(err),
		zap.Int64("item_id", item.ID),
		zap.String("correlation_id", item.CorrelationID),
		zap.Int("attempt", item.AttemptCount),
		zap.Time("next_retry_at", next),
	)
}

func (p *Processor) apply(ctx context.Context, item Item) error {
	var fields map[string]any
	if err := json.Unmarshal(item.Payload, &fields); err != nil {
		// A payload that cannot be decoded will never succeed.
		return &decodeError{err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, p.deliveryTimeout)
	defer cancel()

	return p.mirror.Apply(ctx, mirror.Write{
		Table:          item.TargetTable,
		RecordID:       item.TargetRecordID,
		Operation:      proposal.Operation(item.Operation),
		Fields:         fields,
		IdempotencyKey: item.IdempotencyKey(),
	})
}

type decodeError struct{ err error }

func (e *decodeError) Error() string   { return "decode sync payload: " + e.err.Error() }
func (e *decodeError) Unwrap() error   { return e.err }
func (e *decodeError) Retryable() bool { return false }

// IsDeliveryError reports whether err came from a failed delivery.
func IsDeliveryError(err error) bool {
	var derr *DeliveryError
	return errors.As(err, &derr)
}

func positiveInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func positiveDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
