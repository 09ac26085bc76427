package reconciler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/splitlease/proposal-sync/internal/config"
	"github.com/splitlease/proposal-sync/internal/outbox"
)

// SyncStore is the part of the sync queue the reconciler maintains.
type SyncStore interface {
	RecoverExpiredLeases(ctx context.Context, maxAttempts int) (requeued int64, parked []outbox.Item, err error)
	CountByStatus(ctx context.Context) (map[outbox.Status]int64, error)
}

var errLeaseExpired = errors.New("lease expired after final attempt")

// SyncReconciler returns items abandoned by a crashed drain to the queue and
// keeps the queue depth gauges current.
type SyncReconciler struct {
	store       SyncStore
	notifier    outbox.Notifier
	alerter     outbox.Alerter
	logger      *zap.Logger
	interval    time.Duration
	maxAttempts int
}

func NewSyncReconciler(store *outbox.Store, notifier outbox.Notifier, alerter outbox.Alerter, cfg *config.Config, logger *zap.Logger) *SyncReconciler {
	return newSyncReconciler(store, notifier, alerter, cfg, logger)
}

func newSyncReconciler(store SyncStore, notifier outbox.Notifier, alerter outbox.Alerter, cfg *config.Config, logger *zap.Logger) *SyncReconciler {
	interval := cfg.Sync.ReconcileInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	maxAttempts := cfg.Sync.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &SyncReconciler{
		store:       store,
		notifier:    notifier,
		alerter:     alerter,
		logger:      logger.Named("sync.reconciler"),
		interval:    interval,
		maxAttempts: maxAttempts,
	}
}

func (r *SyncReconciler) Run(ctx context.Context) {
	if err := r.reconcile(ctx); err != nil {
		r.logger.Error("reconcile_initial_failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.reconcile(ctx); err != nil {
				r.logger.Error("reconcile_failed", zap.Error(err))
			}
		}
	}
}

func (r *SyncReconciler) reconcile(ctx context.Context) error {
	requeued, parked, err := r.store.RecoverExpiredLeases(ctx, r.maxAttempts)
	if err != nil {
		return err
	}
	if requeued > 0 || len(parked) > 0 {
		r.logger.Warn("sync_leases_recovered",
			zap.Int64("requeued", requeued),
			zap.Int("parked", len(parked)),
		)
	}
	for _, item := range parked {
		r.alerter.SyncFailedPermanently(ctx, item, errLeaseExpired)
	}
	if requeued > 0 {
		r.notifier.Notify(ctx)
	}

	counts, err := r.store.CountByStatus(ctx)
	if err != nil {
		return err
	}
	outbox.RecordStatusCounts(counts)

	if failed := counts[outbox.StatusFailedPermanent]; failed > 0 {
		r.logger.Warn("sync_items_awaiting_operator", zap.Int64("failed_permanent", failed))
	}
	return nil
}
