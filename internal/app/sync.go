package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/splitlease/proposal-sync/internal/outbox"
	"github.com/splitlease/proposal-sync/pkg/db"
	zaplog "github.com/splitlease/proposal-sync/pkg/log"
	"github.com/splitlease/proposal-sync/pkg/snowflake"
)

// SyncTools is what the operator commands work with.
type SyncTools struct {
	Queue     *outbox.Store
	Processor *outbox.Processor
	Logger    *zap.Logger
}

// WithSync starts the sync dependencies without the HTTP server or workers,
// runs fn and shuts everything down again.
func WithSync(ctx context.Context, fn func(ctx context.Context, tools SyncTools) error) error {
	var tools SyncTools
	app := fx.New(
		syncProviders,
		db.Module,
		snowflake.Module,
		zaplog.Module,
		fx.NopLogger,
		fx.Populate(&tools.Queue, &tools.Processor, &tools.Logger),
	)

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start sync dependencies: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			tools.Logger.Warn("sync_dependencies_stop_failed", zap.Error(err))
		}
	}()

	return fn(ctx, tools)
}
