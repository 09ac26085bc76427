package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/splitlease/proposal-sync/internal/adapter/mirror/bubble"
	"github.com/splitlease/proposal-sync/internal/adapter/repository/postgres"
	"github.com/splitlease/proposal-sync/internal/api"
	"github.com/splitlease/proposal-sync/internal/auth"
	"github.com/splitlease/proposal-sync/internal/config"
	"github.com/splitlease/proposal-sync/internal/domain/mirror"
	"github.com/splitlease/proposal-sync/internal/domain/proposal"
	"github.com/splitlease/proposal-sync/internal/outbox"
	"github.com/splitlease/proposal-sync/internal/reconciler"
	"github.com/splitlease/proposal-sync/internal/usecase/negotiation"
	"github.com/splitlease/proposal-sync/internal/user"
	"github.com/splitlease/proposal-sync/pkg/bubbleclient"
	"github.com/splitlease/proposal-sync/pkg/db"
	zaplog "github.com/splitlease/proposal-sync/pkg/log"
	"github.com/splitlease/proposal-sync/pkg/snowflake"
	"github.com/splitlease/proposal-sync/pkg/telemetry/tracing"
	"github.com/splitlease/proposal-sync/sql/migrations"
)

// syncProviders builds everything the outbound sync needs. The server and
// the one-shot sync commands share it.
var syncProviders = fx.Provide(
	// Config
	config.Load,

	// Infrastructure (Adapters)
	bubbleclient.NewFromEnv,
	newSyncQueue,

	// Domain Adapters (Bind Interfaces)
	fx.Annotate(
		postgres.NewRepository,
		fx.As(new(proposal.Repository)),
	),
	fx.Annotate(
		newMirror,
		fx.As(new(mirror.Mirror)),
	),
	fx.Annotate(
		outbox.NewLogAlerter,
		fx.As(new(outbox.Alerter)),
	),
	outbox.NewNotifier,
	outbox.NewProcessor,
)

// ServerOptions selects what a serve process runs besides the HTTP API.
type ServerOptions struct {
	// SyncWorkers runs the sync drain and the lease reconciler in-process.
	// Replicas started without them leave delivery to a dedicated worker or
	// to scheduled "sync drain" runs.
	SyncWorkers bool
}

// RunServer starts the HTTP server and, when enabled, the sync workers.
func RunServer(opts ServerOptions) {
	app := fx.New(
		fx.Supply(opts),
		syncProviders,
		fx.Provide(
			// Use Cases
			negotiation.NewUseCase,

			// Identity
			newUserService,
			auth.NewMiddleware,

			reconciler.NewSyncReconciler,

			// API
			api.NewRouter,
		),
		db.Module,        // Database Module
		snowflake.Module, // Snowflake ID Module
		zaplog.Module,    // Logger Module
		fx.Invoke(tracing.Register),
		fx.Invoke(registerHooks),
	)

	app.Run()
}

func newSyncQueue(conn *gorm.DB, node *snowflake.Node) *outbox.Store {
	return outbox.NewStore(conn, node)
}

func newUserService(conn *gorm.DB, node *snowflake.Node) *user.Service {
	return user.NewService(conn, node)
}

func newMirror(client *bubbleclient.Client) *bubble.Adapter {
	return bubble.NewAdapter(client)
}

// migrationURL renders the golang-migrate connection URL for cfg.
func migrationURL(cfg *config.Config) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.DBUser, cfg.DBPassword),
		Host:     cfg.DBHost + ":" + cfg.DBPort,
		Path:     "/" + cfg.DBName,
		RawQuery: url.Values{"sslmode": []string{cfg.DBSSLMode}}.Encode(),
	}
	return u.String()
}

// MigrateOptions bounds how far a migration run moves the schema.
type MigrateOptions struct {
	// Steps limits up or down to that many migrations. Zero means all for up.
	Steps int
	// All allows down without Steps, dropping the whole schema.
	All bool
}

// RunMigrations executes database migrations: up, down or version.
func RunMigrations(command string, opts MigrateOptions) error {
	if command == "" {
		command = "up"
	}

	apply, err := planMigration(command, opts)
	if err != nil {
		return err
	}

	cfg := config.Load()
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("migration_started", zap.String("command", command), zap.Int("steps", opts.Steps))

	d, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migration files: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, migrationURL(cfg))
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	err = apply(m)
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("migration_no_change", zap.String("command", command))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}

	event := "migration_applied"
	if command == "version" {
		event = "schema_version"
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Info(event, zap.String("command", command), zap.String("schema_version", "none"))
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	default:
		logger.Info(event,
			zap.String("command", command),
			zap.Uint("schema_version", version),
			zap.Bool("dirty", dirty),
		)
	}
	return nil
}

// planMigration validates a migration request before any connection is made.
func planMigration(command string, opts MigrateOptions) (func(*migrate.Migrate) error, error) {
	if opts.Steps < 0 {
		return nil, fmt.Errorf("steps must not be negative")
	}

	switch command {
	case "up":
		if opts.Steps > 0 {
			return func(m *migrate.Migrate) error { return m.Steps(opts.Steps) }, nil
		}
		return (*migrate.Migrate).Up, nil
	case "down":
		if opts.Steps > 0 {
			return func(m *migrate.Migrate) error { return m.Steps(-opts.Steps) }, nil
		}
		if !opts.All {
			return nil, fmt.Errorf("down drops the whole proposal schema: pass --steps N or --all")
		}
		return (*migrate.Migrate).Down, nil
	case "version":
		// Nothing to apply; RunMigrations reports the current version.
		return func(*migrate.Migrate) error { return nil }, nil
	default:
		return nil, fmt.Errorf("unknown migration command: %s", command)
	}
}

func registerHooks(lc fx.Lifecycle, cfg *config.Config, opts ServerOptions, router *api.Router, processor *outbox.Processor, syncReconciler *reconciler.SyncReconciler, logger *zap.Logger) {
	var processorCancel context.CancelFunc
	var reconcilerCancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("http_server_starting", zap.String("port", cfg.Port), zap.Bool("sync_workers", opts.SyncWorkers))

			if opts.SyncWorkers {
				processorCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
				processorCancel = cancel
				go processor.Run(processorCtx)

				reconcilerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
				reconcilerCancel = cancel
				go syncReconciler.Run(reconcilerCtx)
			}

			go func() {
				if err := router.Run(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("http_server_failed", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("http_server_stopping")

			if processorCancel != nil {
				processorCancel()
			}
			if reconcilerCancel != nil {
				reconcilerCancel()
			}

			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			if err := router.Shutdown(shutdownCtx); err != nil {
				logger.Error("http_server_forced_shutdown", zap.Error(err))
				return err
			}

			logger.Info("http_server_stopped")
			return nil
		},
	})
}
