package testhelper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/splitlease/proposal-sync/sql/migrations"
)

// PostgresContainer is a throwaway Postgres with the proposal schema applied.
type PostgresContainer struct {
	Container *postgres.PostgresContainer
	DSN       string
	DB        *gorm.DB
}

// SetupPostgres starts Postgres, runs every embedded migration and opens a
// gorm connection configured like the service's own.
func SetupPostgres(ctx context.Context) (*PostgresContainer, error) {
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("proposals_test"),
		postgres.WithUsername("proposald"),
		postgres.WithPassword("proposald"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}
	c := &PostgresContainer{Container: pgContainer}

	c.DSN, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = c.Teardown(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	if err := migrateUp(c.DSN); err != nil {
		_ = c.Teardown(ctx)
		return nil, err
	}

	c.DB, err = gorm.Open(gormpostgres.Open(c.DSN), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		_ = c.Teardown(ctx)
		return nil, fmt.Errorf("failed to open gorm connection: %w", err)
	}
	return c, nil
}

func migrateUp(dsn string) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Teardown closes the connection and terminates the container.
func (c *PostgresContainer) Teardown(ctx context.Context) error {
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return c.Container.Terminate(ctx)
}
