package cli

import (
	"github.com/spf13/cobra"

	"github.com/splitlease/proposal-sync/internal/app"
)

func newServeCmd() *cobra.Command {
	var (
		migrateFirst bool
		noSync       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the proposal API and mirror committed changes to the legacy system",
		Long: `Serve the proposal API. Unless --no-sync is given, the same process drains
the sync queue into the legacy system and recovers abandoned leases.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if migrateFirst {
				if err := app.RunMigrations("up", app.MigrateOptions{}); err != nil {
					return err
				}
			}

			app.RunServer(app.ServerOptions{SyncWorkers: !noSync})
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "Apply pending schema migrations before starting")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Serve the API only; leave the sync queue to another process")

	return cmd
}
