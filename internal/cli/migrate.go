package cli

import (
	"github.com/spf13/cobra"

	"github.com/splitlease/proposal-sync/internal/app"
)

func newMigrateCmd() *cobra.Command {
	var opts app.MigrateOptions

	cmd := &cobra.Command{
		Use:   "migrate [up|down|version]",
		Short: "Manage the proposal and sync queue schema",
		Long: `Apply (up) or roll back (down) schema migrations, or report the current
schema version. down requires --steps N or --all.`,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) > 0 {
				action = args[0]
			}

			return app.RunMigrations(action, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Steps, "steps", 0, "Apply or roll back at most N migrations")
	cmd.Flags().BoolVar(&opts.All, "all", false, "Allow down to roll back every migration")

	return cmd
}
