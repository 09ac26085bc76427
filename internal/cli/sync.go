package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/splitlease/proposal-sync/internal/app"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Inspect and repair the outbound legacy sync queue",
	}

	cmd.AddCommand(newSyncDrainCmd())
	cmd.AddCommand(newSyncFailedCmd())
	cmd.AddCommand(newSyncRequeueCmd())
	cmd.AddCommand(newSyncResolveCmd())
	return cmd
}

func newSyncDrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Deliver every due sync item once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithSync(cmd.Context(), func(ctx context.Context, tools app.SyncTools) error {
				n, err := tools.Processor.Drain(ctx)
				if err != nil {
					return err
				}
				tools.Logger.Info("sync_drain_finished", zap.Int("processed", n))
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d item(s)\n", n)
				return nil
			})
		},
	}
}

func newSyncFailedCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List items parked in failed_permanent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithSync(cmd.Context(), func(ctx context.Context, tools app.SyncTools) error {
				items, err := tools.Queue.ListFailed(ctx, limit)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tCORRELATION\tSEQ\tTABLE\tRECORD\tOP\tATTEMPTS\tERROR")
				for _, item := range items {
					fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\t%d\t%s\n",
						item.ID, item.CorrelationID, item.Sequence, item.TargetTable,
						item.TargetRecordID, item.Operation, item.AttemptCount, item.LastError)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of items to list")
	return cmd
}

func newSyncRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <item-id>",
		Short: "Give a failed item a fresh retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return app.WithSync(cmd.Context(), func(ctx context.Context, tools app.SyncTools) error {
				if err := tools.Queue.Requeue(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %d\n", id)
				return nil
			})
		},
	}
}

func newSyncResolveCmd() *cobra.Command {
	var operator string

	cmd := &cobra.Command{
		Use:   "resolve <item-id>",
		Short: "Mark a failed item as handled by hand, unblocking its group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			if operator == "" {
				operator = os.Getenv("USER")
			}
			return app.WithSync(cmd.Context(), func(ctx context.Context, tools app.SyncTools) error {
				if err := tools.Queue.Resolve(ctx, id, operator); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "resolved %d by %s\n", id, operator)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&operator, "operator", "", "Name recorded as the resolver (defaults to $USER)")
	return cmd
}

func parseItemID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid item id %q", raw)
	}
	return id, nil
}
