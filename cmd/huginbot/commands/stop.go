package commands

import (
	"github.com/spf13/cobra"

	"github.com/Dardin-dale/huginbot-sub000/pkg/compute"
)

func newStopCommand() *cobra.Command {
	var (
		guildID string
		force   bool
		wait    bool
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the server",
		Long: `Stop the server instance.

A normal stop asks the game host to archive the world first; the host
backs up, stops itself, and reports completion through the ingest
endpoint. With --force the instance is stopped immediately and the
backup is skipped.`,
		Example: `  # Graceful backup-then-stop
  huginbot stop --guild 123456789012345678

  # Immediate stop, no backup
  huginbot stop --force

  # Stop and wait for the instance to reach stopped
  huginbot stop --wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.controller.Stop(ctx, guildID, force)
			if err != nil {
				return err
			}

			if err := printResult(result.Message, result); err != nil {
				return err
			}

			if wait && result.State == compute.StateStopping {
				return waitFor(cmd, app, compute.StateStopped)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&guildID, "guild", "g", "", "guild id the request acts for")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "stop immediately, skipping the backup")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait until the instance is stopped")

	return cmd
}
