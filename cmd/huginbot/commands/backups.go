package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newBackupsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Work with world backups on the game host",
		Long: `List and fetch the world archives the backup script leaves on the
game host. Requires the backup channel (remote.enabled) and a running
instance to connect to.`,
	}

	cmd.AddCommand(newBackupsListCommand())
	cmd.AddCommand(newBackupsFetchCommand())

	return cmd
}

func newBackupsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List backups on the game host",
		Example: `  huginbot backups list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if app.remote == nil {
				return fmt.Errorf("backup channel is not configured; enable remote in %s", configPath)
			}

			backups, err := app.remote.ListBackups(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				return printResult("", backups)
			}

			if len(backups) == 0 {
				fmt.Println("No backups found.")
				return nil
			}
			for _, b := range backups {
				fmt.Printf("%-48s %10s  %s\n",
					b.Name,
					humanize.IBytes(uint64(b.SizeBytes)),
					b.ModTime.Format("2006-01-02 15:04 MST"))
			}
			return nil
		},
	}

	return cmd
}

func newBackupsFetchCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "fetch <name>",
		Short: "Download a backup archive",
		Example: `  huginbot backups fetch midgard-20260829T0300.tar.gz

  # Download to a specific path
  huginbot backups fetch midgard-20260829T0300.tar.gz --output /tmp/midgard.tar.gz`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if app.remote == nil {
				return fmt.Errorf("backup channel is not configured; enable remote in %s", configPath)
			}

			dst := output
			if dst == "" {
				dst = args[0]
			}

			size, err := app.remote.FetchBackup(cmd.Context(), args[0], dst)
			if err != nil {
				return err
			}

			return printResult(
				fmt.Sprintf("fetched %s (%s) to %s", args[0], humanize.IBytes(uint64(size)), dst),
				map[string]any{"name": args[0], "size_bytes": size, "path": dst})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "local destination path")

	return cmd
}
