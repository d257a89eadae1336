package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Long: `Show the live instance state alongside the stored world selection
and, when the server is freshly up, the current join code.`,
		Example: `  huginbot status

  # Machine-readable
  huginbot status --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			status, err := app.controller.Status(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printResult("", status)
			}

			fmt.Printf("Instance:  %s (%s)\n", status.Instance.ID, status.Instance.State)
			if status.Instance.PublicAddress != "" {
				fmt.Printf("Address:   %s\n", status.Instance.PublicAddress)
			}
			if status.Uptime > 0 {
				fmt.Printf("Uptime:    %s\n", status.Uptime.Round(time.Second))
			}
			if status.World != nil {
				fmt.Printf("World:     %s (selected %s)\n",
					status.World.World.DisplayName,
					status.World.UpdatedAt.Format("2006-01-02 15:04 MST"))
			} else {
				fmt.Println("World:     none selected yet")
			}
			if status.JoinCode != nil {
				fmt.Printf("Join code: %s\n", status.JoinCode.Code)
			}
			return nil
		},
	}

	return cmd
}
