package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Dardin-dale/huginbot-sub000/pkg/compute"
	"github.com/Dardin-dale/huginbot-sub000/pkg/lifecycle"
)

func newStartCommand() *cobra.Command {
	var (
		guildID string
		wait    bool
	)

	cmd := &cobra.Command{
		Use:   "start [world]",
		Short: "Start the server",
		Long: `Start the server instance, optionally selecting a world.

World selection precedence: the explicit argument, then the guild's
stored default, then the first world scoped to the guild. With no match
the server starts with whatever world is already active. The selected
world is persisted before the instance is asked to start.`,
		Example: `  # Start with the guild's default world
  huginbot start --guild 123456789012345678

  # Start a specific world and wait until the instance is running
  huginbot start Midgard --guild 123456789012345678 --wait`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			worldRef := ""
			if len(args) > 0 {
				worldRef = args[0]
			}

			result, err := app.controller.Start(ctx, guildID, worldRef)
			if err != nil {
				return err
			}

			if err := printResult(result.Message, result); err != nil {
				return err
			}

			if wait && result.Outcome == lifecycle.OutcomeStarted {
				return waitFor(cmd, app, compute.StateRunning)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&guildID, "guild", "g", "", "guild id the request acts for")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait until the instance is running")

	return cmd
}

// waitFor polls until the instance reaches target, printing each
// observed transition.
func waitFor(cmd *cobra.Command, app *app, target compute.InstanceState) error {
	lastState := compute.StateUnknown
	inst, err := app.controller.Wait(cmd.Context(), target, lifecycle.WaitConfig{
		OnPoll: func(inst compute.Instance) {
			if inst.State == lastState {
				return
			}
			lastState = inst.State
			if !jsonOutput {
				fmt.Printf("  ... %s\n", inst.State)
			}
		},
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("state", inst.State.String()).
		Str("address", inst.PublicAddress).
		Msg("Instance transition complete")

	message := fmt.Sprintf("server is %s", inst.State)
	if inst.PublicAddress != "" {
		message = fmt.Sprintf("server is %s at %s", inst.State, inst.PublicAddress)
	}
	return printResult(message, inst)
}
