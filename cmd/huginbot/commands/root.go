package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "huginbot",
		Short: "HuginBot - Valheim server lifecycle orchestration",
		Long: `HuginBot starts, stops, and watches a remote Valheim server instance,
tracks which world is active, triggers backups, and announces state
changes to your guild's webhook.

Features:
  - Start/stop the instance with world selection and per-guild defaults
  - Typed world registry via CUE, validated at load time
  - Backup-then-stop over SSH with archive listing and fetch
  - Idle shutdown with a post-boot grace period
  - Webhook notifications with retry, fallback, and dedup
  - Policy guard over mutating operations via Rego`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			if jsonOutput {
				// Machine consumers get one JSON stream, not console art.
				log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "huginbot.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newStartCommand())
	rootCmd.AddCommand(newStopCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newWorldsCommand())
	rootCmd.AddCommand(newBackupsCommand())
	rootCmd.AddCommand(newWebhookCommand())
	rootCmd.AddCommand(newServeCommand())

	return rootCmd
}
