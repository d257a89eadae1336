package commands

import (
	"fmt"
	"net/url"
	"os/user"

	"github.com/spf13/cobra"
)

func newWebhookCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage guild notification webhooks",
	}

	cmd.AddCommand(newWebhookBindCommand())
	cmd.AddCommand(newWebhookTestCommand())
	cmd.AddCommand(newWebhookUnbindCommand())

	return cmd
}

func newWebhookBindCommand() *cobra.Command {
	var (
		guildID    string
		webhookURL string
	)

	cmd := &cobra.Command{
		Use:   "bind",
		Short: "Bind a guild to a webhook endpoint",
		Long: `Bind a guild to the webhook URL its notifications are delivered to.
The URL is sealed at rest when store encryption is enabled. Binding
again overwrites the previous endpoint.`,
		Example: `  huginbot webhook bind --guild 123456789012345678 \
    --url https://discord.com/api/webhooks/...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := url.Parse(webhookURL)
			if err != nil || parsed.Scheme != "https" || parsed.Host == "" {
				return fmt.Errorf("webhook url must be a valid https URL")
			}

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			boundBy := ""
			if u, err := user.Current(); err == nil {
				boundBy = u.Username
			}

			if err := app.store.BindWebhook(cmd.Context(), guildID, webhookURL, boundBy); err != nil {
				return fmt.Errorf("failed to bind webhook: %w", err)
			}

			return printResult(
				fmt.Sprintf("webhook bound for guild %s", guildID),
				map[string]string{"guild_id": guildID})
		},
	}

	cmd.Flags().StringVarP(&guildID, "guild", "g", "", "guild id to bind")
	cmd.Flags().StringVarP(&webhookURL, "url", "u", "", "webhook endpoint URL")
	cmd.MarkFlagRequired("guild")
	cmd.MarkFlagRequired("url")

	return cmd
}

func newWebhookTestCommand() *cobra.Command {
	var guildID string

	cmd := &cobra.Command{
		Use:     "test",
		Short:   "Send a test message through a guild's webhook",
		Example: `  huginbot webhook test --guild 123456789012345678`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.dispatcher.TestDelivery(cmd.Context(), guildID); err != nil {
				return fmt.Errorf("test delivery failed: %w", err)
			}

			return printResult("test message delivered", map[string]string{"guild_id": guildID})
		},
	}

	cmd.Flags().StringVarP(&guildID, "guild", "g", "", "guild id to test")
	cmd.MarkFlagRequired("guild")

	return cmd
}

func newWebhookUnbindCommand() *cobra.Command {
	var guildID string

	cmd := &cobra.Command{
		Use:     "unbind",
		Short:   "Remove a guild's webhook binding",
		Example: `  huginbot webhook unbind --guild 123456789012345678`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.store.UnbindWebhook(cmd.Context(), guildID); err != nil {
				return fmt.Errorf("failed to unbind webhook: %w", err)
			}

			return printResult(
				fmt.Sprintf("webhook unbound for guild %s", guildID),
				map[string]string{"guild_id": guildID})
		},
	}

	cmd.Flags().StringVarP(&guildID, "guild", "g", "", "guild id to unbind")
	cmd.MarkFlagRequired("guild")

	return cmd
}
