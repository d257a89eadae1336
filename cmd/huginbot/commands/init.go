package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Dardin-dale/huginbot-sub000/pkg/params"
	"github.com/Dardin-dale/huginbot-sub000/pkg/worlds"
)

const starterConfig = `# HuginBot configuration

# Data directory for the parameter database
data_dir: %s

provider:
  kind: ec2
  instance_id: i-REPLACE_ME
  region: eu-west-1

# World registry (CUE). Validate with: huginbot worlds validate
worlds_file: %s

# Backup channel to the game host. Required for non-forced stops of a
# running server.
remote:
  enabled: false
  user: valheim
  # private_key_path: ~/.ssh/id_ed25519
  # backup_dir: /opt/valheim/backups

idle:
  min_uptime: 10m
  window: 10m

server:
  listen_addr: ":8420"
  # Set HUGINBOT_INGEST_TOKEN instead of storing the token here.

telemetry:
  log_level: info
  metrics_enabled: false

# Secrets via environment:
#   HUGINBOT_STORE_KEY    - seals passwords, join codes, webhook URLs at rest
#   HUGINBOT_INGEST_TOKEN - bearer token for the ingest endpoints
`

const starterWorlds = `// HuginBot world registry.
//
// Each entry needs a display name, the save id the server launches
// with, and a password of at least five characters. Scope a world to
// one guild with "guild"; unscoped worlds are visible to everyone.
worlds: [
	{
		name:     "Midgard"
		world:    "midgard"
		password: "changeme1"
	},
	// {
	// 	name:     "Guild Only"
	// 	world:    "guildonly"
	// 	password: "secret99"
	// 	guild:    "123456789012345678"
	// },
]
`

func newInitCommand() *cobra.Command {
	var (
		dataDir    string
		worldsFile string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a HuginBot workspace",
		Long: `Initialize a HuginBot workspace: the data directory, the parameter
database, a commented starter config, and a starter world registry.

Existing files are left alone; init only fills in what is missing.`,
		Example: `  # Initialize in the current directory
  huginbot init

  # Initialize with a custom config path
  huginbot init --config /etc/huginbot/huginbot.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().
				Str("config", configPath).
				Str("data_dir", dataDir).
				Msg("Initializing workspace")

			ctx := cmd.Context()

			if err := os.MkdirAll(dataDir, 0700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dataDir, err)
			}
			fmt.Printf("✓ Created directory: %s\n", dataDir)

			dbPath := filepath.Join(dataDir, "huginbot.db")
			store, err := params.New(params.Config{
				Path:          dbPath,
				EncryptionKey: os.Getenv("HUGINBOT_STORE_KEY"),
			})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			defer store.Close()

			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Printf("✓ Initialized parameter database: %s\n", dbPath)

			if _, err := os.Stat(worldsFile); os.IsNotExist(err) {
				if err := os.WriteFile(worldsFile, []byte(starterWorlds), 0644); err != nil {
					return fmt.Errorf("failed to write world registry: %w", err)
				}
				fmt.Printf("✓ Created world registry: %s\n", worldsFile)
			} else {
				fmt.Printf("- World registry already exists: %s\n", worldsFile)
			}

			// Starter registry must pass its own validation.
			if _, err := worlds.NewLoader().Load(worldsFile); err != nil {
				fmt.Printf("! World registry has problems: %v\n", err)
			}

			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				content := fmt.Sprintf(starterConfig, dataDir, worldsFile)
				if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
					return fmt.Errorf("failed to write config file: %w", err)
				}
				fmt.Printf("✓ Created config file: %s\n", configPath)
			} else {
				fmt.Printf("- Config file already exists: %s\n", configPath)
			}

			fmt.Println("\nNext steps:")
			fmt.Println("  1. Set provider.instance_id and region in", configPath)
			fmt.Println("  2. Edit", worldsFile, "and set real world passwords")
			fmt.Println("  3. huginbot webhook bind --guild <id> --url <webhook url>")
			fmt.Println("  4. huginbot start")

			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "data directory")
	cmd.Flags().StringVar(&worldsFile, "worlds-file", "./worlds.cue", "world registry path")

	return cmd
}
