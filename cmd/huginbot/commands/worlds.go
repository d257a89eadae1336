package commands

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Dardin-dale/huginbot-sub000/pkg/config"
	"github.com/Dardin-dale/huginbot-sub000/pkg/worlds"
)

func newWorldsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worlds",
		Short: "Inspect and manage the world registry",
	}

	cmd.AddCommand(newWorldsListCommand())
	cmd.AddCommand(newWorldsSetDefaultCommand())
	cmd.AddCommand(newWorldsValidateCommand())

	return cmd
}

func newWorldsListCommand() *cobra.Command {
	var guildID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List worlds",
		Long: `List configured worlds. With --guild, only the worlds that guild may
select (unscoped worlds plus its own) are shown.`,
		Example: `  huginbot worlds list

  # Worlds visible to one guild
  huginbot worlds list --guild 123456789012345678`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			var list []worlds.WorldConfig
			if guildID != "" {
				list = app.registry.VisibleTo(guildID)
			} else {
				list = app.registry.All()
			}

			if jsonOutput {
				return printResult("", list)
			}

			if len(list) == 0 {
				fmt.Println("No worlds configured.")
				return nil
			}
			for _, w := range list {
				scope := "any guild"
				if w.OwnerGuildID != "" {
					scope = "guild " + w.OwnerGuildID
				}
				fmt.Printf("%-24s %-24s %s\n", w.DisplayName, w.WorldID, scope)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&guildID, "guild", "g", "", "show only worlds visible to this guild")

	return cmd
}

func newWorldsSetDefaultCommand() *cobra.Command {
	var guildID string

	cmd := &cobra.Command{
		Use:   "set-default <world>",
		Short: "Set a guild's default world",
		Long: `Set the world a guild's start requests use when no explicit world is
given. The world must exist and must not be scoped to another guild.`,
		Example: `  huginbot worlds set-default Midgard --guild 123456789012345678`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			world, err := app.controller.SetDefault(cmd.Context(), guildID, args[0])
			if err != nil {
				return err
			}

			return printResult(
				fmt.Sprintf("default world for guild %s is now %s", guildID, world.DisplayName),
				world)
		},
	}

	cmd.Flags().StringVarP(&guildID, "guild", "g", "", "guild id to set the default for")
	cmd.MarkFlagRequired("guild")

	return cmd
}

func newWorldsValidateCommand() *cobra.Command {
	var (
		file  string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the world registry",
		Long: `Parse and validate the world registry without touching anything else.
All violations are reported with their source positions. With --watch
the file is re-validated every time it changes.`,
		Example: `  huginbot worlds validate

  # Re-lint on every save while editing
  huginbot worlds validate --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				path = cfg.WorldsFile
			}

			if err := lintWorlds(path); err != nil && !watch {
				return err
			}
			if !watch {
				return nil
			}

			return watchWorlds(cmd, path)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "registry file (default: worlds_file from config)")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-validate whenever the file changes")

	return cmd
}

// lintWorlds loads the registry and prints every violation.
func lintWorlds(path string) error {
	reg, err := worlds.NewLoader().Load(path)
	if err != nil {
		var loadErr *worlds.LoadError
		if errors.As(err, &loadErr) {
			for _, v := range loadErr.Violations {
				fmt.Printf("✗ %s\n", v)
			}
			return fmt.Errorf("%d violation(s) in %s", len(loadErr.Violations), path)
		}
		return err
	}

	fmt.Printf("✓ %s: %d world(s), no violations\n", path, reg.Len())
	return nil
}

// watchWorlds re-lints the registry on every write until the context is
// canceled. Editors replace files rather than writing in place, so the
// parent directory is watched and events are debounced.
func watchWorlds(cmd *cobra.Command, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	fmt.Printf("Watching %s (ctrl-c to stop)\n", path)

	var debounce *time.Timer
	relint := func() {
		if err := lintWorlds(path); err != nil {
			log.Debug().Err(err).Msg("Registry still has violations")
		}
	}

	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, relint)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Watcher error")
		}
	}
}
