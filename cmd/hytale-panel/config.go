// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"hytale-panel/internal/config"
)

// newConfigCommand creates the `hytale-panel config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage hytale-panel configuration",
		Long: `Manage hytale-panel configuration.

Configuration is stored in:
  - Linux: ~/.config/hytale-panel/config.cue
  - macOS: ~/Library/Application Support/hytale-panel/config.cue
  - Windows: %APPDATA%\hytale-panel\config.cue

Every key can be overridden with HYTALE_PANEL_<SECTION>_<KEY>, e.g.
HYTALE_PANEL_SERVER_PORT=8080.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := config.LoadWithPath(cmd.Context(), config.LoadOptions{
				ConfigFilePath: app.configFile,
				ConfigDirPath:  app.configDir,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if path == "" {
				path = "(using defaults)"
			}
			fmt.Fprintf(out, "// source: %s\n", path)
			fmt.Fprint(out, config.GenerateCUE(cfg))
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := app.resolveConfigDir()
			if err != nil {
				return err
			}
			path, created, err := config.CreateDefaultConfig(dir)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.OutOrStdout(), "%s Configuration already exists at %s\n", WarningStyle.Render("!"), path)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if app.configFile != "" {
				fmt.Fprintln(cmd.OutOrStdout(), app.configFile)
				return nil
			}
			dir, err := app.resolveConfigDir()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s.%s\n", dir, config.ConfigFileName, config.ConfigFileExt)
			return nil
		},
	})

	return cfgCmd
}

func (a *App) resolveConfigDir() (string, error) {
	if a.configDir != "" {
		return a.configDir, nil
	}
	return config.ConfigDir()
}
