// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"hytale-panel/internal/issue"
	"hytale-panel/internal/pushserver"
)

var errWipeNotConfirmed = errors.New("refusing to wipe without --yes")

func newCheckCommand(app *App) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Show whether the server files and downloader credentials are present",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := app.loadConfig(ctx, nil)
			if err != nil {
				return err
			}
			svc, err := app.Connect(ctx, cfg, app.logger(cfg))
			if err != nil {
				return err
			}
			if err := locateContainer(ctx, svc); err != nil {
				return err
			}

			st := pushserver.FilesStatus{
				ArtifactStatus: svc.Files.CheckServerFiles(ctx),
				Authenticated:  svc.Files.CheckAuth(ctx),
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}

			fmt.Fprintln(out, TitleStyle.Render("Server files")+SubtitleStyle.Render(" in "+svc.Workflow.Env.Name()))
			fmt.Fprintf(out, "  %s server jar\n", checkMark(st.HasJar))
			fmt.Fprintf(out, "  %s assets\n", checkMark(st.HasAssets))
			fmt.Fprintf(out, "  %s downloader credentials\n", checkMark(st.Authenticated))
			if st.Ready {
				fmt.Fprintln(out, SuccessStyle.Render("Ready"))
			} else {
				fmt.Fprintln(out, WarningStyle.Render("Not provisioned")+SubtitleStyle.Render(" - run ")+CmdStyle.Render("hytale-panel provision"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	return cmd
}

func newWipeCommand(app *App) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Remove the server files, the archive and the downloader credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return issue.NewErrorContext().
					WithOperation("wipe server data").
					WithSuggestion("Re-run with --yes to confirm").
					Wrap(errWipeNotConfirmed).
					BuildError()
			}
			ctx := cmd.Context()
			cfg, err := app.loadConfig(ctx, nil)
			if err != nil {
				return err
			}
			svc, err := app.Connect(ctx, cfg, app.logger(cfg))
			if err != nil {
				return err
			}
			if err := locateContainer(ctx, svc); err != nil {
				return err
			}

			res := svc.Files.WipeData(ctx)
			if !res.Success {
				return issue.NewErrorContext().
					WithOperation("wipe server data").
					WithResource(svc.Workflow.Env.Name()).
					Wrap(errors.New(res.Error)).
					BuildError()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Server data removed from %s\n", SuccessStyle.Render("✓"), svc.Workflow.Env.Name())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the wipe")
	return cmd
}
