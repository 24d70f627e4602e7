// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"hytale-panel/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree for app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "hytale-panel",
		Short: "Provision and manage a containerized Hytale server",
		Long: TitleStyle.Render("hytale-panel") + SubtitleStyle.Render(" - Hytale server provisioning panel") + `

hytale-panel downloads the Hytale server files into a running Docker or Podman
container, walks the user through the downloader's device authorization, and
serves a small file API plus a WebSocket push channel for the web panel.

` + SubtitleStyle.Render("Examples:") + `
  hytale-panel serve                 Start the panel server
  hytale-panel provision             Download the server files from the terminal
  hytale-panel check                 Show whether the server files are present
  hytale-panel token admin           Mint an observer token
  hytale-panel config show           Show the effective configuration`,
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&app.configFile, "config", "", "config file (default is $XDG_CONFIG_HOME/hytale-panel/config.cue)")

	root.AddCommand(
		newServeCommand(app),
		newProvisionCommand(app),
		newCheckCommand(app),
		newWipeCommand(app),
		newTokenCommand(app),
		newConfigCommand(app),
	)
	return root
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	)
	if err == nil {
		return
	}
	renderIssue(os.Stderr, err, app.verbose)
	os.Exit(exitCode(err))
}

// renderIssue prints the catalogued explanation linked to err, if any. In
// verbose mode the full actionable error with its chain comes first.
func renderIssue(w io.Writer, err error, verbose bool) {
	var ae *issue.ActionableError
	if verbose && errors.As(err, &ae) {
		fmt.Fprintln(w, ae.Format(true))
	}
	is, ok := issue.IssueFor(err)
	if !ok {
		return
	}
	rendered, rerr := is.Render("dark")
	if rerr != nil {
		return
	}
	fmt.Fprint(w, rendered)
}
