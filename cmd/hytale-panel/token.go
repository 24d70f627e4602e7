// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hytale-panel/internal/auth"
	"hytale-panel/internal/issue"
)

var errAuthDisabled = errors.New("auth is disabled; observers need no token")

func newTokenCommand(app *App) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Mint an observer token",
		Long: `Mint a signed observer token for the web panel or a script.

Send it as the "token" cookie or as "Authorization: Bearer <token>".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context(), nil)
			if err != nil {
				return err
			}
			if cfg.Auth.Disabled {
				return errAuthDisabled
			}
			if err := cfg.RequireSecret(); err != nil {
				return issue.NewErrorContext().
					WithOperation("mint token").
					WithIssue(issue.MissingJWTSecretId).
					Wrap(err).
					BuildError()
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = cfg.Auth.TokenTTL
			}

			token, err := auth.NewIssuer(cfg.Auth.JWTSecret, ttl).Generate(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime (default auth.token_ttl)")
	return cmd
}
