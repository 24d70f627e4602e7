// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"hytale-panel/internal/auth"
	"hytale-panel/internal/config"
	"hytale-panel/internal/issue"
	"hytale-panel/internal/pathguard"
	"hytale-panel/internal/pushserver"
	"hytale-panel/internal/status"
	"hytale-panel/internal/workflow"
)

func newServeCommand(app *App) *cobra.Command {
	var (
		host     string
		port     int
		basePath string
		noAuth   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the file API and the push channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			overrides := map[string]any{}
			flags := cmd.Flags()
			if flags.Changed("host") {
				overrides["server.host"] = host
			}
			if flags.Changed("port") {
				overrides["server.port"] = port
			}
			if flags.Changed("base-path") {
				overrides["server.base_path"] = basePath
			}
			if flags.Changed("no-auth") {
				overrides["auth.disabled"] = noAuth
			}
			return runServe(cmd, app, overrides)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "address to bind (overrides server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "URL prefix the panel is mounted under")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "serve without observer tokens")
	return cmd
}

func runServe(cmd *cobra.Command, app *App, overrides map[string]any) error {
	ctx := cmd.Context()
	cfg, err := app.loadConfig(ctx, overrides)
	if err != nil {
		return err
	}
	if err := cfg.RequireSecret(); err != nil {
		return issue.NewErrorContext().
			WithOperation("start server").
			WithIssue(issue.MissingJWTSecretId).
			Wrap(err).
			BuildError()
	}
	logger := app.logger(cfg)

	flush, err := app.setupTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer flush()

	srv, err := buildServer(ctx, app, cfg, logger)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return issue.NewErrorContext().
			WithOperation("start server").
			WithResource(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
			WithIssue(issue.ListenFailedId).
			Wrap(err).
			BuildError()
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Panel listening on %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(srv.URL()))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-srv.Err():
		logger.Error("server failed", "error", runErr)
	}
	if err := srv.Stop(); err != nil && runErr == nil {
		runErr = err
	}
	// A serve failure racing the shutdown signal is only recorded on the server.
	if runErr == nil {
		runErr = srv.LastError()
	}
	return runErr
}

func buildServer(ctx context.Context, app *App, cfg *config.Config, logger *log.Logger) (*pushserver.Server, error) {
	svc, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	wf, err := cfg.Workflow()
	if err != nil {
		return nil, err
	}
	wfLogger := logger.WithPrefix("workflow")
	runner, err := workflow.New(wf,
		workflow.WithLogger(wfLogger),
		workflow.WithPublisher(status.NewPublisher(status.WithLogger(wfLogger.WithPrefix("status")))))
	if err != nil {
		return nil, err
	}
	guard, err := pathguard.NewGuard(cfg.Files.BasePath)
	if err != nil {
		return nil, err
	}

	var issuer *auth.Issuer
	if !cfg.Auth.Disabled {
		issuer = auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	}

	srvCfg := pushserver.DefaultConfig()
	srvCfg.Host = cfg.Server.Host
	srvCfg.Port = cfg.Server.Port
	srvCfg.BasePath = cfg.Server.BasePath
	srvCfg.AuthDisabled = cfg.Auth.Disabled

	return pushserver.New(srvCfg, pushserver.Deps{
		Runner:    runner,
		Target:    svc.Workflow,
		Files:     svc.Files,
		Container: svc.Container,
		Guard:     guard,
		Issuer:    issuer,
	}, pushserver.WithLogger(logger))
}
