// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"hytale-panel/internal/container"
	"hytale-panel/internal/issue"
	"hytale-panel/internal/status"
	"hytale-panel/internal/workflow"
)

// consoleObserver prints download-status events to a terminal. It never disconnects.
type consoleObserver struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *consoleObserver) Send(name string, payload any) error {
	ev, ok := payload.(status.Event)
	if !ok || name != status.EventName {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := fmt.Fprintln(o.w, statusLine(ev))
	return err
}

func (o *consoleObserver) Done() <-chan struct{} { return nil }

func newProvisionCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Download and extract the server files from the terminal",
		Long: `Download and extract the server files into the configured container.

When the downloader asks for device authorization the URL and code are shown;
the command keeps waiting until the authorization completes or times out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProvision(cmd, app)
		},
	}
}

func runProvision(cmd *cobra.Command, app *App) error {
	ctx := cmd.Context()
	cfg, err := app.loadConfig(ctx, nil)
	if err != nil {
		return err
	}
	logger := app.logger(cfg)

	flush, err := app.setupTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer flush()

	svc, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	wf, err := cfg.Workflow()
	if err != nil {
		return err
	}
	runner, err := workflow.New(wf, workflow.WithLogger(logger.WithPrefix("workflow")))
	if err != nil {
		return err
	}

	sess, err := runner.Start(ctx, svc.Workflow, &consoleObserver{w: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	// A cancelled ctx aborts the session, so Done always closes.
	<-sess.Done()

	if sess.State() == workflow.StateReady {
		return nil
	}
	return &ExitError{Code: 1, Err: provisionError(svc.Workflow.Env.Name(), sess.Err())}
}

// provisionError links the failure to the issue that best explains it.
func provisionError(name string, cause error) error {
	var unavailable *container.EnvironmentUnavailableError
	if errors.As(cause, &unavailable) {
		return containerError("provision", name, cause)
	}
	return issue.NewErrorContext().
		WithOperation("provision").
		WithResource(name).
		WithIssue(issue.ProvisioningFailedId).
		Wrap(cause).
		BuildError()
}
