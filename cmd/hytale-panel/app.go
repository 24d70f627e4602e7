// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"hytale-panel/internal/config"
	"hytale-panel/internal/container"
	"hytale-panel/internal/issue"
	"hytale-panel/internal/probe"
	"hytale-panel/internal/pushserver"
	"hytale-panel/internal/telemetry"
	"hytale-panel/internal/workflow"
)

const telemetryFlushTimeout = 5 * time.Second

type (
	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// Connector resolves the game server container and the services built on it.
	Connector func(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Services, error)

	// Services are the container-backed collaborators shared by the commands.
	Services struct {
		Workflow  workflow.Target
		Files     pushserver.Files
		Container pushserver.Container
	}

	// App wires CLI services and shared dependencies. Every command handler
	// receives the App and reads configuration and container access through it.
	App struct {
		Config  ConfigProvider
		Connect Connector
		stderr  io.Writer

		configFile string
		configDir  string
		verbose    bool
	}

	// Dependencies are the injection points of NewApp. Nil fields get production defaults.
	Dependencies struct {
		Config    ConfigProvider
		Connect   Connector
		Stderr    io.Writer
		ConfigDir string
	}
)

// NewApp creates an App.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:    deps.Config,
		Connect:   deps.Connect,
		stderr:    deps.Stderr,
		configDir: deps.ConfigDir,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.Connect == nil {
		app.Connect = connectContainer
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

// loadConfig loads the configuration honoring --config and flag overrides.
func (a *App) loadConfig(ctx context.Context, overrides map[string]any) (*config.Config, error) {
	return a.Config.Load(ctx, config.LoadOptions{
		ConfigFilePath: a.configFile,
		ConfigDirPath:  a.configDir,
		Overrides:      overrides,
	})
}

func (a *App) logger(cfg *config.Config) *log.Logger {
	level := cfg.LogLevel()
	if a.verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(a.stderr, log.Options{
		Level:           level,
		ReportTimestamp: true,
		Prefix:          "hytale-panel",
	})
}

// setupTelemetry installs the tracer provider and returns a bounded flush func.
func (a *App) setupTelemetry(ctx context.Context, cfg *config.Config) (func(), error) {
	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Exporter:     string(cfg.Telemetry.Exporter),
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
		Writer:       a.stderr,
		Version:      Version,
	})
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("set up tracing").
			WithResource(string(cfg.Telemetry.Exporter)).
			WithSuggestion("Set telemetry.exporter to \"none\", \"stdout\" or \"otlp\"").
			Wrap(err).
			BuildError()
	}
	return func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryFlushTimeout)
		defer cancel()
		_ = shutdown(flushCtx)
	}, nil
}

// connectContainer picks the configured engine and builds the probe and
// workflow target for the configured container.
func connectContainer(_ context.Context, cfg *config.Config, logger *log.Logger) (*Services, error) {
	engine, err := cfg.Engine()
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("find a container engine").
			WithSuggestion("Install Docker or Podman, or set container.engine").
			WithIssue(issue.ContainerEngineNotFoundId).
			Wrap(err).
			BuildError()
	}
	logger.Debug("using container engine", "engine", engine.Name(), "container", cfg.Container.Name)

	target := container.NewTarget(engine, cfg.Container.Name)
	pr := probe.New(target, cfg.Layout(), probe.WithLogger(logger.WithPrefix("probe")))
	return &Services{
		Workflow:  workflow.ContainerTarget(target, pr),
		Files:     pr,
		Container: target,
	}, nil
}

// locateContainer checks the container is usable and attaches the matching issue.
func locateContainer(ctx context.Context, svc *Services) error {
	if err := svc.Workflow.Env.Locate(ctx); err != nil {
		return containerError("locate container", svc.Workflow.Env.Name(), err)
	}
	return nil
}

// containerError wraps a container failure with the issue that explains it.
func containerError(op, name string, err error) error {
	ctx := issue.NewErrorContext().WithOperation(op).WithResource(name).Wrap(err)
	var unavailable *container.EnvironmentUnavailableError
	if errors.As(err, &unavailable) {
		switch unavailable.Reason {
		case container.ReasonNotFound:
			ctx.WithIssue(issue.ContainerNotFoundId)
		case container.ReasonNotRunning:
			ctx.WithIssue(issue.ContainerNotRunningId)
		default:
			ctx.WithIssue(issue.ContainerEngineNotFoundId)
		}
	}
	return ctx.BuildError()
}
