// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"hytale-panel/internal/classify"
	"hytale-panel/internal/container"
	"hytale-panel/internal/probe"
	"hytale-panel/internal/workflow"
)

const (
	// TraceExporterNone disables tracing.
	TraceExporterNone TraceExporter = "none"
	// TraceExporterOTLP ships spans to an OTLP gRPC collector.
	TraceExporterOTLP TraceExporter = "otlp"
	// TraceExporterStdout writes spans to stderr.
	TraceExporterStdout TraceExporter = "stdout"
)

var (
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrInvalidContainerEngine is returned for an unknown engine name.
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	// ErrInvalidLogLevel is returned for an unknown log level.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidTraceExporter is returned for an unknown trace exporter.
	ErrInvalidTraceExporter = errors.New("invalid trace exporter")
	// ErrMissingSecret is returned when auth is enabled without a JWT secret.
	ErrMissingSecret = errors.New("auth.jwt_secret is required unless auth.disabled is set")
)

type (
	// TraceExporter selects where workflow spans go.
	TraceExporter string

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sections.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// FieldError names the key of an invalid value.
	FieldError struct {
		Key   string
		Cause error
	}

	// Config holds the application configuration.
	Config struct {
		Container ContainerConfig `json:"container" mapstructure:"container"`
		Server    ServerConfig    `json:"server" mapstructure:"server"`
		Auth      AuthConfig      `json:"auth" mapstructure:"auth"`
		Provision ProvisionConfig `json:"provision" mapstructure:"provision"`
		Files     FilesConfig     `json:"files" mapstructure:"files"`
		Log       LogConfig       `json:"log" mapstructure:"log"`
		Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry"`
	}

	// ContainerConfig names the game server container.
	ContainerConfig struct {
		// Name is the container name or ID
		Name string `json:"name" mapstructure:"name"`
		// Engine is "docker", "podman" or "" to auto-detect
		Engine string `json:"engine" mapstructure:"engine"`
	}

	// ServerConfig configures the push server listener.
	ServerConfig struct {
		Host string `json:"host" mapstructure:"host"`
		Port int    `json:"port" mapstructure:"port"`
		// BasePath mounts the panel under a URL prefix
		BasePath string `json:"base_path" mapstructure:"base_path"`
	}

	// AuthConfig configures observer tokens.
	AuthConfig struct {
		Disabled  bool          `json:"disabled" mapstructure:"disabled"`
		JWTSecret string        `json:"jwt_secret" mapstructure:"jwt_secret"`
		TokenTTL  time.Duration `json:"token_ttl" mapstructure:"token_ttl"`
	}

	// ProvisionConfig configures the provisioning workflow.
	ProvisionConfig struct {
		DownloadCommand string         `json:"download_command" mapstructure:"download_command"`
		AuthTimeout     time.Duration  `json:"auth_timeout" mapstructure:"auth_timeout"`
		Markers         []MarkerConfig `json:"markers" mapstructure:"markers"`
	}

	// MarkerConfig is one output marker as written in the config file.
	MarkerConfig struct {
		Pattern string `json:"pattern" mapstructure:"pattern"`
		Regexp  bool   `json:"regexp" mapstructure:"regexp"`
		Signal  string `json:"signal" mapstructure:"signal"`
	}

	// FilesConfig locates the provisioned artifacts inside the container.
	FilesConfig struct {
		// BasePath is the upload root and server directory
		BasePath        string `json:"base_path" mapstructure:"base_path"`
		ArchivePath     string `json:"archive_path" mapstructure:"archive_path"`
		CredentialsPath string `json:"credentials_path" mapstructure:"credentials_path"`
	}

	// LogConfig configures logging.
	LogConfig struct {
		Level string `json:"level" mapstructure:"level"`
	}

	// TelemetryConfig configures span export.
	TelemetryConfig struct {
		Exporter     TraceExporter `json:"exporter" mapstructure:"exporter"`
		OTLPEndpoint string        `json:"otlp_endpoint" mapstructure:"otlp_endpoint"`
		Insecure     bool          `json:"insecure" mapstructure:"insecure"`
	}
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	wf := workflow.DefaultConfig()
	layout := probe.DefaultLayout()
	return &Config{
		Container: ContainerConfig{Name: "hytale"},
		Server:    ServerConfig{Host: "0.0.0.0", Port: 3000},
		Auth:      AuthConfig{TokenTTL: 24 * time.Hour},
		Provision: ProvisionConfig{
			DownloadCommand: wf.DownloadCommand,
			AuthTimeout:     wf.AuthTimeout,
			Markers:         markerConfigs(wf.Markers),
		},
		Files: FilesConfig{
			BasePath:        layout.ServerDir,
			ArchivePath:     layout.ArchivePath,
			CredentialsPath: layout.CredentialsPath,
		},
		Log:       LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{Exporter: TraceExporterNone},
	}
}

func markerConfigs(markers []classify.Marker) []MarkerConfig {
	out := make([]MarkerConfig, len(markers))
	for i, m := range markers {
		out[i] = MarkerConfig{Pattern: m.Pattern, Regexp: m.Regexp, Signal: m.Signal.String()}
	}
	return out
}

// IsValid returns whether every section is valid. Auth secrets are checked
// separately by RequireSecret because only the server needs one.
func (c *Config) IsValid() (bool, []error) {
	var errs []error
	if c.Container.Name == "" {
		errs = append(errs, &FieldError{Key: "container.name", Cause: errors.New("must not be empty")})
	}
	if c.Container.Engine != "" {
		if err := container.EngineType(c.Container.Engine).Validate(); err != nil {
			errs = append(errs, &FieldError{Key: "container.engine", Cause: fmt.Errorf("%w: %q", ErrInvalidContainerEngine, c.Container.Engine)})
		}
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, &FieldError{Key: "log.level", Cause: fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)})
	}
	switch c.Telemetry.Exporter {
	case "", TraceExporterNone, TraceExporterOTLP, TraceExporterStdout:
	default:
		errs = append(errs, &FieldError{Key: "telemetry.exporter", Cause: fmt.Errorf("%w: %q", ErrInvalidTraceExporter, c.Telemetry.Exporter)})
	}
	if _, err := c.Workflow(); err != nil {
		errs = append(errs, &FieldError{Key: "provision", Cause: err})
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Validate returns the first IsValid error, or nil.
func (c *Config) Validate() error {
	if ok, errs := c.IsValid(); !ok {
		return errs[0]
	}
	return nil
}

// RequireSecret reports an error when auth is enabled without a secret.
func (c *Config) RequireSecret() error {
	if !c.Auth.Disabled && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return ErrMissingSecret
	}
	return nil
}

// Markers converts the configured markers for the classifier.
func (c *Config) Markers() ([]classify.Marker, error) {
	out := make([]classify.Marker, 0, len(c.Provision.Markers))
	for i, m := range c.Provision.Markers {
		sig, err := classify.ParseSignal(m.Signal)
		if err != nil {
			return nil, fmt.Errorf("provision.markers[%d]: %w", i, err)
		}
		out = append(out, classify.Marker{Pattern: m.Pattern, Regexp: m.Regexp, Signal: sig})
	}
	return out, nil
}

// Workflow returns the validated workflow configuration.
func (c *Config) Workflow() (workflow.Config, error) {
	markers, err := c.Markers()
	if err != nil {
		return workflow.Config{}, err
	}
	wf := workflow.Config{
		DownloadCommand: c.Provision.DownloadCommand,
		AuthTimeout:     c.Provision.AuthTimeout,
		Markers:         markers,
	}
	def := workflow.DefaultConfig()
	if wf.DownloadCommand == "" {
		wf.DownloadCommand = def.DownloadCommand
	}
	if wf.AuthTimeout == 0 {
		wf.AuthTimeout = def.AuthTimeout
	}
	if len(wf.Markers) == 0 {
		wf.Markers = def.Markers
	}
	if err := wf.Validate(); err != nil {
		return workflow.Config{}, err
	}
	return wf, nil
}

// Layout returns the artifact layout inside the container.
func (c *Config) Layout() probe.Layout {
	l := probe.DefaultLayout()
	if c.Files.BasePath != "" {
		l.ServerDir = c.Files.BasePath
	}
	if c.Files.ArchivePath != "" {
		l.ArchivePath = c.Files.ArchivePath
	}
	if c.Files.CredentialsPath != "" {
		l.CredentialsPath = c.Files.CredentialsPath
	}
	return l
}

// Engine returns the configured container engine, auto-detecting when unset.
func (c *Config) Engine() (container.Engine, error) {
	if c.Container.Engine == "" {
		return container.AutoDetectEngine()
	}
	return container.NewEngine(container.EngineType(c.Container.Engine))
}

// LogLevel returns the parsed log level, defaulting to info.
func (c *Config) LogLevel() log.Level {
	lvl, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidConfig and the field errors for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// Error implements the error interface for FieldError.
func (e *FieldError) Error() string { return e.Key + ": " + e.Cause.Error() }

// Unwrap returns the cause.
func (e *FieldError) Unwrap() error { return e.Cause }
