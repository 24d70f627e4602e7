// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"hytale-panel/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "hytale-panel"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides, e.g. HYTALE_PANEL_SERVER_PORT.
	EnvPrefix = "HYTALE_PANEL"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the configuration directory using platform-specific
// conventions: %APPDATA% on Windows, ~/Library/Application Support on macOS,
// and $XDG_CONFIG_HOME (defaulting to ~/.config) elsewhere.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	var dir string
	switch runtime.GOOS {
	case "windows":
		dir = os.Getenv("APPDATA")
		if dir == "" {
			dir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, "Library", "Application Support")
	default:
		dir = os.Getenv("XDG_CONFIG_HOME")
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dir = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(dir, AppName), nil
}

// loadWithOptions resolves the config in increasing precedence: defaults, the
// config file, HYTALE_PANEL_* environment variables, then opts.Overrides.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := resolvePath(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Run 'hytale-panel config show' to see the effective configuration").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	for key, val := range opts.Overrides {
		v.Set(key, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.Provision.Markers) == 0 {
		cfg.Provision.Markers = DefaultConfig().Provision.Markers
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithSuggestion("Fix the listed keys in the config file or the matching " + EnvPrefix + "_* variables").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError()
	}
	return &cfg, path, nil
}

// resolvePath picks the config file: an explicit path, then the config
// directory, then ./config.cue. An empty result means defaults only.
func resolvePath(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Run 'hytale-panel config init' to write a default configuration").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	dir := opts.ConfigDirPath
	if dir == "" {
		var err error
		if dir, err = ConfigDir(); err != nil {
			return "", err
		}
	}
	for _, candidate := range []string{
		filepath.Join(dir, ConfigFileName+"."+ConfigFileExt),
		ConfigFileName + "." + ConfigFileExt,
	} {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("container.name", d.Container.Name)
	v.SetDefault("container.engine", d.Container.Engine)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("auth.disabled", d.Auth.Disabled)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("provision.download_command", d.Provision.DownloadCommand)
	v.SetDefault("provision.auth_timeout", d.Provision.AuthTimeout)
	v.SetDefault("files.base_path", d.Files.BasePath)
	v.SetDefault("files.archive_path", d.Files.ArchivePath)
	v.SetDefault("files.credentials_path", d.Files.CredentialsPath)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("telemetry.exporter", string(d.Telemetry.Exporter))
	v.SetDefault("telemetry.otlp_endpoint", d.Telemetry.OTLPEndpoint)
	v.SetDefault("telemetry.insecure", d.Telemetry.Insecure)
}

// loadCUEIntoViper validates a CUE file against #Config and merges it into v.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	m, err := decodeCUE(data, path)
	if err != nil {
		return err
	}
	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes the default config into dir unless a config file
// already exists there. It returns the file path.
func CreateDefaultConfig(dir string) (string, bool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if fileExists(path) {
		return path, false, nil
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(DefaultConfig())), 0o600); err != nil {
		return "", false, fmt.Errorf("failed to write config file: %w", err)
	}
	return path, true, nil
}

// GenerateCUE renders cfg as a config file. The JWT secret is never written.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder
	line := func(indent int, key string, val any) {
		sb.WriteString(strings.Repeat("\t", indent))
		sb.WriteString(key)
		sb.WriteString(": ")
		sb.WriteString(cueLiteral(val))
		sb.WriteByte('\n')
	}

	sb.WriteString("// hytale-panel configuration\n")
	sb.WriteString("// Set auth.jwt_secret here or via " + EnvPrefix + "_AUTH_JWT_SECRET.\n")

	sb.WriteString("\ncontainer: {\n")
	line(1, "name", cfg.Container.Name)
	line(1, "engine", cfg.Container.Engine)
	sb.WriteString("}\n\nserver: {\n")
	line(1, "host", cfg.Server.Host)
	line(1, "port", cfg.Server.Port)
	line(1, "base_path", cfg.Server.BasePath)
	sb.WriteString("}\n\nauth: {\n")
	line(1, "disabled", cfg.Auth.Disabled)
	line(1, "token_ttl", cfg.Auth.TokenTTL)
	sb.WriteString("}\n\nprovision: {\n")
	line(1, "download_command", cfg.Provision.DownloadCommand)
	line(1, "auth_timeout", cfg.Provision.AuthTimeout)
	sb.WriteString("\tmarkers: [\n")
	for _, m := range cfg.Provision.Markers {
		fmt.Fprintf(&sb, "\t\t{pattern: %s, regexp: %t, signal: %s},\n",
			cueLiteral(m.Pattern), m.Regexp, cueLiteral(m.Signal))
	}
	sb.WriteString("\t]\n}\n\nfiles: {\n")
	line(1, "base_path", cfg.Files.BasePath)
	line(1, "archive_path", cfg.Files.ArchivePath)
	line(1, "credentials_path", cfg.Files.CredentialsPath)
	sb.WriteString("}\n\nlog: {\n")
	line(1, "level", cfg.Log.Level)
	sb.WriteString("}\n\ntelemetry: {\n")
	line(1, "exporter", string(cfg.Telemetry.Exporter))
	line(1, "otlp_endpoint", cfg.Telemetry.OTLPEndpoint)
	line(1, "insecure", cfg.Telemetry.Insecure)
	sb.WriteString("}\n")
	return sb.String()
}

func cueLiteral(val any) string {
	switch v := val.(type) {
	case string:
		return strconv.Quote(v)
	case time.Duration:
		return strconv.Quote(v.String())
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
