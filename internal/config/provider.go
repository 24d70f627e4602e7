// SPDX-License-Identifier: MPL-2.0

package config

import "context"

type (
	// LoadOptions selects where configuration comes from.
	LoadOptions struct {
		// ConfigFilePath names the config file to read. It must exist.
		ConfigFilePath string
		// ConfigDirPath replaces ConfigDir() in the file lookup.
		ConfigDirPath string
		// Overrides maps dotted keys such as "server.port" to values that win
		// over every other source. The CLI fills it from changed flags.
		Overrides map[string]any
	}

	// Provider loads a validated Config.
	Provider interface {
		Load(ctx context.Context, opts LoadOptions) (*Config, error)
	}

	// ProviderFunc adapts a function to Provider.
	ProviderFunc func(ctx context.Context, opts LoadOptions) (*Config, error)
)

// Load calls f.
func (f ProviderFunc) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	return f(ctx, opts)
}

// NewProvider returns the Provider that layers defaults, config.cue, the
// HYTALE_PANEL_* environment and opts.Overrides.
func NewProvider() Provider {
	return ProviderFunc(func(ctx context.Context, opts LoadOptions) (*Config, error) {
		cfg, _, err := LoadWithPath(ctx, opts)
		return cfg, err
	})
}

// LoadWithPath loads like NewProvider().Load and also reports the file that
// was read, or "" when only defaults and the environment applied.
func LoadWithPath(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	return loadWithOptions(ctx, opts)
}
