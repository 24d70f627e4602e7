// SPDX-License-Identifier: MPL-2.0

package workflow

import (
	"strings"
	"time"

	"mvdan.cc/sh/v3/syntax"

	"hytale-panel/internal/classify"
	"hytale-panel/internal/clock"
)

const (
	// DefaultDownloadCommand runs the official downloader into the archive path.
	DefaultDownloadCommand = "cd /opt/hytale && hytale-downloader -download-path /tmp/hytale-game.zip"
	// DefaultAuthTimeout bounds how long a session waits for the user to authorize.
	DefaultAuthTimeout = 10 * time.Minute
)

// Config holds the workflow settings.
type Config struct {
	// DownloadCommand is the shell command run inside the container.
	DownloadCommand string
	// AuthTimeout bounds the time spent awaiting auth while the downloader runs.
	AuthTimeout time.Duration
	// Markers classify the download output. Nil means classify.DefaultMarkers().
	Markers []classify.Marker
	// Clock drives the auth timers. Nil means clock.Real.
	Clock clock.Clock
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		DownloadCommand: DefaultDownloadCommand,
		AuthTimeout:     DefaultAuthTimeout,
		Markers:         classify.DefaultMarkers(),
		Clock:           clock.Real{},
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DownloadCommand == "" {
		c.DownloadCommand = def.DownloadCommand
	}
	if c.AuthTimeout == 0 {
		c.AuthTimeout = def.AuthTimeout
	}
	if c.Markers == nil {
		c.Markers = def.Markers
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	if _, err := syntax.NewParser().Parse(strings.NewReader(c.DownloadCommand), "download-command"); err != nil {
		return &InvalidConfigError{Field: "download_command", Reason: err.Error()}
	}
	if c.AuthTimeout <= 0 {
		return &InvalidConfigError{Field: "auth_timeout", Reason: "must be positive"}
	}
	if len(c.Markers) == 0 {
		return &InvalidConfigError{Field: "markers", Reason: "at least one marker is required"}
	}
	if _, err := classify.New(c.Markers); err != nil {
		return &InvalidConfigError{Field: "markers", Reason: err.Error()}
	}
	return nil
}
