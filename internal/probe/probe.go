// SPDX-License-Identifier: MPL-2.0

// Package probe inspects the game server container for provisioned artifacts and
// downloader credentials, and runs the archive extraction.
//
// Every probe is advisory: a container fault reads as "not present" and never
// reaches the caller as an error. Results are never cached because the container
// filesystem can change underneath the panel.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/tidwall/jsonc"
	"mvdan.cc/sh/v3/syntax"
)

// Fallback markers echoed by the probe commands when a path is absent.
const (
	noFilesMarker = "NO_FILES"
	noArchive     = "NO_ZIP"
	noAuthMarker  = "NO_AUTH"
)

// ErrExtractFailed is returned by Extract when the unpack command fails.
var ErrExtractFailed = errors.New("archive extraction failed")

type (
	// Executor runs a one-shot shell command in the container and returns its stdout.
	Executor interface {
		Exec(ctx context.Context, command string) (string, error)
	}

	// Layout locates the provisioned artifacts inside the container.
	Layout struct {
		ServerDir       string
		ArchivePath     string
		CredentialsPath string
		JarName         string
		AssetsName      string
	}

	// ArtifactStatus is a snapshot of the server files. Ready is always
	// HasJar && HasAssets.
	ArtifactStatus struct {
		HasJar    bool `json:"hasJar"`
		HasAssets bool `json:"hasAssets"`
		Ready     bool `json:"ready"`
	}

	// WipeResult reports the outcome of WipeData.
	WipeResult struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}

	// Probe runs artifact checks through an Executor.
	Probe struct {
		exec   Executor
		layout Layout
		logger *log.Logger
	}

	// Option configures a Probe.
	Option func(*Probe)
)

// DefaultLayout returns the layout of the official server image.
func DefaultLayout() Layout {
	return Layout{
		ServerDir:       "/opt/hytale",
		ArchivePath:     "/tmp/hytale-game.zip",
		CredentialsPath: "/opt/hytale/.hytale-downloader-credentials.json",
		JarName:         "HytaleServer.jar",
		AssetsName:      "Assets.zip",
	}
}

// JarPath returns the absolute path of the server jar.
func (l Layout) JarPath() string { return path.Join(l.ServerDir, l.JarName) }

// AssetsPath returns the absolute path of the assets archive.
func (l Layout) AssetsPath() string { return path.Join(l.ServerDir, l.AssetsName) }

// NewArtifactStatus derives Ready from the two presence flags.
func NewArtifactStatus(hasJar, hasAssets bool) ArtifactStatus {
	return ArtifactStatus{HasJar: hasJar, HasAssets: hasAssets, Ready: hasJar && hasAssets}
}

// WithLogger sets the logger used for probe faults.
func WithLogger(l *log.Logger) Option {
	return func(p *Probe) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Probe. Empty layout fields take their DefaultLayout value.
func New(exec Executor, layout Layout, opts ...Option) *Probe {
	def := DefaultLayout()
	if layout.ServerDir == "" {
		layout.ServerDir = def.ServerDir
	}
	if layout.ArchivePath == "" {
		layout.ArchivePath = def.ArchivePath
	}
	if layout.CredentialsPath == "" {
		layout.CredentialsPath = def.CredentialsPath
	}
	if layout.JarName == "" {
		layout.JarName = def.JarName
	}
	if layout.AssetsName == "" {
		layout.AssetsName = def.AssetsName
	}
	p := &Probe{exec: exec, layout: layout, logger: log.New(io.Discard)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Layout returns the layout the probe inspects.
func (p *Probe) Layout() Layout { return p.layout }

// CheckServerFiles lists the server directory for the jar and the assets archive.
func (p *Probe) CheckServerFiles(ctx context.Context) ArtifactStatus {
	cmd := fmt.Sprintf("ls %s %s 2>/dev/null || echo %s",
		quote(p.layout.JarPath()), quote(p.layout.AssetsPath()), noFilesMarker)
	out, err := p.exec.Exec(ctx, cmd)
	if err != nil {
		p.logger.Debug("server file probe failed", "error", err)
		return ArtifactStatus{}
	}

	var hasJar, hasAssets bool
	for line := range strings.Lines(out) {
		switch strings.TrimSpace(line) {
		case p.layout.JarPath():
			hasJar = true
		case p.layout.AssetsPath():
			hasAssets = true
		}
	}
	return NewArtifactStatus(hasJar, hasAssets)
}

// CheckAuth reports whether the downloader has stored usable credentials.
func (p *Probe) CheckAuth(ctx context.Context) bool {
	cmd := fmt.Sprintf("cat %s 2>/dev/null || echo %s", quote(p.layout.CredentialsPath), noAuthMarker)
	out, err := p.exec.Exec(ctx, cmd)
	if err != nil {
		p.logger.Debug("credential probe failed", "error", err)
		return false
	}
	return hasToken([]byte(out))
}

// ArchiveExists reports whether the downloaded archive is present.
func (p *Probe) ArchiveExists(ctx context.Context) bool {
	cmd := fmt.Sprintf("ls %s 2>/dev/null || echo %s", quote(p.layout.ArchivePath), noArchive)
	out, err := p.exec.Exec(ctx, cmd)
	if err != nil {
		p.logger.Debug("archive probe failed", "error", err)
		return false
	}
	return strings.TrimSpace(out) == p.layout.ArchivePath
}

// Extract unpacks the archive into the server directory and removes it.
func (p *Probe) Extract(ctx context.Context) error {
	cmd := fmt.Sprintf("mkdir -p %[2]s && unzip -o -q %[1]s -d %[2]s && rm -f %[1]s",
		quote(p.layout.ArchivePath), quote(p.layout.ServerDir))
	if _, err := p.exec.Exec(ctx, cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrExtractFailed, err)
	}
	return nil
}

// WipeData removes the server files, the archive and the stored credentials.
func (p *Probe) WipeData(ctx context.Context) WipeResult {
	cmd := fmt.Sprintf("rm -rf %s %s %s %s",
		quote(p.layout.JarPath()), quote(p.layout.AssetsPath()),
		quote(p.layout.ArchivePath), quote(p.layout.CredentialsPath))
	if _, err := p.exec.Exec(ctx, cmd); err != nil {
		p.logger.Warn("wipe failed", "error", err)
		return WipeResult{Error: "Failed to remove server data"}
	}
	return WipeResult{Success: true}
}

// hasToken parses a credential document, tolerating comments and trailing
// commas, and looks for a non-empty access or refresh token.
func hasToken(raw []byte) bool {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == noAuthMarker {
		return false
	}
	var doc map[string]any
	if err := json.Unmarshal(jsonc.ToJSON([]byte(trimmed)), &doc); err != nil {
		return false
	}
	for _, key := range []string{"access_token", "refresh_token"} {
		if v, ok := doc[key].(string); ok && v != "" {
			return true
		}
	}
	return false
}

// quote renders s as a single POSIX shell word.
func quote(s string) string {
	q, err := syntax.Quote(s, syntax.LangPOSIX)
	if err != nil {
		// Only strings with NUL bytes are unquotable; layout paths never carry one.
		return "''"
	}
	return q
}
