// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CLIEngine is an Engine backed by the docker or podman binary. The two CLIs
// accept the same arguments for everything provisioning needs; only the
// version template differs.
type CLIEngine struct {
	*BaseCLIEngine
	kind          EngineType
	versionFormat string
}

// NewDockerEngine returns an engine driving the docker CLI found on PATH.
func NewDockerEngine(opts ...BaseCLIEngineOption) *CLIEngine {
	return newCLIEngine(EngineTypeDocker, "{{.Server.Version}}", opts)
}

// NewPodmanEngine returns an engine driving the podman CLI found on PATH.
func NewPodmanEngine(opts ...BaseCLIEngineOption) *CLIEngine {
	return newCLIEngine(EngineTypePodman, "{{.Version}}", opts)
}

func newCLIEngine(kind EngineType, versionFormat string, opts []BaseCLIEngineOption) *CLIEngine {
	bin, _ := exec.LookPath(string(kind))
	opts = append([]BaseCLIEngineOption{WithName(string(kind))}, opts...)
	return &CLIEngine{
		BaseCLIEngine: NewBaseCLIEngine(bin, opts...),
		kind:          kind,
		versionFormat: versionFormat,
	}
}

// Name returns "docker" or "podman".
func (e *CLIEngine) Name() string { return string(e.kind) }

// Type returns the engine type.
func (e *CLIEngine) Type() EngineType { return e.kind }

// Available reports whether the binary exists and its daemon answers.
func (e *CLIEngine) Available() bool {
	if e.BinaryPath() == "" {
		return false
	}
	return e.RunCommandStatus(context.Background(), "version", "--format", e.versionFormat) == nil
}

// Version returns the server version reported by the engine.
func (e *CLIEngine) Version(ctx context.Context) (string, error) {
	out, err := e.RunCommandWithOutput(ctx, "version", "--format", e.versionFormat)
	if err != nil {
		return "", fmt.Errorf("%s version: %w", e.kind, err)
	}
	return strings.TrimSpace(out), nil
}
