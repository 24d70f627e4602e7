// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// DefaultShell is the shell used for commands executed inside the container.
const DefaultShell = "sh"

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine provides common implementation for CLI-based container engines.
	// Docker and Podman engines embed this struct. Everything except Available and
	// Version is identical across the two CLIs and lives here.
	BaseCLIEngine struct {
		name        string // Engine name for error messages (e.g., "docker", "podman")
		binaryPath  string
		execCommand ExecCommandFunc
		shell       string
		// Per-command env var overrides (e.g., DOCKER_HOST)
		cmdEnvOverrides map[string]string
	}
)

// --- Option Functions ---

// WithName sets the engine name used in error messages.
func WithName(name string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.name = name
	}
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// WithShell sets the shell used to interpret commands inside the container.
func WithShell(shell string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.shell = shell
	}
}

// WithCmdEnvOverride adds an environment variable override applied to every
// exec.Cmd created by this engine (e.g., DOCKER_HOST for a remote daemon).
func WithCmdEnvOverride(key, value string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		if e.cmdEnvOverrides == nil {
			e.cmdEnvOverrides = make(map[string]string)
		}
		e.cmdEnvOverrides[key] = value
	}
}

// --- Constructor ---

// NewBaseCLIEngine creates a new base engine with the given binary path.
func NewBaseCLIEngine(binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		binaryPath:  binaryPath,
		execCommand: exec.CommandContext,
		shell:       DefaultShell,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// --- Accessor Methods ---

// Name returns the engine name used in error messages.
func (e *BaseCLIEngine) Name() string {
	return e.name
}

// BinaryPath returns the path to the container engine binary.
func (e *BaseCLIEngine) BinaryPath() string {
	return e.binaryPath
}

// --- Argument Builders ---

// InspectArgs constructs arguments that print "<id> <running>" for a container.
//
// Generated command: <binary> container inspect --format '{{.Id}} {{.State.Running}}' <name>
func (e *BaseCLIEngine) InspectArgs(name string) []string {
	return []string{"container", "inspect", "--format", "{{.Id}} {{.State.Running}}", name}
}

// ExecArgs constructs arguments for running a shell command in a container.
//
// Generated command: <binary> exec <container> <shell> -c <command>
func (e *BaseCLIEngine) ExecArgs(id ContainerID, shellCmd string) []string {
	return []string{"exec", string(id), e.shell, "-c", shellCmd}
}

// CopyArgs constructs arguments for copying a host file into a container.
//
// Generated command: <binary> cp <host-path> <container>:<container-path>
func (e *BaseCLIEngine) CopyArgs(id ContainerID, hostPath, containerPath string) []string {
	return []string{"cp", hostPath, string(id) + ":" + containerPath}
}

// LogsArgs constructs arguments for reading the container log tail.
//
// Generated command: <binary> logs --tail <n> <container>
func (e *BaseCLIEngine) LogsArgs(id ContainerID, tail int) []string {
	n := "all"
	if tail > 0 {
		n = strconv.Itoa(tail)
	}
	return []string{"logs", "--tail", n, string(id)}
}

// --- Command Execution ---

// RunCommandCombined executes a command and returns combined stdout/stderr.
func (e *BaseCLIEngine) RunCommandCombined(ctx context.Context, args ...string) ([]byte, error) {
	cmd := e.CreateCommand(ctx, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("command %s %v failed: %w", e.binaryPath, args, err)
	}
	return out, nil
}

// RunCommandStatus executes a command and returns only the error status.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	cmd := e.CreateCommand(ctx, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return commandError(e.binaryPath, args, stderr.String(), err)
	}
	return nil
}

// RunCommandWithOutput executes a command with stdout captured to a buffer.
// Stderr is kept for the error message only.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", commandError(e.binaryPath, args, stderr.String(), err)
	}

	return out.String(), nil
}

// CreateCommand creates an exec.Cmd for the given arguments.
// This is useful when the caller needs to customize stdin/stdout/stderr.
// Engine-level env overrides are applied automatically.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	cmd := e.execCommand(ctx, e.binaryPath, args...)
	e.customizeCmd(cmd)
	return cmd
}

// --- Engine operations shared by Docker and Podman ---

// Locate resolves a container name to its ID and checks that it is running.
func (e *BaseCLIEngine) Locate(ctx context.Context, name string) (ContainerID, error) {
	if e.binaryPath == "" {
		return "", &EnvironmentUnavailableError{
			Name:   name,
			Reason: ReasonUnreachable,
			Cause:  fmt.Errorf("%s binary not found in PATH", e.name),
		}
	}

	cmd := e.CreateCommand(ctx, e.InspectArgs(name)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		reason := ReasonUnreachable
		if isNoSuchContainer(stderr.String()) || isNoSuchContainer(stdout.String()) {
			reason = ReasonNotFound
		}
		return "", &EnvironmentUnavailableError{
			Name:   name,
			Reason: reason,
			Cause:  commandError(e.binaryPath, e.InspectArgs(name), stderr.String(), err),
		}
	}

	fields := strings.Fields(stdout.String())
	if len(fields) == 0 {
		return "", &EnvironmentUnavailableError{Name: name, Reason: ReasonNotFound}
	}
	if len(fields) > 1 && fields[1] != "true" {
		return "", &EnvironmentUnavailableError{Name: name, Reason: ReasonNotRunning}
	}

	return ContainerID(fields[0]), nil
}

// ExecOutput runs a shell command in a running container and returns its stdout.
// A non-zero exit status is returned as an error.
func (e *BaseCLIEngine) ExecOutput(ctx context.Context, id ContainerID, shellCmd string) (string, error) {
	return e.RunCommandWithOutput(ctx, e.ExecArgs(id, shellCmd)...)
}

// Stream starts a shell command in a running container and returns a Stream that
// delivers its combined stdout/stderr.
func (e *BaseCLIEngine) Stream(ctx context.Context, id ContainerID, shellCmd string) (*Stream, error) {
	return startStream(ctx, e.CreateCommand, e.ExecArgs(id, shellCmd))
}

// CopyTo copies a host file into the container.
func (e *BaseCLIEngine) CopyTo(ctx context.Context, id ContainerID, hostPath, containerPath string) error {
	return e.RunCommandStatus(ctx, e.CopyArgs(id, hostPath, containerPath)...)
}

// Logs returns up to tail lines of the container's combined log output.
func (e *BaseCLIEngine) Logs(ctx context.Context, id ContainerID, tail int) ([]string, error) {
	out, err := e.RunCommandCombined(ctx, e.LogsArgs(id, tail)...)
	if err != nil {
		return nil, err
	}
	text := strings.TrimRight(string(out), "\n")
	if text == "" {
		return []string{}, nil
	}
	return strings.Split(text, "\n"), nil
}

// customizeCmd applies env overrides to a command.
func (e *BaseCLIEngine) customizeCmd(cmd *exec.Cmd) {
	if len(e.cmdEnvOverrides) > 0 {
		// Start with the parent process environment, then overlay overrides.
		// exec.Cmd.Env being nil means "inherit everything", but once set to
		// a non-nil slice, only the listed vars are passed to the child.
		cmd.Env = os.Environ()
		for k, v := range e.cmdEnvOverrides {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
}

// commandError wraps a failed engine invocation, keeping the first line of stderr.
func commandError(binary string, args []string, stderr string, err error) error {
	detail := strings.TrimSpace(stderr)
	if i := strings.IndexByte(detail, '\n'); i >= 0 {
		detail = detail[:i]
	}
	var exitErr *exec.ExitError
	if detail != "" && errors.As(err, &exitErr) {
		return fmt.Errorf("command %s %v failed: %s: %w", binary, args, detail, err)
	}
	return fmt.Errorf("command %s %v failed: %w", binary, args, err)
}
