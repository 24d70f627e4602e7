// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	EngineTypePodman EngineType = "podman"
	EngineTypeDocker EngineType = "docker"

	// ReasonNotFound means the engine answered but no container has the given name.
	ReasonNotFound UnavailableReason = "not found"
	// ReasonNotRunning means the container exists but is stopped or paused.
	ReasonNotRunning UnavailableReason = "not running"
	// ReasonUnreachable means the engine itself could not be queried.
	ReasonUnreachable UnavailableReason = "unreachable"
)

var (
	// ErrEnvironmentUnavailable is the sentinel wrapped by EnvironmentUnavailableError.
	ErrEnvironmentUnavailable = errors.New("environment unavailable")

	// ErrInvalidEngineType is returned when an EngineType value is not recognized.
	ErrInvalidEngineType = errors.New("invalid container engine type")
)

type (
	// Engine defines the container operations used by provisioning.
	Engine interface {
		// Name returns the engine name (docker or podman)
		Name() string
		// Available checks if the engine is available on the system
		Available() bool
		// Version returns the engine version
		Version(ctx context.Context) (string, error)

		// Locate resolves a container name to its ID. A missing, stopped or
		// unreachable container yields an *EnvironmentUnavailableError.
		Locate(ctx context.Context, name string) (ContainerID, error)
		// ExecOutput runs a shell command inside the container and returns its stdout.
		ExecOutput(ctx context.Context, id ContainerID, shellCmd string) (string, error)
		// Stream starts a shell command inside the container and streams its
		// combined output as StreamEvents.
		Stream(ctx context.Context, id ContainerID, shellCmd string) (*Stream, error)
		// CopyTo copies a host file into the container.
		CopyTo(ctx context.Context, id ContainerID, hostPath, containerPath string) error
		// Logs returns up to tail lines of the container log.
		Logs(ctx context.Context, id ContainerID, tail int) ([]string, error)
	}

	// EngineType identifies the container engine type
	EngineType string

	// ContainerID is the engine-assigned identifier of a container.
	ContainerID string

	// UnavailableReason classifies why an environment could not be used.
	UnavailableReason string

	// EnvironmentUnavailableError is returned when the target container is missing,
	// stopped, or the engine cannot be reached.
	EnvironmentUnavailableError struct {
		Name   string
		Reason UnavailableReason
		Cause  error
	}

	// ErrEngineNotAvailable is returned when a container engine is not available
	ErrEngineNotAvailable struct {
		Engine string
		Reason string
	}
)

// String returns the string representation of the EngineType.
func (t EngineType) String() string { return string(t) }

// Validate returns an error if the EngineType is not docker or podman.
func (t EngineType) Validate() error {
	switch t {
	case EngineTypeDocker, EngineTypePodman:
		return nil
	default:
		return fmt.Errorf("%w: %q (valid: docker, podman)", ErrInvalidEngineType, string(t))
	}
}

// String returns the string representation of the ContainerID.
func (id ContainerID) String() string { return string(id) }

// Short returns the first 12 characters of the ID, the form engines print.
func (id ContainerID) Short() string {
	if len(id) > 12 {
		return string(id[:12])
	}
	return string(id)
}

// Error implements the error interface.
func (e *EnvironmentUnavailableError) Error() string {
	msg := fmt.Sprintf("container %q %s", e.Name, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns ErrEnvironmentUnavailable for errors.Is() compatibility.
func (e *EnvironmentUnavailableError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrEnvironmentUnavailable, e.Cause}
	}
	return []error{ErrEnvironmentUnavailable}
}

// UserMessage returns the text shown to observers. It never includes the cause,
// which may carry engine internals.
func (e *EnvironmentUnavailableError) UserMessage() string {
	switch e.Reason {
	case ReasonNotFound:
		return "Container not found"
	case ReasonNotRunning:
		return "Container is not running"
	default:
		return "Container engine unavailable"
	}
}

func (e *ErrEngineNotAvailable) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// NewEngine returns the preferred engine, falling back to the other one when
// the preferred CLI is missing or its daemon does not answer.
func NewEngine(preferred EngineType) (Engine, error) {
	if err := preferred.Validate(); err != nil {
		return nil, err
	}
	order := []EngineType{EngineTypeDocker, EngineTypePodman}
	if preferred == EngineTypePodman {
		order = []EngineType{EngineTypePodman, EngineTypeDocker}
	}
	if e := firstAvailable(order); e != nil {
		return e, nil
	}
	return nil, &ErrEngineNotAvailable{
		Engine: string(preferred),
		Reason: fmt.Sprintf("%s is not installed or not accessible, and the %s fallback is not available either", order[0], order[1]),
	}
}

// AutoDetectEngine returns the first available engine. Docker is tried first
// since game server images are usually deployed with it.
func AutoDetectEngine() (Engine, error) {
	if e := firstAvailable([]EngineType{EngineTypeDocker, EngineTypePodman}); e != nil {
		return e, nil
	}
	return nil, &ErrEngineNotAvailable{
		Engine: "any",
		Reason: "no container engine (docker or podman) is available on this system",
	}
}

func firstAvailable(order []EngineType) *CLIEngine {
	for _, t := range order {
		var e *CLIEngine
		if t == EngineTypePodman {
			e = NewPodmanEngine()
		} else {
			e = NewDockerEngine()
		}
		if e.Available() {
			return e
		}
	}
	return nil
}

// isNoSuchContainer reports whether engine output describes a missing container.
// Docker prints "No such container" / "No such object"; Podman prints "no such container".
func isNoSuchContainer(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "no such container") || strings.Contains(lower, "no such object")
}
