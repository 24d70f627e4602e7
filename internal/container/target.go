// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"sync"
	"time"
)

var copyBackoff = Backoff{Attempts: 3, Base: 500 * time.Millisecond, Max: 4 * time.Second}

// Target binds an Engine to a single named container. The resolved container ID
// is cached and dropped again as soon as the engine reports the container gone.
type Target struct {
	engine Engine
	name   string

	mu sync.Mutex
	id ContainerID
}

// NewTarget creates a Target for the container called name.
func NewTarget(engine Engine, name string) *Target {
	return &Target{engine: engine, name: name}
}

// Name returns the container name this target addresses.
func (t *Target) Name() string { return t.name }

// Engine returns the underlying engine.
func (t *Target) Engine() Engine { return t.engine }

// Locate checks that the container exists and is running.
func (t *Target) Locate(ctx context.Context) error {
	_, err := t.locate(ctx)
	return err
}

// Exec runs a one-shot shell command in the container and returns its stdout.
func (t *Target) Exec(ctx context.Context, command string) (string, error) {
	id, err := t.resolve(ctx)
	if err != nil {
		return "", err
	}
	out, err := t.engine.ExecOutput(ctx, id, command)
	return out, t.check(err)
}

// Run starts a streaming shell command in the container.
func (t *Target) Run(ctx context.Context, command string) (*Stream, error) {
	id, err := t.resolve(ctx)
	if err != nil {
		return nil, err
	}
	s, err := t.engine.Stream(ctx, id, command)
	return s, t.check(err)
}

// CopyIn copies a host file into the container, retrying transient engine failures.
func (t *Target) CopyIn(ctx context.Context, hostPath, containerPath string) error {
	id, err := t.resolve(ctx)
	if err != nil {
		return err
	}
	return copyBackoff.Retry(ctx, func(ctx context.Context) error {
		return t.check(t.engine.CopyTo(ctx, id, hostPath, containerPath))
	})
}

// Logs returns up to tail lines of the container log.
func (t *Target) Logs(ctx context.Context, tail int) ([]string, error) {
	id, err := t.resolve(ctx)
	if err != nil {
		return nil, err
	}
	lines, err := t.engine.Logs(ctx, id, tail)
	return lines, t.check(err)
}

func (t *Target) resolve(ctx context.Context) (ContainerID, error) {
	t.mu.Lock()
	id := t.id
	t.mu.Unlock()
	if id != "" {
		return id, nil
	}
	return t.locate(ctx)
}

func (t *Target) locate(ctx context.Context) (ContainerID, error) {
	id, err := t.engine.Locate(ctx, t.name)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.id = ""
		return "", err
	}
	t.id = id
	return id, nil
}

// check converts a "no such container" engine failure into an
// EnvironmentUnavailableError and forgets the cached ID.
func (t *Target) check(err error) error {
	if err == nil || !isNoSuchContainer(err.Error()) {
		return err
	}
	t.mu.Lock()
	t.id = ""
	t.mu.Unlock()
	return &EnvironmentUnavailableError{Name: t.name, Reason: ReasonNotFound, Cause: err}
}
