// SPDX-License-Identifier: MPL-2.0

package workflow

import (
	"context"

	"hytale-panel/internal/container"
	"hytale-panel/internal/probe"
)

type (
	// OutputStream delivers the output of a running download command.
	OutputStream interface {
		Events() <-chan container.StreamEvent
		Close() error
	}

	// Environment is the container a session provisions.
	Environment interface {
		// Name identifies the container; it keys the session registry.
		Name() string
		Locate(ctx context.Context) error
		Run(ctx context.Context, command string) (OutputStream, error)
	}

	// Prober answers the artifact questions the workflow asks.
	Prober interface {
		CheckServerFiles(ctx context.Context) probe.ArtifactStatus
		ArchiveExists(ctx context.Context) bool
		Extract(ctx context.Context) error
	}

	// Target is what a session provisions.
	Target struct {
		Env   Environment
		Probe Prober
	}

	targetEnv struct {
		t *container.Target
	}
)

// ContainerTarget builds a Target for a container and the probe that inspects it.
func ContainerTarget(t *container.Target, p *probe.Probe) Target {
	return Target{Env: targetEnv{t: t}, Probe: p}
}

func (e targetEnv) Name() string { return e.t.Name() }

func (e targetEnv) Locate(ctx context.Context) error { return e.t.Locate(ctx) }

func (e targetEnv) Run(ctx context.Context, command string) (OutputStream, error) {
	s, err := e.t.Run(ctx, command)
	if err != nil {
		return nil, err
	}
	return s, nil
}
