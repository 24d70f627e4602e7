// SPDX-License-Identifier: MPL-2.0

// Package container drives the execution environment that hosts the game server: a
// long-lived Docker or Podman container addressed by name.
//
// The Engine interface covers what provisioning needs from a running container:
// locating it, one-shot command execution with captured output, streaming command
// execution (Stream), copying uploaded files in, and reading its log tail. CLIEngine
// embeds BaseCLIEngine, which builds the CLI arguments and runs the docker or podman
// binary through an injectable ExecCommandFunc so tests can substitute a helper process.
//
// Target binds an Engine to one container name and is what the probe and workflow
// packages consume.
//
// Engine selection uses NewEngine(EngineType) with automatic fallback if the preferred
// engine is unavailable, or AutoDetectEngine() for preference-less detection.
package container
