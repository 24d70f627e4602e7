// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the hytale-panel CLI: the push server, one-shot
// provisioning, artifact checks, and configuration helpers.
package cmd
