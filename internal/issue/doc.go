// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and a catalog of Markdown issue
// pages that the CLI renders when a known failure stops a command.
package issue
