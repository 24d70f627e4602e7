// SPDX-License-Identifier: MPL-2.0

// Package config loads the panel configuration using Viper with CUE as the file format.
//
// The file is read from $XDG_CONFIG_HOME/hytale-panel/config.cue (or the platform
// equivalent), falling back to ./config.cue. It is validated against the embedded
// #Config schema before being merged over the defaults. HYTALE_PANEL_* environment
// variables override file values, e.g. HYTALE_PANEL_AUTH_JWT_SECRET.
package config
