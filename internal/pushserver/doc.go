// SPDX-License-Identifier: MPL-2.0

// Package pushserver is the panel's network surface. It serves the file API
// over HTTP and a websocket push channel on which each connection acts as the
// observer of the provisioning sessions it starts.
//
// Every connection owns a bounded outbound queue drained by a single writer
// goroutine, so status events reach the client in publish order and a slow
// client never blocks a provisioning session.
package pushserver
