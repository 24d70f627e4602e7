// SPDX-License-Identifier: MPL-2.0

// Package status defines the download-status wire contract and delivers status
// events to the observer of a provisioning session.
package status

import (
	"errors"
	"fmt"
)

// EventName is the push-channel event carrying provisioning status.
const EventName = "download-status"

const (
	StatusStarting     Status = "starting"
	StatusAuthRequired Status = "auth-required"
	StatusError        Status = "error"
	StatusExtracting   Status = "extracting"
	StatusReady        Status = "ready"
)

// Fixed user-facing messages.
const (
	MessageStarting         = "Starting download..."
	MessageExtracting       = "Extracting files..."
	MessageReady            = "Server files ready"
	MessageAlreadyPresent   = "Server files already present"
	ForbiddenMessage        = "Authentication failed or expired. Try again."
	AuthTimeoutMessage      = "Timed out waiting for authentication. Try again."
	NoArchiveMessage        = "Download failed: no archive was produced"
	ExtractionFailedMessage = "Extraction failed: server files are incomplete"
)

// ErrInvalidStatus is returned when a Status value is not part of the wire contract.
var ErrInvalidStatus = errors.New("invalid status")

type (
	// Status is the value of the "status" field of a download-status event.
	Status string

	// Event is the download-status payload.
	Event struct {
		Status  Status `json:"status"`
		Message string `json:"message"`
	}
)

// String returns the wire form of the status.
func (s Status) String() string { return string(s) }

// Validate returns an error if s is not one of the five wire statuses.
func (s Status) Validate() error {
	switch s {
	case StatusStarting, StatusAuthRequired, StatusError, StatusExtracting, StatusReady:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, string(s))
	}
}

// IsTerminal reports whether s ends a session.
func (s Status) IsTerminal() bool {
	return s == StatusReady || s == StatusError
}

// Starting returns the first event of every session that reached its container.
func Starting() Event { return Event{Status: StatusStarting, Message: MessageStarting} }

