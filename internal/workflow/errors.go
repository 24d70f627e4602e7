// SPDX-License-Identifier: MPL-2.0

package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInProgress is returned when a container already has an active session.
	ErrAlreadyInProgress = errors.New("provisioning already in progress")

	// ErrAuthenticationRequired is reported by Session.Err while the downloader
	// waits for the user to authorize a device code.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrAccessDenied means the remote rejected the stored credentials.
	ErrAccessDenied = errors.New("access denied")

	// ErrStreamFault means the download stream failed before a terminal marker.
	ErrStreamFault = errors.New("stream fault")

	// ErrNoArchive means the download ended without producing an archive.
	ErrNoArchive = errors.New("no archive produced")

	// ErrAuthTimeout means authentication was not completed in time.
	ErrAuthTimeout = errors.New("authentication timed out")

	// ErrExtractionFailed means the archive did not yield the server files.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrObserverGone means the session ended because its observer disconnected.
	ErrObserverGone = errors.New("observer disconnected")

	// ErrInvalidConfig is the sentinel wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid workflow configuration")
)

type (
	// InProgressError is returned by Registry.Acquire when the key is taken.
	InProgressError struct {
		Key       string
		SessionID string
		State     State
	}

	// InvalidConfigError is returned when a Config fails validation.
	InvalidConfigError struct {
		Field  string
		Reason string
	}
)

// Error implements the error interface.
func (e *InProgressError) Error() string {
	return fmt.Sprintf("provisioning already in progress for %q (session %s, %s)", e.Key, e.SessionID, e.State)
}

// Unwrap returns ErrAlreadyInProgress for errors.Is() compatibility.
func (e *InProgressError) Unwrap() error { return ErrAlreadyInProgress }

// UserMessage returns the text shown to a rejected observer.
func (e *InProgressError) UserMessage() string {
	return "A download is already in progress"
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid workflow configuration: %s: %s", e.Field, e.Reason)
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }
