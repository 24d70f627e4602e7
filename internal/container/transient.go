// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// transientMarkers are engine messages for failures that usually clear up on
// their own: daemon restarts, network blips and overlay storage races.
var transientMarkers = []string{
	"OCI runtime error",
	"Cannot connect to the Docker daemon",
	"connection timed out",
	"connection refused",
	"i/o timeout",
	"error creating overlay mount",
	"error mounting layer",
}

// IsTransientError reports whether retrying err might succeed. A missing
// container and context cancellation are never transient, whatever their cause.
func IsTransientError(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrEnvironmentUnavailable):
		return false
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == engineFailureExitCode {
		return true
	}

	msg := err.Error()
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
