// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"strconv"
)

// ExitError carries a process exit status out of a RunE handler, so commands
// never call os.Exit themselves.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return "exit status " + strconv.Itoa(e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exitErr) && exitErr.Code != 0:
		return exitErr.Code
	default:
		return 1
	}
}
