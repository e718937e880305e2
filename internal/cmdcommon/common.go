// Package cmdcommon provides common functionality for command-line tools.
package cmdcommon

import (
	"errors"
	"fmt"
)

// Build-time variables (set via ldflags)
var (
	Version = "dev"
)

// Process exit codes.
const (
	ExitOK = 0
	// ExitFailure covers usage and runtime errors.
	ExitFailure = 1
	// ExitNotCompliant means the project has open blocking findings or a
	// review ended without completing.
	ExitNotCompliant = 2
	// ExitBlocked means a gated operation was refused.
	ExitBlocked = 3
)

// ExitError carries a process exit code. A nil Err means the command already
// told the user what happened.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exit wraps err with an exit code.
func Exit(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}

// Silent reports whether err needs no further message.
func Silent(err error) bool {
	var ee *ExitError
	return errors.As(err, &ee) && ee.Err == nil
}
