package ignore

import (
	"errors"
	"fmt"
)

var (
	// ErrBaselineWrite is returned when a write would touch the user's baseline ignore file.
	ErrBaselineWrite = errors.New("refusing to write the baseline ignore file")

	// ErrMalformedBaseline marks a baseline that is not valid UTF-8 text.
	ErrMalformedBaseline = errors.New("baseline ignore file is not valid text")

	// ErrInvalidPattern is returned for an empty or comment-only pattern.
	ErrInvalidPattern = errors.New("invalid ignore pattern")
)

// ReconciliationError is a non-fatal problem found while syncing ignore
// rules. The rule set is still usable, possibly degraded.
type ReconciliationError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ReconciliationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ignore rules %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("ignore rules %s: %s", e.Path, e.Reason)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// Warning is the element type returned by Reconciler.Sync.
type Warning = *ReconciliationError
