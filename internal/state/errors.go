package state

import (
	"errors"
	"fmt"
)

var (
	// ErrLockHeld is returned when another process holds the project lock.
	ErrLockHeld = errors.New("another gitup-guard process holds the project lock")

	// ErrNotInitialized is returned when the project has no compliance state yet.
	ErrNotInitialized = errors.New("project not initialized; run `gitup-guard init`")

	// ErrAlreadyInitialized is returned by Initialize when state already exists.
	ErrAlreadyInitialized = errors.New("project already initialized")

	// ErrStateCorruption matches every *CorruptionError via errors.Is.
	ErrStateCorruption = errors.New("compliance state corrupted")

	// ErrNoPendingAuthorization is returned when a tool commit is recorded
	// without a preceding allowed operation.
	ErrNoPendingAuthorization = errors.New("no allowed operation precedes this commit")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("state store is closed")
)

// CorruptionError reports a persisted document that cannot be parsed. The
// store never resets state on its own.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%v: %s: %v; %s", ErrStateCorruption, e.Path, e.Err, e.Remediation())
}

// Remediation tells the user how to recover.
func (e *CorruptionError) Remediation() string {
	return fmt.Sprintf("run `gitup-guard reset` to reinitialize or repair %s manually", e.Path)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStateCorruption) hold.
func (e *CorruptionError) Is(target error) bool { return target == ErrStateCorruption }
