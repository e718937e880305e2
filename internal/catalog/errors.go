package catalog

import "errors"

var (
	// ErrInvalidTable is returned when the detection table cannot be decoded.
	ErrInvalidTable = errors.New("invalid detection table")

	// ErrMissingRuleName is returned for a rule without a name.
	ErrMissingRuleName = errors.New("rule name is required")

	// ErrEmptyRule is returned for a rule that can never match.
	ErrEmptyRule = errors.New("rule has no matchers")

	// ErrDuplicateRule is returned when two rules share a name.
	ErrDuplicateRule = errors.New("duplicate rule name")
)
