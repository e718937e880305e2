package guardtypes

import "errors"

// Validation errors for enumerated values.
var (
	// ErrInvalidSeverity is returned when a severity name is not recognised.
	ErrInvalidSeverity = errors.New("invalid severity")

	// ErrInvalidCategory is returned when a risk category name is not recognised.
	ErrInvalidCategory = errors.New("invalid risk category")

	// ErrInvalidSecurityLevel is returned when a security level name is not recognised.
	ErrInvalidSecurityLevel = errors.New("invalid security level")

	// ErrInvalidDecision is returned when a decision name is not recognised.
	ErrInvalidDecision = errors.New("invalid decision")
)
