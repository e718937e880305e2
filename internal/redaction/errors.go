package redaction

import "fmt"

// ErrLogValuePanic is returned when LogValue() panics during redaction.
type ErrLogValuePanic struct {
	Key        string
	PanicValue any
}

func (e *ErrLogValuePanic) Error() string {
	return fmt.Sprintf("LogValue() panicked for attribute %q: %v", e.Key, e.PanicValue)
}
