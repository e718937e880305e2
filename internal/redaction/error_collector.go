package redaction

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Failure represents a single redaction failure event
type Failure struct {
	Key       string
	Err       error
	Timestamp time.Time
}

// InMemoryErrorCollector collects redaction failures in memory.
// Safe for concurrent use.
type InMemoryErrorCollector struct {
	mu       sync.RWMutex
	failures []Failure
	maxSize  int // 0 = unlimited
}

// NewInMemoryErrorCollector creates a new in-memory error collector
func NewInMemoryErrorCollector(maxSize int) *InMemoryErrorCollector {
	return &InMemoryErrorCollector{maxSize: maxSize}
}

// RecordFailure records a redaction failure, dropping the oldest entries
// once maxSize is reached.
func (c *InMemoryErrorCollector) RecordFailure(key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures = append(c.failures, Failure{Key: key, Err: err, Timestamp: time.Now()})
	if c.maxSize > 0 && len(c.failures) > c.maxSize {
		c.failures = c.failures[len(c.failures)-c.maxSize:]
	}
}

// Failures returns a copy of all collected failures
func (c *InMemoryErrorCollector) Failures() []Failure {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Failure, len(c.failures))
	copy(out, c.failures)
	return out
}

// Count returns the number of collected failures
func (c *InMemoryErrorCollector) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.failures)
}

// Report writes a short summary of collected failures to w. Nothing is
// written when there are none.
func (c *InMemoryErrorCollector) Report(w io.Writer) error {
	failures := c.Failures()
	if len(failures) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "warning: %d log attribute(s) could not be redacted and were suppressed\n", len(failures)); err != nil {
		return err
	}
	for _, f := range failures {
		if _, err := fmt.Fprintf(w, "  - %s: %v\n", f.Key, f.Err); err != nil {
			return err
		}
	}
	return nil
}
