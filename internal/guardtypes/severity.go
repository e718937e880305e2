// Package guardtypes defines the data model shared by the compliance engine:
// findings, risk categories, severities, security levels, decision records,
// audit entries and the persisted per-project compliance state.
package guardtypes

import (
	"fmt"
	"strings"
)

// Severity is the impact class of a finding, derived from its risk category.
type Severity string

const (
	// SeverityCritical findings block every gated operation regardless of level.
	SeverityCritical Severity = "critical"
	// SeverityHigh findings block under the strict level.
	SeverityHigh Severity = "high"
	// SeverityMedium findings block under the strict level.
	SeverityMedium Severity = "medium"
	// SeverityLow findings never block.
	SeverityLow Severity = "low"
)

// AllSeverities returns every severity ordered from most to least severe.
func AllSeverities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}
}

// Rank returns a numeric priority; higher values are more severe.
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// IsAtLeast reports whether s is as severe as other or more.
func (s Severity) IsAtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// String returns the string form of the severity.
func (s Severity) String() string {
	return string(s)
}

// ParseSeverity converts a case-insensitive name into a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if sev.Rank() == 0 {
		return "", fmt.Errorf("%w: %q (supported: critical, high, medium, low)", ErrInvalidSeverity, s)
	}
	return sev, nil
}

// SeverityCounts aggregates findings per severity.
type SeverityCounts struct {
	Critical int `json:"critical" yaml:"critical"`
	High     int `json:"high" yaml:"high"`
	Medium   int `json:"medium" yaml:"medium"`
	Low      int `json:"low" yaml:"low"`
}

// Add increments the counter for the given severity.
func (c *SeverityCounts) Add(s Severity) {
	switch s {
	case SeverityCritical:
		c.Critical++
	case SeverityHigh:
		c.High++
	case SeverityMedium:
		c.Medium++
	case SeverityLow:
		c.Low++
	}
}

// Get returns the counter for the given severity.
func (c SeverityCounts) Get(s Severity) int {
	switch s {
	case SeverityCritical:
		return c.Critical
	case SeverityHigh:
		return c.High
	case SeverityMedium:
		return c.Medium
	case SeverityLow:
		return c.Low
	default:
		return 0
	}
}

// Total returns the sum of all counters.
func (c SeverityCounts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low
}
