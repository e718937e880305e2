package guardtypes

import (
	"fmt"
	"strings"
)

// SecurityLevel controls which severities block a gated operation.
type SecurityLevel string

const (
	LevelStrict   SecurityLevel = "strict"
	LevelModerate SecurityLevel = "moderate"
	LevelRelaxed  SecurityLevel = "relaxed"
)

// AllLevels returns the supported levels from most to least restrictive.
func AllLevels() []SecurityLevel {
	return []SecurityLevel{LevelStrict, LevelModerate, LevelRelaxed}
}

// ParseSecurityLevel validates a level name. An empty string yields the
// default level, moderate.
func ParseSecurityLevel(s string) (SecurityLevel, error) {
	switch SecurityLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LevelStrict:
		return LevelStrict, nil
	case LevelModerate, "":
		return LevelModerate, nil
	case LevelRelaxed:
		return LevelRelaxed, nil
	default:
		return "", fmt.Errorf("%w: %q (supported: strict, moderate, relaxed)", ErrInvalidSecurityLevel, s)
	}
}

// Blocks reports whether a finding of severity s blocks under this level.
func (l SecurityLevel) Blocks(s Severity) bool {
	if l == LevelStrict {
		return s.IsAtLeast(SeverityMedium)
	}
	return s == SeverityCritical
}

// AutoResolves reports whether a finding of severity s is resolved
// automatically when an operation is allowed under this level.
func (l SecurityLevel) AutoResolves(s Severity) bool {
	switch l {
	case LevelModerate:
		return s == SeverityHigh || s == SeverityMedium
	case LevelRelaxed:
		return s != SeverityCritical && s.Rank() > 0
	default:
		return false
	}
}

// BlockingThreshold returns the least severe severity that blocks.
func (l SecurityLevel) BlockingThreshold() Severity {
	if l == LevelStrict {
		return SeverityMedium
	}
	return SeverityCritical
}

// ComplianceStatus is the standing of a project against its level.
type ComplianceStatus string

const (
	ComplianceClean    ComplianceStatus = "clean"
	ComplianceViolated ComplianceStatus = "violated"
	ComplianceBlocked  ComplianceStatus = "blocked"
)
