// Package enforcer decides whether a gated operation may proceed given the
// latest assessment and the project's security level, and applies the
// remediations chosen during review.
package enforcer

import (
	"fmt"

	"github.com/isseis/go-gitup-guard/internal/guardtypes"
	"github.com/isseis/go-gitup-guard/internal/ignore"
	"github.com/isseis/go-gitup-guard/internal/project"
)

// Operation names a gated action such as "commit" or "push".
type Operation string

// OperationReview is the operation recorded when a review session completes.
const OperationReview Operation = "review"

// BlockReason explains why one finding stops an operation.
type BlockReason struct {
	Finding     guardtypes.Finding `json:"finding" yaml:"finding"`
	Reason      string             `json:"reason" yaml:"reason"`
	Remediation []string           `json:"remediation" yaml:"remediation"`
}

// Decision is the outcome of the enforcement decision table. A blocked
// decision is a policy violation, not an error.
type Decision struct {
	Operation      Operation                   `json:"operation" yaml:"operation"`
	Level          guardtypes.SecurityLevel    `json:"level" yaml:"level"`
	Allowed        bool                        `json:"allowed" yaml:"allowed"`
	Status         guardtypes.ComplianceStatus `json:"status" yaml:"status"`
	Blocking       []BlockReason               `json:"blocking,omitempty" yaml:"blocking,omitempty"`
	AutoResolved   []guardtypes.Finding        `json:"autoResolved,omitempty" yaml:"autoResolved,omitempty"`
	Tolerated      []guardtypes.Finding        `json:"tolerated,omitempty" yaml:"tolerated,omitempty"`
	Reported       []guardtypes.Finding        `json:"reported,omitempty" yaml:"reported,omitempty"`
	BypassDetected bool                        `json:"bypassDetected,omitempty" yaml:"bypassDetected,omitempty"`
	BypassRange    string                      `json:"bypassRange,omitempty" yaml:"bypassRange,omitempty"`
	Message        string                      `json:"message" yaml:"message"`
}

// BlockingFindings returns the findings listed in Blocking.
func (d Decision) BlockingFindings() []guardtypes.Finding {
	out := make([]guardtypes.Finding, 0, len(d.Blocking))
	for _, b := range d.Blocking {
		out = append(out, b.Finding)
	}
	return out
}

// Evaluate applies the decision table. It is pure: nothing is written.
//
//	strict    blocks critical, high, medium; low is reported
//	moderate  blocks critical; high and medium are auto-resolved; low is reported
//	relaxed   blocks critical; everything else is tolerated
//
// A detected tool bypass blocks unconditionally.
func Evaluate(st *guardtypes.ProjectComplianceState, result *guardtypes.AssessmentResult, level guardtypes.SecurityLevel) Decision {
	d := Decision{Level: level, Allowed: true, Status: guardtypes.ComplianceClean}
	if result != nil {
		for _, f := range result.Findings {
			switch {
			case level.Blocks(f.Severity):
				d.Blocking = append(d.Blocking, BlockReason{
					Finding:     f,
					Reason:      blockReason(f, level),
					Remediation: remediation(f, level),
				})
			case level.AutoResolves(f.Severity) && level == guardtypes.LevelModerate:
				d.AutoResolved = append(d.AutoResolved, f)
			case level.AutoResolves(f.Severity):
				d.Tolerated = append(d.Tolerated, f)
			default:
				d.Reported = append(d.Reported, f)
			}
		}
	}

	if st != nil && st.ToolBypassDetected {
		d.Allowed = false
		d.Status = guardtypes.ComplianceBlocked
		d.BypassDetected = true
		if st.BypassRange != nil {
			d.BypassRange = st.BypassRange.String()
		}
		d.Message = fmt.Sprintf("version-control changes %s were made outside gitup-guard; resolve the blocking findings on the touched paths and rescan", d.BypassRange)
		return d
	}
	if len(d.Blocking) > 0 {
		d.Allowed = false
		d.Status = guardtypes.ComplianceViolated
		d.Message = fmt.Sprintf("%d finding(s) at or above %s block under the %s level", len(d.Blocking), level.BlockingThreshold(), level)
		return d
	}
	d.Message = "no blocking findings"
	return d
}

func blockReason(f guardtypes.Finding, level guardtypes.SecurityLevel) string {
	return fmt.Sprintf("%s (%s) blocks under the %s level, which blocks %s and above",
		f.Category.Label(), f.Severity, level, level.BlockingThreshold())
}

func remediation(f guardtypes.Finding, level guardtypes.SecurityLevel) []string {
	var steps []string
	if f.Category.IsContentSecret() || f.Match.Kind == guardtypes.MatchKindContent {
		line := ""
		if f.Match.Line > 0 {
			line = fmt.Sprintf(" on line %d", f.Match.Line)
		}
		steps = append(steps, fmt.Sprintf("edit %s to remove the secret%s and rotate it", f.Path, line))
	}
	steps = append(steps,
		fmt.Sprintf("add %s to %s", ignore.AnchoredPattern(f.Path), project.SupplementalName),
		"run `gitup-guard review` to mark the finding safe or ignore it",
	)
	if f.Severity != guardtypes.SeverityCritical && level == guardtypes.LevelStrict {
		steps = append(steps, "change the security level with `gitup-guard level moderate`")
	}
	return steps
}
