package guardtypes

import (
	"fmt"
	"time"
)

// DecisionKind is the user's (or the enforcer's) verdict on a finding.
type DecisionKind string

const (
	DecisionSafe   DecisionKind = "safe"
	DecisionIgnore DecisionKind = "ignore"
	DecisionRename DecisionKind = "rename"
	DecisionEdit   DecisionKind = "edit"
)

// ParseDecisionKind validates a decision name.
func ParseDecisionKind(s string) (DecisionKind, error) {
	switch k := DecisionKind(s); k {
	case DecisionSafe, DecisionIgnore, DecisionRename, DecisionEdit:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
	}
}

// Suppresses reports whether the decision removes the finding from scan results.
func (k DecisionKind) Suppresses() bool {
	return k == DecisionSafe || k == DecisionIgnore
}

// Actor identifies who caused an audited change.
type Actor string

const (
	ActorTool Actor = "tool"
	ActorUser Actor = "user"
)

// DecisionRecord is the audit metadata behind a path or pattern decision.
type DecisionRecord struct {
	Decision    DecisionKind `json:"decision" yaml:"decision"`
	Reason      string       `json:"reason" yaml:"reason"`
	Timestamp   time.Time    `json:"timestamp" yaml:"timestamp"`
	ReviewAfter *time.Time   `json:"reviewAfter,omitempty" yaml:"reviewAfter,omitempty"`
	Actor       Actor        `json:"actor,omitempty" yaml:"actor,omitempty"`
	Pattern     string       `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Suggestion  string       `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	Category    RiskCategory `json:"category,omitempty" yaml:"category,omitempty"`
}

// DueForReview reports whether the record's re-review date has passed.
func (r DecisionRecord) DueForReview(now time.Time) bool {
	return r.ReviewAfter != nil && !now.Before(*r.ReviewAfter)
}

// Audit actions written by the engine.
const (
	ActionInitialized        = "initialized"
	ActionScanCompleted      = "scan_completed"
	ActionBypassDetected     = "bypass_detected"
	ActionBypassReconciled   = "bypass_reconciled"
	ActionOperationAllowed   = "operation_allowed"
	ActionOperationBlocked   = "operation_blocked"
	ActionDecisionRecorded   = "decision_recorded"
	ActionAutoResolved       = "auto_resolved"
	ActionLevelChanged       = "security_level_changed"
	ActionReviewCompleted    = "review_completed"
	ActionReviewCancelled    = "review_cancelled"
	ActionAuditPurged        = "audit_purged"
	ActionPathsRegistered    = "paths_registered"
	ActionStateReset         = "state_reset"
	ActionBaselineDegraded   = "baseline_degraded"
	ActionFindingsTolerated  = "findings_tolerated"
	ActionToolCommitRecorded = "tool_commit_recorded"
)

// AuditEntry is one append-only audit trail record.
type AuditEntry struct {
	ID               string    `json:"id" yaml:"id"`
	Timestamp        time.Time `json:"timestamp" yaml:"timestamp"`
	Actor            Actor     `json:"actor" yaml:"actor"`
	Action           string    `json:"action" yaml:"action"`
	FindingsAffected []string  `json:"findingsAffected,omitempty" yaml:"findingsAffected,omitempty"`
	Outcome          string    `json:"outcome" yaml:"outcome"`
	Detail           string    `json:"detail,omitempty" yaml:"detail,omitempty"`
}
