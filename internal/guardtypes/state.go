package guardtypes

import "time"

// StateSchemaVersion is the version written into persisted documents.
const StateSchemaVersion = 1

// CommitRange is a half-open version-control range from..to.
type CommitRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// String renders the range the way git does.
func (r CommitRange) String() string {
	return r.From + ".." + r.To
}

// ProjectComplianceState is the persisted standing of one project root.
type ProjectComplianceState struct {
	SchemaVersion       int              `json:"schemaVersion"`
	LastToolCommit      string           `json:"lastToolCommit"`
	LastObservedVcsHead string           `json:"lastObservedVcsHead"`
	ToolBypassDetected  bool             `json:"toolBypassDetected"`
	BypassRange         *CommitRange     `json:"bypassRange,omitempty"`
	PendingRescanPaths  []string         `json:"pendingRescanPaths,omitempty"`
	ComplianceStatus    ComplianceStatus `json:"complianceStatus"`
	SecurityLevel       SecurityLevel    `json:"securityLevel"`
	InitTimestamp       time.Time        `json:"initTimestamp"`
	LastAuditTimestamp  time.Time        `json:"lastAuditTimestamp"`
	FindingLedger       []LedgerEntry    `json:"findingLedger,omitempty"`
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (s *ProjectComplianceState) Clone() *ProjectComplianceState {
	if s == nil {
		return nil
	}
	c := *s
	if s.BypassRange != nil {
		r := *s.BypassRange
		c.BypassRange = &r
	}
	c.PendingRescanPaths = append([]string(nil), s.PendingRescanPaths...)
	c.FindingLedger = append([]LedgerEntry(nil), s.FindingLedger...)
	return &c
}
