package guardtypes

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// FindingStatus is the lifecycle state of a finding.
type FindingStatus string

const (
	// StatusOpen is a detected, unresolved finding.
	StatusOpen FindingStatus = "open"
	// StatusUserApproved is a finding the user marked safe.
	StatusUserApproved FindingStatus = "userApproved"
	// StatusUserIgnored is a finding the user chose to ignore.
	StatusUserIgnored FindingStatus = "userIgnored"
	// StatusResolved is a finding whose condition disappeared. Resolved
	// findings are never edited again.
	StatusResolved FindingStatus = "resolved"
)

// MatchKind tells which part of the catalog rule produced a match.
type MatchKind string

const (
	MatchKindName    MatchKind = "name"
	MatchKindPath    MatchKind = "path"
	MatchKindContent MatchKind = "content"
	MatchKindSize    MatchKind = "size"
)

// MatchDetail describes what matched. Excerpt is always redacted.
type MatchDetail struct {
	Kind    MatchKind `json:"kind" yaml:"kind"`
	Pattern string    `json:"pattern" yaml:"pattern"`
	Line    int       `json:"line,omitempty" yaml:"line,omitempty"`
	Excerpt string    `json:"excerpt,omitempty" yaml:"excerpt,omitempty"`
	Note    string    `json:"note,omitempty" yaml:"note,omitempty"`
}

// Finding is a single detected risk at a project-relative path.
type Finding struct {
	ID                string         `json:"id" yaml:"id"`
	Path              string         `json:"path" yaml:"path"`
	Category          RiskCategory   `json:"category" yaml:"category"`
	Severity          Severity       `json:"severity" yaml:"severity"`
	Match             MatchDetail    `json:"match" yaml:"match"`
	RelatedCategories []RiskCategory `json:"relatedCategories,omitempty" yaml:"relatedCategories,omitempty"`
	Status            FindingStatus  `json:"status" yaml:"status"`
	Reopened          bool           `json:"reopened,omitempty" yaml:"reopened,omitempty"`

	// MatchDigest fingerprints the matched substring of content findings so a
	// later scan can tell whether it is still present without storing it.
	MatchDigest string `json:"matchDigest,omitempty" yaml:"-"`
}

// FindingID returns the deterministic identifier of a path/category/pattern triple.
func FindingID(path string, category RiskCategory, pattern string) string {
	sum := sha256.Sum256([]byte(path + "|" + string(category) + "|" + pattern))
	return hex.EncodeToString(sum[:8])
}

// Digest fingerprints a matched secret.
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Key identifies the path/category pair of the finding.
func (f Finding) Key() string {
	return f.Path + "|" + string(f.Category)
}

// SortFindings orders findings by severity descending, then path and
// category ascending.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Category < b.Category
	})
}

// ScanError records a per-file failure that did not stop the scan.
type ScanError struct {
	Path   string `json:"path" yaml:"path"`
	Reason string `json:"reason" yaml:"reason"`
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	return "scan " + e.Path + ": " + e.Reason
}

// AssessmentResult is the outcome of one scan. It carries no timestamps so
// that scanning an unchanged tree twice yields equal results.
type AssessmentResult struct {
	TotalFindings int            `json:"totalFindings" yaml:"totalFindings"`
	BySeverity    SeverityCounts `json:"bySeverity" yaml:"bySeverity"`
	Findings      []Finding      `json:"findings" yaml:"findings"`
	Suppressed    []Finding      `json:"suppressed,omitempty" yaml:"suppressed,omitempty"`
	ScanErrors    []ScanError    `json:"scanErrors,omitempty" yaml:"scanErrors,omitempty"`
	FilesScanned  int            `json:"filesScanned" yaml:"filesScanned"`
}

// NewAssessmentResult builds a result from open and suppressed findings,
// sorting both and computing the aggregates.
func NewAssessmentResult(open, suppressed []Finding, scanErrors []ScanError, filesScanned int) *AssessmentResult {
	SortFindings(open)
	SortFindings(suppressed)
	sort.SliceStable(scanErrors, func(i, j int) bool { return scanErrors[i].Path < scanErrors[j].Path })

	r := &AssessmentResult{
		Findings:     open,
		Suppressed:   suppressed,
		ScanErrors:   scanErrors,
		FilesScanned: filesScanned,
	}
	if r.Findings == nil {
		r.Findings = []Finding{}
	}
	for _, f := range open {
		r.BySeverity.Add(f.Severity)
	}
	r.TotalFindings = len(open)
	return r
}

// FindingsAtLeast returns the open findings whose severity is at least min.
func (r *AssessmentResult) FindingsAtLeast(minSeverity Severity) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity.IsAtLeast(minSeverity) {
			out = append(out, f)
		}
	}
	return out
}

// FindingsForPaths returns the open findings located at any of the given paths.
func (r *AssessmentResult) FindingsForPaths(paths []string) []Finding {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	var out []Finding
	for _, f := range r.Findings {
		if _, ok := set[f.Path]; ok {
			out = append(out, f)
		}
	}
	return out
}

// LedgerEntry is a finding as remembered across scans.
type LedgerEntry struct {
	Finding    Finding    `json:"finding"`
	FirstSeen  time.Time  `json:"firstSeen"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}
