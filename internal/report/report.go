// Package report renders assessments, decisions and project status for the
// CLI, as styled text or as JSON and YAML documents.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/isseis/go-gitup-guard/internal/audit"
	"github.com/isseis/go-gitup-guard/internal/enforcer"
	"github.com/isseis/go-gitup-guard/internal/guardtypes"
	"gopkg.in/yaml.v3"
)

// Format is an output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrUnknownFormat is returned for unsupported --format values.
var ErrUnknownFormat = errors.New("unknown output format")

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: %q (supported: text, json, yaml)", ErrUnknownFormat, s)
	}
}

// Encode writes v as an indented JSON or YAML document.
func Encode(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

type styles struct {
	title    lipgloss.Style
	muted    lipgloss.Style
	ok       lipgloss.Style
	warn     lipgloss.Style
	bad      lipgloss.Style
	severity map[guardtypes.Severity]lipgloss.Style
}

// Renderer writes human-readable reports.
type Renderer struct {
	w io.Writer
	s styles
}

// NewRenderer creates a Renderer. Without color every style is plain.
func NewRenderer(w io.Writer, color bool) *Renderer {
	r := lipgloss.NewRenderer(w)
	plain := r.NewStyle()
	s := styles{
		title: plain, muted: plain, ok: plain, warn: plain, bad: plain,
		severity: map[guardtypes.Severity]lipgloss.Style{},
	}
	if color {
		s.title = r.NewStyle().Bold(true)
		s.muted = r.NewStyle().Faint(true)
		s.ok = r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
		s.warn = r.NewStyle().Foreground(lipgloss.Color("3"))
		s.bad = r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
		s.severity[guardtypes.SeverityCritical] = s.bad
		s.severity[guardtypes.SeverityHigh] = r.NewStyle().Foreground(lipgloss.Color("1"))
		s.severity[guardtypes.SeverityMedium] = s.warn
		s.severity[guardtypes.SeverityLow] = s.muted
	}
	return &Renderer{w: w, s: s}
}

func (r *Renderer) sev(s guardtypes.Severity) string {
	label := fmt.Sprintf("%-8s", strings.ToUpper(string(s)))
	if st, ok := r.s.severity[s]; ok {
		return st.Render(label)
	}
	return label
}

// Assessment renders a scan result and the decision it leads to.
func (r *Renderer) Assessment(result *guardtypes.AssessmentResult, d enforcer.Decision) error {
	var sb strings.Builder
	c := result.BySeverity
	fmt.Fprintf(&sb, "%s\n", r.s.title.Render(fmt.Sprintf("Assessment: %d file(s) scanned, %d open finding(s)", result.FilesScanned, result.TotalFindings)))
	fmt.Fprintf(&sb, "  critical %d  high %d  medium %d  low %d", c.Critical, c.High, c.Medium, c.Low)
	if n := len(result.Suppressed); n > 0 {
		fmt.Fprintf(&sb, "  (%d suppressed by decisions)", n)
	}
	sb.WriteString("\n")
	for _, f := range result.Findings {
		fmt.Fprintf(&sb, "  %s %s  %s\n", r.sev(f.Severity), f.Path, r.s.muted.Render(matchSummary(f)))
	}
	if top := audit.StatisticsFor(result).GetTopCategories(3); len(top) > 0 {
		parts := make([]string, 0, len(top))
		for _, tc := range top {
			parts = append(parts, fmt.Sprintf("%s %d", tc.Category.Label(), tc.Count))
		}
		fmt.Fprintf(&sb, "Top categories: %s\n", strings.Join(parts, ", "))
	}
	if len(result.ScanErrors) > 0 {
		sb.WriteString(r.s.warn.Render("Not fully inspected:") + "\n")
		for _, e := range result.ScanErrors {
			fmt.Fprintf(&sb, "  %s: %s\n", e.Path, e.Reason)
		}
	}
	fmt.Fprintf(&sb, "Compliance: %s under the %s level\n", r.status(d.Status), d.Level)
	_, err := io.WriteString(r.w, sb.String())
	if err != nil {
		return err
	}
	if !d.Allowed {
		return r.blocking(d)
	}
	return nil
}

// Decision renders the outcome of a gated operation.
func (r *Renderer) Decision(d enforcer.Decision) error {
	if d.Allowed {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s %s under the %s level\n", r.s.ok.Render("ALLOWED"), d.Operation, d.Level)
		for _, f := range d.AutoResolved {
			fmt.Fprintf(&sb, "  auto-resolved %s (%s), review again later\n", f.Path, f.Category.Label())
		}
		for _, f := range d.Tolerated {
			fmt.Fprintf(&sb, "  tolerated %s (%s)\n", f.Path, f.Category.Label())
		}
		for _, f := range d.Reported {
			fmt.Fprintf(&sb, "  note %s (%s)\n", f.Path, f.Category.Label())
		}
		_, err := io.WriteString(r.w, sb.String())
		return err
	}
	if _, err := fmt.Fprintf(r.w, "%s %s under the %s level\n", r.s.bad.Render("BLOCKED"), d.Operation, d.Level); err != nil {
		return err
	}
	return r.blocking(d)
}

func (r *Renderer) blocking(d enforcer.Decision) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", d.Message)
	if d.BypassDetected {
		sb.WriteString("  run `gitup-guard scan` once the changes are reviewed to clear the bypass\n")
	}
	for _, b := range d.Blocking {
		fmt.Fprintf(&sb, "  %s %s\n", r.sev(b.Finding.Severity), b.Finding.Path)
		fmt.Fprintf(&sb, "    why: %s\n", b.Reason)
		for _, step := range b.Remediation {
			fmt.Fprintf(&sb, "    fix: %s\n", step)
		}
	}
	_, err := io.WriteString(r.w, sb.String())
	return err
}

func (r *Renderer) status(s guardtypes.ComplianceStatus) string {
	switch s {
	case guardtypes.ComplianceClean:
		return r.s.ok.Render(string(s))
	case guardtypes.ComplianceBlocked:
		return r.s.bad.Render(string(s))
	default:
		return r.s.warn.Render(string(s))
	}
}

// StatusView is the status document shown by `gitup-guard status`.
type StatusView struct {
	Root               string                      `json:"root" yaml:"root"`
	SecurityLevel      guardtypes.SecurityLevel    `json:"securityLevel" yaml:"securityLevel"`
	ComplianceStatus   guardtypes.ComplianceStatus `json:"complianceStatus" yaml:"complianceStatus"`
	LastObservedHead   string                      `json:"lastObservedVcsHead,omitempty" yaml:"lastObservedVcsHead,omitempty"`
	LastToolCommit     string                      `json:"lastToolCommit,omitempty" yaml:"lastToolCommit,omitempty"`
	ToolBypassDetected bool                        `json:"toolBypassDetected" yaml:"toolBypassDetected"`
	BypassRange        string                      `json:"bypassRange,omitempty" yaml:"bypassRange,omitempty"`
	PendingRescanPaths []string                    `json:"pendingRescanPaths,omitempty" yaml:"pendingRescanPaths,omitempty"`
	InitTimestamp      time.Time                   `json:"initTimestamp" yaml:"initTimestamp"`
	LastAuditTimestamp time.Time                   `json:"lastAuditTimestamp" yaml:"lastAuditTimestamp"`
	OpenFindings       []guardtypes.Finding        `json:"openFindings" yaml:"openFindings"`
	ResolvedFindings   int                         `json:"resolvedFindings" yaml:"resolvedFindings"`
	Decisions          int                         `json:"decisions" yaml:"decisions"`
	DueForReview       []string                    `json:"dueForReview,omitempty" yaml:"dueForReview,omitempty"`
	AuditEntries       int                         `json:"auditEntries" yaml:"auditEntries"`
}

// NewStatusView summarises persisted state. Decisions past their review
// date are listed by key.
func NewStatusView(root string, st *guardtypes.ProjectComplianceState, decisions map[string]guardtypes.DecisionRecord, auditEntries int, now time.Time) StatusView {
	v := StatusView{
		Root:               root,
		SecurityLevel:      st.SecurityLevel,
		ComplianceStatus:   st.ComplianceStatus,
		LastObservedHead:   st.LastObservedVcsHead,
		LastToolCommit:     st.LastToolCommit,
		ToolBypassDetected: st.ToolBypassDetected,
		PendingRescanPaths: st.PendingRescanPaths,
		InitTimestamp:      st.InitTimestamp,
		LastAuditTimestamp: st.LastAuditTimestamp,
		OpenFindings:       []guardtypes.Finding{},
		Decisions:          len(decisions),
		AuditEntries:       auditEntries,
	}
	if st.BypassRange != nil {
		v.BypassRange = st.BypassRange.String()
	}
	for _, e := range st.FindingLedger {
		switch e.Finding.Status {
		case guardtypes.StatusOpen:
			v.OpenFindings = append(v.OpenFindings, e.Finding)
		case guardtypes.StatusResolved:
			v.ResolvedFindings++
		}
	}
	guardtypes.SortFindings(v.OpenFindings)
	for key, rec := range decisions {
		if rec.DueForReview(now) {
			v.DueForReview = append(v.DueForReview, key)
		}
	}
	sort.Strings(v.DueForReview)
	return v
}

// Status renders a StatusView as text.
func (r *Renderer) Status(v StatusView) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", r.s.title.Render("gitup-guard status: "+v.Root))
	fmt.Fprintf(&sb, "  level       %s\n", v.SecurityLevel)
	fmt.Fprintf(&sb, "  compliance  %s\n", r.status(v.ComplianceStatus))
	if v.LastObservedHead != "" {
		fmt.Fprintf(&sb, "  head        %s\n", v.LastObservedHead)
	}
	fmt.Fprintf(&sb, "  last audit  %s\n", v.LastAuditTimestamp.Format(time.RFC3339))
	fmt.Fprintf(&sb, "  findings    %d open, %d resolved\n", len(v.OpenFindings), v.ResolvedFindings)
	fmt.Fprintf(&sb, "  decisions   %d (%d due for review)\n", v.Decisions, len(v.DueForReview))
	fmt.Fprintf(&sb, "  audit trail %d entries\n", v.AuditEntries)
	if v.ToolBypassDetected {
		fmt.Fprintf(&sb, "%s changes %s were made outside gitup-guard\n", r.s.bad.Render("BYPASS"), v.BypassRange)
		for _, p := range v.PendingRescanPaths {
			fmt.Fprintf(&sb, "  pending %s\n", p)
		}
	}
	for _, f := range v.OpenFindings {
		fmt.Fprintf(&sb, "  %s %s  %s\n", r.sev(f.Severity), f.Path, r.s.muted.Render(f.Category.Label()))
	}
	for _, key := range v.DueForReview {
		fmt.Fprintf(&sb, "  %s %s\n", r.s.warn.Render("review due"), key)
	}
	_, err := io.WriteString(r.w, sb.String())
	return err
}

func matchSummary(f guardtypes.Finding) string {
	s := f.Category.Label()
	switch {
	case f.Match.Excerpt != "":
		s += fmt.Sprintf(", line %d: %s", f.Match.Line, f.Match.Excerpt)
	case f.Match.Note != "":
		s += ", " + f.Match.Note
	}
	return s
}
