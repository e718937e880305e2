package enforcer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/isseis/go-gitup-guard/internal/audit"
	"github.com/isseis/go-gitup-guard/internal/guardtypes"
	"github.com/isseis/go-gitup-guard/internal/ignore"
	"github.com/isseis/go-gitup-guard/internal/metrics"
	"github.com/isseis/go-gitup-guard/internal/project"
	"github.com/isseis/go-gitup-guard/internal/scanner"
	"github.com/isseis/go-gitup-guard/internal/state"
)

// Default re-review periods.
const (
	DefaultAutoReviewDays = 30
	DefaultEditReviewDays = 7
)

// Policy holds the time-based parts of enforcement.
type Policy struct {
	AutoReviewDays int
	EditReviewDays int
}

// Deps are the collaborators of an Enforcer.
type Deps struct {
	Handle     *project.Handle
	Store      *state.Store
	Reconciler *ignore.Reconciler
	Scanner    *scanner.Scanner
	Audit      *audit.Logger
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
	Policy     Policy
}

// Enforcer runs the assess-then-authorize pipeline for one project.
type Enforcer struct {
	handle     *project.Handle
	store      *state.Store
	reconciler *ignore.Reconciler
	scanner    *scanner.Scanner
	audit      *audit.Logger
	metrics    *metrics.Recorder
	logger     *slog.Logger
	policy     Policy
}

// New creates an Enforcer.
func New(d Deps) *Enforcer {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Policy.AutoReviewDays <= 0 {
		d.Policy.AutoReviewDays = DefaultAutoReviewDays
	}
	if d.Policy.EditReviewDays <= 0 {
		d.Policy.EditReviewDays = DefaultEditReviewDays
	}
	return &Enforcer{
		handle:     d.Handle,
		store:      d.Store,
		reconciler: d.Reconciler,
		scanner:    d.Scanner,
		audit:      d.Audit,
		metrics:    d.Metrics,
		logger:     d.Logger.With("component", "enforcer"),
		policy:     d.Policy,
	}
}

// Assess loads state, syncs ignore rules, scans the tree and merges the
// result into the finding ledger. Nothing is written if the scan fails.
func (e *Enforcer) Assess(ctx context.Context) (*guardtypes.ProjectComplianceState, *guardtypes.AssessmentResult, error) {
	st, err := e.store.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	rules, warnings, err := e.reconciler.Sync(ctx)
	if err != nil {
		return nil, nil, err
	}
	decisions, err := e.store.Decisions()
	if err != nil {
		return nil, nil, err
	}
	result, err := e.scanner.Scan(ctx, e.handle.Root(), rules, decisions)
	if err != nil {
		return nil, nil, err
	}

	for _, w := range warnings {
		if _, err := e.store.AppendAudit(guardtypes.AuditEntry{
			Action:  guardtypes.ActionBaselineDegraded,
			Outcome: "supplemental_only",
			Detail:  w.Error(),
		}); err != nil {
			return nil, nil, err
		}
	}

	st.FindingLedger = scanner.ReconcileLedger(st.FindingLedger, result, e.store.Now())
	if err := e.store.Save(st); err != nil {
		return nil, nil, err
	}
	if _, err := e.store.AppendAudit(guardtypes.AuditEntry{
		Action:           guardtypes.ActionScanCompleted,
		FindingsAffected: findingIDs(result.Findings),
		Outcome:          fmt.Sprintf("%d open, %d suppressed, %d errors", result.TotalFindings, len(result.Suppressed), len(result.ScanErrors)),
	}); err != nil {
		return nil, nil, err
	}
	return st, result, nil
}

// Scan assesses the project and records its compliance status without
// authorizing any operation. It is the explicit scan that may clear a
// detected bypass; Gate never does.
func (e *Enforcer) Scan(ctx context.Context) (Decision, *guardtypes.AssessmentResult, error) {
	st, result, err := e.Assess(ctx)
	if err != nil {
		return Decision{}, nil, err
	}
	if _, err := e.store.ReconcileBypass(ctx, st, result); err != nil {
		return Decision{}, nil, err
	}
	d := Evaluate(st, result, st.SecurityLevel)
	st.ComplianceStatus = d.Status
	st.LastAuditTimestamp = e.store.Now()
	if err := e.store.Save(st); err != nil {
		return Decision{}, nil, err
	}
	return d, result, nil
}

// Gate is the full pre-operation check: assess, authorize, and record a
// blocked outcome.
func (e *Enforcer) Gate(ctx context.Context, op Operation) (Decision, *guardtypes.AssessmentResult, error) {
	start := time.Now()
	st, result, err := e.Assess(ctx)
	if err != nil {
		return Decision{}, nil, err
	}
	d, err := e.Authorize(ctx, op, st, result, st.SecurityLevel)
	if err != nil {
		return Decision{}, nil, err
	}
	if !d.Allowed {
		if err := e.recordBlock(st, d); err != nil {
			return Decision{}, nil, err
		}
	}
	e.audit.LogGateDecision(ctx, string(op), d.Level, d.Allowed, d.BlockingFindings(), time.Since(start))
	return d, result, nil
}

// Authorize evaluates the assessment. A blocked decision leaves state
// untouched. An allowed one applies auto-resolution, advances the observed
// head and marks the project clean.
func (e *Enforcer) Authorize(ctx context.Context, op Operation, st *guardtypes.ProjectComplianceState, result *guardtypes.AssessmentResult, level guardtypes.SecurityLevel) (Decision, error) {
	d := Evaluate(st, result, level)
	d.Operation = op
	e.metrics.ObserveDecision(string(op), d.Allowed, len(d.AutoResolved))
	if !d.Allowed {
		e.logger.Warn("operation blocked", "operation", op, "level", level, "blocking", len(d.Blocking), "bypass", d.BypassDetected)
		return d, nil
	}

	for _, f := range d.AutoResolved {
		if _, err := e.autoResolve(ctx, f, level); err != nil {
			return Decision{}, err
		}
	}
	if len(d.Tolerated) > 0 {
		if _, err := e.store.AppendAudit(guardtypes.AuditEntry{
			Action:           guardtypes.ActionFindingsTolerated,
			FindingsAffected: findingIDs(d.Tolerated),
			Outcome:          "tolerated",
			Detail:           "relaxed level",
		}); err != nil {
			return Decision{}, err
		}
	}

	head, err := e.store.CurrentHead(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("read version-control head: %w", err)
	}
	if head != "" {
		st.LastObservedVcsHead = head
		st.LastToolCommit = head
	}
	st.ComplianceStatus = guardtypes.ComplianceClean
	st.LastAuditTimestamp = e.store.Now()
	if err := e.store.Save(st); err != nil {
		return Decision{}, err
	}
	if _, err := e.store.AppendAudit(guardtypes.AuditEntry{
		Action:           guardtypes.ActionOperationAllowed,
		FindingsAffected: findingIDs(d.AutoResolved),
		Outcome:          "allowed",
		Detail:           fmt.Sprintf("operation %s under %s level", op, level),
	}); err != nil {
		return Decision{}, err
	}
	e.logger.Info("operation allowed", "operation", op, "level", level,
		"auto_resolved", len(d.AutoResolved), "tolerated", len(d.Tolerated), "reported", len(d.Reported))
	return d, nil
}

func (e *Enforcer) recordBlock(st *guardtypes.ProjectComplianceState, d Decision) error {
	st.ComplianceStatus = d.Status
	st.LastAuditTimestamp = e.store.Now()
	if err := e.store.Save(st); err != nil {
		return err
	}
	detail := fmt.Sprintf("operation %s under %s level", d.Operation, d.Level)
	if d.BypassDetected {
		detail += "; bypass " + d.BypassRange
	}
	_, err := e.store.AppendAudit(guardtypes.AuditEntry{
		Action:           guardtypes.ActionOperationBlocked,
		FindingsAffected: findingIDs(d.BlockingFindings()),
		Outcome:          string(d.Status),
		Detail:           detail,
	})
	return err
}

// SetLevel changes the project's security level.
func (e *Enforcer) SetLevel(st *guardtypes.ProjectComplianceState, level guardtypes.SecurityLevel) error {
	if _, err := guardtypes.ParseSecurityLevel(string(level)); err != nil {
		return err
	}
	if st.SecurityLevel == level {
		return nil
	}
	prev := st.SecurityLevel
	st.SecurityLevel = level
	if err := e.store.Save(st); err != nil {
		return err
	}
	_, err := e.store.AppendAudit(guardtypes.AuditEntry{
		Actor:   guardtypes.ActorUser,
		Action:  guardtypes.ActionLevelChanged,
		Outcome: string(level),
		Detail:  string(prev) + " -> " + string(level),
	})
	return err
}

// Register pre-registers generated paths in the supplemental ignore file,
// each backed by an ignore decision.
func (e *Enforcer) Register(ctx context.Context, paths []string, reason string) ([]string, error) {
	added, err := e.reconciler.RegisterGenerated(ctx, paths, reason)
	if err != nil {
		return nil, err
	}
	now := e.store.Now()
	for _, p := range added {
		if err := e.store.PutDecision(p, guardtypes.DecisionRecord{
			Decision:  guardtypes.DecisionIgnore,
			Reason:    reason,
			Timestamp: now,
			Actor:     guardtypes.ActorTool,
			Pattern:   p,
		}); err != nil {
			return nil, err
		}
	}
	if len(added) > 0 {
		if _, err := e.store.AppendAudit(guardtypes.AuditEntry{
			Action:  guardtypes.ActionPathsRegistered,
			Outcome: fmt.Sprintf("%d pattern(s) added", len(added)),
			Detail:  strings.Join(added, ", "),
		}); err != nil {
			return nil, err
		}
	}
	return added, nil
}

func findingIDs(findings []guardtypes.Finding) []string {
	if len(findings) == 0 {
		return nil
	}
	ids := make([]string, 0, len(findings))
	for _, f := range findings {
		ids = append(ids, f.ID)
	}
	return ids
}
