// Package review drives the interactive resolution of findings. The session
// is a finite state machine: every state has a step function that returns the
// next state, and Run stops only on Completed or Cancelled.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/isseis/go-gitup-guard/internal/audit"
	"github.com/isseis/go-gitup-guard/internal/enforcer"
	"github.com/isseis/go-gitup-guard/internal/guardtypes"
	"github.com/isseis/go-gitup-guard/internal/ignore"
	"github.com/isseis/go-gitup-guard/internal/metrics"
	"github.com/isseis/go-gitup-guard/internal/scanner"
	"github.com/isseis/go-gitup-guard/internal/state"
)

// State is a review session state.
type State int

const (
	StateWelcome State = iota
	StateScanning
	StateAssessment
	StateMenu
	StateReviewItem
	StateConfigureLevel
	StateShowSummary
	StateCompleted
	StateCancelled
)

var stateNames = map[State]string{
	StateWelcome:        "welcome",
	StateScanning:       "scanning",
	StateAssessment:     "assessment",
	StateMenu:           "menu",
	StateReviewItem:     "review_item",
	StateConfigureLevel: "configure_level",
	StateShowSummary:    "show_summary",
	StateCompleted:      "completed",
	StateCancelled:      "cancelled",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the session ends in s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Status is the outcome of a finished session.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Result summarises a finished session. Total is the number of open
// findings the session started with; it is reported as totalRisks for a
// completed session and totalFindings for a cancelled one.
type Result struct {
	Status        Status
	ResolvedCount int
	Total         int
	Reason        string
	Decision      *enforcer.Decision
}

// MarshalJSON renders the result shape for its status.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Status == StatusCompleted {
		return json.Marshal(struct {
			Status        Status `json:"status"`
			ResolvedCount int    `json:"resolvedCount"`
			TotalRisks    int    `json:"totalRisks"`
		}{r.Status, r.ResolvedCount, r.Total})
	}
	return json.Marshal(struct {
		Status        Status `json:"status"`
		ResolvedCount int    `json:"resolvedCount"`
		TotalFindings int    `json:"totalFindings"`
		Reason        string `json:"reason,omitempty"`
	}{r.Status, r.ResolvedCount, r.Total, r.Reason})
}

// Deps are the collaborators of a Session.
type Deps struct {
	Enforcer *enforcer.Enforcer
	Store    *state.Store
	Prompter Prompter
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

type stepFunc func(ctx context.Context) (State, error)

// Session is one review run. It is not safe for concurrent use.
type Session struct {
	enforcer *enforcer.Enforcer
	store    *state.Store
	prompt   Prompter
	metrics  *metrics.Recorder
	logger   *slog.Logger
	steps    map[State]stepFunc
	menu     []menuChoice

	st       *guardtypes.ProjectComplianceState
	result   *guardtypes.AssessmentResult
	open     []guardtypes.Finding
	decided  []guardtypes.Finding
	visited  map[string]bool
	current  int
	resolved int
	total    int
	reason   string
	err      error
	decision *enforcer.Decision
}

type menuChoice struct {
	key   string
	label string
	// next is the state entered when action is nil.
	next   State
	action stepFunc
}

// New creates a Session.
func New(d Deps) *Session {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Session{
		enforcer: d.Enforcer,
		store:    d.Store,
		prompt:   d.Prompter,
		metrics:  d.Metrics,
		logger:   d.Logger.With("component", "review"),
	}
	s.steps = map[State]stepFunc{
		StateWelcome:        s.welcome,
		StateScanning:       s.scanning,
		StateAssessment:     s.assessment,
		StateMenu:           s.showMenu,
		StateReviewItem:     s.reviewItem,
		StateConfigureLevel: s.configureLevel,
		StateShowSummary:    s.showSummary,
	}
	s.menu = []menuChoice{
		{key: "1", label: "Review next finding", action: s.nextFinding},
		{key: "2", label: "Ignore all open non-critical findings", action: s.bulkIgnore},
		{key: "3", label: "Configure security level", next: StateConfigureLevel},
		{key: "4", label: "Show summary", next: StateShowSummary},
		{key: "5", label: "Finish review", action: s.finish},
		{key: "0", label: "Exit", next: StateCancelled},
	}
	return s
}

// Run drives the session to a terminal state. The error is non-nil when the
// session was cancelled by a failure rather than by the user.
func (s *Session) Run(ctx context.Context) (Result, error) {
	s.visited = map[string]bool{}
	s.resolved, s.total, s.current = 0, 0, -1
	s.reason, s.err, s.decision = "", nil, nil

	cur := StateWelcome
	for !cur.Terminal() {
		if err := ctx.Err(); err != nil {
			s.reason = "interrupted"
			cur = StateCancelled
			break
		}
		step, ok := s.steps[cur]
		if !ok {
			return Result{}, fmt.Errorf("review: no step for state %s", cur)
		}
		next, err := step(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF) || errors.Is(err, ErrAborted):
			s.reason = "input closed"
			next = StateCancelled
		case errors.Is(err, context.Canceled):
			s.reason = "interrupted"
			next = StateCancelled
		default:
			if s.reason == "" {
				s.reason = err.Error()
			}
			s.err = err
			next = StateCancelled
		}
		s.logger.Debug("review transition", "from", cur, "to", next)
		cur = next
	}
	return s.end(cur)
}

func (s *Session) welcome(ctx context.Context) (State, error) {
	if err := s.prompt.Inform("gitup-guard security review\nEach open finding can be marked safe, ignored, renamed or scheduled for editing."); err != nil {
		return StateCancelled, err
	}
	ok, err := s.prompt.Confirm(ctx, "Start the review?")
	if err != nil {
		return StateCancelled, err
	}
	if !ok {
		s.reason = "declined"
		return StateCancelled, nil
	}
	return StateScanning, nil
}

func (s *Session) scanning(ctx context.Context) (State, error) {
	st, result, err := s.enforcer.Assess(ctx)
	if err != nil {
		s.reason = "scan failed: " + err.Error()
		return StateCancelled, err
	}
	s.st, s.result = st, result
	s.open = append([]guardtypes.Finding(nil), result.Findings...)
	s.decided = nil
	s.total = len(s.open)
	return StateAssessment, nil
}

func (s *Session) assessment(context.Context) (State, error) {
	c := s.result.BySeverity
	text := fmt.Sprintf("%d file(s) scanned, %d open finding(s): %d critical, %d high, %d medium, %d low",
		s.result.FilesScanned, s.result.TotalFindings, c.Critical, c.High, c.Medium, c.Low)
	if n := len(s.result.ScanErrors); n > 0 {
		text += fmt.Sprintf("\n%d file(s) could not be fully inspected", n)
	}
	if s.st.ToolBypassDetected && s.st.BypassRange != nil {
		text += "\nchanges " + s.st.BypassRange.String() + " were made outside gitup-guard"
	}
	return StateMenu, s.prompt.Inform(text)
}

func (s *Session) showMenu(ctx context.Context) (State, error) {
	opts := make([]Option, 0, len(s.menu))
	for _, c := range s.menu {
		opts = append(opts, Option{Key: c.key, Label: c.label})
	}
	key, err := s.prompt.Choose(ctx, fmt.Sprintf("Main menu (%s level, %d open)", s.st.SecurityLevel, len(s.open)), opts)
	if err != nil {
		return StateCancelled, err
	}
	for _, c := range s.menu {
		if c.key != key {
			continue
		}
		if c.action == nil {
			if c.next == StateCancelled {
				s.reason = "exited from menu"
			}
			return c.next, nil
		}
		return c.action(ctx)
	}
	return StateMenu, nil
}

func (s *Session) nextFinding(context.Context) (State, error) {
	for i, f := range s.open {
		if !s.visited[f.ID] {
			s.current = i
			return StateReviewItem, nil
		}
	}
	return StateMenu, s.prompt.Inform("no findings left to review")
}

func (s *Session) reviewItem(ctx context.Context) (State, error) {
	if s.current < 0 || s.current >= len(s.open) {
		return StateMenu, nil
	}
	f := s.open[s.current]
	s.visited[f.ID] = true
	if err := s.prompt.Inform(describe(f)); err != nil {
		return StateCancelled, err
	}

	choices := []Option{
		{Key: "s", Label: "Mark safe (ignore exactly " + f.Path + ")"},
		{Key: "i", Label: "Ignore everything like it (" + enforcer.BroaderPattern(f.Path) + ")"},
		{Key: "r", Label: "Rename to " + enforcer.SuggestName(f.Path)},
		{Key: "e", Label: "Edit the content later"},
		{Key: "k", Label: "Skip"},
	}
	key, err := s.prompt.Choose(ctx, "What should happen to this finding?", choices)
	if err != nil {
		return StateCancelled, err
	}
	kind, ok := map[string]guardtypes.DecisionKind{
		"s": guardtypes.DecisionSafe,
		"i": guardtypes.DecisionIgnore,
		"r": guardtypes.DecisionRename,
		"e": guardtypes.DecisionEdit,
	}[key]
	if !ok {
		return StateMenu, nil
	}
	reason, err := s.prompt.Input(ctx, "Reason (optional)")
	if err != nil {
		return StateCancelled, err
	}
	if reason == "" {
		reason = "reviewed interactively"
	}
	rec, err := s.enforcer.ApplyDecision(ctx, f, kind, reason)
	if err != nil {
		return StateCancelled, err
	}
	if kind.Suppresses() {
		s.markCovered(f.ID, rec.Pattern, kind)
	}

	msg := fmt.Sprintf("recorded %s for %s", kind, f.Path)
	switch {
	case rec.Suggestion != "":
		msg += "; rename it to " + rec.Suggestion
	case rec.ReviewAfter != nil:
		msg += "; review again after " + rec.ReviewAfter.Format("2006-01-02")
	}
	return StateMenu, s.prompt.Inform(msg)
}

func (s *Session) bulkIgnore(ctx context.Context) (State, error) {
	var targets []guardtypes.Finding
	for _, f := range s.open {
		if f.Severity != guardtypes.SeverityCritical {
			targets = append(targets, f)
		}
	}
	if len(targets) == 0 {
		return StateMenu, s.prompt.Inform("no open non-critical findings")
	}
	question := fmt.Sprintf("Ignore %d non-critical finding(s)?", len(targets))
	if n := len(s.currentResult().FindingsAtLeast(guardtypes.SeverityCritical)); n > 0 {
		question = fmt.Sprintf("Ignore %d non-critical finding(s)? %d critical stay open.", len(targets), n)
	}
	ok, err := s.prompt.Confirm(ctx, question)
	if err != nil || !ok {
		return StateMenu, err
	}
	for _, f := range targets {
		if !s.isOpen(f.ID) {
			continue
		}
		rec, err := s.enforcer.ApplyDecision(ctx, f, guardtypes.DecisionIgnore, "bulk ignore during review")
		if err != nil {
			return StateCancelled, err
		}
		s.markCovered(f.ID, rec.Pattern, guardtypes.DecisionIgnore)
	}
	return StateMenu, s.prompt.Inform(fmt.Sprintf("ignored %d finding(s)", len(targets)))
}

func (s *Session) configureLevel(ctx context.Context) (State, error) {
	opts := make([]Option, 0, 4)
	for _, l := range guardtypes.AllLevels() {
		label := fmt.Sprintf("%s (blocks %s and above)", l, l.BlockingThreshold())
		if l == s.st.SecurityLevel {
			label += " [current]"
		}
		opts = append(opts, Option{Key: string(l), Label: label})
	}
	opts = append(opts, Option{Key: "back", Label: "Keep the current level"})
	key, err := s.prompt.Choose(ctx, "Security level", opts)
	if err != nil {
		return StateCancelled, err
	}
	if key == "back" {
		return StateMenu, nil
	}
	if err := s.enforcer.SetLevel(s.st, guardtypes.SecurityLevel(key)); err != nil {
		return StateCancelled, err
	}
	d := enforcer.Evaluate(s.st, s.currentResult(), s.st.SecurityLevel)
	return StateMenu, s.prompt.Inform(fmt.Sprintf("security level is now %s; %d finding(s) block", s.st.SecurityLevel, len(d.Blocking)))
}

func (s *Session) showSummary(context.Context) (State, error) {
	cur := s.currentResult()
	d := enforcer.Evaluate(s.st, cur, s.st.SecurityLevel)
	var sb strings.Builder
	fmt.Fprintf(&sb, "level %s, %d open, %d resolved this session, %d blocking\n",
		s.st.SecurityLevel, cur.TotalFindings, s.resolved, len(d.Blocking))
	stats := audit.StatisticsFor(cur)
	counts := stats.GetSeverityCounts()
	for _, sev := range guardtypes.AllSeverities() {
		if counts[sev] == 0 {
			continue
		}
		fmt.Fprintf(&sb, "  %-8s %d: %s\n", sev, counts[sev], strings.Join(stats.GetPathsBySeverity(sev), ", "))
	}
	for _, c := range stats.GetTopCategories(5) {
		fmt.Fprintf(&sb, "  %-26s %d\n", c.Category.Label(), c.Count)
	}
	for _, b := range d.Blocking {
		fmt.Fprintf(&sb, "  blocking: %s (%s)\n", b.Finding.Path, b.Finding.Category)
	}
	return StateMenu, s.prompt.Inform(strings.TrimRight(sb.String(), "\n"))
}

// finish completes the session only when nothing blocks any more.
func (s *Session) finish(ctx context.Context) (State, error) {
	cur := s.currentResult()
	if s.st.ToolBypassDetected {
		if _, err := s.store.ReconcileBypass(ctx, s.st, cur); err != nil {
			return StateCancelled, err
		}
	}
	d := enforcer.Evaluate(s.st, cur, s.st.SecurityLevel)
	if !d.Allowed {
		msg := d.Message
		for _, b := range d.Blocking {
			msg += "\n  " + b.Finding.Path + ": " + b.Reason
		}
		return StateMenu, s.prompt.Inform(msg)
	}

	s.st.FindingLedger = scanner.ReconcileLedger(s.st.FindingLedger, cur, s.store.Now())
	d, err := s.enforcer.Authorize(ctx, enforcer.OperationReview, s.st, cur, s.st.SecurityLevel)
	if err != nil {
		return StateCancelled, err
	}
	if !d.Allowed {
		return StateMenu, s.prompt.Inform(d.Message)
	}
	s.decision = &d
	return StateCompleted, nil
}

// currentResult reflects decisions taken so far without rescanning.
func (s *Session) currentResult() *guardtypes.AssessmentResult {
	open := append([]guardtypes.Finding(nil), s.open...)
	suppressed := append(append([]guardtypes.Finding(nil), s.result.Suppressed...), s.decided...)
	return guardtypes.NewAssessmentResult(open, suppressed, s.result.ScanErrors, s.result.FilesScanned)
}

// markCovered resolves the reviewed finding and every open finding the
// recorded pattern also covers, since the next scan suppresses those too.
func (s *Session) markCovered(id, pattern string, kind guardtypes.DecisionKind) {
	s.markDecided(id, kind)
	if pattern == "" {
		return
	}
	var covered []string
	for _, f := range s.open {
		if ignore.PatternMatches(pattern, f.Path) {
			covered = append(covered, f.ID)
		}
	}
	for _, cid := range covered {
		s.markDecided(cid, kind)
	}
}

func (s *Session) isOpen(id string) bool {
	for _, f := range s.open {
		if f.ID == id {
			return true
		}
	}
	return false
}

func (s *Session) markDecided(id string, kind guardtypes.DecisionKind) {
	for i, f := range s.open {
		if f.ID != id {
			continue
		}
		if kind == guardtypes.DecisionSafe {
			f.Status = guardtypes.StatusUserApproved
		} else {
			f.Status = guardtypes.StatusUserIgnored
		}
		s.decided = append(s.decided, f)
		s.open = append(s.open[:i], s.open[i+1:]...)
		s.resolved++
		if s.current >= i {
			s.current--
		}
		return
	}
}

func (s *Session) end(final State) (Result, error) {
	r := Result{ResolvedCount: s.resolved, Total: s.total, Decision: s.decision}
	entry := guardtypes.AuditEntry{
		Actor:   guardtypes.ActorUser,
		Outcome: fmt.Sprintf("%d of %d resolved", s.resolved, s.total),
	}
	if final == StateCompleted {
		r.Status = StatusCompleted
		entry.Action = guardtypes.ActionReviewCompleted
	} else {
		r.Status = StatusCancelled
		r.Reason = s.reason
		entry.Action = guardtypes.ActionReviewCancelled
		entry.Detail = s.reason
	}
	s.metrics.ObserveReview(string(r.Status))

	if _, err := s.store.AppendAudit(entry); err != nil {
		if s.err != nil {
			// The store is what failed; keep the original error.
			s.logger.Warn("review outcome not audited", "error", err)
		} else {
			return r, err
		}
	}
	s.logger.Info("review finished", "status", r.Status, "resolved", r.ResolvedCount, "total", r.Total, "reason", r.Reason)
	return r, s.err
}

func describe(f guardtypes.Finding) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s\n  %s (%s)", f.Severity, f.Path, f.Category.Label(), f.Category)
	switch {
	case f.Match.Excerpt != "":
		fmt.Fprintf(&sb, ", line %d: %s", f.Match.Line, f.Match.Excerpt)
	case f.Match.Note != "":
		sb.WriteString(", " + f.Match.Note)
	}
	if len(f.RelatedCategories) > 0 {
		related := make([]string, 0, len(f.RelatedCategories))
		for _, c := range f.RelatedCategories {
			related = append(related, c.Label())
		}
		sb.WriteString("\n  also: " + strings.Join(related, ", "))
	}
	return sb.String()
}
