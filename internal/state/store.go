// Package state persists the per-project compliance state, the decision
// records and the append-only audit trail under .gitup/. Every document is
// replaced atomically and access is serialized by an advisory file lock.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/isseis/go-gitup-guard/internal/audit"
	"github.com/isseis/go-gitup-guard/internal/guardtypes"
	"github.com/isseis/go-gitup-guard/internal/project"
	"github.com/isseis/go-gitup-guard/internal/safefileio"
	"github.com/isseis/go-gitup-guard/internal/vcs"
	"github.com/oklog/ulid/v2"
)

const (
	documentPerm    = 0o600
	maxDocumentSize = 64 << 20
)

// Options configures a Store.
type Options struct {
	// Now returns the current time; defaults to time.Now.
	Now    func() time.Time
	Audit  *audit.Logger
	Logger *slog.Logger
}

// Store is the single owner of one project's persisted compliance documents.
type Store struct {
	handle *project.Handle
	vcs    vcs.Adapter
	lock   *fileLock
	now    func() time.Time
	audit  *audit.Logger
	logger *slog.Logger
}

// decisionsDocument is the on-disk shape of decisions.json.
type decisionsDocument struct {
	SchemaVersion int                                  `json:"schemaVersion"`
	Decisions     map[string]guardtypes.DecisionRecord `json:"decisions"`
	AuditTrail    []guardtypes.AuditEntry              `json:"auditTrail"`
}

// Open acquires the project lock. It fails fast with ErrLockHeld when another
// process owns it.
func Open(h *project.Handle, adapter vcs.Adapter, opts Options) (*Store, error) {
	if err := h.EnsureStateDir(); err != nil {
		return nil, err
	}
	lock, err := acquireLock(h.LockPath())
	if err != nil {
		return nil, err
	}
	if adapter == nil {
		adapter = vcs.None{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		handle: h,
		vcs:    adapter,
		lock:   lock,
		now:    opts.Now,
		audit:  opts.Audit,
		logger: opts.Logger.With("component", "state"),
	}, nil
}

// Close releases the project lock.
func (s *Store) Close() error {
	err := s.lock.release()
	s.lock = nil
	return err
}

func (s *Store) checkOpen() error {
	if s.lock == nil {
		return ErrClosed
	}
	return nil
}

// Now returns the store clock's current UTC time.
func (s *Store) Now() time.Time { return s.now().UTC() }

// CurrentHead returns the live version-control head.
func (s *Store) CurrentHead(ctx context.Context) (string, error) {
	return s.vcs.CurrentHead(ctx)
}

// Initialized reports whether a state document exists.
func (s *Store) Initialized() bool {
	_, err := os.Lstat(s.handle.StatePath())
	return err == nil
}

// Initialize creates the compliance state on first use.
func (s *Store) Initialize(ctx context.Context, level guardtypes.SecurityLevel) (*guardtypes.ProjectComplianceState, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.Initialized() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, s.handle.StatePath())
	}
	head, err := s.vcs.CurrentHead(ctx)
	if err != nil {
		return nil, fmt.Errorf("read version-control head: %w", err)
	}

	now := s.Now()
	st := &guardtypes.ProjectComplianceState{
		SchemaVersion:       guardtypes.StateSchemaVersion,
		LastToolCommit:      head,
		LastObservedVcsHead: head,
		ComplianceStatus:    guardtypes.ComplianceClean,
		SecurityLevel:       level,
		InitTimestamp:       now,
		LastAuditTimestamp:  now,
	}

	doc, err := s.loadDocument()
	if err != nil {
		return nil, err
	}
	if err := s.saveDocument(doc); err != nil {
		return nil, err
	}
	if err := s.Save(st); err != nil {
		return nil, err
	}
	if _, err := s.AppendAudit(guardtypes.AuditEntry{
		Actor:   guardtypes.ActorUser,
		Action:  guardtypes.ActionInitialized,
		Outcome: "initialized",
		Detail:  "security level " + string(level),
	}); err != nil {
		return nil, err
	}
	s.logger.Info("compliance state initialized", "level", level, "head", head)
	return st, nil
}

// Load reads the state and performs bypass detection: when the live head has
// moved without the tool observing it, the range and the paths it touched are
// recorded and persisted.
func (s *Store) Load(ctx context.Context) (*guardtypes.ProjectComplianceState, error) {
	st, err := s.readState()
	if err != nil {
		return nil, err
	}
	if _, err := s.loadDocument(); err != nil {
		return nil, err
	}

	head, err := s.vcs.CurrentHead(ctx)
	if err != nil {
		return nil, fmt.Errorf("read version-control head: %w", err)
	}
	if head == "" || head == st.LastObservedVcsHead {
		return st, nil
	}
	if st.ToolBypassDetected && st.BypassRange != nil && st.BypassRange.To == head {
		return st, nil
	}

	r := guardtypes.CommitRange{From: st.LastObservedVcsHead, To: head}
	paths, err := s.vcs.ChangedPaths(ctx, r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("list paths changed outside the tool: %w", err)
	}
	st.ToolBypassDetected = true
	st.BypassRange = &r
	st.PendingRescanPaths = paths
	if err := s.Save(st); err != nil {
		return nil, err
	}
	if _, err := s.AppendAudit(guardtypes.AuditEntry{
		Actor:            guardtypes.ActorTool,
		Action:           guardtypes.ActionBypassDetected,
		Outcome:          "pending_rescan",
		Detail:           r.String(),
	}); err != nil {
		return nil, err
	}
	s.audit.LogSecurityEvent(ctx, "tool_bypass", guardtypes.SeverityHigh,
		"version-control head moved outside gitup-guard",
		map[string]any{"range": r.String(), "paths": len(paths)})
	return st, nil
}

func (s *Store) readState() (*guardtypes.ProjectComplianceState, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	path := s.handle.StatePath()
	content, err := safefileio.SafeReadFile(path, maxDocumentSize)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var st guardtypes.ProjectComplianceState
	if err := json.Unmarshal(content, &st); err != nil {
		return nil, &CorruptionError{Path: path, Err: err}
	}
	if st.SchemaVersion != guardtypes.StateSchemaVersion {
		return nil, &CorruptionError{Path: path, Err: fmt.Errorf("unsupported schema version %d", st.SchemaVersion)}
	}
	if _, err := guardtypes.ParseSecurityLevel(string(st.SecurityLevel)); err != nil {
		return nil, &CorruptionError{Path: path, Err: err}
	}
	return &st, nil
}

// Save atomically replaces state.json.
func (s *Store) Save(st *guardtypes.ProjectComplianceState) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	st.SchemaVersion = guardtypes.StateSchemaVersion
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := safefileio.AtomicWriteFile(s.handle.StatePath(), append(data, '\n'), documentPerm); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// AppendAudit adds an entry to the audit trail. ID and Timestamp are filled
// in when empty. The stored entry is returned.
func (s *Store) AppendAudit(entry guardtypes.AuditEntry) (guardtypes.AuditEntry, error) {
	if err := s.checkOpen(); err != nil {
		return guardtypes.AuditEntry{}, err
	}
	doc, err := s.loadDocument()
	if err != nil {
		return guardtypes.AuditEntry{}, err
	}
	entry = s.stamp(entry)
	doc.AuditTrail = append(doc.AuditTrail, entry)
	if err := s.saveDocument(doc); err != nil {
		return guardtypes.AuditEntry{}, err
	}
	s.audit.LogEntry(context.Background(), entry)
	return entry, nil
}

func (s *Store) stamp(entry guardtypes.AuditEntry) guardtypes.AuditEntry {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.Now()
	}
	if entry.ID == "" {
		entry.ID = ulid.MustNew(ulid.Timestamp(entry.Timestamp), ulid.DefaultEntropy()).String()
	}
	if entry.Actor == "" {
		entry.Actor = guardtypes.ActorTool
	}
	return entry
}

// AuditTrail returns a copy of the audit trail in append order.
func (s *Store) AuditTrail() ([]guardtypes.AuditEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	doc, err := s.loadDocument()
	if err != nil {
		return nil, err
	}
	return append([]guardtypes.AuditEntry(nil), doc.AuditTrail...), nil
}

// Decisions returns the decision records keyed by path or pattern.
func (s *Store) Decisions() (map[string]guardtypes.DecisionRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	doc, err := s.loadDocument()
	if err != nil {
		return nil, err
	}
	out := make(map[string]guardtypes.DecisionRecord, len(doc.Decisions))
	for k, v := range doc.Decisions {
		out[k] = v
	}
	return out, nil
}

// PutDecision stores the record for a path or pattern key, replacing any previous one.
func (s *Store) PutDecision(key string, rec guardtypes.DecisionRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("decision key must not be empty")
	}
	if _, err := guardtypes.ParseDecisionKind(string(rec.Decision)); err != nil {
		return err
	}
	doc, err := s.loadDocument()
	if err != nil {
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.Now()
	}
	doc.Decisions[key] = rec
	return s.saveDocument(doc)
}

// ReconcileBypass clears a detected bypass once a full scan has covered the
// pending paths and none of the findings there blocks under the project's
// level. It returns the findings located on the touched paths.
func (s *Store) ReconcileBypass(ctx context.Context, st *guardtypes.ProjectComplianceState, result *guardtypes.AssessmentResult) ([]guardtypes.Finding, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if !st.ToolBypassDetected {
		return nil, nil
	}
	touched := result.FindingsForPaths(st.PendingRescanPaths)
	for _, f := range touched {
		if st.SecurityLevel.Blocks(f.Severity) {
			s.logger.Warn("bypass not reconciled: blocking findings on touched paths",
				"range", rangeString(st.BypassRange), "blocking", len(touched))
			return touched, nil
		}
	}

	head, err := s.vcs.CurrentHead(ctx)
	if err != nil {
		return nil, fmt.Errorf("read version-control head: %w", err)
	}
	detail := rangeString(st.BypassRange)
	st.ToolBypassDetected = false
	st.BypassRange = nil
	st.PendingRescanPaths = nil
	if head != "" {
		st.LastObservedVcsHead = head
	}
	if err := s.Save(st); err != nil {
		return nil, err
	}
	if _, err := s.AppendAudit(guardtypes.AuditEntry{
		Actor:            guardtypes.ActorTool,
		Action:           guardtypes.ActionBypassReconciled,
		FindingsAffected: findingIDs(touched),
		Outcome:          "reconciled",
		Detail:           detail,
	}); err != nil {
		return nil, err
	}
	return touched, nil
}

// RecordToolCommit advances the observed head after an operation the tool
// allowed, so the resulting commit is not mistaken for a bypass.
func (s *Store) RecordToolCommit(ctx context.Context) (*guardtypes.ProjectComplianceState, error) {
	st, err := s.readState()
	if err != nil {
		return nil, err
	}
	trail, err := s.AuditTrail()
	if err != nil {
		return nil, err
	}
	if len(trail) == 0 || trail[len(trail)-1].Action != guardtypes.ActionOperationAllowed {
		return nil, ErrNoPendingAuthorization
	}
	head, err := s.vcs.CurrentHead(ctx)
	if err != nil {
		return nil, fmt.Errorf("read version-control head: %w", err)
	}
	if head == "" || head == st.LastObservedVcsHead {
		return st, nil
	}
	from := st.LastObservedVcsHead
	st.LastToolCommit = head
	st.LastObservedVcsHead = head
	if err := s.Save(st); err != nil {
		return nil, err
	}
	if _, err := s.AppendAudit(guardtypes.AuditEntry{
		Actor:   guardtypes.ActorTool,
		Action:  guardtypes.ActionToolCommitRecorded,
		Outcome: "recorded",
		Detail:  guardtypes.CommitRange{From: from, To: head}.String(),
	}); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Store) loadDocument() (*decisionsDocument, error) {
	path := s.handle.DecisionsPath()
	doc := &decisionsDocument{SchemaVersion: guardtypes.StateSchemaVersion}
	content, err := safefileio.SafeReadFile(path, maxDocumentSize)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			doc.Decisions = map[string]guardtypes.DecisionRecord{}
			return doc, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(content, doc); err != nil {
		return nil, &CorruptionError{Path: path, Err: err}
	}
	if doc.SchemaVersion != guardtypes.StateSchemaVersion {
		return nil, &CorruptionError{Path: path, Err: fmt.Errorf("unsupported schema version %d", doc.SchemaVersion)}
	}
	if doc.Decisions == nil {
		doc.Decisions = map[string]guardtypes.DecisionRecord{}
	}
	return doc, nil
}

func (s *Store) saveDocument(doc *decisionsDocument) error {
	doc.SchemaVersion = guardtypes.StateSchemaVersion
	if doc.AuditTrail == nil {
		doc.AuditTrail = []guardtypes.AuditEntry{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode decisions: %w", err)
	}
	if err := safefileio.AtomicWriteFile(s.handle.DecisionsPath(), append(data, '\n'), documentPerm); err != nil {
		return fmt.Errorf("save decisions: %w", err)
	}
	return nil
}

// Reset archives the audit trail and removes the state and decision
// documents. It returns the archive path, or "" when there was nothing to archive.
func (s *Store) Reset(ctx context.Context, reason string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var trail []guardtypes.AuditEntry
	detail := reason
	if doc, err := s.loadDocument(); err == nil {
		trail = doc.AuditTrail
	} else {
		kept, perr := s.preserveUnreadable(s.handle.DecisionsPath())
		if perr != nil {
			return "", perr
		}
		s.logger.Warn("decisions document unreadable; raw copy kept", "error", err, "file", kept)
		detail += "; unreadable decisions kept as " + filepath.Base(kept)
	}
	trail = append(trail, s.stamp(guardtypes.AuditEntry{
		Actor:   guardtypes.ActorUser,
		Action:  guardtypes.ActionStateReset,
		Outcome: "reset",
		Detail:  detail,
	}))
	archive, err := s.writeArchive(trail)
	if err != nil {
		return "", err
	}
	for _, p := range []string{s.handle.StatePath(), s.handle.DecisionsPath()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return archive, fmt.Errorf("remove %s: %w", filepath.Base(p), err)
		}
	}
	s.audit.LogEntry(ctx, trail[len(trail)-1])
	return archive, nil
}

func findingIDs(findings []guardtypes.Finding) []string {
	if len(findings) == 0 {
		return nil
	}
	ids := make([]string, 0, len(findings))
	for _, f := range findings {
		ids = append(ids, f.ID)
	}
	sort.Strings(ids)
	return ids
}

func rangeString(r *guardtypes.CommitRange) string {
	if r == nil {
		return ""
	}
	return r.String()
}
