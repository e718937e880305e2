package enforcer

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/isseis/go-gitup-guard/internal/guardtypes"
	"github.com/isseis/go-gitup-guard/internal/ignore"
)

const day = 24 * time.Hour

// ApplyDecision records the user's choice for a finding. Safe and ignore
// also write a supplemental ignore pattern: the exact path for safe, a
// broader glob for ignore. Rename and edit leave the finding open.
func (e *Enforcer) ApplyDecision(ctx context.Context, f guardtypes.Finding, choice guardtypes.DecisionKind, reason string) (guardtypes.DecisionRecord, error) {
	if _, err := guardtypes.ParseDecisionKind(string(choice)); err != nil {
		return guardtypes.DecisionRecord{}, err
	}
	now := e.store.Now()
	rec := guardtypes.DecisionRecord{
		Decision:  choice,
		Reason:    reason,
		Timestamp: now,
		Actor:     guardtypes.ActorUser,
		Category:  f.Category,
	}
	key := f.Path

	switch choice {
	case guardtypes.DecisionSafe:
		rec.Pattern = ignore.AnchoredPattern(f.Path)
	case guardtypes.DecisionIgnore:
		rec.Pattern = BroaderPattern(f.Path)
		key = rec.Pattern
	case guardtypes.DecisionRename:
		rec.Suggestion = SuggestName(f.Path)
	case guardtypes.DecisionEdit:
		due := now.Add(time.Duration(e.policy.EditReviewDays) * day)
		rec.ReviewAfter = &due
	}
	return rec, e.record(ctx, f, key, rec)
}

// autoResolve ignores a finding on the tool's behalf and schedules a re-review.
func (e *Enforcer) autoResolve(ctx context.Context, f guardtypes.Finding, level guardtypes.SecurityLevel) (guardtypes.DecisionRecord, error) {
	now := e.store.Now()
	due := now.Add(time.Duration(e.policy.AutoReviewDays) * day)
	rec := guardtypes.DecisionRecord{
		Decision:    guardtypes.DecisionIgnore,
		Reason:      fmt.Sprintf("auto-resolved %s finding under the %s level", f.Severity, level),
		Timestamp:   now,
		ReviewAfter: &due,
		Actor:       guardtypes.ActorTool,
		Pattern:     ignore.AnchoredPattern(f.Path),
		Category:    f.Category,
	}
	if err := e.record(ctx, f, f.Path, rec); err != nil {
		return guardtypes.DecisionRecord{}, err
	}
	return rec, nil
}

func (e *Enforcer) record(ctx context.Context, f guardtypes.Finding, key string, rec guardtypes.DecisionRecord) error {
	if rec.Pattern != "" {
		if _, err := e.reconciler.AddSupplemental(ctx, rec.Pattern); err != nil {
			return err
		}
	}
	if err := e.store.PutDecision(key, rec); err != nil {
		return err
	}
	action := guardtypes.ActionDecisionRecorded
	if rec.Actor == guardtypes.ActorTool {
		action = guardtypes.ActionAutoResolved
	}
	detail := string(rec.Decision) + " " + key
	if rec.Pattern != "" && rec.Pattern != key {
		detail += " via " + rec.Pattern
	}
	if rec.Suggestion != "" {
		detail += " -> " + rec.Suggestion
	}
	_, err := e.store.AppendAudit(guardtypes.AuditEntry{
		Actor:            rec.Actor,
		Action:           action,
		FindingsAffected: []string{f.ID},
		Outcome:          string(rec.Decision),
		Detail:           detail,
	})
	if err == nil {
		e.logger.Info("decision recorded", "path", f.Path, "decision", rec.Decision, "pattern", rec.Pattern)
	}
	return err
}

// BroaderPattern widens a path to its directory and extension: dir/*.ext,
// dir/ for extensionless files, and the exact path for extensionless files
// at the root.
func BroaderPattern(p string) string {
	p = strings.TrimPrefix(p, "/")
	dir, base := path.Split(p)
	ext := ignore.EscapePattern(extension(base))
	dir = ignore.EscapePattern(dir)
	switch {
	case ext != "" && dir == "":
		return "/*" + ext
	case ext != "":
		return "/" + dir + "*" + ext
	case dir != "":
		return "/" + dir
	default:
		return ignore.AnchoredPattern(p)
	}
}

// SuggestName proposes a template-style name the catalog does not flag,
// e.g. config/secrets.json -> config/secrets.example.json and .env -> .env.example.
func SuggestName(p string) string {
	dir, base := path.Split(p)
	ext := extension(base)
	if ext == "" {
		return dir + base + ".example"
	}
	return dir + strings.TrimSuffix(base, ext) + ".example" + ext
}

// extension is like path.Ext but treats a leading dot as part of the name.
func extension(base string) string {
	trimmed := strings.TrimLeft(base, ".")
	ext := path.Ext(trimmed)
	if ext == trimmed {
		return ""
	}
	return ext
}
