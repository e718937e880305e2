// Package ignore keeps the engine's supplemental ignore file in step with the
// user's baseline .gitignore and answers whether a path is ignored. The
// baseline is only ever read.
package ignore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/isseis/go-gitup-guard/internal/project"
	"github.com/isseis/go-gitup-guard/internal/safefileio"
)

const (
	maxIgnoreFileSize      = 4 << 20
	supplementalPerm       = 0o644
	supplementalHeader     = "# Managed by gitup-guard. Patterns here supplement the baseline ignore file."
	supplementalMirrorNote = "# Mirrored from the baseline:"
	generatedCommentFmt    = "# Generated: %s"
)

// Reconciler synchronises baseline and supplemental ignore files.
type Reconciler struct {
	handle *project.Handle
	logger *slog.Logger
}

// NewReconciler creates a Reconciler for one project.
func NewReconciler(h *project.Handle, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{handle: h, logger: logger.With("component", "ignore")}
}

// Sync mirrors non-security baseline patterns into the supplemental file and
// returns the effective rule set. Baseline problems degrade to warnings and a
// supplemental-only rule set. The returned error is non-nil only when ctx is done.
func (r *Reconciler) Sync(ctx context.Context) (*RuleSet, []Warning, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	var warnings []Warning

	baseline, warn := r.readBaseline()
	if warn != nil {
		r.logger.Warn("baseline ignore file unusable, using supplemental rules only",
			"file", warn.Path, "reason", warn.Reason, "error", warn.Err)
		warnings = append(warnings, warn)
	}

	supLines, exists, err := r.readSupplementalLines()
	if err != nil {
		w := &ReconciliationError{Path: r.handle.SupplementalPath(), Reason: "unreadable supplemental file", Err: err}
		r.logger.Warn("supplemental ignore file unreadable", "file", w.Path, "error", err)
		warnings = append(warnings, w)
		return NewRuleSet(baseline, nil), warnings, nil
	}
	supplemental := patternsOf(supLines)

	var mirrored []string
	present := toSet(supplemental)
	for _, p := range baseline {
		if IsSecurityRelevant(p) {
			continue
		}
		if _, ok := present[p]; ok {
			continue
		}
		present[p] = struct{}{}
		mirrored = append(mirrored, p)
	}

	if len(mirrored) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		out := supLines
		if !exists {
			out = []string{supplementalHeader}
		}
		out = append(out, supplementalMirrorNote)
		out = append(out, mirrored...)
		if err := r.writeSupplemental(out); err != nil {
			w := &ReconciliationError{Path: r.handle.SupplementalPath(), Reason: "could not update supplemental file", Err: err}
			r.logger.Warn("supplemental ignore file not updated", "file", w.Path, "error", err)
			warnings = append(warnings, w)
		} else {
			r.logger.Info("mirrored baseline ignore patterns", "count", len(mirrored))
		}
		supplemental = append(supplemental, mirrored...)
	}

	return NewRuleSet(baseline, supplemental), warnings, nil
}

// AddSupplemental appends patterns not yet present and rewrites the file
// atomically. It returns the patterns that were actually added.
func (r *Reconciler) AddSupplemental(ctx context.Context, patterns ...string) ([]string, error) {
	return r.addWithComment(ctx, "", patterns)
}

// RegisterGenerated pre-registers files produced by project bootstrapping.
// Each path becomes a root-anchored pattern; directories keep a trailing slash.
func (r *Reconciler) RegisterGenerated(ctx context.Context, paths []string, reason string) ([]string, error) {
	patterns := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(filepath.ToSlash(p))
		if p == "" {
			continue
		}
		patterns = append(patterns, AnchoredPattern(p))
	}
	comment := ""
	if reason != "" {
		comment = fmt.Sprintf(generatedCommentFmt, reason)
	}
	return r.addWithComment(ctx, comment, patterns)
}

func (r *Reconciler) addWithComment(ctx context.Context, comment string, patterns []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lines, exists, err := r.readSupplementalLines()
	if err != nil {
		return nil, fmt.Errorf("read supplemental ignore file: %w", err)
	}
	present := toSet(patternsOf(lines))

	var added []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, p)
		}
		if _, ok := present[p]; ok {
			continue
		}
		present[p] = struct{}{}
		added = append(added, p)
	}
	if len(added) == 0 {
		return nil, nil
	}

	if !exists {
		lines = []string{supplementalHeader}
	}
	if comment != "" {
		lines = append(lines, comment)
	}
	lines = append(lines, added...)
	if err := r.writeSupplemental(lines); err != nil {
		return nil, err
	}
	r.logger.Info("added supplemental ignore patterns", "patterns", added)
	return added, nil
}

// AnchoredPattern returns a pattern that matches exactly one project path.
func AnchoredPattern(path string) string {
	path = strings.TrimPrefix(filepath.ToSlash(path), "/")
	escaped := EscapePattern(path)
	return "/" + escaped
}

// patternMeta lists characters the matcher would otherwise treat as syntax.
// A '?' is already literal for the matcher and must stay unescaped.
const patternMeta = `*[]\+()^${}|`

// EscapePattern protects matcher metacharacters in a literal path.
func EscapePattern(p string) string {
	var sb strings.Builder
	for i, c := range p {
		switch {
		case strings.ContainsRune(patternMeta, c):
			sb.WriteByte('\\')
		case i == 0 && (c == '!' || c == '#'):
			sb.WriteByte('\\')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

func (r *Reconciler) readBaseline() ([]string, *ReconciliationError) {
	path := r.handle.BaselinePath()
	content, err := safefileio.SafeReadFile(path, maxIgnoreFileSize)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &ReconciliationError{Path: path, Reason: "unreadable baseline", Err: err}
	}
	if bytes.IndexByte(content, 0) >= 0 || !utf8.Valid(content) {
		return nil, &ReconciliationError{Path: path, Reason: "malformed baseline", Err: ErrMalformedBaseline}
	}
	return patternsOf(splitLines(content)), nil
}

// readSupplementalLines returns the raw lines of the supplemental file,
// comments included, and whether the file exists.
func (r *Reconciler) readSupplementalLines() ([]string, bool, error) {
	content, err := safefileio.SafeReadFile(r.handle.SupplementalPath(), maxIgnoreFileSize)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return splitLines(content), true, nil
}

func (r *Reconciler) writeSupplemental(lines []string) error {
	target := filepath.Clean(r.handle.SupplementalPath())
	if target == filepath.Clean(r.handle.BaselinePath()) {
		return fmt.Errorf("%w: %s", ErrBaselineWrite, target)
	}
	content := strings.Join(lines, "\n") + "\n"
	if err := safefileio.AtomicWriteFile(target, []byte(content), supplementalPerm); err != nil {
		return fmt.Errorf("write supplemental ignore file: %w", err)
	}
	return nil
}

func splitLines(content []byte) []string {
	text := strings.TrimRight(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// patternsOf drops blank lines and comments.
func patternsOf(lines []string) []string {
	var out []string
	for _, l := range lines {
		p := strings.TrimSpace(l)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		out = append(out, p)
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, s := range items {
		m[s] = struct{}{}
	}
	return m
}
