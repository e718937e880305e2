// Package scanner walks a project tree, classifies every file that is not
// ignored and turns catalog matches into findings. Per-file problems are
// aggregated as scan errors; only cancellation aborts a scan.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/isseis/go-gitup-guard/internal/catalog"
	"github.com/isseis/go-gitup-guard/internal/guardtypes"
	"github.com/isseis/go-gitup-guard/internal/ignore"
	"github.com/isseis/go-gitup-guard/internal/metrics"
	"github.com/isseis/go-gitup-guard/internal/safefileio"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the classification parallelism when Options.Workers is unset.
const DefaultWorkers = 4

// Scan error reasons.
const (
	ReasonUnreadable       = "unreadable"
	ReasonPermissionDenied = "permission denied"
	ReasonEncoding         = "unsupported encoding: not valid UTF-8, classified by name only"
	ReasonSymlinkRefused   = "refused to follow symlink"
)

// Options tunes a Scanner. Zero values fall back to the catalog's thresholds.
type Options struct {
	MaxContentBytes int64
	LargeFileBytes  int64
	Workers         int
	Metrics         *metrics.Recorder
}

// Scanner produces AssessmentResults.
type Scanner struct {
	catalog *catalog.Catalog
	logger  *slog.Logger
	opts    Options
}

// New creates a Scanner.
func New(c *catalog.Catalog, logger *slog.Logger, opts Options) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxContentBytes <= 0 {
		opts.MaxContentBytes = c.MaxContentBytes()
	}
	if opts.LargeFileBytes <= 0 {
		opts.LargeFileBytes = c.LargeFileBytes()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Scanner{catalog: c, logger: logger.With("component", "scanner"), opts: opts}
}

// entry is one file selected by the walk.
type entry struct {
	rel       string
	abs       string
	size      int64
	isSymlink bool
}

// fileResult is the per-file outcome, stored by walk index.
type fileResult struct {
	candidates []catalog.CandidateMatch
	content    []byte
	scanErr    *guardtypes.ScanError
}

// Scan inspects every non-ignored file under root. decisions maps a path or
// pattern to the record that suppresses matching findings.
func (s *Scanner) Scan(ctx context.Context, root string, rules *ignore.RuleSet, decisions map[string]guardtypes.DecisionRecord) (*guardtypes.AssessmentResult, error) {
	start := time.Now()
	if rules == nil {
		rules = ignore.NewRuleSet(nil, nil)
	}

	entries, walkErrs, err := s.walk(ctx, root, rules)
	if err != nil {
		return nil, err
	}

	results := make([]fileResult, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.inspect(entries[i])
			s.opts.Metrics.FileScanned()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scanErrors := walkErrs
	var open, suppressed []guardtypes.Finding
	for i, e := range entries {
		res := results[i]
		if res.scanErr != nil {
			s.logger.Warn("file not fully inspected", "path", e.rel, "error", res.scanErr.Reason)
			scanErrors = append(scanErrors, *res.scanErr)
		}
		cands := dropCommented(res.candidates, res.content)
		f, ok := resolve(e.rel, cands)
		if !ok {
			continue
		}
		if rec, matched := matchDecision(decisions, e.rel); matched {
			f.Status = statusFor(rec.Decision)
			suppressed = append(suppressed, f)
			continue
		}
		open = append(open, f)
	}

	result := guardtypes.NewAssessmentResult(open, suppressed, scanErrors, len(entries))
	s.opts.Metrics.ObserveScan(result, time.Since(start))
	s.logger.Info("scan completed",
		"files", result.FilesScanned,
		"findings", result.TotalFindings,
		"suppressed", len(result.Suppressed),
		"errors", len(result.ScanErrors))
	return result, nil
}

// walk lists candidate files in lexical order. Ignored directories are pruned
// and symlinks are never followed.
func (s *Scanner) walk(ctx context.Context, root string, rules *ignore.RuleSet) ([]entry, []guardtypes.ScanError, error) {
	var entries []entry
	var scanErrors []guardtypes.ScanError

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return walkErr
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if walkErr != nil {
			scanErrors = append(scanErrors, guardtypes.ScanError{Path: rel, Reason: reasonFor(walkErr)})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if rules.IsEffectivelyIgnored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if rules.IsEffectivelyIgnored(rel, false) {
			return nil
		}

		isSymlink := d.Type()&fs.ModeSymlink != 0
		if !isSymlink && !d.Type().IsRegular() {
			return nil
		}
		info, err := os.Lstat(path)
		if err != nil {
			scanErrors = append(scanErrors, guardtypes.ScanError{Path: rel, Reason: reasonFor(err)})
			return nil
		}
		entries = append(entries, entry{rel: rel, abs: path, size: info.Size(), isSymlink: isSymlink})
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return entries, scanErrors, nil
}

// inspect builds the sample for one file and classifies it.
func (s *Scanner) inspect(e entry) fileResult {
	sample := catalog.Sample{Path: e.rel, Size: e.size, IsSymlink: e.isSymlink}
	if e.isSymlink {
		return fileResult{candidates: s.catalog.Classify(sample)}
	}

	var res fileResult
	if e.size <= s.opts.MaxContentBytes {
		content, err := safefileio.SafeReadFile(e.abs, s.opts.MaxContentBytes)
		if err != nil {
			res.scanErr = &guardtypes.ScanError{Path: e.rel, Reason: reasonFor(err)}
		} else {
			sample.Content = content
			sample.Size = int64(len(content))
		}
	} else {
		head, size, err := safefileio.SafeReadHead(e.abs, s.catalog.SniffBytes())
		if err != nil {
			res.scanErr = &guardtypes.ScanError{Path: e.rel, Reason: reasonFor(err)}
		} else {
			sample.Head = head
			sample.Size = size
		}
	}

	if sample.Content != nil && !catalog.IsBinary(headOf(sample.Content, s.catalog.SniffBytes())) && !utf8.Valid(sample.Content) {
		res.scanErr = &guardtypes.ScanError{Path: e.rel, Reason: ReasonEncoding}
		sample.Content = nil
	}

	res.candidates = s.catalog.Classify(sample)
	res.content = sample.Content
	return res
}

func headOf(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return ReasonPermissionDenied
	case errors.Is(err, safefileio.ErrIsSymlink):
		return ReasonSymlinkRefused
	default:
		return fmt.Sprintf("%s: %v", ReasonUnreadable, err)
	}
}

// lineAt returns the 1-based line of content, or "" when out of range.
func lineAt(content []byte, n int) string {
	if n <= 0 {
		return ""
	}
	for i := 1; len(content) > 0; i++ {
		line, rest, _ := bytes.Cut(content, []byte("\n"))
		if i == n {
			return string(bytes.TrimRight(line, "\r"))
		}
		content = rest
	}
	return ""
}
