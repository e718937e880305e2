// Package vcs reads the version-control facts the compliance store needs:
// the current head and the paths changed between two revisions.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultTimeout bounds every git invocation.
const DefaultTimeout = 30 * time.Second

// ErrGitNotFound is returned when the git executable is not on PATH.
var ErrGitNotFound = errors.New("git executable not found")

// Adapter is the version-control collaborator of the state store.
type Adapter interface {
	// CurrentHead returns the live head revision, or "" when there is none.
	CurrentHead(ctx context.Context) (string, error)
	// ChangedPaths lists project-relative paths touched in from..to. An
	// empty from lists every path tracked at to.
	ChangedPaths(ctx context.Context, from, to string) ([]string, error)
}

// None is the adapter for projects without version control.
type None struct{}

// CurrentHead always reports no head.
func (None) CurrentHead(context.Context) (string, error) { return "", nil }

// ChangedPaths always reports no changes.
func (None) ChangedPaths(context.Context, string, string) ([]string, error) { return nil, nil }

// Git shells out to the git executable.
type Git struct {
	dir     string
	gitPath string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGit creates a git adapter rooted at dir.
func NewGit(dir string, logger *slog.Logger) (*Git, error) {
	path, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGitNotFound, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Git{dir: dir, gitPath: path, timeout: DefaultTimeout, logger: logger.With("component", "vcs")}, nil
}

// Detect returns a git adapter when dir is a git work tree and git is
// installed, and None otherwise.
func Detect(dir string, logger *slog.Logger) Adapter {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return None{}
	}
	g, err := NewGit(dir, logger)
	if err != nil {
		if logger != nil {
			logger.Warn("git work tree found but git is unavailable; bypass detection disabled", "error", err)
		}
		return None{}
	}
	return g
}

// CurrentHead returns the commit id of HEAD. An unborn branch yields "".
func (g *Git) CurrentHead(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--verify", "--quiet", "HEAD")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// ChangedPaths lists paths changed between two commits, sorted.
func (g *Git) ChangedPaths(ctx context.Context, from, to string) ([]string, error) {
	if to == "" {
		return nil, nil
	}
	var out []byte
	var err error
	if from == "" {
		out, err = g.run(ctx, "ls-tree", "-r", "--name-only", "-z", to)
	} else {
		out, err = g.run(ctx, "diff", "--name-only", "--no-renames", "-z", from, to)
	}
	if err != nil {
		return nil, fmt.Errorf("list changed paths %s..%s: %w", from, to, err)
	}
	return splitNul(out), nil
}

func (g *Git) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// #nosec G204 - arguments are fixed subcommands and revision ids
	cmd := exec.CommandContext(ctx, g.gitPath, args...)
	cmd.Dir = g.dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		g.logger.Debug("git command failed", "args", args, "stderr", strings.TrimSpace(stderr.String()), "error", err)
		return nil, fmt.Errorf("git %s: %w", args[0], err)
	}
	return out, nil
}

func splitNul(out []byte) []string {
	var paths []string
	for _, p := range bytes.Split(out, []byte{0}) {
		if len(p) > 0 {
			paths = append(paths, string(p))
		}
	}
	sort.Strings(paths)
	return paths
}
