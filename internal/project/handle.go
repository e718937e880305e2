// Package project resolves the locations of every document the engine keeps
// for one project root. A Handle is passed to each component constructor, so
// two roots in the same process never share state.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Names of the files and directories managed under the project root.
const (
	StateDirName        = ".gitup"
	SupplementalName    = ".gitupignore"
	DefaultBaselineName = ".gitignore"
	stateFileName       = "state.json"
	decisionsFileName   = "decisions.json"
	configFileName      = "config.toml"
	lockFileName        = ".lock"
	archiveDirName      = "audit-archive"
	stateDirPerm        = 0o750
)

// ErrNotDirectory is returned when the project root is not a directory.
var ErrNotDirectory = errors.New("project root is not a directory")

// Handle holds absolute paths for a single project root.
type Handle struct {
	root         string
	baselineName string
}

// Open resolves root to an absolute, symlink-free directory.
func Open(root string) (*Handle, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root %q: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve project root %q: %w", root, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, resolved)
	}
	return &Handle{root: resolved, baselineName: DefaultBaselineName}, nil
}

// WithBaseline returns a copy of h whose baseline ignore file is name,
// relative to the root.
func (h *Handle) WithBaseline(name string) *Handle {
	c := *h
	if name != "" {
		c.baselineName = filepath.FromSlash(name)
	}
	return &c
}

// Root returns the absolute project root.
func (h *Handle) Root() string { return h.root }

// StateDir returns <root>/.gitup.
func (h *Handle) StateDir() string { return filepath.Join(h.root, StateDirName) }

// StatePath returns the compliance state document.
func (h *Handle) StatePath() string { return filepath.Join(h.StateDir(), stateFileName) }

// DecisionsPath returns the decision and audit trail document.
func (h *Handle) DecisionsPath() string { return filepath.Join(h.StateDir(), decisionsFileName) }

// ConfigPath returns the engine configuration file.
func (h *Handle) ConfigPath() string { return filepath.Join(h.StateDir(), configFileName) }

// LockPath returns the advisory lock file.
func (h *Handle) LockPath() string { return filepath.Join(h.StateDir(), lockFileName) }

// ArchiveDir returns the directory holding purged audit entries.
func (h *Handle) ArchiveDir() string { return filepath.Join(h.StateDir(), archiveDirName) }

// BaselinePath returns the user's ignore file. The engine never writes it.
func (h *Handle) BaselinePath() string { return filepath.Join(h.root, h.baselineName) }

// SupplementalPath returns the engine-owned ignore file.
func (h *Handle) SupplementalPath() string { return filepath.Join(h.root, SupplementalName) }

// EnsureStateDir creates the state directory if it does not exist.
func (h *Handle) EnsureStateDir() error {
	if err := os.MkdirAll(h.StateDir(), stateDirPerm); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	return nil
}

// Rel converts an absolute path under the root to a slash-separated
// project-relative path.
func (h *Handle) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(h.root, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside project root %s", abs, h.root)
	}
	return rel, nil
}

// Abs converts a project-relative path to an absolute one.
func (h *Handle) Abs(rel string) string {
	return filepath.Join(h.root, filepath.FromSlash(rel))
}
