package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/isseis/go-gitup-guard/internal/safefileio"
)

// Common errors
var (
	ErrInvalidFileType   = errors.New("unexpected file type returned from safefileio")
	ErrEmptyLogDirectory = errors.New("log directory cannot be empty")
)

const (
	logDirPerm  os.FileMode = 0o750
	logFilePerm os.FileMode = 0o600
)

// SafeFileOpener opens log files without following symlinks.
type SafeFileOpener struct {
	fs safefileio.FileSystem
}

// NewSafeFileOpener creates a new SafeFileOpener using the safefileio package
func NewSafeFileOpener() *SafeFileOpener {
	return &SafeFileOpener{fs: safefileio.NewFileSystem(safefileio.FileSystemConfig{})}
}

// OpenFile creates the parent directory if needed and opens path.
func (s *SafeFileOpener) OpenFile(path string, flag int, perm os.FileMode) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, logDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	file, err := s.fs.SafeOpenFile(path, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s safely: %w", path, err)
	}
	osFile, ok := file.(*os.File)
	if !ok {
		_ = file.Close()
		return nil, ErrInvalidFileType
	}
	return osFile, nil
}

// OpenRunLog creates a fresh JSON log file for one run inside dir.
func (s *SafeFileOpener) OpenRunLog(dir, runID string, now time.Time) (*os.File, string, error) {
	if dir == "" {
		return nil, "", ErrEmptyLogDirectory
	}
	path := LogFilename(dir, runID, now)
	f, err := s.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, logFilePerm)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}

// LogFilename returns <dir>/<host>_<timestamp>_<runID>.json.
func LogFilename(dir, runID string, now time.Time) string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}
	timestamp := now.UTC().Format("20060102T150405Z")
	return filepath.Join(dir, fmt.Sprintf("%s_%s_%s.json", hostname, timestamp, runID))
}

// GenerateRunID generates a new UUID v4 for run identification
func GenerateRunID() string {
	return uuid.New().String()
}
