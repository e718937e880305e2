package safefileio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
)

// DefaultMaxFileSize bounds SafeReadFile when the caller passes a non-positive limit.
const DefaultMaxFileSize = 128 * 1024 * 1024

// File is the subset of *os.File used by the package.
type File interface {
	io.ReadWriteCloser
	Stat() (os.FileInfo, error)
	Sync() error
	Name() string
}

// FileSystem opens files without following symlinks.
type FileSystem interface {
	SafeOpenFile(name string, flag int, perm os.FileMode) (File, error)
}

// FileSystemConfig configures the default FileSystem.
type FileSystemConfig struct {
	// DisableOpenat2 forces the portable two-phase check on Linux.
	DisableOpenat2 bool
}

type osFS struct {
	openat2Available bool
}

// NewFileSystem returns the operating-system backed FileSystem.
func NewFileSystem(cfg FileSystemConfig) FileSystem {
	return &osFS{openat2Available: !cfg.DisableOpenat2 && isOpenat2Available()}
}

var defaultFS = NewFileSystem(FileSystemConfig{})

// SafeOpenFile opens absPath refusing symlinks in the final component and
// in every parent directory.
func (fs *osFS) SafeOpenFile(name string, flag int, perm os.FileMode) (File, error) {
	absPath, err := filepath.Abs(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilePath, err)
	}
	f, err := fs.safeOpenFileInternal(absPath, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// safeOpenFileFallback opens with O_NOFOLLOW and then re-checks the parent
// directories, so a swap between the two steps is still detected.
func safeOpenFileFallback(absPath string, flag int, perm os.FileMode) (*os.File, error) {
	// #nosec G304 - parents are verified after opening
	file, err := os.OpenFile(absPath, flag|syscall.O_NOFOLLOW, perm)
	if err != nil {
		switch {
		case os.IsExist(err):
			return nil, ErrFileExists
		case isNoFollowError(err):
			return nil, fmt.Errorf("%w: %s", ErrIsSymlink, absPath)
		default:
			return nil, err
		}
	}
	if err := verifyPathComponents(absPath); err != nil {
		closeQuietly(file)
		return nil, err
	}
	return file, nil
}

// verifyPathComponents checks that no parent directory of absPath is a symlink.
func verifyPathComponents(absPath string) error {
	current := filepath.Dir(absPath)
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return nil
		}
		fi, err := os.Lstat(current)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("failed to stat %s: %w", current, err)
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s", ErrIsSymlink, current)
		}
		current = parent
	}
}

// SafeReadFile reads a regular file of at most maxSize bytes. A non-positive
// maxSize means DefaultMaxFileSize.
func SafeReadFile(filePath string, maxSize int64) ([]byte, error) {
	return safeReadFileWithFS(defaultFS, filePath, maxSize)
}

func safeReadFileWithFS(fs FileSystem, filePath string, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	file, err := fs.SafeOpenFile(filePath, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(file)

	info, err := validateFile(file, filePath)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrFileTooLarge, filePath, info.Size(), maxSize)
	}

	content, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if int64(len(content)) > maxSize {
		return nil, fmt.Errorf("%w: %s grew past %d bytes while reading", ErrFileTooLarge, filePath, maxSize)
	}
	return content, nil
}

// SafeReadHead reads up to n leading bytes of a regular file and returns
// them together with the file's full size.
func SafeReadHead(filePath string, n int) ([]byte, int64, error) {
	file, err := defaultFS.SafeOpenFile(filePath, os.O_RDONLY, 0)
	if err != nil {
		return nil, 0, err
	}
	defer closeQuietly(file)

	info, err := validateFile(file, filePath)
	if err != nil {
		return nil, 0, err
	}
	buf := make([]byte, n)
	read, err := io.ReadFull(file, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, 0, fmt.Errorf("failed to read file: %w", err)
	}
	return buf[:read], info.Size(), nil
}

// AtomicWriteFile replaces filePath with content. The data is written to a
// temporary file in the same directory, synced, and renamed over the target.
// An existing symlink at filePath, or a symlinked parent, is refused.
func AtomicWriteFile(filePath string, content []byte, perm os.FileMode) (err error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFilePath, err)
	}
	if fi, statErr := os.Lstat(absPath); statErr == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s", ErrIsSymlink, absPath)
		}
		if !fi.Mode().IsRegular() {
			return fmt.Errorf("%w: %s", ErrNotRegularFile, absPath)
		}
	}
	dir := filepath.Dir(absPath)
	if err := verifyPathComponents(absPath); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(absPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			if rmErr := os.Remove(tmpName); rmErr != nil && !os.IsNotExist(rmErr) {
				slog.Warn("failed to remove temporary file", slog.String("path", tmpName), slog.Any("error", rmErr))
			}
		}
	}()

	if _, err = tmp.Write(content); err != nil {
		closeQuietly(tmp)
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err = tmp.Chmod(perm); err != nil {
		closeQuietly(tmp)
		return fmt.Errorf("failed to set permissions on %s: %w", tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		closeQuietly(tmp)
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err = os.Rename(tmpName, absPath); err != nil {
		return fmt.Errorf("failed to replace %s: %w", absPath, err)
	}
	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry after a rename. Failures are logged
// only, since some filesystems do not support directory fsync.
func syncDir(dir string) {
	// #nosec G304 - dir is the parent of a verified path
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	if err := d.Sync(); err != nil {
		slog.Debug("directory sync unsupported", slog.String("dir", dir), slog.Any("error", err))
	}
	closeQuietly(d)
}

// validateFile checks that the open file is a regular file.
func validateFile(file File, filePath string) (os.FileInfo, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, filePath)
	}
	return info, nil
}

func closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Warn("error closing file", slog.Any("error", err))
	}
}
