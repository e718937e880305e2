//go:build linux

// Linux opens through openat2(RESOLVE_NO_SYMLINKS) so that the symlink check
// covers every path component in a single system call.
package safefileio

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	openat2Once  sync.Once
	openat2Works bool
)

// isOpenat2Available checks the kernel once per process. Older kernels and
// some seccomp profiles answer ENOSYS or EPERM.
func isOpenat2Available() bool {
	openat2Once.Do(func() {
		fd, err := unix.Openat2(unix.AT_FDCWD, "/", &unix.OpenHow{
			Flags:   unix.O_RDONLY | unix.O_DIRECTORY | unix.O_CLOEXEC,
			Resolve: unix.RESOLVE_NO_SYMLINKS,
		})
		if err == nil {
			_ = unix.Close(fd)
		}
		openat2Works = err == nil
	})
	return openat2Works
}

func (fs *osFS) safeOpenFileInternal(absPath string, flag int, perm os.FileMode) (*os.File, error) {
	if !fs.openat2Available {
		return safeOpenFileFallback(absPath, flag, perm)
	}

	fd, err := unix.Openat2(unix.AT_FDCWD, absPath, &unix.OpenHow{
		// #nosec G115 - open flags and permission bits are non-negative
		Flags:   uint64(flag | unix.O_CLOEXEC),
		Mode:    uint64(perm.Perm()),
		Resolve: unix.RESOLVE_NO_SYMLINKS,
	})
	switch {
	case err == nil:
		return os.NewFile(uintptr(fd), absPath), nil
	case errors.Is(err, unix.ELOOP):
		return nil, fmt.Errorf("%w: %s", ErrIsSymlink, absPath)
	case errors.Is(err, unix.EEXIST):
		return nil, ErrFileExists
	case errors.Is(err, unix.ENOENT):
		return nil, &os.PathError{Op: "open", Path: absPath, Err: os.ErrNotExist}
	default:
		return nil, &os.PathError{Op: "openat2", Path: absPath, Err: err}
	}
}
