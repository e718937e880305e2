//go:build !netbsd

package safefileio

import (
	"errors"
	"syscall"
)

// isNoFollowError reports whether an O_NOFOLLOW open hit a symlink. Linux
// answers ELOOP and FreeBSD EMLINK.
func isNoFollowError(err error) bool {
	return errors.Is(err, syscall.ELOOP) || errors.Is(err, syscall.EMLINK)
}
