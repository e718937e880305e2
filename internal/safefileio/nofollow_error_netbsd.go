//go:build netbsd

package safefileio

import (
	"errors"
	"syscall"
)

// isNoFollowError reports whether an O_NOFOLLOW open hit a symlink; NetBSD
// answers EFTYPE.
func isNoFollowError(err error) bool {
	return errors.Is(err, syscall.EFTYPE)
}
