// Package safefileio reads and replaces project files without following
// symbolic links, so a link planted in a scanned tree cannot redirect the
// engine outside the project root.
package safefileio

import "errors"

var (
	// ErrInvalidFilePath indicates that the specified file path is invalid.
	ErrInvalidFilePath = errors.New("invalid file path")

	// ErrIsSymlink indicates that the path or one of its parent directories is a symbolic link.
	ErrIsSymlink = errors.New("path is a symbolic link")

	// ErrFileTooLarge indicates that the file exceeds the caller's read limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrFileExists indicates that the file already exists.
	ErrFileExists = errors.New("file exists")

	// ErrNotRegularFile indicates that the path names a device, pipe, socket or directory.
	ErrNotRegularFile = errors.New("not a regular file")
)
