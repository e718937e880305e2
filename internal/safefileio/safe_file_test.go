package safefileio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// safeTempDir creates a temporary directory and resolves any symlinks in its path
// to ensure consistent behavior across different environments.
func safeTempDir(t *testing.T) string {
	t.Helper()
	realPath, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err, "Failed to resolve symlinks in temp dir")
	return realPath
}

func TestSafeReadFile(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, dir string) string
		limit   int64
		want    string
		wantErr error
	}{
		{
			name: "regular file",
			setup: func(t *testing.T, dir string) string {
				p := filepath.Join(dir, "a.txt")
				require.NoError(t, os.WriteFile(p, []byte("hello"), 0o600))
				return p
			},
			want: "hello",
		},
		{
			name: "file over limit",
			setup: func(t *testing.T, dir string) string {
				p := filepath.Join(dir, "big.txt")
				require.NoError(t, os.WriteFile(p, []byte("0123456789"), 0o600))
				return p
			},
			limit:   4,
			wantErr: ErrFileTooLarge,
		},
		{
			name: "symlink target",
			setup: func(t *testing.T, dir string) string {
				target := filepath.Join(dir, "real.txt")
				require.NoError(t, os.WriteFile(target, []byte("x"), 0o600))
				link := filepath.Join(dir, "link.txt")
				require.NoError(t, os.Symlink(target, link))
				return link
			},
			wantErr: ErrIsSymlink,
		},
		{
			name: "symlinked parent directory",
			setup: func(t *testing.T, dir string) string {
				realDir := filepath.Join(dir, "real")
				require.NoError(t, os.Mkdir(realDir, 0o755))
				require.NoError(t, os.WriteFile(filepath.Join(realDir, "f.txt"), []byte("x"), 0o600))
				linkDir := filepath.Join(dir, "linked")
				require.NoError(t, os.Symlink(realDir, linkDir))
				return filepath.Join(linkDir, "f.txt")
			},
			wantErr: ErrIsSymlink,
		},
		{
			name: "directory",
			setup: func(t *testing.T, dir string) string {
				sub := filepath.Join(dir, "sub")
				require.NoError(t, os.Mkdir(sub, 0o755))
				return sub
			},
			wantErr: ErrNotRegularFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.setup(t, safeTempDir(t))
			got, err := SafeReadFile(path, tt.limit)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestSafeReadFile_FallbackFileSystem(t *testing.T) {
	dir := safeTempDir(t)
	target := filepath.Join(dir, "real.txt")
	require.NoError(t, os.WriteFile(target, []byte("data"), 0o600))
	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	fs := NewFileSystem(FileSystemConfig{DisableOpenat2: true})

	got, err := safeReadFileWithFS(fs, target, 0)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))

	_, err = safeReadFileWithFS(fs, link, 0)
	assert.ErrorIs(t, err, ErrIsSymlink)
}

func TestSafeReadHead(t *testing.T) {
	dir := safeTempDir(t)
	p := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(p, []byte{0x7f, 'E', 'L', 'F', 0, 1, 2, 3}, 0o600))

	head, size, err := SafeReadHead(p, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7f, 'E', 'L', 'F'}, head)
	assert.Equal(t, int64(8), size)

	head, size, err = SafeReadHead(p, 64)
	require.NoError(t, err)
	assert.Len(t, head, 8)
	assert.Equal(t, int64(8), size)
}

func TestAtomicWriteFile(t *testing.T) {
	t.Run("creates and replaces", func(t *testing.T) {
		dir := safeTempDir(t)
		p := filepath.Join(dir, "state.json")

		require.NoError(t, AtomicWriteFile(p, []byte("one"), 0o600))
		require.NoError(t, AtomicWriteFile(p, []byte("two"), 0o600))

		got, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))

		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "temporary files must not be left behind")
	})

	t.Run("refuses symlink target", func(t *testing.T) {
		dir := safeTempDir(t)
		outside := filepath.Join(dir, "outside.txt")
		require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o600))
		link := filepath.Join(dir, "link.txt")
		require.NoError(t, os.Symlink(outside, link))

		err := AtomicWriteFile(link, []byte("overwrite"), 0o600)
		require.ErrorIs(t, err, ErrIsSymlink)

		got, err := os.ReadFile(outside)
		require.NoError(t, err)
		assert.Equal(t, "keep", string(got))
	})

	t.Run("refuses symlinked parent", func(t *testing.T) {
		dir := safeTempDir(t)
		realDir := filepath.Join(dir, "real")
		require.NoError(t, os.Mkdir(realDir, 0o755))
		linkDir := filepath.Join(dir, "linked")
		require.NoError(t, os.Symlink(realDir, linkDir))

		err := AtomicWriteFile(filepath.Join(linkDir, "f.txt"), []byte("x"), 0o600)
		require.ErrorIs(t, err, ErrIsSymlink)
		_, statErr := os.Stat(filepath.Join(realDir, "f.txt"))
		assert.True(t, os.IsNotExist(statErr))
	})
}
