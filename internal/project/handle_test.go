package project_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/isseis/go-gitup-guard/internal/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	h, err := project.Open(dir)
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, resolved, h.Root())
	assert.Equal(t, filepath.Join(resolved, ".gitup", "state.json"), h.StatePath())
	assert.Equal(t, filepath.Join(resolved, ".gitup", "decisions.json"), h.DecisionsPath())
	assert.Equal(t, filepath.Join(resolved, ".gitignore"), h.BaselinePath())
	assert.Equal(t, filepath.Join(resolved, ".gitupignore"), h.SupplementalPath())
	assert.Equal(t, filepath.Join(resolved, "ignore", "base"), h.WithBaseline("ignore/base").BaselinePath())

	require.NoError(t, h.EnsureStateDir())
	info, err := os.Stat(h.StateDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpen_NotDirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o600))
	_, err := project.Open(f)
	assert.ErrorIs(t, err, project.ErrNotDirectory)

	_, err = project.Open(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestHandle_RelAbs(t *testing.T) {
	h, err := project.Open(t.TempDir())
	require.NoError(t, err)

	rel, err := h.Rel(filepath.Join(h.Root(), "config", "secrets.json"))
	require.NoError(t, err)
	assert.Equal(t, "config/secrets.json", rel)
	assert.Equal(t, filepath.Join(h.Root(), "config", "secrets.json"), h.Abs(rel))

	_, err = h.Rel(filepath.Dir(h.Root()))
	assert.Error(t, err)
}
