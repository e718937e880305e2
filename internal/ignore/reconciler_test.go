package ignore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/isseis/go-gitup-guard/internal/ignore"
	"github.com/isseis/go-gitup-guard/internal/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupProject(t *testing.T, baseline string) *project.Handle {
	t.Helper()
	dir := t.TempDir()
	if baseline != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(baseline), 0o644))
	}
	h, err := project.Open(dir)
	require.NoError(t, err)
	return h
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestIsSecurityRelevant(t *testing.T) {
	tests := []struct {
		pattern string
		want    bool
	}{
		{"node_modules/", false},
		{"*.log", false},
		{".env", true},
		{"secrets/", true},
		{"*.PEM", true},
		{"id_rsa.private", true},
		{"config/local.yml", true},
		{"cert.p12", true},
		{"dist", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, ignore.IsSecurityRelevant(tt.pattern))
		})
	}
}

func TestSync_MirrorsNonSecurityPatterns(t *testing.T) {
	baseline := "# deps\nnode_modules/\n\n*.log\n.env\nsecrets/\n"
	h := setupProject(t, baseline)
	r := ignore.NewReconciler(h, nil)

	rules, warnings, err := r.Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, []string{"node_modules/", "*.log"}, rules.Supplemental())
	assert.Equal(t, []string{"node_modules/", "*.log", ".env", "secrets/"}, rules.Baseline())

	content := readFile(t, h.SupplementalPath())
	assert.Contains(t, content, "node_modules/\n")
	assert.Contains(t, content, "*.log\n")
	assert.NotContains(t, content, ".env")
	assert.NotContains(t, content, "secrets/")

	// The baseline file is never rewritten.
	assert.Equal(t, baseline, readFile(t, h.BaselinePath()))
}

func TestSync_IsIdempotent(t *testing.T) {
	h := setupProject(t, "build/\n*.tmp\n")
	r := ignore.NewReconciler(h, nil)

	_, _, err := r.Sync(context.Background())
	require.NoError(t, err)
	first := readFile(t, h.SupplementalPath())
	info1, err := os.Stat(h.SupplementalPath())
	require.NoError(t, err)

	rules, _, err := r.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, readFile(t, h.SupplementalPath()))
	info2, err := os.Stat(h.SupplementalPath())
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime())
	assert.Equal(t, []string{"build/", "*.tmp"}, rules.Supplemental())
}

func TestSync_MissingBaselineIsNotAWarning(t *testing.T) {
	h := setupProject(t, "")
	r := ignore.NewReconciler(h, nil)

	rules, warnings, err := r.Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Empty(t, rules.Baseline())
	_, statErr := os.Stat(h.SupplementalPath())
	assert.True(t, os.IsNotExist(statErr), "nothing to mirror, nothing written")
}

func TestSync_MalformedBaselineDegrades(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"nul byte", []byte("build/\x00\n")},
		{"invalid utf8", []byte("build/\n\xff\xfe\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), tt.content, 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitupignore"), []byte("*.cache\n"), 0o644))
			h, err := project.Open(dir)
			require.NoError(t, err)

			rules, warnings, err := ignore.NewReconciler(h, nil).Sync(context.Background())
			require.NoError(t, err)
			require.Len(t, warnings, 1)
			assert.ErrorIs(t, warnings[0], ignore.ErrMalformedBaseline)
			assert.Empty(t, rules.Baseline())
			assert.Equal(t, []string{"*.cache"}, rules.Supplemental())
			assert.True(t, rules.IsEffectivelyIgnored("a.cache", false))
			assert.False(t, rules.IsEffectivelyIgnored("build", true))

			raw, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
			require.NoError(t, err)
			assert.Equal(t, tt.content, raw)
		})
	}
}

func TestSync_CancelledContext(t *testing.T) {
	h := setupProject(t, "build/\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := ignore.NewReconciler(h, nil).Sync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRuleSet_IsEffectivelyIgnored(t *testing.T) {
	rules := ignore.NewRuleSet([]string{"*.log", "build/", ".env"}, []string{"!keep.log", "/local.db"})

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"server.log", false, true},
		{"logs/app.log", false, true},
		{"keep.log", false, false},
		{"build", true, true},
		{"src/build", true, true},
		{".env", false, true},
		{"local.db", false, true},
		{"sub/local.db", false, false},
		{"main.go", false, false},
		{".git", true, true},
		{".gitup", true, true},
		{"", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, rules.IsEffectivelyIgnored(tt.path, tt.isDir))
		})
	}
}

func TestRuleSet_EngineDirectoriesCannotBeNegated(t *testing.T) {
	rules := ignore.NewRuleSet(nil, []string{"!.gitup/"})
	assert.True(t, rules.IsEffectivelyIgnored(".gitup", true))
}

func TestAddSupplemental(t *testing.T) {
	h := setupProject(t, "")
	r := ignore.NewReconciler(h, nil)
	ctx := context.Background()

	added, err := r.AddSupplemental(ctx, "/config/secrets.json", "logs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"/config/secrets.json", "logs/"}, added)

	added, err = r.AddSupplemental(ctx, "logs/", "tmp/*.tmp")
	require.NoError(t, err)
	assert.Equal(t, []string{"tmp/*.tmp"}, added)

	rules, _, err := r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/config/secrets.json", "logs/", "tmp/*.tmp"}, rules.Supplemental())
	assert.True(t, rules.IsEffectivelyIgnored("config/secrets.json", false))

	_, err = r.AddSupplemental(ctx, "# comment")
	assert.ErrorIs(t, err, ignore.ErrInvalidPattern)
}

func TestAddSupplemental_RefusesBaseline(t *testing.T) {
	h := setupProject(t, "build/\n").WithBaseline(".gitupignore")
	_, err := ignore.NewReconciler(h, nil).AddSupplemental(context.Background(), "x/")
	assert.ErrorIs(t, err, ignore.ErrBaselineWrite)
}

func TestRegisterGenerated(t *testing.T) {
	h := setupProject(t, "")
	r := ignore.NewReconciler(h, nil)

	added, err := r.RegisterGenerated(context.Background(), []string{"gen/models.go", "vendor/", ""}, "code generation")
	require.NoError(t, err)
	assert.Equal(t, []string{"/gen/models.go", "/vendor/"}, added)
	content := readFile(t, h.SupplementalPath())
	assert.Contains(t, content, "# Generated: code generation\n")
}

func TestAnchoredPattern(t *testing.T) {
	assert.Equal(t, "/config/secrets.json", ignore.AnchoredPattern("config/secrets.json"))
	assert.Equal(t, `/data/\[1\].txt`, ignore.AnchoredPattern("data/[1].txt"))
	assert.True(t, ignore.PatternMatches(ignore.AnchoredPattern("data/[1].txt"), "data/[1].txt"))
	assert.False(t, ignore.PatternMatches(ignore.AnchoredPattern("a.txt"), "sub/a.txt"))
}

func TestPatternMatches(t *testing.T) {
	assert.True(t, ignore.PatternMatches("config/*.json", "config/secrets.json"))
	assert.True(t, ignore.PatternMatches("logs/", "logs/app.log"))
	assert.False(t, ignore.PatternMatches("# comment", "comment"))
	assert.False(t, ignore.PatternMatches("", "anything"))
}
