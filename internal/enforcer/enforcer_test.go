package enforcer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/isseis/go-gitup-guard/internal/catalog"
	"github.com/isseis/go-gitup-guard/internal/enforcer"
	"github.com/isseis/go-gitup-guard/internal/guardtypes"
	"github.com/isseis/go-gitup-guard/internal/ignore"
	"github.com/isseis/go-gitup-guard/internal/project"
	"github.com/isseis/go-gitup-guard/internal/scanner"
	"github.com/isseis/go-gitup-guard/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVCS struct {
	head    string
	changed []string
}

func (f *fakeVCS) CurrentHead(context.Context) (string, error) { return f.head, nil }

func (f *fakeVCS) ChangedPaths(context.Context, string, string) ([]string, error) {
	return f.changed, nil
}

var fixedNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	handle   *project.Handle
	store    *state.Store
	vcs      *fakeVCS
	enforcer *enforcer.Enforcer
}

func newFixture(t *testing.T, level guardtypes.SecurityLevel, files map[string]string) *fixture {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	h, err := project.Open(root)
	require.NoError(t, err)

	v := &fakeVCS{head: "aaa"}
	store, err := state.Open(h, v, state.Options{Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.Initialize(context.Background(), level)
	require.NoError(t, err)

	c, err := catalog.New(catalog.Options{})
	require.NoError(t, err)
	e := enforcer.New(enforcer.Deps{
		Handle:     h,
		Store:      store,
		Reconciler: ignore.NewReconciler(h, nil),
		Scanner:    scanner.New(c, nil, scanner.Options{}),
	})
	return &fixture{handle: h, store: store, vcs: v, enforcer: e}
}

func (f *fixture) lastAction(t *testing.T) string {
	t.Helper()
	trail, err := f.store.AuditTrail()
	require.NoError(t, err)
	require.NotEmpty(t, trail)
	return trail[len(trail)-1].Action
}

func findingOf(path string, category guardtypes.RiskCategory) guardtypes.Finding {
	return guardtypes.Finding{
		ID:       guardtypes.FindingID(path, category, "r"),
		Path:     path,
		Category: category,
		Severity: category.Severity(),
		Status:   guardtypes.StatusOpen,
	}
}

func TestEvaluate_DecisionTable(t *testing.T) {
	findings := []guardtypes.Finding{
		findingOf("id_rsa", guardtypes.CategoryPrivateKey),
		findingOf("db.sqlite", guardtypes.CategoryDatabaseFile),
		findingOf("app.log", guardtypes.CategoryLogFile),
		findingOf("x.tmp", guardtypes.CategoryTemporaryFile),
	}
	tests := []struct {
		level        guardtypes.SecurityLevel
		blocking     int
		autoResolved int
		tolerated    int
		reported     int
	}{
		{guardtypes.LevelStrict, 3, 0, 0, 1},
		{guardtypes.LevelModerate, 1, 2, 0, 1},
		{guardtypes.LevelRelaxed, 1, 0, 3, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			result := guardtypes.NewAssessmentResult(append([]guardtypes.Finding(nil), findings...), nil, nil, 4)
			d := enforcer.Evaluate(&guardtypes.ProjectComplianceState{}, result, tt.level)
			assert.False(t, d.Allowed)
			assert.Equal(t, guardtypes.ComplianceViolated, d.Status)
			assert.Len(t, d.Blocking, tt.blocking)
			assert.Len(t, d.AutoResolved, tt.autoResolved)
			assert.Len(t, d.Tolerated, tt.tolerated)
			assert.Len(t, d.Reported, tt.reported)
			for _, b := range d.Blocking {
				assert.Contains(t, b.Reason, string(tt.level))
				assert.NotEmpty(t, b.Remediation)
			}
		})
	}
}

func TestEvaluate_StrictAllowsLow(t *testing.T) {
	result := guardtypes.NewAssessmentResult([]guardtypes.Finding{findingOf("x.tmp", guardtypes.CategoryTemporaryFile)}, nil, nil, 1)
	d := enforcer.Evaluate(&guardtypes.ProjectComplianceState{}, result, guardtypes.LevelStrict)
	assert.True(t, d.Allowed)
	assert.Equal(t, guardtypes.ComplianceClean, d.Status)
	assert.Len(t, d.Reported, 1)
}

func TestEvaluate_BypassBlocksUnconditionally(t *testing.T) {
	st := &guardtypes.ProjectComplianceState{
		ToolBypassDetected: true,
		BypassRange:        &guardtypes.CommitRange{From: "a", To: "b"},
	}
	d := enforcer.Evaluate(st, guardtypes.NewAssessmentResult(nil, nil, nil, 0), guardtypes.LevelRelaxed)
	assert.False(t, d.Allowed)
	assert.True(t, d.BypassDetected)
	assert.Equal(t, guardtypes.ComplianceBlocked, d.Status)
	assert.Equal(t, "a..b", d.BypassRange)
	assert.Contains(t, d.Message, "a..b")
}

func TestEvaluate_ContentRemediation(t *testing.T) {
	f := findingOf("config/secrets.json", guardtypes.CategoryAPIKeyPattern)
	f.Match = guardtypes.MatchDetail{Kind: guardtypes.MatchKindContent, Line: 3}
	d := enforcer.Evaluate(nil, guardtypes.NewAssessmentResult([]guardtypes.Finding{f}, nil, nil, 1), guardtypes.LevelModerate)
	require.Len(t, d.Blocking, 1)
	assert.Contains(t, d.Blocking[0].Remediation[0], "line 3")
	assert.Contains(t, d.Blocking[0].Remediation[1], "/config/secrets.json")
}

func TestAuthorize_BlockDoesNotMutateState(t *testing.T) {
	fx := newFixture(t, guardtypes.LevelModerate, map[string]string{
		"config/secrets.json": `{"api_key": "sk-abc123"}`,
	})
	ctx := context.Background()
	st, result, err := fx.enforcer.Assess(ctx)
	require.NoError(t, err)

	before, err := os.ReadFile(fx.handle.StatePath())
	require.NoError(t, err)
	trailBefore, err := fx.store.AuditTrail()
	require.NoError(t, err)

	d, err := fx.enforcer.Authorize(ctx, "commit", st, result, st.SecurityLevel)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	after, err := os.ReadFile(fx.handle.StatePath())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	trailAfter, err := fx.store.AuditTrail()
	require.NoError(t, err)
	assert.Equal(t, trailBefore, trailAfter)
}

func TestGate_BlockedIsRecorded(t *testing.T) {
	fx := newFixture(t, guardtypes.LevelModerate, map[string]string{
		"config/secrets.json": `{"api_key": "sk-abc123"}`,
	})
	d, result, err := fx.enforcer.Gate(context.Background(), "commit")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	require.Len(t, d.Blocking, 1)
	assert.Equal(t, guardtypes.CategoryAPIKeyPattern, d.Blocking[0].Finding.Category)
	assert.Equal(t, 1, result.TotalFindings)

	assert.Equal(t, guardtypes.ActionOperationBlocked, fx.lastAction(t))
	st, err := fx.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, guardtypes.ComplianceViolated, st.ComplianceStatus)
	require.Len(t, st.FindingLedger, 1)
}

func TestGate_ModerateAutoResolves(t *testing.T) {
	fx := newFixture(t, guardtypes.LevelModerate, map[string]string{
		"data/app.db": "",
		"server.log":  "x",
		"main.go":     "package main\n",
	})
	ctx := context.Background()
	fx.vcs.head = "aaa"

	d, _, err := fx.enforcer.Gate(ctx, "commit")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Len(t, d.AutoResolved, 2)
	assert.Equal(t, guardtypes.ActionOperationAllowed, fx.lastAction(t))

	sup, err := os.ReadFile(fx.handle.SupplementalPath())
	require.NoError(t, err)
	assert.Contains(t, string(sup), "/data/app.db\n")
	assert.Contains(t, string(sup), "/server.log\n")

	decisions, err := fx.store.Decisions()
	require.NoError(t, err)
	rec := decisions["data/app.db"]
	assert.Equal(t, guardtypes.DecisionIgnore, rec.Decision)
	assert.Equal(t, guardtypes.ActorTool, rec.Actor)
	require.NotNil(t, rec.ReviewAfter)
	assert.Equal(t, fixedNow.Add(30*24*time.Hour), *rec.ReviewAfter)

	// The next assessment no longer sees them; the ledger resolves both.
	st, result, err := fx.enforcer.Assess(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.TotalFindings)
	require.Len(t, st.FindingLedger, 2)
	for _, e := range st.FindingLedger {
		assert.Equal(t, guardtypes.StatusResolved, e.Finding.Status)
	}
}

func TestGate_LevelsOnMediumFinding(t *testing.T) {
	tests := []struct {
		level        guardtypes.SecurityLevel
		allowed      bool
		supplemental bool
	}{
		{guardtypes.LevelStrict, false, false},
		{guardtypes.LevelModerate, true, true},
		{guardtypes.LevelRelaxed, true, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			fx := newFixture(t, tt.level, map[string]string{"app.log": "x"})
			d, _, err := fx.enforcer.Gate(context.Background(), "push")
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			_, statErr := os.Stat(fx.handle.SupplementalPath())
			assert.Equal(t, tt.supplemental, statErr == nil)
			if tt.level == guardtypes.LevelRelaxed {
				assert.Len(t, d.Tolerated, 1)
			}
		})
	}
}

func TestGate_BypassBlocksEvenWithoutFindings(t *testing.T) {
	fx := newFixture(t, guardtypes.LevelRelaxed, map[string]string{"main.go": "package main\n"})
	ctx := context.Background()
	fx.vcs.head = "bbb"
	fx.vcs.changed = []string{"main.go"}

	for i := 0; i < 2; i++ {
		d, result, err := fx.enforcer.Gate(ctx, "commit")
		require.NoError(t, err)
		assert.Zero(t, result.TotalFindings)
		assert.False(t, d.Allowed)
		assert.True(t, d.BypassDetected)
		assert.Equal(t, guardtypes.ComplianceBlocked, d.Status)
	}

	st, err := fx.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, guardtypes.ComplianceBlocked, st.ComplianceStatus)
	assert.Equal(t, "aaa", st.LastObservedVcsHead)
}

func TestScan_ReconcilesBypass(t *testing.T) {
	fx := newFixture(t, guardtypes.LevelModerate, map[string]string{
		"config/secrets.json": `{"api_key": "sk-abc123"}`,
	})
	ctx := context.Background()
	fx.vcs.head = "bbb"
	fx.vcs.changed = []string{"config/secrets.json"}

	d, result, err := fx.enforcer.Scan(ctx)
	require.NoError(t, err)
	assert.True(t, d.BypassDetected)
	assert.Equal(t, "aaa..bbb", d.BypassRange)
	assert.Equal(t, guardtypes.ComplianceBlocked, d.Status)

	// A blocking finding on a touched path keeps the flag until resolved.
	_, err = fx.enforcer.ApplyDecision(ctx, result.Findings[0], guardtypes.DecisionSafe, "fixture data")
	require.NoError(t, err)
	d, _, err = fx.enforcer.Scan(ctx)
	require.NoError(t, err)
	assert.False(t, d.BypassDetected)
	assert.True(t, d.Allowed)
	assert.Equal(t, guardtypes.ActionBypassReconciled, fx.lastAction(t))

	st, err := fx.store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, st.ToolBypassDetected)
	assert.Equal(t, "bbb", st.LastObservedVcsHead)
	assert.Equal(t, guardtypes.ComplianceClean, st.ComplianceStatus)

	d, _, err = fx.enforcer.Gate(ctx, "push")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestApplyDecision(t *testing.T) {
	fx := newFixture(t, guardtypes.LevelStrict, nil)
	ctx := context.Background()
	f := findingOf("config/secrets.json", guardtypes.CategorySecretFile)

	rec, err := fx.enforcer.ApplyDecision(ctx, f, guardtypes.DecisionSafe, "fixture")
	require.NoError(t, err)
	assert.Equal(t, "/config/secrets.json", rec.Pattern)

	g := findingOf("logs/web.log", guardtypes.CategoryLogFile)
	rec, err = fx.enforcer.ApplyDecision(ctx, g, guardtypes.DecisionIgnore, "noise")
	require.NoError(t, err)
	assert.Equal(t, "/logs/*.log", rec.Pattern)

	h := findingOf(".env", guardtypes.CategoryEnvironmentFile)
	rec, err = fx.enforcer.ApplyDecision(ctx, h, guardtypes.DecisionRename, "template it")
	require.NoError(t, err)
	assert.Equal(t, ".env.example", rec.Suggestion)
	assert.Empty(t, rec.Pattern)

	rec, err = fx.enforcer.ApplyDecision(ctx, h, guardtypes.DecisionEdit, "scrub later")
	require.NoError(t, err)
	require.NotNil(t, rec.ReviewAfter)
	assert.Equal(t, fixedNow.Add(7*24*time.Hour), *rec.ReviewAfter)

	_, err = fx.enforcer.ApplyDecision(ctx, h, "maybe", "")
	assert.ErrorIs(t, err, guardtypes.ErrInvalidDecision)

	decisions, err := fx.store.Decisions()
	require.NoError(t, err)
	assert.Contains(t, decisions, "config/secrets.json")
	assert.Contains(t, decisions, "/logs/*.log")
	assert.Equal(t, guardtypes.DecisionEdit, decisions[".env"].Decision)

	sup, err := os.ReadFile(fx.handle.SupplementalPath())
	require.NoError(t, err)
	assert.Contains(t, string(sup), "/config/secrets.json\n")
	assert.Contains(t, string(sup), "/logs/*.log\n")
	assert.Equal(t, guardtypes.ActionDecisionRecorded, fx.lastAction(t))
}

func TestSetLevel(t *testing.T) {
	fx := newFixture(t, guardtypes.LevelModerate, nil)
	st, err := fx.store.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, fx.enforcer.SetLevel(st, guardtypes.LevelStrict))
	assert.Equal(t, guardtypes.ActionLevelChanged, fx.lastAction(t))
	loaded, err := fx.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, guardtypes.LevelStrict, loaded.SecurityLevel)

	assert.Error(t, fx.enforcer.SetLevel(st, "paranoid"))
}

func TestRegister(t *testing.T) {
	fx := newFixture(t, guardtypes.LevelModerate, map[string]string{"gen/out.log": "x"})
	added, err := fx.enforcer.Register(context.Background(), []string{"gen/"}, "generated by make")
	require.NoError(t, err)
	assert.Equal(t, []string{"/gen/"}, added)
	assert.Equal(t, guardtypes.ActionPathsRegistered, fx.lastAction(t))

	_, result, err := fx.enforcer.Assess(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.TotalFindings)
}

func TestBroaderPattern(t *testing.T) {
	tests := map[string]string{
		"config/secrets.json": "/config/*.json",
		"secrets.json":        "/*.json",
		"bin/tool":            "/bin/",
		".env":                "/.env",
		"a/b/.env":            "/a/b/",
		"a[1]/x.log":          `/a\[1\]/*.log`,
		"build+out/tool":      `/build\+out/`,
	}
	for in, want := range tests {
		assert.Equal(t, want, enforcer.BroaderPattern(in), in)
	}
}

func TestBroaderPatternMatchesLiteralDirectory(t *testing.T) {
	pattern := enforcer.BroaderPattern("a[1]/x.log")
	assert.True(t, ignore.PatternMatches(pattern, "a[1]/x.log"))
	assert.True(t, ignore.PatternMatches(pattern, "a[1]/y.log"))
	assert.False(t, ignore.PatternMatches(pattern, "a1/x.log"))
}

func TestSuggestName(t *testing.T) {
	assert.Equal(t, "config/secrets.example.json", enforcer.SuggestName("config/secrets.json"))
	assert.Equal(t, ".env.example", enforcer.SuggestName(".env"))
	assert.Equal(t, "deploy/id_rsa.example", enforcer.SuggestName("deploy/id_rsa"))
}
