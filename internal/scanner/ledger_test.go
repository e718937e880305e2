package scanner_test

import (
	"testing"
	"time"

	"github.com/isseis/go-gitup-guard/internal/guardtypes"
	"github.com/isseis/go-gitup-guard/internal/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finding(path string, category guardtypes.RiskCategory) guardtypes.Finding {
	return guardtypes.Finding{
		ID:       guardtypes.FindingID(path, category, "rule"),
		Path:     path,
		Category: category,
		Severity: category.Severity(),
		Status:   guardtypes.StatusOpen,
	}
}

func TestReconcileLedger(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t1.Add(time.Hour)

	envFile := finding(".env", guardtypes.CategoryEnvironmentFile)
	logFile := finding("app.log", guardtypes.CategoryLogFile)

	// First scan sees both.
	ledger := scanner.ReconcileLedger(nil, guardtypes.NewAssessmentResult(
		[]guardtypes.Finding{envFile, logFile}, nil, nil, 2), t0)
	require.Len(t, ledger, 2)
	for _, e := range ledger {
		assert.Equal(t, t0, e.FirstSeen)
		assert.Nil(t, e.ResolvedAt)
	}

	// Second scan: the log is gone, the env file keeps its first-seen time.
	ledger = scanner.ReconcileLedger(ledger, guardtypes.NewAssessmentResult(
		[]guardtypes.Finding{envFile}, nil, nil, 1), t1)
	require.Len(t, ledger, 2)
	assert.Equal(t, ".env", ledger[0].Finding.Path)
	assert.Equal(t, t0, ledger[0].FirstSeen)
	assert.Equal(t, "app.log", ledger[1].Finding.Path)
	assert.Equal(t, guardtypes.StatusResolved, ledger[1].Finding.Status)
	require.NotNil(t, ledger[1].ResolvedAt)
	assert.Equal(t, t1, *ledger[1].ResolvedAt)

	// Resolved entries are not edited by later scans that do not see them.
	again := scanner.ReconcileLedger(ledger, guardtypes.NewAssessmentResult(
		[]guardtypes.Finding{envFile}, nil, nil, 1), t2)
	assert.Equal(t, ledger, again)

	// Third scan: the log recurs. Its resolved entry stays and a fresh
	// reopened entry follows it.
	resolved := ledger[1]
	ledger = scanner.ReconcileLedger(ledger, guardtypes.NewAssessmentResult(
		[]guardtypes.Finding{envFile, logFile}, nil, nil, 2), t2)
	require.Len(t, ledger, 3)
	assert.Equal(t, resolved, ledger[1])
	assert.Equal(t, "app.log", ledger[2].Finding.Path)
	assert.True(t, ledger[2].Finding.Reopened)
	assert.Equal(t, guardtypes.StatusOpen, ledger[2].Finding.Status)
	assert.Equal(t, t2, ledger[2].FirstSeen)
	assert.Nil(t, ledger[2].ResolvedAt)

	// Later scans carry the reopened entry forward without adding another.
	t3 := t2.Add(time.Hour)
	again = scanner.ReconcileLedger(ledger, guardtypes.NewAssessmentResult(
		[]guardtypes.Finding{envFile, logFile}, nil, nil, 2), t3)
	assert.Equal(t, ledger, again)

	// A second disappearance resolves the reopened entry and keeps both.
	ledger = scanner.ReconcileLedger(ledger, guardtypes.NewAssessmentResult(
		[]guardtypes.Finding{envFile}, nil, nil, 1), t3)
	require.Len(t, ledger, 3)
	assert.Equal(t, resolved, ledger[1])
	require.NotNil(t, ledger[2].ResolvedAt)
	assert.Equal(t, t3, *ledger[2].ResolvedAt)
	assert.True(t, ledger[2].Finding.Reopened)
}

func TestReconcileLedger_SuppressedKeepsHistory(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := finding("app.log", guardtypes.CategoryLogFile)
	ledger := scanner.ReconcileLedger(nil, guardtypes.NewAssessmentResult([]guardtypes.Finding{f}, nil, nil, 1), t0)

	approved := f
	approved.Status = guardtypes.StatusUserIgnored
	ledger = scanner.ReconcileLedger(ledger, guardtypes.NewAssessmentResult(nil, []guardtypes.Finding{approved}, nil, 1), t0.Add(time.Minute))
	require.Len(t, ledger, 1)
	assert.Equal(t, guardtypes.StatusUserIgnored, ledger[0].Finding.Status)
	assert.Equal(t, t0, ledger[0].FirstSeen)
	assert.Nil(t, ledger[0].ResolvedAt)
}
