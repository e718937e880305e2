package scanner

import (
	"sort"
	"time"

	"github.com/isseis/go-gitup-guard/internal/guardtypes"
)

// ReconcileLedger merges a scan into the finding history. Findings that
// disappeared become resolved and are never edited again. A resolved finding
// that recurs keeps its resolved entry and gains a fresh open entry flagged
// as reopened.
func ReconcileLedger(previous []guardtypes.LedgerEntry, result *guardtypes.AssessmentResult, now time.Time) []guardtypes.LedgerEntry {
	current := make(map[string]guardtypes.Finding)
	var order []string
	if result != nil {
		for _, group := range [][]guardtypes.Finding{result.Findings, result.Suppressed} {
			for _, f := range group {
				if _, dup := current[f.ID]; !dup {
					order = append(order, f.ID)
				}
				current[f.ID] = f
			}
		}
	}

	unresolved := make(map[string]bool, len(previous))
	for _, prev := range previous {
		if prev.ResolvedAt == nil {
			unresolved[prev.Finding.ID] = true
		}
	}

	out := make([]guardtypes.LedgerEntry, 0, len(previous)+len(current))
	handled := make(map[string]struct{}, len(current))
	for _, prev := range previous {
		id := prev.Finding.ID
		f, present := current[id]
		_, done := handled[id]
		switch {
		case prev.ResolvedAt != nil:
			out = append(out, prev)
			if present && !done && !unresolved[id] {
				f.Reopened = true
				out = append(out, guardtypes.LedgerEntry{Finding: f, FirstSeen: now})
				handled[id] = struct{}{}
			}
		case present && !done:
			f.Reopened = prev.Finding.Reopened
			out = append(out, guardtypes.LedgerEntry{Finding: f, FirstSeen: prev.FirstSeen})
			handled[id] = struct{}{}
		case !present:
			resolvedAt := now
			gone := prev
			gone.Finding.Status = guardtypes.StatusResolved
			gone.ResolvedAt = &resolvedAt
			out = append(out, gone)
		}
	}
	for _, id := range order {
		if _, done := handled[id]; done {
			continue
		}
		out = append(out, guardtypes.LedgerEntry{Finding: current[id], FirstSeen: now})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Finding.Path != b.Finding.Path {
			return a.Finding.Path < b.Finding.Path
		}
		if a.Finding.Category != b.Finding.Category {
			return a.Finding.Category < b.Finding.Category
		}
		return a.FirstSeen.Before(b.FirstSeen)
	})
	return out
}
