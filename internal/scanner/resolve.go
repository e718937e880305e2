package scanner

import (
	"sort"
	"strings"

	"github.com/isseis/go-gitup-guard/internal/catalog"
	"github.com/isseis/go-gitup-guard/internal/guardtypes"
	"github.com/isseis/go-gitup-guard/internal/ignore"
)

// commentPrefixes mark a line as commented out in common source and config formats.
var commentPrefixes = []string{"#", "//", "--", ";", "/*", "*", "<!--"}

// IsCommentedLine reports whether a source line is a comment.
func IsCommentedLine(line string) bool {
	t := strings.TrimSpace(line)
	for _, p := range commentPrefixes {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	upper := strings.ToUpper(t)
	return upper == "REM" || strings.HasPrefix(upper, "REM ")
}

// dropCommented removes content secrets whose line is commented out or whose
// matched text is not on that line any more.
func dropCommented(cands []catalog.CandidateMatch, content []byte) []catalog.CandidateMatch {
	if len(cands) == 0 {
		return cands
	}
	out := cands[:0:0]
	for _, c := range cands {
		if c.Detail.Kind == guardtypes.MatchKindContent && c.Category.IsContentSecret() {
			line := lineAt(content, c.Detail.Line)
			if IsCommentedLine(line) || !strings.Contains(line, c.Secret) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// better reports whether a should represent the path instead of b.
func better(a, b catalog.CandidateMatch) bool {
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	ac, bc := a.Detail.Kind == guardtypes.MatchKindContent, b.Detail.Kind == guardtypes.MatchKindContent
	if ac != bc {
		return ac
	}
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.Detail.Line < b.Detail.Line
}

// resolve folds every candidate of one path into a single open finding. The
// winner is the most severe match; other categories are kept as related.
func resolve(path string, cands []catalog.CandidateMatch) (guardtypes.Finding, bool) {
	if len(cands) == 0 {
		return guardtypes.Finding{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if better(c, best) {
			best = c
		}
	}

	seen := map[guardtypes.RiskCategory]struct{}{best.Category: {}}
	var related []guardtypes.RiskCategory
	for _, c := range cands {
		if _, ok := seen[c.Category]; ok {
			continue
		}
		seen[c.Category] = struct{}{}
		related = append(related, c.Category)
	}
	sort.Slice(related, func(i, j int) bool {
		ri, rj := related[i].Severity().Rank(), related[j].Severity().Rank()
		if ri != rj {
			return ri > rj
		}
		return related[i] < related[j]
	})

	f := guardtypes.Finding{
		ID:                guardtypes.FindingID(path, best.Category, best.Rule),
		Path:              path,
		Category:          best.Category,
		Severity:          best.Severity,
		Match:             best.Detail,
		RelatedCategories: related,
		Status:            guardtypes.StatusOpen,
	}
	if best.Secret != "" {
		f.MatchDigest = guardtypes.Digest(best.Secret)
	}
	return f, true
}

// matchDecision finds a suppressing decision for path. An exact path key wins
// over pattern keys; pattern keys are tried in sorted order.
func matchDecision(decisions map[string]guardtypes.DecisionRecord, path string) (guardtypes.DecisionRecord, bool) {
	if rec, ok := decisions[path]; ok && rec.Decision.Suppresses() {
		return rec, true
	}
	keys := make([]string, 0, len(decisions))
	for k := range decisions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rec := decisions[k]
		if !rec.Decision.Suppresses() {
			continue
		}
		if rec.Pattern != "" && ignore.PatternMatches(rec.Pattern, path) {
			return rec, true
		}
		if looksLikePattern(k) && ignore.PatternMatches(k, path) {
			return rec, true
		}
	}
	return guardtypes.DecisionRecord{}, false
}

func looksLikePattern(key string) bool {
	return strings.ContainsAny(key, "*?[") || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/")
}

func statusFor(d guardtypes.DecisionKind) guardtypes.FindingStatus {
	if d == guardtypes.DecisionSafe {
		return guardtypes.StatusUserApproved
	}
	return guardtypes.StatusUserIgnored
}
