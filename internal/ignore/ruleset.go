package ignore

import (
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// alwaysIgnored covers the engine's own bookkeeping and VCS internals.
// These are appended last so no user pattern can negate them.
var alwaysIgnored = []string{".git/", ".gitup/"}

// securityKeywords flag baseline patterns that hide sensitive material.
var securityKeywords = []string{
	"secret", "key", "password", "token", "credential", "cert", "env", "config",
	"pem", "private", ".p12",
}

// IsSecurityRelevant reports whether pattern mentions a security keyword.
func IsSecurityRelevant(pattern string) bool {
	lower := strings.ToLower(pattern)
	for _, kw := range securityKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// RuleSet is the effective ignore configuration for one scan.
type RuleSet struct {
	baseline     []string
	supplemental []string
	matcher      *gitignore.GitIgnore
}

// NewRuleSet compiles baseline followed by supplemental patterns.
func NewRuleSet(baseline, supplemental []string) *RuleSet {
	lines := make([]string, 0, len(baseline)+len(supplemental)+len(alwaysIgnored))
	lines = append(lines, baseline...)
	lines = append(lines, supplemental...)
	lines = append(lines, alwaysIgnored...)
	return &RuleSet{
		baseline:     append([]string(nil), baseline...),
		supplemental: append([]string(nil), supplemental...),
		matcher:      gitignore.CompileIgnoreLines(lines...),
	}
}

// Baseline returns the patterns read from the user's ignore file.
func (r *RuleSet) Baseline() []string { return append([]string(nil), r.baseline...) }

// Supplemental returns the engine-managed patterns.
func (r *RuleSet) Supplemental() []string { return append([]string(nil), r.supplemental...) }

// IsEffectivelyIgnored applies gitignore semantics to a project-relative,
// slash-separated path. Later patterns override earlier ones.
func (r *RuleSet) IsEffectivelyIgnored(path string, isDir bool) bool {
	path = strings.TrimPrefix(path, "/")
	if path == "" || path == "." {
		return false
	}
	if isDir {
		return r.matcher.MatchesPath(path + "/")
	}
	return r.matcher.MatchesPath(path)
}

// PatternMatches reports whether a single gitignore pattern covers path.
func PatternMatches(pattern, path string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return false
	}
	return gitignore.CompileIgnoreLines(pattern).MatchesPath(strings.TrimPrefix(path, "/"))
}
