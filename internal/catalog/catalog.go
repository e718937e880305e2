// Package catalog maps file names, paths and contents to risk categories.
// The detection table is data: a YAML document embedded in the binary,
// optionally extended with project rules. Classification is pure and never
// touches the filesystem.
package catalog

import (
	"bytes"
	"fmt"
	"math"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/isseis/go-gitup-guard/internal/guardtypes"
	"github.com/isseis/go-gitup-guard/internal/redaction"
	"github.com/joho/godotenv"
)

// Default thresholds.
const (
	DefaultMaxContentBytes int64 = 1 << 20
	DefaultLargeFileBytes  int64 = 10 << 20
)

// Options tunes a Catalog.
type Options struct {
	MaxContentBytes int64
	LargeFileBytes  int64
	// Extra rules are appended after the built-in table.
	Extra []RuleSpec
	// Table replaces the built-in YAML table when non-nil.
	Table []byte
}

// Sample is everything the catalog may inspect about one file.
type Sample struct {
	// Path is project-relative and slash-separated.
	Path      string
	Size      int64
	IsSymlink bool
	// Content is the full file when it was read, nil otherwise.
	Content []byte
	// Head is a leading sample used for binary sniffing of large files.
	Head []byte
}

// CandidateMatch is one rule hit before resolution into a Finding.
type CandidateMatch struct {
	Rule     string
	Category guardtypes.RiskCategory
	Severity guardtypes.Severity
	Detail   guardtypes.MatchDetail
	// Secret is the matched substring of content matches. It is never persisted.
	Secret string
	// Order is the rule's position in the table.
	Order int
}

// Catalog is an immutable compiled detection table.
type Catalog struct {
	rules           []*rule
	placeholders    []*regexp.Regexp
	sniffBytes      int
	maxMatches      int
	excerptMaxRunes int
	maxContentBytes int64
	largeFileBytes  int64
}

// New compiles the detection table.
func New(opts Options) (*Catalog, error) {
	data := opts.Table
	if data == nil {
		data = builtinTable
	}
	tf, err := parseTable(data)
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		sniffBytes:      tf.BinarySniffBytes,
		maxMatches:      tf.MaxMatchesPerRule,
		excerptMaxRunes: tf.ExcerptMaxRunes,
		maxContentBytes: opts.MaxContentBytes,
		largeFileBytes:  opts.LargeFileBytes,
	}
	if c.sniffBytes <= 0 {
		c.sniffBytes = 8000
	}
	if c.maxMatches <= 0 {
		c.maxMatches = 20
	}
	if c.maxContentBytes <= 0 {
		c.maxContentBytes = DefaultMaxContentBytes
	}
	if c.largeFileBytes <= 0 {
		c.largeFileBytes = DefaultLargeFileBytes
	}
	for _, expr := range tf.Placeholders {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: placeholder %q: %v", ErrInvalidTable, expr, err)
		}
		c.placeholders = append(c.placeholders, re)
	}

	seen := map[string]struct{}{}
	specs := append(append([]RuleSpec(nil), tf.Rules...), opts.Extra...)
	for i, spec := range specs {
		if _, dup := seen[spec.Name]; dup {
			return nil, &RuleError{Rule: spec.Name, Err: ErrDuplicateRule}
		}
		seen[spec.Name] = struct{}{}
		r, err := compileRule(i, spec)
		if err != nil {
			return nil, err
		}
		c.rules = append(c.rules, r)
	}
	return c, nil
}

// MaxContentBytes is the largest file whose content is inspected.
func (c *Catalog) MaxContentBytes() int64 { return c.maxContentBytes }

// LargeFileBytes is the size above which a binary is reported.
func (c *Catalog) LargeFileBytes() int64 { return c.largeFileBytes }

// SniffBytes is the head size needed for binary detection.
func (c *Catalog) SniffBytes() int { return c.sniffBytes }

// RuleNames returns rule names in evaluation order.
func (c *Catalog) RuleNames() []string {
	out := make([]string, len(c.rules))
	for i, r := range c.rules {
		out[i] = r.name
	}
	return out
}

// SeverityOf returns the fixed severity of a category.
func SeverityOf(category guardtypes.RiskCategory) guardtypes.Severity {
	return category.Severity()
}

// Classify returns every rule that matches the sample. Symlinks are matched
// by name and path only.
func (c *Catalog) Classify(s Sample) []CandidateMatch {
	var out []CandidateMatch
	base := path.Base(s.Path)
	slashPath := "/" + strings.TrimPrefix(s.Path, "/")
	dirs := dirSegments(s.Path)

	inspectContent := !s.IsSymlink && s.Content != nil && int64(len(s.Content)) <= c.maxContentBytes && s.Size <= c.maxContentBytes
	binary := !s.IsSymlink && isBinary(c.head(s))

	for _, r := range c.rules {
		if matchAny(r.excludeNames, base) != "" {
			continue
		}
		if r.largeFile {
			if m, ok := c.matchLarge(r, s, base, binary); ok {
				out = append(out, m)
			}
			continue
		}
		if g := matchAny(r.names, base); g != "" {
			out = append(out, c.candidate(r, guardtypes.MatchDetail{Kind: guardtypes.MatchKindName, Pattern: r.name, Note: "name matches " + g}, "", s))
			continue
		}
		if g := matchAny(r.paths, slashPath); g != "" {
			out = append(out, c.candidate(r, guardtypes.MatchDetail{Kind: guardtypes.MatchKindPath, Pattern: r.name, Note: "path matches " + g}, "", s))
			continue
		}
		if seg := r.matchSegment(dirs); seg != "" {
			out = append(out, c.candidate(r, guardtypes.MatchDetail{Kind: guardtypes.MatchKindPath, Pattern: r.name, Note: "inside " + seg + "/"}, "", s))
			continue
		}
		if inspectContent && !binary && len(r.content) > 0 {
			out = append(out, c.matchContent(r, s.Content)...)
		}
	}
	return out
}

func (c *Catalog) head(s Sample) []byte {
	h := s.Head
	if h == nil {
		h = s.Content
	}
	if len(h) > c.sniffBytes {
		h = h[:c.sniffBytes]
	}
	return h
}

func (c *Catalog) matchLarge(r *rule, s Sample, base string, binary bool) (CandidateMatch, bool) {
	if s.IsSymlink || s.Size <= c.largeFileBytes {
		return CandidateMatch{}, false
	}
	g := matchAny(r.names, base)
	if !binary && g == "" {
		return CandidateMatch{}, false
	}
	note := fmt.Sprintf("%d bytes exceeds %d", s.Size, c.largeFileBytes)
	if g != "" {
		note += ", name matches " + g
	}
	return c.candidate(r, guardtypes.MatchDetail{Kind: guardtypes.MatchKindSize, Pattern: r.name, Note: note}, "", s), true
}

func (c *Catalog) candidate(r *rule, d guardtypes.MatchDetail, secret string, s Sample) CandidateMatch {
	if r.envNames && s.Content != nil && !s.IsSymlink {
		if names := envVariableNames(s.Content); len(names) > 0 {
			d.Note += "; defines " + strings.Join(names, ", ")
		}
	}
	return CandidateMatch{
		Rule:     r.name,
		Category: r.category,
		Severity: r.category.Severity(),
		Detail:   d,
		Secret:   secret,
		Order:    r.order,
	}
}

func (c *Catalog) matchContent(r *rule, content []byte) []CandidateMatch {
	var out []CandidateMatch
	lines := bytes.Split(content, []byte("\n"))
	for i, raw := range lines {
		if len(out) >= c.maxMatches {
			break
		}
		line := string(bytes.TrimRight(raw, "\r"))
		for _, re := range r.content {
			secret, ok := c.findSecret(r, re, line)
			if !ok {
				continue
			}
			d := guardtypes.MatchDetail{
				Kind:    guardtypes.MatchKindContent,
				Pattern: r.name,
				Line:    i + 1,
				Excerpt: redaction.MaskInLine(line, secret, c.excerptMaxRunes),
			}
			out = append(out, c.candidate(r, d, secret, Sample{}))
			break
		}
	}
	return out
}

// findSecret returns the first acceptable secret for re in line.
func (c *Catalog) findSecret(r *rule, re *regexp.Regexp, line string) (string, bool) {
	for _, m := range re.FindAllStringSubmatch(line, -1) {
		secret := m[0]
		if len(m) > 1 && m[1] != "" {
			secret = m[1]
		}
		if len(secret) < r.minSecretLength {
			continue
		}
		if r.minEntropy > 0 && ShannonEntropy(secret) < r.minEntropy {
			continue
		}
		if c.isPlaceholder(secret) {
			continue
		}
		return secret, true
	}
	return "", false
}

func (c *Catalog) isPlaceholder(v string) bool {
	for _, re := range c.placeholders {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}

func (r *rule) matchSegment(dirs []string) string {
	for _, d := range dirs {
		if _, ok := r.segments[foldSegment(d)]; ok {
			return d
		}
	}
	return ""
}

func matchAny(globs []namedGlob, s string) string {
	for _, g := range globs {
		if g.g.Match(s) {
			return g.text
		}
	}
	return ""
}

func dirSegments(p string) []string {
	dir := path.Dir(strings.TrimPrefix(p, "/"))
	if dir == "." || dir == "/" {
		return nil
	}
	return strings.Split(dir, "/")
}

func foldSegment(s string) string {
	return strings.ToLower(strings.Trim(s, "/"))
}

// isBinary applies the usual NUL-byte heuristic to a head sample.
func isBinary(head []byte) bool {
	return bytes.IndexByte(head, 0) >= 0
}

// IsBinary reports whether a head sample looks like binary data.
func IsBinary(head []byte) bool { return isBinary(head) }

// ShannonEntropy returns the entropy of s in bits per character.
func ShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := map[rune]int{}
	n := 0
	for _, r := range s {
		freq[r]++
		n++
	}
	var h float64
	for _, count := range freq {
		p := float64(count) / float64(n)
		h -= p * math.Log2(p)
	}
	return h
}

// envVariableNames lists the variables a dotenv file defines, never values.
func envVariableNames(content []byte) []string {
	vars, err := godotenv.Parse(bytes.NewReader(content))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
