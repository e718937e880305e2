package catalog

import (
	_ "embed"
	"fmt"
	"regexp"

	"github.com/gobwas/glob"
	"github.com/isseis/go-gitup-guard/internal/guardtypes"
	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var builtinTable []byte

// tableFile is the YAML document layout.
type tableFile struct {
	Version           int        `yaml:"version"`
	BinarySniffBytes  int        `yaml:"binary_sniff_bytes"`
	MaxMatchesPerRule int        `yaml:"max_matches_per_rule"`
	ExcerptMaxRunes   int        `yaml:"excerpt_max_runes"`
	Placeholders      []string   `yaml:"placeholders"`
	Rules             []RuleSpec `yaml:"rules"`
}

// RuleSpec is the declarative form of one detection rule.
type RuleSpec struct {
	Name            string   `yaml:"name"`
	Category        string   `yaml:"category"`
	Names           []string `yaml:"names"`
	ExcludeNames    []string `yaml:"exclude_names"`
	Paths           []string `yaml:"paths"`
	Segments        []string `yaml:"segments"`
	Content         []string `yaml:"content"`
	MinSecretLength int      `yaml:"min_secret_length"`
	MinEntropy      float64  `yaml:"min_entropy"`
	LargeFile       bool     `yaml:"large_file"`
	EnvNames        bool     `yaml:"env_names"`
}

// namedGlob keeps the source text next to the compiled matcher.
type namedGlob struct {
	text string
	g    glob.Glob
}

type rule struct {
	order           int
	name            string
	category        guardtypes.RiskCategory
	names           []namedGlob
	excludeNames    []namedGlob
	paths           []namedGlob
	segments        map[string]struct{}
	content         []*regexp.Regexp
	minSecretLength int
	minEntropy      float64
	largeFile       bool
	envNames        bool
}

// RuleError reports an invalid rule in the detection table.
type RuleError struct {
	Rule string
	Err  error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("catalog rule %q: %v", e.Rule, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

func parseTable(data []byte) (*tableFile, error) {
	var tf tableFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if tf.Version != 1 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidTable, tf.Version)
	}
	if len(tf.Rules) == 0 {
		return nil, fmt.Errorf("%w: no rules", ErrInvalidTable)
	}
	return &tf, nil
}

func compileGlobs(patterns []string) ([]namedGlob, error) {
	out := make([]namedGlob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", p, err)
		}
		out = append(out, namedGlob{text: p, g: g})
	}
	return out, nil
}

func compileRule(order int, spec RuleSpec) (*rule, error) {
	fail := func(err error) (*rule, error) {
		return nil, &RuleError{Rule: spec.Name, Err: err}
	}
	if spec.Name == "" {
		return fail(ErrMissingRuleName)
	}
	category, err := guardtypes.ParseCategory(spec.Category)
	if err != nil {
		return fail(err)
	}
	r := &rule{
		order:           order,
		name:            spec.Name,
		category:        category,
		segments:        make(map[string]struct{}, len(spec.Segments)),
		minSecretLength: spec.MinSecretLength,
		minEntropy:      spec.MinEntropy,
		largeFile:       spec.LargeFile,
		envNames:        spec.EnvNames,
	}
	if r.names, err = compileGlobs(spec.Names); err != nil {
		return fail(err)
	}
	if r.excludeNames, err = compileGlobs(spec.ExcludeNames); err != nil {
		return fail(err)
	}
	if r.paths, err = compileGlobs(spec.Paths); err != nil {
		return fail(err)
	}
	for _, s := range spec.Segments {
		r.segments[foldSegment(s)] = struct{}{}
	}
	for _, expr := range spec.Content {
		re, err := regexp.Compile(expr)
		if err != nil {
			return fail(fmt.Errorf("regexp %q: %w", expr, err))
		}
		r.content = append(r.content, re)
	}
	if len(r.names) == 0 && len(r.paths) == 0 && len(r.segments) == 0 && len(r.content) == 0 && !r.largeFile {
		return fail(ErrEmptyRule)
	}
	return r, nil
}
