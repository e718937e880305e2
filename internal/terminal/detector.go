// Package terminal decides whether the process talks to a person, which
// selects between the interactive review prompter and plain line prompts,
// and whether styled output is appropriate.
package terminal

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ciEnvVars contains common CI environment variables
var ciEnvVars = []string{
	"CI",
	"CONTINUOUS_INTEGRATION",
	"GITHUB_ACTIONS",
	"GITLAB_CI",
	"JENKINS_URL",
	"BUILDKITE",
	"CIRCLECI",
	"TRAVIS",
	"TF_BUILD",
	"DRONE",
}

// Env abstracts environment lookups so detection can be tested without
// touching the process environment.
type Env interface {
	LookupEnv(key string) (string, bool)
}

// OSEnv reads the process environment.
type OSEnv struct{}

// LookupEnv implements Env.
func (OSEnv) LookupEnv(key string) (string, bool) { return os.LookupEnv(key) }

// MapEnv is an Env backed by a map.
type MapEnv map[string]string

// LookupEnv implements Env.
func (m MapEnv) LookupEnv(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func getenv(env Env, key string) string {
	v, _ := env.LookupEnv(key)
	return v
}

// DetectorOptions contains options for controlling interactive detection
type DetectorOptions struct {
	ForceInteractive    bool
	ForceNonInteractive bool
	// IsTerminal reports whether a file descriptor is a TTY. Defaults to term.IsTerminal.
	IsTerminal func(fd int) bool
}

// InteractiveDetector decides whether the session is interactive.
type InteractiveDetector struct {
	options DetectorOptions
	env     Env
}

// NewInteractiveDetector creates a new interactive detector with the given options
func NewInteractiveDetector(options DetectorOptions, env Env) *InteractiveDetector {
	if options.IsTerminal == nil {
		options.IsTerminal = term.IsTerminal
	}
	if env == nil {
		env = OSEnv{}
	}
	return &InteractiveDetector{options: options, env: env}
}

// IsInteractive applies, in order: explicit flags, CI detection, then TTY
// detection of stdin and stderr.
func (d *InteractiveDetector) IsInteractive() bool {
	if d.options.ForceInteractive {
		return true
	}
	if d.options.ForceNonInteractive {
		return false
	}
	if d.IsCIEnvironment() {
		return false
	}
	return d.IsTerminal()
}

// IsTerminal checks if stdin and stderr are connected to a terminal.
func (d *InteractiveDetector) IsTerminal() bool {
	return d.options.IsTerminal(int(os.Stdin.Fd())) && d.options.IsTerminal(int(os.Stderr.Fd()))
}

// IsCIEnvironment checks if the current environment is a CI/CD system
func (d *InteractiveDetector) IsCIEnvironment() bool {
	for _, envVar := range ciEnvVars {
		value, ok := d.env.LookupEnv(envVar)
		if !ok || value == "" {
			continue
		}
		// CI=false or CI=0 is not a CI environment
		if envVar == "CI" {
			return !isFalsy(value)
		}
		return true
	}
	return false
}

// isTruthy checks if a string value should be considered "true"
func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func isFalsy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "0", "false", "no":
		return true
	default:
		return false
	}
}
