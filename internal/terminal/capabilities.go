package terminal

import "strings"

// colorTerminals lists TERM values (or prefixes) known to support colors.
var colorTerminals = []string{
	"xterm",
	"screen",
	"tmux",
	"rxvt",
	"vt100",
	"ansi",
	"linux",
	"alacritty",
	"wezterm",
	"putty",
}

// Options contains all terminal-related configuration options
type Options struct {
	PreferenceOptions PreferenceOptions
	DetectorOptions   DetectorOptions
	// Env defaults to the process environment.
	Env Env
}

// Capabilities combines interactive detection and color preference.
type Capabilities struct {
	detector   *InteractiveDetector
	preference *UserPreference
	env        Env
}

// NewCapabilities creates a new Capabilities instance with the given options
func NewCapabilities(options Options) *Capabilities {
	env := options.Env
	if env == nil {
		env = OSEnv{}
	}
	return &Capabilities{
		detector:   NewInteractiveDetector(options.DetectorOptions, env),
		preference: NewUserPreference(options.PreferenceOptions, env),
		env:        env,
	}
}

// IsInteractive returns true if the current environment should be treated as interactive
func (c *Capabilities) IsInteractive() bool {
	return c.detector.IsInteractive()
}

// SupportsColor applies explicit preferences first. Otherwise color needs an
// interactive session, a color-capable TERM and no CLICOLOR=0.
func (c *Capabilities) SupportsColor() bool {
	if color, ok := c.preference.Explicit(); ok {
		return color
	}
	if !c.IsInteractive() || !termSupportsColor(getenv(c.env, "TERM")) {
		return false
	}
	if cliColor := getenv(c.env, "CLICOLOR"); cliColor != "" {
		return isTruthy(cliColor)
	}
	return true
}

// HasExplicitUserPreference reports whether flags or environment fixed the color choice.
func (c *Capabilities) HasExplicitUserPreference() bool {
	_, ok := c.preference.Explicit()
	return ok
}

func termSupportsColor(termName string) bool {
	termName = strings.ToLower(strings.TrimSpace(termName))
	if termName == "" || termName == "dumb" {
		return false
	}
	for _, t := range colorTerminals {
		if termName == t || strings.HasPrefix(termName, t+"-") {
			return true
		}
	}
	return false
}
