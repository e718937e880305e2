package terminal

// PreferenceOptions contains command-line options for color output
type PreferenceOptions struct {
	ForceColor   bool
	DisableColor bool
}

// UserPreference resolves explicit color choices from flags and the
// CLICOLOR_FORCE / NO_COLOR conventions.
type UserPreference struct {
	options PreferenceOptions
	env     Env
}

// NewUserPreference creates a new UserPreference instance
func NewUserPreference(options PreferenceOptions, env Env) *UserPreference {
	if env == nil {
		env = OSEnv{}
	}
	return &UserPreference{options: options, env: env}
}

// Explicit returns the user's color choice and whether one was made.
// Flags win over CLICOLOR_FORCE, which wins over NO_COLOR (any value).
func (p *UserPreference) Explicit() (color bool, ok bool) {
	switch {
	case p.options.ForceColor:
		return true, true
	case p.options.DisableColor:
		return false, true
	}
	if isTruthy(getenv(p.env, "CLICOLOR_FORCE")) {
		return true, true
	}
	if _, exists := p.env.LookupEnv("NO_COLOR"); exists {
		return false, true
	}
	return false, false
}
