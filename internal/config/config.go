// Package config loads the per-project engine configuration from
// .gitup/config.toml and applies environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/isseis/go-gitup-guard/internal/guardtypes"
	"github.com/isseis/go-gitup-guard/internal/safefileio"
	"github.com/pelletier/go-toml/v2"
)

// Environment variables that override file settings.
const (
	EnvLogLevel      = "GITUP_GUARD_LOG_LEVEL"
	EnvSecurityLevel = "GITUP_GUARD_SECURITY_LEVEL"
)

// maxConfigSize bounds the configuration file read.
const maxConfigSize = 1 << 20

var (
	// ErrParseConfig is returned when config.toml is not valid TOML or has unknown keys.
	ErrParseConfig = errors.New("failed to parse config")

	// ErrInvalidConfig is returned when a setting is out of range.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config is the decoded config.toml.
type Config struct {
	Scan    ScanConfig    `toml:"scan"`
	Policy  PolicyConfig  `toml:"policy"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

// ScanConfig tunes the tree walk and content inspection.
type ScanConfig struct {
	MaxContentBytes int64        `toml:"max_content_bytes" validate:"gte=1024"`
	LargeFileBytes  int64        `toml:"large_file_bytes" validate:"gtefield=MaxContentBytes"`
	Workers         int          `toml:"workers" validate:"gte=1,lte=256"`
	BaselineFile    string       `toml:"baseline_file" validate:"required,excludes=.."`
	CustomRules     []CustomRule `toml:"custom_rules,omitempty" validate:"dive"`
}

// CustomRule adds project-specific detection on top of the built-in catalog.
type CustomRule struct {
	Name     string   `toml:"name" validate:"required"`
	Category string   `toml:"category" validate:"required,category"`
	Names    []string `toml:"names,omitempty"`
	Paths    []string `toml:"paths,omitempty"`
	Content  []string `toml:"content,omitempty"`
}

// PolicyConfig selects the enforcement level and review intervals.
type PolicyConfig struct {
	DefaultLevel   string `toml:"default_level" validate:"oneof=strict moderate relaxed"`
	AutoReviewDays int    `toml:"auto_review_days" validate:"gte=1,lte=3650"`
	EditReviewDays int    `toml:"edit_review_days" validate:"gte=1,lte=3650"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `toml:"level" validate:"oneof=debug info warn error"`
	Dir   string `toml:"dir,omitempty"`
}

// MetricsConfig enables the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `toml:"textfile,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			MaxContentBytes: 1 << 20,
			LargeFileBytes:  10 << 20,
			Workers:         4,
			BaselineFile:    ".gitignore",
		},
		Policy: PolicyConfig{
			DefaultLevel:   string(guardtypes.LevelModerate),
			AutoReviewDays: 30,
			EditReviewDays: 7,
		},
		Log: LogConfig{Level: "info"},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return guardtypes.RiskCategory(fl.Field().String()).Valid()
	})
	return v
}

// LookupFunc reads an environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads path, falling back to defaults when the file does not exist,
// then applies environment overrides and validates the result.
func Load(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()

	content, err := safefileio.SafeReadFile(path, maxConfigSize)
	switch {
	case err == nil:
		if err := decode(content, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("config file not found, using defaults", "file", path)
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	applyEnv(cfg, lookup)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(content []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("%w: %s", ErrParseConfig, strict.String())
		}
		return fmt.Errorf("%w: %v", ErrParseConfig, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup LookupFunc) {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvSecurityLevel); ok && v != "" {
		cfg.Policy.DefaultLevel = strings.ToLower(strings.TrimSpace(v))
	}
}

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s=%v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// SecurityLevel returns the configured default level.
func (c *Config) SecurityLevel() guardtypes.SecurityLevel {
	level, err := guardtypes.ParseSecurityLevel(c.Policy.DefaultLevel)
	if err != nil {
		return guardtypes.LevelModerate
	}
	return level
}

// SlogLevel converts the configured log level.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
