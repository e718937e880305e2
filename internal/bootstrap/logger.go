// Package bootstrap wires process-wide concerns for the CLI.
package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/isseis/go-gitup-guard/internal/logging"
	"github.com/isseis/go-gitup-guard/internal/redaction"
	"github.com/isseis/go-gitup-guard/internal/terminal"
)

// maxRedactionFailures bounds the failures kept for the shutdown report.
const maxRedactionFailures = 1000

// LoggerConfig holds all configuration for logger setup.
type LoggerConfig struct {
	Level  slog.Level
	LogDir string
	// RunID defaults to a fresh UUID.
	RunID string
	// ConsoleWriter receives non-interactive output. Defaults to stderr.
	ConsoleWriter io.Writer
	// Env defaults to the process environment.
	Env              terminal.Env
	ForceInteractive bool
	ForceQuiet       bool
}

// Logging is the result of SetupLogger.
type Logging struct {
	Logger       *slog.Logger
	RunID        string
	LogPath      string
	Capabilities *terminal.Capabilities

	collector *redaction.InMemoryErrorCollector
	file      *os.File
}

// SetupLogger builds the handler chain: an interactive handler for a person
// at a terminal, a text handler otherwise, and an optional per-run JSON file.
// Everything passes through the redacting handler. The logger also becomes
// the slog default.
func SetupLogger(cfg LoggerConfig) (*Logging, error) {
	runID := cfg.RunID
	if runID == "" {
		runID = logging.GenerateRunID()
	}
	console := cfg.ConsoleWriter
	if console == nil {
		console = os.Stderr
	}
	caps := terminal.NewCapabilities(terminal.Options{
		DetectorOptions: terminal.DetectorOptions{
			ForceInteractive:    cfg.ForceInteractive,
			ForceNonInteractive: cfg.ForceQuiet,
		},
		Env: cfg.Env,
	})

	var handlers []slog.Handler
	if caps.IsInteractive() {
		ih, err := logging.NewInteractiveHandler(logging.InteractiveHandlerOptions{
			Level:     cfg.Level,
			Writer:    os.Stderr,
			Mode:      caps,
			Formatter: logging.NewMessageFormatter(os.Stderr),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create interactive handler: %w", err)
		}
		handlers = append(handlers, ih)
	}

	th, err := logging.NewConditionalTextHandler(logging.ConditionalTextHandlerOptions{
		Mode:               caps,
		TextHandlerOptions: &slog.HandlerOptions{Level: cfg.Level},
		Writer:             console,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create conditional text handler: %w", err)
	}
	handlers = append(handlers, th)

	l := &Logging{RunID: runID, Capabilities: caps}
	if cfg.LogDir != "" {
		f, path, err := logging.NewSafeFileOpener().OpenRunLog(cfg.LogDir, runID, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		hostname, _ := os.Hostname()
		jh := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: cfg.Level}).WithAttrs([]slog.Attr{
			slog.String("hostname", hostname),
			slog.Int("pid", os.Getpid()),
			slog.Int("schema_version", 1),
			slog.String("run_id", runID),
		})
		handlers = append(handlers, jh)
		l.file, l.LogPath = f, path
	}

	multi := logging.NewMultiHandler(handlers...)
	failureLogger := slog.New(multi)
	l.collector = redaction.NewInMemoryErrorCollector(maxRedactionFailures)
	l.Logger = slog.New(redaction.NewRedactingHandler(multi, nil, failureLogger).WithErrorCollector(l.collector))
	slog.SetDefault(l.Logger)

	l.Logger.Debug("logger initialized",
		"log_level", cfg.Level,
		"log_dir", cfg.LogDir,
		"run_id", runID,
		"interactive_mode", caps.IsInteractive(),
		"color_support", caps.SupportsColor(),
		"color_explicit", caps.HasExplicitUserPreference())
	return l, nil
}

// Close reports redaction failures to w and closes the run log.
func (l *Logging) Close(w io.Writer) error {
	if l == nil {
		return nil
	}
	var errs []error
	if w != nil {
		if err := l.collector.Report(w); err != nil {
			errs = append(errs, fmt.Errorf("report redaction failures: %w", err))
		}
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
		l.file = nil
	}
	return errors.Join(errs...)
}
