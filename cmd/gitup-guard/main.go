// Package main provides the gitup-guard command. It scans a project for
// risky files, gates version-control operations on the findings under the
// project's security level, and runs the interactive review that resolves them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/isseis/go-gitup-guard/internal/bootstrap"
	"github.com/isseis/go-gitup-guard/internal/cmdcommon"
	"github.com/isseis/go-gitup-guard/internal/config"
	"github.com/isseis/go-gitup-guard/internal/engine"
	"github.com/isseis/go-gitup-guard/internal/project"
	"github.com/isseis/go-gitup-guard/internal/report"
	"github.com/isseis/go-gitup-guard/internal/terminal"
	"github.com/isseis/go-gitup-guard/internal/vcs"
	"github.com/spf13/cobra"
)

// Error definitions
var (
	ErrInvalidLogLevel = errors.New("invalid log level")
	ErrReasonRequired  = errors.New("--reason is required")
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app carries global flags and the per-invocation wiring shared by commands.
type app struct {
	root        string
	logLevel    string
	logDir      string
	quiet       bool
	interactive bool
	noColor     bool

	stdin          io.Reader
	stdout, stderr io.Writer

	// Overridable in tests.
	env    terminal.Env
	lookup config.LookupFunc
	vcs    vcs.Adapter
	now    func() time.Time

	cfg     *config.Config
	logging *bootstrap.Logging
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return newApp(stdin, stdout, stderr).execute(ctx, args)
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr}
}

func (a *app) execute(ctx context.Context, args []string) int {
	cmd := a.rootCommand()
	cmd.SetArgs(args)
	cmd.SetIn(a.stdin)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	err := cmd.ExecuteContext(ctx)
	if cerr := a.logging.Close(a.stderr); cerr != nil {
		fmt.Fprintf(a.stderr, "Warning: %v\n", cerr)
	}
	if err != nil && !cmdcommon.Silent(err) {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
	}
	return cmdcommon.ExitCode(err)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "gitup-guard",
		Short: "Keep secrets and junk files out of version control",
		Long: `gitup-guard scans a project for risky files, blocks commits and pushes
that would publish them, and walks you through resolving what it finds.`,
		Version:           cmdcommon.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	f := root.PersistentFlags()
	f.StringVar(&a.root, "root", ".", "project root")
	f.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config.toml")
	f.StringVar(&a.logDir, "log-dir", "", "directory to place a per-run JSON log; overrides config.toml")
	f.BoolVar(&a.quiet, "quiet", false, "never prompt or use interactive output")
	f.BoolVar(&a.interactive, "interactive", false, "force interactive output")
	f.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	root.MarkFlagsMutuallyExclusive("quiet", "interactive")

	root.AddCommand(
		a.initCommand(),
		a.scanCommand(),
		a.reviewCommand(),
		a.authorizeCommand(),
		a.recordCommitCommand(),
		a.statusCommand(),
		a.levelCommand(),
		a.registerCommand(),
		a.purgeAuditCommand(),
		a.resetCommand(),
	)
	return root
}

// setup loads the project configuration and the logger before any command runs.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	h, err := project.Open(a.root)
	if err != nil {
		return err
	}
	cfg, err := config.Load(h.ConfigPath(), a.lookup)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.SlogLevel()
	if a.logLevel != "" {
		if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidLogLevel, a.logLevel)
		}
	}
	logDir := a.logDir
	if logDir == "" && cfg.Log.Dir != "" {
		logDir = cfg.Log.Dir
		if !filepath.IsAbs(logDir) {
			logDir = h.Abs(logDir)
		}
	}

	a.logging, err = bootstrap.SetupLogger(bootstrap.LoggerConfig{
		Level:            level,
		LogDir:           logDir,
		ConsoleWriter:    a.stderr,
		Env:              a.env,
		ForceInteractive: a.interactive,
		ForceQuiet:       a.quiet,
	})
	if err != nil {
		return err
	}
	slog.Debug("command starting", "command", cmd.CommandPath(), "root", h.Root())
	return nil
}

// openEngine takes the project lock. Callers must Close the engine.
func (a *app) openEngine() (*engine.Engine, error) {
	return engine.Open(engine.Options{
		Root:   a.root,
		Config: a.cfg,
		VCS:    a.vcs,
		Logger: a.logging.Logger,
		Now:    a.now,
		Lookup: a.lookup,
	})
}

// withEngine runs fn with an open engine and reports the close error when fn succeeded.
func (a *app) withEngine(fn func(e *engine.Engine) error) (err error) {
	e, err := a.openEngine()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); cerr != nil {
			if err == nil {
				err = cerr
			} else {
				slog.Warn("failed to close engine", "error", cerr)
			}
		}
	}()
	return fn(e)
}

func (a *app) color() bool {
	if a.noColor || a.logging == nil {
		return false
	}
	return a.logging.Capabilities.SupportsColor()
}

func (a *app) renderer() *report.Renderer {
	return report.NewRenderer(a.stdout, a.color())
}

func (a *app) isInteractive() bool {
	return a.logging != nil && a.logging.Capabilities.IsInteractive()
}
