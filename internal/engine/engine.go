// Package engine assembles the compliance engine for one project root from
// its configuration.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/isseis/go-gitup-guard/internal/audit"
	"github.com/isseis/go-gitup-guard/internal/catalog"
	"github.com/isseis/go-gitup-guard/internal/config"
	"github.com/isseis/go-gitup-guard/internal/enforcer"
	"github.com/isseis/go-gitup-guard/internal/guardtypes"
	"github.com/isseis/go-gitup-guard/internal/ignore"
	"github.com/isseis/go-gitup-guard/internal/metrics"
	"github.com/isseis/go-gitup-guard/internal/project"
	"github.com/isseis/go-gitup-guard/internal/review"
	"github.com/isseis/go-gitup-guard/internal/scanner"
	"github.com/isseis/go-gitup-guard/internal/state"
	"github.com/isseis/go-gitup-guard/internal/vcs"
)

// Options controls how an Engine is opened.
type Options struct {
	Root string
	// Config is loaded from .gitup/config.toml when nil.
	Config *config.Config
	// VCS is detected from the root when nil.
	VCS    vcs.Adapter
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// Lookup reads environment overrides. Defaults to os.LookupEnv.
	Lookup config.LookupFunc
}

// Engine holds the wired components. Close releases the project lock.
type Engine struct {
	Handle     *project.Handle
	Config     *config.Config
	Catalog    *catalog.Catalog
	Store      *state.Store
	Reconciler *ignore.Reconciler
	Scanner    *scanner.Scanner
	Enforcer   *enforcer.Enforcer
	Metrics    *metrics.Recorder
	Audit      *audit.Logger

	logger *slog.Logger
}

// Open builds every component and takes the project lock.
func Open(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h, err := project.Open(opts.Root)
	if err != nil {
		return nil, err
	}

	cfg := opts.Config
	if cfg == nil {
		cfg, err = config.Load(h.ConfigPath(), opts.Lookup)
		if err != nil {
			return nil, err
		}
	}
	h = h.WithBaseline(cfg.Scan.BaselineFile)

	cat, err := catalog.New(catalog.Options{
		MaxContentBytes: cfg.Scan.MaxContentBytes,
		LargeFileBytes:  cfg.Scan.LargeFileBytes,
		Extra:           customRules(cfg.Scan.CustomRules),
	})
	if err != nil {
		return nil, fmt.Errorf("build pattern catalog: %w", err)
	}
	logger.Debug("pattern catalog loaded", "rules", cat.RuleNames(), "custom", len(cfg.Scan.CustomRules))

	adapter := opts.VCS
	if adapter == nil {
		adapter = vcs.Detect(h.Root(), logger)
	}
	auditLogger := audit.NewAuditLogger(logger)
	rec := metrics.New()

	store, err := state.Open(h, adapter, state.Options{Now: opts.Now, Audit: auditLogger, Logger: logger})
	if err != nil {
		return nil, err
	}
	reconciler := ignore.NewReconciler(h, logger)
	scan := scanner.New(cat, logger, scanner.Options{
		MaxContentBytes: cfg.Scan.MaxContentBytes,
		LargeFileBytes:  cfg.Scan.LargeFileBytes,
		Workers:         cfg.Scan.Workers,
		Metrics:         rec,
	})
	enf := enforcer.New(enforcer.Deps{
		Handle:     h,
		Store:      store,
		Reconciler: reconciler,
		Scanner:    scan,
		Audit:      auditLogger,
		Metrics:    rec,
		Logger:     logger,
		Policy: enforcer.Policy{
			AutoReviewDays: cfg.Policy.AutoReviewDays,
			EditReviewDays: cfg.Policy.EditReviewDays,
		},
	})

	return &Engine{
		Handle:     h,
		Config:     cfg,
		Catalog:    cat,
		Store:      store,
		Reconciler: reconciler,
		Scanner:    scan,
		Enforcer:   enf,
		Metrics:    rec,
		Audit:      auditLogger,
		logger:     logger,
	}, nil
}

// Close writes the metrics textfile when configured and releases the lock.
func (e *Engine) Close() error {
	var errs []error
	if path := e.Config.Metrics.Textfile; path != "" {
		if !filepath.IsAbs(path) {
			path = e.Handle.Abs(path)
		}
		if err := e.Metrics.WriteTextfile(path); err != nil {
			errs = append(errs, fmt.Errorf("write metrics textfile: %w", err))
		}
	}
	if err := e.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Initialize creates the compliance state. An empty level uses the configured default.
func (e *Engine) Initialize(ctx context.Context, level guardtypes.SecurityLevel) (*guardtypes.ProjectComplianceState, error) {
	if level == "" {
		level = e.Config.SecurityLevel()
	}
	st, err := e.Store.Initialize(ctx, level)
	if err != nil {
		return nil, err
	}
	// Mirror the baseline right away so users see the supplemental file.
	if _, _, err := e.Reconciler.Sync(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

// Review creates an interactive review session on top of the engine.
func (e *Engine) Review(p review.Prompter) *review.Session {
	return review.New(review.Deps{
		Enforcer: e.Enforcer,
		Store:    e.Store,
		Prompter: p,
		Metrics:  e.Metrics,
		Logger:   e.logger,
	})
}

// Status loads the current state without scanning.
func (e *Engine) Status(ctx context.Context) (*guardtypes.ProjectComplianceState, error) {
	return e.Store.Load(ctx)
}

func customRules(rules []config.CustomRule) []catalog.RuleSpec {
	if len(rules) == 0 {
		return nil
	}
	out := make([]catalog.RuleSpec, 0, len(rules))
	for _, r := range rules {
		out = append(out, catalog.RuleSpec{
			Name:     r.Name,
			Category: r.Category,
			Names:    r.Names,
			Paths:    r.Paths,
			Content:  r.Content,
		})
	}
	return out
}
