package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/isseis/go-gitup-guard/internal/cmdcommon"
	"github.com/isseis/go-gitup-guard/internal/engine"
	"github.com/isseis/go-gitup-guard/internal/enforcer"
	"github.com/isseis/go-gitup-guard/internal/guardtypes"
	"github.com/isseis/go-gitup-guard/internal/report"
	"github.com/isseis/go-gitup-guard/internal/review"
	"github.com/isseis/go-gitup-guard/internal/state"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

func (a *app) initCommand() *cobra.Command {
	var level string
	var register []string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the compliance state for this project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var lvl guardtypes.SecurityLevel
			if level != "" {
				var err error
				if lvl, err = guardtypes.ParseSecurityLevel(level); err != nil {
					return err
				}
			}
			return a.withEngine(func(e *engine.Engine) error {
				st, err := e.Initialize(cmd.Context(), lvl)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "initialized %s at the %s level\n", e.Handle.StateDir(), st.SecurityLevel)
				if len(register) == 0 {
					return nil
				}
				added, err := e.Enforcer.Register(cmd.Context(), register, "registered during init")
				if err != nil {
					return err
				}
				printRegistered(a, added)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "security level (strict, moderate, relaxed); defaults to config.toml")
	cmd.Flags().StringSliceVar(&register, "register", nil, "generated paths to pre-register as ignored")
	return cmd
}

func (a *app) scanCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the project and record its compliance status",
		Long: `scan inspects every path that is not ignored and reports the findings
against the project's security level. It exits 2 unless the project is clean.
It is also the only command that clears a detected tool bypass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			return a.withEngine(func(e *engine.Engine) error {
				d, result, err := e.Enforcer.Scan(cmd.Context())
				if err != nil {
					return err
				}
				if f == report.FormatText {
					err = a.renderer().Assessment(result, d)
				} else {
					err = report.Encode(a.stdout, f, scanDocument{Assessment: result, Decision: d})
				}
				if err != nil {
					return err
				}
				if d.Status != guardtypes.ComplianceClean {
					return cmdcommon.Exit(cmdcommon.ExitNotCompliant, nil)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format (text, json, yaml)")
	return cmd
}

type scanDocument struct {
	Assessment *guardtypes.AssessmentResult `json:"assessment" yaml:"assessment"`
	Decision   enforcer.Decision            `json:"decision" yaml:"decision"`
}

func (a *app) reviewCommand() *cobra.Command {
	var plain, accessible, asJSON bool
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Walk through open findings and resolve them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var p review.Prompter
			if a.isInteractive() && !plain {
				p = review.NewFormPrompter(a.stdout, accessible)
			} else {
				p = review.NewLinePrompter(a.stdin, a.stdout)
			}
			return a.withEngine(func(e *engine.Engine) error {
				res, err := e.Review(p).Run(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					if err := report.Encode(a.stdout, report.FormatJSON, res); err != nil {
						return err
					}
				} else {
					printReviewResult(a, res)
				}
				if res.Status != review.StatusCompleted {
					return cmdcommon.Exit(cmdcommon.ExitNotCompliant, nil)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "use line prompts even on a terminal")
	cmd.Flags().BoolVar(&accessible, "accessible", false, "use screen-reader friendly forms")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the session result as JSON")
	return cmd
}

func printReviewResult(a *app, res review.Result) {
	switch res.Status {
	case review.StatusCompleted:
		fmt.Fprintf(a.stdout, "review completed: %d of %d finding(s) resolved\n", res.ResolvedCount, res.Total)
	default:
		fmt.Fprintf(a.stdout, "review cancelled (%s): %d of %d finding(s) resolved\n", res.Reason, res.ResolvedCount, res.Total)
	}
}

func (a *app) authorizeCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "authorize <operation>",
		Short: "Decide whether a commit or push may proceed",
		Long: `authorize scans the project and applies the security level to the
findings. It exits 0 when the operation may proceed and 3 when it is blocked.
Install it as a pre-commit or pre-push hook.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			op := enforcer.Operation(strings.TrimSpace(args[0]))
			if op == "" {
				return errors.New("operation name is empty")
			}
			return a.withEngine(func(e *engine.Engine) error {
				d, _, err := e.Enforcer.Gate(cmd.Context(), op)
				if err != nil {
					return err
				}
				if f == report.FormatText {
					err = a.renderer().Decision(d)
				} else {
					err = report.Encode(a.stdout, f, d)
				}
				if err != nil {
					return err
				}
				if !d.Allowed {
					return cmdcommon.Exit(cmdcommon.ExitBlocked, nil)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format (text, json, yaml)")
	return cmd
}

func (a *app) recordCommitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "record-commit",
		Short: "Record the commit produced by an authorized operation",
		Long: `record-commit belongs in a post-commit hook. It advances the observed
head so the commit is not later reported as a tool bypass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(func(e *engine.Engine) error {
				st, err := e.Store.RecordToolCommit(cmd.Context())
				if errors.Is(err, state.ErrNoPendingAuthorization) {
					fmt.Fprintln(a.stderr, "gitup-guard: no authorized operation precedes this commit; the next scan reports it as a bypass")
					return nil
				}
				if err != nil {
					return err
				}
				if st.LastToolCommit != "" {
					fmt.Fprintf(a.stdout, "recorded %s\n", st.LastToolCommit)
				}
				return nil
			})
		},
	}
}

func (a *app) statusCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted compliance state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			return a.withEngine(func(e *engine.Engine) error {
				st, err := e.Status(cmd.Context())
				if err != nil {
					return err
				}
				decisions, err := e.Store.Decisions()
				if err != nil {
					return err
				}
				trail, err := e.Store.AuditTrail()
				if err != nil {
					return err
				}
				v := report.NewStatusView(e.Handle.Root(), st, decisions, len(trail), e.Store.Now())
				if f == report.FormatText {
					return a.renderer().Status(v)
				}
				return report.Encode(a.stdout, f, v)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format (text, json, yaml)")
	return cmd
}

func (a *app) levelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "level [strict|moderate|relaxed]",
		Short: "Show or change the security level",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var lvl guardtypes.SecurityLevel
			if len(args) == 1 {
				var err error
				if lvl, err = guardtypes.ParseSecurityLevel(args[0]); err != nil {
					return err
				}
			}
			return a.withEngine(func(e *engine.Engine) error {
				st, err := e.Status(cmd.Context())
				if err != nil {
					return err
				}
				if lvl == "" {
					fmt.Fprintln(a.stdout, st.SecurityLevel)
					return nil
				}
				prev := st.SecurityLevel
				if err := e.Enforcer.SetLevel(st, lvl); err != nil {
					return err
				}
				if prev == lvl {
					fmt.Fprintf(a.stdout, "security level is already %s\n", lvl)
				} else {
					fmt.Fprintf(a.stdout, "security level changed from %s to %s\n", prev, lvl)
				}
				return nil
			})
		},
	}
}

func (a *app) registerCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "register <path>...",
		Short: "Pre-register generated paths as ignored",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(reason) == "" {
				return ErrReasonRequired
			}
			return a.withEngine(func(e *engine.Engine) error {
				if _, err := e.Status(cmd.Context()); err != nil {
					return err
				}
				added, err := e.Enforcer.Register(cmd.Context(), args, reason)
				if err != nil {
					return err
				}
				printRegistered(a, added)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why these paths are generated")
	return cmd
}

func printRegistered(a *app, added []string) {
	if len(added) == 0 {
		fmt.Fprintln(a.stdout, "all paths were already registered")
		return
	}
	for _, p := range added {
		fmt.Fprintf(a.stdout, "registered %s\n", p)
	}
}

func (a *app) purgeAuditCommand() *cobra.Command {
	var before, reason string
	cmd := &cobra.Command{
		Use:   "purge-audit",
		Short: "Archive audit entries older than a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cutoff, err := parseCutoff(before)
			if err != nil {
				return err
			}
			if strings.TrimSpace(reason) == "" {
				return ErrReasonRequired
			}
			return a.withEngine(func(e *engine.Engine) error {
				res, err := e.Store.PurgeAudit(cmd.Context(), cutoff, reason)
				if err != nil {
					return err
				}
				if res.Purged == 0 {
					fmt.Fprintln(a.stdout, "no audit entries to purge")
					return nil
				}
				fmt.Fprintf(a.stdout, "archived %d audit entries to %s\n", res.Purged, res.Archive)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "purge entries older than this date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&reason, "reason", "", "why the entries are purged")
	_ = cmd.MarkFlagRequired("before")
	return cmd
}

func parseCutoff(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --before %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t.UTC(), nil
}

func (a *app) resetCommand() *cobra.Command {
	var reason string
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Archive the audit trail and discard all compliance state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(reason) == "" {
				return ErrReasonRequired
			}
			if !yes {
				return errors.New("reset discards every recorded decision; pass --yes to confirm")
			}
			return a.withEngine(func(e *engine.Engine) error {
				archive, err := e.Store.Reset(cmd.Context(), reason)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, "compliance state removed; run `gitup-guard init` to start again")
				if archive != "" {
					fmt.Fprintf(a.stdout, "audit trail archived to %s\n", archive)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the state is reset")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
