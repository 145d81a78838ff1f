package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/sprite-ai/fixrev/internal/engine"
	"github.com/sprite-ai/fixrev/internal/review"
	"github.com/sprite-ai/fixrev/internal/tui"
)

var reviewCmd = &cobra.Command{
	Use:   "review [findings.json]",
	Short: "Review AI fixes for a set of findings",
	Long: `Group findings, fetch a proposed fix per group and review them.
Findings are read as JSON (an array, or an object with a "findings" key)
from the named file or from stdin.

Interactive reviews open a terminal UI. When stdin or stdout is not a
terminal, or --json is given, the auto_apply settings decide instead.

Examples:
  fixrev review findings.json --fix
  ruff-to-json | fixrev review --fix --summary --json
  fixrev review findings.json --fix --keys y,r,s`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().Bool("fix", false, "request, review and apply fixes (default from [ai] default_fix)")
	reviewCmd.Flags().Bool("summary", false, "add AI summaries before and after the review")
	reviewCmd.Flags().StringSlice("keys", nil, "scripted review keys, one per group decision")
	reviewCmd.Flags().Bool("json", false, "print the report as JSON")
}

func runReview(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadSetup(cmd)
	if err != nil {
		return err
	}

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	findings, err := readFindings(cmd, name)
	if err != nil {
		return err
	}
	if len(findings) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No findings to review.")
		return nil
	}

	opts := engine.Options{Fix: cfg.AI.DefaultFix}
	if cmd.Flags().Changed("fix") {
		opts.Fix, _ = cmd.Flags().GetBool("fix")
	}
	opts.Summarize, _ = cmd.Flags().GetBool("summary")
	asJSON, _ := cmd.Flags().GetBool("json")

	e := engine.New(cfg, root, nil, slog.Default())
	driver := chooseDriver(cmd, e, asJSON)

	report, err := e.Run(cmd.Context(), findings, driver, opts)
	if err != nil {
		return err
	}

	if asJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

// chooseDriver picks scripted keys, the terminal UI, or the configured
// auto-apply policy.
func chooseDriver(cmd *cobra.Command, e *engine.Engine, asJSON bool) review.Driver {
	if keys, _ := cmd.Flags().GetStringSlice("keys"); len(keys) > 0 {
		return review.ScriptDriver{Keys: keys, Out: cmd.ErrOrStderr()}
	}
	if asJSON || !isTerminal(os.Stdin) || !isTerminal(os.Stdout) {
		return e.DefaultDriver()
	}
	return tui.Driver{}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func printReport(w io.Writer, r *engine.Report) {
	c := r.Counts
	fmt.Fprintf(w, "%d finding(s), %d group(s)", len(r.Findings), len(r.Groups))
	if len(r.Deferred) > 0 {
		fmt.Fprintf(w, ", %d deferred", len(r.Deferred))
	}
	fmt.Fprintln(w)
	if len(r.Groups) > 0 {
		fmt.Fprintf(w, "  applied %d  validated %d  rejected %d  skipped %d  failed %d  unreviewed %d\n",
			c.Applied, c.Validated, c.Rejected, c.Skipped, c.ApplyFailed+c.ValidationFailed+c.FetchFailed, c.Unreviewed)
	}

	for _, g := range r.Groups {
		if g.Note != "" {
			fmt.Fprintf(w, "  %s %s: %s\n", g.ID, g.State, g.Note)
		}
	}
	if r.PreSummary != nil {
		fmt.Fprintf(w, "\nSummary: %s\n", r.PreSummary.Overview)
		for _, a := range r.PreSummary.PriorityActions {
			fmt.Fprintf(w, "  - %s\n", a)
		}
	}
	if r.PostSummary != nil {
		fmt.Fprintf(w, "\nAfter fixes: %s\n", r.PostSummary.Overview)
	}
	if r.Cost != nil {
		fmt.Fprintf(w, "\nAI usage: %s\n", r.Cost)
	}
	if r.Notice != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(r.Notice))
	}
}
