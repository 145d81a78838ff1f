package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/sprite-ai/fixrev/internal/engine"
	"github.com/sprite-ai/fixrev/internal/model"
)

var summaryCmd = &cobra.Command{
	Use:   "summary [findings.json]",
	Short: "Summarize findings with the AI provider",
	Long: `Send a digest of the findings to the AI provider and print an
overview, key patterns and priority actions. Nothing is modified.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSummary,
}

func init() {
	summaryCmd.Flags().Bool("json", false, "print the summary as JSON")
}

func runSummary(cmd *cobra.Command, args []string) error {
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
		fmt.Fprintln(cmd.OutOrStdout(), "No findings to summarize.")
		return nil
	}

	e := engine.New(cfg, root, nil, slog.Default())
	if !e.Available() {
		fmt.Fprintln(cmd.ErrOrStderr(), e.Health.Notice())
		return nil
	}

	sum, err := e.Composer().Pre(cmd.Context(), findings)
	if err != nil {
		if e.Health.Degraded() {
			fmt.Fprintln(cmd.ErrOrStderr(), e.Health.Notice())
			return nil
		}
		return fmt.Errorf("summarizing findings: %w", err)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(cmd.OutOrStdout(), sum)
	}
	printSummary(cmd, sum)
	if cfg.AI.ShowCostEstimate {
		fmt.Fprintf(cmd.OutOrStdout(), "\nAI usage: %s\n", e.Ledger.Snapshot())
	}
	return nil
}

func printSummary(cmd *cobra.Command, s *model.Summary) {
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, s.Overview)
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(w, "\n%s:\n", title)
		for _, it := range items {
			fmt.Fprintf(w, "  - %s\n", it)
		}
	}
	section("Key patterns", s.KeyPatterns)
	section("Priority actions", s.PriorityActions)
	if s.EstimatedEffort != "" {
		fmt.Fprintf(w, "\nEstimated effort: %s\n", s.EstimatedEffort)
	}
}
