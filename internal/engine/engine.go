// Package engine runs a complete fix review over a set of findings.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sprite-ai/fixrev/internal/ai"
	"github.com/sprite-ai/fixrev/internal/config"
	"github.com/sprite-ai/fixrev/internal/cost"
	"github.com/sprite-ai/fixrev/internal/diff"
	"github.com/sprite-ai/fixrev/internal/dispatch"
	"github.com/sprite-ai/fixrev/internal/group"
	"github.com/sprite-ai/fixrev/internal/metrics"
	"github.com/sprite-ai/fixrev/internal/model"
	"github.com/sprite-ai/fixrev/internal/review"
	"github.com/sprite-ai/fixrev/internal/summary"
	"github.com/sprite-ai/fixrev/internal/validate"
	"github.com/sprite-ai/fixrev/internal/workspace"
)

// ErrDisabled degrades a run when [ai] enabled is false.
var ErrDisabled = errors.New("AI is disabled in configuration")

// Options selects the stages of a run.
type Options struct {
	// Fix requests, reviews and applies fixes.
	Fix bool
	// Summarize adds pre-run and post-run summaries.
	Summarize bool
}

// Report is the result of a run.
type Report struct {
	RunID       string              `json:"run_id"`
	Findings    []model.Finding     `json:"findings"`
	Groups      []*model.PatchGroup `json:"groups"`
	Deferred    []*model.PatchGroup `json:"deferred,omitempty"`
	Counts      review.Counts       `json:"counts"`
	PreSummary  *model.Summary      `json:"pre_summary,omitempty"`
	PostSummary *model.Summary      `json:"post_summary,omitempty"`
	Cost        *cost.Totals        `json:"cost,omitempty"`
	Notice      string              `json:"notice,omitempty"`
	Elapsed     time.Duration       `json:"elapsed_ns"`
}

// Engine holds everything a run shares: configuration, the provider, and
// the ledger and health that every provider caller writes to.
type Engine struct {
	Config   config.Config
	Root     workspace.Root
	Provider ai.Provider
	Ledger   *cost.Ledger
	Health   *ai.Health
	Metrics  *metrics.Metrics
	// Runner re-runs tools for validation. Validation is off when nil.
	Runner ToolRunner
	Logger *slog.Logger
	// Sleep overrides retry backoff, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ToolRunner is the validation runner used by the engine.
type ToolRunner = validate.ToolRunner

// New builds an engine from configuration. A disabled or misconfigured
// provider degrades the engine rather than failing.
func New(cfg config.Config, root workspace.Root, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		Config:  cfg,
		Root:    root,
		Ledger:  cost.NewLedger(m),
		Health:  &ai.Health{},
		Metrics: m,
		Logger:  logger,
	}
	if len(cfg.Tools) > 0 {
		e.Runner = validate.ExecRunner{
			Root:    root,
			Tools:   cfg.Tools,
			Timeout: time.Duration(cfg.AI.APITimeout) * time.Second,
		}
	}

	if !cfg.AI.Enabled {
		e.Health.Degrade(ErrDisabled)
		return e
	}
	p, err := ai.New(cfg.AI)
	if err != nil {
		e.Health.Degrade(err)
		return e
	}
	e.Provider = p
	return e
}

// Available reports whether provider calls can be made.
func (e *Engine) Available() bool {
	return e.Provider != nil && !e.Health.Degraded()
}

func groupOptions(cfg config.Group) group.Options {
	return group.Options{
		ProximityWindow:   cfg.ProximityWindow,
		SystemicThreshold: cfg.SystemicThreshold,
		MaxGroupSize:      cfg.MaxGroupSize,
	}
}

// Plan groups findings and applies the max_fix_issues budget.
func (e *Engine) Plan(findings []model.Finding) (kept, deferred []*model.PatchGroup) {
	groups := group.Group(findings, groupOptions(e.Config.Group))
	return group.Cap(groups, e.Config.AI.MaxFixIssues)
}

// Composer returns a summary composer bound to the engine's provider.
func (e *Engine) Composer() *summary.Composer {
	return &summary.Composer{
		Provider: e.Provider,
		Ledger:   e.Ledger,
		Health:   e.Health,
		Policy:   ai.PolicyFromConfig(e.Config.AI),
		Rel:      e.Root.Rel,
		Metrics:  e.Metrics,
		Sleep:    e.Sleep,
		Logger:   e.Logger,
	}
}

// Dispatcher returns a fix dispatcher bound to the engine's provider.
func (e *Engine) Dispatcher() *dispatch.Dispatcher {
	d := dispatch.New(e.Provider, e.Root, e.Ledger, e.Health, dispatch.OptionsFromConfig(e.Config.AI))
	d.Metrics = e.Metrics
	d.Sleep = e.Sleep
	d.Logger = e.Logger
	return d
}

// NewSession returns a review session over fetched groups. baseline is the
// run's full finding list, used to spot issues a fix introduces.
func (e *Engine) NewSession(groups []*model.PatchGroup, baseline []model.Finding) *review.Session {
	opts := review.Options{
		Applier:            &diff.Applier{Root: e.Root, Logger: e.Logger},
		ValidateAfterGroup: e.Config.AI.ValidateAfterGroup,
		MaxFixIssues:       e.Config.AI.MaxFixIssues,
		Logger:             e.Logger,
	}
	if e.Runner != nil {
		opts.Validator = &validate.Validator{Runner: e.Runner, Root: e.Root, Baseline: baseline, Logger: e.Logger}
	}
	return review.NewSession(groups, opts)
}

// DefaultDriver returns the non-interactive driver implied by the
// configuration.
func (e *Engine) DefaultDriver() review.Driver {
	return review.PolicyDriver{
		AcceptAll:  e.Config.AI.AutoApply,
		AcceptSafe: e.Config.AI.AutoApplySafeFixes,
	}
}

// Run executes one review. Provider failures degrade the report instead of
// returning an error; only driver failures and cancellation are errors.
func (e *Engine) Run(ctx context.Context, findings []model.Finding, driver review.Driver, opts Options) (*Report, error) {
	start := time.Now()
	report := &Report{
		RunID:    uuid.NewString(),
		Findings: findings,
		Groups:   []*model.PatchGroup{},
	}
	logger := e.Logger.With("run", report.RunID)
	logger.Info("run started", "findings", len(findings), "fix", opts.Fix, "summarize", opts.Summarize)

	if opts.Summarize && e.Available() {
		report.PreSummary = e.summarize(ctx, logger, func(c *summary.Composer) (*model.Summary, error) {
			return c.Pre(ctx, findings)
		})
	}

	if opts.Fix {
		kept, deferred := e.Plan(findings)
		report.Groups = kept
		report.Deferred = deferred
		if len(deferred) > 0 {
			logger.Info("fix budget reached", "groups", len(kept), "deferred", len(deferred),
				"max_fix_issues", e.Config.AI.MaxFixIssues)
		}

		if e.Available() && len(kept) > 0 {
			e.Dispatcher().Fetch(ctx, kept)
			session := e.NewSession(kept, findings)
			if driver == nil {
				driver = e.DefaultDriver()
			}
			if err := driver.Drive(ctx, session); err != nil {
				return report, fmt.Errorf("reviewing fixes: %w", err)
			}
			report.Counts = session.Counts()
		} else {
			report.Counts = review.Tally(kept, nil)
		}
		for _, g := range kept {
			e.Metrics.ObserveGroup(g.State)
		}

		if opts.Summarize && e.Available() {
			remaining := Remaining(findings, kept)
			outcome := summary.Outcome{
				Accepted: report.Counts.Accepted,
				Rejected: report.Counts.Rejected,
				Skipped:  report.Counts.Skipped,
				Applied:  report.Counts.Applied,
			}
			report.PostSummary = e.summarize(ctx, logger, func(c *summary.Composer) (*model.Summary, error) {
				return c.Post(ctx, remaining, outcome)
			})
		}
	}

	if e.Config.AI.ShowCostEstimate && e.Provider != nil {
		totals := e.Ledger.Snapshot()
		report.Cost = &totals
	}
	if e.Health.Degraded() {
		report.Notice = e.Health.Notice()
		e.Metrics.ObserveDegraded()
		logger.Warn("run degraded", "notice", report.Notice)
	}
	report.Elapsed = time.Since(start)
	logger.Info("run finished",
		"groups", len(report.Groups), "applied", report.Counts.Applied, "elapsed", report.Elapsed)
	return report, nil
}

func (e *Engine) summarize(ctx context.Context, logger *slog.Logger, fn func(*summary.Composer) (*model.Summary, error)) *model.Summary {
	s, err := fn(e.Composer())
	if err != nil && !errors.Is(err, summary.ErrUnavailable) && ctx.Err() == nil {
		logger.Warn("summary skipped", "err", err)
	}
	return s
}

// Remaining returns the findings not resolved by a landed group. Findings
// of groups that failed validation are kept.
func Remaining(findings []model.Finding, groups []*model.PatchGroup) []model.Finding {
	fixed := make(map[model.Finding]int)
	for _, g := range groups {
		if g.State != model.StateApplied && g.State != model.StateValidated {
			continue
		}
		for _, f := range g.Findings {
			fixed[f]++
		}
	}
	var out []model.Finding
	for _, f := range findings {
		if fixed[f] > 0 {
			fixed[f]--
			continue
		}
		out = append(out, f)
	}
	return out
}
