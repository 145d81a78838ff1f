// Package dispatch fetches fixes for patch groups from an AI provider.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sprite-ai/fixrev/internal/ai"
	"github.com/sprite-ai/fixrev/internal/analysis"
	"github.com/sprite-ai/fixrev/internal/config"
	"github.com/sprite-ai/fixrev/internal/cost"
	"github.com/sprite-ai/fixrev/internal/fault"
	"github.com/sprite-ai/fixrev/internal/metrics"
	"github.com/sprite-ai/fixrev/internal/model"
	"github.com/sprite-ai/fixrev/internal/risk"
	"github.com/sprite-ai/fixrev/internal/workspace"
	"golang.org/x/sync/errgroup"
)

// MaxParallel is the upper bound on concurrent provider calls.
const MaxParallel = 20

// Options tunes a Dispatcher.
type Options struct {
	MaxParallel  int
	MaxTokens    int
	ContextLines int
	SearchRadius int
	// AutoApply disables the first-occurrence fallback when locating the
	// code a fix replaces.
	AutoApply bool
	Policy    ai.Policy
}

// OptionsFromConfig derives dispatcher options from the [ai] settings.
func OptionsFromConfig(cfg config.AI) Options {
	return Options{
		MaxParallel:  cfg.MaxParallelCalls,
		MaxTokens:    cfg.MaxTokens,
		ContextLines: cfg.ContextLines,
		SearchRadius: cfg.FixSearchRadius,
		AutoApply:    cfg.AutoApply,
		Policy:       ai.PolicyFromConfig(cfg),
	}
}

// Dispatcher runs fix requests with bounded parallelism.
type Dispatcher struct {
	provider ai.Provider
	root     workspace.Root
	ledger   *cost.Ledger
	health   *ai.Health
	opts     Options
	files    *fileCache

	// Metrics is optional.
	Metrics *metrics.Metrics
	// Sleep overrides the backoff wait, for tests.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// New creates a Dispatcher. The ledger and health are shared with the rest
// of the run.
func New(provider ai.Provider, root workspace.Root, ledger *cost.Ledger, health *ai.Health, opts Options) *Dispatcher {
	opts.MaxParallel = min(max(opts.MaxParallel, 1), MaxParallel)
	return &Dispatcher{
		provider: provider,
		root:     root,
		ledger:   ledger,
		health:   health,
		opts:     opts,
		files:    newFileCache(root),
	}
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Fetch requests a fix for every group and returns one response per group
// in input order. Each group ends Fetched or FetchFailed.
func (d *Dispatcher) Fetch(ctx context.Context, groups []*model.PatchGroup) []model.AIResponse {
	responses := make([]model.AIResponse, len(groups))
	if len(groups) == 0 {
		return responses
	}

	queue := make(chan int, len(groups))
	for i, g := range groups {
		g.State = model.StatePending
		queue <- i
	}
	close(queue)

	var eg errgroup.Group
	for w := 0; w < min(d.opts.MaxParallel, len(groups)); w++ {
		eg.Go(func() error {
			for i := range queue {
				responses[i] = d.fetchOne(ctx, groups[i])
			}
			return nil
		})
	}
	_ = eg.Wait()

	fetched := 0
	for _, g := range groups {
		if g.State == model.StateFetched {
			fetched++
		}
	}
	d.logger().Info("fetched fixes", "groups", len(groups), "fetched", fetched, "failed", len(groups)-fetched)
	return responses
}

func (d *Dispatcher) fetchOne(ctx context.Context, g *model.PatchGroup) model.AIResponse {
	g.State = model.StateFetching
	resp := model.AIResponse{GroupID: g.ID}

	fail := func(outcome model.Outcome, err error) model.AIResponse {
		g.State = model.StateFetchFailed
		g.Err = err
		g.Note = err.Error()
		resp.Outcome = outcome
		resp.Err = err
		d.logger().Warn("fix request failed", "group", g.ID, "outcome", outcome.String(), "err", err)
		return resp
	}

	if d.health.Degraded() {
		return fail(model.OutcomeFatalError, fault.New(fault.ProviderUnavailable, "fetch "+g.ID, d.health.Reason()))
	}
	if err := ctx.Err(); err != nil {
		return fail(model.OutcomeFatalError, fault.New(fault.ProviderUnavailable, "fetch "+g.ID, err))
	}

	req, err := d.request(g)
	if err != nil {
		return fail(model.OutcomeMalformed, err)
	}

	d.Metrics.TrackInFlight(1)
	retrier := &ai.Retrier{
		Policy: d.opts.Policy,
		Sleep:  d.Sleep,
		Stop:   d.health.Degraded,
		Logger: d.logger(),
		Observe: func(a ai.Attempt) {
			modelName := a.Completion.Model
			if modelName == "" {
				modelName = d.provider.Model()
			}
			resp.Usage.InputTokens += a.Completion.Usage.InputTokens
			resp.Usage.OutputTokens += a.Completion.Usage.OutputTokens
			resp.Cost += d.ledger.Record(modelName, a.Completion.Usage)
			d.Metrics.ObserveAttempt(modelName, a.Err, a.Elapsed, a.N > 1)
		},
	}
	c, attempts, err := retrier.Do(ctx, "fix "+g.ID, func(actx context.Context) (ai.Completion, error) {
		return d.provider.Complete(actx, req)
	})
	d.Metrics.TrackInFlight(-1)
	resp.Attempts = attempts
	resp.Text = c.Text

	if err != nil {
		if fault.KindOf(err).Fatal() {
			d.health.Degrade(err)
		}
		return fail(ai.Outcome(err), err)
	}

	file, _ := g.Anchor()
	fix, err := parseFix(c.Text, file)
	if err != nil {
		return fail(model.OutcomeMalformed, fault.New(fault.MalformedResponse, "fix "+g.ID, err))
	}
	patch, err := d.buildPatch(g, fix)
	if err != nil {
		return fail(model.OutcomeMalformed, fault.New(fault.MalformedResponse, "fix "+g.ID, err))
	}

	g.DiffText = patch
	g.RiskRaw = fix.RiskLevel
	g.Explanation = fix.Explanation
	g.Confidence = fix.Confidence
	risk.Label(g)
	g.Advisories = analysis.Scan(g.DiffText)
	g.State = model.StateFetched
	resp.Outcome = model.OutcomeSuccess

	d.logger().Debug("fetched fix", "group", g.ID, "risk", string(g.Risk), "attempts", attempts)
	return resp
}

// request builds the provider request for a group, reading each touched
// file once.
func (d *Dispatcher) request(g *model.PatchGroup) (ai.Request, error) {
	var excerpts []excerpt
	for _, file := range g.Files() {
		content, err := d.files.get(file)
		if err != nil {
			return ai.Request{}, fmt.Errorf("building context for %s: %w", g.ID, err)
		}
		first, last := lineSpan(g, file)
		text, start, end := contextWindow(content, first, last, d.opts.ContextLines)
		excerpts = append(excerpts, excerpt{file: file, start: start, end: end, text: text})
	}
	return ai.Request{
		System:    fixSystem,
		Prompt:    buildFixPrompt(g, excerpts, d.root.Rel),
		MaxTokens: d.opts.MaxTokens,
		JSON:      true,
	}, nil
}
