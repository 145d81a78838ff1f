// Package summary asks the provider for an overview of a set of findings.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sprite-ai/fixrev/internal/ai"
	"github.com/sprite-ai/fixrev/internal/cost"
	"github.com/sprite-ai/fixrev/internal/fault"
	"github.com/sprite-ai/fixrev/internal/metrics"
	"github.com/sprite-ai/fixrev/internal/model"
)

// ErrUnavailable is returned when AI is disabled or degraded.
var ErrUnavailable = errors.New("AI summary unavailable")

const (
	samplesPerCode = 3
	overviewLimit  = 500
	preMaxTokens   = 2048
	postMaxTokens  = 1024
)

const system = "You are a senior software engineer reviewing a codebase's quality report. " +
	"Give concise, actionable insights rather than restated counts. " +
	"Focus on patterns, root causes and prioritized recommendations. " +
	"Reply with the requested JSON object only, without markdown fences."

const preTemplate = `Static analysis found %d issues across %d tool(s).
Digest of all issues grouped by tool and rule code:
%s

Reply with this JSON object:
{
  "overview": "2-3 sentence assessment of code quality, specific about what needs attention",
  "key_patterns": ["pattern with scope, e.g. 'missing type annotations in src/utils/'"],
  "priority_actions": ["most impactful action first, with the reason"],
  "estimated_effort": "rough time estimate, e.g. '20-30 minutes of focused cleanup'"
}

Guidelines:
- Identify systemic patterns, not individual issues.
- Order priority actions by impact.
- If issues are mostly cosmetic, say so.
- Limit to 3-5 key patterns and 3-5 priority actions.
`

const postTemplate = `A fix session finished:
- %d groups accepted
- %d groups rejected
- %d groups skipped
- %d fixes applied
- %d issues remaining

Remaining issues digest:
%s

Reply with this JSON object:
{
  "overview": "1-2 sentences on what was accomplished and what remains",
  "key_patterns": ["pattern among the remaining issues"],
  "priority_actions": ["next step for the remaining issues"],
  "estimated_effort": "rough effort to address the remaining issues"
}
`

// Composer writes pre-run and post-run summaries. The ledger and health
// are shared with the dispatcher.
type Composer struct {
	Provider ai.Provider
	Ledger   *cost.Ledger
	Health   *ai.Health
	Policy   ai.Policy
	// Rel renders file paths for the prompt. Defaults to identity.
	Rel     func(string) string
	Metrics *metrics.Metrics
	Sleep   func(ctx context.Context, d time.Duration) error
	Logger  *slog.Logger
}

// Pre summarizes findings before any fix is attempted. It returns nil
// without error when there is nothing to summarize.
func (c *Composer) Pre(ctx context.Context, findings []model.Finding) (*model.Summary, error) {
	if len(findings) == 0 {
		return nil, nil
	}
	prompt := fmt.Sprintf(preTemplate, len(findings), countTools(findings), Digest(findings, c.rel))
	return c.compose(ctx, "pre-summary", prompt, preMaxTokens)
}

// Outcome holds the final group counts of a fix session.
type Outcome struct {
	Accepted int
	Rejected int
	Skipped  int
	Applied  int
}

func (o Outcome) empty() bool {
	return o == Outcome{}
}

// Post summarizes the outcome of a fix session. It returns nil without
// error when nothing was decided and nothing remains.
func (c *Composer) Post(ctx context.Context, remaining []model.Finding, o Outcome) (*model.Summary, error) {
	if len(remaining) == 0 && o.empty() {
		return nil, nil
	}
	digest := Digest(remaining, c.rel)
	if len(remaining) == 0 {
		digest = "(none)"
	}
	prompt := fmt.Sprintf(postTemplate, o.Accepted, o.Rejected, o.Skipped, o.Applied, len(remaining), digest)
	return c.compose(ctx, "post-summary", prompt, postMaxTokens)
}

func (c *Composer) rel(p string) string {
	if c.Rel == nil {
		return p
	}
	return c.Rel(p)
}

func (c *Composer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Composer) compose(ctx context.Context, op, prompt string, maxTokens int) (*model.Summary, error) {
	if c.Provider == nil || c.Health.Degraded() {
		return nil, ErrUnavailable
	}

	req := ai.Request{System: system, Prompt: prompt, MaxTokens: maxTokens, JSON: true}
	r := &ai.Retrier{
		Policy: c.Policy,
		Sleep:  c.Sleep,
		Stop:   c.Health.Degraded,
		Logger: c.logger(),
		Observe: func(a ai.Attempt) {
			name := a.Completion.Model
			if name == "" {
				name = c.Provider.Model()
			}
			c.Ledger.Record(name, a.Completion.Usage)
			c.Metrics.ObserveAttempt(name, a.Err, a.Elapsed, a.N > 1)
		},
	}
	completion, _, err := r.Do(ctx, op, func(actx context.Context) (ai.Completion, error) {
		return c.Provider.Complete(actx, req)
	})
	if err != nil {
		if fault.KindOf(err).Fatal() {
			c.Health.Degrade(err)
		}
		c.logger().Warn("summary failed", "op", op, "kind", fault.KindOf(err).String(), "err", err)
		return nil, err
	}
	return Parse(completion.Text), nil
}

// Parse decodes a summary response. Text that is not a JSON object becomes
// the overview, truncated.
func Parse(text string) *model.Summary {
	var data map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(stripFence(text))), &data); err != nil || data == nil {
		overview := truncate(strings.TrimSpace(text), overviewLimit)
		if overview == "" {
			overview = "Summary unavailable"
		}
		return &model.Summary{Overview: overview}
	}

	s := &model.Summary{
		KeyPatterns:     stringList(data["key_patterns"]),
		PriorityActions: stringList(data["priority_actions"]),
	}
	s.Overview, _ = data["overview"].(string)
	s.EstimatedEffort, _ = data["estimated_effort"].(string)
	return s
}

func stripFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	return strings.TrimSuffix(strings.TrimSpace(t), "```")
}

// stringList coerces a decoded JSON value to a list of strings. A bare
// string becomes a one-element list; non-string items are dropped.
func stringList(v any) []string {
	switch v := v.(type) {
	case string:
		return []string{v}
	case []any:
		out := []string{}
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func countTools(findings []model.Finding) int {
	tools := make(map[string]bool)
	for _, f := range findings {
		tools[f.Tool] = true
	}
	return len(tools)
}

// Digest renders findings grouped by tool and rule code, most frequent code
// first, with up to three sample locations each.
func Digest(findings []model.Finding, rel func(string) string) string {
	type bucket struct {
		code  string
		items []model.Finding
	}
	var tools []string
	byTool := make(map[string][]*bucket)
	index := make(map[[2]string]*bucket)
	counts := make(map[string]int)

	for _, f := range findings {
		code := f.RuleCode
		if code == "" {
			code = "unknown"
		}
		if _, ok := byTool[f.Tool]; !ok {
			tools = append(tools, f.Tool)
			byTool[f.Tool] = nil
		}
		k := [2]string{f.Tool, code}
		b, ok := index[k]
		if !ok {
			b = &bucket{code: code}
			index[k] = b
			byTool[f.Tool] = append(byTool[f.Tool], b)
		}
		b.items = append(b.items, f)
		counts[f.Tool]++
	}

	var w strings.Builder
	for _, tool := range tools {
		buckets := byTool[tool]
		sort.SliceStable(buckets, func(i, j int) bool { return len(buckets[i].items) > len(buckets[j].items) })

		fmt.Fprintf(&w, "\n## %s (%d issues)\n", tool, counts[tool])
		for _, b := range buckets {
			var locs []string
			for _, f := range b.items[:min(samplesPerCode, len(b.items))] {
				loc := rel(f.File)
				if f.LineStart > 0 {
					loc = fmt.Sprintf("%s:%d", loc, f.LineStart)
				}
				locs = append(locs, loc)
			}
			more := ""
			if extra := len(b.items) - samplesPerCode; extra > 0 {
				more = fmt.Sprintf(" (+%d more)", extra)
			}
			fmt.Fprintf(&w, "  [%s] x%d: %s\n    e.g. %s%s\n",
				b.code, len(b.items), b.items[0].Message, strings.Join(locs, ", "), more)
		}
	}
	return w.String()
}
