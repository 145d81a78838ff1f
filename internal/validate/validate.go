// Package validate re-runs analysis tools to confirm applied fixes.
package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/sprite-ai/fixrev/internal/config"
	"github.com/sprite-ai/fixrev/internal/fault"
	"github.com/sprite-ai/fixrev/internal/model"
	"github.com/sprite-ai/fixrev/internal/workspace"
)

// ErrFindingsRemain is wrapped by Validate when any targeted finding is
// still reported after the fix.
var ErrFindingsRemain = errors.New("findings still present")

// ErrNewIssues is wrapped by Validate when the tool reports more issues in
// the touched files than the run started with.
var ErrNewIssues = errors.New("new issues introduced")

// ToolRunner runs one tool over files and returns what it reports.
type ToolRunner interface {
	Run(ctx context.Context, tool string, files []string) ([]model.Finding, error)
}

// Result is the outcome of re-checking one group.
type Result struct {
	Verified int
	// Remaining lists the group's findings that are still reported.
	Remaining []model.Finding
	// Unmatched counts reported findings that matched nothing in the group.
	Unmatched int
	// NewIssues counts reported findings beyond what the run started with,
	// per file and rule code. Zero when the Validator has no baseline.
	NewIssues int
}

// Validator checks applied groups with a ToolRunner.
type Validator struct {
	Runner ToolRunner
	Root   workspace.Root
	// Baseline holds every finding the run started with. Without it
	// introduced issues are not detected.
	Baseline []model.Finding
	Logger   *slog.Logger
}

// Validate re-runs the group's tool. It fails with ErrFindingsRemain when
// any of the group's findings are still reported and with ErrNewIssues when
// the fix introduced findings. Runner failures are returned as
// ValidationRerunFailed. Files are never reverted.
func (v *Validator) Validate(ctx context.Context, g *model.PatchGroup) error {
	res, err := v.Check(ctx, g)
	if err != nil {
		return err
	}
	if len(res.Remaining) > 0 {
		var locs []string
		for _, f := range res.Remaining {
			locs = append(locs, fmt.Sprintf("[%s] %s", f.RuleCode, f.Location()))
		}
		return fmt.Errorf("%d of %d %w: %s",
			len(res.Remaining), len(g.Findings), ErrFindingsRemain, strings.Join(locs, ", "))
	}
	if res.NewIssues > 0 {
		return fmt.Errorf("%w: %d", ErrNewIssues, res.NewIssues)
	}
	return nil
}

// Check re-runs the group's tool and matches its output against the
// group's findings.
func (v *Validator) Check(ctx context.Context, g *model.PatchGroup) (Result, error) {
	logger := v.Logger
	if logger == nil {
		logger = slog.Default()
	}
	op := "validate " + g.ID

	tool := g.Tool()
	if tool == "" {
		return Result{}, fault.Errorf(fault.ValidationRerunFailed, op, "group has no tool")
	}
	start := time.Now()
	reported, err := v.Runner.Run(ctx, tool, g.Files())
	if err != nil {
		return Result{}, fault.New(fault.ValidationRerunFailed, op, err)
	}

	res := Match(g.Findings, reported, v.Root.Rel)
	if v.Baseline != nil {
		res.NewIssues = Introduced(v.Baseline, reported, tool, g.Files(), v.Root.Rel)
	}
	logger.Debug("validation finished", "group", g.ID, "tool", tool,
		"verified", res.Verified, "remaining", len(res.Remaining), "unmatched", res.Unmatched, "new", res.NewIssues,
		"elapsed", time.Since(start))
	return res, nil
}

type matchKey struct {
	file string
	code string
	line int // 0 when unknown
}

// Match pairs each targeted finding with at most one reported finding.
// Matching prefers an exact (file, code, line) hit, then a reported finding
// without a line, then, for targets without a line, any line in the file.
// norm canonicalizes paths on both sides.
func Match(targets, reported []model.Finding, norm func(string) string) Result {
	counts := make(map[matchKey]int)
	for _, f := range reported {
		counts[matchKey{norm(f.File), f.RuleCode, max(f.LineStart, 0)}]++
	}
	consume := func(k matchKey) bool {
		if counts[k] > 0 {
			counts[k]--
			return true
		}
		return false
	}

	var res Result
	for _, t := range targets {
		file := norm(t.File)
		line := max(t.LineStart, 0)
		found := (line > 0 && consume(matchKey{file, t.RuleCode, line})) ||
			consume(matchKey{file, t.RuleCode, 0})
		if !found && line == 0 {
			// Deterministic pick among the remaining lines.
			var keys []matchKey
			for k, n := range counts {
				if n > 0 && k.file == file && k.code == t.RuleCode {
					keys = append(keys, k)
				}
			}
			sort.Slice(keys, func(i, j int) bool { return keys[i].line < keys[j].line })
			if len(keys) > 0 {
				found = consume(keys[0])
			}
		}
		if found {
			res.Remaining = append(res.Remaining, t)
		} else {
			res.Verified++
		}
	}
	for _, n := range counts {
		res.Unmatched += n
	}
	return res
}

type ruleKey struct {
	file string
	code string
}

// Introduced counts reported findings in files that exceed the baseline
// count for the same file and rule code. Lines are ignored since a fix
// moves the code below it.
func Introduced(baseline, reported []model.Finding, tool string, files []string, norm func(string) string) int {
	touched := make(map[string]bool, len(files))
	for _, f := range files {
		touched[norm(f)] = true
	}
	before := make(map[ruleKey]int)
	for _, f := range baseline {
		if f.Tool == tool && touched[norm(f.File)] {
			before[ruleKey{norm(f.File), f.RuleCode}]++
		}
	}
	after := make(map[ruleKey]int)
	for _, f := range reported {
		if touched[norm(f.File)] {
			after[ruleKey{norm(f.File), f.RuleCode}]++
		}
	}
	n := 0
	for k, c := range after {
		n += max(c-before[k], 0)
	}
	return n
}

// ExecRunner runs the commands configured under [tools.<name>]. Each
// command must print a JSON array of findings on stdout; the files to
// check are appended to its arguments.
type ExecRunner struct {
	Root    workspace.Root
	Tools   map[string]config.ToolConfig
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, tool string, files []string) ([]model.Finding, error) {
	tc, ok := r.Tools[tool]
	if !ok || len(tc.Command) == 0 {
		return nil, fmt.Errorf("no command configured for tool %q", tool)
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	args := append([]string{}, tc.Command[1:]...)
	for _, f := range files {
		if _, err := r.Root.Resolve(f); err != nil {
			return nil, err
		}
		args = append(args, r.Root.Rel(f))
	}

	cmd := exec.CommandContext(ctx, tc.Command[0], args...)
	cmd.Dir = string(r.Root)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	// Linters commonly exit non-zero when they report findings, so output
	// is parsed before the exit status is considered.
	var reported []model.Finding
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &reported); err != nil {
		if runErr != nil {
			return nil, fmt.Errorf("running %s: %w: %s", tool, runErr, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("decoding %s output: %w", tool, err)
	}
	for i := range reported {
		if reported[i].Tool == "" {
			reported[i].Tool = tool
		}
	}
	return reported, nil
}
