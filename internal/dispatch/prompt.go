package dispatch

import (
	"fmt"
	"slices"
	"strings"

	"github.com/sprite-ai/fixrev/internal/diff"
	"github.com/sprite-ai/fixrev/internal/model"
)

const fixSystem = "You are a senior software engineer fixing code quality issues. " +
	"Make the smallest change that resolves the reported issues and leave unrelated code alone. " +
	"Reply with the requested JSON object only, without markdown fences."

const fixInstructions = `Fix every issue listed above. Change only what is necessary.

Reply with this JSON object:
{
  "edits": [
    {
      "file": "path of the file, exactly as shown above",
      "original_code": "the exact lines to replace, copied from the excerpt",
      "suggested_code": "the corrected version of those lines"
    }
  ],
  "explanation": "Imperative description of the fix (e.g. 'Add docstring for parse')",
  "confidence": "high|medium|low",
  "risk_level": "safe-style|behavioral-risk"
}

Risk level guidelines:
- "safe-style": whitespace, formatting, trailing commas, quote style or line length.
  Changes that cannot alter runtime behavior.
- "behavioral-risk": anything that adds, removes or changes logic, imports,
  type annotations, docstrings, names or control flow.
`

// excerpt is the slice of a file shown to the provider.
type excerpt struct {
	file       string
	start, end int // 1-based, inclusive
	text       string
}

// contextWindow returns lines [first-ctx, last+ctx] of content, clamped to
// the file.
func contextWindow(content string, first, last, ctx int) (string, int, int) {
	lines := diff.SplitLines(content)
	total := len(lines)
	if first < 1 {
		first = 1
	}
	if last < first {
		last = first
	}
	start := max(0, first-1-ctx)
	end := min(total, last+ctx)
	if start >= end {
		return "", start + 1, end
	}
	return strings.Join(lines[start:end], ""), start + 1, end
}

// lineSpan returns the lowest start and highest end line of the group's
// findings in file.
func lineSpan(g *model.PatchGroup, file string) (int, int) {
	first, last := 0, 0
	for _, f := range g.Findings {
		if f.File != file {
			continue
		}
		if first == 0 || (f.LineStart > 0 && f.LineStart < first) {
			first = f.LineStart
		}
		last = max(last, f.End())
	}
	return first, last
}

// findingLines returns the sorted, distinct start lines of the group's
// findings in file.
func findingLines(g *model.PatchGroup, file string) []int {
	var lines []int
	for _, f := range g.Findings {
		if f.File == file && f.LineStart > 0 {
			lines = append(lines, f.LineStart)
		}
	}
	if len(lines) == 0 {
		return []int{1}
	}
	slices.Sort(lines)
	return slices.Compact(lines)
}

func buildFixPrompt(g *model.PatchGroup, excerpts []excerpt, rel func(string) string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Tool: %s\n", g.Tool())
	if g.Systemic {
		fmt.Fprintf(&b, "These findings share a rule and should be fixed the same way in every file.\n")
	}
	b.WriteString("Issues:\n")
	for _, f := range g.Findings {
		code := f.RuleCode
		if code == "" {
			code = "-"
		}
		fmt.Fprintf(&b, "- %s:%d [%s] %s\n", rel(f.File), f.LineStart, code, f.Message)
	}
	b.WriteString("\n")

	for _, ex := range excerpts {
		fmt.Fprintf(&b, "File: %s (lines %d-%d)\n```\n%s", rel(ex.file), ex.start, ex.end, ex.text)
		if !strings.HasSuffix(ex.text, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("```\n\n")
	}

	b.WriteString(fixInstructions)
	return b.String()
}
