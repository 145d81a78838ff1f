package tui

import (
	"fmt"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/charmbracelet/lipgloss"
	"github.com/sprite-ai/fixrev/internal/diff"
	"github.com/sprite-ai/fixrev/internal/model"
)

// renderedLine is a single line of diff output ready for display.
type renderedLine struct {
	OldNum  int // 0 means not applicable (add-only)
	NewNum  int // 0 means not applicable (delete-only)
	Op      gitdiff.LineOp
	Content string // raw text content (no trailing newline)
	IsHunk  bool
	IsFile  bool

	// Syntax highlighting tokens (nil = no highlighting)
	Tokens []diff.Token

	// IsFinding marks an old line that a finding of the group points at.
	IsFinding bool
}

// renderGroup produces renderedLines for every file of a group's patch.
func renderGroup(g *model.PatchGroup, hl *diff.Highlighter) []renderedLine {
	if g == nil || strings.TrimSpace(g.DiffText) == "" {
		return nil
	}
	ds, err := diff.Parse(g.DiffText)
	if err != nil {
		return []renderedLine{{Content: "unparsable diff: " + err.Error()}}
	}

	marks := findingLines(g)
	var lines []renderedLine
	for i, f := range ds.Files {
		if i > 0 {
			lines = append(lines, renderedLine{})
		}
		lines = append(lines, renderedLine{IsFile: true, Content: f.Name()})
		lines = append(lines, renderFile(f, hl, marks[f.Name()])...)
	}
	return lines
}

// findingLines indexes finding start lines by workspace-relative file.
func findingLines(g *model.PatchGroup) map[string]map[int]bool {
	out := make(map[string]map[int]bool)
	for _, f := range g.Findings {
		name := strings.TrimPrefix(f.File, "./")
		if out[name] == nil {
			out[name] = make(map[int]bool)
		}
		for l := f.LineStart; l <= f.End() && l > 0; l++ {
			out[name][l] = true
		}
	}
	return out
}

// renderFile produces renderedLines for a file's diff fragments.
func renderFile(f *diff.File, hl *diff.Highlighter, marks map[int]bool) []renderedLine {
	var lines []renderedLine

	var contentLines []string
	for _, frag := range f.Fragments {
		for _, line := range frag.Lines {
			contentLines = append(contentLines, strings.TrimRight(line.Line, "\n\r"))
		}
	}
	highlighted := hl.Lines(f.Name(), contentLines)
	hlIdx := 0

	for i, frag := range f.Fragments {
		lines = append(lines, renderedLine{
			IsHunk:  true,
			Content: formatHunkHeader(frag),
		})

		oldLine := int(frag.OldPosition)
		newLine := int(frag.NewPosition)

		for _, line := range frag.Lines {
			rl := renderedLine{
				Op:      line.Op,
				Content: strings.TrimRight(line.Line, "\n\r"),
			}
			if hlIdx < len(highlighted) {
				rl.Tokens = highlighted[hlIdx].Tokens
				hlIdx++
			}

			switch line.Op {
			case gitdiff.OpContext:
				rl.OldNum = oldLine
				rl.NewNum = newLine
				oldLine++
				newLine++
			case gitdiff.OpDelete:
				rl.OldNum = oldLine
				oldLine++
			case gitdiff.OpAdd:
				rl.NewNum = newLine
				newLine++
			}
			rl.IsFinding = rl.OldNum > 0 && marks[rl.OldNum]

			lines = append(lines, rl)
		}

		if i < len(f.Fragments)-1 {
			lines = append(lines, renderedLine{Content: ""})
		}
	}

	return lines
}

func formatHunkHeader(frag *gitdiff.TextFragment) string {
	old := fmt.Sprintf("-%d", frag.OldPosition)
	if frag.OldLines != 1 {
		old += fmt.Sprintf(",%d", frag.OldLines)
	}
	new := fmt.Sprintf("+%d", frag.NewPosition)
	if frag.NewLines != 1 {
		new += fmt.Sprintf(",%d", frag.NewLines)
	}

	header := fmt.Sprintf("@@ %s %s @@", old, new)
	if frag.Comment != "" {
		header += " " + frag.Comment
	}
	return header
}

// renderHighlightedContent renders line content with syntax tokens.
func renderHighlightedContent(rl renderedLine, prefix string) string {
	if len(rl.Tokens) == 0 {
		return prefix + rl.Content
	}

	var b strings.Builder
	b.WriteString(prefix)
	for _, tok := range rl.Tokens {
		if tok.Color != "" {
			b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(tok.Color)).Render(tok.Text))
		} else {
			b.WriteString(tok.Text)
		}
	}
	return b.String()
}

func marker(rl renderedLine) string {
	if rl.IsFinding {
		return findingMarkStyle.Render("●")
	}
	return " "
}

// styleLine applies styling to a rendered line for unified view.
func styleLine(rl renderedLine, width int) string {
	switch {
	case rl.IsFile:
		return fileHeaderStyle.Render(truncate(rl.Content, width))
	case rl.IsHunk:
		return hunkHeaderStyle.Width(width).Render(rl.Content)
	}

	oldNum, newNum := "    ", "    "
	if rl.OldNum > 0 {
		oldNum = fmt.Sprintf("%4d", rl.OldNum)
	}
	if rl.NewNum > 0 {
		newNum = fmt.Sprintf("%4d", rl.NewNum)
	}
	lineNums := lineNumberStyle.Render(oldNum) + " " + lineNumberStyle.Render(newNum)

	maxContent := width - 12
	var content string
	switch rl.Op {
	case gitdiff.OpAdd:
		content = addedLineStyle.Render(truncate("+"+rl.Content, maxContent))
	case gitdiff.OpDelete:
		content = deletedLineStyle.Render(truncate("-"+rl.Content, maxContent))
	default:
		content = renderHighlightedContent(rl, " ")
		if maxContent > 0 && lipgloss.Width(content) > maxContent {
			content = contextLineStyle.Render(truncate(" "+rl.Content, maxContent))
		}
	}

	return marker(rl) + lineNums + " " + content
}

// styleLineSplit renders a line for split (side-by-side) view.
func styleLineSplit(rl renderedLine, halfWidth int) (left, right string) {
	switch {
	case rl.IsFile:
		return fileHeaderStyle.Render(truncate(rl.Content, halfWidth)), ""
	case rl.IsHunk:
		return hunkHeaderStyle.Width(halfWidth).Render(rl.Content), ""
	}

	maxContent := halfWidth - 7

	switch rl.Op {
	case gitdiff.OpDelete:
		num := fmt.Sprintf("%4d", rl.OldNum)
		left = marker(rl) + lineNumberStyle.Render(num) + " " + deletedLineStyle.Render("-"+truncate(rl.Content, maxContent))
		right = strings.Repeat(" ", halfWidth)
	case gitdiff.OpAdd:
		left = strings.Repeat(" ", halfWidth)
		num := fmt.Sprintf("%4d", rl.NewNum)
		right = lineNumberStyle.Render(num) + " " + addedLineStyle.Render("+"+truncate(rl.Content, maxContent))
	default:
		oldNum, newNum := "    ", "    "
		if rl.OldNum > 0 {
			oldNum = fmt.Sprintf("%4d", rl.OldNum)
		}
		if rl.NewNum > 0 {
			newNum = fmt.Sprintf("%4d", rl.NewNum)
		}
		content := truncate(rl.Content, maxContent)
		left = marker(rl) + lineNumberStyle.Render(oldNum) + " " + contextLineStyle.Render(" "+content)
		right = lineNumberStyle.Render(newNum) + " " + contextLineStyle.Render(" "+content)
	}

	return left, right
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}
