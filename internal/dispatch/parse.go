package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/sprite-ai/fixrev/internal/diff"
	"github.com/sprite-ai/fixrev/internal/model"
)

type fixEdit struct {
	File          string `json:"file"`
	OriginalCode  string `json:"original_code"`
	SuggestedCode string `json:"suggested_code"`
}

// fixResponse is the JSON object a provider returns for a fix request. The
// top-level original/suggested pair is accepted for single-edit answers.
type fixResponse struct {
	Edits         []fixEdit `json:"edits"`
	OriginalCode  string    `json:"original_code"`
	SuggestedCode string    `json:"suggested_code"`
	Explanation   string    `json:"explanation"`
	Confidence    string    `json:"confidence"`
	RiskLevel     string    `json:"risk_level"`
}

var errNoEdits = errors.New("response contains no usable edits")

// extractJSON trims markdown fences and prose around the first JSON object.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

func parseFix(text, defaultFile string) (fixResponse, error) {
	var resp fixResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return resp, fmt.Errorf("decoding fix response: %w", err)
	}
	if len(resp.Edits) == 0 && resp.OriginalCode != "" {
		resp.Edits = []fixEdit{{File: defaultFile, OriginalCode: resp.OriginalCode, SuggestedCode: resp.SuggestedCode}}
	}

	usable := resp.Edits[:0]
	for _, e := range resp.Edits {
		if strings.TrimSpace(e.OriginalCode) == "" || e.OriginalCode == e.SuggestedCode {
			continue
		}
		if e.File == "" {
			e.File = defaultFile
		}
		usable = append(usable, e)
	}
	if len(usable) == 0 {
		return resp, errNoEdits
	}
	resp.Edits = usable
	return resp, nil
}

// snippetLines splits a code snippet into lines without newlines.
func snippetLines(s string) []string {
	s = strings.TrimSuffix(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func sameLine(fileLine, snippetLine string) bool {
	return strings.TrimRight(fileLine, " \t\r\n") == strings.TrimRight(snippetLine, " \t\r")
}

func matchesAt(lines, snippet []string, start int) bool {
	if start < 0 || start+len(snippet) > len(lines) {
		return false
	}
	for i, s := range snippet {
		if !sameLine(lines[start+i], s) {
			return false
		}
	}
	return true
}

// locate finds snippet in lines, searching outward from each 1-based
// target line up to radius lines away. The match closest to any target
// wins. With fallback set, the first occurrence anywhere in the file is
// accepted when the nearby search fails.
func locate(lines, snippet []string, targets []int, radius int, fallback bool) (int, bool) {
	if len(snippet) == 0 {
		return 0, false
	}
	for delta := 0; delta <= radius; delta++ {
		for _, t := range targets {
			base := max(t-1, 0)
			if matchesAt(lines, snippet, base-delta) {
				return base - delta, true
			}
			if delta > 0 && matchesAt(lines, snippet, base+delta) {
				return base + delta, true
			}
		}
	}
	if !fallback {
		return 0, false
	}
	for i := range lines {
		if matchesAt(lines, snippet, i) {
			return i, true
		}
	}
	return 0, false
}

// replaceSnippet swaps n lines at start for the suggested code, keeping the
// file's final-newline convention.
func replaceSnippet(lines []string, start, n int, suggested string) []string {
	var repl []string
	for _, s := range snippetLines(suggested) {
		repl = append(repl, s+"\n")
	}
	end := start + n
	if end == len(lines) && len(repl) > 0 && !strings.HasSuffix(lines[end-1], "\n") {
		repl[len(repl)-1] = strings.TrimSuffix(repl[len(repl)-1], "\n")
	}

	out := make([]string, 0, len(lines)-n+len(repl))
	out = append(out, lines[:start]...)
	out = append(out, repl...)
	out = append(out, lines[end:]...)
	return out
}

// editFile applies edits to content. targets are the finding lines in the
// file; they follow the text as earlier edits grow or shrink it.
func editFile(content string, edits []fixEdit, targets []int, radius int, fallback bool) (string, error) {
	lines := diff.SplitLines(content)
	targets = slices.Clone(targets)
	for _, e := range edits {
		snippet := snippetLines(e.OriginalCode)
		start, ok := locate(lines, snippet, targets, radius, fallback)
		if !ok {
			return "", fmt.Errorf("original code %q not found near lines %s", firstLine(snippet), joinLines(targets))
		}
		before := len(lines)
		lines = replaceSnippet(lines, start, len(snippet), e.SuggestedCode)
		shift := len(lines) - before
		for i, t := range targets {
			if t-1 >= start+len(snippet) {
				targets[i] = t + shift
			}
		}
	}
	return strings.Join(lines, ""), nil
}

func firstLine(snippet []string) string {
	if len(snippet) == 0 {
		return ""
	}
	return strings.TrimSpace(snippet[0])
}

func joinLines(targets []int) string {
	parts := make([]string, len(targets))
	for i, t := range targets {
		parts[i] = strconv.Itoa(t)
	}
	return strings.Join(parts, ",")
}

// buildPatch turns parsed edits into a unified diff over the group's files.
func (d *Dispatcher) buildPatch(g *model.PatchGroup, resp fixResponse) (string, error) {
	byFile := make(map[string][]fixEdit)
	for _, e := range resp.Edits {
		file, ok := d.groupFile(g, e.File)
		if !ok {
			return "", fmt.Errorf("edit targets %q, which is not part of the group", e.File)
		}
		byFile[file] = append(byFile[file], e)
	}

	var patch strings.Builder
	for _, file := range g.Files() {
		edits := byFile[file]
		if len(edits) == 0 {
			continue
		}
		content, err := d.files.get(file)
		if err != nil {
			return "", err
		}
		updated, err := editFile(content, edits, findingLines(g, file), d.opts.SearchRadius, !d.opts.AutoApply)
		if err != nil {
			return "", fmt.Errorf("%s: %w", file, err)
		}
		patch.WriteString(diff.Generate(d.root.Rel(file), content, updated))
	}
	if patch.Len() == 0 {
		return "", errors.New("fix makes no changes")
	}
	return patch.String(), nil
}

// groupFile maps a file name from a response back to the group's file.
func (d *Dispatcher) groupFile(g *model.PatchGroup, name string) (string, bool) {
	for _, f := range g.Files() {
		if f == name || d.root.Rel(f) == name || d.root.Rel(f) == d.root.Rel(name) {
			return f, true
		}
	}
	return "", false
}
