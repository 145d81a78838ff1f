package diff

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const contextSize = 3

// Generate returns a git-style unified diff turning oldText into newText
// for the slash-separated path. Identical inputs yield "".
func Generate(path, oldText, newText string) string {
	if oldText == newText {
		return ""
	}
	a := SplitLines(oldText)
	b := SplitLines(newText)

	var w strings.Builder
	fmt.Fprintf(&w, "diff --git a/%s b/%s\n", path, path)
	fmt.Fprintf(&w, "--- a/%s\n+++ b/%s\n", path, path)

	m := difflib.NewMatcher(a, b)
	for _, group := range m.GetGroupedOpCodes(contextSize) {
		first, last := group[0], group[len(group)-1]
		fmt.Fprintf(&w, "@@ -%s +%s @@\n",
			unifiedRange(first.I1, last.I2), unifiedRange(first.J1, last.J2))
		for _, op := range group {
			if op.Tag == 'e' {
				for _, line := range a[op.I1:op.I2] {
					writeLine(&w, ' ', line)
				}
				continue
			}
			if op.Tag == 'r' || op.Tag == 'd' {
				for _, line := range a[op.I1:op.I2] {
					writeLine(&w, '-', line)
				}
			}
			if op.Tag == 'r' || op.Tag == 'i' {
				for _, line := range b[op.J1:op.J2] {
					writeLine(&w, '+', line)
				}
			}
		}
	}
	return w.String()
}

// SplitLines splits s into lines that keep their trailing newline. A final
// line without a newline is kept as is, so EOL differences show up as
// changed lines.
func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func writeLine(w *strings.Builder, op byte, line string) {
	w.WriteByte(op)
	w.WriteString(line)
	if !strings.HasSuffix(line, "\n") {
		w.WriteString("\n\\ No newline at end of file\n")
	}
}

func unifiedRange(start, stop int) string {
	begin := start + 1
	length := stop - start
	switch length {
	case 1:
		return fmt.Sprintf("%d", begin)
	case 0:
		return fmt.Sprintf("%d,0", start)
	default:
		return fmt.Sprintf("%d,%d", begin, length)
	}
}
