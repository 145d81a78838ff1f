// Package analysis scans proposed patches for changes a reviewer should look
// at twice.
package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/sprite-ai/fixrev/internal/diff"
	"github.com/sprite-ai/fixrev/internal/model"
)

// Check inspects one file of a patch.
type Check func(f *diff.File) []model.Advisory

// Checks lists the named checks in the order Scan runs them.
var Checks = []struct {
	Name  string
	Check Check
}{
	{"security", SecurityCheck},
	{"handlers", BroadHandlerCheck},
	{"commented_code", CommentedCodeCheck},
	{"markers", MarkerCheck},
	{"deleted", DeletedDefinitionCheck},
}

// Scan runs every check over a unified diff. Unparsable or empty diffs
// yield no advisories.
func Scan(diffText string) []model.Advisory {
	if strings.TrimSpace(diffText) == "" {
		return nil
	}
	ds, err := diff.Parse(diffText)
	if err != nil {
		return nil
	}

	var out []model.Advisory
	for _, f := range ds.Files {
		for _, c := range Checks {
			out = append(out, c.Check(f)...)
		}
	}
	out = dedupe(out)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Line < out[j].Line
	})
	return out
}

// line is one added or deleted line with its number on that side.
type line struct {
	num  int
	text string
}

// added returns the added lines of a file numbered in the new file.
func added(f *diff.File) []line {
	var out []line
	for _, frag := range f.Fragments {
		n := int(frag.NewPosition)
		for _, l := range frag.Lines {
			switch l.Op {
			case gitdiff.OpAdd:
				out = append(out, line{num: n, text: strings.TrimRight(l.Line, "\r\n")})
				n++
			case gitdiff.OpContext:
				n++
			}
		}
	}
	return out
}

// deleted returns the deleted lines of a file numbered in the old file.
func deleted(f *diff.File) []line {
	var out []line
	for _, frag := range f.Fragments {
		n := int(frag.OldPosition)
		for _, l := range frag.Lines {
			switch l.Op {
			case gitdiff.OpDelete:
				out = append(out, line{num: n, text: strings.TrimRight(l.Line, "\r\n")})
				n++
			case gitdiff.OpContext:
				n++
			}
		}
	}
	return out
}

func isComment(text string) bool {
	t := strings.TrimSpace(text)
	for _, p := range []string{"//", "#", "*", "/*", "--"} {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}

func dedupe(in []model.Advisory) []model.Advisory {
	seen := make(map[string]bool)
	var out []model.Advisory
	for _, a := range in {
		key := fmt.Sprintf("%s:%d:%s", a.File, a.Line, a.Message)
		if !seen[key] {
			seen[key] = true
			out = append(out, a)
		}
	}
	return out
}
