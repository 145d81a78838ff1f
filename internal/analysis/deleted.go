package analysis

import (
	"fmt"
	"regexp"

	"github.com/sprite-ai/fixrev/internal/diff"
	"github.com/sprite-ai/fixrev/internal/model"
)

// Function and type definition patterns for common languages.
var definitionPatterns = []*regexp.Regexp{
	// Go: func Name( and func (r *T) Name(
	regexp.MustCompile(`^\s*func\s+(\w+)\s*[(\[]`),
	regexp.MustCompile(`^\s*func\s+\([^)]+\)\s+(\w+)\s*\(`),
	// Python: def name( and class Name
	regexp.MustCompile(`^\s*(?:async\s+)?def\s+(\w+)\s*\(`),
	regexp.MustCompile(`^\s*class\s+(\w+)`),
	// JS/TS
	regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+(\w+)\s*\(`),
	regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s+)?\(`),
	// Rust
	regexp.MustCompile(`^\s*(?:pub\s+)?(?:async\s+)?fn\s+(\w+)\s*[(<]`),
}

// DeletedDefinitionCheck flags definitions the patch removes without adding
// back under the same name. Fixes for lint findings should not delete API.
func DeletedDefinitionCheck(f *diff.File) []model.Advisory {
	kept := make(map[string]bool)
	for _, l := range added(f) {
		if name := definitionName(l.text); name != "" {
			kept[name] = true
		}
	}

	var out []model.Advisory
	for _, l := range deleted(f) {
		name := definitionName(l.text)
		if name == "" || kept[name] {
			continue
		}
		out = append(out, model.Advisory{
			Check:   "deleted",
			File:    f.Name(),
			Line:    l.num,
			Message: fmt.Sprintf("deletes definition %q", name),
		})
	}
	return out
}

func definitionName(text string) string {
	for _, pat := range definitionPatterns {
		if m := pat.FindStringSubmatch(text); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}
