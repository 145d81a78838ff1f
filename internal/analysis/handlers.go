package analysis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sprite-ai/fixrev/internal/diff"
	"github.com/sprite-ai/fixrev/internal/model"
)

var (
	// Handlers that swallow every error.
	broadHandlerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\s*except\s*:`),                           // Python: bare except
		regexp.MustCompile(`^\s*except\s+(Base)?Exception\s*:`),        // Python: catch-all
		regexp.MustCompile(`catch\s*\(\s*(Exception|Throwable)\s+\w*`), // Java/C#
		regexp.MustCompile(`catch\s*\{`),                               // Swift/Kotlin bare catch
		regexp.MustCompile(`^\s*rescue\s*$`),                           // Ruby: bare rescue
		regexp.MustCompile(`\.catch\(\s*(?:_|\(\s*\))\s*=>`),           // JS: .catch(() =>
		regexp.MustCompile(`#\s*(noqa|type:\s*ignore)\b`),              // suppressed instead of fixed
		regexp.MustCompile(`//\s*(nolint|eslint-disable)`),
	}

	// Comment lines that look like disabled code.
	commentedCodePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\s*(?://|#)\s*(?:func |def |class |if |for |while |return |import |from |const |let |var |pub fn )`),
		regexp.MustCompile(`^\s*(?://|#)\s*\w+(\.\w+)*\s*\(.*\)\s*;?\s*$`),
	}

	markerPattern = regexp.MustCompile(`\b(TODO|FIXME|HACK|XXX)\b`)
)

// BroadHandlerCheck flags catch-all handlers and suppression comments. A
// fix that silences the tool instead of changing the code is easy to miss.
func BroadHandlerCheck(f *diff.File) []model.Advisory {
	var out []model.Advisory
	for _, l := range added(f) {
		for _, pat := range broadHandlerPatterns {
			if pat.MatchString(l.text) {
				out = append(out, model.Advisory{
					Check:   "handlers",
					File:    f.Name(),
					Line:    l.num,
					Message: fmt.Sprintf("broad handler or suppression: %s", strings.TrimSpace(l.text)),
				})
				break
			}
		}
	}
	return out
}

// CommentedCodeCheck flags code that was commented out rather than fixed.
func CommentedCodeCheck(f *diff.File) []model.Advisory {
	var out []model.Advisory
	for _, l := range added(f) {
		for _, pat := range commentedCodePatterns {
			if pat.MatchString(l.text) {
				out = append(out, model.Advisory{
					Check:   "commented_code",
					File:    f.Name(),
					Line:    l.num,
					Message: fmt.Sprintf("commented-out code: %s", strings.TrimSpace(l.text)),
				})
				break
			}
		}
	}
	return out
}

// MarkerCheck flags TODO-style markers the patch introduces.
func MarkerCheck(f *diff.File) []model.Advisory {
	var out []model.Advisory
	for _, l := range added(f) {
		if m := markerPattern.FindString(l.text); m != "" {
			out = append(out, model.Advisory{
				Check:   "markers",
				File:    f.Name(),
				Line:    l.num,
				Message: fmt.Sprintf("adds %s marker: %s", m, strings.TrimSpace(l.text)),
			})
		}
	}
	return out
}
