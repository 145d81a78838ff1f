package diff

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// HighlightedLine is a source line split into colored tokens.
type HighlightedLine struct {
	Tokens []Token
}

// Token is a syntax-highlighted chunk of text.
type Token struct {
	Text  string
	Color string // hex color, empty for default
}

// Plain returns the concatenated text of all tokens.
func (hl HighlightedLine) Plain() string {
	var b strings.Builder
	for _, t := range hl.Tokens {
		b.WriteString(t.Text)
	}
	return b.String()
}

// Highlighter colors source lines with a chroma style. Lexers are looked
// up once per file extension.
type Highlighter struct {
	style *chroma.Style

	mu     sync.Mutex
	lexers map[string]chroma.Lexer
}

// NewHighlighter returns a Highlighter for the named chroma style,
// falling back to chroma's default style.
func NewHighlighter(styleName string) *Highlighter {
	style := styles.Get(styleName)
	if style == nil {
		style = styles.Fallback
	}
	return &Highlighter{style: style, lexers: make(map[string]chroma.Lexer)}
}

var defaultHighlighter = NewHighlighter("dracula")

// HighlightLines highlights lines of filename with the default style.
func HighlightLines(filename string, lines []string) []HighlightedLine {
	return defaultHighlighter.Lines(filename, lines)
}

// Lines returns one HighlightedLine per input line.
func (h *Highlighter) Lines(filename string, lines []string) []HighlightedLine {
	lexer := h.lexerFor(filename)
	if lexer == nil {
		return plainLines(lines)
	}

	iterator, err := lexer.Tokenise(nil, strings.Join(lines, "\n"))
	if err != nil {
		return plainLines(lines)
	}

	result := make([]HighlightedLine, 0, len(lines))
	var current HighlightedLine
	for _, token := range iterator.Tokens() {
		for i, part := range strings.Split(token.Value, "\n") {
			if i > 0 {
				result = append(result, current)
				current = HighlightedLine{}
			}
			if part != "" {
				current.Tokens = append(current.Tokens, Token{Text: part, Color: h.color(token.Type)})
			}
		}
	}
	result = append(result, current)

	for len(result) < len(lines) {
		result = append(result, HighlightedLine{Tokens: []Token{{Text: ""}}})
	}
	return result[:len(lines)]
}

func (h *Highlighter) lexerFor(filename string) chroma.Lexer {
	ext := filepath.Ext(filename)
	key := ext
	if key == "" {
		key = filepath.Base(filename)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.lexers[key]; ok {
		return l
	}

	lexer := lexers.Match(filename)
	if lexer == nil && ext != "" {
		lexer = lexers.Match("file" + ext)
	}
	if lexer != nil {
		lexer = chroma.Coalesce(lexer)
	}
	h.lexers[key] = lexer
	return lexer
}

func (h *Highlighter) color(tt chroma.TokenType) string {
	entry := h.style.Get(tt)
	if entry.Colour.IsSet() {
		return entry.Colour.String()
	}
	return ""
}

func plainLines(lines []string) []HighlightedLine {
	result := make([]HighlightedLine, len(lines))
	for i, line := range lines {
		result[i] = HighlightedLine{Tokens: []Token{{Text: line}}}
	}
	return result
}
