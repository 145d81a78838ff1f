package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sprite-ai/fixrev/internal/review"
)

type keyMap struct {
	Accept    key.Binding
	AcceptAll key.Binding
	Reject    key.Binding
	Diff      key.Binding
	Skip      key.Binding
	Validate  key.Binding
	Enter     key.Binding
	Quit      key.Binding

	Up       key.Binding
	Down     key.Binding
	NextHunk key.Binding
	PrevHunk key.Binding
	Split    key.Binding
	Help     key.Binding
}

var keys = keyMap{
	Accept: key.NewBinding(
		key.WithKeys("y", "Y"),
		key.WithHelp("y", "accept group"),
	),
	AcceptAll: key.NewBinding(
		key.WithKeys("a", "A"),
		key.WithHelp("a", "accept group + remaining"),
	),
	Reject: key.NewBinding(
		key.WithKeys("r", "R"),
		key.WithHelp("r", "reject"),
	),
	Diff: key.NewBinding(
		key.WithKeys("d", "D"),
		key.WithHelp("d", "show/hide diff"),
	),
	Skip: key.NewBinding(
		key.WithKeys("s", "S"),
		key.WithHelp("s", "skip"),
	),
	Validate: key.NewBinding(
		key.WithKeys("v", "V"),
		key.WithHelp("v", "toggle validation"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "accept safe-style"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "Q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	NextHunk: key.NewBinding(
		key.WithKeys("]"),
		key.WithHelp("]", "next hunk"),
	),
	PrevHunk: key.NewBinding(
		key.WithKeys("["),
		key.WithHelp("[", "prev hunk"),
	),
	Split: key.NewBinding(
		key.WithKeys("t"),
		key.WithHelp("t", "unified/split"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
}

// decisionKey maps a key press to a session decision.
func decisionKey(msg tea.KeyMsg) (review.Key, bool) {
	switch {
	case key.Matches(msg, keys.Accept):
		return review.KeyAccept, true
	case key.Matches(msg, keys.AcceptAll):
		return review.KeyAcceptAll, true
	case key.Matches(msg, keys.Reject):
		return review.KeyReject, true
	case key.Matches(msg, keys.Diff):
		return review.KeyDiff, true
	case key.Matches(msg, keys.Skip):
		return review.KeySkip, true
	case key.Matches(msg, keys.Validate):
		return review.KeyToggleValidate, true
	case key.Matches(msg, keys.Enter):
		return review.KeyEnter, true
	case key.Matches(msg, keys.Quit):
		return review.KeyQuit, true
	}
	return review.KeyUnknown, false
}
