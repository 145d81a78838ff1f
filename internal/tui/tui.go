// Package tui implements the Bubble Tea review interface.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sprite-ai/fixrev/internal/diff"
	"github.com/sprite-ai/fixrev/internal/model"
	"github.com/sprite-ai/fixrev/internal/review"
)

// Model is the top-level Bubble Tea model for a review session.
type Model struct {
	ctx     context.Context
	session *review.Session
	hl      *diff.Highlighter

	// UI state
	width  int
	height int

	// Diff viewport
	scrollOffset int
	lines        []renderedLine
	showDiff     bool
	splitView    bool

	showHelp bool
	message  string
}

// New creates a model over a session. The session is started if needed.
func New(ctx context.Context, s *review.Session) Model {
	s.Start()
	m := Model{
		ctx:      ctx,
		session:  s,
		hl:       diff.NewHighlighter("dracula"),
		showDiff: true,
	}
	m.updateLines()
	return m
}

func (m *Model) updateLines() {
	m.scrollOffset = 0
	m.lines = renderGroup(m.session.Current(), m.hl)
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if m.session.Done() {
			return m, tea.Quit
		}
		if m.showHelp && !key.Matches(msg, keys.Help) {
			m.showHelp = false
			return m, nil
		}

		switch {
		case key.Matches(msg, keys.Down):
			if m.scrollOffset < len(m.lines)-1 {
				m.scrollOffset++
			}
			return m, nil
		case key.Matches(msg, keys.Up):
			if m.scrollOffset > 0 {
				m.scrollOffset--
			}
			return m, nil
		case key.Matches(msg, keys.NextHunk):
			m.jumpToNextHunk()
			return m, nil
		case key.Matches(msg, keys.PrevHunk):
			m.jumpToPrevHunk()
			return m, nil
		case key.Matches(msg, keys.Split):
			m.splitView = !m.splitView
			return m, nil
		case key.Matches(msg, keys.Help):
			m.showHelp = !m.showHelp
			return m, nil
		}

		k, ok := decisionKey(msg)
		if !ok {
			m.message = "unknown key; press ? for help"
			return m, nil
		}
		out := m.session.Handle(m.ctx, k)
		m.message = out.Message
		if k == review.KeyDiff {
			m.showDiff = !m.showDiff
		}
		if out.Advanced {
			m.updateLines()
		}
		if out.Done {
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m *Model) jumpToNextHunk() {
	for i := m.scrollOffset + 1; i < len(m.lines); i++ {
		if m.lines[i].IsHunk || m.lines[i].IsFile {
			m.scrollOffset = i
			return
		}
	}
}

func (m *Model) jumpToPrevHunk() {
	for i := m.scrollOffset - 1; i >= 0; i-- {
		if m.lines[i].IsHunk || m.lines[i].IsFile {
			m.scrollOffset = i
			return
		}
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}

	g := m.session.Current()
	if g == nil {
		return m.renderStatusBar()
	}

	panel := m.renderGroupPanel(g, m.width)
	status := m.renderStatusBar()
	prompt := m.renderPrompt(g)

	parts := []string{panel}
	if m.showDiff {
		used := lipgloss.Height(panel) + lipgloss.Height(status) + lipgloss.Height(prompt)
		parts = append(parts, m.renderDiffView(m.width, m.height-used))
	}
	parts = append(parts, prompt, status)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func riskStyle(r model.RiskLabel) lipgloss.Style {
	if r == model.RiskSafeStyle {
		return riskSafeStyle
	}
	return riskBehavioralStyle
}

func (m Model) renderGroupPanel(g *model.PatchGroup, width int) string {
	var b strings.Builder

	pos, total := m.session.Position()
	title := fmt.Sprintf("%s  %d/%d  %s", g.ID, pos, total, g.Tool())
	if g.Systemic && len(g.Findings) > 0 {
		title += fmt.Sprintf("  [%s across %d files]", g.Findings[0].RuleCode, len(g.Files()))
	}
	b.WriteString(groupTitleStyle.Render(title))
	b.WriteByte('\n')

	b.WriteString(riskStyle(g.Risk).Render("risk: " + string(g.Risk)))
	b.WriteString(helpBarStyle.Render(fmt.Sprintf("  ·  patch: %d files, +%d/-%d, %d hunks",
		g.Stats.Files, g.Stats.Added, g.Stats.Removed, g.Stats.Hunks)))
	if g.Confidence != "" {
		b.WriteString(helpBarStyle.Render("  ·  confidence: " + g.Confidence))
	}
	b.WriteByte('\n')

	if g.Explanation != "" {
		b.WriteString(explanationStyle.Render(truncate(g.Explanation, width-4)))
		b.WriteByte('\n')
	}

	const maxListed = 5
	for i, f := range g.Findings {
		if i == maxListed {
			b.WriteString(helpBarStyle.Render(fmt.Sprintf("  … %d more", len(g.Findings)-maxListed)))
			b.WriteByte('\n')
			break
		}
		code := f.RuleCode
		if code == "" {
			code = "-"
		}
		line := findingLocStyle.Render(f.Location()) + " " +
			findingMsgStyle.Render(truncate(fmt.Sprintf("[%s] %s", code, f.Message), width-lipgloss.Width(f.Location())-6))
		b.WriteString("  " + line + "\n")
	}

	for _, a := range g.Advisories {
		loc := a.File
		if a.Line > 0 {
			loc = fmt.Sprintf("%s:%d", a.File, a.Line)
		}
		b.WriteString("  " + advisoryStyle.Render(truncate("! "+loc+" "+a.Message, width-6)) + "\n")
	}

	return groupPanelStyle.Width(width - 2).Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) renderDiffView(width, height int) string {
	innerWidth := width - 4 // borders + padding
	innerHeight := max(height-2, 1)

	if len(m.lines) == 0 {
		return diffViewStyle.Width(width - 2).Height(innerHeight).Render("No changes")
	}

	var b strings.Builder
	end := min(m.scrollOffset+innerHeight, len(m.lines))
	for i := m.scrollOffset; i < end; i++ {
		if m.splitView {
			halfWidth := (innerWidth - 3) / 2
			left, right := styleLineSplit(m.lines[i], halfWidth)
			b.WriteString(left)
			if right != "" {
				b.WriteString(" │ " + right)
			}
		} else {
			b.WriteString(styleLine(m.lines[i], innerWidth))
		}
		if i < end-1 {
			b.WriteByte('\n')
		}
	}

	return diffViewStyle.Width(width - 2).Height(innerHeight).Render(b.String())
}

func (m Model) renderPrompt(g *model.PatchGroup) string {
	items := []key.Binding{keys.Accept, keys.AcceptAll, keys.Reject, keys.Diff, keys.Skip, keys.Validate, keys.Quit}
	var parts []string
	for _, k := range items {
		parts = append(parts, statusKeyStyle.Render(k.Help().Key)+" "+k.Help().Desc)
	}
	line := strings.Join(parts, "  ")
	if g.Risk == model.RiskSafeStyle {
		line += "  " + statusKeyStyle.Render("enter") + " accept (safe-style)"
	}
	if m.message != "" {
		line += "\n" + messageStyle.Render(m.message)
	}
	return line
}

func (m Model) renderStatusBar() string {
	c := m.session.Counts()
	left := fmt.Sprintf(" applied %d  rejected %d  skipped %d  failed %d",
		c.Applied, c.Rejected, c.Skipped, c.ApplyFailed+c.FetchFailed)
	if len(m.lines) > 0 && m.showDiff {
		left += fmt.Sprintf("  line %d/%d", m.scrollOffset+1, len(m.lines))
	}

	validate := "off"
	if m.session.Validating() {
		validate = "on"
	}
	mode := "unified"
	if m.splitView {
		mode = "split"
	}
	right := fmt.Sprintf("validate: %s  %s  ? help ", validate, mode)

	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 0)
	return statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) renderHelp() string {
	var b strings.Builder

	b.WriteString(fileHeaderStyle.Render("fixrev: Keyboard Shortcuts"))
	b.WriteString("\n\n")

	for _, k := range []key.Binding{
		keys.Accept, keys.AcceptAll, keys.Reject, keys.Skip, keys.Enter,
		keys.Diff, keys.Validate, keys.Up, keys.Down, keys.NextHunk,
		keys.PrevHunk, keys.Split, keys.Help, keys.Quit,
	} {
		b.WriteString(fmt.Sprintf("  %s  %s\n",
			helpKeyStyle.Width(12).Render(k.Help().Key),
			k.Help().Desc,
		))
	}

	b.WriteString("\n")
	b.WriteString(helpBarStyle.Render("Press any key to close help"))
	return b.String()
}

// Driver runs a session interactively in the terminal.
type Driver struct{}

// Drive implements review.Driver. Groups left when the program exits stay
// unreviewed.
func (Driver) Drive(ctx context.Context, s *review.Session) error {
	s.Start()
	if s.Done() {
		return nil
	}
	p := tea.NewProgram(New(ctx, s), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if !s.Done() {
		s.Handle(ctx, review.KeyQuit)
	}
	if err != nil {
		return fmt.Errorf("running review UI: %w", err)
	}
	return nil
}
