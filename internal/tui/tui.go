// Package tui is an interactive browser for a remediation plan.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"deployaudit/internal/audit"
	"deployaudit/internal/console"
	"deployaudit/internal/remediation"
)

// ViewState represents which screen is active.
type ViewState int

const (
	ViewList ViewState = iota
	ViewDetail
)

// filters cycles the tier shown in the list; "" shows every tier.
var filters = []audit.Severity{"", audit.SeverityCritical, audit.SeverityHigh, audit.SeverityMedium}

// Model is the top-level Bubble Tea model.
type Model struct {
	state  ViewState
	plan   remediation.Plan
	source string
	width  int
	height int

	filter   int
	visible  []int
	cursor   int
	offset   int
	viewport viewport.Model
	renderer *glamour.TermRenderer
}

// New creates a browser over plan. source is shown in the status bar.
func New(plan remediation.Plan, source string) Model {
	m := Model{plan: plan, source: source, state: ViewList}
	m.applyFilter()
	return m
}

func (m Model) Init() tea.Cmd { return nil }

func (m *Model) applyFilter() {
	m.visible = nil
	want := filters[m.filter]
	for i, it := range m.plan.Items {
		if want == "" || it.Priority == want {
			m.visible = append(m.visible, i)
		}
	}
	m.cursor, m.offset = 0, 0
}

// Selected returns the highlighted item.
func (m Model) Selected() (remediation.Item, bool) {
	if m.cursor >= len(m.visible) {
		return remediation.Item{}, false
	}
	return m.plan.Items[m.visible[m.cursor]], true
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	vpHeight := height - 2
	if vpHeight < 5 {
		vpHeight = 5
	}
	m.viewport = viewport.New(width, vpHeight)
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-2),
	)
	if err == nil {
		m.renderer = r
	}
	if m.state == ViewDetail {
		m.viewport.SetContent(m.renderDetail())
	}
}

func (m Model) listHeight() int {
	// title, subtitle, blank, blank, help
	if h := m.height - 5; h > 0 {
		return h
	}
	return 20
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
		if m.state == ViewDetail {
			switch msg.String() {
			case "esc", "backspace", "left", "h":
				m.state = ViewList
				return m, nil
			}
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.visible)-1 {
				m.cursor++
			}
		case "tab":
			m.filter = (m.filter + 1) % len(filters)
			m.applyFilter()
		case "enter", "right", "l":
			if _, ok := m.Selected(); ok {
				m.state = ViewDetail
				if m.width == 0 {
					m.viewport = viewport.New(80, 20)
				}
				m.viewport.SetContent(m.renderDetail())
				m.viewport.GotoTop()
			}
		}
		if m.cursor < m.offset {
			m.offset = m.cursor
		}
		if h := m.listHeight(); m.cursor >= m.offset+h {
			m.offset = m.cursor - h + 1
		}
	}
	return m, nil
}

func (m Model) renderDetail() string {
	it, ok := m.Selected()
	if !ok {
		return ""
	}
	md := remediation.ItemMarkdown(it)
	if m.renderer == nil {
		return bodyStyle.Render(md)
	}
	out, err := m.renderer.Render(md)
	if err != nil {
		return bodyStyle.Render(md)
	}
	return strings.TrimRight(out, "\n")
}

func (m Model) View() string {
	if m.state == ViewDetail {
		it, _ := m.Selected()
		bar := statusBarStyle.Width(m.width).Render(fmt.Sprintf("%s • %s:%d • esc back • q quit", it.Priority, it.Source, it.FindingIndex))
		return lipgloss.JoinVertical(lipgloss.Left, m.viewport.View(), bar)
	}

	var sb strings.Builder
	sb.WriteString("\n" + titleStyle.Render("  Remediation plan") + "\n")
	label := "all tiers"
	if f := filters[m.filter]; f != "" {
		label = string(f)
	}
	sb.WriteString(subtitleStyle.Render(fmt.Sprintf("  %d of %d items • %s • %s", len(m.visible), len(m.plan.Items), label, m.source)) + "\n\n")

	if len(m.visible) == 0 {
		sb.WriteString(dimStyle.Render("  Nothing to fix at this tier.") + "\n")
	}
	end := min(m.offset+m.listHeight(), len(m.visible))
	for row := m.offset; row < end; row++ {
		it := m.plan.Items[m.visible[row]]
		cursor := "  "
		style := listItemStyle
		if row == m.cursor {
			cursor = "▸ "
			style = selectedStyle
		}
		tier := console.SeverityStyle(it.Priority).Render(fmt.Sprintf("%-8s", it.Priority))
		sb.WriteString(fmt.Sprintf("  %s%s %s\n", cursor, tier, style.Render(it.Title)))
	}
	if len(m.plan.Missing) > 0 {
		names := make([]string, 0, len(m.plan.Missing))
		for _, ms := range m.plan.Missing {
			names = append(names, ms.Category)
		}
		sb.WriteString("\n" + warnStyle.Render("  missing reports: "+strings.Join(names, ", ")) + "\n")
	}
	sb.WriteString("\n" + helpStyle.Render("  ↑/↓ navigate • Enter details • Tab tier • q quit") + "\n")
	return sb.String()
}

// Run starts the browser.
func Run(plan remediation.Plan, source string) error {
	p := tea.NewProgram(New(plan, source), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
