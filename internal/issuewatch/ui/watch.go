package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/petr-muller/ugs/internal/issuewatch/alerts"
	"github.com/petr-muller/ugs/internal/issuewatch/dispatch"
	"github.com/petr-muller/ugs/internal/issuewatch/model"
)

const defaultTickInterval = 30 * time.Second

// WatchSource is an issue monitor shown by the watch view
type WatchSource interface {
	alerts.Source
	APIURL() string
	HasPendingUpdate() bool
	LastStatusMessage() string
	Refresh()
}

// WatchOptions configures a WatchModel
type WatchOptions struct {
	Sources []WatchSource
	Policy  alerts.Policy
	// Post delivers monitor events to the program loop, see Bridge
	Post dispatch.PostFunc
	// TickInterval is how often alert timers are re-evaluated
	TickInterval time.Duration
	Logger       logrus.FieldLogger
}

type tickMsg time.Time

type watchRow struct {
	source WatchSource
	issue  model.IssueData
}

// WatchModel shows the issues of one or more monitors and draws alert panels over them
type WatchModel struct {
	sources []WatchSource
	engine  *alerts.Engine
	tick    time.Duration

	table    table.Model
	rows     []watchRow
	panels   []*AlertPanel
	selected int
	width    int
	height   int
}

// NewWatchModel creates the model and starts alerting on its sources
func NewWatchModel(opts WatchOptions) *WatchModel {
	columns := []table.Column{
		{Title: "ID", Width: 8},
		{Title: "Status", Width: 16},
		{Title: "Owner", Width: 14},
		{Title: "Open for", Width: 9},
		{Title: "Alert", Width: 20},
		{Title: "Summary", Width: 40},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("240")).
		Bold(true)
	t.SetStyles(s)

	tick := opts.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}

	m := &WatchModel{
		sources: opts.Sources,
		tick:    tick,
		table:   t,
	}
	m.engine = alerts.NewEngine(alerts.Options{
		Policy:    opts.Policy,
		NewWindow: m.openPanel,
		Post:      opts.Post,
		Logger:    opts.Logger,
	})
	for _, source := range opts.Sources {
		m.engine.AddSource(source)
	}
	m.refreshRows()
	return m
}

func (m *WatchModel) openPanel(source alerts.Source, issue model.IssueData, reason alerts.Reason) alerts.Window {
	panel := newAlertPanel(source, issue, reason)
	m.panels = append(m.panels, panel)
	return panel
}

// Engine returns the alert engine driving the panels
func (m *WatchModel) Engine() *alerts.Engine {
	return m.engine
}

func (m *WatchModel) tickCmd() tea.Cmd {
	return tea.Tick(m.tick, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts the timer that re-evaluates alerts
func (m *WatchModel) Init() tea.Cmd {
	return m.tickCmd()
}

// Update handles messages and updates the model
func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case postedMsg:
		msg.fn()
		m.refreshRows()
		return m, nil
	case tickMsg:
		m.engine.Refresh()
		m.refreshRows()
		return m, m.tickCmd()
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.engine.SetScreen(alerts.Screen{Width: msg.Width, Height: msg.Height, Margin: 1})
		m.updateTableSize()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.engine.Close()
			return m, tea.Quit
		case "r":
			for _, source := range m.sources {
				source.Refresh()
			}
			return m, nil
		case "tab":
			if open := m.openPanels(); len(open) > 0 {
				m.selected = (m.selected + 1) % len(open)
			}
			return m, nil
		case "a", "d":
			m.actOnSelected(msg.String() == "a")
			m.refreshRows()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *WatchModel) actOnSelected(accept bool) {
	open := m.openPanels()
	if len(open) == 0 {
		return
	}
	if m.selected >= len(open) {
		m.selected = len(open) - 1
	}
	panel := open[m.selected]
	if accept {
		m.engine.Accept(panel.source, panel.issue.ID)
	} else {
		m.engine.Decline(panel.source, panel.issue.ID)
	}
}

// openPanels drops closed panels and returns the rest, bottom-most first
func (m *WatchModel) openPanels() []*AlertPanel {
	open := m.panels[:0]
	for _, panel := range m.panels {
		if !panel.closed {
			open = append(open, panel)
		}
	}
	m.panels = open
	return open
}

func (m *WatchModel) refreshRows() {
	alerting := make(map[alerts.Source]map[int]alerts.Reason)
	for _, a := range m.engine.Alerts() {
		if alerting[a.Source] == nil {
			alerting[a.Source] = make(map[int]alerts.Reason)
		}
		alerting[a.Source][a.Issue.ID] = a.Reason
	}

	m.rows = nil
	for _, source := range m.sources {
		for _, issue := range source.GetIssues() {
			m.rows = append(m.rows, watchRow{source: source, issue: issue})
		}
	}
	sort.SliceStable(m.rows, func(i, j int) bool {
		// active issues first, newest on top
		if a, b := m.rows[i].issue.IsActive(), m.rows[j].issue.IsActive(); a != b {
			return a
		}
		return m.rows[i].issue.CreatedAt.After(m.rows[j].issue.CreatedAt)
	})

	rows := make([]table.Row, 0, len(m.rows))
	for _, row := range m.rows {
		alert := ""
		if reason, ok := alerting[row.source][row.issue.ID]; ok {
			alert = reason.String()
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", row.issue.ID),
			issueStatus(row.issue),
			row.issue.Owner,
			formatDuration(row.issue.OpenFor()),
			alert,
			row.issue.Summary,
		})
	}
	m.table.SetRows(rows)
}

func (m *WatchModel) updateTableSize() {
	if m.height > 0 {
		m.table.SetHeight(max(m.height-8, 3))
	}
	if m.width > 0 {
		columns := m.table.Columns()
		fixed := 0
		for _, c := range columns[:len(columns)-1] {
			fixed += c.Width + 2
		}
		columns[len(columns)-1].Width = max(m.width-fixed-4, 20)
		m.table.SetColumns(columns)
	}
}

// View renders the model
func (m *WatchModel) View() string {
	var s strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)
	infoStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	var servers []string
	for _, source := range m.sources {
		servers = append(servers, fmt.Sprintf("%s as %s", source.APIURL(), source.UserName()))
	}
	s.WriteString(headerStyle.Render("Build issues: " + strings.Join(servers, ", ")))
	s.WriteString("\n")

	s.WriteString(m.table.View())
	s.WriteString("\n")

	for _, source := range m.sources {
		if message := source.LastStatusMessage(); message != "" {
			s.WriteString(errorStyle.Render(fmt.Sprintf("%s: %s", source.APIURL(), message)))
			s.WriteString("\n")
		}
		if source.HasPendingUpdate() {
			s.WriteString(infoStyle.Render(fmt.Sprintf("%s: Updating…", source.APIURL())))
			s.WriteString("\n")
		}
	}

	helpStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		MarginTop(1)
	s.WriteString(helpStyle.Render("Press 'q' to quit, 'r' to refresh, tab to switch alerts, arrow keys to navigate"))

	view := s.String()
	for i, panel := range m.openPanels() {
		panel.selected = i == m.selected
		view = overlay(view, panel.View(), panel.position.X, panel.position.Y)
	}
	return view
}
