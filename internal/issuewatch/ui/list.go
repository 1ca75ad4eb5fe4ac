package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/petr-muller/ugs/internal/issuewatch/compare"
	"github.com/petr-muller/ugs/internal/issuewatch/model"
)

type itemState int

const (
	itemUnchanged itemState = iota
	itemNew
	itemChanged
	itemRemoved
)

// ListModel shows an issue snapshot and how it changed since the previous one
type ListModel struct {
	table       table.Model
	title       string
	issues      []model.IssueData
	result      compare.Result
	lastFetched time.Time
	width       int
	height      int
	displayed   []model.IssueData // Issues as they appear in the table
	states      []itemState
}

// NewListModel creates a new TUI model
func NewListModel(title string, issues []model.IssueData, result compare.Result, lastFetched time.Time) ListModel {
	columns := []table.Column{
		{Title: "ID", Width: 8},
		{Title: "Status", Width: 16},
		{Title: "Owner", Width: 14},
		{Title: "Streams", Width: 24},
		{Title: "Created", Width: 16},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(1), // Will be dynamically adjusted based on content
	)

	m := ListModel{
		table:       t,
		title:       title,
		issues:      issues,
		result:      result,
		lastFetched: lastFetched,
	}

	m.updateTable()
	m.updateSelectionStyle()
	return m
}

// Init initializes the model
func (m ListModel) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model
func (m ListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateTableSize()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	}

	m.table, cmd = m.table.Update(msg)
	m.updateSelectionStyle()

	return m, cmd
}

// View renders the model
func (m ListModel) View() string {
	var s strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)

	s.WriteString(headerStyle.Render(m.title))
	s.WriteString("\n")

	if !m.lastFetched.IsZero() {
		infoStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
		s.WriteString(infoStyle.Render(fmt.Sprintf("Changes since: %s (%s ago)",
			m.lastFetched.Format("2006-01-02 15:04:05"),
			formatDuration(time.Since(m.lastFetched)))))
		s.WriteString("\n")
	}

	if compare.HasChanges(m.result) {
		summaryStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			MarginTop(1).
			MarginBottom(1)
		s.WriteString(summaryStyle.Render(fmt.Sprintf("Changes: %d new, %d changed, %d removed",
			len(m.result.NewIssues), len(m.result.ChangedIssues), len(m.result.RemovedIssues))))
		s.WriteString("\n")
	}

	s.WriteString(m.table.View())
	s.WriteString("\n")

	if selected, state, ok := m.selectedIssue(); ok {
		summaryStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			MarginTop(1)
		s.WriteString(summaryStyle.Render(fmt.Sprintf("Summary: %s", selected.Summary)))
		s.WriteString("\n")
		s.WriteString(m.renderItemStatus(selected, state))
	}

	helpStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		MarginTop(1)
	s.WriteString(helpStyle.Render("Press 'q' to quit, arrow keys to navigate"))

	return s.String()
}

func (m *ListModel) stateOf(issue model.IssueData) itemState {
	for _, newIssue := range m.result.NewIssues {
		if newIssue.ID == issue.ID {
			return itemNew
		}
	}
	if _, changed := m.result.ChangedIssues[issue.ID]; changed {
		return itemChanged
	}
	return itemUnchanged
}

// updateTable rebuilds the rows: current issues newest first, removed issues at the bottom
func (m *ListModel) updateTable() {
	current := append([]model.IssueData{}, m.issues...)
	sort.Slice(current, func(i, j int) bool {
		return current[i].CreatedAt.After(current[j].CreatedAt)
	})

	m.displayed = nil
	m.states = nil
	for _, issue := range current {
		m.displayed = append(m.displayed, issue)
		m.states = append(m.states, m.stateOf(issue))
	}
	for _, issue := range m.result.RemovedIssues {
		m.displayed = append(m.displayed, issue)
		m.states = append(m.states, itemRemoved)
	}

	rows := make([]table.Row, 0, len(m.displayed))
	for _, issue := range m.displayed {
		rows = append(rows, issueToRow(issue))
	}
	m.table.SetRows(rows)
	m.updateTableSize()
}

func issueToRow(issue model.IssueData) table.Row {
	return table.Row{
		fmt.Sprintf("%d", issue.ID),
		issueStatus(issue),
		issue.Owner,
		strings.Join(sortedStreams(issue), ", "),
		issue.CreatedAt.Local().Format("2006-01-02 15:04"),
	}
}

func sortedStreams(issue model.IssueData) []string {
	streams := issue.Streams.UnsortedList()
	sort.Strings(streams)
	return streams
}

func (m *ListModel) updateTableSize() {
	// Set table height based on content, but limit to 15 rows max, plus the header row
	m.table.SetHeight(max(min(len(m.displayed), 15)+1, 2))
}

func (m *ListModel) selectedIssue() (model.IssueData, itemState, bool) {
	cursor := m.table.Cursor()
	if cursor < 0 || cursor >= len(m.displayed) {
		return model.IssueData{}, itemUnchanged, false
	}
	return m.displayed[cursor], m.states[cursor], true
}

func (m *ListModel) renderItemStatus(issue model.IssueData, state itemState) string {
	var s strings.Builder

	switch state {
	case itemNew:
		s.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true).Render("NEW ISSUE"))
		s.WriteString("\n")
	case itemChanged:
		s.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true).Render("CHANGED ISSUE"))
		s.WriteString("\n")
		for _, change := range m.result.ChangedIssues[issue.ID] {
			s.WriteString(fmt.Sprintf("  • %s changed from '%s' to '%s'\n", change.Field, change.OldValue, change.NewValue))
		}
	case itemRemoved:
		s.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Strikethrough(true).Render("REMOVED ISSUE"))
		s.WriteString("\n")
	default:
		s.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Render("UNCHANGED ISSUE"))
		s.WriteString("\n")
	}

	return s.String()
}

// updateSelectionStyle colors the selection by the state of the selected issue
func (m *ListModel) updateSelectionStyle() {
	_, state, ok := m.selectedIssue()
	if !ok {
		return
	}

	var backgroundColor lipgloss.Color
	switch state {
	case itemNew:
		backgroundColor = lipgloss.Color("22") // Dark green
	case itemChanged:
		backgroundColor = lipgloss.Color("130") // Dark yellow/orange
	case itemRemoved:
		backgroundColor = lipgloss.Color("52") // Dark red
	default:
		backgroundColor = lipgloss.Color("240") // Grey (unchanged)
	}

	styles := table.DefaultStyles()
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("230")).
		Background(backgroundColor).
		Bold(true)
	m.table.SetStyles(styles)
}
