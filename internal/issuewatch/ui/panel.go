package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/petr-muller/ugs/internal/issuewatch/alerts"
	"github.com/petr-muller/ugs/internal/issuewatch/model"
)

const panelWidth = 46

// AlertPanel is an alert window drawn over the issue table
type AlertPanel struct {
	source   alerts.Source
	issue    model.IssueData
	reason   alerts.Reason
	position alerts.Point
	closed   bool
	selected bool
}

func newAlertPanel(source alerts.Source, issue model.IssueData, reason alerts.Reason) *AlertPanel {
	return &AlertPanel{source: source, issue: issue, reason: reason}
}

func (p *AlertPanel) Update(issue model.IssueData, reason alerts.Reason) {
	p.issue = issue
	p.reason = reason
}

func (p *AlertPanel) Size() alerts.Size {
	rendered := p.View()
	return alerts.Size{Width: lipgloss.Width(rendered), Height: lipgloss.Height(rendered)}
}

func (p *AlertPanel) Move(to alerts.Point) {
	p.position = to
}

func (p *AlertPanel) Close() {
	p.closed = true
}

// View renders the panel
func (p *AlertPanel) View() string {
	borderColor := lipgloss.Color("240")
	if p.selected {
		borderColor = lipgloss.Color("205")
	}
	if p.reason.Has(alerts.Owner) {
		borderColor = lipgloss.Color("196")
		if !p.selected {
			borderColor = lipgloss.Color("124")
		}
	}

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Padding(0, 1).
		Width(panelWidth)

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	captionStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	var s strings.Builder
	s.WriteString(titleStyle.Render(fmt.Sprintf("Issue %d", p.issue.ID)))
	s.WriteString("\n")
	s.WriteString(truncate(p.issue.Summary, panelWidth-2))
	s.WriteString("\n")
	s.WriteString(captionStyle.Render(alerts.Caption(p.issue, p.reason, p.source.UserName())))
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("[a] accept  [d] decline"))

	return box.Render(s.String())
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}
