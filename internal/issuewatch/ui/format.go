package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/petr-muller/ugs/internal/issuewatch/model"
)

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	} else {
		days := int(d.Hours() / 24)
		return fmt.Sprintf("%dd", days)
	}
}

// issueStatus describes where an issue is in its lifecycle
func issueStatus(issue model.IssueData) string {
	switch {
	case issue.ResolvedAt != nil:
		return "Resolved"
	case issue.FixChange < 0:
		return "Fixed (systemic)"
	case issue.FixChange > 0:
		return fmt.Sprintf("Fixed in CL %d", issue.FixChange)
	case !issue.HasOwner():
		return "Unassigned"
	case !issue.IsAcknowledged():
		return "Unacknowledged"
	default:
		return "Acknowledged"
	}
}

// overlay draws block over base with its top left corner at x, y. Both may contain ANSI
// escape sequences.
func overlay(base, block string, x, y int) string {
	lines := strings.Split(base, "\n")
	for i, blockLine := range strings.Split(block, "\n") {
		row := y + i
		if row < 0 {
			continue
		}
		for len(lines) <= row {
			lines = append(lines, "")
		}

		line := lines[row]
		width := ansi.StringWidth(line)
		left := ansi.Truncate(line, x, "")
		if width < x {
			left += strings.Repeat(" ", x-width)
		}
		var right string
		if end := x + ansi.StringWidth(blockLine); width > end {
			right = ansi.TruncateLeft(line, end, "")
		}
		lines[row] = left + blockLine + right
	}
	return strings.Join(lines, "\n")
}
