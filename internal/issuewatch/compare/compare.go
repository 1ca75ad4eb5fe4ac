package compare

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/ugs/internal/issuewatch/model"
)

// FieldChange represents a change in a single issue field
type FieldChange struct {
	Field    string `yaml:"field"`
	OldValue string `yaml:"old_value"`
	NewValue string `yaml:"new_value"`
}

// Result holds the differences between two issue snapshots
type Result struct {
	NewIssues     []model.IssueData
	RemovedIssues []model.IssueData
	ChangedIssues map[int][]FieldChange
}

// Issues compares the current issue snapshot with a previous one. RetrievedAt is ignored,
// it changes on every fetch.
func Issues(current, previous []model.IssueData) Result {
	currentMap := make(map[int]model.IssueData, len(current))
	previousMap := make(map[int]model.IssueData, len(previous))

	for _, issue := range current {
		currentMap[issue.ID] = issue
	}
	for _, issue := range previous {
		previousMap[issue.ID] = issue
	}

	result := Result{ChangedIssues: make(map[int][]FieldChange)}

	for id, issue := range currentMap {
		previousIssue, exists := previousMap[id]
		if !exists {
			result.NewIssues = append(result.NewIssues, issue)
			continue
		}
		if changes := compareIssues(issue, previousIssue); len(changes) > 0 {
			result.ChangedIssues[id] = changes
		}
	}

	for id, issue := range previousMap {
		if _, exists := currentMap[id]; !exists {
			result.RemovedIssues = append(result.RemovedIssues, issue)
		}
	}

	sortByID(result.NewIssues)
	sortByID(result.RemovedIssues)
	return result
}

// HasChanges returns true if there are any differences between the snapshots
func HasChanges(result Result) bool {
	return len(result.NewIssues) > 0 || len(result.RemovedIssues) > 0 || len(result.ChangedIssues) > 0
}

// Equal reports whether two snapshots hold the same issues, ignoring RetrievedAt and order
func Equal(current, previous []model.IssueData) bool {
	if len(current) != len(previous) {
		return false
	}
	return !HasChanges(Issues(current, previous))
}

func sortByID(issues []model.IssueData) {
	sort.Slice(issues, func(i, j int) bool {
		return issues[i].ID < issues[j].ID
	})
}

func compareIssues(current, previous model.IssueData) []FieldChange {
	var changes []FieldChange

	add := func(field, oldValue, newValue string) {
		if oldValue != newValue {
			changes = append(changes, FieldChange{Field: field, OldValue: oldValue, NewValue: newValue})
		}
	}

	add("summary", previous.Summary, current.Summary)
	add("owner", previous.Owner, current.Owner)
	add("nominated_by", previous.NominatedBy, current.NominatedBy)
	add("created_at", formatTime(&previous.CreatedAt), formatTime(&current.CreatedAt))
	add("acknowledged_at", formatTime(previous.AcknowledgedAt), formatTime(current.AcknowledgedAt))
	add("resolved_at", formatTime(previous.ResolvedAt), formatTime(current.ResolvedAt))
	add("fix_change", strconv.Itoa(previous.FixChange), strconv.Itoa(current.FixChange))
	add("notify", strconv.FormatBool(previous.Notify), strconv.FormatBool(current.Notify))
	add("streams", joinSet(previous.Streams), joinSet(current.Streams))
	add("projects", joinSet(previous.Projects), joinSet(current.Projects))

	return changes
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func joinSet(s sets.Set[string]) string {
	return strings.Join(sets.List(s), ", ")
}
