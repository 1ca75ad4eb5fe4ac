package storage

import (
	"sort"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/ugs/internal/issuewatch/model"
)

// Snapshot is the issue set one user saw on one issue service
type Snapshot struct {
	APIURL      string    `yaml:"api_url"`
	UserName    string    `yaml:"user_name"`
	LastFetched time.Time `yaml:"last_fetched"`
	Issues      []Issue   `yaml:"issues"`
}

// Issue is the stored form of model.IssueData
type Issue struct {
	ID             int        `yaml:"id"`
	Summary        string     `yaml:"summary"`
	Owner          string     `yaml:"owner,omitempty"`
	NominatedBy    string     `yaml:"nominated_by,omitempty"`
	CreatedAt      time.Time  `yaml:"created_at"`
	RetrievedAt    time.Time  `yaml:"retrieved_at"`
	AcknowledgedAt *time.Time `yaml:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `yaml:"resolved_at,omitempty"`
	FixChange      int        `yaml:"fix_change,omitempty"`
	Notify         bool       `yaml:"notify,omitempty"`
	Streams        []string   `yaml:"streams,omitempty"`
	Projects       []string   `yaml:"projects,omitempty"`
}

// SnapshotListItem summarizes a stored snapshot
type SnapshotListItem struct {
	APIURL      string
	UserName    string
	LastFetched time.Time
	IssueCount  int
}

// FromIssues converts issues into their stored form
func FromIssues(issues []model.IssueData) []Issue {
	stored := make([]Issue, 0, len(issues))
	for _, issue := range issues {
		stored = append(stored, Issue{
			ID:             issue.ID,
			Summary:        issue.Summary,
			Owner:          issue.Owner,
			NominatedBy:    issue.NominatedBy,
			CreatedAt:      issue.CreatedAt,
			RetrievedAt:    issue.RetrievedAt,
			AcknowledgedAt: issue.AcknowledgedAt,
			ResolvedAt:     issue.ResolvedAt,
			FixChange:      issue.FixChange,
			Notify:         issue.Notify,
			Streams:        sortedList(issue.Streams),
			Projects:       sortedList(issue.Projects),
		})
	}
	return stored
}

// ToIssues converts stored issues back
func ToIssues(stored []Issue) []model.IssueData {
	issues := make([]model.IssueData, 0, len(stored))
	for _, issue := range stored {
		issues = append(issues, model.IssueData{
			ID:             issue.ID,
			Summary:        issue.Summary,
			Owner:          issue.Owner,
			NominatedBy:    issue.NominatedBy,
			CreatedAt:      issue.CreatedAt,
			RetrievedAt:    issue.RetrievedAt,
			AcknowledgedAt: issue.AcknowledgedAt,
			ResolvedAt:     issue.ResolvedAt,
			FixChange:      issue.FixChange,
			Notify:         issue.Notify,
			Streams:        sets.New[string](issue.Streams...),
			Projects:       sets.New[string](issue.Projects...),
		})
	}
	return issues
}

func sortedList(s sets.Set[string]) []string {
	if s.Len() == 0 {
		return nil
	}
	list := s.UnsortedList()
	sort.Strings(list)
	return list
}
