package compare

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/ugs/internal/issuewatch/model"
)

func TestIssues(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	acknowledged := created.Add(time.Hour)

	base := model.IssueData{
		ID:          1,
		Summary:     "Link errors",
		CreatedAt:   created,
		RetrievedAt: created,
		Streams:     sets.New[string]("//UE5/Main"),
	}
	refetched := base
	refetched.RetrievedAt = created.Add(10 * time.Minute)

	assigned := base
	assigned.Owner = "alice"
	assigned.AcknowledgedAt = &acknowledged

	other := model.IssueData{ID: 2, Summary: "Cook failure", CreatedAt: created}

	tests := []struct {
		name     string
		current  []model.IssueData
		previous []model.IssueData
		expected Result
	}{
		{
			name:     "refetch only changes RetrievedAt",
			current:  []model.IssueData{refetched},
			previous: []model.IssueData{base},
			expected: Result{ChangedIssues: map[int][]FieldChange{}},
		},
		{
			name:     "new and removed issues",
			current:  []model.IssueData{other},
			previous: []model.IssueData{base},
			expected: Result{
				NewIssues:     []model.IssueData{other},
				RemovedIssues: []model.IssueData{base},
				ChangedIssues: map[int][]FieldChange{},
			},
		},
		{
			name:     "owner and acknowledgement changes",
			current:  []model.IssueData{assigned},
			previous: []model.IssueData{base},
			expected: Result{ChangedIssues: map[int][]FieldChange{
				1: {
					{Field: "owner", OldValue: "", NewValue: "alice"},
					{Field: "acknowledged_at", OldValue: "", NewValue: "2026-03-01T11:00:00Z"},
				},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Issues(tt.current, tt.previous)
			if diff := cmp.Diff(tt.expected, result); diff != "" {
				t.Errorf("result differs (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	a := model.IssueData{ID: 1, Summary: "a"}
	b := model.IssueData{ID: 2, Summary: "b"}

	if !Equal([]model.IssueData{a, b}, []model.IssueData{b, a}) {
		t.Errorf("expected snapshots in different order to be equal")
	}
	if Equal([]model.IssueData{a}, []model.IssueData{a, b}) {
		t.Errorf("expected snapshots of different size to differ")
	}
	if Equal(nil, []model.IssueData{a}) {
		t.Errorf("expected empty snapshot to differ from non-empty")
	}
	if !Equal(nil, nil) {
		t.Errorf("expected empty snapshots to be equal")
	}
}
