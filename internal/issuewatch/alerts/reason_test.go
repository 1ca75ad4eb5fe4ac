package alerts

import (
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/ugs/internal/issuewatch/model"
)

var created = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func openFor(d time.Duration) model.IssueData {
	return model.IssueData{
		ID:          42,
		Summary:     "Compile errors in ShaderCompiler.cpp",
		CreatedAt:   created,
		RetrievedAt: created.Add(d),
		Projects:    sets.New[string]("Fortnite"),
	}
}

func TestComputeReason(t *testing.T) {
	acknowledged := created.Add(time.Minute)
	resolved := created.Add(time.Hour)
	thirtyMinutes := Policy{Unassigned: 30 * time.Minute, Unacknowledged: 30 * time.Minute, Unresolved: Disabled}

	tests := []struct {
		name     string
		issue    func() model.IssueData
		policy   Policy
		expected Reason
	}{
		{
			name: "unassigned issue the server wants notified",
			issue: func() model.IssueData {
				i := openFor(0)
				i.Notify = true
				return i
			},
			policy:   DefaultPolicy(),
			expected: Normal,
		},
		{
			name:     "unassigned issue without notify hint",
			issue:    func() model.IssueData { return openFor(0) },
			policy:   DefaultPolicy(),
			expected: 0,
		},
		{
			name:     "unassigned past threshold",
			issue:    func() model.IssueData { return openFor(31 * time.Minute) },
			policy:   thirtyMinutes,
			expected: UnassignedTimer,
		},
		{
			name:     "unassigned exactly at threshold",
			issue:    func() model.IssueData { return openFor(30 * time.Minute) },
			policy:   thirtyMinutes,
			expected: UnassignedTimer,
		},
		{
			name:     "unassigned before threshold",
			issue:    func() model.IssueData { return openFor(29 * time.Minute) },
			policy:   thirtyMinutes,
			expected: 0,
		},
		{
			name: "assigned to current user, not acknowledged",
			issue: func() model.IssueData {
				i := openFor(0)
				i.Owner = "Alice"
				return i
			},
			policy:   DefaultPolicy(),
			expected: Owner,
		},
		{
			name: "assigned to current user and acknowledged",
			issue: func() model.IssueData {
				i := openFor(0)
				i.Owner = "alice"
				i.AcknowledgedAt = &acknowledged
				return i
			},
			policy:   DefaultPolicy(),
			expected: 0,
		},
		{
			name: "assigned to somebody else past unacknowledged threshold",
			issue: func() model.IssueData {
				i := openFor(45 * time.Minute)
				i.Owner = "bob"
				return i
			},
			policy:   thirtyMinutes,
			expected: UnacknowledgedTimer,
		},
		{
			name: "acknowledged by somebody else past unacknowledged threshold",
			issue: func() model.IssueData {
				i := openFor(45 * time.Minute)
				i.Owner = "bob"
				i.AcknowledgedAt = &acknowledged
				return i
			},
			policy:   thirtyMinutes,
			expected: 0,
		},
		{
			name: "timers combine",
			issue: func() model.IssueData {
				i := openFor(3 * time.Hour)
				i.Notify = true
				return i
			},
			policy:   Policy{Unassigned: time.Hour, Unacknowledged: time.Hour, Unresolved: 2 * time.Hour},
			expected: Normal | UnassignedTimer | UnresolvedTimer,
		},
		{
			name: "unresolved timer ignores owner",
			issue: func() model.IssueData {
				i := openFor(3 * time.Hour)
				i.Owner = "bob"
				i.AcknowledgedAt = &acknowledged
				return i
			},
			policy:   Policy{Unassigned: Disabled, Unacknowledged: Disabled, Unresolved: 2 * time.Hour},
			expected: UnresolvedTimer,
		},
		{
			name:  "timers only apply to filtered projects",
			issue: func() model.IssueData { return openFor(3 * time.Hour) },
			policy: Policy{
				Unassigned: time.Hour, Unacknowledged: time.Hour, Unresolved: time.Hour,
				Projects: sets.New[string]("Lyra"),
			},
			expected: 0,
		},
		{
			name:  "timers apply to matching projects",
			issue: func() model.IssueData { return openFor(3 * time.Hour) },
			policy: Policy{
				Unassigned: time.Hour, Unacknowledged: Disabled, Unresolved: Disabled,
				Projects: sets.New[string]("Lyra", "Fortnite"),
			},
			expected: UnassignedTimer,
		},
		{
			name: "resolved issues never alert",
			issue: func() model.IssueData {
				i := openFor(3 * time.Hour)
				i.Notify = true
				i.ResolvedAt = &resolved
				return i
			},
			policy:   Policy{Unassigned: time.Hour, Unacknowledged: time.Hour, Unresolved: time.Hour},
			expected: 0,
		},
		{
			name: "fixed issues never alert",
			issue: func() model.IssueData {
				i := openFor(3 * time.Hour)
				i.Owner = "alice"
				i.FixChange = -1
				return i
			},
			policy:   DefaultPolicy(),
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeReason(tt.issue(), "alice", tt.policy); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestReasonString(t *testing.T) {
	tests := []struct {
		reason   Reason
		expected string
	}{
		{reason: 0, expected: "None"},
		{reason: Owner, expected: "Owner"},
		{reason: UnresolvedTimer | Normal, expected: "Normal|UnresolvedTimer"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.reason.String(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestCaption(t *testing.T) {
	tests := []struct {
		name     string
		issue    func() model.IssueData
		reason   Reason
		expected string
	}{
		{
			name:     "normal",
			issue:    func() model.IssueData { return openFor(0) },
			reason:   Normal,
			expected: "Nobody is looking into this issue yet.",
		},
		{
			name: "owner wins over timers",
			issue: func() model.IssueData {
				i := openFor(2 * time.Hour)
				i.Owner = "alice"
				return i
			},
			reason:   UnresolvedTimer | Owner,
			expected: "You have been assigned to this issue.",
		},
		{
			name: "nominated by somebody else",
			issue: func() model.IssueData {
				i := openFor(0)
				i.Owner = "alice"
				i.NominatedBy = "bob"
				return i
			},
			reason:   Owner,
			expected: "bob asked you to look into this issue.",
		},
		{
			name: "unacknowledged",
			issue: func() model.IssueData {
				i := openFor(95 * time.Minute)
				i.Owner = "bob"
				return i
			},
			reason:   UnacknowledgedTimer,
			expected: "bob has not acknowledged this issue after 1h 35m.",
		},
		{
			name:     "unassigned",
			issue:    func() model.IssueData { return openFor(31 * time.Minute) },
			reason:   UnassignedTimer | Normal,
			expected: "Nobody has taken this issue after 31m.",
		},
		{
			name:     "unresolved",
			issue:    func() model.IssueData { return openFor(3 * time.Hour) },
			reason:   UnresolvedTimer,
			expected: "This issue has been open for 3h.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Caption(tt.issue(), tt.reason, "alice"); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestScreenLayout(t *testing.T) {
	screen := Screen{Width: 120, Height: 40, Margin: 1, Gap: 1}
	got := screen.Layout([]Size{{Width: 50, Height: 6}, {Width: 40, Height: 4}})
	expected := []Point{{X: 69, Y: 33}, {X: 79, Y: 28}}
	if len(got) != len(expected) {
		t.Fatalf("expected %d points, got %d", len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("window %d: expected %+v, got %+v", i, expected[i], got[i])
		}
	}
}
