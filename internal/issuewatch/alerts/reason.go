// Package alerts decides which issues warrant a notification and manages the alert
// windows shown for them.
package alerts

import (
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/ugs/internal/issuewatch/model"
)

// Reason is a bitmask of why an issue is alerting. Zero means no alert.
type Reason int

const (
	Normal Reason = 1 << iota
	Owner
	UnassignedTimer
	UnacknowledgedTimer
	UnresolvedTimer
)

var reasonNames = []struct {
	bit  Reason
	name string
}{
	{Normal, "Normal"},
	{Owner, "Owner"},
	{UnassignedTimer, "UnassignedTimer"},
	{UnacknowledgedTimer, "UnacknowledgedTimer"},
	{UnresolvedTimer, "UnresolvedTimer"},
}

// Has reports whether all bits of other are set in r
func (r Reason) Has(other Reason) bool {
	return other != 0 && r&other == other
}

func (r Reason) String() string {
	if r == 0 {
		return "None"
	}
	var names []string
	for _, rn := range reasonNames {
		if r&rn.bit != 0 {
			names = append(names, rn.name)
		}
	}
	return strings.Join(names, "|")
}

// Disabled turns a timer threshold off
const Disabled time.Duration = -1

// Policy holds the user-configured alerting rules
type Policy struct {
	Unassigned     time.Duration
	Unacknowledged time.Duration
	Unresolved     time.Duration
	// Projects limits timer alerts to issues in these projects. Empty means all projects.
	Projects sets.Set[string]
}

// DefaultPolicy has every timer disabled
func DefaultPolicy() Policy {
	return Policy{Unassigned: Disabled, Unacknowledged: Disabled, Unresolved: Disabled}
}

// Eligible reports whether issue belongs to a project the user wants timer alerts for
func (p Policy) Eligible(issue model.IssueData) bool {
	if p.Projects.Len() == 0 {
		return true
	}
	return p.Projects.HasAny(issue.Projects.UnsortedList()...)
}

func elapsed(issue model.IssueData, threshold time.Duration) bool {
	return threshold >= 0 && issue.OpenFor() >= threshold
}

// ComputeReason evaluates the alerting rules for issue as seen by user. Inactive issues
// never alert. Timer bits are independent and combine freely.
func ComputeReason(issue model.IssueData, user string, policy Policy) Reason {
	if !issue.IsActive() {
		return 0
	}

	var reason Reason
	assigned := issue.HasOwner()
	mine := assigned && strings.EqualFold(issue.Owner, user)
	eligible := policy.Eligible(issue)

	if mine && !issue.IsAcknowledged() {
		reason |= Owner
	}
	if !assigned && issue.Notify {
		reason |= Normal
	}
	if !assigned && eligible && elapsed(issue, policy.Unassigned) {
		reason |= UnassignedTimer
	}
	if assigned && !mine && !issue.IsAcknowledged() && eligible && elapsed(issue, policy.Unacknowledged) {
		reason |= UnacknowledgedTimer
	}
	if eligible && elapsed(issue, policy.Unresolved) {
		reason |= UnresolvedTimer
	}
	return reason
}

// Caption is the headline shown in an alert window. The text depends on which bits are
// present, not on their order.
func Caption(issue model.IssueData, reason Reason, user string) string {
	switch {
	case reason.Has(Owner):
		if issue.NominatedBy != "" && !strings.EqualFold(issue.NominatedBy, user) {
			return fmt.Sprintf("%s asked you to look into this issue.", issue.NominatedBy)
		}
		return "You have been assigned to this issue."
	case reason.Has(UnacknowledgedTimer):
		return fmt.Sprintf("%s has not acknowledged this issue after %s.", issue.Owner, humanDuration(issue.OpenFor()))
	case reason.Has(UnassignedTimer):
		return fmt.Sprintf("Nobody has taken this issue after %s.", humanDuration(issue.OpenFor()))
	case reason.Has(UnresolvedTimer):
		return fmt.Sprintf("This issue has been open for %s.", humanDuration(issue.OpenFor()))
	case reason.Has(Normal):
		return "Nobody is looking into this issue yet."
	default:
		return ""
	}
}

func humanDuration(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}
	d = d.Truncate(time.Minute)
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	switch {
	case hours == 0:
		return fmt.Sprintf("%dm", minutes)
	case minutes == 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
}
