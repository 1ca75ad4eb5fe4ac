package model

import (
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
)

// IssueData is a snapshot of a single build issue as reported by the issue service
type IssueData struct {
	ID          int    `json:"id" yaml:"id"`
	Summary     string `json:"summary" yaml:"summary"`
	Owner       string `json:"owner,omitempty" yaml:"owner,omitempty"`
	NominatedBy string `json:"nominatedBy,omitempty" yaml:"nominated_by,omitempty"`

	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
	// RetrievedAt is the local time the issue was fetched, used to compute how long it has been open
	RetrievedAt    time.Time  `json:"retrievedAt" yaml:"retrieved_at"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty" yaml:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty" yaml:"resolved_at,omitempty"`

	// FixChange is 0 while unfixed, negative for a systemic fix and the fixing changelist otherwise
	FixChange int  `json:"fixChange" yaml:"fix_change"`
	Notify    bool `json:"notify" yaml:"notify"`

	// Streams and Projects are converted from lists by the API client
	Streams  sets.Set[string] `json:"-" yaml:"-"`
	Projects sets.Set[string] `json:"-" yaml:"-"`
}

// IsActive reports whether the issue is neither fixed nor resolved
func (i IssueData) IsActive() bool {
	return i.FixChange == 0 && i.ResolvedAt == nil
}

// HasOwner reports whether somebody is assigned to the issue
func (i IssueData) HasOwner() bool {
	return i.Owner != ""
}

// IsAcknowledged reports whether the owner acknowledged the issue
func (i IssueData) IsAcknowledged() bool {
	return i.AcknowledgedAt != nil
}

// OpenFor returns how long the issue has been open at the time it was retrieved
func (i IssueData) OpenFor() time.Duration {
	return i.RetrievedAt.Sub(i.CreatedAt)
}

// IssueUpdateData is a mutation posted to the issue service. Nil fields are left unchanged.
type IssueUpdateData struct {
	ID           int     `json:"-"`
	Owner        *string `json:"owner,omitempty"`
	NominatedBy  *string `json:"nominatedBy,omitempty"`
	Acknowledged *bool   `json:"acknowledged,omitempty"`
	FixChange    *int    `json:"fixChange,omitempty"`
}

// BuildOutcome is the result of a build step that an issue was observed in
type BuildOutcome int

const (
	OutcomeUnspecified BuildOutcome = iota
	OutcomeSuccess
	OutcomeError
	OutcomeWarning
)

func (o BuildOutcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeError:
		return "error"
	case OutcomeWarning:
		return "warning"
	default:
		return "unspecified"
	}
}

// IssueBuildData describes one build in which an issue was (or was not) observed
type IssueBuildData struct {
	ID          int          `json:"id" yaml:"id"`
	Stream      string       `json:"stream" yaml:"stream"`
	Change      int          `json:"change" yaml:"change"`
	JobName     string       `json:"jobName" yaml:"job_name"`
	JobURL      string       `json:"jobUrl" yaml:"job_url"`
	JobStepName string       `json:"jobStepName" yaml:"job_step_name"`
	JobStepURL  string       `json:"jobStepUrl" yaml:"job_step_url"`
	ErrorURL    string       `json:"errorUrl,omitempty" yaml:"error_url,omitempty"`
	Outcome     BuildOutcome `json:"outcome" yaml:"outcome"`
}

// IssueDiagnosticData is a single diagnostic message attached to an issue
type IssueDiagnosticData struct {
	BuildID *int   `json:"buildId,omitempty" yaml:"build_id,omitempty"`
	Message string `json:"message" yaml:"message"`
	URL     string `json:"url" yaml:"url"`
}
