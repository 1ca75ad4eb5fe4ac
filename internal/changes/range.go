package changes

import (
	"sort"
	"sync"

	"github.com/petr-muller/ugs/internal/issuewatch/model"
	"github.com/petr-muller/ugs/internal/perforce"
)

// BuildGroup is the set of builds of one stream at one change. A Range sits below it.
type BuildGroup struct {
	Change  int
	JobName string
	JobURL  string
	Outcome model.BuildOutcome
	Builds  []model.IssueBuildData
}

// Range is a span of submitted changes between two build points. MinChange and MaxChange
// are inclusive; MaxChange may be perforce.Now.
type Range struct {
	MinChange  int
	MaxChange  int
	BuildGroup *BuildGroup

	mu           sync.Mutex
	expanded     bool
	fetched      bool
	changes      []perforce.ChangeSummary
	errorMessage string
}

// NewRange creates an unexpanded range
func NewRange(minChange, maxChange int, group *BuildGroup) *Range {
	return &Range{MinChange: minChange, MaxChange: maxChange, BuildGroup: group}
}

// Expand latches the range as expanded. It returns true only for the first call, which is
// the caller's cue to request the range from a Worker.
func (r *Range) Expand() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.expanded {
		return false
	}
	r.expanded = true
	return true
}

// Expanded reports whether Expand was called
func (r *Range) Expanded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expanded
}

// Changes returns the submitted changes in the range. The second value is false until the
// range has been fetched successfully.
func (r *Range) Changes() ([]perforce.ChangeSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.fetched {
		return nil, false
	}
	changes := make([]perforce.ChangeSummary, len(r.changes))
	copy(changes, r.changes)
	return changes, true
}

// ErrorMessage describes why fetching the range failed, or is empty
func (r *Range) ErrorMessage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errorMessage
}

func (r *Range) setChanges(changes []perforce.ChangeSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = changes
	r.fetched = true
	r.errorMessage = ""
}

func (r *Range) setError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorMessage = message
}

// RangesFromBuilds turns the builds of stream into ranges, newest first. The first range
// covers everything submitted after the newest build; every following range covers the
// changes between two consecutive build groups and sits below the newer one.
func RangesFromBuilds(stream string, builds []model.IssueBuildData) []*Range {
	byChange := make(map[int]*BuildGroup)
	for _, build := range builds {
		if build.Stream != stream {
			continue
		}
		group, ok := byChange[build.Change]
		if !ok {
			group = &BuildGroup{Change: build.Change, JobName: build.JobName, JobURL: build.JobURL}
			byChange[build.Change] = group
		}
		group.Builds = append(group.Builds, build)
		if severity(build.Outcome) > severity(group.Outcome) {
			group.Outcome = build.Outcome
		}
	}
	if len(byChange) == 0 {
		return nil
	}

	groups := make([]*BuildGroup, 0, len(byChange))
	for _, group := range byChange {
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Change > groups[j].Change
	})

	ranges := []*Range{NewRange(groups[0].Change+1, perforce.Now, nil)}
	for i := 0; i+1 < len(groups); i++ {
		ranges = append(ranges, NewRange(groups[i+1].Change+1, groups[i].Change, groups[i]))
	}
	return ranges
}

func severity(outcome model.BuildOutcome) int {
	switch outcome {
	case model.OutcomeError:
		return 3
	case model.OutcomeWarning:
		return 2
	case model.OutcomeSuccess:
		return 1
	default:
		return 0
	}
}
