package alerts

import (
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/petr-muller/ugs/internal/issuewatch/dispatch"
	"github.com/petr-muller/ugs/internal/issuewatch/model"
)

// Source is the part of an issue monitor the engine needs
type Source interface {
	UserName() string
	GetIssues() []model.IssueData
	PostUpdate(update model.IssueUpdateData)
	Subscribe(post dispatch.PostFunc, handler func()) func()
}

// Window is a notification surface for one alerting issue
type Window interface {
	Update(issue model.IssueData, reason Reason)
	Size() Size
	Move(to Point)
	Close()
}

// WindowFactory opens a window for an issue that started alerting
type WindowFactory func(source Source, issue model.IssueData, reason Reason) Window

// Alert describes an open alert window
type Alert struct {
	Source Source
	Issue  model.IssueData
	Reason Reason
}

// Options configures an Engine
type Options struct {
	Policy    Policy
	NewWindow WindowFactory
	Screen    Screen
	// Post delivers issue change events to the engine's owner. Events are handled on the
	// monitor goroutine when nil.
	Post   dispatch.PostFunc
	Logger logrus.FieldLogger
}

// issueState is the part of an issue whose change lifts a suppression
type issueState struct {
	owner     string
	resolved  bool
	fixChange int
}

func stateOf(issue model.IssueData) issueState {
	return issueState{owner: strings.ToLower(issue.Owner), resolved: issue.ResolvedAt != nil, fixChange: issue.FixChange}
}

// suppression holds the reasons the user dismissed for an issue, and the issue states the
// dismissal applies to
type suppression struct {
	reason Reason
	states []issueState
}

func (s suppression) appliesTo(state issueState) bool {
	for _, candidate := range s.states {
		if candidate == state {
			return true
		}
	}
	return false
}

type alert struct {
	source Source
	issue  model.IssueData
	reason Reason
	window Window
}

type sourceState struct {
	unsubscribe func()
	alerts      map[int]*alert
	suppressed  map[int]suppression
}

// Engine turns issue sets into alert windows. Window methods are called with the engine
// locked, so windows must not call back into the engine from them.
type Engine struct {
	newWindow WindowFactory
	post      dispatch.PostFunc
	logger    logrus.FieldLogger

	mu      sync.Mutex
	policy  Policy
	screen  Screen
	sources map[Source]*sourceState
	// open windows, in the order they were opened
	open []*alert
}

// NewEngine creates an engine with no sources
func NewEngine(opts Options) *Engine {
	post := opts.Post
	if post == nil {
		post = dispatch.Immediate
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.WithField("component", "alert-engine")
	}
	return &Engine{
		newWindow: opts.NewWindow,
		post:      post,
		logger:    logger,
		policy:    opts.Policy,
		screen:    opts.Screen,
		sources:   make(map[Source]*sourceState),
	}
}

// AddSource starts alerting on the issues of source. Adding a source twice is a no-op.
func (e *Engine) AddSource(source Source) {
	e.mu.Lock()
	if _, ok := e.sources[source]; ok {
		e.mu.Unlock()
		return
	}
	state := &sourceState{alerts: make(map[int]*alert), suppressed: make(map[int]suppression)}
	e.sources[source] = state
	e.mu.Unlock()

	handler := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.recomputeLocked(source)
	}
	state.unsubscribe = source.Subscribe(e.post, handler)
	e.post(handler)
}

// RemoveSource stops alerting on source and closes its windows
func (e *Engine) RemoveSource(source Source) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeLocked(source)
	e.layoutLocked()
}

// Close removes all sources
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for source := range e.sources {
		e.removeLocked(source)
	}
	e.layoutLocked()
}

func (e *Engine) removeLocked(source Source) {
	state, ok := e.sources[source]
	if !ok {
		return
	}
	if state.unsubscribe != nil {
		state.unsubscribe()
	}
	for id := range state.alerts {
		e.closeLocked(state, id)
	}
	delete(e.sources, source)
}

// Refresh re-evaluates every source without waiting for a change event, so timer
// thresholds are noticed as issues age
func (e *Engine) Refresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for source := range e.sources {
		e.recomputeLocked(source)
	}
}

// SetPolicy replaces the alerting rules and re-evaluates every source
func (e *Engine) SetPolicy(policy Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = policy
	for source := range e.sources {
		e.recomputeLocked(source)
	}
}

// SetScreen changes the area windows are stacked in
func (e *Engine) SetScreen(screen Screen) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if screen == e.screen {
		return
	}
	e.screen = screen
	e.layoutLocked()
}

// Alerts returns the open alerts, in the order their windows were opened
func (e *Engine) Alerts() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	alerts := make([]Alert, 0, len(e.open))
	for _, a := range e.open {
		alerts = append(alerts, Alert{Source: a.source, Issue: a.issue, Reason: a.reason})
	}
	return alerts
}

// Accept assigns the issue to the current user and acknowledges it. The update is posted
// to the source without waiting for it to be sent.
func (e *Engine) Accept(source Source, id int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, a := e.lookupLocked(source, id)
	if a == nil {
		return false
	}

	user := source.UserName()
	acknowledged := true
	source.PostUpdate(model.IssueUpdateData{ID: id, Owner: &user, Acknowledged: &acknowledged})

	accepted := a.issue
	accepted.Owner = user
	e.suppressLocked(state, a, stateOf(a.issue), stateOf(accepted))
	e.logger.WithField("issue", id).Infof("Accepted alert (%s)", a.reason)
	e.closeLocked(state, id)
	e.layoutLocked()
	return true
}

// Decline dismisses the alert until the issue changes owner or gets resolved
func (e *Engine) Decline(source Source, id int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, a := e.lookupLocked(source, id)
	if a == nil {
		return false
	}

	e.suppressLocked(state, a, stateOf(a.issue))
	e.logger.WithField("issue", id).Infof("Declined alert (%s)", a.reason)
	e.closeLocked(state, id)
	e.layoutLocked()
	return true
}

func (e *Engine) lookupLocked(source Source, id int) (*sourceState, *alert) {
	state, ok := e.sources[source]
	if !ok {
		return nil, nil
	}
	return state, state.alerts[id]
}

func (e *Engine) suppressLocked(state *sourceState, a *alert, states ...issueState) {
	s := state.suppressed[a.issue.ID]
	s.reason |= a.reason
	s.states = append(s.states, states...)
	state.suppressed[a.issue.ID] = s
}

func (e *Engine) recomputeLocked(source Source) {
	state, ok := e.sources[source]
	if !ok {
		return
	}

	active := make(map[int]model.IssueData)
	for _, issue := range source.GetIssues() {
		if issue.IsActive() {
			active[issue.ID] = issue
		}
	}

	countChanged := false
	for id := range state.alerts {
		if _, ok := active[id]; !ok {
			e.closeLocked(state, id)
			countChanged = true
		}
	}
	for id := range state.suppressed {
		if _, ok := active[id]; !ok {
			delete(state.suppressed, id)
		}
	}

	ids := make([]int, 0, len(active))
	for id := range active {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	user := source.UserName()
	for _, id := range ids {
		issue := active[id]
		reason := ComputeReason(issue, user, e.policy)
		if s, ok := state.suppressed[id]; ok {
			if s.appliesTo(stateOf(issue)) {
				reason &^= s.reason
			} else {
				delete(state.suppressed, id)
			}
		}

		a := state.alerts[id]
		switch {
		case reason != 0 && a == nil:
			a = &alert{source: source, issue: issue, reason: reason}
			a.window = e.newWindow(source, issue, reason)
			state.alerts[id] = a
			e.open = append(e.open, a)
			countChanged = true
			e.logger.WithField("issue", id).Infof("Opened alert (%s)", reason)
		case reason != 0:
			a.issue = issue
			a.reason = reason
			a.window.Update(issue, reason)
		case a != nil:
			e.closeLocked(state, id)
			countChanged = true
		}
	}

	if countChanged {
		e.layoutLocked()
	}
}

func (e *Engine) closeLocked(state *sourceState, id int) {
	a, ok := state.alerts[id]
	if !ok {
		return
	}
	delete(state.alerts, id)
	for i, candidate := range e.open {
		if candidate == a {
			e.open = append(e.open[:i], e.open[i+1:]...)
			break
		}
	}
	a.window.Close()
	e.logger.WithField("issue", id).Debug("Closed alert")
}

func (e *Engine) layoutLocked() {
	sizes := make([]Size, 0, len(e.open))
	for _, a := range e.open {
		sizes = append(sizes, a.window.Size())
	}
	for i, point := range e.screen.Layout(sizes) {
		e.open[i].window.Move(point)
	}
}
