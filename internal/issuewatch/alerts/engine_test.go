package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/petr-muller/ugs/internal/issuewatch/api"
	"github.com/petr-muller/ugs/internal/issuewatch/dispatch"
	"github.com/petr-muller/ugs/internal/issuewatch/model"
	"github.com/petr-muller/ugs/internal/issuewatch/monitor"
)

type fakeWindow struct {
	issue   model.IssueData
	reason  Reason
	updates int
	moves   []Point
	closed  bool
}

func (w *fakeWindow) Update(issue model.IssueData, reason Reason) {
	w.issue = issue
	w.reason = reason
	w.updates++
}

func (w *fakeWindow) Size() Size { return Size{Width: 40, Height: 5} }

func (w *fakeWindow) Move(to Point) { w.moves = append(w.moves, to) }

func (w *fakeWindow) Close() { w.closed = true }

func (w *fakeWindow) position() Point {
	if len(w.moves) == 0 {
		return Point{}
	}
	return w.moves[len(w.moves)-1]
}

type windowRecorder struct {
	mu      sync.Mutex
	windows []*fakeWindow
}

func (r *windowRecorder) factory(_ Source, issue model.IssueData, reason Reason) Window {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := &fakeWindow{issue: issue, reason: reason}
	r.windows = append(r.windows, w)
	return w
}

func (r *windowRecorder) all() []*fakeWindow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fakeWindow(nil), r.windows...)
}

// fakeSource delivers change events synchronously when its issues are replaced
type fakeSource struct {
	user string

	mu       sync.Mutex
	issues   []model.IssueData
	updates  []model.IssueUpdateData
	handlers map[int]func()
	nextID   int
}

func newFakeSource(user string) *fakeSource {
	return &fakeSource{user: user, handlers: make(map[int]func())}
}

func (f *fakeSource) UserName() string { return f.user }

func (f *fakeSource) GetIssues() []model.IssueData {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.IssueData(nil), f.issues...)
}

func (f *fakeSource) PostUpdate(update model.IssueUpdateData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
}

func (f *fakeSource) Subscribe(post dispatch.PostFunc, handler func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.handlers[id] = func() { post(handler) }
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

func (f *fakeSource) set(issues ...model.IssueData) {
	f.mu.Lock()
	f.issues = issues
	var handlers []func()
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}

func (f *fakeSource) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func newTestEngine(policy Policy) (*Engine, *windowRecorder) {
	recorder := &windowRecorder{}
	engine := NewEngine(Options{
		Policy:    policy,
		NewWindow: recorder.factory,
		Screen:    Screen{Width: 100, Height: 30, Margin: 1, Gap: 1},
		Logger:    logrus.New(),
	})
	return engine, recorder
}

func unassigned(id int) model.IssueData {
	return model.IssueData{ID: id, Summary: "Link errors in Editor", Notify: true, CreatedAt: created, RetrievedAt: created}
}

func TestEngineDeclineSuppressesUntilStateChanges(t *testing.T) {
	engine, recorder := newTestEngine(DefaultPolicy())
	source := newFakeSource("alice")
	engine.AddSource(source)

	issue := unassigned(7)
	source.set(issue)

	alerts := engine.Alerts()
	if len(alerts) != 1 || alerts[0].Reason != Normal {
		t.Fatalf("expected one Normal alert, got %+v", alerts)
	}

	if !engine.Decline(source, 7) {
		t.Fatalf("expected Decline to find the alert")
	}
	if !recorder.all()[0].closed {
		t.Errorf("expected declined window to be closed")
	}
	if len(source.updates) != 0 {
		t.Errorf("expected Decline not to post updates, got %+v", source.updates)
	}

	// same state, new poll
	source.set(issue)
	engine.Refresh()
	if alerts := engine.Alerts(); len(alerts) != 0 {
		t.Fatalf("expected declined issue not to re-alert, got %+v", alerts)
	}

	// somebody takes the issue, then drops it again
	taken := issue
	taken.Owner = "bob"
	source.set(taken)
	source.set(issue)

	alerts = engine.Alerts()
	if len(alerts) != 1 || alerts[0].Reason != Normal {
		t.Fatalf("expected issue to alert again after its owner changed, got %+v", alerts)
	}
	if len(recorder.all()) != 2 {
		t.Errorf("expected a new window to be opened, got %d windows", len(recorder.all()))
	}

	if engine.Decline(source, 999) {
		t.Errorf("expected Decline of an unknown issue to report false")
	}
}

func TestEngineDeclineKeepsNewReasons(t *testing.T) {
	engine, _ := newTestEngine(Policy{Unassigned: 30 * time.Minute, Unacknowledged: Disabled, Unresolved: Disabled})
	source := newFakeSource("alice")
	engine.AddSource(source)

	issue := unassigned(7)
	source.set(issue)
	engine.Decline(source, 7)

	aged := issue
	aged.RetrievedAt = created.Add(31 * time.Minute)
	source.set(aged)

	alerts := engine.Alerts()
	if len(alerts) != 1 || alerts[0].Reason != UnassignedTimer {
		t.Fatalf("expected only the unassigned timer to alert, got %+v", alerts)
	}
}

func TestEngineAcceptPostsUpdate(t *testing.T) {
	engine, recorder := newTestEngine(Policy{Unassigned: Disabled, Unacknowledged: Disabled, Unresolved: time.Hour})
	source := newFakeSource("alice")
	engine.AddSource(source)

	issue := unassigned(12)
	issue.RetrievedAt = created.Add(2 * time.Hour)
	source.set(issue)

	alerts := engine.Alerts()
	if len(alerts) != 1 || alerts[0].Reason != Normal|UnresolvedTimer {
		t.Fatalf("expected Normal|UnresolvedTimer, got %+v", alerts)
	}

	if !engine.Accept(source, 12) {
		t.Fatalf("expected Accept to find the alert")
	}
	if !recorder.all()[0].closed {
		t.Errorf("expected accepted window to be closed")
	}

	user := "alice"
	acknowledged := true
	expected := []model.IssueUpdateData{{ID: 12, Owner: &user, Acknowledged: &acknowledged}}
	if diff := cmp.Diff(expected, source.updates); diff != "" {
		t.Errorf("posted updates differ (-want +got):\n%s", diff)
	}

	// the update is not confirmed yet
	engine.Refresh()
	if alerts := engine.Alerts(); len(alerts) != 0 {
		t.Fatalf("expected no alert before the update is confirmed, got %+v", alerts)
	}

	ackedAt := created.Add(2 * time.Hour)
	confirmed := issue
	confirmed.Owner = "alice"
	confirmed.AcknowledgedAt = &ackedAt
	source.set(confirmed)
	if alerts := engine.Alerts(); len(alerts) != 0 {
		t.Fatalf("expected no alert after the update is confirmed, got %+v", alerts)
	}
}

func TestEngineClearsSuppressionForVanishedIssues(t *testing.T) {
	engine, _ := newTestEngine(DefaultPolicy())
	source := newFakeSource("alice")
	engine.AddSource(source)

	issue := unassigned(3)
	source.set(issue)
	engine.Decline(source, 3)

	source.set()

	engine.mu.Lock()
	suppressed := len(engine.sources[source].suppressed)
	engine.mu.Unlock()
	if suppressed != 0 {
		t.Fatalf("expected suppression to be cleared, %d records left", suppressed)
	}

	source.set(issue)
	if alerts := engine.Alerts(); len(alerts) != 1 {
		t.Errorf("expected the returning issue to alert, got %+v", alerts)
	}
}

func TestEngineClosesWindowsOfResolvedIssues(t *testing.T) {
	engine, recorder := newTestEngine(DefaultPolicy())
	source := newFakeSource("alice")
	engine.AddSource(source)

	source.set(unassigned(1), unassigned(2))
	if len(engine.Alerts()) != 2 {
		t.Fatalf("expected two alerts, got %+v", engine.Alerts())
	}

	resolvedAt := created.Add(time.Hour)
	resolved := unassigned(1)
	resolved.ResolvedAt = &resolvedAt
	source.set(resolved, unassigned(2))

	windows := recorder.all()
	if !windows[0].closed || windows[1].closed {
		t.Errorf("expected only the resolved issue's window to close")
	}
}

func TestEngineLayout(t *testing.T) {
	engine, recorder := newTestEngine(DefaultPolicy())
	source := newFakeSource("alice")
	engine.AddSource(source)

	source.set(unassigned(1), unassigned(2), unassigned(3))
	windows := recorder.all()
	expected := []Point{{X: 59, Y: 24}, {X: 59, Y: 18}, {X: 59, Y: 12}}
	for i, w := range windows {
		if w.position() != expected[i] {
			t.Errorf("window %d: expected %+v, got %+v", i, expected[i], w.position())
		}
	}

	engine.Decline(source, 1)
	if windows[1].position() != expected[0] || windows[2].position() != expected[1] {
		t.Errorf("expected windows to move down after one closed, got %+v and %+v", windows[1].position(), windows[2].position())
	}

	moves := len(windows[1].moves)
	engine.SetScreen(Screen{Width: 100, Height: 30, Margin: 1, Gap: 1})
	if len(windows[1].moves) != moves {
		t.Errorf("expected unchanged geometry not to move windows")
	}

	engine.SetScreen(Screen{Width: 80, Height: 20, Margin: 0, Gap: 0})
	if windows[1].position() != (Point{X: 40, Y: 15}) || windows[2].position() != (Point{X: 40, Y: 10}) {
		t.Errorf("unexpected positions after resize: %+v and %+v", windows[1].position(), windows[2].position())
	}
}

func TestEngineRemoveSource(t *testing.T) {
	engine, recorder := newTestEngine(DefaultPolicy())
	source := newFakeSource("alice")
	engine.AddSource(source)
	engine.AddSource(source)
	if source.subscribers() != 1 {
		t.Fatalf("expected one subscription, got %d", source.subscribers())
	}

	source.set(unassigned(1))
	engine.RemoveSource(source)

	if source.subscribers() != 0 {
		t.Errorf("expected subscription to be removed")
	}
	if !recorder.all()[0].closed {
		t.Errorf("expected window to be closed")
	}
	if len(engine.Alerts()) != 0 {
		t.Errorf("expected no alerts")
	}

	engine.RemoveSource(source)
}

type scriptedService struct {
	mu      sync.Mutex
	issues  []model.IssueData
	updates []model.IssueUpdateData
}

func (s *scriptedService) set(issues ...model.IssueData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues = issues
}

func (s *scriptedService) ListIssues(_ context.Context, opts api.ListOptions) ([]model.IssueData, error) {
	if opts.IncludeResolved {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.IssueData(nil), s.issues...), nil
}

func (s *scriptedService) GetIssue(_ context.Context, id int) (*model.IssueData, error) {
	return nil, &api.StatusError{StatusCode: 404}
}

func (s *scriptedService) UpdateIssue(_ context.Context, update model.IssueUpdateData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update)
	return nil
}

// ownerLoop stands in for the UI goroutine that engine events are posted to
type ownerLoop struct {
	events chan func()
}

func (l *ownerLoop) post(fn func()) {
	l.events <- fn
}

func (l *ownerLoop) runUntil(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !condition() {
		select {
		case fn := <-l.events:
			fn()
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func TestEngineFollowsMonitor(t *testing.T) {
	service := &scriptedService{}
	service.set(model.IssueData{ID: 42, Summary: "Cook failure", Notify: true, CreatedAt: created, RetrievedAt: created})

	m, err := monitor.New(monitor.Options{
		APIURL:       "https://ugs.example.com",
		UserName:     "alice",
		Source:       service,
		PollInterval: time.Hour,
		Logger:       logrus.New(),
	})
	if err != nil {
		t.Fatalf("monitor.New: %v", err)
	}

	loop := &ownerLoop{events: make(chan func(), 64)}
	recorder := &windowRecorder{}
	engine := NewEngine(Options{
		Policy:    DefaultPolicy(),
		NewWindow: recorder.factory,
		Screen:    Screen{Width: 100, Height: 30},
		Post:      loop.post,
		Logger:    logrus.New(),
	})
	engine.AddSource(m)
	m.AddRef()
	defer m.Release()
	defer engine.Close()

	loop.runUntil(t, "the alert to open", func() bool { return len(engine.Alerts()) == 1 })
	windows := recorder.all()
	if len(windows) != 1 || engine.Alerts()[0].Reason != Normal {
		t.Fatalf("expected one Normal alert, got %+v", engine.Alerts())
	}

	service.set(model.IssueData{ID: 42, Summary: "Cook failure", Owner: "alice", Notify: true, CreatedAt: created, RetrievedAt: created})
	m.Refresh()
	loop.runUntil(t, "the alert to be updated", func() bool {
		alerts := engine.Alerts()
		return len(alerts) == 1 && alerts[0].Reason == Owner
	})
	windows = recorder.all()
	if len(windows) != 1 {
		t.Fatalf("expected the window to be updated in place, got %d windows", len(windows))
	}
	if windows[0].closed || windows[0].reason != Owner || windows[0].issue.Owner != "alice" {
		t.Errorf("expected open window showing the new owner, got %+v", windows[0])
	}

	service.set()
	m.Refresh()
	loop.runUntil(t, "the alert to close", func() bool { return len(engine.Alerts()) == 0 })
	if !windows[0].closed {
		t.Errorf("expected the window to be closed")
	}

	engine.mu.Lock()
	suppressed := len(engine.sources[m].suppressed)
	engine.mu.Unlock()
	if suppressed != 0 {
		t.Errorf("expected no suppression records, got %d", suppressed)
	}
}
