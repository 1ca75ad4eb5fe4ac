package ui

import (
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/petr-muller/ugs/internal/issuewatch/alerts"
	"github.com/petr-muller/ugs/internal/issuewatch/dispatch"
	"github.com/petr-muller/ugs/internal/issuewatch/model"
)

type fakeSource struct {
	mu        sync.Mutex
	issues    []model.IssueData
	updates   []model.IssueUpdateData
	handlers  []func()
	refreshes int
	status    string
}

func (f *fakeSource) APIURL() string            { return "https://ugs.example.com" }
func (f *fakeSource) UserName() string          { return "alice" }
func (f *fakeSource) LastStatusMessage() string { return f.status }

func (f *fakeSource) HasPendingUpdate() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates) > 0
}

func (f *fakeSource) Refresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
}

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
	f.handlers = append(f.handlers, func() { post(handler) })
	return func() {}
}

var created = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func newWatchTest(issues ...model.IssueData) (*WatchModel, *fakeSource) {
	source := &fakeSource{issues: issues}
	m := NewWatchModel(WatchOptions{
		Sources: []WatchSource{source},
		Policy:  alerts.DefaultPolicy(),
		Post:    dispatch.Immediate,
		Logger:  logrus.New(),
	})
	m.Update(tea.WindowSizeMsg{Width: 140, Height: 40})
	return m, source
}

func key(k string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

func TestWatchModelShowsAlertPanels(t *testing.T) {
	m, _ := newWatchTest(
		model.IssueData{ID: 42, Summary: "Compile errors in ShaderCompiler.cpp", Notify: true, CreatedAt: created, RetrievedAt: created},
		model.IssueData{ID: 43, Summary: "Cook failure", Owner: "bob", CreatedAt: created, RetrievedAt: created},
	)

	open := m.openPanels()
	if len(open) != 1 {
		t.Fatalf("expected one alert panel, got %d", len(open))
	}
	if open[0].position.Y <= 0 || open[0].position.X <= 0 {
		t.Errorf("expected the panel to be placed in the bottom right corner, got %+v", open[0].position)
	}

	view := m.View()
	for _, expected := range []string{"Issue 42", "Nobody is looking into this issue yet.", "Unacknowledged", "https://ugs.example.com as alice"} {
		if !strings.Contains(view, expected) {
			t.Errorf("expected view to contain %q", expected)
		}
	}
	if len(m.rows) != 2 {
		t.Errorf("expected two rows, got %d", len(m.rows))
	}
}

func TestWatchModelDecline(t *testing.T) {
	m, source := newWatchTest(model.IssueData{ID: 42, Summary: "Link errors", Notify: true, CreatedAt: created, RetrievedAt: created})

	m.Update(key("d"))

	if len(m.openPanels()) != 0 {
		t.Errorf("expected the panel to close")
	}
	if len(m.Engine().Alerts()) != 0 {
		t.Errorf("expected no alerts after decline")
	}
	if len(source.updates) != 0 {
		t.Errorf("expected decline not to post updates, got %+v", source.updates)
	}
}

func TestWatchModelAccept(t *testing.T) {
	m, source := newWatchTest(
		model.IssueData{ID: 42, Summary: "Link errors", Notify: true, CreatedAt: created, RetrievedAt: created},
		model.IssueData{ID: 44, Summary: "Test failures", Notify: true, CreatedAt: created, RetrievedAt: created},
	)

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m.Update(key("a"))

	user := "alice"
	acknowledged := true
	expected := []model.IssueUpdateData{{ID: 44, Owner: &user, Acknowledged: &acknowledged}}
	if diff := cmp.Diff(expected, source.updates); diff != "" {
		t.Errorf("posted updates differ (-want +got):\n%s", diff)
	}
	if !strings.Contains(m.View(), "Updating…") {
		t.Errorf("expected the view to show the pending update")
	}

	open := m.openPanels()
	if len(open) != 1 || open[0].issue.ID != 42 {
		t.Errorf("expected only the alert for issue 42 to stay open")
	}
}

func TestWatchModelMessages(t *testing.T) {
	m, source := newWatchTest()

	ran := false
	m.Update(postedMsg{fn: func() { ran = true }})
	if !ran {
		t.Errorf("expected posted callback to run")
	}

	if _, cmd := m.Update(tickMsg(time.Now())); cmd == nil {
		t.Errorf("expected tick to schedule the next tick")
	}

	m.Update(key("r"))
	if source.refreshes != 1 {
		t.Errorf("expected refresh to reach the source, got %d refreshes", source.refreshes)
	}

	source.status = "connection refused"
	if !strings.Contains(m.View(), "connection refused") {
		t.Errorf("expected the view to show the poll error")
	}

	if _, cmd := m.Update(key("q")); cmd == nil {
		t.Errorf("expected quit command")
	}
}

func TestWatchModelTickReevaluatesTimers(t *testing.T) {
	m, source := newWatchTest(model.IssueData{ID: 42, Summary: "Link errors", CreatedAt: created, RetrievedAt: created})
	m.Engine().SetPolicy(alerts.Policy{Unassigned: 30 * time.Minute, Unacknowledged: alerts.Disabled, Unresolved: alerts.Disabled})
	if len(m.openPanels()) != 0 {
		t.Fatalf("expected no alert for a fresh issue")
	}

	source.mu.Lock()
	source.issues[0].RetrievedAt = created.Add(31 * time.Minute)
	source.mu.Unlock()
	m.Update(tickMsg(time.Now()))

	open := m.openPanels()
	if len(open) != 1 || open[0].reason != alerts.UnassignedTimer {
		t.Errorf("expected an unassigned timer alert after the tick")
	}
}
