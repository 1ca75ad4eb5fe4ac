// Package monitor polls the build issue service in the background and keeps the current
// issue set for any number of owners.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/petr-muller/ugs/internal/issuewatch/api"
	"github.com/petr-muller/ugs/internal/issuewatch/compare"
	"github.com/petr-muller/ugs/internal/issuewatch/dispatch"
	"github.com/petr-muller/ugs/internal/issuewatch/model"
)

const (
	DefaultPollInterval = 2 * time.Minute
	DefaultMaxResolved  = 20
)

// Source is the subset of the issue service client used by the monitor
type Source interface {
	ListIssues(ctx context.Context, opts api.ListOptions) ([]model.IssueData, error)
	GetIssue(ctx context.Context, id int) (*model.IssueData, error)
	UpdateIssue(ctx context.Context, update model.IssueUpdateData) error
}

// Options configures a Monitor
type Options struct {
	APIURL   string
	UserName string

	// Source overrides the REST client built from APIURL
	Source       Source
	PollInterval time.Duration
	// MaxResolved bounds the page of resolved issues fetched on every poll
	MaxResolved int
	Logger      logrus.FieldLogger
}

type subscriber struct {
	post    dispatch.PostFunc
	handler func()
}

// Monitor tracks the issues reported by one issue service for one user. It is reference
// counted: polling runs while at least one owner holds a reference.
type Monitor struct {
	apiURL       string
	userName     string
	source       Source
	pollInterval time.Duration
	maxResolved  int
	logger       logrus.FieldLogger

	refresh chan struct{}

	mu            sync.Mutex
	refCount      int
	starts        int
	cancel        context.CancelFunc
	done          chan struct{}
	issues        []model.IssueData
	tracked       map[int]int
	updates       []model.IssueUpdateData
	postedSeq     int
	confirmedSeq  int
	statusMessage string
	subscribers   map[int]subscriber
	nextSubID     int
}

// New creates a monitor. It does not poll until the first AddRef.
func New(opts Options) (*Monitor, error) {
	if err := api.ValidateURL(opts.APIURL); err != nil {
		return nil, err
	}

	source := opts.Source
	if source == nil {
		client, err := api.NewClient(opts.APIURL)
		if err != nil {
			return nil, fmt.Errorf("cannot create issue service client: %w", err)
		}
		source = client
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxResolved <= 0 {
		opts.MaxResolved = DefaultMaxResolved
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.WithField("component", "issue-monitor")
	}

	return &Monitor{
		apiURL:       opts.APIURL,
		userName:     opts.UserName,
		source:       source,
		pollInterval: opts.PollInterval,
		maxResolved:  opts.MaxResolved,
		logger:       logger.WithFields(logrus.Fields{"api": opts.APIURL, "user": opts.UserName}),
		refresh:      make(chan struct{}, 1),
		tracked:      make(map[int]int),
		subscribers:  make(map[int]subscriber),
	}, nil
}

// APIURL returns the URL of the issue service
func (m *Monitor) APIURL() string {
	return m.apiURL
}

// UserName returns the user the monitor tracks issues for
func (m *Monitor) UserName() string {
	return m.userName
}

// AddRef takes a reference to the monitor, starting the poll loop on the first one.
// Subscriptions made before a previous release stay in place.
func (m *Monitor) AddRef() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refCount++
	if m.refCount == 1 {
		m.startLocked()
	}
}

// Release drops a reference. When the last one is dropped, polling stops and tracked
// issues and queued updates are discarded. Subscriptions are kept until their owners
// unsubscribe. Extra calls are ignored.
func (m *Monitor) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refCount == 0 {
		return
	}
	m.refCount--
	if m.refCount > 0 {
		return
	}

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if len(m.updates) > 0 {
		m.logger.Debugf("Dropping %d unsent issue updates", len(m.updates))
	}
	m.issues = nil
	m.updates = nil
	m.confirmedSeq = m.postedSeq
	m.tracked = make(map[int]int)
	m.statusMessage = ""
}

// RefCount returns the number of owners holding the monitor
func (m *Monitor) RefCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refCount
}

// Start makes sure the poll loop runs. It does nothing when the loop already runs or
// nobody holds a reference.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refCount > 0 {
		m.startLocked()
	}
}

func (m *Monitor) startLocked() {
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.starts++

	go m.run(ctx, done)
}

// Done returns a channel closed once the current poll loop has unwound. It is nil if the
// loop never started.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Subscribe registers handler to run, through post, after every poll that changes the
// issue set. The subscription outlives releases of the monitor; the returned function
// unsubscribes.
func (m *Monitor) Subscribe(post dispatch.PostFunc, handler func()) func() {
	if post == nil {
		post = dispatch.Immediate
	}

	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = subscriber{post: post, handler: handler}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// GetIssues returns the issues seen by the last successful poll
func (m *Monitor) GetIssues() []model.IssueData {
	m.mu.Lock()
	defer m.mu.Unlock()

	issues := make([]model.IssueData, len(m.issues))
	copy(issues, m.issues)
	return issues
}

// PostUpdate queues an update to be sent by the poll loop
func (m *Monitor) PostUpdate(update model.IssueUpdateData) {
	m.mu.Lock()
	if m.refCount == 0 {
		m.mu.Unlock()
		m.logger.WithField("issue", update.ID).Warn("Dropping update posted to a released monitor")
		return
	}
	m.updates = append(m.updates, update)
	m.postedSeq++
	m.mu.Unlock()

	m.Refresh()
}

// HasPendingUpdate is true while a posted update has not been confirmed by a later poll
func (m *Monitor) HasPendingUpdate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.postedSeq > m.confirmedSeq
}

// StartTracking keeps issue id in the issue set even after it leaves the default query
func (m *Monitor) StartTracking(id int) {
	m.mu.Lock()
	m.tracked[id]++
	known := false
	for _, issue := range m.issues {
		if issue.ID == id {
			known = true
			break
		}
	}
	m.mu.Unlock()

	if !known {
		m.Refresh()
	}
}

// StopTracking drops one interest in issue id
func (m *Monitor) StopTracking(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if count, ok := m.tracked[id]; ok {
		if count <= 1 {
			delete(m.tracked, id)
		} else {
			m.tracked[id] = count - 1
		}
	}
}

// Refresh asks the poll loop to poll now instead of waiting for the interval
func (m *Monitor) Refresh() {
	select {
	case m.refresh <- struct{}{}:
	default:
	}
}

// LastStatusMessage describes the last poll failure, or is empty after a successful poll
func (m *Monitor) LastStatusMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusMessage
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.refresh:
		case <-timer.C:
		}

		seq := m.sendUpdates(ctx)
		m.poll(ctx, seq)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(m.pollInterval)
	}
}

// sendUpdates sends all queued updates and returns the sequence number of the last one
func (m *Monitor) sendUpdates(ctx context.Context) int {
	m.mu.Lock()
	updates := m.updates
	m.updates = nil
	seq := m.postedSeq
	m.mu.Unlock()

	for _, update := range updates {
		if ctx.Err() != nil {
			break
		}
		if err := m.source.UpdateIssue(ctx, update); err != nil {
			m.logger.WithError(err).WithField("issue", update.ID).Warn("Failed to update issue")
		}
	}
	return seq
}

func (m *Monitor) poll(ctx context.Context, seq int) {
	issues, err := m.fetch(ctx)
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		m.logger.WithError(err).Warn("Failed to poll issues")
		m.mu.Lock()
		m.statusMessage = err.Error()
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	// Release cancels under the lock, so a cancelled context here means the results are stale
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	changed := !compare.Equal(issues, m.issues)
	m.issues = issues
	m.statusMessage = ""
	if seq > m.confirmedSeq {
		m.confirmedSeq = seq
	}
	var subscribers []subscriber
	if changed {
		for _, sub := range m.subscribers {
			subscribers = append(subscribers, sub)
		}
	}
	m.mu.Unlock()

	if changed {
		m.logger.Debugf("Issue set changed, %d issues", len(issues))
	}
	for _, sub := range subscribers {
		sub.post(sub.handler)
	}
}

func (m *Monitor) fetch(ctx context.Context) ([]model.IssueData, error) {
	var open, resolved []model.IssueData
	var resolvedErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		open, err = m.source.ListIssues(gctx, api.ListOptions{})
		return err
	})
	// the resolved page is secondary, its failure does not fail the poll
	g.Go(func() error {
		resolved, resolvedErr = m.source.ListIssues(gctx, api.ListOptions{IncludeResolved: true, MaxResults: m.maxResolved})
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if resolvedErr != nil {
		m.logger.WithError(resolvedErr).Warn("Failed to fetch resolved issues, keeping the previous ones")
		resolved = nil
		m.mu.Lock()
		for _, issue := range m.issues {
			if !issue.IsActive() {
				resolved = append(resolved, issue)
			}
		}
		m.mu.Unlock()
	}

	merged := make(map[int]model.IssueData, len(open)+len(resolved))
	for _, issue := range resolved {
		merged[issue.ID] = issue
	}
	for _, issue := range open {
		merged[issue.ID] = issue
	}

	m.mu.Lock()
	var missing []int
	for id := range m.tracked {
		if _, ok := merged[id]; !ok {
			missing = append(missing, id)
		}
	}
	m.mu.Unlock()

	for _, id := range missing {
		issue, err := m.source.GetIssue(ctx, id)
		if err != nil {
			m.logger.WithError(err).WithField("issue", id).Debug("Failed to fetch tracked issue")
			continue
		}
		merged[issue.ID] = *issue
	}

	issues := make([]model.IssueData, 0, len(merged))
	for _, issue := range merged {
		issues = append(issues, issue)
	}
	sort.Slice(issues, func(i, j int) bool {
		return issues[i].ID < issues[j].ID
	})
	return issues, nil
}
