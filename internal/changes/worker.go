// Package changes resolves spans of submitted Perforce changes for a stream in the
// background, and back-fills per-change metadata for them.
package changes

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/ugs/internal/issuewatch/dispatch"
	"github.com/petr-muller/ugs/internal/perforce"
)

// Options configures a Worker
type Options struct {
	Client perforce.Client
	// Filter is the depot path changes are listed under, e.g. //UE5/Main/...
	Filter string

	OnRangeUpdated          func(r *Range)
	OnChangeMetadataUpdated func(details ChangeDetails)
	// OnChangeMetadataFailed is called once a change could not be described after
	// MaxDescribeAttempts tries
	OnChangeMetadataFailed func(change int, err error)

	// RetryDelay is the pause after a failed describe, DefaultRetryDelay when zero
	RetryDelay time.Duration

	// Post delivers callbacks to the owner. Callbacks run on the worker goroutine when nil.
	Post   dispatch.PostFunc
	Logger logrus.FieldLogger
}

const (
	DefaultRetryDelay   = time.Second
	MaxDescribeAttempts = 3
)

// Worker fetches requested ranges in the order they were requested. While no request is
// queued, it describes changes of already fetched ranges that are not cached yet.
type Worker struct {
	client perforce.Client
	filter string
	post   dispatch.PostFunc
	logger logrus.FieldLogger

	retryDelay time.Duration

	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	requests  []*Range
	backfill  []int
	queued    sets.Set[int]
	details   map[int]ChangeDetails
	attempts  map[int]int
	disposing bool

	// callbackMu is held for reading while a callback runs, Dispose takes it for writing
	callbackMu              sync.RWMutex
	disposed                bool
	onRangeUpdated          func(r *Range)
	onChangeMetadataUpdated func(details ChangeDetails)
	onChangeMetadataFailed  func(change int, err error)
}

// NewWorker creates a worker and starts its goroutine
func NewWorker(opts Options) (*Worker, error) {
	if opts.Client == nil {
		return nil, errors.New("a Perforce client is required")
	}
	if opts.Filter == "" {
		return nil, errors.New("a depot path filter is required")
	}

	post := opts.Post
	if post == nil {
		post = dispatch.Immediate
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.WithField("component", "change-range-worker")
	}

	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		client:                  opts.Client,
		filter:                  opts.Filter,
		post:                    post,
		retryDelay:              retryDelay,
		logger:                  logger.WithField("filter", opts.Filter),
		cancel:                  cancel,
		wake:                    make(chan struct{}, 1),
		done:                    make(chan struct{}),
		queued:                  sets.New[int](),
		details:                 make(map[int]ChangeDetails),
		attempts:                make(map[int]int),
		onRangeUpdated:          opts.OnRangeUpdated,
		onChangeMetadataUpdated: opts.OnChangeMetadataUpdated,
		onChangeMetadataFailed:  opts.OnChangeMetadataFailed,
	}

	go w.run(ctx)
	return w, nil
}

// AddRequest queues r to be fetched after all previously queued ranges
func (w *Worker) AddRequest(r *Range) {
	if r == nil {
		return
	}

	w.mu.Lock()
	if w.disposing {
		w.mu.Unlock()
		return
	}
	w.requests = append(w.requests, r)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// TryGetChangeDetails returns cached metadata for change, without fetching it
func (w *Worker) TryGetChangeDetails(change int) (ChangeDetails, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	details, ok := w.details[change]
	return details, ok
}

// Dispose cancels outstanding work and detaches the callbacks; none run after it returns.
// It waits for a callback that is already running, so it must not be called from one
// unless callbacks are delivered through Post. The goroutine unwinds on its own, see Done.
func (w *Worker) Dispose() {
	w.mu.Lock()
	w.disposing = true
	w.requests = nil
	w.mu.Unlock()

	w.cancel()

	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.disposed = true
	w.onRangeUpdated = nil
	w.onChangeMetadataUpdated = nil
	w.onChangeMetadataFailed = nil
}

// Done returns a channel closed when the worker goroutine has exited
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	for {
		if ctx.Err() != nil {
			return
		}

		if r := w.nextRequest(); r != nil {
			w.fetchRange(ctx, r)
			continue
		}

		if change, ok := w.nextBackfill(); ok {
			w.describeChange(ctx, change)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}
	}
}

func (w *Worker) nextRequest() *Range {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.requests) == 0 {
		return nil
	}
	r := w.requests[0]
	w.requests[0] = nil
	w.requests = w.requests[1:]
	return r
}

func (w *Worker) nextBackfill() (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for len(w.backfill) > 0 {
		change := w.backfill[0]
		w.backfill = w.backfill[1:]
		if _, cached := w.details[change]; !cached {
			return change, true
		}
	}
	return 0, false
}

func (w *Worker) fetchRange(ctx context.Context, r *Range) {
	changes, err := w.client.GetChanges(ctx, w.filter, r.MinChange, r.MaxChange)
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		w.logger.WithError(err).Debugf("Failed to fetch changes %s", perforce.RangeSpec(w.filter, r.MinChange, r.MaxChange))
		r.setError(err.Error())
	} else {
		r.setChanges(changes)

		w.mu.Lock()
		for _, change := range changes {
			if _, cached := w.details[change.Number]; cached || w.queued.Has(change.Number) {
				continue
			}
			w.queued.Insert(change.Number)
			w.backfill = append(w.backfill, change.Number)
		}
		w.mu.Unlock()
	}

	w.emit(func() {
		if w.onRangeUpdated != nil {
			w.onRangeUpdated(r)
		}
	})
}

func (w *Worker) describeChange(ctx context.Context, change int) {
	record, err := w.client.Describe(ctx, change)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		w.describeFailed(ctx, change, err)
		return
	}

	details := DetailsFromDescribe(record)
	details.Number = change

	w.mu.Lock()
	delete(w.attempts, change)
	if existing, cached := w.details[change]; cached {
		details = existing
	} else {
		w.details[change] = details
	}
	w.mu.Unlock()

	w.emit(func() {
		if w.onChangeMetadataUpdated != nil {
			w.onChangeMetadataUpdated(details)
		}
	})
}

// describeFailed requeues change at the back of the backfill, or gives up on it after
// MaxDescribeAttempts. A later range that references a dropped change queues it again.
func (w *Worker) describeFailed(ctx context.Context, change int, err error) {
	logger := w.logger.WithError(err).WithField("change", change)

	w.mu.Lock()
	w.attempts[change]++
	attempts := w.attempts[change]
	retry := attempts < MaxDescribeAttempts
	if retry {
		w.backfill = append(w.backfill, change)
	} else {
		delete(w.attempts, change)
		w.queued.Delete(change)
	}
	w.mu.Unlock()

	if !retry {
		logger.Warnf("Giving up describing change after %d attempts", attempts)
		w.emit(func() {
			if w.onChangeMetadataFailed != nil {
				w.onChangeMetadataFailed(change, err)
			}
		})
		return
	}

	logger.Debugf("Failed to describe change (attempt %d), will retry", attempts)
	timer := time.NewTimer(w.retryDelay)
	defer timer.Stop()
	// a new request ends the pause early, it is served before the retry
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-w.wake:
	}
}

func (w *Worker) emit(fn func()) {
	w.post(func() {
		w.callbackMu.RLock()
		defer w.callbackMu.RUnlock()

		if w.disposed {
			return
		}
		fn()
	})
}
