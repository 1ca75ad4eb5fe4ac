package monitor

import (
	"sync"
)

type registryKey struct {
	apiURL   string
	userName string
}

// Registry shares one Monitor between all owners interested in the same service and user
type Registry struct {
	defaults Options

	mu       sync.Mutex
	monitors map[registryKey]*Monitor
}

// NewRegistry creates a registry. defaults is used for every monitor it creates, with
// APIURL and UserName filled in per key.
func NewRegistry(defaults Options) *Registry {
	return &Registry{
		defaults: defaults,
		monitors: make(map[registryKey]*Monitor),
	}
}

// Acquire returns the monitor for apiURL and userName with a reference taken on behalf
// of the caller, creating it on first use
func (r *Registry) Acquire(apiURL, userName string) (*Monitor, error) {
	key := registryKey{apiURL: apiURL, userName: userName}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.monitors[key]
	if !ok {
		opts := r.defaults
		opts.APIURL = apiURL
		opts.UserName = userName

		var err error
		m, err = New(opts)
		if err != nil {
			return nil, err
		}
		r.monitors[key] = m
	}

	m.AddRef()
	return m, nil
}

// Release drops the caller's reference, forgetting the monitor once nobody holds it
func (r *Registry) Release(m *Monitor) {
	if m == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey{apiURL: m.apiURL, userName: m.userName}
	if r.monitors[key] != m {
		return
	}

	m.Release()
	if m.RefCount() == 0 {
		delete(r.monitors, key)
	}
}

// Monitors returns the monitors currently held by at least one owner
func (r *Registry) Monitors() []*Monitor {
	r.mu.Lock()
	defer r.mu.Unlock()

	monitors := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		monitors = append(monitors, m)
	}
	return monitors
}
