// Package metrics holds named counters and sampled values in memory so the
// bridge can report what its loop is doing.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

type Collector interface {
	Counter(name string) Counter
	RegisterCallback(name string, callback Callback)
	Export() []Sample
}

type Counter interface {
	Inc()
	Add(delta uint64)
	Value() uint64
}

// Callback is sampled on every Export.
type Callback func() float64

type Sample struct {
	Name  string
	Value float64
}

var _ Collector = (*Registry)(nil)

// Registry is a Collector safe for concurrent use. Counter increments are
// lock free; only registration takes the lock.
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]*counter
	callbacks map[string]Callback
}

func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*counter),
		callbacks: make(map[string]Callback),
	}
}

// Counter returns the counter registered under name, creating it on first use.
func (r *Registry) Counter(name string) Counter {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[name]; !ok {
		c = &counter{}
		r.counters[name] = c
	}
	return c
}

// RegisterCallback replaces any callback already registered under name.
func (r *Registry) RegisterCallback(name string, callback Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[name] = callback
}

// Export samples every counter and callback, sorted by name.
func (r *Registry) Export() []Sample {
	r.mu.RLock()
	samples := make([]Sample, 0, len(r.counters)+len(r.callbacks))
	for name, c := range r.counters {
		samples = append(samples, Sample{Name: name, Value: float64(c.Value())})
	}
	callbacks := make(map[string]Callback, len(r.callbacks))
	for name, cb := range r.callbacks {
		callbacks[name] = cb
	}
	r.mu.RUnlock()

	for name, cb := range callbacks {
		samples = append(samples, Sample{Name: name, Value: cb()})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Name < samples[j].Name })
	return samples
}

type counter struct {
	value atomic.Uint64
}

func (c *counter) Inc() { c.value.Add(1) }

func (c *counter) Add(delta uint64) { c.value.Add(delta) }

func (c *counter) Value() uint64 { return c.value.Load() }
