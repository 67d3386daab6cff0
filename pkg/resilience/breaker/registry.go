package breaker

import (
	"sort"
	"sync"
)

// HealthSummary aggregates breaker states.
type HealthSummary struct {
	Total            int     `json:"total"`
	Open             int     `json:"open"`
	HalfOpen         int     `json:"half_open"`
	Closed           int     `json:"closed"`
	HealthPercentage float64 `json:"health_percentage"`
}

// Registry creates breakers lazily and caches them by name. It is created
// once at startup and passed to every consumer.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults Config
	configs  map[string]Config
	opts     []Option
}

// NewRegistry creates a registry. Breakers created without an explicit
// config use configs[name] when present, else defaults. opts apply to
// every breaker.
func NewRegistry(defaults Config, configs map[string]Config, opts ...Option) *Registry {
	named := make(map[string]Config, len(configs))
	for name, cfg := range configs {
		named[name] = cfg
	}
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults.WithDefaults(),
		configs:  named,
		opts:     opts,
	}
}

// GetOrCreate returns the breaker called name, creating it on first use.
// cfg only applies at creation; later calls return the cached breaker
// whatever cfg they pass.
func (r *Registry) GetOrCreate(name string, cfg *Config) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	effective := r.defaults
	if named, ok := r.configs[name]; ok {
		effective = named
	}
	if cfg != nil {
		effective = *cfg
	}

	cb = New(name, effective, r.opts...)
	r.breakers[name] = cb
	return cb
}

// Get returns the breaker called name if it exists.
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Names returns the registered breaker names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

func (r *Registry) snapshot() []*CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		all = append(all, cb)
	}
	return all
}

// AllMetrics returns metrics for every breaker keyed by name.
func (r *Registry) AllMetrics() map[string]Metrics {
	all := r.snapshot()
	out := make(map[string]Metrics, len(all))
	for _, cb := range all {
		out[cb.Name()] = cb.Metrics()
	}
	return out
}

// HealthSummary counts breakers by state. An empty registry is 100%
// healthy.
func (r *Registry) HealthSummary() HealthSummary {
	var s HealthSummary
	for _, cb := range r.snapshot() {
		s.Total++
		switch cb.State() {
		case StateOpen:
			s.Open++
		case StateHalfOpen:
			s.HalfOpen++
		default:
			s.Closed++
		}
	}

	if s.Total == 0 {
		s.HealthPercentage = 100
		return s
	}
	s.HealthPercentage = float64(s.Closed+s.HalfOpen) / float64(s.Total) * 100
	return s
}

// Reset resets the breaker called name.
func (r *Registry) Reset(name string) error {
	cb, ok := r.Get(name)
	if !ok {
		return ErrNotFound
	}
	cb.Reset()
	return nil
}

// ResetAll resets every breaker. Membership is kept.
func (r *Registry) ResetAll() {
	for _, cb := range r.snapshot() {
		cb.Reset()
	}
}
