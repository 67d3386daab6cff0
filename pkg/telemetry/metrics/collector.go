package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mercator-hq/admission/pkg/quota"
	"mercator-hq/admission/pkg/resilience/breaker"
)

// Namespace prefixes every metric the service exports.
const Namespace = "admission"

// maxRoutes bounds the number of distinct route labels.
const maxRoutes = 200

// Collector owns the service's Prometheus registry and the metric sets
// registered on it. Components receive their metric set at construction;
// the collector only wires them to one registry and exposes it.
type Collector struct {
	registry *prometheus.Registry

	quota    *quota.Metrics
	breakers *breaker.Collectors
	http     *RequestMetrics

	routes *CardinalityLimiter
}

// NewCollector creates a collector with a fresh registry holding the Go
// runtime, process, quota, breaker and HTTP metrics.
func NewCollector() *Collector {
	return NewCollectorWithRegistry(prometheus.NewRegistry())
}

// NewCollectorWithRegistry registers all metric sets on registry.
func NewCollectorWithRegistry(registry *prometheus.Registry) *Collector {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Collector{
		registry: registry,
		quota:    quota.NewMetrics(registry),
		breakers: breaker.NewCollectors(registry),
		http:     NewRequestMetrics(registry),
		routes:   NewCardinalityLimiter(maxRoutes),
	}
}

// Quota returns the limiter's metric set.
func (c *Collector) Quota() *quota.Metrics {
	return c.quota
}

// Breakers returns the circuit breaker metric set.
func (c *Collector) Breakers() *breaker.Collectors {
	return c.breakers
}

// HTTP returns the request metric set.
func (c *Collector) HTTP() *RequestMetrics {
	return c.http
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// route caps the cardinality of route labels, folding overflow into
// "other".
func (c *Collector) route(route string) string {
	if route == "" {
		return "unmatched"
	}
	if !c.routes.Allow(route) {
		return "other"
	}
	return route
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label combinations per metric.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow checks if a label set is allowed. Returns true if the label set
// already exists or if we haven't reached the cardinality limit yet.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	// Double-check after acquiring write lock
	if _, exists := cl.current[labelSet]; exists {
		return true
	}

	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
