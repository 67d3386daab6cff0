package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors contains Prometheus metrics for circuit breakers.
// A nil *Collectors is valid and records nothing.
type Collectors struct {
	state *prometheus.GaugeVec
	calls *prometheus.CounterVec
}

// NewCollectors creates breaker collectors registered with reg. A nil
// registerer creates unregistered collectors.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)

	return &Collectors{
		state: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "admission_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),

		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_breaker_calls_total",
				Help: "Guarded calls by breaker and result (success, failure, rejected)",
			},
			[]string{"name", "result"},
		),
	}
}

func (c *Collectors) setState(name string, s State) {
	if c == nil {
		return
	}
	c.state.WithLabelValues(name).Set(float64(s))
}

func (c *Collectors) recordCall(name, result string) {
	if c == nil {
		return
	}
	c.calls.WithLabelValues(name, result).Inc()
}
