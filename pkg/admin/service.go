package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"mercator-hq/admission/pkg/quota"
	"mercator-hq/admission/pkg/resilience/breaker"
)

// ErrEmptyIdentifier is returned by identifier operations given "".
var ErrEmptyIdentifier = errors.New("identifier is required")

// Service exposes read and reset operations over the breaker registry and
// the quota limiter. Read operations never create breakers or quota state.
type Service struct {
	breakers *breaker.Registry
	limiter  *quota.Limiter
	logger   *slog.Logger
}

// NewService creates a Service. A nil logger uses slog.Default().
func NewService(breakers *breaker.Registry, limiter *quota.Limiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		breakers: breakers,
		limiter:  limiter,
		logger:   logger.With("component", "admin"),
	}
}

// GetAllCircuitBreakerMetrics returns metrics for every registered breaker,
// sorted by name.
func (s *Service) GetAllCircuitBreakerMetrics() []breaker.Metrics {
	all := s.breakers.AllMetrics()
	out := make([]breaker.Metrics, 0, len(all))
	for _, m := range all {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetCircuitBreaker returns the metrics of one breaker, or
// breaker.ErrNotFound.
func (s *Service) GetCircuitBreaker(name string) (breaker.Metrics, error) {
	cb, ok := s.breakers.Get(name)
	if !ok {
		return breaker.Metrics{}, fmt.Errorf("%w: %q", breaker.ErrNotFound, name)
	}
	return cb.Metrics(), nil
}

// ResetCircuitBreaker closes a breaker and clears its history and counters.
func (s *Service) ResetCircuitBreaker(name string) error {
	if err := s.breakers.Reset(name); err != nil {
		return fmt.Errorf("%w: %q", err, name)
	}
	s.logger.Info("circuit breaker reset", "breaker", name)
	return nil
}

// ResetAllCircuitBreakers resets every registered breaker and returns how
// many there were.
func (s *Service) ResetAllCircuitBreakers() int {
	n := len(s.breakers.Names())
	s.breakers.ResetAll()
	s.logger.Info("all circuit breakers reset", "count", n)
	return n
}

// BreakerHealth summarizes breaker states.
func (s *Service) BreakerHealth() breaker.HealthSummary {
	return s.breakers.HealthSummary()
}

// GetTierComparisonTable returns the configured tiers and overrides.
func (s *Service) GetTierComparisonTable() quota.Comparison {
	return s.limiter.Comparison()
}

// GetUsage reports current usage of identifier under tier. Resource windows
// are included for each named resource.
func (s *Service) GetUsage(ctx context.Context, identifier, tier string, resources ...string) (*quota.UsageSnapshot, error) {
	if identifier == "" {
		return nil, ErrEmptyIdentifier
	}
	return s.limiter.GetUsageSnapshot(ctx, identifier, tier, resources...)
}

// ResetLimitsForIdentifier deletes all quota state of identifier and
// returns the number of keys removed.
func (s *Service) ResetLimitsForIdentifier(ctx context.Context, identifier string) (int, error) {
	if identifier == "" {
		return 0, ErrEmptyIdentifier
	}
	n, err := s.limiter.ResetAll(ctx, identifier)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to reset limits", "identifier", identifier, "error", err)
		return 0, err
	}
	return n, nil
}
