package health

import (
	"context"
	"fmt"

	"mercator-hq/admission/pkg/resilience/breaker"
)

// Pinger is satisfied by the quota store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreCheck fails when the quota store is unreachable. The limiter fails
// open in that case, so readiness is the only place the outage surfaces.
func StoreCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("quota store unreachable: %w", err)
		}
		return nil
	}
}

// BreakerCheck fails when the share of healthy breakers drops below
// minPercentage.
func BreakerCheck(reg *breaker.Registry, minPercentage float64) CheckFunc {
	return func(ctx context.Context) error {
		summary := reg.HealthSummary()
		if summary.HealthPercentage < minPercentage {
			return fmt.Errorf("breaker health %.1f%% below %.1f%% (%d of %d open)",
				summary.HealthPercentage, minPercentage, summary.Open, summary.Total)
		}
		return nil
	}
}
