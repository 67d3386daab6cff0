package gateway

import (
	"testing"

	"mercator-hq/admission/pkg/quota"
	"mercator-hq/admission/pkg/quota/store"
	"mercator-hq/admission/pkg/telemetry/logging"
)

func testTiers(t *testing.T) *quota.TierTable {
	t.Helper()
	tiers, err := quota.NewTierTable([]quota.Tier{
		{
			Name:                    "basic",
			RequestsPerMinute:       3,
			RequestsPerHour:         100,
			RequestsPerDay:          1000,
			ExecutionsPerHour:       10,
			ExecutionsPerDay:        100,
			MaxConcurrentExecutions: 1,
			MaxTokensPerDay:         quota.Int64(1000),
		},
		{
			Name:                    "premium",
			RequestsPerMinute:       100,
			RequestsPerHour:         1000,
			RequestsPerDay:          10000,
			ExecutionsPerHour:       100,
			ExecutionsPerDay:        1000,
			MaxConcurrentExecutions: 10,
			MaxTokensPerDay:         quota.Int64(100000),
		},
	}, nil)
	if err != nil {
		t.Fatalf("failed to build tier table: %v", err)
	}
	return tiers
}

func newTestLimiter(t *testing.T) *quota.Limiter {
	t.Helper()
	return quota.NewLimiter(store.NewMemoryStore(), testTiers(t), quota.WithLogger(logging.Discard()))
}
