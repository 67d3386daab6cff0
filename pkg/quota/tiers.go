package quota

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNoTiers is returned when a tier table is built without tiers.
var ErrNoTiers = errors.New("at least one tier must be configured")

// AgentOverrides maps resource name to tier name to an executions-per-hour
// ceiling that replaces the tier default for that resource.
type AgentOverrides map[string]map[string]int64

// TierTable is the immutable set of configured tiers and agent overrides.
// It is safe for concurrent use.
type TierTable struct {
	tiers     map[string]Tier
	order     []string
	fallback  string
	overrides AgentOverrides
}

// NewTierTable validates and copies the given tiers and overrides.
//
// Tiers keep their configured order for listing. The fallback for unknown
// tier names is the most restrictive tier: lowest requests per minute, then
// lowest requests per day, then name order.
func NewTierTable(tiers []Tier, overrides AgentOverrides) (*TierTable, error) {
	if len(tiers) == 0 {
		return nil, ErrNoTiers
	}

	t := &TierTable{
		tiers:     make(map[string]Tier, len(tiers)),
		overrides: make(AgentOverrides, len(overrides)),
	}

	for _, tier := range tiers {
		if tier.Name == "" {
			return nil, fmt.Errorf("tier name cannot be empty")
		}
		if _, dup := t.tiers[tier.Name]; dup {
			return nil, fmt.Errorf("duplicate tier %q", tier.Name)
		}
		if tier.MaxTokensPerDay != nil && *tier.MaxTokensPerDay < 0 {
			return nil, fmt.Errorf("tier %q: max tokens per day cannot be negative", tier.Name)
		}
		t.tiers[tier.Name] = tier.clone()
		t.order = append(t.order, tier.Name)
	}

	for resource, byTier := range overrides {
		copied := make(map[string]int64, len(byTier))
		for tierName, limit := range byTier {
			if _, ok := t.tiers[tierName]; !ok {
				return nil, fmt.Errorf("agent override %q references unknown tier %q", resource, tierName)
			}
			if limit < 0 {
				return nil, fmt.Errorf("agent override %q for tier %q cannot be negative", resource, tierName)
			}
			copied[tierName] = limit
		}
		t.overrides[resource] = copied
	}

	t.fallback = t.mostRestrictive()
	return t, nil
}

func (t *TierTable) mostRestrictive() string {
	names := append([]string(nil), t.order...)
	sort.Slice(names, func(i, j int) bool {
		a, b := t.tiers[names[i]], t.tiers[names[j]]
		if ra, rb := rank(a.RequestsPerMinute), rank(b.RequestsPerMinute); ra != rb {
			return ra < rb
		}
		if ra, rb := rank(a.RequestsPerDay), rank(b.RequestsPerDay); ra != rb {
			return ra < rb
		}
		return a.Name < b.Name
	})
	return names[0]
}

// rank orders ceilings so that a disabled (zero) ceiling sorts as the
// least restrictive.
func rank(limit int64) uint64 {
	if limit <= 0 {
		return ^uint64(0)
	}
	return uint64(limit)
}

// Lookup returns the named tier. Unknown names resolve to the fallback tier
// and report false.
func (t *TierTable) Lookup(name string) (Tier, bool) {
	if tier, ok := t.tiers[name]; ok {
		return tier.clone(), true
	}
	return t.tiers[t.fallback].clone(), false
}

// Fallback returns the name of the tier used for unknown tier names.
func (t *TierTable) Fallback() string {
	return t.fallback
}

// Tiers returns copies of all tiers in configured order.
func (t *TierTable) Tiers() []Tier {
	out := make([]Tier, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.tiers[name].clone())
	}
	return out
}

// ExecutionsPerHour returns the hourly execution ceiling for a tier on a
// resource, preferring an agent override.
func (t *TierTable) ExecutionsPerHour(tier Tier, resource string) int64 {
	if byTier, ok := t.overrides[resource]; ok {
		if limit, ok := byTier[tier.Name]; ok {
			return limit
		}
	}
	return tier.ExecutionsPerHour
}

// Overrides returns a copy of the agent overrides.
func (t *TierTable) Overrides() AgentOverrides {
	out := make(AgentOverrides, len(t.overrides))
	for resource, byTier := range t.overrides {
		copied := make(map[string]int64, len(byTier))
		for name, limit := range byTier {
			copied[name] = limit
		}
		out[resource] = copied
	}
	return out
}

// Comparison is a read-only view of the tier table for display.
type Comparison struct {
	// Tiers lists every tier in configured order.
	Tiers []Tier `json:"tiers"`

	// Overrides lists per-resource executions-per-hour overrides.
	Overrides AgentOverrides `json:"agent_overrides,omitempty"`

	// Fallback is the tier applied to unknown tier names.
	Fallback string `json:"fallback_tier"`
}

// Comparison returns the tier comparison table.
func (t *TierTable) Comparison() Comparison {
	return Comparison{
		Tiers:     t.Tiers(),
		Overrides: t.Overrides(),
		Fallback:  t.fallback,
	}
}
