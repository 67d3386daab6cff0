package main

import (
	"sort"
	"strconv"
	"time"

	"mercator-hq/admission/pkg/quota"
	"mercator-hq/admission/pkg/resilience/breaker"
)

func formatLimit(v int64) string {
	if v <= 0 {
		return "-"
	}
	return strconv.FormatInt(v, 10)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// breakerTable renders breaker metrics.
type breakerTable []breaker.Metrics

func (t breakerTable) Header() []string {
	return []string{"NAME", "STATE", "TOTAL", "SUCCESS", "FAILED", "REJECTED", "RECENT FAILURES", "OPENED AT"}
}

func (t breakerTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, m := range t {
		rows = append(rows, []string{
			m.Name,
			m.State.String(),
			strconv.FormatInt(m.TotalCalls, 10),
			strconv.FormatInt(m.SuccessfulCalls, 10),
			strconv.FormatInt(m.FailedCalls, 10),
			strconv.FormatInt(m.RejectedCalls, 10),
			strconv.Itoa(m.RecentFailures),
			formatTime(m.OpenedAt),
		})
	}
	return rows
}

// tierTable renders the tier comparison table, one row per tier.
type tierTable quota.Comparison

func (t tierTable) Header() []string {
	return []string{"TIER", "REQ/MIN", "REQ/HOUR", "REQ/DAY", "EXEC/HOUR", "EXEC/DAY", "CONCURRENT", "TOKENS/DAY"}
}

func (t tierTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.Tiers))
	for _, tier := range t.Tiers {
		tokens := "unlimited"
		if tier.MaxTokensPerDay != nil {
			tokens = strconv.FormatInt(*tier.MaxTokensPerDay, 10)
		}
		name := tier.Name
		if name == t.Fallback {
			name += " (fallback)"
		}
		rows = append(rows, []string{
			name,
			formatLimit(tier.RequestsPerMinute),
			formatLimit(tier.RequestsPerHour),
			formatLimit(tier.RequestsPerDay),
			formatLimit(tier.ExecutionsPerHour),
			formatLimit(tier.ExecutionsPerDay),
			formatLimit(tier.MaxConcurrentExecutions),
			tokens,
		})
	}
	return rows
}

// overrideTable renders agent overrides sorted by resource then tier.
type overrideTable quota.AgentOverrides

func (t overrideTable) Header() []string {
	return []string{"RESOURCE", "TIER", "EXEC/HOUR"}
}

func (t overrideTable) Rows() [][]string {
	resources := make([]string, 0, len(t))
	for r := range t {
		resources = append(resources, r)
	}
	sort.Strings(resources)

	var rows [][]string
	for _, r := range resources {
		tiers := make([]string, 0, len(t[r]))
		for tier := range t[r] {
			tiers = append(tiers, tier)
		}
		sort.Strings(tiers)
		for _, tier := range tiers {
			rows = append(rows, []string{r, tier, strconv.FormatInt(t[r][tier], 10)})
		}
	}
	return rows
}

// usageTable renders a usage snapshot, one row per limit.
type usageTable struct {
	*quota.UsageSnapshot
}

func (t usageTable) Header() []string {
	return []string{"LIMIT", "USED", "LIMIT VALUE", "REMAINING", "RESETS"}
}

func (t usageTable) Rows() [][]string {
	var rows [][]string
	add := func(name string, u quota.WindowUsage) {
		remaining := "-"
		if u.Limit > 0 {
			remaining = strconv.FormatInt(u.Remaining, 10)
		}
		rows = append(rows, []string{
			name,
			strconv.FormatInt(u.Count, 10),
			formatLimit(u.Limit),
			remaining,
			formatTime(u.Reset),
		})
	}
	for _, u := range t.Windows {
		add("requests/"+u.Window, u)
	}
	for _, u := range t.Resources {
		add(u.Resource+" executions/"+u.Window, u)
	}

	rows = append(rows, []string{
		"concurrent",
		strconv.FormatInt(t.Concurrent.Current, 10),
		formatLimit(t.Concurrent.Limit),
		"-",
		"-",
	})

	tokenLimit, tokenRemaining := "unlimited", "-"
	if t.Tokens.Limit != nil {
		tokenLimit = strconv.FormatInt(*t.Tokens.Limit, 10)
	}
	if t.Tokens.Remaining != nil {
		tokenRemaining = strconv.FormatInt(*t.Tokens.Remaining, 10)
	}
	rows = append(rows, []string{
		"tokens/day",
		strconv.FormatInt(t.Tokens.Used, 10),
		tokenLimit,
		tokenRemaining,
		"-",
	})
	return rows
}
