// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package advisor

import "time"

// Tier is a named processing strategy with an associated baseline cost and
// latency band. The classifier only ever selects the five routable tiers;
// TierFallback exists for ledger accounting of rejected or failed requests.
type Tier string

const (
	TierSimple      Tier = "simple"
	TierModerate    Tier = "moderate"
	TierComplex     Tier = "complex"
	TierWebResearch Tier = "web_research"
	TierUrgent      Tier = "urgent"

	// TierFallback is an accounting marker, never selected by the classifier.
	TierFallback Tier = "fallback"
)

// escalationOrder lists routable tiers from cheapest to most expensive.
// The enhancer walks it forward; the router walks it backward on downgrade.
var escalationOrder = []Tier{
	TierSimple,
	TierModerate,
	TierComplex,
	TierWebResearch,
	TierUrgent,
}

// baselineCosts are the per-request cost estimates (EUR) used for budget
// pre-checks before execution.
var baselineCosts = map[Tier]float64{
	TierSimple:      0.001,
	TierModerate:    0.008,
	TierComplex:     0.025,
	TierWebResearch: 0.035,
	TierUrgent:      0.045,
	TierFallback:    0.0001,
}

// latencyBands bound how long each tier's executor may run.
var latencyBands = map[Tier]time.Duration{
	TierSimple:      2 * time.Second,
	TierModerate:    10 * time.Second,
	TierComplex:     45 * time.Second,
	TierWebResearch: 60 * time.Second,
	TierUrgent:      90 * time.Second,
}

// RequestDeadline caps an entire request regardless of tier, including all
// enhancement attempts.
const RequestDeadline = 120 * time.Second

// IsRoutable reports whether a tier can be selected for execution.
func (t Tier) IsRoutable() bool {
	for _, rt := range escalationOrder {
		if rt == t {
			return true
		}
	}
	return false
}

// BaselineCost returns the tier's pre-check cost estimate.
func (t Tier) BaselineCost() float64 {
	return baselineCosts[t]
}

// LatencyBand returns the tier's execution deadline.
func (t Tier) LatencyBand() time.Duration {
	if d, ok := latencyBands[t]; ok {
		return d
	}
	return latencyBands[TierSimple]
}

// NextCheaper returns the most expensive routable tier strictly cheaper than
// t whose baseline fits maxCost, or "" when none fits.
func (t Tier) NextCheaper(maxCost float64) Tier {
	idx := tierIndex(t)
	for i := idx - 1; i >= 0; i-- {
		if escalationOrder[i].BaselineCost() <= maxCost {
			return escalationOrder[i]
		}
	}
	return ""
}

// NextMoreExpensive returns the next tier up the escalation ladder, or ""
// at the top.
func (t Tier) NextMoreExpensive() Tier {
	idx := tierIndex(t)
	if idx < 0 || idx+1 >= len(escalationOrder) {
		return ""
	}
	return escalationOrder[idx+1]
}

func tierIndex(t Tier) int {
	for i, rt := range escalationOrder {
		if rt == t {
			return i
		}
	}
	return -1
}

// ParseTier maps a request string to a routable tier.
func ParseTier(s string) (Tier, bool) {
	t := Tier(s)
	if t.IsRoutable() {
		return t, true
	}
	return "", false
}
