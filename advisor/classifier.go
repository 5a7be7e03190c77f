// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package advisor

import "strings"

// Classifier assigns a query to a tier from its surface features alone:
// keyword markers and length. It is pure and deterministic, so the same
// query always routes the same way.
type Classifier struct{}

// NewClassifier creates a classifier
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Length thresholds, in characters of the raw query text.
const (
	complexLengthThreshold  = 100
	moderateLengthThreshold = 50
)

// simpleMarkers identify short factual questions. French first: that is
// what the advisory traffic mostly looks like.
var simpleMarkers = []string{
	"qu'est-ce que",
	"c'est quoi",
	"combien",
	"quand",
	"quel est",
	"quelle est",
	"what is",
	"when",
	"how much",
	"simple",
	"basique",
	"basic",
	"définition",
}

// complexMarkers identify analysis, strategy and compliance work.
// Stems like "optimis" catch optimiser/optimisation/optimization.
var complexMarkers = []string{
	"stratégie",
	"strategy",
	"optimis",
	"analyse",
	"analysis",
	"compar",
	"conformité",
	"compliance",
	"audit",
	"restructur",
	"montage",
	"simulation",
	"implications",
}

// urgencyMarkers override every other signal.
var urgencyMarkers = []string{
	"urgent",
	"mise en demeure",
	"contrôle fiscal",
	"redressement",
	"dernier délai",
}

// Classify resolves a query to a routing decision.
//
// Order matters: forced routes bypass everything; urgency beats content;
// simple markers beat complex markers so a short factual question never
// pays for analysis it did not ask for; length is the fallback signal.
func (c *Classifier) Classify(text string, opts QueryOptions) RoutingDecision {
	if opts.ForceRoute != "" {
		if tier, ok := ParseTier(opts.ForceRoute); ok {
			return RoutingDecision{Tier: tier, Reason: ReasonForced, EstimatedCost: tier.BaselineCost()}
		}
	}

	lower := strings.ToLower(text)

	if opts.Urgent || containsAny(lower, urgencyMarkers) {
		return RoutingDecision{Tier: TierUrgent, Reason: ReasonUrgency, EstimatedCost: TierUrgent.BaselineCost()}
	}

	if containsAny(lower, simpleMarkers) {
		return decision(TierSimple)
	}

	if containsAny(lower, complexMarkers) || len(text) > complexLengthThreshold {
		return decision(TierComplex)
	}

	if len(text) > moderateLengthThreshold {
		return decision(TierModerate)
	}

	return decision(TierSimple)
}

func decision(t Tier) RoutingDecision {
	return RoutingDecision{Tier: t, Reason: ReasonClassified, EstimatedCost: t.BaselineCost()}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
