// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package advisor

import (
	"strings"

	"fiscalia/platform/connectors/fiscalprofile"
	"fiscalia/platform/connectors/memory"
	"fiscalia/platform/connectors/websearch"
	"fiscalia/platform/connectors/workspace"
)

// Query is a user question plus its routing options.
type Query struct {
	Text    string       `json:"query"`
	UserID  string       `json:"user_id"`
	Options QueryOptions `json:"options"`
}

// QueryOptions tune routing for a single request. Zero values mean
// "no constraint".
type QueryOptions struct {
	// MaxCost caps the per-request spend in EUR. 0 means uncapped
	// (the monthly budget still applies).
	MaxCost float64 `json:"max_cost,omitempty"`

	// ForceRoute pins the query to a tier, bypassing classification.
	ForceRoute string `json:"force_route,omitempty"`

	// Urgent marks the query time-critical regardless of its wording.
	Urgent bool `json:"urgent,omitempty"`

	// SkipMemory opts the query out of conversation memory, both read
	// and write.
	SkipMemory bool `json:"skip_memory,omitempty"`

	// SkipContext skips fiscal profile and workspace lookups.
	SkipContext bool `json:"skip_context,omitempty"`

	// SkipWebSearch skips live web lookups even on research tiers.
	SkipWebSearch bool `json:"skip_web_search,omitempty"`
}

// Validate checks the fields a handler cannot default.
func (q *Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return ErrEmptyQuery
	}
	if q.UserID == "" {
		return ErrMissingUserID
	}
	if q.Options.ForceRoute != "" {
		if _, ok := ParseTier(q.Options.ForceRoute); !ok {
			return ErrUnknownTier
		}
	}
	if q.Options.MaxCost < 0 {
		return ErrNegativeMaxCost
	}
	return nil
}

// RouteReason records why a tier was chosen.
type RouteReason string

const (
	ReasonClassified RouteReason = "classified"
	ReasonForced     RouteReason = "forced"
	ReasonUrgency    RouteReason = "urgency"
	ReasonDowngraded RouteReason = "downgraded"
)

// RoutingDecision is the classifier/router verdict for a query.
type RoutingDecision struct {
	Tier          Tier        `json:"tier"`
	Reason        RouteReason `json:"reason"`
	EstimatedCost float64     `json:"estimated_cost"`
}

// AgentContext carries whatever external data was assembled for a tier.
// Every field is optional; cheap tiers run with none of them.
type AgentContext struct {
	Profile       *fiscalprofile.Profile `json:"profile,omitempty"`
	RecentMemory  []memory.Entry         `json:"recent_memory,omitempty"`
	SearchResults []websearch.Result     `json:"search_results,omitempty"`
	WorkspaceDocs []workspace.Document   `json:"workspace_docs,omitempty"`

	// Degraded is set when at least one context provider failed and the
	// answer was produced from partial data.
	Degraded bool `json:"degraded,omitempty"`
}

// IsEmpty reports whether no external data was assembled at all.
func (c *AgentContext) IsEmpty() bool {
	if c == nil {
		return true
	}
	return c.Profile == nil && len(c.RecentMemory) == 0 &&
		len(c.SearchResults) == 0 && len(c.WorkspaceDocs) == 0
}

// Source attributes part of an answer to external data.
type Source struct {
	Type        string  `json:"type"`
	Title       string  `json:"title"`
	Locator     string  `json:"locator,omitempty"`
	Reliability float64 `json:"reliability,omitempty"`
}

// AnswerMetadata describes how an answer was produced.
type AnswerMetadata struct {
	RequestID       string   `json:"request_id"`
	Tier            Tier     `json:"tier"`
	EstimatedCost   float64  `json:"estimated_cost"`
	ActualCost      float64  `json:"actual_cost"`
	ProcessingMS    int64    `json:"processing_ms"`
	Model           string   `json:"model,omitempty"`
	Escalated       bool     `json:"escalated,omitempty"`
	AgentsUsed      []string `json:"agents_used,omitempty"`
	DataSourcesUsed []string `json:"data_sources_used,omitempty"`
	FallbackUsed    bool     `json:"fallback_used,omitempty"`
	UsedContext     bool     `json:"used_context,omitempty"`
	UsedMemory      bool     `json:"used_memory,omitempty"`
}

// Answer is the routed response returned to the caller.
type Answer struct {
	Text            string         `json:"text"`
	Confidence      float64        `json:"confidence"`
	Sources         []Source       `json:"sources,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Metadata        AnswerMetadata `json:"metadata"`
}

// EnhanceOptions tune a progressive enhancement run.
type EnhanceOptions struct {
	MaxAttempts           int     `json:"max_attempts,omitempty"`
	SatisfactionThreshold float64 `json:"satisfaction_threshold,omitempty"`
	MaxCost               float64 `json:"max_cost,omitempty"`
}

// EnhancementAttempt records a single rung of the escalation ladder.
type EnhancementAttempt struct {
	Tier           Tier    `json:"tier"`
	Score          float64 `json:"score"`
	Cost           float64 `json:"cost"`
	CumulativeCost float64 `json:"cumulative_cost"`
	Err            string  `json:"error,omitempty"`
}

// EnhancementResult is the outcome of a progressive enhancement run.
// Answer is always the best-scored attempt, accepted or not.
type EnhancementResult struct {
	Answer      *Answer              `json:"answer"`
	FinalScore  float64              `json:"final_score"`
	Accepted    bool                 `json:"accepted"`
	Attempts    []EnhancementAttempt `json:"attempts"`
	Escalations int                  `json:"escalations"`
	TotalCost   float64              `json:"total_cost"`
	Path        []Tier               `json:"path"`
}
