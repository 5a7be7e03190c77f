// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

// Package ledger provides per-user budget management and spend tracking for
// routed queries. The ledger is append-only: remaining budget is always
// derived from the monthly ceiling minus the sum of recorded spend, never
// stored as a mutable balance.
package ledger

import (
	"time"
)

// Budget is a user's monthly spending ceiling in EUR.
type Budget struct {
	UserID         string    `json:"user_id"`
	MonthlyCeiling float64   `json:"monthly_ceiling"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UsageRecord is a single charge against a user's budget. Records are never
// updated or deleted after insertion.
type UsageRecord struct {
	ID            int64     `json:"id,omitempty"`
	RequestID     string    `json:"request_id"`
	UserID        string    `json:"user_id"`
	Feature       string    `json:"feature"` // e.g. "query", "enhance", "multi-agent"
	Tier          string    `json:"tier"`
	EstimatedCost float64   `json:"estimated_cost"`
	ActualCost    float64   `json:"actual_cost"`
	ProcessingMS  int64     `json:"processing_ms"`
	Success       bool      `json:"success"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// BudgetDecision is the result of an affordability check.
type BudgetDecision struct {
	Allowed         bool    `json:"allowed"`
	Reason          string  `json:"reason,omitempty"`
	RemainingBudget float64 `json:"remaining_budget"`
	Suggestion      string  `json:"suggestion,omitempty"`
}

// UsageSummary aggregates a user's spend over a period.
type UsageSummary struct {
	TotalCost         float64   `json:"total_cost"`
	RequestCount      int       `json:"request_count"`
	SuccessCount      int       `json:"success_count"`
	AvgCostPerRequest float64   `json:"avg_cost_per_request"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
}

// TierUsage is a per-tier slice of a user's spend.
type TierUsage struct {
	Tier         string  `json:"tier"`
	TotalCost    float64 `json:"total_cost"`
	RequestCount int     `json:"request_count"`
	SuccessCount int     `json:"success_count"`
}

// Analytics is the usage report exposed over HTTP: the monthly summary, the
// per-tier breakdown, and an estimate of what routing saved versus sending
// everything to the most expensive tier.
type Analytics struct {
	Summary           UsageSummary `json:"summary"`
	ByTier            []TierUsage  `json:"by_tier"`
	SavingsVsBaseline float64      `json:"savings_vs_baseline"`
}

// UsageQueryOptions filters usage listings.
type UsageQueryOptions struct {
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Tier      string    `json:"tier,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
}

// Validate validates the budget configuration
func (b *Budget) Validate() error {
	if b.UserID == "" {
		return ErrInvalidUserID
	}
	if b.MonthlyCeiling <= 0 {
		return ErrInvalidCeiling
	}
	return nil
}

// Validate validates a usage record before insertion
func (r *UsageRecord) Validate() error {
	if r.RequestID == "" || r.UserID == "" {
		return ErrInvalidInput
	}
	if r.EstimatedCost < 0 || r.ActualCost < 0 {
		return ErrInvalidInput
	}
	return nil
}
