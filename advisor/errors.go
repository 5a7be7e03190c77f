// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package advisor

import (
	"errors"
	"fmt"
)

// Validation errors surfaced as 400s
var (
	// ErrEmptyQuery indicates the query text was blank
	ErrEmptyQuery = errors.New("query text is required")

	// ErrMissingUserID indicates the caller sent no identity
	ErrMissingUserID = errors.New("user ID is required")

	// ErrUnknownTier indicates an unrecognized force_route value
	ErrUnknownTier = errors.New("unknown tier")

	// ErrNegativeMaxCost indicates a negative per-request cost cap
	ErrNegativeMaxCost = errors.New("max_cost must not be negative")
)

// ErrNoExecutor indicates a tier has no registered executor. This is a
// wiring defect, surfaced as a 502.
var ErrNoExecutor = errors.New("no executor registered for tier")

// BudgetError is returned when a request cannot run within budget. It
// maps to HTTP 402 and carries enough detail for the caller to act.
type BudgetError struct {
	Reason     string  `json:"reason"`
	Remaining  float64 `json:"remaining_budget"`
	Suggestion string  `json:"suggestion"`
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("budget exceeded: %s (%.4f EUR remaining)", e.Reason, e.Remaining)
}

// ExecutionError wraps a tier executor failure. It maps to HTTP 502.
// The underlying cause stays server-side; callers only see the tier.
type ExecutionError struct {
	Tier  Tier
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tier %s execution failed: %v", e.Tier, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// TimeoutError is returned when a tier exceeded its latency band. It
// maps to HTTP 504 with a suggestion to retry cheaper or later.
type TimeoutError struct {
	Tier    Tier
	Elapsed string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tier %s timed out after %s", e.Tier, e.Elapsed)
}
