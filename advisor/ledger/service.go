// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fiscalia/platform/shared/logger"
)

const (
	// FailedAttemptCost is the fixed charge recorded for a failed execution,
	// covering the API cost of the attempt without billing full tier price.
	FailedAttemptCost = 0.0001

	// DefaultMonthlyCeiling applies to users without an explicit budget row.
	DefaultMonthlyCeiling = 10.0
)

// Service provides affordability checks and spend recording on top of the
// repository. It guarantees that two concurrent checks for the same user
// cannot both be approved against the same remaining budget: approved
// estimates are held as in-flight reservations until the matching spend
// (or failure) is recorded.
type Service struct {
	repo             Repository
	log              *logger.Logger
	defaultCeiling   float64
	baselineUnitCost float64

	mu       sync.Mutex
	pending  map[string]float64     // in-flight reserved estimates per user
	userLock map[string]*sync.Mutex // serializes check/record per user
}

// Option configures the service.
type Option func(*Service)

// WithDefaultCeiling overrides the ceiling used when no budget row exists.
func WithDefaultCeiling(ceiling float64) Option {
	return func(s *Service) { s.defaultCeiling = ceiling }
}

// WithBaselineUnitCost sets the per-request cost used as the "no routing"
// baseline in analytics.
func WithBaselineUnitCost(cost float64) Option {
	return func(s *Service) { s.baselineUnitCost = cost }
}

// NewService creates a ledger service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:             repo,
		log:              logger.New("ledger"),
		defaultCeiling:   DefaultMonthlyCeiling,
		baselineUnitCost: 0.045,
		pending:          make(map[string]float64),
		userLock:         make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockFor returns the per-user mutex, creating it on first use.
func (s *Service) lockFor(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.userLock[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLock[userID] = l
	}
	return l
}

// monthStart returns the start of the current budget period (UTC).
func monthStart() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// monthEnd returns the end of the current budget period.
func monthEnd(start time.Time) time.Time {
	return start.AddDate(0, 1, 0)
}

// ceiling returns the user's monthly ceiling, falling back to the default
// when no budget row exists.
func (s *Service) ceiling(ctx context.Context, userID string) (float64, error) {
	budget, err := s.repo.GetBudget(ctx, userID)
	if err == ErrBudgetNotFound {
		return s.defaultCeiling, nil
	}
	if err != nil {
		return 0, err
	}
	return budget.MonthlyCeiling, nil
}

// CanAfford checks whether a charge of estimatedCost fits the user's
// remaining budget. On approval the estimate is reserved; the caller must
// follow up with RecordSpend or RecordFailure to release the reservation.
func (s *Service) CanAfford(ctx context.Context, userID string, estimatedCost float64) (*BudgetDecision, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if estimatedCost < 0 {
		return nil, ErrInvalidInput
	}

	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	ceiling, err := s.ceiling(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load budget: %w", err)
	}

	spent, err := s.repo.SumUsageSince(ctx, userID, monthStart())
	if err != nil {
		return nil, fmt.Errorf("failed to sum spend: %w", err)
	}

	s.mu.Lock()
	reserved := s.pending[userID]
	s.mu.Unlock()

	remaining := ceiling - spent - reserved
	if remaining < 0 {
		remaining = 0
	}

	if estimatedCost > remaining {
		return &BudgetDecision{
			Allowed:         false,
			Reason:          fmt.Sprintf("estimated cost %.4f exceeds remaining monthly budget %.4f", estimatedCost, remaining),
			RemainingBudget: remaining,
			Suggestion:      "Simplify the question, wait for the next budget period, or raise the monthly ceiling.",
		}, nil
	}

	s.mu.Lock()
	s.pending[userID] += estimatedCost
	s.mu.Unlock()

	return &BudgetDecision{
		Allowed:         true,
		RemainingBudget: remaining - estimatedCost,
	}, nil
}

// release drains a reservation, flooring at zero so a double release cannot
// inflate the budget.
func (s *Service) release(userID string, estimatedCost float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[userID] -= estimatedCost
	if s.pending[userID] <= 0 {
		delete(s.pending, userID)
	}
}

// RecordSpend appends the usage record and releases the matching reservation.
func (s *Service) RecordSpend(ctx context.Context, record *UsageRecord) error {
	if err := record.Validate(); err != nil {
		// The request is over either way; an invalid record must not
		// leave its reservation stuck against the user's budget.
		s.release(record.UserID, record.EstimatedCost)
		return err
	}

	lock := s.lockFor(record.UserID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.repo.SaveUsage(ctx, record); err != nil {
		// The reservation still protects the budget; it is released so the
		// user is not locked out by a write failure, and the drop is logged
		// for replay.
		s.release(record.UserID, record.EstimatedCost)
		s.log.DeadLetter(record.UserID, record.RequestID, "ledger.record_spend", err, map[string]interface{}{
			"tier":        record.Tier,
			"actual_cost": record.ActualCost,
		})
		return fmt.Errorf("failed to record spend: %w", err)
	}

	s.release(record.UserID, record.EstimatedCost)

	s.log.Info(record.UserID, record.RequestID, "Spend recorded", map[string]interface{}{
		"tier":           record.Tier,
		"feature":        record.Feature,
		"estimated_cost": record.EstimatedCost,
		"actual_cost":    record.ActualCost,
		"success":        record.Success,
	})
	return nil
}

// RecordFailure appends a failed-attempt record at the fixed failure charge
// and releases the reservation taken at check time.
func (s *Service) RecordFailure(ctx context.Context, requestID, userID, feature, tier string, estimatedCost float64, processingMS int64) error {
	record := &UsageRecord{
		RequestID:     requestID,
		UserID:        userID,
		Feature:       feature,
		Tier:          tier,
		EstimatedCost: estimatedCost,
		ActualCost:    FailedAttemptCost,
		ProcessingMS:  processingMS,
		Success:       false,
	}
	return s.RecordSpend(ctx, record)
}

// RecordRejection appends an audit record for a request refused at the
// budget gate. Nothing was reserved, so nothing is released; the actual
// cost is zero.
func (s *Service) RecordRejection(ctx context.Context, requestID, userID, feature string, estimatedCost float64) error {
	record := &UsageRecord{
		RequestID:     requestID,
		UserID:        userID,
		Feature:       feature,
		Tier:          "fallback",
		EstimatedCost: estimatedCost,
		ActualCost:    0,
		Success:       false,
	}

	if err := record.Validate(); err != nil {
		return err
	}
	if err := s.repo.SaveUsage(ctx, record); err != nil {
		return fmt.Errorf("failed to record rejection: %w", err)
	}
	return nil
}

// RemainingBudget returns the user's derived remaining budget for the
// current period, without considering in-flight reservations.
func (s *Service) RemainingBudget(ctx context.Context, userID string) (float64, error) {
	ceiling, err := s.ceiling(ctx, userID)
	if err != nil {
		return 0, err
	}
	spent, err := s.repo.SumUsageSince(ctx, userID, monthStart())
	if err != nil {
		return 0, err
	}
	remaining := ceiling - spent
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// SetBudget creates or updates a user's monthly ceiling.
func (s *Service) SetBudget(ctx context.Context, budget *Budget) error {
	if err := budget.Validate(); err != nil {
		return err
	}
	budget.UpdatedAt = time.Now().UTC()
	return s.repo.UpsertBudget(ctx, budget)
}

// GetBudget returns the user's budget row, or a synthetic default when none
// exists.
func (s *Service) GetBudget(ctx context.Context, userID string) (*Budget, error) {
	budget, err := s.repo.GetBudget(ctx, userID)
	if err == ErrBudgetNotFound {
		return &Budget{UserID: userID, MonthlyCeiling: s.defaultCeiling}, nil
	}
	return budget, err
}

// ListUsage returns a user's usage records for the current period by default.
func (s *Service) ListUsage(ctx context.Context, userID string, opts UsageQueryOptions) ([]UsageRecord, int, error) {
	if opts.StartTime.IsZero() {
		opts.StartTime = monthStart()
	}
	return s.repo.ListUsage(ctx, userID, opts)
}

// Analytics builds the monthly usage report for a user.
func (s *Service) Analytics(ctx context.Context, userID string) (*Analytics, error) {
	start := monthStart()

	breakdown, err := s.repo.TierBreakdown(ctx, userID, start)
	if err != nil {
		return nil, fmt.Errorf("failed to build analytics: %w", err)
	}

	summary := UsageSummary{
		PeriodStart: start,
		PeriodEnd:   monthEnd(start),
	}
	for _, tu := range breakdown {
		summary.TotalCost += tu.TotalCost
		summary.RequestCount += tu.RequestCount
		summary.SuccessCount += tu.SuccessCount
	}
	if summary.RequestCount > 0 {
		summary.AvgCostPerRequest = summary.TotalCost / float64(summary.RequestCount)
	}

	// Savings compare actual spend to routing every successful request at
	// the most expensive tier's baseline.
	savings := s.baselineUnitCost*float64(summary.SuccessCount) - summary.TotalCost
	if savings < 0 {
		savings = 0
	}

	return &Analytics{
		Summary:           summary,
		ByTier:            breakdown,
		SavingsVsBaseline: savings,
	}, nil
}

// IsHealthy checks repository connectivity.
func (s *Service) IsHealthy(ctx context.Context) bool {
	return s.repo.Ping(ctx) == nil
}
