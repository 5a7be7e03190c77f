// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockRepository is an in-memory Repository with error injection
type MockRepository struct {
	mu      sync.Mutex
	budgets map[string]*Budget
	records []UsageRecord

	saveUsageErr error
	getBudgetErr error
	sumUsageErr  error
	pingErr      error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{budgets: make(map[string]*Budget)}
}

func (m *MockRepository) UpsertBudget(ctx context.Context, budget *Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := *budget
	m.budgets[budget.UserID] = &b
	return nil
}

func (m *MockRepository) GetBudget(ctx context.Context, userID string) (*Budget, error) {
	if m.getBudgetErr != nil {
		return nil, m.getBudgetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.budgets[userID]
	if !ok {
		return nil, ErrBudgetNotFound
	}
	copy := *b
	return &copy, nil
}

func (m *MockRepository) SaveUsage(ctx context.Context, record *UsageRecord) error {
	if m.saveUsageErr != nil {
		return m.saveUsageErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.ID = int64(len(m.records) + 1)
	m.records = append(m.records, *record)
	return nil
}

func (m *MockRepository) SumUsageSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	if m.sumUsageErr != nil {
		return 0, m.sumUsageErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, r := range m.records {
		if r.UserID == userID && !r.CreatedAt.Before(since) {
			total += r.ActualCost
		}
	}
	return total, nil
}

func (m *MockRepository) ListUsage(ctx context.Context, userID string, opts UsageQueryOptions) ([]UsageRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []UsageRecord
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func (m *MockRepository) TierBreakdown(ctx context.Context, userID string, since time.Time) ([]TierUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byTier := make(map[string]*TierUsage)
	var order []string
	for _, r := range m.records {
		if r.UserID != userID || r.CreatedAt.Before(since) {
			continue
		}
		tu, ok := byTier[r.Tier]
		if !ok {
			tu = &TierUsage{Tier: r.Tier}
			byTier[r.Tier] = tu
			order = append(order, r.Tier)
		}
		tu.TotalCost += r.ActualCost
		tu.RequestCount++
		if r.Success {
			tu.SuccessCount++
		}
	}
	out := make([]TierUsage, 0, len(order))
	for _, tier := range order {
		out = append(out, *byTier[tier])
	}
	return out, nil
}

func (m *MockRepository) Ping(ctx context.Context) error { return m.pingErr }

func (m *MockRepository) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

var _ Repository = (*MockRepository)(nil)

func TestCanAffordWithinBudget(t *testing.T) {
	repo := NewMockRepository()
	svc := NewService(repo)
	require.NoError(t, svc.SetBudget(context.Background(), &Budget{UserID: "user-1", MonthlyCeiling: 1.0}))

	decision, err := svc.CanAfford(context.Background(), "user-1", 0.025)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.InDelta(t, 0.975, decision.RemainingBudget, 0.0001)
}

func TestCanAffordExceedsBudget(t *testing.T) {
	repo := NewMockRepository()
	svc := NewService(repo)
	require.NoError(t, svc.SetBudget(context.Background(), &Budget{UserID: "user-1", MonthlyCeiling: 0.01}))

	decision, err := svc.CanAfford(context.Background(), "user-1", 0.025)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.InDelta(t, 0.01, decision.RemainingBudget, 0.0001)
	assert.NotEmpty(t, decision.Reason)
	assert.NotEmpty(t, decision.Suggestion)

	// A denial reserves nothing
	decision2, err := svc.CanAfford(context.Background(), "user-1", 0.008)
	require.NoError(t, err)
	assert.True(t, decision2.Allowed)
}

func TestCanAffordUsesDefaultCeiling(t *testing.T) {
	repo := NewMockRepository()
	svc := NewService(repo, WithDefaultCeiling(0.05))

	decision, err := svc.CanAfford(context.Background(), "new-user", 0.025)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = svc.CanAfford(context.Background(), "new-user", 0.045)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestConcurrentChecksCannotBothPass(t *testing.T) {
	repo := NewMockRepository()
	svc := NewService(repo)
	// Budget affords exactly one complex query
	require.NoError(t, svc.SetBudget(context.Background(), &Budget{UserID: "user-1", MonthlyCeiling: 0.03}))

	const workers = 8
	var wg sync.WaitGroup
	allowed := make(chan *BudgetDecision, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := svc.CanAfford(context.Background(), "user-1", 0.025)
			require.NoError(t, err)
			if d.Allowed {
				allowed <- d
			}
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for range allowed {
		count++
	}
	assert.Equal(t, 1, count, "only one concurrent check may be approved")
}

func TestReservationReleasedOnSpend(t *testing.T) {
	repo := NewMockRepository()
	svc := NewService(repo)
	require.NoError(t, svc.SetBudget(context.Background(), &Budget{UserID: "user-1", MonthlyCeiling: 0.03}))

	d, err := svc.CanAfford(context.Background(), "user-1", 0.025)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// Cheaper actual than estimated
	require.NoError(t, svc.RecordSpend(context.Background(), &UsageRecord{
		RequestID:     "req-1",
		UserID:        "user-1",
		Feature:       "query",
		Tier:          "complex",
		EstimatedCost: 0.025,
		ActualCost:    0.020,
		Success:       true,
	}))

	// 0.03 - 0.020 spent = 0.010 remaining, reservation fully drained
	d2, err := svc.CanAfford(context.Background(), "user-1", 0.008)
	require.NoError(t, err)
	assert.True(t, d2.Allowed)
}

func TestRecordFailureChargesFixedCost(t *testing.T) {
	repo := NewMockRepository()
	svc := NewService(repo)
	require.NoError(t, svc.SetBudget(context.Background(), &Budget{UserID: "user-1", MonthlyCeiling: 1.0}))

	d, err := svc.CanAfford(context.Background(), "user-1", 0.025)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	require.NoError(t, svc.RecordFailure(context.Background(), "req-1", "user-1", "query", "complex", 0.025, 1500))

	remaining, err := svc.RemainingBudget(context.Background(), "user-1")
	require.NoError(t, err)
	assert.InDelta(t, 1.0-FailedAttemptCost, remaining, 0.000001)
}

func TestRecordRejectionWritesAuditRecord(t *testing.T) {
	repo := NewMockRepository()
	svc := NewService(repo)

	require.NoError(t, svc.RecordRejection(context.Background(), "req-1", "user-1", "query", 0.045))

	records, total, err := svc.ListUsage(context.Background(), "user-1", UsageQueryOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "fallback", records[0].Tier)
	assert.False(t, records[0].Success)
	assert.Zero(t, records[0].ActualCost)
}

func TestRecordSpendValidation(t *testing.T) {
	svc := NewService(NewMockRepository())

	err := svc.RecordSpend(context.Background(), &UsageRecord{UserID: "user-1"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = svc.RecordSpend(context.Background(), &UsageRecord{
		RequestID:  "req-1",
		UserID:     "user-1",
		ActualCost: -1,
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRecordSpendValidationFailureReleasesReservation(t *testing.T) {
	repo := NewMockRepository()
	svc := NewService(repo)
	require.NoError(t, svc.SetBudget(context.Background(), &Budget{UserID: "user-1", MonthlyCeiling: 0.03}))

	d, err := svc.CanAfford(context.Background(), "user-1", 0.025)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// Missing request ID fails validation before the write
	err = svc.RecordSpend(context.Background(), &UsageRecord{
		UserID:        "user-1",
		EstimatedCost: 0.025,
		ActualCost:    0.020,
	})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, repo.recordCount())

	// The rejected record did not leave a stuck reservation
	d2, err := svc.CanAfford(context.Background(), "user-1", 0.025)
	require.NoError(t, err)
	assert.True(t, d2.Allowed)
}

func TestRecordSpendRepositoryFailureReleasesReservation(t *testing.T) {
	repo := NewMockRepository()
	svc := NewService(repo)
	require.NoError(t, svc.SetBudget(context.Background(), &Budget{UserID: "user-1", MonthlyCeiling: 0.03}))

	d, err := svc.CanAfford(context.Background(), "user-1", 0.025)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	repo.saveUsageErr = assert.AnError
	err = svc.RecordSpend(context.Background(), &UsageRecord{
		RequestID:     "req-1",
		UserID:        "user-1",
		Feature:       "query",
		Tier:          "complex",
		EstimatedCost: 0.025,
		ActualCost:    0.020,
		Success:       true,
	})
	require.Error(t, err)
	repo.saveUsageErr = nil

	// The failed write did not leave a stuck reservation
	d2, err := svc.CanAfford(context.Background(), "user-1", 0.025)
	require.NoError(t, err)
	assert.True(t, d2.Allowed)
}

func TestAnalytics(t *testing.T) {
	repo := NewMockRepository()
	svc := NewService(repo, WithBaselineUnitCost(0.045))
	ctx := context.Background()

	records := []*UsageRecord{
		{RequestID: "r1", UserID: "user-1", Feature: "query", Tier: "simple", EstimatedCost: 0.001, ActualCost: 0.001, Success: true},
		{RequestID: "r2", UserID: "user-1", Feature: "query", Tier: "simple", EstimatedCost: 0.001, ActualCost: 0.001, Success: true},
		{RequestID: "r3", UserID: "user-1", Feature: "query", Tier: "complex", EstimatedCost: 0.025, ActualCost: 0.025, Success: true},
	}
	for _, r := range records {
		require.NoError(t, repo.SaveUsage(ctx, r))
	}

	analytics, err := svc.Analytics(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, 3, analytics.Summary.RequestCount)
	assert.InDelta(t, 0.027, analytics.Summary.TotalCost, 0.0001)
	assert.Len(t, analytics.ByTier, 2)

	// 3 successes at 0.045 baseline = 0.135; actual 0.027
	assert.InDelta(t, 0.108, analytics.SavingsVsBaseline, 0.0001)
}

func TestSetBudgetValidation(t *testing.T) {
	svc := NewService(NewMockRepository())

	err := svc.SetBudget(context.Background(), &Budget{UserID: "", MonthlyCeiling: 1})
	assert.ErrorIs(t, err, ErrInvalidUserID)

	err = svc.SetBudget(context.Background(), &Budget{UserID: "user-1", MonthlyCeiling: 0})
	assert.ErrorIs(t, err, ErrInvalidCeiling)
}

func TestIsHealthy(t *testing.T) {
	repo := NewMockRepository()
	svc := NewService(repo)
	assert.True(t, svc.IsHealthy(context.Background()))

	repo.pingErr = assert.AnError
	assert.False(t, svc.IsHealthy(context.Background()))
}
