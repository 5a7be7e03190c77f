// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, func() { _ = db.Close() }
}

func TestUpsertBudget(t *testing.T) {
	repo, mock, done := newMockRepo(t)
	defer done()

	budget := &Budget{UserID: "user-1", MonthlyCeiling: 5.0, UpdatedAt: time.Now().UTC()}

	mock.ExpectExec("INSERT INTO budgets").
		WithArgs(budget.UserID, budget.MonthlyCeiling, budget.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpsertBudget(context.Background(), budget))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBudget(t *testing.T) {
	repo, mock, done := newMockRepo(t)
	defer done()

	updated := time.Now().UTC()
	mock.ExpectQuery("SELECT user_id, monthly_ceiling, updated_at FROM budgets").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "monthly_ceiling", "updated_at"}).
			AddRow("user-1", 5.0, updated))

	budget, err := repo.GetBudget(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, budget.MonthlyCeiling)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBudgetNotFound(t *testing.T) {
	repo, mock, done := newMockRepo(t)
	defer done()

	mock.ExpectQuery("SELECT user_id, monthly_ceiling, updated_at FROM budgets").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "monthly_ceiling", "updated_at"}))

	_, err := repo.GetBudget(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrBudgetNotFound))
}

func TestSaveUsage(t *testing.T) {
	repo, mock, done := newMockRepo(t)
	defer done()

	record := &UsageRecord{
		RequestID:     "req-1",
		UserID:        "user-1",
		Feature:       "query",
		Tier:          "simple",
		EstimatedCost: 0.001,
		ActualCost:    0.001,
		ProcessingMS:  850,
		Success:       true,
	}

	mock.ExpectQuery("INSERT INTO usage_records").
		WithArgs(record.RequestID, record.UserID, record.Feature, record.Tier,
			record.EstimatedCost, record.ActualCost, record.ProcessingMS,
			record.Success, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	require.NoError(t, repo.SaveUsage(context.Background(), record))
	assert.Equal(t, int64(42), record.ID)
	assert.False(t, record.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveUsageWrapsDatabaseError(t *testing.T) {
	repo, mock, done := newMockRepo(t)
	defer done()

	mock.ExpectQuery("INSERT INTO usage_records").
		WillReturnError(errors.New("connection reset by peer"))

	err := repo.SaveUsage(context.Background(), &UsageRecord{
		RequestID: "req-1",
		UserID:    "user-1",
		Feature:   "query",
		Tier:      "simple",
	})
	assert.ErrorIs(t, err, ErrDatabaseError,
		"driver failures surface under one matchable class")
}

func TestSumUsageSince(t *testing.T) {
	repo, mock, done := newMockRepo(t)
	defer done()

	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(actual_cost\), 0\)`).
		WithArgs("user-1", since).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0.034))

	total, err := repo.SumUsageSince(context.Background(), "user-1", since)
	require.NoError(t, err)
	assert.InDelta(t, 0.034, total, 0.0001)
}

func TestListUsage(t *testing.T) {
	repo, mock, done := newMockRepo(t)
	defer done()

	created := time.Now().UTC()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM usage_records`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	mock.ExpectQuery("SELECT id, request_id, user_id, feature, tier").
		WithArgs("user-1", 100, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "request_id", "user_id", "feature", "tier", "estimated_cost",
			"actual_cost", "processing_ms", "success", "created_at",
		}).
			AddRow(int64(2), "req-2", "user-1", "query", "complex", 0.025, 0.023, int64(12000), true, created).
			AddRow(int64(1), "req-1", "user-1", "query", "simple", 0.001, 0.001, int64(900), true, created.Add(-time.Hour)))

	records, total, err := repo.ListUsage(context.Background(), "user-1", UsageQueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, records, 2)
	assert.Equal(t, "complex", records[0].Tier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsageWithTierFilter(t *testing.T) {
	repo, mock, done := newMockRepo(t)
	defer done()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM usage_records`).
		WithArgs("user-1", "simple").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectQuery("SELECT id, request_id, user_id, feature, tier").
		WithArgs("user-1", "simple", 100, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "request_id", "user_id", "feature", "tier", "estimated_cost",
			"actual_cost", "processing_ms", "success", "created_at",
		}))

	records, total, err := repo.ListUsage(context.Background(), "user-1", UsageQueryOptions{Tier: "simple"})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, records)
}

func TestTierBreakdown(t *testing.T) {
	repo, mock, done := newMockRepo(t)
	defer done()

	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT tier").
		WithArgs("user-1", since).
		WillReturnRows(sqlmock.NewRows([]string{"tier", "sum", "count", "success"}).
			AddRow("complex", 0.05, 2, 2).
			AddRow("simple", 0.003, 3, 3))

	breakdown, err := repo.TierBreakdown(context.Background(), "user-1", since)
	require.NoError(t, err)
	require.Len(t, breakdown, 2)
	assert.Equal(t, "complex", breakdown[0].Tier)
	assert.Equal(t, 3, breakdown[1].RequestCount)
}
