// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRepository implements Repository backed by PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repository over an existing database handle
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// InitSchema creates the ledger tables if they don't exist
func (r *PostgresRepository) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS budgets (
		user_id TEXT PRIMARY KEY,
		monthly_ceiling DOUBLE PRECISION NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS usage_records (
		id BIGSERIAL PRIMARY KEY,
		request_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		feature TEXT NOT NULL,
		tier TEXT NOT NULL,
		estimated_cost DOUBLE PRECISION NOT NULL,
		actual_cost DOUBLE PRECISION NOT NULL,
		processing_ms BIGINT NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_usage_user_created
		ON usage_records (user_id, created_at);
	`

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: failed to initialize ledger schema: %v", ErrDatabaseError, err)
	}
	return nil
}

// UpsertBudget creates or replaces a user's budget
func (r *PostgresRepository) UpsertBudget(ctx context.Context, budget *Budget) error {
	query := `
		INSERT INTO budgets (user_id, monthly_ceiling, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			monthly_ceiling = EXCLUDED.monthly_ceiling,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query, budget.UserID, budget.MonthlyCeiling, budget.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: failed to upsert budget: %v", ErrDatabaseError, err)
	}
	return nil
}

// GetBudget retrieves a user's budget
func (r *PostgresRepository) GetBudget(ctx context.Context, userID string) (*Budget, error) {
	query := `SELECT user_id, monthly_ceiling, updated_at FROM budgets WHERE user_id = $1`

	var b Budget
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&b.UserID, &b.MonthlyCeiling, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrBudgetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get budget: %v", ErrDatabaseError, err)
	}
	return &b, nil
}

// SaveUsage appends a usage record
func (r *PostgresRepository) SaveUsage(ctx context.Context, record *UsageRecord) error {
	query := `
		INSERT INTO usage_records (request_id, user_id, feature, tier,
		                           estimated_cost, actual_cost, processing_ms, success, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	err := r.db.QueryRowContext(ctx, query,
		record.RequestID,
		record.UserID,
		record.Feature,
		record.Tier,
		record.EstimatedCost,
		record.ActualCost,
		record.ProcessingMS,
		record.Success,
		record.CreatedAt,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("%w: failed to save usage record: %v", ErrDatabaseError, err)
	}
	return nil
}

// SumUsageSince returns the total actual cost recorded for a user since a time
func (r *PostgresRepository) SumUsageSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(actual_cost), 0)
		FROM usage_records
		WHERE user_id = $1 AND created_at >= $2`

	var total float64
	if err := r.db.QueryRowContext(ctx, query, userID, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("%w: failed to sum usage: %v", ErrDatabaseError, err)
	}
	return total, nil
}

// ListUsage returns usage records for a user with filtering, newest first
func (r *PostgresRepository) ListUsage(ctx context.Context, userID string, opts UsageQueryOptions) ([]UsageRecord, int, error) {
	conditions := []string{"user_id = $1"}
	args := []interface{}{userID}
	argIdx := 2

	if !opts.StartTime.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, opts.StartTime)
		argIdx++
	}
	if !opts.EndTime.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIdx))
		args = append(args, opts.EndTime)
		argIdx++
	}
	if opts.Tier != "" {
		conditions = append(conditions, fmt.Sprintf("tier = $%d", argIdx))
		args = append(args, opts.Tier)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	// Total count for pagination
	var total int
	countQuery := "SELECT COUNT(*) FROM usage_records WHERE " + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to count usage records: %v", ErrDatabaseError, err)
	}

	limit := opts.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, request_id, user_id, feature, tier, estimated_cost,
		       actual_cost, processing_ms, success, created_at
		FROM usage_records
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, limit, opts.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to list usage records: %v", ErrDatabaseError, err)
	}
	defer func() { _ = rows.Close() }()

	var records []UsageRecord
	for rows.Next() {
		var rec UsageRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.RequestID,
			&rec.UserID,
			&rec.Feature,
			&rec.Tier,
			&rec.EstimatedCost,
			&rec.ActualCost,
			&rec.ProcessingMS,
			&rec.Success,
			&rec.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("%w: failed to scan usage record: %v", ErrDatabaseError, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to iterate usage records: %v", ErrDatabaseError, err)
	}

	return records, total, nil
}

// TierBreakdown aggregates a user's spend per tier since a time
func (r *PostgresRepository) TierBreakdown(ctx context.Context, userID string, since time.Time) ([]TierUsage, error) {
	query := `
		SELECT tier,
		       COALESCE(SUM(actual_cost), 0),
		       COUNT(*),
		       COUNT(*) FILTER (WHERE success)
		FROM usage_records
		WHERE user_id = $1 AND created_at >= $2
		GROUP BY tier
		ORDER BY SUM(actual_cost) DESC`

	rows, err := r.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query tier breakdown: %v", ErrDatabaseError, err)
	}
	defer func() { _ = rows.Close() }()

	var breakdown []TierUsage
	for rows.Next() {
		var tu TierUsage
		if err := rows.Scan(&tu.Tier, &tu.TotalCost, &tu.RequestCount, &tu.SuccessCount); err != nil {
			return nil, fmt.Errorf("%w: failed to scan tier breakdown: %v", ErrDatabaseError, err)
		}
		breakdown = append(breakdown, tu)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate tier breakdown: %v", ErrDatabaseError, err)
	}

	return breakdown, nil
}

// Ping verifies database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
