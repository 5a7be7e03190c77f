// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"time"
)

// Repository defines the storage interface for the ledger.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Budget operations
	UpsertBudget(ctx context.Context, budget *Budget) error
	GetBudget(ctx context.Context, userID string) (*Budget, error)

	// Usage operations. SaveUsage appends a record; records are immutable.
	SaveUsage(ctx context.Context, record *UsageRecord) error
	SumUsageSince(ctx context.Context, userID string, since time.Time) (float64, error)
	ListUsage(ctx context.Context, userID string, opts UsageQueryOptions) ([]UsageRecord, int, error)
	TierBreakdown(ctx context.Context, userID string, since time.Time) ([]TierUsage, error)

	// Health check
	Ping(ctx context.Context) error
}
