// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

// Package fiscalprofile loads the user's fiscal profile snapshot from
// postgres. The snapshot is the structured context the multi-agent tiers
// attach to a query: regime, activity, revenue band, VAT status.
package fiscalprofile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrProfileNotFound is returned when no profile exists for the user.
var ErrProfileNotFound = errors.New("fiscal profile not found")

// Profile is a snapshot of a user's fiscal situation.
type Profile struct {
	UserID        string    `json:"user_id"`
	Regime        string    `json:"regime"`         // e.g. "micro-bnc", "reel-simplifie"
	ActivityCode  string    `json:"activity_code"`  // APE/NAF code
	AnnualRevenue float64   `json:"annual_revenue"` // declared revenue, EUR
	VATRegistered bool      `json:"vat_registered"`
	FiscalYearEnd string    `json:"fiscal_year_end"` // MM-DD
	UpdatedAt     time.Time `json:"updated_at"`
}

// Connector reads fiscal profiles from postgres.
type Connector struct {
	db *sql.DB
}

// New creates a connector over an existing database handle. The handle is
// shared with the ledger repository; the connector does not own its lifecycle.
func New(db *sql.DB) *Connector {
	return &Connector{db: db}
}

// Open connects to postgres at databaseURL and verifies the connection.
func Open(databaseURL string) (*Connector, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &Connector{db: db}, nil
}

// Fetch returns the fiscal profile for userID.
func (c *Connector) Fetch(ctx context.Context, userID string) (*Profile, error) {
	query := `
		SELECT user_id, regime, activity_code, annual_revenue, vat_registered,
		       fiscal_year_end, updated_at
		FROM fiscal_profiles
		WHERE user_id = $1`

	var p Profile
	err := c.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID,
		&p.Regime,
		&p.ActivityCode,
		&p.AnnualRevenue,
		&p.VATRegistered,
		&p.FiscalYearEnd,
		&p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch fiscal profile: %w", err)
	}

	return &p, nil
}

// Upsert stores or replaces the fiscal profile for a user.
func (c *Connector) Upsert(ctx context.Context, p *Profile) error {
	query := `
		INSERT INTO fiscal_profiles (user_id, regime, activity_code, annual_revenue,
		                             vat_registered, fiscal_year_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			regime = EXCLUDED.regime,
			activity_code = EXCLUDED.activity_code,
			annual_revenue = EXCLUDED.annual_revenue,
			vat_registered = EXCLUDED.vat_registered,
			fiscal_year_end = EXCLUDED.fiscal_year_end,
			updated_at = EXCLUDED.updated_at`

	_, err := c.db.ExecContext(ctx, query,
		p.UserID,
		p.Regime,
		p.ActivityCode,
		p.AnnualRevenue,
		p.VATRegistered,
		p.FiscalYearEnd,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert fiscal profile: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection.
func (c *Connector) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
