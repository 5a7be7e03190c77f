// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package ledger

import "errors"

var (
	// ErrBudgetNotFound is returned when no budget row exists for a user
	ErrBudgetNotFound = errors.New("budget not found")

	// ErrInvalidUserID is returned for an empty user ID
	ErrInvalidUserID = errors.New("invalid user ID")

	// ErrInvalidCeiling is returned when the monthly ceiling is not positive
	ErrInvalidCeiling = errors.New("monthly ceiling must be greater than 0")

	// ErrInvalidInput is returned for general invalid input
	ErrInvalidInput = errors.New("invalid input")

	// ErrDatabaseError wraps repository failures so callers can match on
	// the class without parsing driver messages
	ErrDatabaseError = errors.New("database error")
)
