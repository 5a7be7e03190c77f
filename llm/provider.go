// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
)

// Provider is the unified interface for all model providers.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the unique identifier for this provider instance.
	// This is used for routing, logging, and metrics.
	Name() string

	// Type returns the provider type (e.g., "anthropic", "bedrock").
	Type() ProviderType

	// Complete generates a completion for the given request.
	// The context should be used for cancellation and timeout.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// HealthCheck verifies the provider is operational.
	// Implementations should complete within a reasonable timeout.
	HealthCheck(ctx context.Context) (*HealthCheckResult, error)
}
