// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

/*
Package logger provides structured JSON logging for Fiscalia components.

# Overview

The logger outputs single-line JSON to stdout, making logs consumable by
CloudWatch, ELK, or any other aggregation system.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (advisor, ledger, etc.)
  - Instance ID and container name (for distributed tracing)
  - User ID (for per-user budget correlation)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("advisor")

Log messages with user and request context:

	log.Info("user-123", "req-456", "Routing query", map[string]interface{}{
	    "tier": "simple",
	})

Record a dropped side effect so it can be replayed later:

	log.DeadLetter("user-123", "req-456", "memory.save", err, map[string]interface{}{
	    "query": q.Text,
	})

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
