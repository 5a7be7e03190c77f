// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package advisor

import (
	"context"
	"time"

	"fiscalia/platform/connectors/memory"
	"fiscalia/platform/shared/logger"
)

// MemoryWriter persists a memory entry. *memory.Store satisfies it.
type MemoryWriter interface {
	Save(ctx context.Context, e *memory.Entry) error
}

// storeTimeout bounds the background persistence call after the request
// context is gone.
const storeTimeout = 5 * time.Second

const summaryMaxLen = 280

// MemoryManager decides which answered queries are worth remembering and
// persists them best-effort. Persistence never affects the response: a
// failed write is dead-lettered and swallowed.
type MemoryManager struct {
	store MemoryWriter
	log   *logger.Logger
}

// NewMemoryManager creates a memory manager. A nil store disables
// persistence entirely.
func NewMemoryManager(store MemoryWriter) *MemoryManager {
	return &MemoryManager{store: store, log: logger.New("memory-manager")}
}

// ShouldStore applies the selection policy: cheap factual answers and
// accounting fallbacks are not worth remembering, and the user can opt
// out per request.
func (m *MemoryManager) ShouldStore(tier Tier, opts QueryOptions) bool {
	if m == nil || m.store == nil {
		return false
	}
	if opts.SkipMemory {
		return false
	}
	return tier != TierSimple && tier != TierFallback
}

// Store persists the exchange when the policy allows it. Always returns
// without error from the caller's perspective.
func (m *MemoryManager) Store(ctx context.Context, q Query, answer *Answer) {
	tier := answer.Metadata.Tier
	if !m.ShouldStore(tier, q.Options) {
		return
	}

	entry := &memory.Entry{
		UserID:       q.UserID,
		Query:        q.Text,
		Summary:      truncate(answer.Text, summaryMaxLen),
		Tier:         string(tier),
		Satisfaction: answer.Confidence,
	}

	if err := m.store.Save(ctx, entry); err != nil {
		m.log.DeadLetter(q.UserID, answer.Metadata.RequestID, "memory.store", err,
			map[string]interface{}{"tier": string(tier)})
	}
}

// StoreAsync runs Store on its own goroutine with a fresh deadline, so
// the response is never held up by persistence.
func (m *MemoryManager) StoreAsync(q Query, answer *Answer) {
	if m == nil || m.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		m.Store(ctx, q, answer)
	}()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
