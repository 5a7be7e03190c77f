// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package advisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalia/platform/connectors/memory"
)

type fakeWriter struct {
	mu      sync.Mutex
	entries []memory.Entry
	err     error
}

func (f *fakeWriter) Save(ctx context.Context, e *memory.Entry) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeWriter) saved() []memory.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]memory.Entry(nil), f.entries...)
}

func TestShouldStorePolicy(t *testing.T) {
	m := NewMemoryManager(&fakeWriter{})

	tests := []struct {
		name string
		tier Tier
		opts QueryOptions
		want bool
	}{
		{"simple never stored", TierSimple, QueryOptions{}, false},
		{"fallback never stored", TierFallback, QueryOptions{}, false},
		{"moderate stored", TierModerate, QueryOptions{}, true},
		{"complex stored", TierComplex, QueryOptions{}, true},
		{"urgent stored", TierUrgent, QueryOptions{}, true},
		{"opt-out wins", TierComplex, QueryOptions{SkipMemory: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.ShouldStore(tt.tier, tt.opts))
		})
	}
}

func TestShouldStoreWithoutBackend(t *testing.T) {
	m := NewMemoryManager(nil)
	assert.False(t, m.ShouldStore(TierComplex, QueryOptions{}))
}

func TestStorePersistsQualifyingAnswer(t *testing.T) {
	writer := &fakeWriter{}
	m := NewMemoryManager(writer)

	answer := &Answer{
		Text:       strings.Repeat("Analyse détaillée. ", 30),
		Confidence: 0.85,
		Metadata:   AnswerMetadata{Tier: TierComplex, RequestID: "req-1"},
	}
	m.Store(context.Background(), Query{Text: "ma question", UserID: "user-1"}, answer)

	saved := writer.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, "user-1", saved[0].UserID)
	assert.Equal(t, "ma question", saved[0].Query)
	assert.Equal(t, "complex", saved[0].Tier)
	assert.InDelta(t, 0.85, saved[0].Satisfaction, 0.0001)
	assert.LessOrEqual(t, len(saved[0].Summary), summaryMaxLen)
}

func TestStoreSkipsSimpleTier(t *testing.T) {
	writer := &fakeWriter{}
	m := NewMemoryManager(writer)

	m.Store(context.Background(), Query{Text: "q", UserID: "user-1"}, &Answer{
		Text:     "réponse",
		Metadata: AnswerMetadata{Tier: TierSimple},
	})

	assert.Empty(t, writer.saved())
}

func TestStoreSwallowsWriteFailure(t *testing.T) {
	writer := &fakeWriter{err: errors.New("mongo down")}
	m := NewMemoryManager(writer)

	// Must not panic and must not surface the error
	m.Store(context.Background(), Query{Text: "q", UserID: "user-1"}, &Answer{
		Text:     "réponse",
		Metadata: AnswerMetadata{Tier: TierComplex},
	})
}
