// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package advisor

import (
	"context"
	"fmt"
	"strings"

	"fiscalia/platform/llm"
)

// TierExecutor produces an answer for a query at a given tier. The router
// owns budget checks and deadlines; executors only do the work.
type TierExecutor interface {
	Execute(ctx context.Context, q Query, tier Tier, actx *AgentContext) (*Answer, error)
}

// ExecutorSet maps tiers to their executors.
type ExecutorSet struct {
	executors map[Tier]TierExecutor
}

// NewExecutorSet creates an empty executor set
func NewExecutorSet() *ExecutorSet {
	return &ExecutorSet{executors: make(map[Tier]TierExecutor)}
}

// Register binds an executor to a tier, replacing any previous binding.
func (s *ExecutorSet) Register(tier Tier, e TierExecutor) {
	s.executors[tier] = e
}

// For returns the executor bound to a tier.
func (s *ExecutorSet) For(tier Tier) (TierExecutor, error) {
	e, ok := s.executors[tier]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoExecutor, tier)
	}
	return e, nil
}

// perTokenCost converts provider token usage to EUR. Calibrated so a
// typical single-call answer lands near its tier baseline.
const perTokenCost = 0.000009

// estimateActualCost derives the real spend of a completion. When the
// provider reports no usage the tier baseline is charged.
func estimateActualCost(tier Tier, usage llm.UsageStats) float64 {
	if usage.TotalTokens > 0 {
		return float64(usage.TotalTokens) * perTokenCost
	}
	return tier.BaselineCost()
}

const advisorSystemPrompt = "Tu es un conseiller fiscal français pour indépendants et petites " +
	"entreprises. Réponds de façon précise et sourcée. Si une information " +
	"dépend du régime fiscal de l'utilisateur, dis-le explicitement."

// maxTokensByTier caps response length per tier; cheaper tiers get
// shorter answers.
var maxTokensByTier = map[Tier]int{
	TierSimple:   500,
	TierModerate: 1500,
}

// DirectExecutor answers with a single model call and no sub-agents.
// It serves the simple and moderate tiers.
type DirectExecutor struct {
	provider llm.Provider
}

// NewDirectExecutor creates a single-call executor
func NewDirectExecutor(provider llm.Provider) *DirectExecutor {
	return &DirectExecutor{provider: provider}
}

// Execute runs one completion, folding any recent memory into the prompt.
func (e *DirectExecutor) Execute(ctx context.Context, q Query, tier Tier, actx *AgentContext) (*Answer, error) {
	req := llm.CompletionRequest{
		Prompt:       buildDirectPrompt(q.Text, actx),
		SystemPrompt: advisorSystemPrompt,
		MaxTokens:    maxTokensByTier[tier],
	}

	resp, err := e.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	answer := &Answer{
		Text:       resp.Content,
		Confidence: resp.Confidence,
		Metadata: AnswerMetadata{
			Tier:       tier,
			Model:      resp.Model,
			ActualCost: estimateActualCost(tier, resp.Usage),
			UsedMemory: actx != nil && len(actx.RecentMemory) > 0,
		},
	}
	return answer, nil
}

func buildDirectPrompt(text string, actx *AgentContext) string {
	if actx == nil || len(actx.RecentMemory) == 0 {
		return text
	}

	var b strings.Builder
	b.WriteString("Échanges récents avec cet utilisateur:\n")
	for _, entry := range actx.RecentMemory {
		b.WriteString("- ")
		b.WriteString(entry.Summary)
		b.WriteString("\n")
	}
	b.WriteString("\nQuestion:\n")
	b.WriteString(text)
	return b.String()
}
