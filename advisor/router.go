// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package advisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fiscalia/platform/advisor/ledger"
	"fiscalia/platform/shared/logger"
)

// BudgetLedger is the slice of the cost ledger the router needs.
// *ledger.Service satisfies it.
type BudgetLedger interface {
	CanAfford(ctx context.Context, userID string, estimatedCost float64) (*ledger.BudgetDecision, error)
	RecordSpend(ctx context.Context, record *ledger.UsageRecord) error
	RecordFailure(ctx context.Context, requestID, userID, feature, tier string, estimatedCost float64, processingMS int64) error
	RecordRejection(ctx context.Context, requestID, userID, feature string, estimatedCost float64) error
}

// SmartRouter is the single entry point for answering a query: it
// classifies, enforces budgets, assembles tier-appropriate context,
// executes under the tier's deadline, and settles the ledger. Executor
// failures are surfaced, never retried; the progressive enhancer owns
// escalation.
type SmartRouter struct {
	classifier *Classifier
	ledger     BudgetLedger
	executors  *ExecutorSet
	memories   MemoryProvider // recent-memory reads for the moderate tier
	memoryMgr  *MemoryManager
	log        *logger.Logger
}

// NewSmartRouter wires a router. memories and memoryMgr may be nil.
func NewSmartRouter(classifier *Classifier, budget BudgetLedger, executors *ExecutorSet, memories MemoryProvider, memoryMgr *MemoryManager) *SmartRouter {
	return &SmartRouter{
		classifier: classifier,
		ledger:     budget,
		executors:  executors,
		memories:   memories,
		memoryMgr:  memoryMgr,
		log:        logger.New("router"),
	}
}

// Route answers a query end to end.
func (r *SmartRouter) Route(ctx context.Context, q Query) (*Answer, error) {
	return r.routeAs(ctx, q, "query")
}

func (r *SmartRouter) routeAs(ctx context.Context, q Query, feature string) (*Answer, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	requestID := uuid.New().String()
	start := time.Now()

	decision, budgetErr := r.resolveTier(q)
	if budgetErr != nil {
		budgetRejectionsTotal.Inc()
		_ = r.ledger.RecordRejection(ctx, requestID, q.UserID, feature, budgetErr.estimate)
		return nil, budgetErr.err
	}

	bd, err := r.ledger.CanAfford(ctx, q.UserID, decision.EstimatedCost)
	if err != nil {
		return nil, fmt.Errorf("budget check: %w", err)
	}
	if !bd.Allowed {
		budgetRejectionsTotal.Inc()
		_ = r.ledger.RecordRejection(ctx, requestID, q.UserID, feature, decision.EstimatedCost)
		r.log.Info(q.UserID, requestID, "query rejected over budget",
			map[string]interface{}{"tier": string(decision.Tier), "remaining": bd.RemainingBudget})
		return nil, &BudgetError{
			Reason:     bd.Reason,
			Remaining:  bd.RemainingBudget,
			Suggestion: bd.Suggestion,
		}
	}

	exec, err := r.executors.For(decision.Tier)
	if err != nil {
		_ = r.ledger.RecordFailure(ctx, requestID, q.UserID, feature, string(decision.Tier),
			decision.EstimatedCost, time.Since(start).Milliseconds())
		return nil, err
	}

	actx := r.assembleContext(ctx, q, decision.Tier)

	tierCtx, cancel := context.WithTimeout(ctx, decision.Tier.LatencyBand())
	defer cancel()

	answer, execErr := exec.Execute(tierCtx, q, decision.Tier, actx)
	elapsed := time.Since(start)

	if execErr != nil {
		_ = r.ledger.RecordFailure(ctx, requestID, q.UserID, feature, string(decision.Tier),
			decision.EstimatedCost, elapsed.Milliseconds())
		requestDuration.WithLabelValues(string(decision.Tier)).Observe(elapsed.Seconds())

		// Deadlines and caller cancellation share the timeout taxonomy:
		// either way the tier ran out of time to answer.
		if errors.Is(execErr, context.DeadlineExceeded) || errors.Is(execErr, context.Canceled) || tierCtx.Err() != nil {
			requestsTotal.WithLabelValues(string(decision.Tier), "timeout").Inc()
			r.log.ErrorWithCode(q.UserID, requestID, "tier timed out", 504, execErr,
				map[string]interface{}{"tier": string(decision.Tier)})
			return nil, &TimeoutError{Tier: decision.Tier, Elapsed: elapsed.Round(time.Millisecond).String()}
		}

		requestsTotal.WithLabelValues(string(decision.Tier), "error").Inc()
		r.log.ErrorWithCode(q.UserID, requestID, "tier execution failed", 502, execErr,
			map[string]interface{}{"tier": string(decision.Tier)})
		return nil, &ExecutionError{Tier: decision.Tier, Cause: execErr}
	}

	answer.Metadata.RequestID = requestID
	answer.Metadata.EstimatedCost = decision.EstimatedCost
	answer.Metadata.ProcessingMS = elapsed.Milliseconds()
	if answer.Metadata.ActualCost == 0 {
		answer.Metadata.ActualCost = decision.EstimatedCost
	}

	if err := r.ledger.RecordSpend(ctx, &ledger.UsageRecord{
		RequestID:     requestID,
		UserID:        q.UserID,
		Feature:       feature,
		Tier:          string(decision.Tier),
		EstimatedCost: decision.EstimatedCost,
		ActualCost:    answer.Metadata.ActualCost,
		ProcessingMS:  elapsed.Milliseconds(),
		Success:       true,
	}); err != nil {
		// The user has their answer; the dropped record is already
		// dead-lettered by the ledger.
		r.log.Warn(q.UserID, requestID, "usage record dropped",
			map[string]interface{}{"error": err.Error()})
	}

	requestsTotal.WithLabelValues(string(decision.Tier), "success").Inc()
	requestDuration.WithLabelValues(string(decision.Tier)).Observe(elapsed.Seconds())
	spendTotal.WithLabelValues(string(decision.Tier)).Add(answer.Metadata.ActualCost)

	r.log.InfoWithDuration(q.UserID, requestID, "query answered", float64(elapsed.Milliseconds()),
		map[string]interface{}{
			"tier":        string(decision.Tier),
			"reason":      string(decision.Reason),
			"actual_cost": answer.Metadata.ActualCost,
		})

	if r.memoryMgr != nil {
		r.memoryMgr.StoreAsync(q, answer)
	}

	return answer, nil
}

type tierRejection struct {
	err      error
	estimate float64
}

// resolveTier classifies the query and applies the per-request cost cap.
// An explicit force_route is never downgraded: if it does not fit the
// cap the request fails instead.
func (r *SmartRouter) resolveTier(q Query) (RoutingDecision, *tierRejection) {
	decision := r.classifier.Classify(q.Text, q.Options)

	maxCost := q.Options.MaxCost
	if maxCost <= 0 || decision.EstimatedCost <= maxCost {
		return decision, nil
	}

	if decision.Reason == ReasonForced {
		return decision, &tierRejection{
			estimate: decision.EstimatedCost,
			err: &BudgetError{
				Reason: fmt.Sprintf("forced tier %s costs %.4f EUR, above the %.4f EUR cap",
					decision.Tier, decision.EstimatedCost, maxCost),
				Remaining:  maxCost,
				Suggestion: "raise max_cost or remove force_route",
			},
		}
	}

	if cheaper := decision.Tier.NextCheaper(maxCost); cheaper != "" {
		return RoutingDecision{
			Tier:          cheaper,
			Reason:        ReasonDowngraded,
			EstimatedCost: cheaper.BaselineCost(),
		}, nil
	}

	return decision, &tierRejection{
		estimate: decision.EstimatedCost,
		err: &BudgetError{
			Reason:     fmt.Sprintf("no tier fits the %.4f EUR cap", maxCost),
			Remaining:  maxCost,
			Suggestion: "raise max_cost",
		},
	}
}

// assembleContext fetches only what the tier pays for. Simple runs bare;
// moderate gets recent memory; the expensive tiers collect their own
// context inside the orchestrator.
func (r *SmartRouter) assembleContext(ctx context.Context, q Query, tier Tier) *AgentContext {
	if tier != TierModerate || r.memories == nil || q.Options.SkipMemory {
		return nil
	}

	fctx, cancel := context.WithTimeout(ctx, providerFetchTimeout)
	defer cancel()

	entries, err := r.memories.Recent(fctx, q.UserID, recentMemoryLimit)
	if err != nil {
		r.log.Warn(q.UserID, "", "memory fetch failed, answering without it",
			map[string]interface{}{"error": err.Error()})
		return nil
	}
	if len(entries) == 0 {
		return nil
	}
	return &AgentContext{RecentMemory: entries}
}
