// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package advisor

import (
	"context"
	"errors"
	"fmt"

	"fiscalia/platform/advisor/ledger"
	"fiscalia/platform/shared/logger"
)

// Enhancement defaults
const (
	DefaultMaxAttempts           = 2
	DefaultSatisfactionThreshold = 0.75
)

// scoreLengthTarget is the answer length, in bytes, at which the default
// score stops penalizing brevity.
const scoreLengthTarget = 240

// ScoreFunc rates an answer in [0,1]. Higher is better.
type ScoreFunc func(*Answer) float64

// DefaultScore blends model confidence with a brevity penalty: a
// one-line answer to a question worth enhancing is probably thin.
func DefaultScore(a *Answer) float64 {
	lengthFactor := float64(len(a.Text)) / scoreLengthTarget
	if lengthFactor > 1 {
		lengthFactor = 1
	}
	return a.Confidence * lengthFactor
}

// EnhancerOption customizes a ProgressiveEnhancer.
type EnhancerOption func(*ProgressiveEnhancer)

// WithScoreFunc replaces the default answer scorer.
func WithScoreFunc(fn ScoreFunc) EnhancerOption {
	return func(e *ProgressiveEnhancer) { e.score = fn }
}

// ProgressiveEnhancer climbs the tier ladder until an answer satisfies:
// try the cheapest applicable tier, score the result, and escalate while
// the score is short and budget remains. It never fails a run merely
// because no attempt satisfied; the best-scored answer always comes back.
type ProgressiveEnhancer struct {
	router     *SmartRouter
	classifier *Classifier
	score      ScoreFunc
	log        *logger.Logger
}

// NewProgressiveEnhancer creates an enhancer over a router
func NewProgressiveEnhancer(router *SmartRouter, classifier *Classifier, opts ...EnhancerOption) *ProgressiveEnhancer {
	e := &ProgressiveEnhancer{
		router:     router,
		classifier: classifier,
		score:      DefaultScore,
		log:        logger.New("enhancer"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enhance runs the escalation loop. The starting tier comes from
// classification, so a query that already demands complex analysis does
// not waste an attempt on the simple tier.
func (e *ProgressiveEnhancer) Enhance(ctx context.Context, q Query, opts EnhanceOptions) (*EnhancementResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.SatisfactionThreshold <= 0 {
		opts.SatisfactionThreshold = DefaultSatisfactionThreshold
	}

	ctx, cancel := context.WithTimeout(ctx, RequestDeadline)
	defer cancel()

	tier := e.classifier.Classify(q.Text, q.Options).Tier
	result := &EnhancementResult{}

	var (
		best      *Answer
		bestScore float64
		lastErr   error
	)

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if opts.MaxCost > 0 && result.TotalCost+tier.BaselineCost() > opts.MaxCost {
			break
		}

		aq := q
		aq.Options.ForceRoute = string(tier)
		aq.Options.MaxCost = 0 // the run-level cap is enforced here

		answer, err := e.router.routeAs(ctx, aq, "enhance")
		result.Path = append(result.Path, tier)

		if err != nil {
			lastErr = err

			record := EnhancementAttempt{
				Tier:           tier,
				CumulativeCost: result.TotalCost,
				Err:            err.Error(),
			}
			if attemptWasCharged(err) {
				result.TotalCost += ledger.FailedAttemptCost
				record.Cost = ledger.FailedAttemptCost
				record.CumulativeCost = result.TotalCost
			}
			result.Attempts = append(result.Attempts, record)

			// A budget denial will only get worse on pricier tiers.
			var be *BudgetError
			if errors.As(err, &be) {
				break
			}

			// The run deadline is spent; escalating can only fail again,
			// and the follow-up error would bury the timeout.
			if ctx.Err() != nil {
				break
			}

			next := tier.NextMoreExpensive()
			if next == "" {
				break
			}
			e.log.Warn(q.UserID, "", "attempt failed, escalating",
				map[string]interface{}{"tier": string(tier), "error": err.Error()})
			tier = next
			result.Escalations++
			escalationsTotal.Inc()
			continue
		}

		result.TotalCost += answer.Metadata.ActualCost
		score := e.score(answer)
		result.Attempts = append(result.Attempts, EnhancementAttempt{
			Tier:           tier,
			Score:          score,
			Cost:           answer.Metadata.ActualCost,
			CumulativeCost: result.TotalCost,
		})

		if best == nil || score > bestScore {
			best, bestScore = answer, score
		}

		if score >= opts.SatisfactionThreshold {
			result.Accepted = true
			break
		}

		next := tier.NextMoreExpensive()
		if next == "" {
			break
		}
		if opts.MaxCost > 0 && result.TotalCost+next.BaselineCost() > opts.MaxCost {
			// The current answer is the best the budget allows.
			result.Accepted = true
			break
		}
		if attempt+1 >= opts.MaxAttempts {
			break
		}

		tier = next
		result.Escalations++
		escalationsTotal.Inc()
	}

	if best == nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("no tier fits the %.4f EUR cap", opts.MaxCost)
	}

	best.Metadata.Escalated = result.Escalations > 0
	result.Answer = best
	result.FinalScore = bestScore
	return result, nil
}

// attemptWasCharged reports whether the router ledgered the fixed
// failure charge for this error. Budget denials and pre-flight
// validation cost nothing.
func attemptWasCharged(err error) bool {
	var execErr *ExecutionError
	var timeoutErr *TimeoutError
	return errors.As(err, &execErr) || errors.As(err, &timeoutErr) || errors.Is(err, ErrNoExecutor)
}
