// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package advisor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_requests_total",
			Help: "Routed queries by tier and outcome",
		},
		[]string{"tier", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "advisor_request_duration_seconds",
			Help:    "End-to-end query latency by tier",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 90, 120},
		},
		[]string{"tier"},
	)

	spendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_spend_eur_total",
			Help: "Accumulated model spend in EUR by tier",
		},
		[]string{"tier"},
	)

	escalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "advisor_escalations_total",
			Help: "Progressive enhancement escalations",
		},
	)

	budgetRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "advisor_budget_rejections_total",
			Help: "Queries rejected by the budget pre-check",
		},
	)
)

func init() {
	prometheus.MustRegister(
		requestsTotal,
		requestDuration,
		spendTotal,
		escalationsTotal,
		budgetRejectionsTotal,
	)
}
