// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"fiscalia/platform/llm"
)

// Handler exposes the routing, enhancement and orchestration APIs.
type Handler struct {
	router   *SmartRouter
	enhancer *ProgressiveEnhancer
	registry *llm.Registry

	healthChecks map[string]func(context.Context) bool
}

// NewHandler creates an advisor handler. registry may be nil; the
// capabilities endpoint then omits provider health.
func NewHandler(router *SmartRouter, enhancer *ProgressiveEnhancer, registry *llm.Registry) *Handler {
	return &Handler{
		router:       router,
		enhancer:     enhancer,
		registry:     registry,
		healthChecks: make(map[string]func(context.Context) bool),
	}
}

// AddHealthCheck registers a named backend liveness probe reported by
// GET /health.
func (h *Handler) AddHealthCheck(name string, fn func(context.Context) bool) {
	h.healthChecks[name] = fn
}

// RegisterRoutes registers all advisor routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/query", h.Query).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/enhance", h.Enhance).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/multi-agent", h.MultiAgent).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/capabilities", h.Capabilities).Methods("GET", "OPTIONS")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// QueryRequest is the body of POST /api/v1/query.
type QueryRequest struct {
	Query   string       `json:"query"`
	Options QueryOptions `json:"options"`
}

// Query handles POST /api/v1/query
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	q, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}

	answer, err := h.router.Route(r.Context(), q)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(answer)
}

// EnhanceRequest is the body of POST /api/v1/enhance.
type EnhanceRequest struct {
	Query                 string       `json:"query"`
	Options               QueryOptions `json:"options"`
	MaxAttempts           int          `json:"max_attempts,omitempty"`
	SatisfactionThreshold float64      `json:"satisfaction_threshold,omitempty"`
	MaxCost               float64      `json:"max_cost,omitempty"`
}

// Enhance handles POST /api/v1/enhance
func (h *Handler) Enhance(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req EnhanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	q := Query{Text: req.Query, UserID: r.Header.Get("X-User-ID"), Options: req.Options}
	result, err := h.enhancer.Enhance(r.Context(), q, EnhanceOptions{
		MaxAttempts:           req.MaxAttempts,
		SatisfactionThreshold: req.SatisfactionThreshold,
		MaxCost:               req.MaxCost,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// MultiAgentRequest is the body of POST /api/v1/multi-agent. It always
// routes to an orchestrated tier; the flags pick which one.
type MultiAgentRequest struct {
	Query                string       `json:"query"`
	Options              QueryOptions `json:"options"`
	Urgency              bool         `json:"urgency,omitempty"`
	RequiresRealTimeData bool         `json:"requires_real_time_data,omitempty"`
}

// MultiAgent handles POST /api/v1/multi-agent
func (h *Handler) MultiAgent(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req MultiAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tier := TierComplex
	switch {
	case req.Urgency:
		tier = TierUrgent
	case req.RequiresRealTimeData:
		tier = TierWebResearch
	}

	q := Query{Text: req.Query, UserID: r.Header.Get("X-User-ID"), Options: req.Options}
	q.Options.ForceRoute = string(tier)

	answer, err := h.router.routeAs(r.Context(), q, "multi_agent")
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(answer)
}

// tierCapability describes one tier in the capabilities response.
type tierCapability struct {
	Tier         Tier    `json:"tier"`
	BaselineCost float64 `json:"baseline_cost"`
	LatencyBand  string  `json:"latency_band"`
}

// Capabilities handles GET /api/v1/capabilities
func (h *Handler) Capabilities(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	tiers := make([]tierCapability, 0, len(escalationOrder))
	for _, t := range escalationOrder {
		tiers = append(tiers, tierCapability{
			Tier:         t,
			BaselineCost: t.BaselineCost(),
			LatencyBand:  t.LatencyBand().String(),
		})
	}

	response := map[string]interface{}{
		"tiers": tiers,
		"defaults": map[string]interface{}{
			"max_attempts":           DefaultMaxAttempts,
			"satisfaction_threshold": DefaultSatisfactionThreshold,
		},
	}
	if h.registry != nil {
		response["providers"] = h.registry.Names()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"service":   "fiscalia-advisor",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if len(h.healthChecks) > 0 {
		backends := map[string]string{}
		for name, fn := range h.healthChecks {
			if fn(r.Context()) {
				backends[name] = "healthy"
			} else {
				backends[name] = "unhealthy"
				response["status"] = "degraded"
			}
		}
		response["backends"] = backends
	}

	if h.registry != nil {
		providers := map[string]string{}
		for name, result := range h.registry.HealthAll(r.Context()) {
			providers[name] = string(result.Status)
			if result.Status == llm.HealthStatusUnhealthy {
				response["status"] = "degraded"
			}
		}
		response["providers"] = providers
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (h *Handler) decodeQuery(w http.ResponseWriter, r *http.Request) (Query, bool) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return Query{}, false
	}

	q := Query{Text: req.Query, UserID: r.Header.Get("X-User-ID"), Options: req.Options}
	return q, true
}

// writeDomainError maps domain errors onto the HTTP surface. Internal
// causes never reach the client.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var budgetErr *BudgetError
	if errors.As(err, &budgetErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error":            http.StatusText(http.StatusPaymentRequired),
			"reason":           budgetErr.Reason,
			"remaining_budget": budgetErr.Remaining,
			"suggestion":       budgetErr.Suggestion,
		})
		return
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGatewayTimeout)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error":      http.StatusText(http.StatusGatewayTimeout),
			"message":    timeoutErr.Error(),
			"suggestion": "retry later or route to a simpler tier",
		})
		return
	}

	var execErr *ExecutionError
	if errors.As(err, &execErr) || errors.Is(err, ErrNoExecutor) {
		h.writeError(w, "Tier execution failed", http.StatusBadGateway)
		return
	}

	switch {
	case errors.Is(err, ErrEmptyQuery),
		errors.Is(err, ErrMissingUserID),
		errors.Is(err, ErrUnknownTier),
		errors.Is(err, ErrNegativeMaxCost):
		h.writeError(w, err.Error(), http.StatusBadRequest)
	default:
		h.writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// setCORSHeaders sets CORS headers on all responses (not just OPTIONS)
func (h *Handler) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID, Authorization")
}

func (h *Handler) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
