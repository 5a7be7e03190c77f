// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// Handler provides HTTP handlers for budget and usage APIs
type Handler struct {
	service *Service
}

// NewHandler creates a new ledger handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers all ledger routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/budgets/{userID}", h.SetBudget).Methods("PUT", "OPTIONS")
	r.HandleFunc("/api/v1/budgets/{userID}", h.GetBudget).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/usage/{userID}", h.ListUsage).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/usage/{userID}/analytics", h.GetAnalytics).Methods("GET", "OPTIONS")
}

// SetBudgetRequest is the request body for setting a budget
type SetBudgetRequest struct {
	MonthlyCeiling float64 `json:"monthly_ceiling"`
}

// SetBudget handles PUT /api/v1/budgets/{userID}
func (h *Handler) SetBudget(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	userID := mux.Vars(r)["userID"]
	if userID == "" {
		h.writeError(w, "User ID required", http.StatusBadRequest)
		return
	}

	var req SetBudgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	budget := &Budget{
		UserID:         userID,
		MonthlyCeiling: req.MonthlyCeiling,
		UpdatedAt:      time.Now().UTC(),
	}

	if err := h.service.SetBudget(r.Context(), budget); err != nil {
		if err == ErrInvalidCeiling || err == ErrInvalidUserID {
			h.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(budget)
}

// GetBudget handles GET /api/v1/budgets/{userID}
func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	userID := mux.Vars(r)["userID"]
	if userID == "" {
		h.writeError(w, "User ID required", http.StatusBadRequest)
		return
	}

	budget, err := h.service.GetBudget(r.Context(), userID)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	remaining, err := h.service.RemainingBudget(r.Context(), userID)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"budget":           budget,
		"remaining_budget": remaining,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// ListUsage handles GET /api/v1/usage/{userID}
func (h *Handler) ListUsage(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	userID := mux.Vars(r)["userID"]
	if userID == "" {
		h.writeError(w, "User ID required", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	opts := UsageQueryOptions{
		Tier: query.Get("tier"),
	}

	opts.Limit = 100
	if limit := query.Get("limit"); limit != "" {
		opts.Limit, _ = strconv.Atoi(limit)
	}
	if opts.Limit <= 0 || opts.Limit > 1000 {
		opts.Limit = 100
	}
	if offset := query.Get("offset"); offset != "" {
		opts.Offset, _ = strconv.Atoi(offset)
	}

	records, total, err := h.service.ListUsage(r.Context(), userID, opts)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"records": records,
		"total":   total,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// GetAnalytics handles GET /api/v1/usage/{userID}/analytics
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	userID := mux.Vars(r)["userID"]
	if userID == "" {
		h.writeError(w, "User ID required", http.StatusBadRequest)
		return
	}

	analytics, err := h.service.Analytics(r.Context(), userID)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(analytics)
}

// setCORSHeaders sets CORS headers on all responses (not just OPTIONS)
func (h *Handler) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
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
