// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, budget BudgetLedger, exec TierExecutor) *mux.Router {
	t.Helper()
	classifier := NewClassifier()
	router := NewSmartRouter(classifier, budget, registerAll(exec), nil, nil)
	enhancer := NewProgressiveEnhancer(router, classifier)
	handler := NewHandler(router, enhancer, nil)

	r := mux.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func postJSON(t *testing.T, r *mux.Router, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestQueryEndpoint(t *testing.T) {
	exec := answerExecutor("Le régime BNC couvre les bénéfices non commerciaux.", 0.9, 0.001)
	api := newTestAPI(t, newUnlimitedLedger(), exec)

	rec := postJSON(t, api, "/api/v1/query", "user-1",
		QueryRequest{Query: "Qu'est-ce que le régime BNC?"})

	require.Equal(t, http.StatusOK, rec.Code)

	var answer Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &answer))
	assert.Equal(t, TierSimple, answer.Metadata.Tier)
	assert.NotEmpty(t, answer.Metadata.RequestID)
}

func TestQueryEndpointRequiresIdentity(t *testing.T) {
	api := newTestAPI(t, newUnlimitedLedger(), answerExecutor("x", 0.9, 0.001))

	rec := postJSON(t, api, "/api/v1/query", "",
		QueryRequest{Query: "Qu'est-ce que le régime BNC?"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryEndpointBudgetExceeded(t *testing.T) {
	api := newTestAPI(t, newFakeLedger(0.02), answerExecutor("x", 0.9, 0.025))

	rec := postJSON(t, api, "/api/v1/query", "user-1", QueryRequest{
		Query:   "Quand payer la TVA?",
		Options: QueryOptions{ForceRoute: "complex"},
	})

	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var resp struct {
		Error           string  `json:"error"`
		Reason          string  `json:"reason"`
		RemainingBudget float64 `json:"remaining_budget"`
		Suggestion      string  `json:"suggestion"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Reason)
	assert.InDelta(t, 0.02, resp.RemainingBudget, 0.000001)
	assert.NotEmpty(t, resp.Suggestion)
}

func TestQueryEndpointExecutionFailure(t *testing.T) {
	api := newTestAPI(t, newUnlimitedLedger(), failingExecutor(assert.AnError))

	rec := postJSON(t, api, "/api/v1/query", "user-1",
		QueryRequest{Query: "Quand payer la TVA?"})

	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotContains(t, resp["message"], "assert.AnError",
		"internal causes stay server-side")
}

func TestEnhanceEndpoint(t *testing.T) {
	exec := tierAnswers(map[Tier]*Answer{
		TierSimple:   {Text: "court", Confidence: 0.5, Metadata: AnswerMetadata{ActualCost: 0.001}},
		TierModerate: {Text: "développé", Confidence: 0.9, Metadata: AnswerMetadata{ActualCost: 0.008}},
	})
	api := newTestAPI(t, newUnlimitedLedger(), exec)

	rec := postJSON(t, api, "/api/v1/enhance", "user-1", EnhanceRequest{
		Query:                 "Qu'est-ce que le régime BNC?",
		MaxAttempts:           2,
		SatisfactionThreshold: 0.75,
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var result EnhancementResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, []Tier{TierSimple, TierModerate}, result.Path)
	assert.Equal(t, 1, result.Escalations)
}

func TestMultiAgentEndpointPicksTier(t *testing.T) {
	exec := answerExecutor("analyse", 0.8, 0.045)
	api := newTestAPI(t, newUnlimitedLedger(), exec)

	rec := postJSON(t, api, "/api/v1/multi-agent", "user-1", MultiAgentRequest{
		Query:   "Que faire après un contrôle?",
		Urgency: true,
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var answer Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &answer))
	assert.Equal(t, TierUrgent, answer.Metadata.Tier)
}

func TestMultiAgentEndpointDefaultsToComplex(t *testing.T) {
	exec := answerExecutor("analyse", 0.8, 0.025)
	api := newTestAPI(t, newUnlimitedLedger(), exec)

	rec := postJSON(t, api, "/api/v1/multi-agent", "user-1", MultiAgentRequest{
		Query: "Analyse de ma situation",
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var answer Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &answer))
	assert.Equal(t, TierComplex, answer.Metadata.Tier)
}

func TestCapabilitiesEndpoint(t *testing.T) {
	api := newTestAPI(t, newUnlimitedLedger(), answerExecutor("x", 0.9, 0.001))

	req := httptest.NewRequest("GET", "/api/v1/capabilities", nil)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tiers []tierCapability `json:"tiers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tiers, 5)
	assert.Equal(t, TierSimple, resp.Tiers[0].Tier)
	assert.InDelta(t, 0.001, resp.Tiers[0].BaselineCost, 0.000001)
}

func TestHealthEndpoint(t *testing.T) {
	api := newTestAPI(t, newUnlimitedLedger(), answerExecutor("x", 0.9, 0.001))

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestHealthEndpointReportsUnhealthyBackend(t *testing.T) {
	classifier := NewClassifier()
	router := NewSmartRouter(classifier, newUnlimitedLedger(), NewExecutorSet(), nil, nil)
	handler := NewHandler(router, NewProgressiveEnhancer(router, classifier), nil)
	handler.AddHealthCheck("ledger", func(ctx context.Context) bool { return false })

	api := mux.NewRouter()
	handler.RegisterRoutes(api)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	var resp struct {
		Status   string            `json:"status"`
		Backends map[string]string `json:"backends"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unhealthy", resp.Backends["ledger"])
}

func TestQueryEndpointCORSPreflight(t *testing.T) {
	api := newTestAPI(t, newUnlimitedLedger(), answerExecutor("x", 0.9, 0.001))

	req := httptest.NewRequest("OPTIONS", "/api/v1/query", nil)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
