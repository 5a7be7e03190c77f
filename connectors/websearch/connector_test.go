// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	_, err := New(Config{APIKey: "key"})
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "http://example.com"})
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "taux de TVA 2026", r.URL.Query().Get("q"))
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"title": "TVA 2026", "url": "https://impots.gouv.fr/tva", "snippet": "Les taux applicables"},
				{"title": "Loi de finances", "url": "https://legifrance.gouv.fr", "snippet": "Texte intégral"},
			},
		})
	}))
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, APIKey: "test-key"})
	require.NoError(t, err)

	results, err := c.Search(context.Background(), "taux de TVA 2026", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "TVA 2026", results[0].Title)
	assert.Equal(t, "https://impots.gouv.fr/tva", results[0].URL)
}

func TestSearchCapsResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"title": "a"}, {"title": "b"}, {"title": "c"},
			},
		})
	}))
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, APIKey: "test-key"})
	require.NoError(t, err)

	results, err := c.Search(context.Background(), "question", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, APIKey: "test-key"})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "question", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestSearchContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, APIKey: "test-key"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Search(ctx, "question", 5)
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, APIKey: "test-key"})
	require.NoError(t, err)
	assert.NoError(t, c.HealthCheck(context.Background()))
}
