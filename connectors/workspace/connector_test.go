// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package workspace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	edited := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, apiVersion, r.Header.Get("Notion-Version"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "notes de frais", req["query"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{
					"id":               "page-1",
					"url":              "https://notion.so/page-1",
					"last_edited_time": edited.Format(time.RFC3339),
					"properties": map[string]any{
						"title": map[string]any{
							"title": []map[string]any{
								{"plain_text": "Notes de frais "},
								{"plain_text": "2026"},
							},
						},
					},
				},
			},
		})
	}))
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, Token: "test-token"})
	require.NoError(t, err)

	docs, err := c.Search(context.Background(), "notes de frais", 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "page-1", docs[0].ID)
	assert.Equal(t, "Notes de frais 2026", docs[0].Title)
	assert.True(t, docs[0].UpdatedAt.Equal(edited))
}

func TestSearchAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, Token: "bad-token"})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "notes", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/users/me", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, Token: "test-token"})
	require.NoError(t, err)
	assert.NoError(t, c.HealthCheck(context.Background()))
}
