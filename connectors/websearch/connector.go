// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

// Package websearch queries an external web search API for current
// information (rate changes, deadline announcements). Calls are bounded by
// the caller's context; the research tier applies its own timeout.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultTimeout is the HTTP client timeout
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults caps results per search
	DefaultMaxResults = 5
)

// Result is one search hit.
type Result struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet"`
	PublishedAt string `json:"published_at,omitempty"`
}

// Connector performs web searches against a configured search endpoint.
type Connector struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Config contains configuration for the web search connector.
type Config struct {
	BaseURL string        // Required: search API endpoint
	APIKey  string        // Required: API key
	Timeout time.Duration // Optional: HTTP timeout (default: 30s)
}

// New creates a web search connector.
func New(cfg Config) (*Connector, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("search base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("search API key is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Connector{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Search runs a query and returns up to maxResults hits.
func (c *Connector) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", fmt.Sprintf("%d", maxResults))

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search API error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp struct {
		Results []Result `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	if len(apiResp.Results) > maxResults {
		apiResp.Results = apiResp.Results[:maxResults]
	}
	return apiResp.Results, nil
}

// HealthCheck verifies the search endpoint is reachable.
func (c *Connector) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("search endpoint unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("search endpoint unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}
