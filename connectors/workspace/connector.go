// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

// Package workspace reads documents from a third-party workspace (Notion-style
// API). The multi-agent tiers use it to pull the user's own notes and working
// documents into the query context.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout is the HTTP client timeout
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize caps documents per fetch
	DefaultPageSize = 10

	// apiVersion is the workspace API version header value
	apiVersion = "2022-06-28"
)

// Document is one workspace page or note.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Excerpt   string    `json:"excerpt"`
	URL       string    `json:"url,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Connector searches a workspace over its HTTP API.
type Connector struct {
	baseURL string
	token   string
	client  *http.Client
}

// Config contains configuration for the workspace connector.
type Config struct {
	BaseURL string        // Optional: API endpoint (default: https://api.notion.com)
	Token   string        // Required: integration token
	Timeout time.Duration // Optional: HTTP timeout (default: 30s)
}

// New creates a workspace connector.
func New(cfg Config) (*Connector, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("workspace token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.notion.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Connector{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Search returns workspace documents matching the query, newest first.
func (c *Connector) Search(ctx context.Context, query string, pageSize int) ([]Document, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	body, err := json.Marshal(map[string]any{
		"query":     query,
		"page_size": pageSize,
		"sort": map[string]string{
			"direction": "descending",
			"timestamp": "last_edited_time",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workspace request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("workspace API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp struct {
		Results []struct {
			ID             string    `json:"id"`
			URL            string    `json:"url"`
			LastEditedTime time.Time `json:"last_edited_time"`
			Properties     struct {
				Title struct {
					Title []struct {
						PlainText string `json:"plain_text"`
					} `json:"title"`
				} `json:"title"`
			} `json:"properties"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode workspace response: %w", err)
	}

	docs := make([]Document, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		doc := Document{
			ID:        r.ID,
			URL:       r.URL,
			UpdatedAt: r.LastEditedTime,
		}
		for _, t := range r.Properties.Title.Title {
			doc.Title += t.PlainText
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// HealthCheck verifies the API token by listing users.
func (c *Connector) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/v1/users/me", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("workspace unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("workspace auth failed (status %d)", resp.StatusCode)
	}
	return nil
}
