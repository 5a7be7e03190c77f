// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

// Package anthropic provides a model provider backed by Anthropic's Claude
// models over the Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"fiscalia/platform/llm"
)

const (
	// DefaultBaseURL is the default Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the Anthropic API version
	DefaultAPIVersion = "2023-06-01"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 4096

	// DefaultTemperature is the default temperature for completions
	DefaultTemperature = 0.3
)

// Model constants for supported Claude models
const (
	ModelClaude4Sonnet  = "claude-sonnet-4-20250514"
	ModelClaude35Sonnet = "claude-3-5-sonnet-20241022"
	ModelClaude35Haiku  = "claude-3-5-haiku-20241022"

	// DefaultModel is used when no model is configured or requested
	DefaultModel = ModelClaude35Sonnet
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements llm.Provider for Anthropic Claude
type Provider struct {
	name       string
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	client     HTTPClient
	healthy    bool
	mu         sync.RWMutex
}

// Config contains configuration for the Anthropic provider
type Config struct {
	Name       string        // Optional: instance name (default: "anthropic")
	APIKey     string        // Required: Anthropic API key
	BaseURL    string        // Optional: API base URL (default: https://api.anthropic.com)
	APIVersion string        // Optional: API version (default: 2023-06-01)
	Model      string        // Optional: Default model (default: claude-3-5-sonnet-20241022)
	Timeout    time.Duration // Optional: HTTP timeout (default: 120s)
	HTTPClient HTTPClient    // Optional: custom HTTP client (for testing)
}

// NewProvider creates a new Anthropic provider instance
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	if cfg.Name == "" {
		cfg.Name = "anthropic"
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Provider{
		name:       cfg.Name,
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		model:      cfg.Model,
		client:     client,
		healthy:    true,
	}, nil
}

// Name returns the provider instance name
func (p *Provider) Name() string {
	return p.name
}

// Type returns the provider type
func (p *Provider) Type() llm.ProviderType {
	return llm.ProviderTypeAnthropic
}

// setHealthy updates the provider health status
func (p *Provider) setHealthy(healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
}

// Complete generates a completion for the given request
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	// Temperature 0.0 is valid (deterministic); negative means unset
	temperature := req.Temperature
	if temperature < 0 {
		temperature = DefaultTemperature
	}

	apiReq := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.Prompt},
		},
	}

	if temperature >= 0 {
		apiReq.Temperature = &temperature
	}

	if req.SystemPrompt != "" {
		apiReq.System = req.SystemPrompt
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.setHealthy(false)
		if ctx.Err() != nil {
			return nil, llm.NewProviderError(p.name, llm.ErrCodeTimeout, err.Error())
		}
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			p.setHealthy(false)
		}
		return nil, p.parseAPIError(resp.StatusCode, body)
	}

	p.setHealthy(true)

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var contentBuilder strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			contentBuilder.WriteString(block.Text)
		}
	}

	return &llm.CompletionResponse{
		Content:      contentBuilder.String(),
		Model:        apiResp.Model,
		Confidence:   confidenceFromStopReason(apiResp.StopReason),
		FinishReason: apiResp.StopReason,
		Usage: llm.UsageStats{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// confidenceFromStopReason maps the API stop reason to a confidence signal.
// A clean end of turn is trusted more than a truncated answer.
func confidenceFromStopReason(stopReason string) float64 {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return 0.9
	case "max_tokens":
		return 0.6
	default:
		return 0.7
	}
}

// HealthCheck verifies API connectivity with a minimal completion request
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthCheckResult, error) {
	start := time.Now()

	_, err := p.Complete(ctx, llm.CompletionRequest{
		Prompt:    "ping",
		MaxTokens: 1,
	})

	result := &llm.HealthCheckResult{
		Latency:     time.Since(start),
		LastChecked: time.Now().UTC(),
	}

	if err != nil {
		result.Status = llm.HealthStatusUnhealthy
		result.Message = err.Error()
		return result, nil
	}

	result.Status = llm.HealthStatusHealthy
	return result, nil
}

// setHeaders sets the required headers for Anthropic API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", p.apiVersion)
}

// parseAPIError parses an API error response
func (p *Provider) parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		return fmt.Errorf("anthropic API error (status %d): %s", statusCode, string(body))
	}

	code := llm.ErrCodeServerError
	switch {
	case statusCode == http.StatusTooManyRequests || errResp.Error.Type == "rate_limit_error":
		code = llm.ErrCodeRateLimit
	case statusCode == http.StatusUnauthorized || errResp.Error.Type == "authentication_error":
		code = llm.ErrCodeAuth
	case statusCode == http.StatusBadRequest:
		code = llm.ErrCodeInvalidRequest
	case statusCode == http.StatusServiceUnavailable || errResp.Error.Type == "overloaded_error":
		code = llm.ErrCodeUnavailable
	}

	perr := llm.NewProviderError(p.name, code, errResp.Error.Message)
	perr.StatusCode = statusCode
	return perr
}

// Internal API types

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Role       string `json:"role"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
