// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

// Package bedrock provides a model provider backed by AWS Bedrock using the
// AWS SDK v2. Authentication is AWS Signature V4 via IAM roles, so no API
// key is stored in configuration.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"fiscalia/platform/llm"
)

const (
	// DefaultRegion is used when no region is configured
	DefaultRegion = "us-east-1"

	// DefaultModel is the Claude model invoked when none is requested
	DefaultModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 4096

	// anthropicVersion is the Bedrock-side Messages API version
	anthropicVersion = "bedrock-2023-05-31"
)

// InvokeModelAPI is the subset of the Bedrock runtime client the provider
// uses (enables testing).
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Provider implements llm.Provider for AWS Bedrock Claude models
type Provider struct {
	name   string
	client InvokeModelAPI
	region string
	model  string
}

// Config contains configuration for the Bedrock provider
type Config struct {
	Name   string         // Optional: instance name (default: "bedrock")
	Region string         // Optional: AWS region (default: us-east-1)
	Model  string         // Optional: default model ID
	Client InvokeModelAPI // Optional: custom client (for testing)
}

// NewProvider creates a new Bedrock provider. When no client is supplied it
// loads the default AWS configuration for the region, which resolves IAM
// credentials from the environment.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		cfg.Name = "bedrock"
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	client := cfg.Client
	if client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", cfg.Region, err)
		}
		client = bedrockruntime.NewFromConfig(awsCfg)
	}

	return &Provider{
		name:   cfg.Name,
		client: client,
		region: cfg.Region,
		model:  cfg.Model,
	}, nil
}

// Name returns the provider instance name
func (p *Provider) Name() string {
	return p.name
}

// Type returns the provider type
func (p *Provider) Type() llm.ProviderType {
	return llm.ProviderTypeBedrock
}

// Complete generates a completion via InvokeModel
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

	body := bedrockRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		Temperature:      req.Temperature,
		Messages: []bedrockMessage{
			{Role: "user", Content: req.Prompt},
		},
	}
	if req.SystemPrompt != "" {
		body.System = req.SystemPrompt
	}

	requestJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, llm.NewProviderError(p.name, llm.ErrCodeTimeout, err.Error())
		}
		return nil, fmt.Errorf("bedrock API error: %w", err)
	}

	var apiResp bedrockResponse
	if err := json.Unmarshal(output.Body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var content string
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	confidence := 0.7
	switch apiResp.StopReason {
	case "end_turn", "stop_sequence":
		confidence = 0.9
	case "max_tokens":
		confidence = 0.6
	}

	return &llm.CompletionResponse{
		Content:      content,
		Model:        model,
		Confidence:   confidence,
		FinishReason: apiResp.StopReason,
		Usage: llm.UsageStats{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// HealthCheck verifies Bedrock connectivity with a minimal invocation
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

// Internal API types (Claude on Bedrock, Messages API shape)

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Temperature      float64          `json:"temperature,omitempty"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockResponse struct {
	ID         string `json:"id"`
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
