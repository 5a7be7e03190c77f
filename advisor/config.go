// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package advisor

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the advisor service needs to start. Values come
// from an optional YAML file, then environment variables override.
type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	MongoURL    string `yaml:"mongo_url"`

	Anthropic struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"anthropic"`

	Bedrock struct {
		Enabled bool   `yaml:"enabled"`
		Region  string `yaml:"region"`
		Model   string `yaml:"model"`
	} `yaml:"bedrock"`

	Search struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"search"`

	Workspace struct {
		Token string `yaml:"token"`
	} `yaml:"workspace"`

	Budget struct {
		DefaultMonthlyCeiling float64 `yaml:"default_monthly_ceiling"`
	} `yaml:"budget"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoadConfig reads path when it exists, then applies environment
// overrides. An empty path skips the file entirely.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Port:         "8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: RequestDeadline + 10*time.Second,
	}
	cfg.Budget.DefaultMonthlyCeiling = 10.0

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	overrideString(&cfg.Port, "PORT")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.RedisURL, "REDIS_URL")
	overrideString(&cfg.MongoURL, "MONGO_URL")
	overrideString(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	overrideString(&cfg.Anthropic.Model, "ANTHROPIC_MODEL")
	overrideString(&cfg.Bedrock.Region, "AWS_REGION")
	overrideString(&cfg.Search.BaseURL, "SEARCH_BASE_URL")
	overrideString(&cfg.Search.APIKey, "SEARCH_API_KEY")
	overrideString(&cfg.Workspace.Token, "WORKSPACE_TOKEN")
	if os.Getenv("BEDROCK_ENABLED") == "true" {
		cfg.Bedrock.Enabled = true
	}

	return cfg, nil
}

// Validate checks the settings the service cannot run without.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required (set DATABASE_URL)")
	}
	if c.Anthropic.APIKey == "" && !c.Bedrock.Enabled {
		return fmt.Errorf("no model provider configured (set ANTHROPIC_API_KEY or BEDROCK_ENABLED)")
	}
	if c.Budget.DefaultMonthlyCeiling <= 0 {
		return fmt.Errorf("default_monthly_ceiling must be positive")
	}
	return nil
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
