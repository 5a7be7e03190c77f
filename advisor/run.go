// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package advisor

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"fiscalia/platform/advisor/ledger"
	"fiscalia/platform/connectors/fiscalprofile"
	"fiscalia/platform/connectors/memory"
	"fiscalia/platform/connectors/websearch"
	"fiscalia/platform/connectors/workspace"
	"fiscalia/platform/llm"
	"fiscalia/platform/llm/anthropic"
	"fiscalia/platform/llm/bedrock"
)

// Run is the exported entry point for the advisor service.
//
// It wires the ledger, connectors, model providers, router and enhancer
// once at startup, registers all HTTP routes, and blocks serving until
// the process exits.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8080)
//   - CONFIG_PATH: optional YAML config file
//   - DATABASE_URL: PostgreSQL connection string (required)
//   - REDIS_URL / MONGO_URL: memory backends (optional)
//   - ANTHROPIC_API_KEY: Anthropic provider (required unless Bedrock)
//   - BEDROCK_ENABLED / AWS_REGION: AWS Bedrock provider (optional)
//   - SEARCH_BASE_URL / SEARCH_API_KEY: web search (optional)
//   - WORKSPACE_TOKEN: workspace documents (optional)
func Run() {
	log.Println("Starting Fiscalia Advisor...")

	cfg, err := LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Ledger on PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	repo := ledger.NewPostgresRepository(db)
	if err := repo.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize ledger schema: %v", err)
	}
	budget := ledger.NewService(repo, ledger.WithDefaultCeiling(cfg.Budget.DefaultMonthlyCeiling))

	// Model providers
	registry := llm.NewRegistry()
	var model llm.Provider

	if cfg.Anthropic.APIKey != "" {
		p, err := anthropic.NewProvider(anthropic.Config{
			Name:   "anthropic",
			APIKey: cfg.Anthropic.APIKey,
			Model:  cfg.Anthropic.Model,
		})
		if err != nil {
			log.Fatalf("Failed to create Anthropic provider: %v", err)
		}
		_ = registry.Register(p)
		model = p
	}
	if cfg.Bedrock.Enabled {
		p, err := bedrock.NewProvider(ctx, bedrock.Config{
			Name:   "bedrock",
			Region: cfg.Bedrock.Region,
			Model:  cfg.Bedrock.Model,
		})
		if err != nil {
			log.Fatalf("Failed to create Bedrock provider: %v", err)
		}
		_ = registry.Register(p)
		if model == nil {
			model = p
		}
	}

	// Context connectors, all optional
	profiles := fiscalprofile.New(db)

	var memStore *memory.Store
	if cfg.RedisURL != "" {
		memStore, err = memory.NewStore(ctx, memory.Config{
			RedisURL: cfg.RedisURL,
			MongoURL: cfg.MongoURL,
		})
		if err != nil {
			log.Printf("Memory store unavailable, continuing without it: %v", err)
			memStore = nil
		}
	}

	var search *websearch.Connector
	if cfg.Search.APIKey != "" {
		search, err = websearch.New(websearch.Config{
			BaseURL: cfg.Search.BaseURL,
			APIKey:  cfg.Search.APIKey,
		})
		if err != nil {
			log.Fatalf("Failed to create web search connector: %v", err)
		}
	}

	var ws *workspace.Connector
	if cfg.Workspace.Token != "" {
		ws, err = workspace.New(workspace.Config{Token: cfg.Workspace.Token})
		if err != nil {
			log.Fatalf("Failed to create workspace connector: %v", err)
		}
	}

	// Executors: one model call for the cheap tiers, the orchestrator for
	// everything above.
	direct := NewDirectExecutor(model)
	orchestrator := NewMultiAgentOrchestrator(model,
		nilIfNoProfiles(profiles), nilIfNoMemory(memStore), nilIfNoSearch(search), nilIfNoWorkspace(ws))

	executors := NewExecutorSet()
	executors.Register(TierSimple, direct)
	executors.Register(TierModerate, direct)
	executors.Register(TierComplex, orchestrator)
	executors.Register(TierWebResearch, orchestrator)
	executors.Register(TierUrgent, orchestrator)

	classifier := NewClassifier()
	memoryMgr := NewMemoryManager(nilIfNoMemoryWriter(memStore))
	router := NewSmartRouter(classifier, budget, executors, nilIfNoMemory(memStore), memoryMgr)
	enhancer := NewProgressiveEnhancer(router, classifier)

	// HTTP surface
	r := mux.NewRouter()
	handler := NewHandler(router, enhancer, registry)
	handler.AddHealthCheck("ledger", budget.IsHealthy)
	if memStore != nil {
		handler.AddHealthCheck("memory", func(hctx context.Context) bool {
			return memStore.HealthCheck(hctx) == nil
		})
	}
	handler.RegisterRoutes(r)
	ledger.NewHandler(budget).RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      c.Handler(r),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	log.Printf("Fiscalia Advisor listening on port %s", cfg.Port)
	log.Fatal(srv.ListenAndServe())
}

// Typed-nil guards: a nil *T stored in an interface is not a nil
// interface, so convert explicitly before injection.
func nilIfNoProfiles(c *fiscalprofile.Connector) ProfileProvider {
	if c == nil {
		return nil
	}
	return c
}

func nilIfNoMemory(s *memory.Store) MemoryProvider {
	if s == nil {
		return nil
	}
	return s
}

func nilIfNoMemoryWriter(s *memory.Store) MemoryWriter {
	if s == nil {
		return nil
	}
	return s
}

func nilIfNoSearch(c *websearch.Connector) SearchProvider {
	if c == nil {
		return nil
	}
	return c
}

func nilIfNoWorkspace(c *workspace.Connector) WorkspaceProvider {
	if c == nil {
		return nil
	}
	return c
}
