// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package advisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"fiscalia/platform/connectors/fiscalprofile"
	"fiscalia/platform/connectors/memory"
	"fiscalia/platform/connectors/websearch"
	"fiscalia/platform/connectors/workspace"
	"fiscalia/platform/llm"
	"fiscalia/platform/shared/logger"
)

// Narrow views over the connectors, so tests can stand in fakes and the
// orchestrator never sees more surface than it uses.
type (
	// ProfileProvider serves the user's fiscal profile.
	ProfileProvider interface {
		Fetch(ctx context.Context, userID string) (*fiscalprofile.Profile, error)
	}

	// MemoryProvider serves recent conversation memory.
	MemoryProvider interface {
		Recent(ctx context.Context, userID string, limit int64) ([]memory.Entry, error)
	}

	// SearchProvider serves live web results.
	SearchProvider interface {
		Search(ctx context.Context, query string, maxResults int) ([]websearch.Result, error)
	}

	// WorkspaceProvider serves the user's workspace documents.
	WorkspaceProvider interface {
		Search(ctx context.Context, query string, pageSize int) ([]workspace.Document, error)
	}
)

// providerFetchTimeout bounds each individual context fetch. A slow
// provider degrades the answer, it never stalls the request.
const providerFetchTimeout = 5 * time.Second

const recentMemoryLimit = 5

// Sub-agent names recorded in answer metadata.
const (
	agentCompliance = "compliance"
	agentStrategy   = "strategy"
	agentSynthesis  = "synthesis"
)

// MultiAgentOrchestrator serves the expensive tiers. It gathers context
// from every available provider concurrently, runs compliance and
// strategy sub-agents over that context, and synthesizes one answer.
type MultiAgentOrchestrator struct {
	model     llm.Provider
	profiles  ProfileProvider
	memories  MemoryProvider
	search    SearchProvider
	workspace WorkspaceProvider
	log       *logger.Logger
}

// NewMultiAgentOrchestrator wires an orchestrator. Any provider may be
// nil; missing providers simply contribute nothing.
func NewMultiAgentOrchestrator(model llm.Provider, profiles ProfileProvider, memories MemoryProvider, search SearchProvider, ws WorkspaceProvider) *MultiAgentOrchestrator {
	return &MultiAgentOrchestrator{
		model:     model,
		profiles:  profiles,
		memories:  memories,
		search:    search,
		workspace: ws,
		log:       logger.New("orchestrator"),
	}
}

// Execute runs the full pipeline: collect context, run agents, synthesize.
func (o *MultiAgentOrchestrator) Execute(ctx context.Context, q Query, tier Tier, actx *AgentContext) (*Answer, error) {
	if actx == nil {
		actx = &AgentContext{}
	}

	sourcesUsed := o.collectContext(ctx, q, tier, actx)

	// Every provider failed or was skipped: still try a direct answer,
	// flagged low confidence, rather than failing the request.
	if actx.IsEmpty() && actx.Degraded {
		return o.directFallback(ctx, q, tier)
	}

	compliance, strategy := o.runAgents(ctx, q, actx)

	agentOutputs := make([]string, 0, 2)
	agentsUsed := make([]string, 0, 3)
	if compliance != "" {
		agentOutputs = append(agentOutputs, compliance)
		agentsUsed = append(agentsUsed, agentCompliance)
	}
	if strategy != "" {
		agentOutputs = append(agentOutputs, strategy)
		agentsUsed = append(agentsUsed, agentStrategy)
	}
	if len(agentOutputs) == 0 {
		return o.directFallback(ctx, q, tier)
	}

	text, model, usage, synthesized := o.synthesize(ctx, q, agentOutputs)
	if synthesized {
		agentsUsed = append(agentsUsed, agentSynthesis)
	}

	answer := &Answer{
		Text:            text,
		Confidence:      o.confidence(actx, compliance, strategy),
		Sources:         contextSources(actx),
		Recommendations: extractRecommendations(strategy),
		Metadata: AnswerMetadata{
			Tier:            tier,
			Model:           model,
			ActualCost:      estimateActualCost(tier, usage),
			AgentsUsed:      agentsUsed,
			DataSourcesUsed: sourcesUsed,
			FallbackUsed:    actx.Degraded,
			UsedContext:     actx.Profile != nil || len(actx.SearchResults) > 0 || len(actx.WorkspaceDocs) > 0,
			UsedMemory:      len(actx.RecentMemory) > 0,
		},
	}
	return answer, nil
}

// collectContext fans out to every provider the tier wants, each under
// its own timeout. Failures mark the context degraded and move on.
func (o *MultiAgentOrchestrator) collectContext(ctx context.Context, q Query, tier Tier, actx *AgentContext) []string {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		used    []string
		skipped = true
	)

	fetch := func(name string, fn func(fctx context.Context) (bool, error)) {
		skipped = false
		wg.Add(1)
		go func() {
			defer wg.Done()
			fctx, cancel := context.WithTimeout(ctx, providerFetchTimeout)
			defer cancel()

			got, err := fn(fctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				actx.Degraded = true
				o.log.Warn(q.UserID, "", "context provider failed",
					map[string]interface{}{"provider": name, "error": err.Error()})
				return
			}
			if got {
				used = append(used, name)
			}
		}()
	}

	if o.profiles != nil && !q.Options.SkipContext {
		fetch("fiscal_profile", func(fctx context.Context) (bool, error) {
			p, err := o.profiles.Fetch(fctx, q.UserID)
			if err != nil {
				if err == fiscalprofile.ErrProfileNotFound {
					return false, nil
				}
				return false, err
			}
			actx.Profile = p
			return true, nil
		})
	}

	if o.memories != nil && !q.Options.SkipMemory {
		fetch("memory", func(fctx context.Context) (bool, error) {
			entries, err := o.memories.Recent(fctx, q.UserID, recentMemoryLimit)
			if err != nil {
				return false, err
			}
			actx.RecentMemory = entries
			return len(entries) > 0, nil
		})
	}

	wantsSearch := tier == TierWebResearch || tier == TierUrgent
	if o.search != nil && wantsSearch && !q.Options.SkipWebSearch {
		fetch("web_search", func(fctx context.Context) (bool, error) {
			results, err := o.search.Search(fctx, q.Text, 5)
			if err != nil {
				return false, err
			}
			actx.SearchResults = results
			return len(results) > 0, nil
		})
	}

	if o.workspace != nil && !q.Options.SkipContext {
		fetch("workspace", func(fctx context.Context) (bool, error) {
			docs, err := o.workspace.Search(fctx, q.Text, 5)
			if err != nil {
				return false, err
			}
			actx.WorkspaceDocs = docs
			return len(docs) > 0, nil
		})
	}

	wg.Wait()

	// No provider was even tried: the context is empty but not degraded,
	// the agents run on the query alone.
	if skipped {
		return nil
	}
	return used
}

// runAgents executes the compliance and strategy sub-agents concurrently.
// A failed agent contributes an empty string.
func (o *MultiAgentOrchestrator) runAgents(ctx context.Context, q Query, actx *AgentContext) (compliance, strategy string) {
	contextBlock := renderContext(actx)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		compliance = o.runAgent(ctx, q, agentCompliance,
			"Tu es l'agent conformité d'un cabinet de conseil fiscal français. "+
				"Identifie les obligations, risques et échéances applicables. "+
				"Cite les textes quand tu le peux.", contextBlock)
	}()
	go func() {
		defer wg.Done()
		strategy = o.runAgent(ctx, q, agentStrategy,
			"Tu es l'agent stratégie d'un cabinet de conseil fiscal français. "+
				"Propose des options concrètes et chiffrées, chacune sur une "+
				"ligne commençant par \"- \".", contextBlock)
	}()

	wg.Wait()
	return compliance, strategy
}

// renderContext flattens the collected context into the prompt block
// shared by the sub-agents. An empty context renders to "", so the
// agents then work from the question alone.
func renderContext(actx *AgentContext) string {
	if actx == nil || actx.IsEmpty() {
		return ""
	}

	var b strings.Builder

	if p := actx.Profile; p != nil {
		fmt.Fprintf(&b, "Profil fiscal du client: régime %s", p.Regime)
		if p.ActivityCode != "" {
			fmt.Fprintf(&b, ", code APE %s", p.ActivityCode)
		}
		if p.AnnualRevenue > 0 {
			fmt.Fprintf(&b, ", CA annuel déclaré %.0f EUR", p.AnnualRevenue)
		}
		if p.VATRegistered {
			b.WriteString(", assujetti à la TVA")
		}
		b.WriteString("\n")
	}

	if len(actx.RecentMemory) > 0 {
		b.WriteString("Échanges récents:\n")
		for _, e := range actx.RecentMemory {
			fmt.Fprintf(&b, "- %s\n", e.Summary)
		}
	}

	if len(actx.SearchResults) > 0 {
		b.WriteString("Résultats de recherche web:\n")
		for _, r := range actx.SearchResults {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", r.Title, r.Snippet, r.URL)
		}
	}

	if len(actx.WorkspaceDocs) > 0 {
		b.WriteString("Documents de l'espace de travail:\n")
		for _, d := range actx.WorkspaceDocs {
			fmt.Fprintf(&b, "- %s: %s\n", d.Title, d.Excerpt)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func (o *MultiAgentOrchestrator) runAgent(ctx context.Context, q Query, name, systemPrompt, contextBlock string) string {
	prompt := q.Text
	if contextBlock != "" {
		prompt = contextBlock + "\n\nQuestion:\n" + q.Text
	}

	resp, err := o.model.Complete(ctx, llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		MaxTokens:    1500,
	})
	if err != nil {
		o.log.Warn(q.UserID, "", "sub-agent failed",
			map[string]interface{}{"agent": name, "error": err.Error()})
		return ""
	}
	return resp.Content
}

// synthesize merges agent outputs into one answer. If the synthesis call
// fails the outputs are concatenated instead; the request still succeeds.
func (o *MultiAgentOrchestrator) synthesize(ctx context.Context, q Query, outputs []string) (text, model string, usage llm.UsageStats, ok bool) {
	var b strings.Builder
	for i, out := range outputs {
		fmt.Fprintf(&b, "Analyse %d:\n%s\n\n", i+1, out)
	}
	b.WriteString("Question initiale:\n")
	b.WriteString(q.Text)

	resp, err := o.model.Complete(ctx, llm.CompletionRequest{
		Prompt: b.String(),
		SystemPrompt: "Fusionne les analyses suivantes en une seule réponse " +
			"cohérente pour le client, sans mentionner qu'elles viennent " +
			"d'agents distincts.",
		MaxTokens: 2000,
	})
	if err != nil {
		o.log.Warn(q.UserID, "", "synthesis failed, concatenating agent outputs",
			map[string]interface{}{"error": err.Error()})
		return strings.Join(outputs, "\n\n"), "", llm.UsageStats{}, false
	}
	return resp.Content, resp.Model, resp.Usage, true
}

// directFallback answers from the model alone when no context and no
// agent output is available. Confidence is deliberately low.
func (o *MultiAgentOrchestrator) directFallback(ctx context.Context, q Query, tier Tier) (*Answer, error) {
	resp, err := o.model.Complete(ctx, llm.CompletionRequest{
		Prompt:       q.Text,
		SystemPrompt: advisorSystemPrompt,
		MaxTokens:    1500,
	})
	if err != nil {
		return nil, err
	}

	return &Answer{
		Text:       resp.Content,
		Confidence: 0.3,
		Metadata: AnswerMetadata{
			Tier:         tier,
			Model:        resp.Model,
			ActualCost:   estimateActualCost(tier, resp.Usage),
			FallbackUsed: true,
		},
	}, nil
}

// confidence blends how much of the requested context arrived with how
// much the two agents agree.
func (o *MultiAgentOrchestrator) confidence(actx *AgentContext, compliance, strategy string) float64 {
	providerScore := 1.0
	if actx.Degraded {
		providerScore = 0.5
	}

	agreement := 0.5
	if compliance != "" && strategy != "" {
		agreement = wordOverlap(compliance, strategy)
	}

	c := 0.5*providerScore + 0.5*agreement
	if c > 1 {
		c = 1
	}
	return c
}

// wordOverlap is a crude agreement signal: the Jaccard index of the
// lowercased word sets of two texts, floored so that two non-empty
// answers never score zero agreement.
func wordOverlap(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0.5
	}

	inter := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	score := float64(inter) / float64(union)
	if score < 0.3 {
		score = 0.3
	}
	return score
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if len(w) > 3 {
			set[w] = struct{}{}
		}
	}
	return set
}

func contextSources(actx *AgentContext) []Source {
	var sources []Source
	if actx.Profile != nil {
		sources = append(sources, Source{
			Type: "fiscal_profile", Title: "Profil fiscal", Reliability: 1.0,
		})
	}
	for _, r := range actx.SearchResults {
		sources = append(sources, Source{
			Type: "web", Title: r.Title, Locator: r.URL, Reliability: 0.6,
		})
	}
	for _, d := range actx.WorkspaceDocs {
		sources = append(sources, Source{
			Type: "workspace", Title: d.Title, Locator: d.URL, Reliability: 0.9,
		})
	}
	return sources
}

// extractRecommendations pulls list items out of the strategy agent's
// output, capped at five.
func extractRecommendations(strategy string) []string {
	var recs []string
	for _, line := range strings.Split(strategy, "\n") {
		line = strings.TrimSpace(line)
		if rec, ok := strings.CutPrefix(line, "- "); ok {
			recs = append(recs, rec)
		} else if rec, ok := strings.CutPrefix(line, "• "); ok {
			recs = append(recs, rec)
		}
		if len(recs) == 5 {
			break
		}
	}
	return recs
}
