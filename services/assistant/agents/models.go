// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agents implements the staged query pipeline: intent
// classification, context extraction, parsing, entity resolution, search,
// knowledge retrieval, response generation, and quality enforcement,
// sequenced by the Orchestrator. Every stage consumes only its declared
// inputs and produces an immutable result, so each is testable in
// isolation and stages never share request state.
package agents

import (
	"github.com/arcadian-ai/concierge/services/assistant/datasource"
	"github.com/arcadian-ai/concierge/services/assistant/knowledge"
	"github.com/arcadian-ai/concierge/services/assistant/session"
)

// Intent is the primary purpose of a query.
type Intent string

const (
	IntentLookup         Intent = "lookup"
	IntentSearch         Intent = "search"
	IntentStats          Intent = "stats"
	IntentAnalysis       Intent = "analysis"
	IntentComparison     Intent = "comparison"
	IntentRecommendation Intent = "recommendation"
)

// Domain is a data area a query touches.
type Domain string

const (
	DomainCustomer  Domain = "customer"
	DomainAddress   Domain = "address"
	DomainKnowledge Domain = "knowledge"
	DomainStats     Domain = "stats"
	DomainGeneral   Domain = "general"
)

// Complexity tiers drive tool selection and generation budget.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// SearchStrategy is one matching algorithm in the ranked fallthrough list.
type SearchStrategy string

const (
	StrategyExact    SearchStrategy = "exact"
	StrategyFuzzy    SearchStrategy = "fuzzy"
	StrategySemantic SearchStrategy = "semantic"
	StrategyHybrid   SearchStrategy = "hybrid"
	StrategyKeyword  SearchStrategy = "keyword"
)

// Gate is one named quality check applied before release.
type Gate string

const (
	GateResponsive    Gate = "responsive"
	GateFactual       Gate = "factual"
	GatePIISafe       Gate = "pii_safe"
	GateComplete      Gate = "complete"
	GateCoherent      Gate = "coherent"
	GateOnTopic       Gate = "on_topic"
	GateConfidenceMet Gate = "confidence_met"
)

// EnforcementStatus is the final verdict on a generated response.
type EnforcementStatus string

const (
	StatusApproved EnforcementStatus = "approved"
	StatusModified EnforcementStatus = "modified"
	StatusRejected EnforcementStatus = "rejected"
	StatusFallback EnforcementStatus = "fallback"
)

// Tool identifies a registered data operation. Dispatch is by enum key
// through the Registry, never by raw string comparison at call sites.
type Tool string

const (
	ToolLookupCRID      Tool = "lookup_crid"
	ToolSearchCustomers Tool = "search_customers"
	ToolFuzzySearch     Tool = "fuzzy_search"
	ToolSemanticSearch  Tool = "semantic_search"
	ToolGetStats        Tool = "get_stats"
	ToolVerifyAddress   Tool = "verify_address"
	ToolSearchKnowledge Tool = "search_knowledge"
	ToolHybridSearch    Tool = "hybrid_search"
)

// =============================================================================
// Stage Results
// =============================================================================

// IntentResult is the classifier's verdict on a query.
type IntentResult struct {
	Primary        Intent       `json:"primary_intent"`
	Secondary      []Intent     `json:"secondary_intents,omitempty"`
	Confidence     float64      `json:"confidence"`
	Domains        []Domain     `json:"domains"`
	Complexity     Complexity   `json:"complexity"`
	SuggestedTools []Tool       `json:"suggested_tools,omitempty"`
	PatternsHit    []string     `json:"-"`
}

// HasDomain reports whether d is among the detected domains.
func (r IntentResult) HasDomain(d Domain) bool {
	for _, have := range r.Domains {
		if have == d {
			return true
		}
	}
	return false
}

// GeoContext carries first-wins geographic hints.
type GeoContext struct {
	State string `json:"state,omitempty"`
	City  string `json:"city,omitempty"`
	Zip   string `json:"zip,omitempty"`
}

// count reports how many fields are set, for confidence scoring.
func (g GeoContext) count() int {
	n := 0
	for _, v := range []string{g.State, g.City, g.Zip} {
		if v != "" {
			n++
		}
	}
	return n
}

// Preferences are inferred from user-authored history.
type Preferences struct {
	PreferredLimit int  `json:"preferred_limit"`
	WantsDetails   bool `json:"wants_details"`
	WantsSummary   bool `json:"wants_summary"`
}

// QueryContext is the extractor's view of the conversation.
type QueryContext struct {
	History            []session.Message `json:"-"`
	ReferencedEntities []string          `json:"referenced_entities,omitempty"`
	Geo                GeoContext        `json:"geographic_context"`
	Preferences        Preferences       `json:"user_preferences"`

	// PriorResults carries forward the previous turn's record summaries
	// for follow-up continuation.
	PriorResults []string `json:"prior_results,omitempty"`

	IsFollowUp bool    `json:"is_follow_up"`
	Confidence float64 `json:"context_confidence"`
}

// ParsedQuery is the structured form of the query.
type ParsedQuery struct {
	Original   string              `json:"original_query"`
	Normalized string              `json:"normalized_query"`
	Entities   map[string][]string `json:"entities,omitempty"`
	Filters    datasource.Filters  `json:"filters"`
	SortKey    string              `json:"sort_preference,omitempty"`
	DateRange  *DateRange          `json:"date_range,omitempty"`
	Limit      int                 `json:"limit"`
	IsFollowUp bool                `json:"is_follow_up"`

	// Notes record every normalization performed, for observability.
	Notes []string `json:"resolution_notes,omitempty"`
}

// DateRange is an inclusive [From, To] span in YYYY-MM-DD form.
type DateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ResolvedQuery is the resolver's validated view.
type ResolvedQuery struct {
	CRIDs     []string            `json:"resolved_crids,omitempty"`
	Customers []datasource.Record `json:"-"`

	// ScopeNotes describe scope expansion, e.g. a name matching several
	// records.
	ScopeNotes []string `json:"expanded_scope,omitempty"`

	FallbackStrategies []SearchStrategy `json:"fallback_strategies,omitempty"`
	Confidence         float64          `json:"resolution_confidence"`
	Unresolved         []string         `json:"unresolved_entities,omitempty"`
}

// SearchOutcome is the executor's result.
type SearchOutcome struct {
	Strategy          SearchStrategy      `json:"strategy_used"`
	Records           []datasource.Record `json:"-"`
	Total             int                 `json:"total_matches"`
	AlternativesTried []SearchStrategy    `json:"alternatives_tried,omitempty"`
	Confidence        float64             `json:"search_confidence"`

	// StateNotAvailable is set instead of Records when the requested
	// state is absent from the loaded data. A deliberate UX contract:
	// the caller gets the available alternatives, not an empty result.
	StateNotAvailable *datasource.StateNotAvailableError `json:"-"`
}

// KnowledgeContext is the retriever's result.
type KnowledgeContext struct {
	Chunks     []knowledge.Chunk `json:"-"`
	TotalFound int               `json:"total_chunks_found"`
	Confidence float64           `json:"rag_confidence"`
}

// GeneratedResponse is the responder's output.
type GeneratedResponse struct {
	Text        string           `json:"response_text"`
	ToolsUsed   []Tool           `json:"tools_used,omitempty"`
	ToolResults []map[string]any `json:"-"`
	Model       string           `json:"model_used"`
	Tokens      int              `json:"tokens_used"`
	Confidence  float64          `json:"ai_confidence"`
}

// GateResult records one quality check.
type GateResult struct {
	Gate    Gate   `json:"gate"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// EnforcedResponse is the final quality verdict.
type EnforcedResponse struct {
	Final         string            `json:"final_response"`
	Original      string            `json:"original_response"`
	QualityScore  float64           `json:"quality_score"`
	GatesPassed   []GateResult      `json:"gates_passed"`
	GatesFailed   []GateResult      `json:"gates_failed,omitempty"`
	Modifications []string          `json:"modifications,omitempty"`
	Status        EnforcementStatus `json:"status"`
}

// =============================================================================
// Pipeline Records
// =============================================================================

// StageRecord is one executed pipeline stage. Skipped stages are recorded
// with Success=false and an explanatory Error, never omitted.
type StageRecord struct {
	Agent   string `json:"agent"`
	Summary string `json:"summary"`
	TimeMS  int64  `json:"time_ms"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PipelineTrace is the ordered execution record.
//
// TotalTimeMS is the sum of recorded stage times, not wall-clock pipeline
// time, so timing attribution is exact; concurrent stages make it exceed
// wall clock.
type PipelineTrace struct {
	Stages      []StageRecord `json:"stages"`
	TotalTimeMS int64         `json:"total_time_ms"`
	Success     bool          `json:"success"`
}

// PipelineResult is what the orchestrator hands back to the router.
type PipelineResult struct {
	Success      bool           `json:"success"`
	Response     string         `json:"response"`
	ToolsUsed    []Tool         `json:"tools_used,omitempty"`
	QualityScore float64        `json:"quality_score"`
	LatencyMS    int64          `json:"latency_ms"`
	Trace        *PipelineTrace `json:"trace,omitempty"`
}
