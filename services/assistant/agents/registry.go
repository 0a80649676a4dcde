// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/arcadian-ai/concierge/services/assistant/datasource"
	"github.com/arcadian-ai/concierge/services/assistant/knowledge"
	"github.com/arcadian-ai/concierge/services/llm"
)

// ErrUnknownTool is returned by Execute for a tool with no handler.
var ErrUnknownTool = errors.New("unknown tool")

// Handler executes one tool against its arguments.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Registry maps tools to typed handlers and serves intent-scoped tool
// definitions to the responder.
//
// # Description
//
// Dispatch is enum-keyed through the handler table; call sites never
// switch on raw strings. The definitions mirror the handlers one-to-one,
// so a tool the model can see is always a tool the registry can run.
//
// # Thread Safety
//
// Immutable after construction. Safe for concurrent use.
type Registry struct {
	data      *datasource.Manager
	knowledge *knowledge.Store
	handlers  map[Tool]Handler
	defs      map[Tool]llm.ToolDef
}

// NewRegistry creates the registry over the data manager and an optional
// knowledge store.
func NewRegistry(data *datasource.Manager, kn *knowledge.Store) *Registry {
	r := &Registry{data: data, knowledge: kn}
	r.handlers = map[Tool]Handler{
		ToolLookupCRID:      r.lookupCRID,
		ToolSearchCustomers: r.searchCustomers,
		ToolFuzzySearch:     r.fuzzySearch,
		ToolSemanticSearch:  r.semanticSearch,
		ToolGetStats:        r.getStats,
		ToolVerifyAddress:   r.verifyAddress,
		ToolSearchKnowledge: r.searchKnowledge,
		ToolHybridSearch:    r.hybridSearch,
	}
	r.defs = buildToolDefs()
	return r
}

// DefsForIntent returns the tool definitions matching the classifier's
// suggestions, falling back to the reduced set when nothing matched.
func (r *Registry) DefsForIntent(intent IntentResult) []llm.ToolDef {
	var defs []llm.ToolDef
	for _, t := range intent.SuggestedTools {
		if def, ok := r.defs[t]; ok {
			defs = append(defs, def)
		}
	}
	if len(defs) == 0 {
		return r.ReducedDefs()
	}
	return defs
}

// ReducedDefs is the minimal 3-tool set used in direct mode when the
// pipeline is unavailable.
func (r *Registry) ReducedDefs() []llm.ToolDef {
	return []llm.ToolDef{
		r.defs[ToolLookupCRID],
		r.defs[ToolSearchCustomers],
		r.defs[ToolGetStats],
	}
}

// Execute dispatches a tool call. Unknown tools return ErrUnknownTool.
func (r *Registry) Execute(ctx context.Context, tool Tool, args map[string]any) (map[string]any, error) {
	handler, ok := r.handlers[tool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}
	return handler(ctx, args)
}

// =============================================================================
// Handlers
// =============================================================================

func (r *Registry) lookupCRID(ctx context.Context, args map[string]any) (map[string]any, error) {
	crid := stringArg(args, "crid")
	rec, canonical, err := r.data.Lookup(crid)
	if errors.Is(err, datasource.ErrNotFound) {
		return map[string]any{"success": false, "error": fmt.Sprintf("no customer found for %q", crid)}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "crid": canonical, "data": recordMap(*rec)}, nil
}

func (r *Registry) searchCustomers(ctx context.Context, args map[string]any) (map[string]any, error) {
	filters := datasource.Filters{
		State:    strings.ToUpper(stringArg(args, "state")),
		City:     stringArg(args, "city"),
		MinMoves: intArg(args, "min_move_count"),
		Limit:    clampLimit(intArg(args, "limit")),
	}
	res, err := r.data.Search(filters)
	var snae *datasource.StateNotAvailableError
	if errors.As(err, &snae) {
		return map[string]any{
			"success":          false,
			"error":            "state_not_available",
			"state":            snae.State,
			"available_states": snae.Available,
			"counts":           snae.Counts,
			"suggestion":       snae.Suggestion(),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return searchResultMap(res), nil
}

func (r *Registry) fuzzySearch(ctx context.Context, args map[string]any) (map[string]any, error) {
	res := r.data.FuzzySearch(stringArg(args, "query"), clampLimit(intArg(args, "limit")))
	return searchResultMap(res), nil
}

func (r *Registry) semanticSearch(ctx context.Context, args map[string]any) (map[string]any, error) {
	res := r.data.SemanticSearch(stringArg(args, "query"), clampLimit(intArg(args, "limit")))
	return searchResultMap(res), nil
}

func (r *Registry) hybridSearch(ctx context.Context, args map[string]any) (map[string]any, error) {
	query := stringArg(args, "query")
	limit := clampLimit(intArg(args, "limit"))
	fuzzy := r.data.FuzzySearch(query, limit)
	semantic := r.data.SemanticSearch(query, limit)

	seen := make(map[string]bool)
	var merged []*datasource.Record
	for _, rec := range append(fuzzy.Records, semantic.Records...) {
		if !seen[rec.CRID] {
			seen[rec.CRID] = true
			merged = append(merged, rec)
		}
	}
	total := len(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return searchResultMap(&datasource.SearchResult{Total: total, Records: merged}), nil
}

func (r *Registry) getStats(ctx context.Context, args map[string]any) (map[string]any, error) {
	stats := r.data.DataStats()
	return map[string]any{
		"success":   true,
		"total":     stats.TotalRecords,
		"by_state":  stats.ByState,
		"by_city":   stats.ByCity,
		"avg_moves": stats.AvgMoves,
	}, nil
}

// verifyAddress checks an address against the record on file. With no
// external verification service, "verified" means it matches the loaded
// data for the given customer.
func (r *Registry) verifyAddress(ctx context.Context, args map[string]any) (map[string]any, error) {
	crid := stringArg(args, "crid")
	rec, canonical, err := r.data.Lookup(crid)
	if errors.Is(err, datasource.ErrNotFound) {
		return map[string]any{"success": false, "error": fmt.Sprintf("no customer found for %q", crid)}, nil
	}
	if err != nil {
		return nil, err
	}

	claimed := strings.ToLower(stringArg(args, "address"))
	onFile := fmt.Sprintf("%s, %s, %s %s", rec.Address.Street, rec.Address.City, rec.Address.State, rec.Address.Zip)
	matches := claimed == "" || strings.Contains(strings.ToLower(onFile), claimed) ||
		strings.Contains(claimed, strings.ToLower(rec.Address.City))
	return map[string]any{
		"success":         true,
		"crid":            canonical,
		"address_on_file": onFile,
		"matches":         matches,
	}, nil
}

func (r *Registry) searchKnowledge(ctx context.Context, args map[string]any) (map[string]any, error) {
	if r.knowledge == nil {
		return map[string]any{"success": true, "chunks": []any{}, "total": 0}, nil
	}
	chunks := r.knowledge.Retrieve(stringArg(args, "query"), clampLimit(intArg(args, "limit")))
	out := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		out[i] = map[string]any{"text": c.Text, "source": c.Source, "score": c.Score}
	}
	return map[string]any{"success": true, "chunks": out, "total": len(chunks)}, nil
}

// =============================================================================
// Definitions
// =============================================================================

func buildToolDefs() map[Tool]llm.ToolDef {
	queryParams := llm.ToolParameters{
		Properties: map[string]llm.ToolParamDef{
			"query": {Type: "string", Description: "Free text to match against customer records"},
			"limit": {Type: "integer", Description: "Max results to return (default 10, max 100)"},
		},
		Required: []string{"query"},
	}

	return map[Tool]llm.ToolDef{
		ToolLookupCRID: llm.NewToolDef(string(ToolLookupCRID),
			"Look up a specific customer by their CRID (Customer Record ID). Use when the user mentions a specific CRID or customer ID.",
			llm.ToolParameters{
				Properties: map[string]llm.ToolParamDef{
					"crid": {Type: "string", Description: "The Customer Record ID (e.g., CRID-000001)"},
				},
				Required: []string{"crid"},
			}),
		ToolSearchCustomers: llm.NewToolDef(string(ToolSearchCustomers),
			"Search for customers with flexible filters. Interpret informal language: 'Nevada folks' means state NV, 'high movers' means min_move_count 3+.",
			llm.ToolParameters{
				Properties: map[string]llm.ToolParamDef{
					"state":          {Type: "string", Description: "Two-letter state code (NV, CA, TX). Convert state names to codes."},
					"city":           {Type: "string", Description: "City name to filter by"},
					"min_move_count": {Type: "integer", Description: "Minimum number of moves. Use 2-3 for 'frequent movers', 5+ for 'high movers'"},
					"limit":          {Type: "integer", Description: "Max results to return (default 10, max 100)"},
				},
			}),
		ToolFuzzySearch: llm.NewToolDef(string(ToolFuzzySearch),
			"Typo-tolerant customer search by name. Use when the user's spelling may be approximate.",
			queryParams),
		ToolSemanticSearch: llm.NewToolDef(string(ToolSemanticSearch),
			"Relevance-ranked customer search over names, locations and tags. Use for descriptive queries without exact filters.",
			queryParams),
		ToolGetStats: llm.NewToolDef(string(ToolGetStats),
			"Get overall customer statistics including counts by state. Use for 'how many', totals, breakdowns, or any aggregate question.",
			llm.ToolParameters{}),
		ToolVerifyAddress: llm.NewToolDef(string(ToolVerifyAddress),
			"Verify a customer's address against the record on file.",
			llm.ToolParameters{
				Properties: map[string]llm.ToolParamDef{
					"crid":    {Type: "string", Description: "The Customer Record ID"},
					"address": {Type: "string", Description: "Address text to verify"},
				},
				Required: []string{"crid"},
			}),
		ToolSearchKnowledge: llm.NewToolDef(string(ToolSearchKnowledge),
			"Search internal documentation for policies and procedures.",
			queryParams),
		ToolHybridSearch: llm.NewToolDef(string(ToolHybridSearch),
			"Combined typo-tolerant and relevance-ranked customer search for complex queries.",
			queryParams),
	}
}

// =============================================================================
// Argument Helpers
// =============================================================================

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// intArg tolerates the float64 that JSON decoding produces.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return min(n, maxLimit)
}

func recordMap(rec datasource.Record) map[string]any {
	return map[string]any{
		"crid":       rec.CRID,
		"name":       rec.Name,
		"street":     rec.Address.Street,
		"city":       rec.Address.City,
		"state":      rec.Address.State,
		"zip":        rec.Address.Zip,
		"move_count": rec.MoveCount,
		"tags":       rec.Tags,
	}
}

func searchResultMap(res *datasource.SearchResult) map[string]any {
	records := make([]map[string]any, len(res.Records))
	for i, rec := range res.Records {
		records[i] = recordMap(*rec)
	}
	return map[string]any{"success": true, "total": res.Total, "results": records}
}
