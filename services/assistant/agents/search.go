// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arcadian-ai/concierge/services/assistant/datasource"
)

var searchStrategyUses = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "concierge",
	Subsystem: "agents",
	Name:      "search_strategy_total",
	Help:      "Search executions by winning strategy.",
}, []string{"strategy"})

// Searcher runs the resolved query against the data store through the
// ranked strategy list EXACT, FUZZY, SEMANTIC, HYBRID, KEYWORD, accepting
// the first non-empty result and recording every strategy attempted.
//
// # Thread Safety
//
// Safe for concurrent use.
type Searcher struct {
	data   *datasource.Manager
	logger *slog.Logger
}

// NewSearcher creates a searcher. Nil logger falls back to slog.Default().
func NewSearcher(data *datasource.Manager, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{data: data, logger: logger}
}

// Execute runs the strategy fallthrough. Deterministic: the same data and
// inputs always attempt strategies in the same order and return the same
// result set.
func (s *Searcher) Execute(parsed ParsedQuery, resolved ResolvedQuery) SearchOutcome {
	// Pre-fetched lookups short-circuit the fallthrough entirely.
	if len(resolved.Customers) > 0 && len(resolved.Unresolved) == 0 {
		searchStrategyUses.WithLabelValues(string(StrategyExact)).Inc()
		return SearchOutcome{
			Strategy:   StrategyExact,
			Records:    resolved.Customers,
			Total:      len(resolved.Customers),
			Confidence: 0.95,
		}
	}

	var tried []SearchStrategy

	// EXACT: structured filters.
	if parsed.Filters.State != "" || parsed.Filters.City != "" || parsed.Filters.Zip != "" ||
		parsed.Filters.MinMoves > 0 {
		res, err := s.data.Search(parsed.Filters)
		var snae *datasource.StateNotAvailableError
		if errors.As(err, &snae) {
			// Structured alternative listing, a UX contract not an error.
			searchStrategyUses.WithLabelValues(string(StrategyExact)).Inc()
			return SearchOutcome{
				Strategy:          StrategyExact,
				AlternativesTried: tried,
				StateNotAvailable: snae,
				Confidence:        0.9,
			}
		}
		if err == nil && res.Total > 0 {
			searchStrategyUses.WithLabelValues(string(StrategyExact)).Inc()
			return SearchOutcome{
				Strategy:          StrategyExact,
				Records:           derefRecords(res.Records),
				Total:             res.Total,
				AlternativesTried: tried,
				Confidence:        0.9,
			}
		}
		tried = append(tried, StrategyExact)
	}

	// FUZZY: typo-tolerant name matching over the normalized text.
	if res := s.data.FuzzySearch(parsed.Normalized, parsed.Limit); res.Total > 0 {
		searchStrategyUses.WithLabelValues(string(StrategyFuzzy)).Inc()
		return SearchOutcome{
			Strategy:          StrategyFuzzy,
			Records:           derefRecords(res.Records),
			Total:             res.Total,
			AlternativesTried: tried,
			Confidence:        0.7,
		}
	}
	tried = append(tried, StrategyFuzzy)

	// SEMANTIC: token-relevance ranking.
	if res := s.data.SemanticSearch(parsed.Normalized, parsed.Limit); res.Total > 0 {
		searchStrategyUses.WithLabelValues(string(StrategySemantic)).Inc()
		return SearchOutcome{
			Strategy:          StrategySemantic,
			Records:           derefRecords(res.Records),
			Total:             res.Total,
			AlternativesTried: tried,
			Confidence:        0.6,
		}
	}
	tried = append(tried, StrategySemantic)

	// HYBRID: union of fuzzy and semantic candidates, fuzzy order first.
	if res := s.hybrid(parsed.Normalized, parsed.Limit); res.Total > 0 {
		searchStrategyUses.WithLabelValues(string(StrategyHybrid)).Inc()
		return SearchOutcome{
			Strategy:          StrategyHybrid,
			Records:           derefRecords(res.Records),
			Total:             res.Total,
			AlternativesTried: tried,
			Confidence:        0.55,
		}
	}
	tried = append(tried, StrategyHybrid)

	// KEYWORD: last resort word matching.
	if res := s.data.KeywordSearch(parsed.Normalized, parsed.Limit); res.Total > 0 {
		searchStrategyUses.WithLabelValues(string(StrategyKeyword)).Inc()
		return SearchOutcome{
			Strategy:          StrategyKeyword,
			Records:           derefRecords(res.Records),
			Total:             res.Total,
			AlternativesTried: tried,
			Confidence:        0.4,
		}
	}
	tried = append(tried, StrategyKeyword)

	searchStrategyUses.WithLabelValues("none").Inc()
	return SearchOutcome{
		Strategy:          StrategyKeyword,
		AlternativesTried: tried,
		Confidence:        0.1,
	}
}

// hybrid merges fuzzy and semantic candidates, deduplicating by CRID with
// fuzzy hits ranked first.
func (s *Searcher) hybrid(query string, limit int) *datasource.SearchResult {
	fuzzy := s.data.FuzzySearch(query, limit)
	semantic := s.data.SemanticSearch(query, limit)

	seen := make(map[string]bool, len(fuzzy.Records)+len(semantic.Records))
	var merged []*datasource.Record
	for _, rec := range fuzzy.Records {
		if !seen[rec.CRID] {
			seen[rec.CRID] = true
			merged = append(merged, rec)
		}
	}
	for _, rec := range semantic.Records {
		if !seen[rec.CRID] {
			seen[rec.CRID] = true
			merged = append(merged, rec)
		}
	}
	total := len(merged)
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return &datasource.SearchResult{Total: total, Records: merged}
}

func derefRecords(records []*datasource.Record) []datasource.Record {
	out := make([]datasource.Record, len(records))
	for i, rec := range records {
		out[i] = *rec
	}
	return out
}

// summary renders the outcome for trace records.
func (so SearchOutcome) summary() string {
	if so.StateNotAvailable != nil {
		return fmt.Sprintf("strategy=%s state_not_available=%s", so.Strategy, so.StateNotAvailable.State)
	}
	return fmt.Sprintf("strategy=%s results=%d total=%d tried=%d",
		so.Strategy, len(so.Records), so.Total, len(so.AlternativesTried))
}
