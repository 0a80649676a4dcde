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

	"github.com/arcadian-ai/concierge/services/assistant/datasource"
)

// Resolver validates extracted identifiers against the data index and
// proposes fallback strategies when resolution is ambiguous or partial.
//
// # Thread Safety
//
// Safe for concurrent use.
type Resolver struct {
	data   *datasource.Manager
	logger *slog.Logger
}

// NewResolver creates a resolver. Nil logger falls back to slog.Default().
func NewResolver(data *datasource.Manager, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{data: data, logger: logger}
}

// Resolve validates the parsed query's identifiers.
//
// # Description
//
// Each CRID entity is resolved through the index's zero-pad variant
// search; hits are pre-fetched so a pure lookup query needs no further
// search stage work. Referenced names from context expand scope rather
// than hard-filter: a name matching multiple records proposes fuzzy
// search instead of failing. Confidence is the fraction of input
// entities that resolved; no entities at all leaves a neutral 0.5.
func (r *Resolver) Resolve(parsed ParsedQuery, qc QueryContext) ResolvedQuery {
	resolved := ResolvedQuery{}

	crids := parsed.Entities["crid"]
	for _, crid := range crids {
		rec, canonical, err := r.data.Lookup(crid)
		if err != nil {
			if !errors.Is(err, datasource.ErrNotFound) {
				r.logger.Warn("resolver: lookup failed", "crid", crid, "error", err)
			}
			resolved.Unresolved = append(resolved.Unresolved, crid)
			continue
		}
		resolved.CRIDs = append(resolved.CRIDs, canonical)
		resolved.Customers = append(resolved.Customers, *rec)
	}

	// Names referenced in conversation expand the search scope.
	total := len(crids)
	for _, entity := range qc.ReferencedEntities {
		if cridTokenPattern.MatchString(entity) {
			continue
		}
		total++
		matches := r.data.FuzzySearch(entity, 5)
		switch {
		case matches.Total == 1:
			resolved.Customers = append(resolved.Customers, *matches.Records[0])
			resolved.CRIDs = append(resolved.CRIDs, matches.Records[0].CRID)
		case matches.Total > 1:
			resolved.ScopeNotes = append(resolved.ScopeNotes,
				fmt.Sprintf("name %q matches %d records, scope expanded", entity, matches.Total))
			resolved.FallbackStrategies = appendStrategy(resolved.FallbackStrategies, StrategyFuzzy)
		default:
			resolved.Unresolved = append(resolved.Unresolved, entity)
		}
	}

	if parsed.Filters.State != "" && len(resolved.CRIDs) == 0 {
		resolved.FallbackStrategies = appendStrategy(resolved.FallbackStrategies, StrategyExact)
	}
	if len(resolved.Unresolved) > 0 {
		resolved.FallbackStrategies = appendStrategy(resolved.FallbackStrategies, StrategyFuzzy)
		resolved.FallbackStrategies = appendStrategy(resolved.FallbackStrategies, StrategySemantic)
	}

	if total == 0 {
		resolved.Confidence = 0.5
	} else {
		resolved.Confidence = round3(float64(len(resolved.CRIDs)) / float64(total))
	}
	return resolved
}

func appendStrategy(list []SearchStrategy, s SearchStrategy) []SearchStrategy {
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}

// summary renders the resolution for trace records.
func (rq ResolvedQuery) summary() string {
	return fmt.Sprintf("crids=%d customers=%d unresolved=%d conf=%.3f",
		len(rq.CRIDs), len(rq.Customers), len(rq.Unresolved), rq.Confidence)
}
