// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

// =============================================================================
// RouteIndex — Lexical Route Ranking
// =============================================================================
//
// Each deterministic tool route contributes one "document": its exemplar
// phrases plus description. At query time the index ranks routes with Okapi
// BM25 and reports a confidence in [0, 1] computed as IDF-weighted query
// term coverage of the best document. Coverage (rather than max-normalized
// BM25, which always puts the winner at 1.0) gives an absolute signal a
// threshold can act on: a query whose terms mostly miss the corpus scores
// low no matter which route wins.
//
// Forced mappings are checked first. They exist for patterns where ranking
// is wasted work and any other answer would be wrong, e.g. a query carrying
// a record identifier always means lookup.

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/arcadian-ai/concierge/services/assistant/config"
)

// BM25 tuning constants. Standard values recommended by Robertson et al.
const (
	routeK1 = 1.5
	routeB  = 0.75
)

// DefaultRouteThreshold is the minimum confidence for taking a route when
// the index is constructed with a zero threshold.
const DefaultRouteThreshold = 0.5

// Decision is a route the index is confident about.
type Decision struct {
	// Tool is the deterministic tool to execute.
	Tool string

	// Confidence is in [0, 1]. Forced mappings report 1.0.
	Confidence float64

	// Forced reports whether a forced mapping short-circuited ranking.
	Forced bool
}

type routeDoc struct {
	tool string
	// tf is binary presence. With a handful of short exemplar documents,
	// IDF does the heavy lifting and repeated terms add no signal.
	tf  map[string]int
	len int
}

type forcedRoute struct {
	tool     string
	patterns []*regexp.Regexp
}

// RouteIndex ranks queries against deterministic tool routes.
//
// # Thread Safety
//
// Immutable after construction. Safe for concurrent use.
type RouteIndex struct {
	forced    []forcedRoute
	docs      []routeDoc
	idf       map[string]float64
	avgLen    float64
	threshold float64

	// unknownIDF is the weight charged for query terms absent from the
	// whole corpus, equal to the rarest possible in-corpus IDF. Unknown
	// terms drag coverage down instead of being ignored.
	unknownIDF float64
}

// NewRouteIndex compiles forced mappings and builds the BM25 corpus.
// threshold <= 0 uses DefaultRouteThreshold.
func NewRouteIndex(cfg *config.RouteConfig, threshold float64) (*RouteIndex, error) {
	if threshold <= 0 {
		threshold = DefaultRouteThreshold
	}
	idx := &RouteIndex{threshold: threshold, idf: make(map[string]float64)}

	for _, fm := range cfg.ForcedMappings {
		fr := forcedRoute{tool: fm.Tool}
		for _, p := range fm.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("routing: forced mapping %s pattern %q: %w", fm.Tool, p, err)
			}
			fr.patterns = append(fr.patterns, re)
		}
		idx.forced = append(idx.forced, fr)
	}

	df := make(map[string]int)
	total := 0
	for _, route := range cfg.Routes {
		raw := strings.Join(route.Phrases, " ")
		if route.Description != "" {
			raw += " " + route.Description
		}
		terms := routeTerms(raw)
		doc := routeDoc{tool: route.Tool, tf: make(map[string]int, len(terms))}
		for term := range terms {
			doc.tf[term] = 1
			df[term]++
		}
		doc.len = len(doc.tf)
		total += doc.len
		idx.docs = append(idx.docs, doc)
	}

	n := len(idx.docs)
	if n > 0 {
		idx.avgLen = float64(total) / float64(n)
	}
	// Lucene-style smoothing: log((N+1)/(df+1)) + 1, always >= 1.
	for term, docFreq := range df {
		idx.idf[term] = math.Log(float64(n+1)/float64(docFreq+1)) + 1.0
	}
	idx.unknownIDF = math.Log(float64(n+1)) + 1.0

	return idx, nil
}

// Threshold returns the configured minimum confidence.
func (idx *RouteIndex) Threshold() float64 { return idx.threshold }

// Route decides whether the query should take a deterministic route.
// Returns nil when no forced mapping matches and the best-ranked route is
// below the confidence threshold.
func (idx *RouteIndex) Route(query string) *Decision {
	for _, fr := range idx.forced {
		for _, re := range fr.patterns {
			if re.MatchString(query) {
				return &Decision{Tool: fr.tool, Confidence: 1.0, Forced: true}
			}
		}
	}

	terms := routeTerms(query)
	if len(terms) == 0 || len(idx.docs) == 0 {
		return nil
	}

	var best *routeDoc
	var bestScore float64
	for i := range idx.docs {
		score := idx.bm25(terms, &idx.docs[i])
		if score > bestScore {
			bestScore = score
			best = &idx.docs[i]
		}
	}
	if best == nil {
		return nil
	}

	confidence := idx.coverage(terms, best)
	if confidence < idx.threshold {
		return nil
	}
	return &Decision{Tool: best.tool, Confidence: confidence}
}

// bm25 computes the raw Okapi score for one (query, doc) pair.
func (idx *RouteIndex) bm25(terms map[string]bool, doc *routeDoc) float64 {
	dl := float64(doc.len)
	var score float64
	for term := range terms {
		tf, ok := doc.tf[term]
		if !ok {
			continue
		}
		termIDF := idx.idf[term]
		numerator := float64(tf) * (routeK1 + 1)
		denominator := float64(tf) + routeK1*(1.0-routeB+routeB*dl/idx.avgLen)
		score += termIDF * (numerator / denominator)
	}
	return score
}

// coverage is the IDF-weighted fraction of query terms present in doc,
// rounded to 3 decimal places. Terms unknown to the corpus count against
// coverage at unknownIDF weight.
func (idx *RouteIndex) coverage(terms map[string]bool, doc *routeDoc) float64 {
	var hit, total float64
	for term := range terms {
		w, known := idx.idf[term]
		if !known {
			w = idx.unknownIDF
		}
		total += w
		if _, ok := doc.tf[term]; ok {
			hit += w
		}
	}
	if total == 0 {
		return 0
	}
	return math.Round(hit/total*1000) / 1000
}

// routeTerms lowercases, splits on non-alphanumeric runs, and returns the
// deduplicated term set, dropping single-character tokens.
func routeTerms(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	terms := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len(f) > 1 {
			terms[f] = true
		}
	}
	return terms
}
