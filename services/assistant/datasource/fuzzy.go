// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datasource

import (
	"sort"
	"strings"
)

// FuzzyOptions tunes fuzzy name matching. The defaults are heuristics
// validated against production traffic; they are configuration, not
// contract.
type FuzzyOptions struct {
	// MinScore is the lowest similarity kept in results.
	MinScore float64

	// OverlapThreshold is the character-overlap ratio below which a
	// candidate scores zero.
	OverlapThreshold float64
}

// DefaultFuzzyOptions returns the production defaults.
func DefaultFuzzyOptions() FuzzyOptions {
	return FuzzyOptions{MinScore: 0.4, OverlapThreshold: 0.6}
}

// Similarity scores how well candidate matches query, case-insensitively.
//
// # Description
//
// Tiered scoring, strongest signal first:
//
//   - prefix match: 1.0 plus the length ratio, so tighter prefixes of
//     shorter candidates rank above loose ones
//   - substring match: 0.8
//   - any candidate word starting with the query: 0.7
//   - otherwise, character-set overlap ratio scaled by 0.5, but only
//     when the overlap exceeds opts.OverlapThreshold
//
// Scores above 1.0 are intentional: they only order results.
func Similarity(query, candidate string, opts FuzzyOptions) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	c := strings.ToLower(strings.TrimSpace(candidate))
	if q == "" || c == "" {
		return 0
	}

	if strings.HasPrefix(c, q) {
		return 1.0 + float64(len(q))/float64(len(c))
	}
	if strings.Contains(c, q) {
		return 0.8
	}
	for _, word := range strings.Fields(c) {
		if strings.HasPrefix(word, q) {
			return 0.7
		}
	}

	overlap := charOverlap(q, c)
	if overlap > opts.OverlapThreshold {
		return overlap * 0.5
	}
	return 0
}

// charOverlap computes |chars(q) ∩ chars(c)| / |chars(q)|.
func charOverlap(q, c string) float64 {
	qset := make(map[rune]bool)
	for _, r := range q {
		qset[r] = true
	}
	if len(qset) == 0 {
		return 0
	}
	cset := make(map[rune]bool)
	for _, r := range c {
		cset[r] = true
	}
	shared := 0
	for r := range qset {
		if cset[r] {
			shared++
		}
	}
	return float64(shared) / float64(len(qset))
}

// FuzzySearch ranks records whose names fuzzily match the query.
//
// # Description
//
// Scores every record's name with Similarity, keeps scores above
// opts.MinScore, and sorts descending. The sort is stable, so ties keep
// original data order, making repeated invocations deterministic.
//
// # Thread Safety
//
// Safe for concurrent use.
func (idx *Indexes) FuzzySearch(query string, limit int, opts FuzzyOptions) *SearchResult {
	type scored struct {
		rec   *Record
		score float64
	}
	matched := make([]scored, 0)
	for _, rec := range idx.records {
		if s := Similarity(query, rec.Name, opts); s > opts.MinScore {
			matched = append(matched, scored{rec: rec, score: s})
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].score > matched[j].score
	})

	result := &SearchResult{Total: len(matched)}
	n := len(matched)
	if limit > 0 && n > limit {
		n = limit
	}
	result.Records = make([]*Record, 0, n)
	for _, m := range matched[:n] {
		result.Records = append(result.Records, m.rec)
	}
	return result
}
