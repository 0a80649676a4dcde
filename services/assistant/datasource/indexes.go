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

// entry pairs a sorted lowercase key with its display value and count.
type entry struct {
	key   string
	value string
	count int
}

// Indexes is one immutable generation of query structures over a record
// set.
//
// # Description
//
// Built once from a loaded record slice and never mutated. The Manager
// swaps whole generations atomically, so readers always see either the
// previous or the next generation, never a partial rebuild.
//
// # Thread Safety
//
// Immutable after BuildIndexes. Safe for concurrent use without
// synchronization.
type Indexes struct {
	// records preserves original data order, which breaks ranking ties.
	records []*Record

	// byCRID maps canonical record IDs to records.
	byCRID map[string]*Record

	// names is sorted by lowercase name for prefix binary search.
	names []entry

	// cities is sorted by lowercase "city, st" for prefix binary search.
	cities []entry

	// byState maps state code to records in data order.
	byState map[string][]*Record

	// semantic ranks records by token relevance (see semantic.go).
	semantic *semanticIndex

	// stats is computed once at build time.
	stats Stats
}

// BuildIndexes constructs a generation from loaded records.
//
// # Description
//
// Computes every index in one pass set: CRID map, sorted name and city
// entries (aggregated with counts), per-state postings, the semantic
// token index, and summary statistics.
//
// # Inputs
//
//   - records: The loaded rows. May be empty; the result then answers
//     every query with empty results rather than errors.
//
// # Outputs
//
//   - *Indexes: The immutable generation. Never nil.
func BuildIndexes(records []Record) *Indexes {
	idx := &Indexes{
		records: make([]*Record, 0, len(records)),
		byCRID:  make(map[string]*Record, len(records)),
		byState: make(map[string][]*Record),
	}

	nameCounts := make(map[string]*entry)
	cityCounts := make(map[string]*entry)
	totalMoves := 0

	for i := range records {
		rec := &records[i]
		idx.records = append(idx.records, rec)

		if canonical, ok := NormalizeCRID(rec.CRID); ok {
			idx.byCRID[canonical] = rec
		} else {
			idx.byCRID[strings.ToUpper(rec.CRID)] = rec
		}

		state := strings.ToUpper(rec.Address.State)
		idx.byState[state] = append(idx.byState[state], rec)

		if rec.Name != "" {
			key := strings.ToLower(rec.Name)
			if e, ok := nameCounts[key]; ok {
				e.count++
			} else {
				nameCounts[key] = &entry{key: key, value: rec.Name, count: 1}
			}
		}
		if rec.Address.City != "" {
			display := rec.Address.City + ", " + state
			key := strings.ToLower(display)
			if e, ok := cityCounts[key]; ok {
				e.count++
			} else {
				cityCounts[key] = &entry{key: key, value: display, count: 1}
			}
		}
		totalMoves += rec.MoveCount
	}

	idx.names = sortedEntries(nameCounts)
	idx.cities = sortedEntries(cityCounts)
	idx.semantic = buildSemanticIndex(idx.records)

	idx.stats = Stats{
		TotalRecords: len(idx.records),
		ByState:      make(map[string]int, len(idx.byState)),
		ByCity:       make(map[string]int, len(idx.cities)),
	}
	for state, recs := range idx.byState {
		idx.stats.ByState[state] = len(recs)
	}
	for _, e := range idx.cities {
		idx.stats.ByCity[e.value] = e.count
	}
	if len(idx.records) > 0 {
		idx.stats.AvgMoves = float64(totalMoves) / float64(len(idx.records))
	}

	return idx
}

func sortedEntries(m map[string]*entry) []entry {
	out := make([]entry, 0, len(m))
	for _, e := range m {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// Len returns the record count of this generation.
func (idx *Indexes) Len() int { return len(idx.records) }

// Stats returns the generation's summary statistics.
func (idx *Indexes) Stats() Stats { return idx.stats }

// Lookup resolves a record ID token against this generation.
//
// # Description
//
// Normalizes the token, then tries zero-padded width variants of the
// digit part (6, then 5, then 3, then raw) against the CRID map. The
// width order matches historical export formats: most data uses 6-digit
// padding.
//
// # Outputs
//
//   - *Record: The matched record.
//   - string: The canonical ID variant that matched.
//   - error: ErrNotFound when no variant matches or the token is not a
//     record ID at all.
func (idx *Indexes) Lookup(token string) (*Record, string, error) {
	canonical, ok := NormalizeCRID(token)
	if !ok {
		return nil, "", ErrNotFound
	}
	digits := strings.TrimPrefix(canonical, "CRID-")
	for _, variant := range cridVariants(digits) {
		if rec, ok := idx.byCRID[variant]; ok {
			return rec, variant, nil
		}
	}
	return nil, "", ErrNotFound
}

// Search runs an exact filtered search against this generation.
//
// # Description
//
// A state filter naming a state absent from the data returns a
// *StateNotAvailableError carrying the available alternatives; this is a
// structured user-facing outcome, not a generic empty result. All other
// filters narrow the candidate set; Total reports the match count before
// the limit is applied.
//
// # Thread Safety
//
// Safe for concurrent use.
func (idx *Indexes) Search(f Filters) (*SearchResult, error) {
	candidates := idx.records
	if f.State != "" {
		state := strings.ToUpper(strings.TrimSpace(f.State))
		recs, ok := idx.byState[state]
		if !ok {
			return nil, newStateNotAvailable(state, idx.stats.ByState)
		}
		candidates = recs
	}

	matched := make([]*Record, 0, len(candidates))
	for _, rec := range candidates {
		if f.City != "" && !strings.EqualFold(rec.Address.City, f.City) {
			continue
		}
		if f.Zip != "" && rec.Address.Zip != f.Zip {
			continue
		}
		if f.MinMoves > 0 && rec.MoveCount < f.MinMoves {
			continue
		}
		if f.NameQuery != "" && !strings.EqualFold(rec.Name, f.NameQuery) {
			continue
		}
		matched = append(matched, rec)
	}

	result := &SearchResult{Total: len(matched), Records: matched}
	if f.Limit > 0 && len(matched) > f.Limit {
		result.Records = matched[:f.Limit]
	}
	return result, nil
}

// KeywordSearch matches query words against names, cities, states, and
// tags. The last-resort strategy: cheap, recall-oriented, unranked beyond
// match count.
func (idx *Indexes) KeywordSearch(query string, limit int) *SearchResult {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return &SearchResult{}
	}

	matched := make([]*Record, 0)
	for _, rec := range idx.records {
		haystack := strings.ToLower(rec.Name + " " + rec.Address.City + " " +
			rec.Address.State + " " + strings.Join(rec.Tags, " "))
		for _, w := range words {
			if strings.Contains(haystack, w) {
				matched = append(matched, rec)
				break
			}
		}
	}

	result := &SearchResult{Total: len(matched), Records: matched}
	if limit > 0 && len(matched) > limit {
		result.Records = matched[:limit]
	}
	return result
}

// Autocomplete returns completions for a prefix over the given field.
//
// # Description
//
// Binary-searches the sorted entry slice for the prefix range, then walks
// forward collecting up to limit suggestions: O(log n + k). Supported
// fields are "name" and "city"; city values render as "City, ST" with
// aggregated counts.
//
// # Thread Safety
//
// Safe for concurrent use.
func (idx *Indexes) Autocomplete(field, prefix string, limit int) []Suggestion {
	var entries []entry
	switch strings.ToLower(field) {
	case "name":
		entries = idx.names
	case "city":
		entries = idx.cities
	default:
		return nil
	}
	if limit <= 0 {
		limit = 10
	}

	p := strings.ToLower(strings.TrimSpace(prefix))
	if p == "" {
		return nil
	}

	start := sort.Search(len(entries), func(i int) bool { return entries[i].key >= p })
	out := make([]Suggestion, 0, limit)
	for i := start; i < len(entries) && len(out) < limit; i++ {
		if !strings.HasPrefix(entries[i].key, p) {
			break
		}
		out = append(out, Suggestion{Value: entries[i].value, Count: entries[i].count})
	}
	return out
}
