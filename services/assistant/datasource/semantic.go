// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datasource

import (
	"math"
	"sort"
	"strings"
)

// BM25 tuning constants. Standard values recommended by Robertson et al.
const (
	// semanticK1 controls term frequency saturation.
	semanticK1 = 1.5

	// semanticB controls document length normalization. 0.75 is the
	// standard default.
	semanticB = 0.75
)

// semanticDoc holds the token representation of a single record.
type semanticDoc struct {
	rec *Record

	// tf maps each term to presence (binary term frequency).
	tf map[string]int

	// len is the unique-term count of this record's document.
	len int
}

// semanticIndex ranks records by BM25 token relevance.
//
// # Description
//
// Each record's "document" is its name, city, state, ZIP, and tags. IDF
// uses Lucene-style add-one smoothing: log((N+1)/(df+1)) + 1. Term
// frequency is binary; with short record documents, IDF does the heavy
// lifting and binary presence is sufficient.
//
// # Thread Safety
//
// Immutable after buildSemanticIndex. Safe for concurrent use.
type semanticIndex struct {
	docs   []semanticDoc
	idf    map[string]float64
	avgLen float64
}

// buildSemanticIndex constructs the index from a record slice.
func buildSemanticIndex(records []*Record) *semanticIndex {
	if len(records) == 0 {
		return &semanticIndex{idf: make(map[string]float64)}
	}

	docs := make([]semanticDoc, 0, len(records))
	totalLen := 0
	df := make(map[string]int)

	for _, rec := range records {
		raw := strings.Join([]string{
			rec.Name,
			rec.Address.City,
			rec.Address.State,
			rec.Address.Zip,
			strings.Join(rec.Tags, " "),
		}, " ")
		terms := tokenize(raw)
		tf := make(map[string]int, len(terms))
		for term := range terms {
			tf[term] = 1
			df[term]++
		}
		docs = append(docs, semanticDoc{rec: rec, tf: tf, len: len(tf)})
		totalLen += len(tf)
	}

	n := len(docs)
	idf := make(map[string]float64, len(df))
	for term, docFreq := range df {
		idf[term] = math.Log(float64(n+1)/float64(docFreq+1)) + 1.0
	}

	return &semanticIndex{
		docs:   docs,
		idf:    idf,
		avgLen: float64(totalLen) / float64(n),
	}
}

// tokenize lowercases and splits on non-alphanumeric runs, returning a
// deduplicated term set.
func tokenize(s string) map[string]bool {
	terms := make(map[string]bool)
	var b strings.Builder
	flush := func() {
		if b.Len() > 1 {
			terms[b.String()] = true
		}
		b.Reset()
	}
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return terms
}

// SemanticSearch ranks records by BM25 relevance to the query.
//
// # Description
//
// Scores every record document, keeps positive scores, normalizes to
// [0, 1] by the maximum, and sorts descending with stable ties (data
// order). Total is the positive-score count before the limit.
//
// # Thread Safety
//
// Safe for concurrent use.
func (idx *Indexes) SemanticSearch(query string, limit int) *SearchResult {
	si := idx.semantic
	if si == nil || len(si.docs) == 0 {
		return &SearchResult{}
	}
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return &SearchResult{}
	}

	type scored struct {
		rec   *Record
		score float64
	}
	matched := make([]scored, 0)
	for _, doc := range si.docs {
		dl := float64(doc.len)
		var score float64
		for term := range queryTerms {
			tf, inDoc := doc.tf[term]
			if !inDoc {
				continue
			}
			termIDF, known := si.idf[term]
			if !known {
				continue
			}
			tfFloat := float64(tf)
			numerator := tfFloat * (semanticK1 + 1)
			lengthNorm := semanticK1 * (1.0 - semanticB + semanticB*dl/si.avgLen)
			score += termIDF * (numerator / (tfFloat + lengthNorm))
		}
		if score > 0 {
			matched = append(matched, scored{rec: doc.rec, score: score})
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
