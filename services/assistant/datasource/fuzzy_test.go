// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datasource

import "testing"

// =============================================================================
// Similarity Tests
// =============================================================================

func TestSimilarity_PrefixBeatsSubstring(t *testing.T) {
	opts := DefaultFuzzyOptions()
	prefix := Similarity("jan", "Janet Smythe", opts)
	substr := Similarity("net", "Janet Smythe", opts)
	if prefix <= substr {
		t.Errorf("prefix score %.3f should beat substring score %.3f", prefix, substr)
	}
	if prefix <= 1.0 {
		t.Errorf("prefix score should exceed 1.0, got %.3f", prefix)
	}
	if substr != 0.8 {
		t.Errorf("substring score = %.3f, want 0.8", substr)
	}
}

func TestSimilarity_WordPrefix(t *testing.T) {
	opts := DefaultFuzzyOptions()
	if got := Similarity("smy", "Janet Smythe", opts); got != 0.7 {
		t.Errorf("word-prefix score = %.3f, want 0.7", got)
	}
}

func TestSimilarity_CharOverlapGated(t *testing.T) {
	opts := DefaultFuzzyOptions()
	// "xyz" shares no characters with "Jane Doe": zero.
	if got := Similarity("xyz", "Jane Doe", opts); got != 0 {
		t.Errorf("disjoint score = %.3f, want 0", got)
	}
	// Raising the overlap threshold to 1.0 suppresses overlap scoring.
	strict := FuzzyOptions{MinScore: 0.4, OverlapThreshold: 1.0}
	if got := Similarity("enaj", "jane", strict); got != 0 {
		t.Errorf("overlap should be gated by threshold, got %.3f", got)
	}
	// With the default threshold, a full-character anagram scores 0.5.
	if got := Similarity("enaj", "jane", opts); got != 0.5 {
		t.Errorf("anagram overlap score = %.3f, want 0.5", got)
	}
}

func TestSimilarity_CaseInsensitive(t *testing.T) {
	opts := DefaultFuzzyOptions()
	if Similarity("JANE", "jane doe", opts) != Similarity("jane", "Jane Doe", opts) {
		t.Error("similarity should be case-insensitive")
	}
}

func TestSimilarity_Empty(t *testing.T) {
	opts := DefaultFuzzyOptions()
	if Similarity("", "jane", opts) != 0 || Similarity("jane", "", opts) != 0 {
		t.Error("empty inputs must score 0")
	}
}

// =============================================================================
// FuzzySearch Tests
// =============================================================================

func TestFuzzySearch_RanksPrefixFirst(t *testing.T) {
	idx := buildSample()
	res := idx.FuzzySearch("jan", 10, DefaultFuzzyOptions())
	if res.Total < 2 {
		t.Fatalf("Total = %d, want >= 2", res.Total)
	}
	// Both Jane Doe and Janet Smythe are prefix matches; Jane Doe's
	// shorter name gives a higher length ratio.
	if res.Records[0].Name != "Jane Doe" {
		t.Errorf("top result = %q, want Jane Doe", res.Records[0].Name)
	}
}

func TestFuzzySearch_MinScoreCutoff(t *testing.T) {
	idx := buildSample()
	// A very high MinScore keeps only strong prefix matches.
	res := idx.FuzzySearch("jane", 10, FuzzyOptions{MinScore: 0.99, OverlapThreshold: 0.6})
	for _, rec := range res.Records {
		if Similarity("jane", rec.Name, DefaultFuzzyOptions()) <= 0.99 {
			t.Errorf("record %q below cutoff leaked through", rec.Name)
		}
	}
}

func TestFuzzySearch_StableTieOrder(t *testing.T) {
	records := []Record{
		{CRID: "CRID-000001", Name: "Sam Park", Address: Address{State: "NV"}},
		{CRID: "CRID-000002", Name: "Sam Peck", Address: Address{State: "NV"}},
	}
	idx := BuildIndexes(records)
	// Equal-length names with the same prefix score identically; the
	// stable sort keeps data order.
	res := idx.FuzzySearch("sam", 10, DefaultFuzzyOptions())
	if len(res.Records) != 2 {
		t.Fatalf("len = %d, want 2", len(res.Records))
	}
	if res.Records[0].CRID != "CRID-000001" {
		t.Errorf("tie order not stable: %q first", res.Records[0].CRID)
	}
}

// =============================================================================
// SemanticSearch Tests
// =============================================================================

func TestSemanticSearch_RareTermWins(t *testing.T) {
	idx := buildSample()
	// "francisco" appears in exactly one record document.
	res := idx.SemanticSearch("francisco customers", 10)
	if res.Total == 0 {
		t.Fatal("expected semantic matches")
	}
	if res.Records[0].Name != "Carlos Rivera" {
		t.Errorf("top result = %q, want Carlos Rivera", res.Records[0].Name)
	}
}

func TestSemanticSearch_NoMatch(t *testing.T) {
	idx := buildSample()
	if res := idx.SemanticSearch("zzz qqq", 10); res.Total != 0 {
		t.Errorf("Total = %d, want 0", res.Total)
	}
}

func TestSemanticSearch_EmptyIndex(t *testing.T) {
	idx := BuildIndexes(nil)
	if res := idx.SemanticSearch("reno", 10); res.Total != 0 {
		t.Errorf("Total = %d, want 0", res.Total)
	}
}

// =============================================================================
// KeywordSearch Tests
// =============================================================================

func TestKeywordSearch_MatchesTags(t *testing.T) {
	idx := buildSample()
	res := idx.KeywordSearch("priority accounts", 10)
	if res.Total != 1 || res.Records[0].Name != "Jane Doe" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestKeywordSearch_EmptyQuery(t *testing.T) {
	idx := buildSample()
	if res := idx.KeywordSearch("   ", 10); res.Total != 0 {
		t.Errorf("Total = %d, want 0", res.Total)
	}
}
