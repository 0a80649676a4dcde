// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import "testing"

func parseQuery(query string, qc QueryContext) ParsedQuery {
	return NewParser().Parse(query, NewClassifier().Classify(query), qc)
}

// =============================================================================
// State Normalization Tests
// =============================================================================

// Supplying a state name and supplying its code must land on the same
// filter value.
func TestParse_StateNameRoundTrip(t *testing.T) {
	byName := parseQuery("customers in Nevada", QueryContext{})
	byCode := parseQuery("customers in NV", QueryContext{})
	if byName.Filters.State != "NV" {
		t.Errorf("name form: State = %q, want NV", byName.Filters.State)
	}
	if byName.Filters.State != byCode.Filters.State {
		t.Errorf("name form %q != code form %q", byName.Filters.State, byCode.Filters.State)
	}
	if len(byName.Notes) == 0 {
		t.Error("expected a normalization note for the name mapping")
	}
}

func TestParse_LowercaseWordsNotStateCodes(t *testing.T) {
	// "in" and "me" are state codes only when written as codes.
	parsed := parseQuery("show me the people in town", QueryContext{})
	if parsed.Filters.State != "" {
		t.Errorf("State = %q, want empty", parsed.Filters.State)
	}
}

func TestParse_ContextCarriesState(t *testing.T) {
	qc := QueryContext{Geo: GeoContext{State: "TX", City: "Austin"}, IsFollowUp: true}
	parsed := parseQuery("tell me more", qc)
	if parsed.Filters.State != "TX" {
		t.Errorf("State = %q, want TX from context", parsed.Filters.State)
	}
	if parsed.Filters.City != "Austin" {
		t.Errorf("City = %q, want Austin from context", parsed.Filters.City)
	}
	if !parsed.IsFollowUp {
		t.Error("follow-up flag must propagate")
	}
}

// =============================================================================
// Numeric Extraction Tests
// =============================================================================

func TestParse_MinMovesPhrasings(t *testing.T) {
	cases := map[string]int{
		"customers with 3+ moves":         3,
		"customers with at least 5 moves": 5,
		"people with more than 2 moves":   2,
		"customers with 4 or more moves":  4,
		"high movers in NV":               3,
		"frequent movers around the city": 3,
	}
	for query, want := range cases {
		if got := parseQuery(query, QueryContext{}).Filters.MinMoves; got != want {
			t.Errorf("%q: MinMoves = %d, want %d", query, got, want)
		}
	}
}

func TestParse_LimitExtractionAndCap(t *testing.T) {
	if got := parseQuery("top 5 customers in CA", QueryContext{}).Limit; got != 5 {
		t.Errorf("Limit = %d, want 5", got)
	}
	parsed := parseQuery("first 500 customers in CA", QueryContext{})
	if parsed.Limit != 100 {
		t.Errorf("Limit = %d, want capped at 100", parsed.Limit)
	}
	if len(parsed.Notes) == 0 {
		t.Error("expected a note recording the cap")
	}
	if got := parseQuery("customers in CA", QueryContext{}).Limit; got != 10 {
		t.Errorf("default Limit = %d, want 10", got)
	}
}

func TestParse_PreferredLimitFromContext(t *testing.T) {
	qc := QueryContext{Preferences: Preferences{PreferredLimit: 25}}
	if got := parseQuery("customers in CA", qc).Limit; got != 25 {
		t.Errorf("Limit = %d, want 25 from preference", got)
	}
	// Explicit phrasing beats the carried preference.
	if got := parseQuery("top 3 customers in CA", qc).Limit; got != 3 {
		t.Errorf("Limit = %d, want 3 from query", got)
	}
}

// =============================================================================
// Entities / Sort / Dates Tests
// =============================================================================

func TestParse_CRIDEntities(t *testing.T) {
	parsed := parseQuery("show me crid 42 and CRID-000107", QueryContext{})
	crids := parsed.Entities["crid"]
	if len(crids) != 2 || crids[0] != "CRID-42" || crids[1] != "CRID-000107" {
		t.Errorf("crid entities = %v", crids)
	}
}

func TestParse_SortKeywords(t *testing.T) {
	if got := parseQuery("customers with most moves", QueryContext{}).SortKey; got != "move_count_desc" {
		t.Errorf("SortKey = %q, want move_count_desc", got)
	}
	if got := parseQuery("list customers by name", QueryContext{}).SortKey; got != "name_asc" {
		t.Errorf("SortKey = %q, want name_asc", got)
	}
}

func TestParse_DateRanges(t *testing.T) {
	parsed := parseQuery("customers who moved from 2022 to 2024", QueryContext{})
	if parsed.DateRange == nil || parsed.DateRange.From != "2022-01-01" || parsed.DateRange.To != "2024-12-31" {
		t.Fatalf("DateRange = %+v", parsed.DateRange)
	}
	parsed = parseQuery("customers who moved since 2023", QueryContext{})
	if parsed.DateRange == nil || parsed.DateRange.From != "2023-01-01" || parsed.DateRange.To != "" {
		t.Fatalf("DateRange = %+v", parsed.DateRange)
	}
}

func TestParse_NormalizesWhitespace(t *testing.T) {
	parsed := parseQuery("  customers   in   NV  ", QueryContext{})
	if parsed.Normalized != "customers in NV" {
		t.Errorf("Normalized = %q", parsed.Normalized)
	}
}
