// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"reflect"
	"testing"

	"github.com/arcadian-ai/concierge/services/assistant/datasource"
)

// =============================================================================
// Strategy Selection Tests
// =============================================================================

func TestExecute_PreFetchedShortCircuits(t *testing.T) {
	s := NewSearcher(newTestManager(t), nil)
	resolved := ResolvedQuery{
		CRIDs:     []string{"CRID-000042"},
		Customers: []datasource.Record{testRecords()[0]},
	}

	outcome := s.Execute(ParsedQuery{}, resolved)
	if outcome.Strategy != StrategyExact {
		t.Errorf("Strategy = %s, want exact", outcome.Strategy)
	}
	if outcome.Total != 1 || outcome.Records[0].CRID != "CRID-000042" {
		t.Errorf("Records = %v", outcome.Records)
	}
	if len(outcome.AlternativesTried) != 0 {
		t.Errorf("AlternativesTried = %v, want none", outcome.AlternativesTried)
	}
}

func TestExecute_ExactFilters(t *testing.T) {
	s := NewSearcher(newTestManager(t), nil)
	parsed := ParsedQuery{
		Normalized: "customers in NV",
		Filters:    datasource.Filters{State: "NV", Limit: 10},
		Limit:      10,
	}

	outcome := s.Execute(parsed, ResolvedQuery{})
	if outcome.Strategy != StrategyExact {
		t.Fatalf("Strategy = %s, want exact", outcome.Strategy)
	}
	if outcome.Total != 3 {
		t.Errorf("Total = %d, want 3 NV records", outcome.Total)
	}
}

func TestExecute_StateNotAvailable(t *testing.T) {
	s := NewSearcher(newTestManager(t), nil)
	parsed := ParsedQuery{
		Normalized: "customers in TX",
		Filters:    datasource.Filters{State: "TX", Limit: 10},
		Limit:      10,
	}

	outcome := s.Execute(parsed, ResolvedQuery{})
	if outcome.StateNotAvailable == nil {
		t.Fatal("expected structured state-not-available outcome")
	}
	if outcome.StateNotAvailable.State != "TX" {
		t.Errorf("State = %q, want TX", outcome.StateNotAvailable.State)
	}
	if len(outcome.StateNotAvailable.Available) == 0 {
		t.Error("expected the available state list")
	}
}

func TestExecute_FuzzyFallthrough(t *testing.T) {
	s := NewSearcher(newTestManager(t), nil)
	// No structured filters; "janet" fuzzy-matches a name.
	parsed := ParsedQuery{Normalized: "janet", Limit: 10}

	outcome := s.Execute(parsed, ResolvedQuery{})
	if outcome.Strategy != StrategyFuzzy {
		t.Fatalf("Strategy = %s, want fuzzy", outcome.Strategy)
	}
	if outcome.Total == 0 {
		t.Error("expected fuzzy matches for janet")
	}
}

func TestExecute_NoMatchRecordsAttempts(t *testing.T) {
	s := NewSearcher(newTestManager(t), nil)
	parsed := ParsedQuery{Normalized: "zzzzqqqq", Limit: 10}

	outcome := s.Execute(parsed, ResolvedQuery{})
	if outcome.Total != 0 || len(outcome.Records) != 0 {
		t.Fatalf("expected empty outcome, got %+v", outcome)
	}
	want := []SearchStrategy{StrategyFuzzy, StrategySemantic, StrategyHybrid, StrategyKeyword}
	if !reflect.DeepEqual(outcome.AlternativesTried, want) {
		t.Errorf("AlternativesTried = %v, want %v", outcome.AlternativesTried, want)
	}
	if outcome.Confidence != 0.1 {
		t.Errorf("Confidence = %.3f, want 0.1", outcome.Confidence)
	}
}

// Fallthrough determinism: same inputs, same strategies, same records.
func TestExecute_Deterministic(t *testing.T) {
	s := NewSearcher(newTestManager(t), nil)
	parsed := ParsedQuery{Normalized: "reno movers", Limit: 10}

	first := s.Execute(parsed, ResolvedQuery{})
	for i := 0; i < 5; i++ {
		again := s.Execute(parsed, ResolvedQuery{})
		if again.Strategy != first.Strategy {
			t.Fatalf("run %d: Strategy = %s, want %s", i, again.Strategy, first.Strategy)
		}
		if !reflect.DeepEqual(again.Records, first.Records) {
			t.Fatalf("run %d: result set changed", i)
		}
		if !reflect.DeepEqual(again.AlternativesTried, first.AlternativesTried) {
			t.Fatalf("run %d: attempt order changed", i)
		}
	}
}
