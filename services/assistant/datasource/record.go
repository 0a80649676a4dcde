// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datasource loads customer records from file adapters, indexes
// them into immutable generations, and serves lookups, filtered search,
// statistics, and autocomplete against the current generation.
package datasource

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrNotFound is returned by lookups for identifiers absent from the data.
var ErrNotFound = errors.New("datasource: record not found")

// Address is a customer mailing address.
type Address struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
}

// Record is one customer row.
//
// Records are loaded once per generation and never mutated afterward, so
// they may be shared freely across concurrent readers.
type Record struct {
	// CRID is the customer record ID, "CRID-" plus a zero-padded number.
	CRID string `json:"crid"`

	// Name is the customer's full name.
	Name string `json:"name"`

	// Address is the current mailing address.
	Address Address `json:"address"`

	// MoveCount is the number of address changes on file.
	MoveCount int `json:"move_count"`

	// Tags are free-form labels attached by upstream systems.
	Tags []string `json:"tags,omitempty"`
}

// Filters is the structured search input.
type Filters struct {
	// State is a two-letter state code. Empty means no state filter.
	State string

	// City filters within the state. Ignored without a state.
	City string

	// Zip is a 5-digit ZIP filter.
	Zip string

	// NameQuery matches customer names (exact or fuzzy by strategy).
	NameQuery string

	// MinMoves keeps records with at least this many moves. Zero disables.
	MinMoves int

	// Limit caps returned records. Callers enforce their own defaults.
	Limit int
}

// SearchResult is a successful search outcome.
type SearchResult struct {
	// Total is the match count before the limit was applied.
	Total int

	// Records are the matched rows, capped at the limit.
	Records []*Record
}

// Suggestion is one autocomplete candidate.
type Suggestion struct {
	// Value is the suggested completion.
	Value string `json:"value"`

	// Count is how many records share the value.
	Count int `json:"count"`
}

// Stats summarizes the loaded data set.
type Stats struct {
	// TotalRecords is the row count of the current generation.
	TotalRecords int `json:"total_records"`

	// ByState maps state code to record count.
	ByState map[string]int `json:"by_state"`

	// ByCity maps "City, ST" to record count.
	ByCity map[string]int `json:"by_city"`

	// AvgMoves is the mean move count across all records.
	AvgMoves float64 `json:"avg_moves"`
}

// StateNotAvailableError reports a state filter that matches no loaded
// data, with the actually-available alternatives.
//
// This is a user-actionable outcome, not a failure: handlers render it as
// a structured response listing the available states.
type StateNotAvailableError struct {
	// State is the requested state code.
	State string

	// Available lists the state codes present in the data, sorted.
	Available []string

	// Counts maps each available state to its record count.
	Counts map[string]int
}

func (e *StateNotAvailableError) Error() string {
	return fmt.Sprintf("datasource: state %q not available (have %s)",
		e.State, strings.Join(e.Available, ", "))
}

// Suggestion returns the user-facing hint for the unavailable state.
func (e *StateNotAvailableError) Suggestion() string {
	return fmt.Sprintf("No customers in %s. Try one of: %s.",
		e.State, strings.Join(e.Available, ", "))
}

// newStateNotAvailable builds the error from a per-state count map.
func newStateNotAvailable(state string, byState map[string]int) *StateNotAvailableError {
	available := make([]string, 0, len(byState))
	for code := range byState {
		available = append(available, code)
	}
	sort.Strings(available)
	return &StateNotAvailableError{
		State:     state,
		Available: available,
		Counts:    byState,
	}
}

// cridDigits extracts the numeric part of a record ID token, accepting
// "CRID-42", "crid 42", or a bare "42".
var cridDigits = regexp.MustCompile(`(?i)^(?:crid[-\s]?)?(\d+)$`)

// NormalizeCRID canonicalizes a record ID token to "CRID-<digits>" form,
// uppercased with a hyphen separator. Returns false for tokens that do not
// look like record IDs at all.
func NormalizeCRID(token string) (string, bool) {
	m := cridDigits.FindStringSubmatch(strings.TrimSpace(token))
	if m == nil {
		return "", false
	}
	return "CRID-" + m[1], true
}

// cridVariants returns candidate canonical IDs for a digit string, trying
// zero-padded widths used across historical exports before the raw form.
func cridVariants(digits string) []string {
	variants := make([]string, 0, 4)
	seen := make(map[string]bool, 4)
	for _, width := range []int{6, 5, 3} {
		if len(digits) <= width {
			padded := strings.Repeat("0", width-len(digits)) + digits
			id := "CRID-" + padded
			if !seen[id] {
				variants = append(variants, id)
				seen[id] = true
			}
		}
	}
	raw := "CRID-" + digits
	if !seen[raw] {
		variants = append(variants, raw)
	}
	return variants
}
