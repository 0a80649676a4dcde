// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Result limits.
const (
	defaultLimit = 10
	maxLimit     = 100
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)

	// "3+ moves", "at least 3 moves", "more than 3 moves", "3 or more moves"
	minMovesPatterns = compileAll(
		`(\d+)\s*\+\s*moves?`,
		`at\s+least\s+(\d+)\s+moves?`,
		`more\s+than\s+(\d+)\s+moves?`,
		`(\d+)\s+or\s+more\s+moves?`,
		`min(?:imum)?\s+(?:of\s+)?(\d+)\s+moves?`,
	)

	// "top 5", "first 20", "limit 25", "show 15 customers"
	limitPhrasePatterns = compileAll(
		`\btop\s+(\d+)\b`,
		`\bfirst\s+(\d+)\b`,
		`\blimit\s+(\d+)\b`,
		`\b(\d+)\s+(?:results?|customers?|records?)\b`,
	)

	sortKeywords = []struct {
		phrase string
		key    string
	}{
		{"most moves", "move_count_desc"},
		{"highest movers", "move_count_desc"},
		{"fewest moves", "move_count_asc"},
		{"least moves", "move_count_asc"},
		{"alphabetical", "name_asc"},
		{"by name", "name_asc"},
	}

	// "since 2023", "in 2024", "from 2022 to 2024"
	yearRangePattern  = regexp.MustCompile(`\bfrom\s+(\d{4})\s+to\s+(\d{4})\b`)
	sinceYearPattern  = regexp.MustCompile(`\bsince\s+(\d{4})\b`)
	singleYearPattern = regexp.MustCompile(`\bin\s+(\d{4})\b`)
)

// Parser turns free text plus intent and context into a structured query.
// Every normalization is recorded as a note for observability.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
type Parser struct{}

// NewParser creates a parser.
func NewParser() *Parser { return &Parser{} }

// Parse builds the ParsedQuery.
func (p *Parser) Parse(query string, intent IntentResult, qc QueryContext) ParsedQuery {
	normalized := whitespaceRun.ReplaceAllString(strings.TrimSpace(query), " ")

	parsed := ParsedQuery{
		Original:   query,
		Normalized: normalized,
		Entities:   map[string][]string{},
		Limit:      defaultLimit,
		IsFollowUp: qc.IsFollowUp,
	}

	// Record identifiers from the query itself.
	for _, crid := range cridTokenPattern.FindAllString(normalized, -1) {
		canonical := strings.ReplaceAll(strings.ToUpper(crid), " ", "-")
		parsed.Entities["crid"] = append(parsed.Entities["crid"], canonical)
	}

	lower := strings.ToLower(normalized)
	p.parseGeo(normalized, lower, qc, &parsed)
	p.parseNumbers(lower, qc, &parsed)
	p.parseSortAndDates(lower, &parsed)

	parsed.Filters.Limit = parsed.Limit
	return parsed
}

// parseGeo resolves the state filter from the query text first, then the
// conversational context. Code matching runs against the original-case
// text so lowercase words like "in" and "me" are not mistaken for codes.
func (p *Parser) parseGeo(normalized, lower string, qc QueryContext, parsed *ParsedQuery) {
	for _, entry := range stateNameOrder {
		if strings.Contains(lower, entry.name) {
			parsed.Filters.State = entry.code
			parsed.Notes = append(parsed.Notes,
				fmt.Sprintf("state name %q mapped to %s", entry.name, entry.code))
			break
		}
	}
	if parsed.Filters.State == "" {
		if m := stateCodePattern.FindStringSubmatch(normalized); m != nil && validStateCodes[m[1]] {
			parsed.Filters.State = m[1]
		}
	}
	if parsed.Filters.State == "" && qc.Geo.State != "" {
		parsed.Filters.State = qc.Geo.State
		parsed.Notes = append(parsed.Notes,
			fmt.Sprintf("state %s carried from conversation context", qc.Geo.State))
	}
	if qc.Geo.City != "" {
		parsed.Filters.City = qc.Geo.City
	}
	if qc.Geo.Zip != "" {
		parsed.Filters.Zip = qc.Geo.Zip
	}
}

// parseNumbers extracts move-count thresholds and result limits.
func (p *Parser) parseNumbers(lower string, qc QueryContext, parsed *ParsedQuery) {
	for _, re := range minMovesPatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				parsed.Filters.MinMoves = n
				parsed.Notes = append(parsed.Notes,
					fmt.Sprintf("minimum move count %d extracted", n))
			}
			break
		}
	}
	// Informal "high movers" phrasing implies a threshold.
	if parsed.Filters.MinMoves == 0 &&
		(strings.Contains(lower, "high movers") || strings.Contains(lower, "frequent movers")) {
		parsed.Filters.MinMoves = 3
		parsed.Notes = append(parsed.Notes, `"high/frequent movers" interpreted as minimum 3 moves`)
	}

	for _, re := range limitPhrasePatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				capped := min(n, maxLimit)
				parsed.Limit = capped
				if capped != n {
					parsed.Notes = append(parsed.Notes,
						fmt.Sprintf("requested limit %d capped at %d", n, maxLimit))
				}
			}
			break
		}
	}
	if parsed.Limit == defaultLimit && qc.Preferences.PreferredLimit != defaultLimit &&
		qc.Preferences.PreferredLimit > 0 {
		parsed.Limit = min(qc.Preferences.PreferredLimit, maxLimit)
		parsed.Notes = append(parsed.Notes,
			fmt.Sprintf("limit %d carried from conversation preference", parsed.Limit))
	}
}

// parseSortAndDates detects sort phrasing and year spans.
func (p *Parser) parseSortAndDates(lower string, parsed *ParsedQuery) {
	for _, entry := range sortKeywords {
		if strings.Contains(lower, entry.phrase) {
			parsed.SortKey = entry.key
			parsed.Notes = append(parsed.Notes,
				fmt.Sprintf("sort %q requested via %q", entry.key, entry.phrase))
			break
		}
	}

	if m := yearRangePattern.FindStringSubmatch(lower); m != nil {
		parsed.DateRange = &DateRange{From: m[1] + "-01-01", To: m[2] + "-12-31"}
	} else if m := sinceYearPattern.FindStringSubmatch(lower); m != nil {
		parsed.DateRange = &DateRange{From: m[1] + "-01-01", To: ""}
	} else if m := singleYearPattern.FindStringSubmatch(lower); m != nil {
		parsed.DateRange = &DateRange{From: m[1] + "-01-01", To: m[1] + "-12-31"}
	}
	if parsed.DateRange != nil {
		parsed.Notes = append(parsed.Notes, "date range extracted from query")
	}
}

// summary renders the parse for trace records.
func (pq ParsedQuery) summary() string {
	return fmt.Sprintf("state=%s min_moves=%d limit=%d notes=%d",
		pq.Filters.State, pq.Filters.MinMoves, pq.Limit, len(pq.Notes))
}
