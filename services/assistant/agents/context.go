// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/arcadian-ai/concierge/services/assistant/session"
)

// =============================================================================
// Geography Tables
// =============================================================================

// validStateCodes accepts two-letter tokens as state codes.
var validStateCodes = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true,
	"CT": true, "DE": true, "FL": true, "GA": true, "HI": true, "ID": true,
	"IL": true, "IN": true, "IA": true, "KS": true, "KY": true, "LA": true,
	"ME": true, "MD": true, "MA": true, "MI": true, "MN": true, "MS": true,
	"MO": true, "MT": true, "NE": true, "NV": true, "NH": true, "NJ": true,
	"NM": true, "NY": true, "NC": true, "ND": true, "OH": true, "OK": true,
	"OR": true, "PA": true, "PR": true, "RI": true, "SC": true, "SD": true,
	"TN": true, "TX": true, "UT": true, "VT": true, "VA": true, "WA": true,
	"WV": true, "WI": true, "WY": true, "DC": true,
}

// stateNameOrder lists state names longest-variant-first so substring
// scanning prefers "west virginia" over "virginia" and "north dakota"
// over plain prefixes.
var stateNameOrder = []struct {
	name string
	code string
}{
	{"west virginia", "WV"}, {"north carolina", "NC"}, {"north dakota", "ND"},
	{"south carolina", "SC"}, {"south dakota", "SD"}, {"new hampshire", "NH"},
	{"new jersey", "NJ"}, {"new mexico", "NM"}, {"new york", "NY"},
	{"rhode island", "RI"}, {"puerto rico", "PR"}, {"district of columbia", "DC"},
	{"alabama", "AL"}, {"alaska", "AK"}, {"arizona", "AZ"}, {"arkansas", "AR"},
	{"california", "CA"}, {"colorado", "CO"}, {"connecticut", "CT"},
	{"delaware", "DE"}, {"florida", "FL"}, {"georgia", "GA"}, {"hawaii", "HI"},
	{"idaho", "ID"}, {"illinois", "IL"}, {"indiana", "IN"}, {"iowa", "IA"},
	{"kansas", "KS"}, {"kentucky", "KY"}, {"louisiana", "LA"}, {"maine", "ME"},
	{"maryland", "MD"}, {"massachusetts", "MA"}, {"michigan", "MI"},
	{"minnesota", "MN"}, {"mississippi", "MS"}, {"missouri", "MO"},
	{"montana", "MT"}, {"nebraska", "NE"}, {"nevada", "NV"}, {"ohio", "OH"},
	{"oklahoma", "OK"}, {"oregon", "OR"}, {"pennsylvania", "PA"},
	{"tennessee", "TN"}, {"texas", "TX"}, {"utah", "UT"}, {"vermont", "VT"},
	{"virginia", "VA"}, {"washington", "WA"}, {"wisconsin", "WI"},
	{"wyoming", "WY"}, {"d.c.", "DC"}, {"dc", "DC"},
}

// StateCode maps a lowercased state name to its two-letter code. The
// second return reports whether the name was recognized.
func StateCode(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, entry := range stateNameOrder {
		if entry.name == name {
			return entry.code, true
		}
	}
	return "", false
}

// =============================================================================
// Extraction Patterns
// =============================================================================

var (
	cridTokenPattern  = regexp.MustCompile(`(?i)CRID[-\s]?\d+`)
	personNamePattern = regexp.MustCompile(`\b([A-Z][a-z]+ [A-Z][a-z]+)\b`)
	stateCodePattern  = regexp.MustCompile(`\b([A-Z]{2})\b`)
	zipPattern        = regexp.MustCompile(`\b(\d{5})(?:-\d{4})?\b`)
	limitPattern      = regexp.MustCompile(`\b(\d+)\s+(?:results?|customers?|records?)\b`)

	followUpPatterns = compileAll(
		`\bthose\b`,
		`\bthem\b`,
		`\bthey\b`,
		`\bit\b`,
		`\bthe same\b`,
		`\bsame\s+customers?\b`,
		`\bmore\s+about\b`,
		`\bmore\s+details?\b`,
		`\bwhat\s+about\b`,
		`\bhow\s+about\b`,
		`\band\s+also\b`,
		`\bcan\s+you\s+also\b`,
		`\btell\s+me\s+more\b`,
		`\bshow\s+me\s+more\b`,
	)

	detailKeywords  = []string{"detail", "full", "complete", "all info"}
	summaryKeywords = []string{"summary", "brief", "quick", "overview"}
)

// Extraction caps.
const (
	maxHistoryWindow   = 10
	maxNamesPerMessage = 5
	maxEntities        = 20
	maxPreferredLimit  = 100
)

// =============================================================================
// Extractor
// =============================================================================

// Extractor derives conversational context from session history and the
// current query. Store access fails soft: errors or a missing session
// yield empty history, logged and never raised.
//
// # Thread Safety
//
// Safe for concurrent use.
type Extractor struct {
	store  session.Store
	logger *slog.Logger
}

// NewExtractor creates an extractor. A nil store means no history is ever
// available. Nil logger falls back to slog.Default().
func NewExtractor(store session.Store, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{store: store, logger: logger}
}

// Extract builds the QueryContext for the current turn.
func (e *Extractor) Extract(ctx context.Context, sessionID, query string) QueryContext {
	history := e.history(ctx, sessionID)
	var priorResults []string
	if sessionID != "" && e.store != nil {
		if s, err := e.store.Get(ctx, sessionID); err == nil {
			priorResults = s.LastResults
		}
	}

	geo := extractGeo(history, query)
	followUp := detectFollowUp(query, history)

	qc := QueryContext{
		History:            history,
		ReferencedEntities: extractEntities(history),
		Geo:                geo,
		Preferences:        inferPreferences(history),
		IsFollowUp:         followUp,
	}
	if followUp {
		qc.PriorResults = priorResults
	}
	qc.Confidence = contextConfidence(len(history), geo, followUp)
	return qc
}

func (e *Extractor) history(ctx context.Context, sessionID string) []session.Message {
	if sessionID == "" || e.store == nil {
		return nil
	}
	s, err := e.store.Get(ctx, sessionID)
	if err != nil {
		if err != session.ErrSessionNotFound {
			e.logger.Warn("context: session history unavailable", "error", err)
		}
		return nil
	}
	return s.History(maxHistoryWindow)
}

// extractEntities scans history for record IDs (any author) and
// capitalized two-word names (assistant turns only, where names come from
// data rather than speculation). Deduplicated first-seen order, capped.
func extractEntities(history []session.Message) []string {
	var entities []string
	for _, msg := range history {
		for _, crid := range cridTokenPattern.FindAllString(msg.Content, -1) {
			entities = append(entities, strings.ReplaceAll(strings.ToUpper(crid), " ", "-"))
		}
		if msg.Role == "assistant" {
			names := personNamePattern.FindAllString(msg.Content, -1)
			if len(names) > maxNamesPerMessage {
				names = names[:maxNamesPerMessage]
			}
			entities = append(entities, names...)
		}
	}

	seen := make(map[string]bool, len(entities))
	out := entities[:0]
	for _, e := range entities {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
			if len(out) == maxEntities {
				break
			}
		}
	}
	return out
}

// extractGeo scans the current query first, then history newest-first.
// Each field is first-found-wins; city is only attempted once a state is
// known, via a "City, ST" pattern.
func extractGeo(history []session.Message, query string) GeoContext {
	texts := make([]string, 0, len(history)+1)
	texts = append(texts, query)
	for i := len(history) - 1; i >= 0; i-- {
		texts = append(texts, history[i].Content)
	}

	var geo GeoContext
	for _, text := range texts {
		lower := strings.ToLower(text)

		if geo.State == "" {
			if m := stateCodePattern.FindStringSubmatch(text); m != nil && validStateCodes[m[1]] {
				geo.State = m[1]
			} else {
				for _, entry := range stateNameOrder {
					if strings.Contains(lower, entry.name) {
						geo.State = entry.code
						break
					}
				}
			}
		}

		if geo.Zip == "" {
			if m := zipPattern.FindStringSubmatch(text); m != nil {
				geo.Zip = m[1]
			}
		}

		if geo.City == "" && geo.State != "" {
			cityRe := regexp.MustCompile(`([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)\s*,?\s*` + geo.State)
			if m := cityRe.FindStringSubmatch(text); m != nil {
				geo.City = m[1]
			}
		}
	}
	return geo
}

// inferPreferences scans user-authored turns for limit and verbosity
// hints. Later turns override earlier ones.
func inferPreferences(history []session.Message) Preferences {
	prefs := Preferences{PreferredLimit: 10}
	for _, msg := range history {
		if msg.Role != "user" {
			continue
		}
		lower := strings.ToLower(msg.Content)

		if m := limitPattern.FindStringSubmatch(lower); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				prefs.PreferredLimit = min(n, maxPreferredLimit)
			}
		}
		for _, kw := range detailKeywords {
			if strings.Contains(lower, kw) {
				prefs.WantsDetails = true
				break
			}
		}
		for _, kw := range summaryKeywords {
			if strings.Contains(lower, kw) {
				prefs.WantsSummary = true
				break
			}
		}
	}
	return prefs
}

// detectFollowUp: referential phrasing or a very short query. The signal
// fires even with empty history; the confidence scorer penalizes a
// claimed follow-up that has nothing to follow.
func detectFollowUp(query string, history []session.Message) bool {
	lower := strings.ToLower(query)
	if matchAny(lower, followUpPatterns) {
		return true
	}
	return len(strings.Fields(query)) <= 3
}

// contextConfidence scores the extracted context.
func contextConfidence(historyLen int, geo GeoContext, followUp bool) float64 {
	confidence := 0.5
	if historyLen > 0 {
		confidence += 0.1 * float64(min(historyLen, 5)) / 5
	}
	confidence += 0.1 * float64(geo.count()) / 3
	if followUp && historyLen > 0 {
		confidence += 0.2
	}
	if followUp && historyLen == 0 {
		confidence -= 0.3
	}
	return clamp01(round3(confidence))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// summary renders the context for trace records.
func (qc QueryContext) summary() string {
	return fmt.Sprintf("history=%d entities=%d state=%s follow_up=%t conf=%.3f",
		len(qc.History), len(qc.ReferencedEntities), qc.Geo.State, qc.IsFollowUp, qc.Confidence)
}
