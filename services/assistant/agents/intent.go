// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// =============================================================================
// Intent Classification Patterns
// =============================================================================

// compileAll compiles a pattern list at package init.
func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

var (
	// strictCRIDPattern boosts LOOKUP confidence when an explicit record
	// identifier is present.
	strictCRIDPattern = regexp.MustCompile(`crid[-\s]?\d+`)

	lookupPatterns = compileAll(
		`\bcrid[-\s]?\d+`,
		`\bcustomer\s+id`,
		`\blook\s*up\b`,
		`\bfind\s+customer\b`,
		`\bget\s+customer\b`,
		`\bshow\s+me\s+customer\b`,
		`\bpull\s+up\b`,
		`\bcustomer\s+record\b`,
		`\bcustomer\s+details\b`,
	)

	statsPatterns = compileAll(
		`\bhow\s+many\b`,
		`\bcount\b`,
		`\bstatistics?\b`,
		`\btotals?\b`,
		`\bper\s+state\b`,
		`\bby\s+state\b`,
		`\bbreakdown\b`,
		`\bnumbers?\b`,
		`\bsummary\b`,
		`\baggregate\b`,
	)

	searchPatterns = compileAll(
		`\bsearch\b`,
		`\bfind\b`,
		`\bshow\b`,
		`\blist\b`,
		`\bgive\s+me\b`,
		`\bcustomers?\s+in\b`,
		`\bpeople\s+in\b`,
		`\bwho\s+lives?\b`,
		`\bresidents?\b`,
		`\bliving\s+in\b`,
		`\bfrom\b`,
		`\bmoved\b`,
		`\bmovers?\b`,
		`\brelocated\b`,
		`\bhigh\s+movers?\b`,
		`\bfrequent\b`,
	)

	analysisPatterns = compileAll(
		`\btrend\b`,
		`\bpattern\b`,
		`\banalyze\b`,
		`\banalysis\b`,
		`\binsight\b`,
		`\bwhy\b`,
		`\bmigration\b`,
		`\bmovement\b`,
		`\bbehavior\b`,
	)

	comparisonPatterns = compileAll(
		`\bcompare\b`,
		`\bvs\.?\b`,
		`\bversus\b`,
		`\bdifference\b`,
		`\bbetween\b`,
		`\bcomparison\b`,
	)

	recommendationPatterns = compileAll(
		`\brecommend\b`,
		`\bsuggest\b`,
		`\bshould\b`,
		`\bpredict\b`,
		`\bforecast\b`,
		`\bwhich\s+customers?\b`,
	)

	addressPatterns = compileAll(
		`\baddress\b`,
		`\bverify\b`,
		`\bvalidate\b`,
		`\bnormalize\b`,
		`\bstreet\b`,
		`\bzip\s*code\b`,
		`\bpostal\b`,
	)

	knowledgePatterns = compileAll(
		`\bpolicy\b`,
		`\bprocedure\b`,
		`\bdocumentation\b`,
		`\bhow\s+do\s+i\b`,
		`\bwhat\s+is\s+the\s+process\b`,
		`\brules?\b`,
		`\bguidelines?\b`,
	)

	complexIndicators = compileAll(
		`\btrend\b`,
		`\bpattern\b`,
		`\banalyze\b`,
		`\banalysis\b`,
		`\brecommend\b`,
		`\bpredict\b`,
		`\binsight\b`,
		`\bwhy\b`,
		`\bforecast\b`,
		`\bmigration\b`,
		`\bbehavior\b`,
	)

	mediumIndicators = compileAll(
		`\bcompare\b`,
		`\bfilter\b`,
		`\bbetween\b`,
		`\bsummary\b`,
		`\bper\s+state\b`,
		`\bwho\s+moved\b`,
		`\bwhich\b`,
		`\bmultiple\b`,
		`\bseveral\b`,
		`\ball\b`,
		`\bmost\b`,
		`\bleast\b`,
		`\btop\b`,
		`\bbottom\b`,
	)
)

// intentOrder fixes both primary-detection priority and the declaration
// order used for secondary intents.
var intentOrder = []struct {
	intent   Intent
	patterns []*regexp.Regexp
}{
	{IntentLookup, lookupPatterns},
	{IntentStats, statsPatterns},
	{IntentComparison, comparisonPatterns},
	{IntentAnalysis, analysisPatterns},
	{IntentRecommendation, recommendationPatterns},
	{IntentSearch, searchPatterns},
}

// =============================================================================
// Classifier
// =============================================================================

// Classifier maps raw query text to intent, domains, and complexity using
// ordered pattern matching. Stateless; no I/O; malformed input degrades to
// zero matches and the default SEARCH verdict.
//
// # Thread Safety
//
// Safe for concurrent use.
type Classifier struct{}

// NewClassifier creates a classifier.
func NewClassifier() *Classifier { return &Classifier{} }

// Classify produces the intent verdict for a query.
func (c *Classifier) Classify(query string) IntentResult {
	q := strings.ToLower(strings.TrimSpace(query))

	primary, base, hits := detectPrimary(q)
	secondary := detectSecondary(q, primary)
	domains := detectDomains(q, primary)
	complexity := assessComplexity(q)
	tools := suggestTools(primary, domains, complexity)

	// Categories matched beyond the primary raise confidence; very short
	// or very long queries lower it.
	confidence := base
	if len(hits)+len(secondary) > 1 {
		confidence = math.Min(confidence+0.1, 1.0)
	}
	words := len(strings.Fields(q))
	if words < 3 {
		confidence *= 0.9
	}
	if words > 20 {
		confidence *= 0.85
	}

	return IntentResult{
		Primary:        primary,
		Secondary:      secondary,
		Confidence:     round3(confidence),
		Domains:        domains,
		Complexity:     complexity,
		SuggestedTools: tools,
		PatternsHit:    hits,
	}
}

func detectPrimary(q string) (Intent, float64, []string) {
	if matchAny(q, lookupPatterns) {
		if strictCRIDPattern.MatchString(q) {
			return IntentLookup, 0.95, []string{"lookup"}
		}
		return IntentLookup, 0.8, []string{"lookup"}
	}
	if matchAny(q, statsPatterns) {
		return IntentStats, 0.85, []string{"stats"}
	}
	if matchAny(q, comparisonPatterns) {
		return IntentComparison, 0.8, []string{"comparison"}
	}
	if matchAny(q, analysisPatterns) {
		return IntentAnalysis, 0.8, []string{"analysis"}
	}
	if matchAny(q, recommendationPatterns) {
		return IntentRecommendation, 0.75, []string{"recommendation"}
	}
	if matchAny(q, searchPatterns) {
		return IntentSearch, 0.85, []string{"search"}
	}
	return IntentSearch, 0.6, []string{"default_search"}
}

// detectSecondary returns up to two other matching categories in
// declaration order.
func detectSecondary(q string, primary Intent) []Intent {
	var secondary []Intent
	for _, entry := range intentOrder {
		if entry.intent == primary {
			continue
		}
		if matchAny(q, entry.patterns) {
			secondary = append(secondary, entry.intent)
			if len(secondary) == 2 {
				break
			}
		}
	}
	return secondary
}

func detectDomains(q string, primary Intent) []Domain {
	var domains []Domain
	if primary == IntentLookup || primary == IntentSearch || primary == IntentStats {
		domains = append(domains, DomainCustomer)
	}
	if matchAny(q, addressPatterns) {
		domains = append(domains, DomainAddress)
	}
	if matchAny(q, knowledgePatterns) {
		domains = append(domains, DomainKnowledge)
	}
	if primary == IntentStats || matchAny(q, statsPatterns) {
		domains = append(domains, DomainStats)
	}
	if len(domains) == 0 {
		domains = append(domains, DomainCustomer)
	}
	return domains
}

// assessComplexity: indicator patterns take precedence over word count.
func assessComplexity(q string) Complexity {
	if matchAny(q, complexIndicators) {
		return ComplexityComplex
	}
	if matchAny(q, mediumIndicators) {
		return ComplexityMedium
	}
	words := len(strings.Fields(q))
	if words > 15 {
		return ComplexityComplex
	}
	if words > 8 {
		return ComplexityMedium
	}
	return ComplexitySimple
}

func suggestTools(primary Intent, domains []Domain, complexity Complexity) []Tool {
	var tools []Tool
	switch primary {
	case IntentLookup:
		tools = append(tools, ToolLookupCRID)
	case IntentSearch:
		tools = append(tools, ToolSearchCustomers)
		if complexity != ComplexitySimple {
			tools = append(tools, ToolFuzzySearch, ToolSemanticSearch)
		}
	case IntentStats:
		tools = append(tools, ToolGetStats)
	case IntentAnalysis, IntentComparison:
		tools = append(tools, ToolGetStats, ToolSearchCustomers, ToolSemanticSearch)
	case IntentRecommendation:
		tools = append(tools, ToolSearchCustomers, ToolSemanticSearch, ToolGetStats)
	}

	for _, d := range domains {
		switch d {
		case DomainAddress:
			tools = append(tools, ToolVerifyAddress)
		case DomainKnowledge:
			tools = append(tools, ToolSearchKnowledge)
		}
	}
	if complexity == ComplexityComplex {
		tools = append(tools, ToolHybridSearch)
	}
	return dedupeTools(tools)
}

func dedupeTools(tools []Tool) []Tool {
	seen := make(map[Tool]bool, len(tools))
	out := tools[:0]
	for _, t := range tools {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func matchAny(text string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// summary renders the classification for trace records.
func (ir IntentResult) summary() string {
	return fmt.Sprintf("intent=%s complexity=%s domains=%d conf=%.3f",
		ir.Primary, ir.Complexity, len(ir.Domains), ir.Confidence)
}
