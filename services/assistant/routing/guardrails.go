// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routing implements the pre-pipeline decision layer: guardrail
// screening, the exact-match response cache, and lexical route ranking that
// sends unambiguous queries straight to a deterministic tool instead of the
// full pipeline.
package routing

import (
	"fmt"
	"regexp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arcadian-ai/concierge/services/assistant/config"
)

var guardrailBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "concierge",
	Subsystem: "routing",
	Name:      "guardrail_blocks_total",
	Help:      "Queries blocked by guardrail rules, by category.",
}, []string{"category"})

// BlockResult describes a guardrail hit.
type BlockResult struct {
	// Category is the rule class that matched (e.g. "pii", "off_topic").
	Category string

	// Message is the user-facing refusal text.
	Message string
}

// Guardrails screens queries against compiled blocked-pattern rules.
//
// # Description
//
// Rules are evaluated in configuration order and the first matching rule
// wins, so narrower categories should be listed before broad ones. All
// patterns are matched case-insensitively against the raw query.
//
// # Thread Safety
//
// Immutable after construction. Safe for concurrent use.
type Guardrails struct {
	rules []compiledGuardrail
}

type compiledGuardrail struct {
	category string
	message  string
	patterns []*regexp.Regexp
}

// NewGuardrails compiles the given rule set. Invalid patterns fail
// construction rather than being skipped.
func NewGuardrails(cfg *config.GuardrailConfig) (*Guardrails, error) {
	g := &Guardrails{rules: make([]compiledGuardrail, 0, len(cfg.Rules))}
	for _, rule := range cfg.Rules {
		compiled := compiledGuardrail{category: rule.Category, message: rule.Message}
		for _, p := range rule.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("routing: guardrail %s pattern %q: %w", rule.Category, p, err)
			}
			compiled.patterns = append(compiled.patterns, re)
		}
		g.rules = append(g.rules, compiled)
	}
	return g, nil
}

// Check returns the first matching block, or nil when the query is allowed.
func (g *Guardrails) Check(query string) *BlockResult {
	for _, rule := range g.rules {
		for _, re := range rule.patterns {
			if re.MatchString(query) {
				guardrailBlocks.WithLabelValues(rule.category).Inc()
				return &BlockResult{Category: rule.category, Message: rule.message}
			}
		}
	}
	return nil
}
