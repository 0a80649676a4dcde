// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arcadian-ai/concierge/services/llm"
)

var enforcementOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "concierge",
	Subsystem: "agents",
	Name:      "enforcement_status_total",
	Help:      "Quality enforcement verdicts by final status.",
}, []string{"status"})

// minResponseConfidence is the CONFIDENCE_MET gate threshold.
const minResponseConfidence = 0.5

// gateOrder fixes the evaluation sequence. Every gate runs on every
// response; a failure never short-circuits the remaining gates.
var gateOrder = []Gate{
	GateResponsive,
	GateFactual,
	GatePIISafe,
	GateComplete,
	GateCoherent,
	GateOnTopic,
	GateConfidenceMet,
}

// Gate severity policy. Unrecoverable failures replace the response with
// the templated answer; recoverable ones modify it in place; the rest are
// advisory and only lower the quality score.
var unrecoverableGates = map[Gate]bool{
	GateResponsive: true,
	GateCoherent:   true,
	GateOnTopic:    true,
}

var recoverableGates = map[Gate]bool{
	GatePIISafe: true,
}

// Enforcer runs the post-generation quality gates.
//
// # Description
//
// Seven ordered gates score the generated text against the query and the
// retrieved data. The aggregate quality score is the unweighted pass
// fraction. Status transitions: all gates pass -> APPROVED; only
// recoverable failures -> redact and MODIFIED; any unrecoverable failure
// -> REJECTED when no data exists to answer from, else the templated
// answer replaces the text and the status is FALLBACK.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
type Enforcer struct {
	logger *slog.Logger
}

// NewEnforcer creates an enforcer. Nil logger falls back to slog.Default().
func NewEnforcer(logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{logger: logger}
}

// Enforce runs the gate sequence and produces the final verdict.
func (e *Enforcer) Enforce(query string, generated GeneratedResponse, outcome SearchOutcome) EnforcedResponse {
	enforced := EnforcedResponse{
		Final:    generated.Text,
		Original: generated.Text,
		Status:   StatusApproved,
	}

	var (
		unrecoverable bool
		piiFailed     bool
	)
	for _, gate := range gateOrder {
		result := e.runGate(gate, query, generated, outcome)
		if result.Passed {
			enforced.GatesPassed = append(enforced.GatesPassed, result)
			continue
		}
		enforced.GatesFailed = append(enforced.GatesFailed, result)
		if unrecoverableGates[gate] {
			unrecoverable = true
		}
		if gate == GatePIISafe {
			piiFailed = true
		}
	}

	enforced.QualityScore = round3(float64(len(enforced.GatesPassed)) / float64(len(gateOrder)))

	switch {
	case unrecoverable:
		replacement := templateAnswer(outcome)
		if replacement == unavailableMessage {
			// Nothing to answer from at all.
			enforced.Status = StatusRejected
		} else {
			enforced.Status = StatusFallback
		}
		enforced.Final = replacement
		enforced.Modifications = append(enforced.Modifications,
			"response rejected, replaced with templated answer")
		e.logger.Warn("enforcer: response rejected",
			"failed_gates", gateNames(enforced.GatesFailed), "status", enforced.Status)

	case piiFailed:
		redacted, classes := llm.RedactPII(enforced.Final)
		enforced.Final = redacted
		enforced.Status = StatusModified
		enforced.Modifications = append(enforced.Modifications,
			fmt.Sprintf("PII redacted: %s", strings.Join(classes, ", ")))
		e.logger.Info("enforcer: response modified", "pii_classes", classes)
	}

	enforcementOutcomes.WithLabelValues(string(enforced.Status)).Inc()
	return enforced
}

func (e *Enforcer) runGate(gate Gate, query string, generated GeneratedResponse, outcome SearchOutcome) GateResult {
	switch gate {
	case GateResponsive:
		return gateResponsive(generated.Text)
	case GateFactual:
		return gateFactual(generated, outcome)
	case GatePIISafe:
		return gatePIISafe(generated.Text)
	case GateComplete:
		return gateComplete(generated.Text)
	case GateCoherent:
		return gateCoherent(generated.Text)
	case GateOnTopic:
		return gateOnTopic(query, generated.Text)
	case GateConfidenceMet:
		return gateConfidenceMet(generated.Confidence)
	}
	return GateResult{Gate: gate, Passed: true, Message: "no check defined"}
}

// =============================================================================
// Gates
// =============================================================================

func gateResponsive(text string) GateResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || trimmed == noResponseSentinel {
		return GateResult{Gate: GateResponsive, Passed: false, Message: "no usable response text"}
	}
	return GateResult{Gate: GateResponsive, Passed: true, Message: "response present"}
}

// gateFactual checks that every record identifier the model mentions is
// one it was actually shown, from search records or tool results.
func gateFactual(generated GeneratedResponse, outcome SearchOutcome) GateResult {
	mentioned := cridTokenPattern.FindAllString(generated.Text, -1)
	if len(mentioned) == 0 {
		return GateResult{Gate: GateFactual, Passed: true, Message: "no record identifiers to verify"}
	}

	known := make(map[string]bool)
	for _, rec := range outcome.Records {
		known[normalizeCRIDToken(rec.CRID)] = true
	}
	for _, result := range generated.ToolResults {
		collectCRIDs(result, known)
	}

	for _, token := range mentioned {
		if !known[normalizeCRIDToken(token)] {
			return GateResult{Gate: GateFactual, Passed: false,
				Message: fmt.Sprintf("identifier %s not present in retrieved data", token)}
		}
	}
	return GateResult{Gate: GateFactual, Passed: true,
		Message: fmt.Sprintf("%d identifier(s) verified against retrieved data", len(mentioned))}
}

func gatePIISafe(text string) GateResult {
	if llm.ContainsPII(text) {
		return GateResult{Gate: GatePIISafe, Passed: false, Message: "PII detected in response"}
	}
	return GateResult{Gate: GatePIISafe, Passed: true, Message: "no PII detected"}
}

// gateComplete flags responses that end mid-thought.
func gateComplete(text string) GateResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return GateResult{Gate: GateComplete, Passed: false, Message: "empty response"}
	}
	if strings.HasSuffix(trimmed, ",") || strings.HasSuffix(trimmed, ";") ||
		strings.HasSuffix(trimmed, "-") {
		return GateResult{Gate: GateComplete, Passed: false, Message: "response appears truncated"}
	}
	words := strings.Fields(strings.ToLower(trimmed))
	if len(words) > 0 {
		switch words[len(words)-1] {
		case "and", "or", "the", "a", "an", "with", "to", "of", "for", "in":
			return GateResult{Gate: GateComplete, Passed: false, Message: "response ends on a connective"}
		}
	}
	return GateResult{Gate: GateComplete, Passed: true, Message: "response is complete"}
}

// gateCoherent flags degenerate repetition, the common failure shape of a
// looping generation.
func gateCoherent(text string) GateResult {
	lines := strings.Split(text, "\n")
	counts := make(map[string]int)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) < 10 {
			continue
		}
		counts[line]++
		if counts[line] > 3 {
			return GateResult{Gate: GateCoherent, Passed: false, Message: "repeated line detected"}
		}
	}

	words := strings.Fields(strings.ToLower(text))
	run := 1
	for i := 1; i < len(words); i++ {
		if words[i] == words[i-1] {
			run++
			if run >= 4 {
				return GateResult{Gate: GateCoherent, Passed: false, Message: "repeated word run detected"}
			}
		} else {
			run = 1
		}
	}
	return GateResult{Gate: GateCoherent, Passed: true, Message: "no degenerate repetition"}
}

var onTopicAnchors = []string{
	"customer", "crid", "record", "state", "city", "move", "address",
	"found", "result", "data", "total", "no customers",
}

// gateOnTopic requires the response to share a meaningful term with the
// query or to speak in the domain vocabulary.
func gateOnTopic(query, text string) GateResult {
	lowerText := strings.ToLower(text)
	for _, word := range strings.Fields(strings.ToLower(query)) {
		word = strings.Trim(word, ".,!?:;\"'")
		if len(word) > 3 && strings.Contains(lowerText, word) {
			return GateResult{Gate: GateOnTopic, Passed: true, Message: "query term echoed in response"}
		}
	}
	for _, anchor := range onTopicAnchors {
		if strings.Contains(lowerText, anchor) {
			return GateResult{Gate: GateOnTopic, Passed: true, Message: "domain vocabulary present"}
		}
	}
	return GateResult{Gate: GateOnTopic, Passed: false, Message: "response does not address the query"}
}

func gateConfidenceMet(confidence float64) GateResult {
	if confidence < minResponseConfidence {
		return GateResult{Gate: GateConfidenceMet, Passed: false,
			Message: fmt.Sprintf("confidence %.3f below threshold %.2f", confidence, minResponseConfidence)}
	}
	return GateResult{Gate: GateConfidenceMet, Passed: true,
		Message: fmt.Sprintf("confidence %.3f meets threshold", confidence)}
}

// =============================================================================
// Helpers
// =============================================================================

// normalizeCRIDToken reduces any identifier variant ("crid 42", "CRID-42",
// "CRID-000042") to an unpadded canonical form for comparison.
func normalizeCRIDToken(token string) string {
	digits := strings.TrimLeft(strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, token), "0")
	if digits == "" {
		digits = "0"
	}
	return "CRID-" + digits
}

// collectCRIDs walks a tool result for record identifiers.
func collectCRIDs(value any, known map[string]bool) {
	switch v := value.(type) {
	case string:
		for _, token := range cridTokenPattern.FindAllString(v, -1) {
			known[normalizeCRIDToken(token)] = true
		}
	case map[string]any:
		for _, inner := range v {
			collectCRIDs(inner, known)
		}
	case []map[string]any:
		for _, inner := range v {
			collectCRIDs(inner, known)
		}
	case []any:
		for _, inner := range v {
			collectCRIDs(inner, known)
		}
	}
}

func gateNames(results []GateResult) []string {
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = string(r.Gate)
	}
	return names
}

// summary renders the verdict for trace records.
func (er EnforcedResponse) summary() string {
	return fmt.Sprintf("status=%s score=%.3f passed=%d failed=%d",
		er.Status, er.QualityScore, len(er.GatesPassed), len(er.GatesFailed))
}
