// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arcadian-ai/concierge/services/assistant/session"
	"github.com/arcadian-ai/concierge/services/llm"
)

// noResponseSentinel is returned by the model path when generation
// produced no usable text. The enforcer treats it as a failed response.
const noResponseSentinel = "I couldn't generate a response."

const unavailableMessage = "I'm unable to generate a response right now. " +
	"The search results above contain the available data."

const responderSystemPrompt = `You are a helpful customer data assistant.
Answer questions about customer records accurately and concisely using the
data provided. When customer data or documentation context is supplied,
ground your answer in it. Use the available tools when you need data that
is not already in the context. Never invent customer details. If the data
does not answer the question, say so plainly.`

const (
	maxHistoryTurns  = 6
	maxContextRecs   = 5
	maxContextChunks = 3
	chunkExcerptLen  = 200
	maxToolRounds    = 2
)

// Phrases that lower response confidence when the model hedges.
var hedgingPhrases = []string{
	"i'm not sure",
	"i don't know",
	"i cannot",
	"unable to",
}

// Responder generates the natural-language answer.
//
// # Description
//
// Builds a grounded prompt from search results, documentation chunks and
// recent conversation history, then runs a bounded tool loop against the
// model. Every model failure degrades to a deterministic template built
// from the search results, so the pipeline always produces an answer.
//
// # Thread Safety
//
// Safe for concurrent use.
type Responder struct {
	client   llm.Client
	registry *Registry
	logger   *slog.Logger
}

// NewResponder creates a responder. client may be nil, in which case every
// call takes the template fallback path.
func NewResponder(client llm.Client, registry *Registry, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{client: client, registry: registry, logger: logger}
}

// Generate produces the response for the query.
func (r *Responder) Generate(ctx context.Context, query string, intent IntentResult,
	qc QueryContext, outcome SearchOutcome, kn KnowledgeContext) GeneratedResponse {

	if r.client == nil || !r.client.Available() {
		return r.fallback(outcome, "model unavailable")
	}

	resp, err := r.generateWithModel(ctx, query, intent, qc, outcome, kn)
	if err != nil {
		if errors.Is(err, llm.ErrLLMAccess) {
			r.logger.Error("responder: model access denied, latched", "error", err)
		} else {
			r.logger.Warn("responder: generation failed", "error", err)
		}
		return r.fallback(outcome, err.Error())
	}
	if strings.TrimSpace(resp.Text) == "" || resp.Text == noResponseSentinel {
		return r.fallback(outcome, "empty model response")
	}
	return resp
}

func (r *Responder) generateWithModel(ctx context.Context, query string, intent IntentResult,
	qc QueryContext, outcome SearchOutcome, kn KnowledgeContext) (GeneratedResponse, error) {

	messages := historyMessages(qc.History)
	if block := contextBlock(outcome, kn); block != "" {
		messages = append(messages, llm.Message{Role: "user", Content: block + "\n\nQuestion: " + query})
	} else {
		messages = append(messages, llm.Message{Role: "user", Content: query})
	}

	req := llm.ChatRequest{
		System:    responderSystemPrompt,
		Messages:  messages,
		Tools:     r.registry.DefsForIntent(intent),
		MaxTokens: 1024,
	}

	var (
		toolsUsed   []Tool
		toolResults []map[string]any
		tokens      int
		model       string
	)

	resp, err := r.client.Chat(ctx, req)
	if err != nil {
		return GeneratedResponse{}, err
	}
	tokens += resp.OutputTokens
	model = resp.Model

	// Bounded tool loop: execute requested calls, replay results, ask again.
	for round := 0; round < maxToolRounds && len(resp.ToolCalls) > 0; round++ {
		req.Messages = append(req.Messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			tool := Tool(call.Name)
			result, execErr := r.registry.Execute(ctx, tool, call.ArgumentsMap())
			if execErr != nil {
				r.logger.Warn("responder: tool execution failed", "tool", tool, "error", execErr)
				result = map[string]any{"success": false, "error": execErr.Error()}
			}
			toolsUsed = append(toolsUsed, tool)
			toolResults = append(toolResults, result)

			raw, _ := json.Marshal(result)
			req.Messages = append(req.Messages, llm.Message{
				Role:       "tool",
				Content:    string(raw),
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}

		resp, err = r.client.Chat(ctx, req)
		if err != nil {
			return GeneratedResponse{}, err
		}
		tokens += resp.OutputTokens
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		text = noResponseSentinel
	}

	return GeneratedResponse{
		Text:        text,
		ToolsUsed:   dedupeTools(toolsUsed),
		ToolResults: toolResults,
		Model:       model,
		Tokens:      tokens,
		Confidence:  responseConfidence(text, len(toolsUsed) > 0),
	}, nil
}

// responseConfidence starts at 0.7, rewards grounding through tool use and
// penalizes hedging language, clamped to [0.1, 1.0].
func responseConfidence(text string, usedTools bool) float64 {
	confidence := 0.7
	if usedTools {
		confidence += 0.15
	}
	lower := strings.ToLower(text)
	for _, phrase := range hedgingPhrases {
		if strings.Contains(lower, phrase) {
			confidence -= 0.2
			break
		}
	}
	if confidence < 0.1 {
		confidence = 0.1
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return round3(confidence)
}

// fallback builds the deterministic template answer from search results.
func (r *Responder) fallback(outcome SearchOutcome, reason string) GeneratedResponse {
	r.logger.Info("responder: using template fallback", "reason", reason)
	return GeneratedResponse{
		Text:       templateAnswer(outcome),
		Model:      "template",
		Confidence: 0.5,
	}
}

// templateAnswer renders search results without the model. Shared by the
// responder's degradation path and the enforcer's rejection replacement.
func templateAnswer(outcome SearchOutcome) string {
	switch {
	case outcome.StateNotAvailable != nil:
		return outcome.StateNotAvailable.Suggestion()
	case outcome.Total > 0:
		var b strings.Builder
		fmt.Fprintf(&b, "Found %d customer(s):\n", outcome.Total)
		shown := outcome.Records
		if len(shown) > maxContextRecs {
			shown = shown[:maxContextRecs]
		}
		for _, rec := range shown {
			fmt.Fprintf(&b, "- %s (%s): %s, %s %s, moves: %d\n",
				rec.Name, rec.CRID, rec.Address.City, rec.Address.State, rec.Address.Zip, rec.MoveCount)
		}
		if outcome.Total > len(shown) {
			fmt.Fprintf(&b, "... and %d more\n", outcome.Total-len(shown))
		}
		return strings.TrimRight(b.String(), "\n")
	default:
		return unavailableMessage
	}
}

// historyMessages converts the recent conversation into model turns.
// Only plain text turns are replayed; tool traffic from earlier exchanges
// would confuse providers that validate call/result pairing.
func historyMessages(history []session.Message) []llm.Message {
	start := 0
	if len(history) > maxHistoryTurns {
		start = len(history) - maxHistoryTurns
	}
	var out []llm.Message
	for _, msg := range history[start:] {
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		out = append(out, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return out
}

// contextBlock renders search results and documentation chunks into the
// grounding preamble for the user turn. Empty when there is nothing to
// ground on.
func contextBlock(outcome SearchOutcome, kn KnowledgeContext) string {
	var b strings.Builder

	if outcome.StateNotAvailable != nil {
		b.WriteString("SEARCH NOTE:\n")
		b.WriteString(outcome.StateNotAvailable.Suggestion())
		b.WriteString("\n")
	} else if len(outcome.Records) > 0 {
		b.WriteString("CUSTOMER DATA:\n")
		shown := outcome.Records
		if len(shown) > maxContextRecs {
			shown = shown[:maxContextRecs]
		}
		for _, rec := range shown {
			fmt.Fprintf(&b, "- %s (%s): %s, %s %s, moves: %d, tags: %s\n",
				rec.Name, rec.CRID, rec.Address.City, rec.Address.State, rec.Address.Zip,
				rec.MoveCount, strings.Join(rec.Tags, ", "))
		}
		if outcome.Total > len(shown) {
			fmt.Fprintf(&b, "... and %d more\n", outcome.Total-len(shown))
		}
	}

	if len(kn.Chunks) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("RELEVANT DOCUMENTATION:\n")
		chunks := kn.Chunks
		if len(chunks) > maxContextChunks {
			chunks = chunks[:maxContextChunks]
		}
		for _, c := range chunks {
			text := c.Text
			if len(text) > chunkExcerptLen {
				text = text[:chunkExcerptLen] + "..."
			}
			fmt.Fprintf(&b, "[%s] %s\n", c.Source, text)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// summary renders the generation for trace records.
func (gr GeneratedResponse) summary() string {
	return fmt.Sprintf("model=%s tools=%d tokens=%d conf=%.3f",
		gr.Model, len(gr.ToolsUsed), gr.Tokens, gr.Confidence)
}
