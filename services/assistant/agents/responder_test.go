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
	"strings"
	"testing"

	"github.com/arcadian-ai/concierge/services/assistant/session"
	"github.com/arcadian-ai/concierge/services/llm"
)

// =============================================================================
// Stub Client
// =============================================================================

// scriptedClient replays canned responses in order and records requests.
type scriptedClient struct {
	responses []*llm.ChatResponse
	errs      []error
	requests  []llm.ChatRequest
	calls     int
	down      bool
}

func (s *scriptedClient) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.requests = append(s.requests, req)
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		if s.errs[i] == llm.ErrLLMAccess {
			s.down = true
		}
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return &llm.ChatResponse{Content: "done", StopReason: "end", Model: "scripted"}, nil
}

func (s *scriptedClient) ModelID() string { return "scripted" }
func (s *scriptedClient) Available() bool { return !s.down }
func (s *scriptedClient) Reset()          { s.down = false }

func newTestResponder(t *testing.T, client llm.Client) *Responder {
	t.Helper()
	registry := NewRegistry(newTestManager(t), nil)
	return NewResponder(client, registry, nil)
}

func nvOutcome(t *testing.T) SearchOutcome {
	t.Helper()
	records := testRecords()[:3]
	return SearchOutcome{Strategy: StrategyExact, Records: records, Total: 3, Confidence: 0.9}
}

// =============================================================================
// Model Path Tests
// =============================================================================

func TestGenerate_PlainTextResponse(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		{Content: "There are 3 customers in Nevada.", StopReason: "end", Model: "scripted", OutputTokens: 12},
	}}
	r := newTestResponder(t, client)

	resp := r.Generate(context.Background(), "how many customers in NV",
		IntentResult{Primary: IntentStats}, QueryContext{}, nvOutcome(t), KnowledgeContext{})
	if resp.Text != "There are 3 customers in Nevada." {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Confidence != 0.7 {
		t.Errorf("Confidence = %.3f, want 0.7 (no tools, no hedging)", resp.Confidence)
	}
	if resp.Tokens != 12 {
		t.Errorf("Tokens = %d, want 12", resp.Tokens)
	}
}

func TestGenerate_ContextBlockIncluded(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		{Content: "ok", StopReason: "end", Model: "scripted"},
	}}
	r := newTestResponder(t, client)

	r.Generate(context.Background(), "who lives in Reno",
		IntentResult{Primary: IntentSearch}, QueryContext{}, nvOutcome(t), KnowledgeContext{})

	last := client.requests[0].Messages[len(client.requests[0].Messages)-1]
	if !strings.Contains(last.Content, "CUSTOMER DATA:") {
		t.Error("expected the customer data block in the final user turn")
	}
	if !strings.Contains(last.Content, "Jane Doe") {
		t.Error("expected record lines in the context block")
	}
}

func TestGenerate_ToolLoop(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"crid": "CRID-000042"})
	client := &scriptedClient{responses: []*llm.ChatResponse{
		{
			ToolCalls:  []llm.ToolCall{{ID: "c1", Name: "lookup_crid", Arguments: args}},
			StopReason: "tool_use", Model: "scripted", OutputTokens: 5,
		},
		{Content: "Jane Doe lives in Reno, NV.", StopReason: "end", Model: "scripted", OutputTokens: 9},
	}}
	r := newTestResponder(t, client)

	resp := r.Generate(context.Background(), "show me customer CRID-000042",
		IntentResult{Primary: IntentLookup, SuggestedTools: []Tool{ToolLookupCRID}},
		QueryContext{}, SearchOutcome{}, KnowledgeContext{})

	if resp.Text != "Jane Doe lives in Reno, NV." {
		t.Errorf("Text = %q", resp.Text)
	}
	if len(resp.ToolsUsed) != 1 || resp.ToolsUsed[0] != ToolLookupCRID {
		t.Errorf("ToolsUsed = %v", resp.ToolsUsed)
	}
	if resp.Confidence != 0.85 {
		t.Errorf("Confidence = %.3f, want 0.85 (tool bonus)", resp.Confidence)
	}
	if resp.Tokens != 14 {
		t.Errorf("Tokens = %d, want 14 across both calls", resp.Tokens)
	}

	// The second request must replay the tool result as a tool turn.
	second := client.requests[1]
	found := false
	for _, msg := range second.Messages {
		if msg.Role == "tool" && msg.ToolCallID == "c1" && strings.Contains(msg.Content, "CRID-000042") {
			found = true
		}
	}
	if !found {
		t.Error("expected a tool-result turn in the second request")
	}
}

func TestGenerate_HedgingPenalty(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		{Content: "I'm not sure about that customer.", StopReason: "end", Model: "scripted"},
	}}
	r := newTestResponder(t, client)

	resp := r.Generate(context.Background(), "who is customer 9",
		IntentResult{}, QueryContext{}, SearchOutcome{}, KnowledgeContext{})
	if resp.Confidence != 0.5 {
		t.Errorf("Confidence = %.3f, want 0.5 (hedging penalty)", resp.Confidence)
	}
}

// =============================================================================
// Fallback Tests
// =============================================================================

func TestGenerate_NilClientUsesTemplate(t *testing.T) {
	r := newTestResponder(t, nil)
	resp := r.Generate(context.Background(), "customers in NV",
		IntentResult{}, QueryContext{}, nvOutcome(t), KnowledgeContext{})

	if !strings.HasPrefix(resp.Text, "Found 3 customer(s):") {
		t.Errorf("Text = %q, want templated listing", resp.Text)
	}
	if !strings.Contains(resp.Text, "Jane Doe (CRID-000042)") {
		t.Errorf("Text = %q, want record lines", resp.Text)
	}
	if resp.Model != "template" {
		t.Errorf("Model = %q, want template", resp.Model)
	}
}

func TestGenerate_ErrorFallsBack(t *testing.T) {
	client := &scriptedClient{errs: []error{context.DeadlineExceeded}}
	r := newTestResponder(t, client)

	resp := r.Generate(context.Background(), "customers in NV",
		IntentResult{}, QueryContext{}, nvOutcome(t), KnowledgeContext{})
	if !strings.HasPrefix(resp.Text, "Found 3 customer(s):") {
		t.Errorf("Text = %q, want templated listing after error", resp.Text)
	}
}

func TestGenerate_NoResultsStaticMessage(t *testing.T) {
	r := newTestResponder(t, nil)
	resp := r.Generate(context.Background(), "customers in NV",
		IntentResult{}, QueryContext{}, SearchOutcome{}, KnowledgeContext{})
	if resp.Text != unavailableMessage {
		t.Errorf("Text = %q, want the static unavailable message", resp.Text)
	}
}

func TestGenerate_AccessErrorLatches(t *testing.T) {
	client := &scriptedClient{errs: []error{llm.ErrLLMAccess}}
	r := newTestResponder(t, client)

	r.Generate(context.Background(), "customers in NV",
		IntentResult{}, QueryContext{}, nvOutcome(t), KnowledgeContext{})
	if client.Available() {
		t.Fatal("expected the access error to latch the client unavailable")
	}

	// Subsequent calls skip the model entirely.
	resp := r.Generate(context.Background(), "customers in NV",
		IntentResult{}, QueryContext{}, nvOutcome(t), KnowledgeContext{})
	if client.calls != 1 {
		t.Errorf("calls = %d, want 1 (latched client not retried)", client.calls)
	}
	if !strings.HasPrefix(resp.Text, "Found 3 customer(s):") {
		t.Errorf("Text = %q, want templated listing", resp.Text)
	}
}

func TestGenerate_TruncatesHistory(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		{Content: "ok", StopReason: "end", Model: "scripted"},
	}}
	r := newTestResponder(t, client)

	qc := QueryContext{}
	for i := 0; i < 10; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		qc.History = append(qc.History, session.Message{Role: role, Content: "turn"})
	}

	r.Generate(context.Background(), "q", IntentResult{}, qc, SearchOutcome{}, KnowledgeContext{})
	// 6 history turns plus the current user turn.
	if got := len(client.requests[0].Messages); got != 7 {
		t.Errorf("messages = %d, want 7", got)
	}
}
