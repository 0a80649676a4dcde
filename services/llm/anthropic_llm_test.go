// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicClient_Chat_TextResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q, want %q", got, "test-key")
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicVersion {
			t.Errorf("anthropic-version = %q, want %q", got, anthropicVersion)
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.System != "You help with customer data." {
			t.Errorf("System = %q", req.System)
		}
		if req.MaxTokens <= 0 {
			t.Error("max_tokens must default to a positive value")
		}

		resp := anthropicResponse{
			Model:      "claude-3-5-haiku-latest",
			Content:    []anthropicContentBlock{{Type: "text", Text: "Here is the answer."}},
			StopReason: "end_turn",
			Usage:      anthropicUsage{OutputTokens: 12},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("test-key", "claude-3-5-haiku-latest", server.URL, nil)

	result, err := client.Chat(context.Background(), ChatRequest{
		System:   "You help with customer data.",
		Messages: []Message{{Role: "user", Content: "Hello"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "Here is the answer." {
		t.Errorf("Content = %q", result.Content)
	}
	if result.StopReason != "end" {
		t.Errorf("StopReason = %q, want %q", result.StopReason, "end")
	}
	if result.OutputTokens != 12 {
		t.Errorf("OutputTokens = %d, want 12", result.OutputTokens)
	}
}

func TestAnthropicClient_Chat_ToolUseBlocks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if len(req.Tools) != 1 || req.Tools[0].Name != "get_stats" {
			t.Errorf("tools = %+v, want single get_stats", req.Tools)
		}

		resp := anthropicResponse{
			Content: []anthropicContentBlock{
				{Type: "text", Text: "Let me check."},
				{
					Type:  "tool_use",
					ID:    "toolu_01",
					Name:  "get_stats",
					Input: json.RawMessage(`{"group_by":"state"}`),
				},
			},
			StopReason: "tool_use",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("test-key", "claude-3-5-haiku-latest", server.URL, nil)

	result, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "How many customers per state?"}},
		Tools: []ToolDef{
			NewToolDef("get_stats", "Customer statistics", ToolParameters{}),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StopReason != "tool_use" {
		t.Errorf("StopReason = %q, want %q", result.StopReason, "tool_use")
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("len(ToolCalls) = %d, want 1", len(result.ToolCalls))
	}
	if result.ToolCalls[0].Name != "get_stats" {
		t.Errorf("ToolCalls[0].Name = %q", result.ToolCalls[0].Name)
	}
	if result.Content != "Let me check." {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestAnthropicClient_Chat_ToolResultConversion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		// The tool turn must become a user turn with a tool_result block.
		last := req.Messages[len(req.Messages)-1]
		if last.Role != "user" {
			t.Errorf("tool result role = %q, want %q", last.Role, "user")
		}
		if len(last.Content) != 1 || last.Content[0].Type != "tool_result" {
			t.Errorf("tool result content = %+v", last.Content)
		}
		if last.Content[0].ToolUseID != "toolu_01" {
			t.Errorf("tool_use_id = %q, want %q", last.Content[0].ToolUseID, "toolu_01")
		}

		resp := anthropicResponse{
			Content:    []anthropicContentBlock{{Type: "text", Text: "There are 42."}},
			StopReason: "end_turn",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("test-key", "claude-3-5-haiku-latest", server.URL, nil)

	messages := []Message{
		{Role: "user", Content: "How many customers in NV?"},
		{
			Role: "assistant",
			ToolCalls: []ToolCall{
				{ID: "toolu_01", Name: "get_stats", Arguments: json.RawMessage(`{"group_by":"state"}`)},
			},
		},
		{Role: "tool", Content: `{"NV":42}`, ToolCallID: "toolu_01"},
	}

	result, err := client.Chat(context.Background(), ChatRequest{Messages: messages})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "There are 42." {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestAnthropicClient_Chat_AccessErrorLatches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"type":"permission_error","message":"key disabled"}}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("bad-key", "claude-3-5-haiku-latest", server.URL, nil)

	_, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "Hi"}},
	})
	if !errors.Is(err, ErrLLMAccess) {
		t.Fatalf("expected ErrLLMAccess, got: %v", err)
	}
	if client.Available() {
		t.Error("client should be latched unavailable after 403")
	}
}
