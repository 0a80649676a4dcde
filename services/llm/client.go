// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides provider-agnostic access to chat-completion models
// with tool calling. Providers are hand-rolled over net/http so the wire
// behavior is fully visible and testable against local mock servers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
)

// =============================================================================
// Errors
// =============================================================================

// ErrLLMAccess marks authorization failures (401/403) from a provider.
//
// Access errors are durable: the key is wrong or revoked, and retrying the
// same request will fail the same way. Clients latch themselves unavailable
// when they see one (see Client.Available) until Reset is called.
var ErrLLMAccess = errors.New("llm: access denied")

// ErrLLMUnavailable is returned by a client whose availability latch is set.
var ErrLLMUnavailable = errors.New("llm: client marked unavailable")

// classifyStatus wraps an HTTP error status into the right error class.
// 401 and 403 are access errors; everything else is transient.
func classifyStatus(provider string, status int, body string) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("%s: API returned status %d: %s: %w",
			provider, status, SafeLogString(body), ErrLLMAccess)
	}
	return fmt.Errorf("%s: API returned status %d: %s", provider, status, SafeLogString(body))
}

// =============================================================================
// Request / Response Types
// =============================================================================

// Message is one turn of a conversation sent to a provider.
//
// Regular turns use Role + Content. Assistant turns that requested tools
// carry ToolCalls; tool-result turns carry ToolCallID and ToolName so the
// provider can correlate the result with the request.
type Message struct {
	// Role is "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is the text content of the turn.
	Content string `json:"content,omitempty"`

	// ToolCalls holds tool invocations requested by an assistant turn.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-result turn back to the originating call.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolName is the tool that produced a tool-result turn.
	ToolName string `json:"tool_name,omitempty"`
}

// ChatRequest is the provider-agnostic input to Client.Chat.
type ChatRequest struct {
	// System is the system prompt. Empty means provider default behavior.
	System string

	// Messages is the ordered conversation history, most recent last.
	Messages []Message

	// Tools are the tool definitions offered to the model. May be empty.
	Tools []ToolDef

	// MaxTokens bounds the completion length. Zero means provider default.
	MaxTokens int

	// Temperature, when non-nil, overrides the provider default.
	Temperature *float32
}

// ChatResponse is the provider-agnostic output of Client.Chat.
type ChatResponse struct {
	// Content is the text of the assistant turn. May be empty when the
	// model responded only with tool calls.
	Content string

	// ToolCalls holds any tool invocations the model requested.
	ToolCalls []ToolCall

	// StopReason is "end" for normal completion or "tool_use" when tool
	// calls are present.
	StopReason string

	// Model is the model identifier that served the request.
	Model string

	// OutputTokens is the completion token count when the provider
	// reports it, else 0.
	OutputTokens int
}

// Client is the AI text-generation capability consumed by the pipeline.
//
// # Description
//
// One interface for every provider. Implementations must be safe for
// concurrent use and must honor context cancellation on Chat.
//
// Available reports the access latch: once a provider returns an
// authorization error the client marks itself unavailable and callers
// should fall back without retrying. Reset clears the latch after the
// operator fixes credentials.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ModelID() string
	Available() bool
	Reset()
}

// =============================================================================
// Availability Latch
// =============================================================================

// availability is the shared access-error latch embedded by providers.
//
// Thread Safety: all methods are safe for concurrent use.
type availability struct {
	down atomic.Bool
}

func (a *availability) Available() bool { return !a.down.Load() }

func (a *availability) Reset() { a.down.Store(false) }

// latchIfAccess sets the latch when err is an access-class error and
// returns err unchanged for the caller to propagate.
func (a *availability) latchIfAccess(err error) error {
	if errors.Is(err, ErrLLMAccess) {
		a.down.Store(true)
	}
	return err
}

// =============================================================================
// Credential Loading
// =============================================================================

// loadAPIKey resolves a provider API key from the environment variable or,
// failing that, the conventional container secret file /run/secrets/<name>.
func loadAPIKey(envVar, secretName string) string {
	if key := strings.TrimSpace(os.Getenv(envVar)); key != "" {
		return key
	}
	data, err := os.ReadFile("/run/secrets/" + secretName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
