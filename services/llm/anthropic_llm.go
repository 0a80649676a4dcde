// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// Anthropic Wire Types
// =============================================================================

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1/messages"
	anthropicVersion        = "2023-06-01"
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

// anthropicContentBlock is a tagged union: text, tool_use, or tool_result.
type anthropicContentBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema ToolParameters `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
	Error      *anthropicError         `json:"error,omitempty"`
}

type anthropicUsage struct {
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// AnthropicClient implements Client for the Anthropic Messages API using
// raw net/http.
//
// Thread Safety: AnthropicClient is safe for concurrent use.
type AnthropicClient struct {
	availability

	httpClient *http.Client
	limiter    *rate.Limiter
	apiKey     string
	model      string
	baseURL    string
	logger     *slog.Logger
}

// NewAnthropicClient creates a client from environment variables.
//
// Description:
//
//	Reads ANTHROPIC_API_KEY (or /run/secrets/anthropic_api_key) and
//	ANTHROPIC_MODEL. Defaults the model when unset.
//
// Outputs:
//   - *AnthropicClient: The configured client.
//   - error: Non-nil if no API key could be resolved.
func NewAnthropicClient(logger *slog.Logger) (*AnthropicClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	apiKey := loadAPIKey("ANTHROPIC_API_KEY", "anthropic_api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: API key is missing (ANTHROPIC_API_KEY)")
	}
	model := os.Getenv("ANTHROPIC_MODEL")
	if model == "" {
		model = "claude-3-5-haiku-latest"
		logger.Warn("ANTHROPIC_MODEL not set, using default", "model", model)
	}
	logger.Info("initializing Anthropic client", "model", model)
	return NewAnthropicClientWithConfig(apiKey, model, defaultAnthropicBaseURL, logger), nil
}

// NewAnthropicClientWithConfig creates a client with explicit configuration.
// Nil logger falls back to slog.Default().
func NewAnthropicClientWithConfig(apiKey, model, baseURL string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 5),
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// ModelID implements Client.
func (a *AnthropicClient) ModelID() string { return a.model }

// Chat implements Client.Chat against the Messages API.
//
// Description:
//
//	Converts the generic request into Anthropic content blocks. Tool
//	results become user turns carrying tool_result blocks; assistant
//	turns with tool calls become tool_use blocks. Authorization failures
//	latch the client unavailable.
//
// Thread Safety: This method is safe for concurrent use.
func (a *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if !a.Available() {
		return nil, ErrLLMUnavailable
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("anthropic: rate limiter wait: %w", err)
	}

	a.logger.Debug("chat via Anthropic",
		slog.String("model", a.model),
		slog.Int("messages", len(req.Messages)),
		slog.Int("tools", len(req.Tools)),
	)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	antMessages := make([]anthropicMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch {
		case msg.Role == "tool":
			antMessages = append(antMessages, anthropicMessage{
				Role: "user",
				Content: []anthropicContentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		case msg.Role == "assistant" && len(msg.ToolCalls) > 0:
			blocks := make([]anthropicContentBlock, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropicContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			antMessages = append(antMessages, anthropicMessage{Role: "assistant", Content: blocks})
		default:
			antMessages = append(antMessages, anthropicMessage{
				Role:    msg.Role,
				Content: []anthropicContentBlock{{Type: "text", Text: msg.Content}},
			})
		}
	}

	antTools := make([]anthropicTool, 0, len(req.Tools))
	for _, td := range req.Tools {
		antTools = append(antTools, anthropicTool{
			Name:        td.Function.Name,
			Description: td.Function.Description,
			InputSchema: td.Function.Parameters,
		})
	}

	reqPayload := anthropicRequest{
		Model:       a.model,
		System:      req.System,
		Messages:    antMessages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Tools:       antTools,
	}

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("anthropic: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, a.latchIfAccess(classifyStatus("anthropic", resp.StatusCode, string(bodyBytes)))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("anthropic: parsing response JSON: %w", err)
	}

	if apiResp.Error != nil {
		return nil, fmt.Errorf("anthropic: API error: %s - %s", apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}

	result := &ChatResponse{
		Model:        apiResp.Model,
		OutputTokens: apiResp.Usage.OutputTokens,
	}
	if result.Model == "" {
		result.Model = a.model
	}

	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			if result.Content != "" {
				result.Content += "\n"
			}
			result.Content += block.Text
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}

	if len(result.ToolCalls) > 0 {
		result.StopReason = "tool_use"
	} else {
		result.StopReason = "end"
	}

	a.logger.Debug("received Anthropic chat response",
		slog.String("stop_reason", apiResp.StopReason),
		slog.Int("response_len", len(result.Content)),
		slog.Int("tool_calls", len(result.ToolCalls)),
	)

	return result, nil
}
