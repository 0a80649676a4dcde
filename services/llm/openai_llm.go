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
// OpenAI Wire Types
// =============================================================================

const defaultOpenAIBaseURL = "https://api.openai.com/v1/chat/completions"

type openaiRequest struct {
	Model               string          `json:"model"`
	Messages            []openaiMessage `json:"messages"`
	Temperature         *float32        `json:"temperature,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	Tools               []openaiTool    `json:"tools,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	CompletionTokens int `json:"completion_tokens"`
}

type openaiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Tool-related wire types for OpenAI function calling.
type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiCallFunction `json:"function"`
}

type openaiCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// OpenAIClient implements Client against any OpenAI-compatible chat
// completions endpoint using raw net/http.
//
// Description:
//
//	Works with api.openai.com and with self-hosted compatible servers
//	(vLLM, Ollama's /v1 endpoint) by pointing baseURL at them. Supports
//	multi-turn conversations and function calling.
//
// Thread Safety: OpenAIClient is safe for concurrent use.
type OpenAIClient struct {
	availability

	httpClient *http.Client
	limiter    *rate.Limiter
	apiKey     string
	model      string
	baseURL    string
	logger     *slog.Logger
}

// NewOpenAIClient creates a client from environment variables.
//
// Description:
//
//	Reads OPENAI_API_KEY (or /run/secrets/openai_api_key) and
//	OPENAI_MODEL. Defaults to "gpt-4o-mini" if OPENAI_MODEL is not set.
//
// Outputs:
//   - *OpenAIClient: The configured client.
//   - error: Non-nil if no API key could be resolved.
func NewOpenAIClient(logger *slog.Logger) (*OpenAIClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	apiKey := loadAPIKey("OPENAI_API_KEY", "openai_api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is missing (OPENAI_API_KEY)")
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		logger.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	logger.Info("initializing OpenAI client", "model", model)
	return NewOpenAIClientWithConfig(apiKey, model, defaultOpenAIBaseURL, logger), nil
}

// NewOpenAIClientWithConfig creates a client with explicit configuration.
//
// Description:
//
//	Skips environment lookup entirely. Used by tests against httptest
//	servers and by deployments that load configuration elsewhere.
//
// Inputs:
//   - apiKey: The API key. May be empty for unauthenticated local servers.
//   - model: The model name.
//   - baseURL: Full URL of the chat completions endpoint.
//   - logger: Structured logger. Nil falls back to slog.Default().
func NewOpenAIClientWithConfig(apiKey, model, baseURL string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		// 10 requests/second burst 5 keeps a busy router under most
		// provider account limits without queueing indefinitely.
		limiter: rate.NewLimiter(rate.Limit(10), 5),
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		logger:  logger,
	}
}

// ModelID implements Client.
func (o *OpenAIClient) ModelID() string { return o.model }

// Chat implements Client.Chat against the chat completions API.
//
// Description:
//
//	Converts the generic request to OpenAI wire format, waits on the rate
//	limiter, sends one HTTP request, and parses text plus tool calls from
//	the first choice. Authorization failures latch the client unavailable.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - req: Conversation, system prompt, tools, and parameters.
//
// Outputs:
//   - *ChatResponse: Content and/or tool calls.
//   - error: ErrLLMUnavailable if latched, ErrLLMAccess-wrapped on 401/403,
//     plain error otherwise.
//
// Thread Safety: This method is safe for concurrent use.
func (o *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if !o.Available() {
		return nil, ErrLLMUnavailable
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("openai: rate limiter wait: %w", err)
	}

	o.logger.Debug("chat via OpenAI",
		slog.String("model", o.model),
		slog.Int("messages", len(req.Messages)),
		slog.Int("tools", len(req.Tools)),
	)

	oaiMessages := make([]openaiMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		oaiMessages = append(oaiMessages, openaiMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		oaiMsg := openaiMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == "tool" && msg.ToolCallID != "" {
			oaiMsg.ToolCallID = msg.ToolCallID
		}
		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openaiToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openaiCallFunction{
						Name:      tc.Name,
						Arguments: tc.ArgumentsString(),
					},
				})
			}
		}
		oaiMessages = append(oaiMessages, oaiMsg)
	}

	oaiTools := make([]openaiTool, 0, len(req.Tools))
	for _, td := range req.Tools {
		oaiTools = append(oaiTools, openaiTool{
			Type: "function",
			Function: openaiFunction{
				Name:        td.Function.Name,
				Description: td.Function.Description,
				Parameters:  td.Function.Parameters,
			},
		})
	}

	reqPayload := openaiRequest{
		Model:    o.model,
		Messages: oaiMessages,
		Tools:    oaiTools,
	}
	if req.Temperature != nil {
		reqPayload.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		reqPayload.MaxCompletionTokens = &req.MaxTokens
	}

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.baseURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("openai: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, o.latchIfAccess(classifyStatus("openai", resp.StatusCode, string(bodyBytes)))
	}

	var apiResp openaiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("openai: parsing response JSON: %w", err)
	}

	if apiResp.Error != nil {
		return nil, fmt.Errorf("openai: API error: %s - %s", apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}

	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("openai: returned no choices")
	}

	choice := apiResp.Choices[0]
	result := &ChatResponse{
		Content:      choice.Message.Content,
		Model:        apiResp.Model,
		OutputTokens: apiResp.Usage.CompletionTokens,
	}
	if result.Model == "" {
		result.Model = o.model
	}

	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	if len(result.ToolCalls) > 0 {
		result.StopReason = "tool_use"
	} else {
		result.StopReason = "end"
	}

	o.logger.Debug("received OpenAI chat response",
		slog.String("finish_reason", choice.FinishReason),
		slog.Int("response_len", len(result.Content)),
		slog.Int("tool_calls", len(result.ToolCalls)),
	)

	return result, nil
}
