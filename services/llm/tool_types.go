// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import "encoding/json"

// ToolDef is the generic tool definition passed in ChatRequest.Tools for
// all providers. Follows the OpenAI function calling schema.
//
// Description:
//
//	Provides a provider-agnostic way to define tools. Each provider's
//	Chat method converts ToolDef into its wire format (Anthropic
//	input_schema, OpenAI function).
//
// Thread Safety: ToolDef is immutable and safe for concurrent read access.
type ToolDef struct {
	// Type is the tool type. Always "function" for function calling.
	Type string `json:"type"`

	// Function contains the function definition.
	Function ToolFunction `json:"function"`
}

// ToolFunction contains the function name, description, and parameter schema.
type ToolFunction struct {
	// Name is the function name the model will call.
	Name string `json:"name"`

	// Description explains what the function does.
	Description string `json:"description"`

	// Parameters defines the JSON Schema for function parameters.
	Parameters ToolParameters `json:"parameters"`
}

// ToolParameters defines the JSON Schema for tool parameters.
type ToolParameters struct {
	// Type is the JSON Schema type. Always "object" for tool parameters.
	Type string `json:"type"`

	// Properties maps parameter names to their definitions.
	Properties map[string]ToolParamDef `json:"properties,omitempty"`

	// Required lists parameter names that must be provided.
	Required []string `json:"required,omitempty"`
}

// ToolParamDef defines a single parameter in JSON Schema format.
type ToolParamDef struct {
	// Type is the JSON Schema type (string, integer, boolean, number).
	Type string `json:"type"`

	// Description explains what the parameter is for.
	Description string `json:"description,omitempty"`

	// Enum restricts values to a set of options.
	Enum []any `json:"enum,omitempty"`

	// Default is the default value if not provided.
	Default any `json:"default,omitempty"`
}

// NewToolDef builds a function ToolDef from a name, description, and
// parameter schema. Convenience for tool registries that declare many tools.
func NewToolDef(name, description string, params ToolParameters) ToolDef {
	if params.Type == "" {
		params.Type = "object"
	}
	return ToolDef{
		Type: "function",
		Function: ToolFunction{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
	}
}

// ToolCall represents a tool invocation requested by any provider.
//
// Description:
//
//	Provider-agnostic representation of a tool call. Each provider's Chat
//	method populates this from its native response format: Anthropic
//	tool_use content blocks, OpenAI tool_calls entries.
//
// Thread Safety: ToolCall is safe for concurrent read access.
type ToolCall struct {
	// ID is the unique identifier for this tool call, used to correlate
	// the tool-result turn.
	ID string `json:"id"`

	// Name is the function name to call.
	Name string `json:"name"`

	// Arguments is the raw JSON arguments for the function.
	Arguments json.RawMessage `json:"arguments"`
}

// ArgumentsString returns the arguments as a JSON string.
//
// Description:
//
//	If arguments is already a JSON string value (starts with quote),
//	it returns the unquoted string. If arguments is an object or other
//	JSON value, it returns the raw JSON as-is. Returns "{}" for nil/empty.
//
// Thread Safety: This method is safe for concurrent use.
func (t *ToolCall) ArgumentsString() string {
	if len(t.Arguments) == 0 {
		return "{}"
	}

	// A JSON string value starts with a quote.
	if t.Arguments[0] == '"' {
		var s string
		if err := json.Unmarshal(t.Arguments, &s); err == nil {
			return s
		}
	}

	return string(t.Arguments)
}

// ArgumentsMap decodes the arguments into a generic map for registry
// dispatch. Returns an empty map for nil/empty or undecodable arguments.
func (t *ToolCall) ArgumentsMap() map[string]any {
	out := make(map[string]any)
	if len(t.Arguments) == 0 {
		return out
	}
	if err := json.Unmarshal(t.Arguments, &out); err != nil {
		return map[string]any{}
	}
	return out
}
