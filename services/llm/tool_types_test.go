// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"encoding/json"
	"testing"
)

func TestToolCall_ArgumentsString_Object(t *testing.T) {
	tc := ToolCall{
		ID:        "call-1",
		Name:      "search_customers",
		Arguments: json.RawMessage(`{"state":"NV","limit":10}`),
	}
	if got := tc.ArgumentsString(); got != `{"state":"NV","limit":10}` {
		t.Errorf("ArgumentsString() = %q, want JSON object string", got)
	}
}

func TestToolCall_ArgumentsString_Empty(t *testing.T) {
	tc := ToolCall{ID: "call-2", Name: "get_stats"}
	if got := tc.ArgumentsString(); got != "{}" {
		t.Errorf("ArgumentsString() = %q, want {}", got)
	}
}

func TestToolCall_ArgumentsString_QuotedJSONString(t *testing.T) {
	// Some providers double-encode arguments as a JSON string value.
	tc := ToolCall{
		ID:        "call-3",
		Name:      "lookup_crid",
		Arguments: json.RawMessage(`"{\"crid\":\"CRID-000042\"}"`),
	}
	if got := tc.ArgumentsString(); got != `{"crid":"CRID-000042"}` {
		t.Errorf("ArgumentsString() = %q, want unquoted object", got)
	}
}

func TestToolCall_ArgumentsMap(t *testing.T) {
	tc := ToolCall{
		Arguments: json.RawMessage(`{"state":"NV","limit":5}`),
	}
	args := tc.ArgumentsMap()
	if args["state"] != "NV" {
		t.Errorf("args[state] = %v, want NV", args["state"])
	}
	if args["limit"].(float64) != 5 {
		t.Errorf("args[limit] = %v, want 5", args["limit"])
	}
}

func TestToolCall_ArgumentsMap_Invalid(t *testing.T) {
	tc := ToolCall{Arguments: json.RawMessage(`not json`)}
	if args := tc.ArgumentsMap(); len(args) != 0 {
		t.Errorf("expected empty map for invalid JSON, got %v", args)
	}
}

func TestNewToolDef_DefaultsObjectType(t *testing.T) {
	td := NewToolDef("verify_address", "Verify a mailing address", ToolParameters{
		Properties: map[string]ToolParamDef{
			"crid": {Type: "string"},
		},
	})
	if td.Type != "function" {
		t.Errorf("Type = %q, want function", td.Type)
	}
	if td.Function.Parameters.Type != "object" {
		t.Errorf("Parameters.Type = %q, want object", td.Function.Parameters.Type)
	}
	if td.Function.Name != "verify_address" {
		t.Errorf("Name = %q", td.Function.Name)
	}
}
