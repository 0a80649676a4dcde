// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"testing"

	"github.com/arcadian-ai/concierge/services/assistant/config"
)

func testRouteIndex(t *testing.T, threshold float64) *RouteIndex {
	t.Helper()
	cfg, err := config.GetRouteConfig()
	if err != nil {
		t.Fatalf("load route config: %v", err)
	}
	idx, err := NewRouteIndex(cfg, threshold)
	if err != nil {
		t.Fatalf("build route index: %v", err)
	}
	return idx
}

func TestRouteIndex_ForcedMapping(t *testing.T) {
	idx := testRouteIndex(t, 0)
	for _, query := range []string{"crid 42", "look up CRID-000042", "tell me about crid-7"} {
		d := idx.Route(query)
		if d == nil {
			t.Errorf("Route(%q) = nil, want forced lookup_crid", query)
			continue
		}
		if d.Tool != "lookup_crid" || !d.Forced || d.Confidence != 1.0 {
			t.Errorf("Route(%q) = %+v", query, d)
		}
	}
}

func TestRouteIndex_RanksExemplarPhrases(t *testing.T) {
	idx := testRouteIndex(t, 0.3)
	cases := map[string]string{
		"how many customers per state": "get_stats",
		"verify this address":          "verify_address",
	}
	for query, tool := range cases {
		d := idx.Route(query)
		if d == nil {
			t.Errorf("Route(%q) = nil, want %s", query, tool)
			continue
		}
		if d.Tool != tool {
			t.Errorf("Route(%q) = %s (%.3f), want %s", query, d.Tool, d.Confidence, tool)
		}
		if d.Forced {
			t.Errorf("Route(%q) should not be forced", query)
		}
	}
}

func TestRouteIndex_LowCoverageRejected(t *testing.T) {
	idx := testRouteIndex(t, 0.5)
	// Terms almost entirely outside the route corpus must fall through to
	// the full pipeline.
	for _, query := range []string{
		"why did quarterly churn spike in the southwest region",
		"xylophone zeppelin quandary",
	} {
		if d := idx.Route(query); d != nil {
			t.Errorf("Route(%q) = %+v, want nil (below threshold)", query, d)
		}
	}
}

func TestRouteIndex_EmptyQuery(t *testing.T) {
	idx := testRouteIndex(t, 0)
	if d := idx.Route(""); d != nil {
		t.Errorf("Route(\"\") = %+v, want nil", d)
	}
	if d := idx.Route("a ! ?"); d != nil {
		t.Errorf("short-token query = %+v, want nil", d)
	}
}

func TestRouteIndex_ConfidenceBounds(t *testing.T) {
	idx := testRouteIndex(t, 0.1)
	d := idx.Route("search for customers by name")
	if d == nil {
		t.Fatal("expected a route")
	}
	if d.Confidence <= 0 || d.Confidence > 1 {
		t.Errorf("confidence %.3f out of (0, 1]", d.Confidence)
	}
}

func TestNewRouteIndex_RejectsBadForcedPattern(t *testing.T) {
	bad := &config.RouteConfig{
		ForcedMappings: []config.ForcedMapping{{Tool: "x", Patterns: []string{"["}}},
		Routes:         []config.RouteSpec{{Tool: "x", Phrases: []string{"y z"}}},
	}
	if _, err := NewRouteIndex(bad, 0); err == nil {
		t.Error("expected compile error for invalid forced pattern")
	}
}
