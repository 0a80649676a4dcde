// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*gin.Engine, *testHarness) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := newTestHarness(t, nil)
	engine := gin.New()
	RegisterRoutes(engine.Group("/v1"), NewHandlers(h.svc, nil))
	return engine, h
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Query Endpoint Tests
// =============================================================================

func TestHandleQuery_ValidatesBody(t *testing.T) {
	engine, _ := newTestEngine(t)

	for name, body := range map[string]any{
		"empty body":    map[string]any{},
		"blank query":   map[string]any{"query": ""},
		"oversized":     map[string]any{"query": strings.Repeat("x", 501)},
		"wrong type":    map[string]any{"query": 7},
		"missing field": map[string]any{"session_id": "s1"},
	} {
		w := doJSON(t, engine, http.MethodPost, "/v1/assistant/query", body)
		if !assert.Equal(t, http.StatusBadRequest, w.Code, name) {
			continue
		}
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), name)
		assert.Equal(t, "INVALID_QUERY", resp.Code, name)
	}
}

func TestHandleQuery_RoutesAndReturnsResult(t *testing.T) {
	engine, _ := newTestEngine(t)
	w := doJSON(t, engine, http.MethodPost, "/v1/assistant/query",
		map[string]any{"query": "crid 42", "session_id": "s1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, RouteDatabase, result.Route)
	assert.Equal(t, "lookup_crid", result.Tool)
	assert.Equal(t, "s1", result.SessionID)
	assert.True(t, strings.HasPrefix(result.Response, "Jane Doe (CRID-000042)"), result.Response)
}

func TestHandleQuery_BlockedQueryStillReturns200(t *testing.T) {
	engine, _ := newTestEngine(t)
	w := doJSON(t, engine, http.MethodPost, "/v1/assistant/query",
		map[string]any{"query": "what is my password"})
	require.Equal(t, http.StatusOK, w.Code)

	var result Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Blocked)
	assert.Equal(t, RouteBlocked, result.Route)
}

// =============================================================================
// Operational Endpoint Tests
// =============================================================================

func TestHandleHealthAndReady(t *testing.T) {
	engine, _ := newTestEngine(t)
	assert.Equal(t, http.StatusOK, doJSON(t, engine, http.MethodGet, "/v1/assistant/health", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(t, engine, http.MethodGet, "/v1/assistant/ready", nil).Code)
}

func TestHandleStats_ReportsCounters(t *testing.T) {
	engine, _ := newTestEngine(t)
	w := doJSON(t, engine, http.MethodGet, "/v1/assistant/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats ServiceStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 4, stats.Data.TotalRecords)
	assert.GreaterOrEqual(t, stats.Index.Rebuilds, 1)
	assert.NotNil(t, stats.Cache)
}

func TestHandleAutocomplete(t *testing.T) {
	engine, _ := newTestEngine(t)

	w := doJSON(t, engine, http.MethodGet, "/v1/assistant/autocomplete?field=name&prefix=jan", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Jane Doe")
	assert.Contains(t, body, "Janet Smythe")

	w = doJSON(t, engine, http.MethodGet, "/v1/assistant/autocomplete?field=name", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing prefix")
}

func TestHandleSession_LifeCycle(t *testing.T) {
	engine, _ := newTestEngine(t)

	w := doJSON(t, engine, http.MethodGet, "/v1/assistant/sessions/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	doJSON(t, engine, http.MethodPost, "/v1/assistant/query",
		map[string]any{"query": "crid 42", "session_id": "s-http"})

	w = doJSON(t, engine, http.MethodGet, "/v1/assistant/sessions/s-http", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "crid 42", "stored user turn")
}

func TestHandleCacheClear(t *testing.T) {
	engine, h := newTestEngine(t)
	doJSON(t, engine, http.MethodPost, "/v1/assistant/query", map[string]any{"query": "how many customers"})

	w := doJSON(t, engine, http.MethodPost, "/v1/assistant/cache/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, h.cache.Stats(context.Background()).Entries)
}

func TestHandleReload(t *testing.T) {
	engine, _ := newTestEngine(t)
	w := doJSON(t, engine, http.MethodPost, "/v1/assistant/reload", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"records":4`)
}
