// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assistant

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arcadian-ai/concierge/services/assistant/session"
)

// ErrorResponse is the JSON error body for all assistant endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// QueryRequest is the POST /query body.
type QueryRequest struct {
	Query       string `json:"query" binding:"required,min=1,max=500"`
	SessionID   string `json:"session_id"`
	BypassCache bool   `json:"bypass_cache"`
}

// Handlers serves the assistant HTTP API.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandlers creates the handler set for a service.
func NewHandlers(svc *Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, logger: logger}
}

// HandleQuery handles POST /v1/assistant/query.
//
// Description:
//
//	Routes a user query through guardrails, the response cache, the
//	semantic route index, and either a deterministic database tool or
//	the full agent pipeline.
//
// Request Body:
//
//	query: User text, 1-500 characters (required)
//	session_id: Conversation to continue (optional)
//	bypass_cache: Skip cache read and write (optional)
//
// Response:
//
//	200 OK: Result
//	400 Bad Request: Missing or oversized query
//
// Thread Safety: Safe for concurrent use.
func (h *Handlers) HandleQuery(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleQuery")

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "query is required and must be 1-500 characters",
			Code:  "INVALID_QUERY",
		})
		return
	}

	result := h.svc.Query(c.Request.Context(), Request{
		Query:       req.Query,
		SessionID:   req.SessionID,
		BypassCache: req.BypassCache,
	})
	logger.Info("query routed",
		"route", result.Route, "cached", result.Cached, "blocked", result.Blocked,
		"latency_ms", result.LatencyMS)
	c.JSON(http.StatusOK, result)
}

// HandleHealth handles GET /v1/assistant/health. Liveness only.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady handles GET /v1/assistant/ready.
//
// Response:
//
//	200 OK: Data is loaded and queries can be answered.
//	503 Service Unavailable: No data generation is live yet.
func (h *Handlers) HandleReady(c *gin.Context) {
	if !h.svc.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "loading"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// HandleStats handles GET /v1/assistant/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Stats(c.Request.Context()))
}

// HandleAutocomplete handles GET /v1/assistant/autocomplete.
//
// Query Parameters:
//
//	field: "name" or "city" (required)
//	prefix: Completion prefix (required)
//	limit: Maximum suggestions, default 10 (optional)
func (h *Handlers) HandleAutocomplete(c *gin.Context) {
	field := c.Query("field")
	prefix := c.Query("prefix")
	if field == "" || prefix == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "field and prefix parameters are required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	suggestions := h.svc.Autocomplete(field, prefix, limit)
	c.JSON(http.StatusOK, gin.H{"field": field, "prefix": prefix, "suggestions": suggestions})
}

// HandleSession handles GET /v1/assistant/sessions/:id.
func (h *Handlers) HandleSession(c *gin.Context) {
	id := c.Param("id")
	s, err := h.svc.Session(c.Request.Context(), id)
	if errors.Is(err, session.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "session not found",
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}
	if err != nil {
		h.logger.Error("session fetch failed", "session_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "session fetch failed",
			Code:  "SESSION_FETCH_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, s)
}

// HandleCacheClear handles POST /v1/assistant/cache/clear.
func (h *Handlers) HandleCacheClear(c *gin.Context) {
	if err := h.svc.ClearCache(c.Request.Context()); err != nil {
		h.logger.Error("cache clear failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "cache clear failed",
			Code:  "CACHE_CLEAR_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// HandleReload handles POST /v1/assistant/reload.
//
// Description:
//
//	Forces a data reload and index rebuild. The response cache is
//	cleared when the new generation swaps in.
func (h *Handlers) HandleReload(c *gin.Context) {
	if err := h.svc.Reload(c.Request.Context()); err != nil {
		h.logger.Error("reload failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "data reload failed",
			Code:  "RELOAD_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded", "records": h.svc.Stats(c.Request.Context()).Index.Records})
}

// getOrCreateRequestID returns the inbound X-Request-ID or mints one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}
