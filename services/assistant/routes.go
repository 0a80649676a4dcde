// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assistant

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all assistant routes with the router.
//
// Description:
//
//	Registers all /v1/assistant/* endpoints with the given Gin router
//	group. The group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Query Endpoints:
//
//	POST /v1/assistant/query - Route a user query
//	GET  /v1/assistant/autocomplete - Prefix completions for name/city
//	GET  /v1/assistant/sessions/:id - Retrieve conversation history
//
// Operational Endpoints:
//
//	GET  /v1/assistant/health - Liveness
//	GET  /v1/assistant/ready - Readiness (data loaded)
//	GET  /v1/assistant/stats - Data, index, cache, and model counters
//	POST /v1/assistant/cache/clear - Drop all cached responses
//	POST /v1/assistant/reload - Force data reload and index rebuild
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	assistant := rg.Group("/assistant")
	{
		assistant.POST("/query", handlers.HandleQuery)
		assistant.GET("/autocomplete", handlers.HandleAutocomplete)
		assistant.GET("/sessions/:id", handlers.HandleSession)

		assistant.GET("/health", handlers.HandleHealth)
		assistant.GET("/ready", handlers.HandleReady)
		assistant.GET("/stats", handlers.HandleStats)
		assistant.POST("/cache/clear", handlers.HandleCacheClear)
		assistant.POST("/reload", handlers.HandleReload)
	}
}

// RegisterRoutesWithMiddleware registers assistant routes with an extra
// middleware applied to the whole group.
func RegisterRoutesWithMiddleware(rg *gin.RouterGroup, handlers *Handlers, middleware gin.HandlerFunc) {
	assistant := rg.Group("/assistant")
	if middleware != nil {
		assistant.Use(middleware)
	}
	{
		assistant.POST("/query", handlers.HandleQuery)
		assistant.GET("/autocomplete", handlers.HandleAutocomplete)
		assistant.GET("/sessions/:id", handlers.HandleSession)

		assistant.GET("/health", handlers.HandleHealth)
		assistant.GET("/ready", handlers.HandleReady)
		assistant.GET("/stats", handlers.HandleStats)
		assistant.POST("/cache/clear", handlers.HandleCacheClear)
		assistant.POST("/reload", handlers.HandleReload)
	}
}
