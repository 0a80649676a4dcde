// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arcadian-ai/concierge/services/assistant/agents"
	"github.com/arcadian-ai/concierge/services/assistant/config"
	"github.com/arcadian-ai/concierge/services/assistant/datasource"
	"github.com/arcadian-ai/concierge/services/assistant/knowledge"
	"github.com/arcadian-ai/concierge/services/assistant/routing"
	"github.com/arcadian-ai/concierge/services/assistant/session"
	"github.com/arcadian-ai/concierge/services/llm"
)

// ServiceDeps are the Service's externally-owned collaborators. The
// caller constructs (and later closes) stores and clients; the Service
// wires the routing policy on top of them.
type ServiceDeps struct {
	// Config tunes routing thresholds and history bounds. Nil uses
	// config.Default().
	Config *config.Config

	// Data is required. Everything else is optional.
	Data *datasource.Manager

	Knowledge *knowledge.Store
	Sessions  session.Store
	Cache     routing.ResponseCache

	// Client is the AI capability. Nil or unavailable clients degrade to
	// database routes and templated pipeline answers.
	Client llm.Client

	Logger *slog.Logger
}

// Service owns the assistant's routing policy and backing components.
//
// # Thread Safety
//
// Safe for concurrent use after construction.
type Service struct {
	cfg       *config.Config
	logger    *slog.Logger
	data      *datasource.Manager
	knowledge *knowledge.Store
	sessions  session.Store
	cache     routing.ResponseCache
	client    llm.Client
	router    *Router
}

// NewService wires guardrails, the route index, the tool registry, the
// agent pipeline, and the outer router from embedded rule files and the
// given dependencies.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Data == nil {
		return nil, fmt.Errorf("assistant: data manager is required")
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = session.NewMemoryStore(cfg.Session.TTL)
	}

	guardrailCfg, err := config.GetGuardrailConfig()
	if err != nil {
		return nil, err
	}
	guardrails, err := routing.NewGuardrails(guardrailCfg)
	if err != nil {
		return nil, err
	}

	routeCfg, err := config.GetRouteConfig()
	if err != nil {
		return nil, err
	}
	index, err := routing.NewRouteIndex(routeCfg, cfg.Routing.RouteThreshold)
	if err != nil {
		return nil, err
	}

	cache := deps.Cache
	if !cfg.Routing.CacheEnabled {
		cache = nil
	}
	// Stale answers must not survive a data swap.
	if cache != nil {
		deps.Data.OnSwap(func() {
			if err := cache.Clear(context.Background()); err != nil {
				logger.Warn("cache clear on data swap failed", "error", err)
			}
		})
	}

	registry := agents.NewRegistry(deps.Data, deps.Knowledge)
	orchestrator := agents.NewOrchestrator(deps.Client, deps.Data, deps.Knowledge, sessions, logger)
	orchestrator.SetGenerateTimeout(cfg.LLM.Timeout)

	router := NewRouter(RouterDeps{
		Guardrails:   guardrails,
		Index:        index,
		Cache:        cache,
		Registry:     registry,
		Orchestrator: orchestrator,
		Responder:    agents.NewResponder(deps.Client, registry, logger),
		Sessions:     sessions,
		Logger:       logger,
		MaxHistory:   cfg.Session.MaxHistory,
	})

	return &Service{
		cfg:       cfg,
		logger:    logger,
		data:      deps.Data,
		knowledge: deps.Knowledge,
		sessions:  sessions,
		cache:     cache,
		client:    deps.Client,
		router:    router,
	}, nil
}

// Query routes one query through the outer policy.
func (s *Service) Query(ctx context.Context, req Request) Result {
	return s.router.Route(ctx, req)
}

// Ready reports whether data is loaded and the service can answer.
func (s *Service) Ready() bool {
	return s.data.Stats().Records > 0
}

// Reload forces a data reload and index rebuild. The response cache is
// cleared by the swap hook.
func (s *Service) Reload(ctx context.Context) error {
	return s.data.Rebuild(ctx)
}

// Autocomplete returns prefix completions from the current index.
func (s *Service) Autocomplete(field, prefix string, limit int) []datasource.Suggestion {
	return s.data.Autocomplete(field, prefix, limit)
}

// Session returns the stored conversation for id.
func (s *Service) Session(ctx context.Context, id string) (*session.Session, error) {
	return s.sessions.Get(ctx, id)
}

// ClearCache drops all cached responses. No-op without a cache.
func (s *Service) ClearCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear(ctx)
}

// ServiceStats is the operational snapshot served by /stats.
type ServiceStats struct {
	Data      datasource.Stats        `json:"data"`
	Index     datasource.ManagerStats `json:"index"`
	Cache     *routing.CacheStats     `json:"cache,omitempty"`
	Knowledge int                     `json:"knowledge_chunks"`
	LLM       string                  `json:"llm_model,omitempty"`
}

// Stats aggregates data, index, cache, and model state.
func (s *Service) Stats(ctx context.Context) ServiceStats {
	stats := ServiceStats{
		Data:  s.data.DataStats(),
		Index: s.data.Stats(),
	}
	if s.cache != nil {
		cs := s.cache.Stats(ctx)
		stats.Cache = &cs
	}
	if s.knowledge != nil {
		stats.Knowledge = s.knowledge.Len()
	}
	if s.client != nil && s.client.Available() {
		stats.LLM = s.client.ModelID()
	}
	return stats
}
