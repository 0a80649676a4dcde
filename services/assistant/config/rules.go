// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Rule Files
// =============================================================================

//go:embed guardrail_rules.yaml
var defaultGuardrailRulesYAML []byte

//go:embed route_rules.yaml
var defaultRouteRulesYAML []byte

// =============================================================================
// Guardrail Rules
// =============================================================================

// GuardrailConfig holds the ordered blocked-pattern rules.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type GuardrailConfig struct {
	// Rules are evaluated in order; the first matching rule blocks.
	Rules []GuardrailRule `yaml:"rules"`
}

// GuardrailRule blocks queries matching any of its patterns.
type GuardrailRule struct {
	// Category names the rule class for metrics and logging.
	Category string `yaml:"category"`

	// Patterns are regex fragments matched case-insensitively.
	Patterns []string `yaml:"patterns"`

	// Message is the user-facing block response.
	Message string `yaml:"message"`
}

// =============================================================================
// Route Rules
// =============================================================================

// RouteConfig holds the semantic-router exemplar documents and forced
// mappings.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type RouteConfig struct {
	// ForcedMappings short-circuit ranking for unambiguous patterns.
	ForcedMappings []ForcedMapping `yaml:"forced_mappings"`

	// Routes are the deterministic-tool exemplar documents.
	Routes []RouteSpec `yaml:"routes"`
}

// ForcedMapping forces a tool when any pattern matches the query.
type ForcedMapping struct {
	// Patterns are regex fragments matched case-insensitively.
	Patterns []string `yaml:"patterns"`

	// Tool is the tool to force when a pattern matches.
	Tool string `yaml:"tool"`

	// Reason explains why this mapping exists (for logging).
	Reason string `yaml:"reason"`
}

// RouteSpec describes one deterministic tool route for ranking.
type RouteSpec struct {
	// Tool is the tool identifier.
	Tool string `yaml:"tool"`

	// Phrases are exemplar queries that should take this route.
	Phrases []string `yaml:"phrases"`

	// Description is free text added to the ranking document.
	Description string `yaml:"description"`
}

// =============================================================================
// Singleton Loaders
// =============================================================================

var (
	guardrailOnce    sync.Once
	cachedGuardrails *GuardrailConfig
	guardrailLoadErr error

	routeOnce      sync.Once
	cachedRoutes   *RouteConfig
	routeLoadErr   error
	singletonReset sync.Mutex
)

// GetGuardrailConfig returns the embedded guardrail rules, loaded once.
//
// Thread Safety: Safe for concurrent use via sync.Once.
func GetGuardrailConfig() (*GuardrailConfig, error) {
	guardrailOnce.Do(func() {
		cachedGuardrails, guardrailLoadErr = LoadGuardrailConfig(defaultGuardrailRulesYAML)
	})
	return cachedGuardrails, guardrailLoadErr
}

// GetRouteConfig returns the embedded route rules, loaded once.
//
// Thread Safety: Safe for concurrent use via sync.Once.
func GetRouteConfig() (*RouteConfig, error) {
	routeOnce.Do(func() {
		cachedRoutes, routeLoadErr = LoadRouteConfig(defaultRouteRulesYAML)
	})
	return cachedRoutes, routeLoadErr
}

// ResetRuleConfigs clears the cached rule configs so tests can reload.
//
// Thread Safety: Safe for concurrent use, but intended for test setup only.
func ResetRuleConfigs() {
	singletonReset.Lock()
	defer singletonReset.Unlock()
	guardrailOnce = sync.Once{}
	cachedGuardrails = nil
	guardrailLoadErr = nil
	routeOnce = sync.Once{}
	cachedRoutes = nil
	routeLoadErr = nil
}

// LoadGuardrailConfig parses and validates guardrail rules from YAML bytes.
func LoadGuardrailConfig(data []byte) (*GuardrailConfig, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("LoadGuardrailConfig: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadGuardrailConfig: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var cfg GuardrailConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("LoadGuardrailConfig: parsing YAML: %w", err)
	}

	for i, rule := range cfg.Rules {
		if rule.Category == "" {
			return nil, fmt.Errorf("guardrail rule[%d]: category must not be empty", i)
		}
		if len(rule.Patterns) == 0 {
			return nil, fmt.Errorf("guardrail rule[%d] (%s): patterns must not be empty", i, rule.Category)
		}
		if rule.Message == "" {
			return nil, fmt.Errorf("guardrail rule[%d] (%s): message must not be empty", i, rule.Category)
		}
	}

	slog.Info("guardrail rules loaded", slog.Int("rules", len(cfg.Rules)))
	return &cfg, nil
}

// LoadRouteConfig parses and validates route rules from YAML bytes.
func LoadRouteConfig(data []byte) (*RouteConfig, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("LoadRouteConfig: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadRouteConfig: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var cfg RouteConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("LoadRouteConfig: parsing YAML: %w", err)
	}

	if len(cfg.Routes) == 0 {
		return nil, fmt.Errorf("LoadRouteConfig: routes must not be empty")
	}
	for i, r := range cfg.Routes {
		if r.Tool == "" {
			return nil, fmt.Errorf("route[%d]: tool must not be empty", i)
		}
		if len(r.Phrases) == 0 {
			return nil, fmt.Errorf("route[%d] (%s): phrases must not be empty", i, r.Tool)
		}
	}
	for i, fm := range cfg.ForcedMappings {
		if fm.Tool == "" {
			return nil, fmt.Errorf("forced_mapping[%d]: tool must not be empty", i)
		}
		if len(fm.Patterns) == 0 {
			return nil, fmt.Errorf("forced_mapping[%d] (%s): patterns must not be empty", i, fm.Tool)
		}
	}

	slog.Info("route rules loaded",
		slog.Int("routes", len(cfg.Routes)),
		slog.Int("forced_mappings", len(cfg.ForcedMappings)),
	)
	return &cfg, nil
}
