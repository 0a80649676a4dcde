// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config holds the assistant service configuration and the embedded
// rule files (guardrail patterns, route exemplars) that drive routing.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxYAMLFileSize bounds config/rule files to keep parsing cheap.
const MaxYAMLFileSize = 1 << 20 // 1 MiB

// Config is the top-level assistant service configuration.
//
// Description:
//
//	Loaded once at startup from an optional YAML file, with defaults for
//	every field so an empty file (or no file) yields a working local
//	configuration.
//
// Thread Safety: Immutable after Load; safe for concurrent use.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Cache     CacheConfig     `yaml:"cache"`
	Session   SessionConfig   `yaml:"session"`
	LLM       LLMConfig       `yaml:"llm"`
	Routing   RoutingConfig   `yaml:"routing"`
	Fuzzy     FuzzyConfig     `yaml:"fuzzy"`
	Quality   QualityConfig   `yaml:"quality"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr string `yaml:"addr" validate:"required"`
}

// DataConfig controls customer data loading and change detection.
type DataConfig struct {
	// Path is the customer data file (JSON or CSV by extension).
	Path string `yaml:"path"`

	// PollInterval is how often the watcher compares source metadata.
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=1s"`
}

// KnowledgeConfig controls documentation retrieval.
type KnowledgeConfig struct {
	// Dir holds knowledge documents (.md/.txt). Empty disables retrieval.
	Dir string `yaml:"dir"`

	// ChunkSize is the splitter chunk size in characters.
	ChunkSize int `yaml:"chunk_size" validate:"min=64"`

	// ChunkOverlap is the splitter overlap in characters.
	ChunkOverlap int `yaml:"chunk_overlap" validate:"min=0"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend" validate:"oneof=memory redis"`

	// TTL is how long cached responses live.
	TTL time.Duration `yaml:"ttl" validate:"min=1s"`

	// RedisAddr is required when Backend is "redis".
	RedisAddr string `yaml:"redis_addr"`
}

// SessionConfig controls conversation persistence.
type SessionConfig struct {
	// Backend is "memory" or "badger".
	Backend string `yaml:"backend" validate:"oneof=memory badger"`

	// Dir is the badger database directory when Backend is "badger".
	Dir string `yaml:"dir"`

	// TTL is how long idle sessions live in the badger backend.
	TTL time.Duration `yaml:"ttl" validate:"min=1m"`

	// MaxHistory bounds the messages returned per history fetch.
	MaxHistory int `yaml:"max_history" validate:"min=1,max=100"`
}

// LLMConfig controls the AI capability.
type LLMConfig struct {
	// Provider is "openai", "anthropic", or "none" (DB routes only).
	Provider string `yaml:"provider" validate:"oneof=openai anthropic none"`

	// MaxTokens bounds completion length per request.
	MaxTokens int `yaml:"max_tokens" validate:"min=1"`

	// Timeout bounds the GENERATE stage.
	Timeout time.Duration `yaml:"timeout" validate:"min=1s"`
}

// RoutingConfig tunes the outer routing policy.
type RoutingConfig struct {
	// RouteThreshold is the minimum semantic-route score for the
	// DATABASE route. Below it, queries go to the full pipeline.
	RouteThreshold float64 `yaml:"route_threshold" validate:"min=0,max=1"`

	// CacheEnabled toggles response caching entirely.
	CacheEnabled bool `yaml:"cache_enabled"`
}

// FuzzyConfig tunes fuzzy name matching. The defaults are heuristics
// carried from production traffic, exposed here rather than hard-coded.
type FuzzyConfig struct {
	// MinScore is the lowest similarity kept in fuzzy results.
	MinScore float64 `yaml:"min_score" validate:"min=0,max=1"`

	// OverlapThreshold is the character-overlap ratio below which
	// candidates are discarded outright.
	OverlapThreshold float64 `yaml:"overlap_threshold" validate:"min=0,max=1"`
}

// QualityConfig tunes response quality enforcement.
type QualityConfig struct {
	// MinConfidence is the CONFIDENCE_MET gate threshold.
	MinConfidence float64 `yaml:"min_confidence" validate:"min=0,max=1"`
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Data: DataConfig{
			PollInterval: 30 * time.Second,
		},
		Knowledge: KnowledgeConfig{
			ChunkSize:    512,
			ChunkOverlap: 64,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     5 * time.Minute,
		},
		Session: SessionConfig{
			Backend:    "memory",
			TTL:        24 * time.Hour,
			MaxHistory: 10,
		},
		LLM: LLMConfig{
			Provider:  "none",
			MaxTokens: 1024,
			Timeout:   30 * time.Second,
		},
		Routing: RoutingConfig{
			RouteThreshold: 0.5,
			CacheEnabled:   true,
		},
		Fuzzy: FuzzyConfig{
			MinScore:         0.4,
			OverlapThreshold: 0.6,
		},
		Quality: QualityConfig{
			MinConfidence: 0.6,
		},
	}
}

// Load reads a YAML config file over the defaults and validates the result.
//
// Description:
//
//	Missing file path returns the defaults unchanged. A present but
//	unreadable or invalid file is an error; silent fallback would hide
//	deployment mistakes.
//
// Inputs:
//   - path: YAML file path. Empty string means defaults only.
//
// Outputs:
//   - *Config: The validated configuration.
//   - error: Non-nil on read, parse, or validation failure.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if len(data) > MaxYAMLFileSize {
			return nil, fmt.Errorf("config: %s exceeds maximum size (%d > %d)", path, len(data), MaxYAMLFileSize)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: validation: %w", err)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("config: cache.redis_addr required for redis backend")
	}
	if c.Session.Backend == "badger" && c.Session.Dir == "" {
		return fmt.Errorf("config: session.dir required for badger backend")
	}
	if c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkSize {
		return fmt.Errorf("config: knowledge.chunk_overlap must be smaller than chunk_size")
	}
	return nil
}
