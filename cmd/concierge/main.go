// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command concierge starts the customer data assistant API server.
//
// Concierge routes customer queries through guardrails, a response cache,
// and a semantic route index; simple queries execute deterministic
// database tools, everything else runs the 8-stage agent pipeline.
//
// Usage:
//
//	go run ./cmd/concierge -data ./customers.json
//	go run ./cmd/concierge -data ./customers.csv -knowledge ./docs -addr :9090
//
// With a model (full pipeline answers):
//
//	OPENAI_API_KEY=sk-... go run ./cmd/concierge -data ./customers.json
//	ANTHROPIC_API_KEY=sk-ant-... CONCIERGE_LLM_PROVIDER=anthropic go run ./cmd/concierge -data ./customers.json
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/assistant/health
//
//	# Route a query
//	curl -X POST http://localhost:8080/v1/assistant/query \
//	  -H "Content-Type: application/json" \
//	  -d '{"query": "customers in NV with 3+ moves"}'
//
//	# Autocomplete
//	curl 'http://localhost:8080/v1/assistant/autocomplete?field=name&prefix=jan'
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/arcadian-ai/concierge/services/assistant"
	"github.com/arcadian-ai/concierge/services/assistant/config"
	"github.com/arcadian-ai/concierge/services/assistant/datasource"
	"github.com/arcadian-ai/concierge/services/assistant/knowledge"
	"github.com/arcadian-ai/concierge/services/assistant/routing"
	"github.com/arcadian-ai/concierge/services/assistant/session"
	"github.com/arcadian-ai/concierge/services/llm"
)

func main() {
	addr := flag.String("addr", "", "Listen address (overrides config)")
	configPath := flag.String("config", "", "YAML config file")
	dataPath := flag.String("data", "", "Customer data file, .json or .csv (overrides config)")
	knowledgeDir := flag.String("knowledge", "", "Knowledge documents directory (overrides config)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	debug := flag.Bool("debug", false, "Enable Gin debug mode and request logging")
	flag.Parse()

	// Best effort; a missing .env is the common case.
	_ = godotenv.Load()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dataPath != "" {
		cfg.Data.Path = *dataPath
	}
	if *knowledgeDir != "" {
		cfg.Knowledge.Dir = *knowledgeDir
	}
	if cfg.Data.Path == "" {
		logger.Error("no data file configured (use -data or data.path)")
		os.Exit(1)
	}

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := datasource.Open(cfg.Data.Path)
	if err != nil {
		logger.Error("opening data source", "path", cfg.Data.Path, "error", err)
		os.Exit(1)
	}
	manager := datasource.NewManager(source, datasource.FuzzyOptions{
		MinScore:         cfg.Fuzzy.MinScore,
		OverlapThreshold: cfg.Fuzzy.OverlapThreshold,
	}, logger)
	if err := manager.Rebuild(ctx); err != nil {
		logger.Error("initial data load failed", "path", cfg.Data.Path, "error", err)
		os.Exit(1)
	}
	logger.Info("data loaded", "path", cfg.Data.Path, "records", manager.Stats().Records)

	var kn *knowledge.Store
	if cfg.Knowledge.Dir != "" {
		kn = knowledge.NewStore(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap, logger)
		if err := kn.LoadDir(ctx, cfg.Knowledge.Dir); err != nil {
			logger.Warn("knowledge load failed, retrieval disabled", "dir", cfg.Knowledge.Dir, "error", err)
			kn = nil
		} else {
			logger.Info("knowledge loaded", "dir", cfg.Knowledge.Dir, "chunks", kn.Len())
		}
	}

	sessions := openSessionStore(cfg, logger)
	defer sessions.Close()

	cache := openCache(ctx, cfg, logger)
	if rc, ok := cache.(*routing.RedisCache); ok {
		defer rc.Close()
	}

	client := openLLMClient(cfg, logger)

	svc, err := assistant.NewService(assistant.ServiceDeps{
		Config:    cfg,
		Data:      manager,
		Knowledge: kn,
		Sessions:  sessions,
		Cache:     cache,
		Client:    client,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("service construction failed", "error", err)
		os.Exit(1)
	}

	watcher := datasource.NewWatcher(source, cfg.Data.PollInterval, func(meta datasource.SourceMeta) {
		logger.Info("data change detected", "path", meta.Path, "mod_time", meta.ModTime)
		if err := manager.Rebuild(context.Background()); err != nil {
			logger.Error("rebuild after change failed", "error", err)
		}
	}, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("watcher start failed, live reload disabled", "error", err)
	}
	defer watcher.Stop()

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("concierge"))
	if *debug {
		engine.Use(gin.Logger())
	}
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/v1")
	assistant.RegisterRoutes(v1, assistant.NewHandlers(svc, logger))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting concierge server", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// openSessionStore opens the configured backend, degrading to the memory
// store when badger cannot open its directory.
func openSessionStore(cfg *config.Config, logger *slog.Logger) session.Store {
	if cfg.Session.Backend == "badger" {
		store, err := session.NewBadgerStore(cfg.Session.Dir, cfg.Session.TTL, logger)
		if err == nil {
			logger.Info("badger session store opened", "dir", cfg.Session.Dir)
			return store
		}
		logger.Warn("badger unavailable, sessions are in-memory only", "dir", cfg.Session.Dir, "error", err)
	}
	return session.NewMemoryStore(cfg.Session.TTL)
}

// openCache opens the configured response cache backend, degrading to the
// in-process cache when redis is unreachable.
func openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) routing.ResponseCache {
	if !cfg.Routing.CacheEnabled {
		return nil
	}
	if cfg.Cache.Backend == "redis" {
		cache, err := routing.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.TTL)
		if err == nil {
			logger.Info("redis response cache connected", "addr", cfg.Cache.RedisAddr)
			return cache
		}
		logger.Warn("redis unavailable, caching in-process", "addr", cfg.Cache.RedisAddr, "error", err)
	}
	return routing.NewMemoryCache(cfg.Cache.TTL)
}

// openLLMClient builds the configured provider client. Provider "none" or
// a missing API key yields nil, which limits answers to database routes
// and templated pipeline output.
func openLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	provider := cfg.LLM.Provider
	if env := os.Getenv("CONCIERGE_LLM_PROVIDER"); env != "" {
		provider = env
	}
	switch provider {
	case "openai":
		client, err := llm.NewOpenAIClient(logger)
		if err != nil {
			logger.Warn("openai client unavailable", "error", err)
			return nil
		}
		return client
	case "anthropic":
		client, err := llm.NewAnthropicClient(logger)
		if err != nil {
			logger.Warn("anthropic client unavailable", "error", err)
			return nil
		}
		return client
	}
	return nil
}
