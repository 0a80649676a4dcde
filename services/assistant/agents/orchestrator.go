// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/arcadian-ai/concierge/services/assistant/datasource"
	"github.com/arcadian-ai/concierge/services/assistant/knowledge"
	"github.com/arcadian-ai/concierge/services/assistant/session"
	"github.com/arcadian-ai/concierge/services/llm"
)

const pipelineTracerName = "concierge/agents"

// DefaultGenerateTimeout bounds the model call, the dominant latency and
// failure source of the pipeline.
const DefaultGenerateTimeout = 30 * time.Second

var stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "concierge",
	Subsystem: "agents",
	Name:      "stage_duration_seconds",
	Help:      "Pipeline stage execution time.",
	Buckets:   prometheus.DefBuckets,
}, []string{"stage"})

// Stage names as they appear in traces and metrics.
const (
	stageIntent    = "intent"
	stageContext   = "context"
	stageParse     = "parse"
	stageResolve   = "resolve"
	stageSearch    = "search"
	stageKnowledge = "knowledge"
	stageGenerate  = "generate"
	stageEnforce   = "enforce"
)

// Orchestrator sequences the eight pipeline stages.
//
// # Description
//
// INTENT -> CONTEXT -> PARSE -> RESOLVE -> {SEARCH, KNOWLEDGE} ->
// GENERATE -> ENFORCE. Search and knowledge retrieval run concurrently;
// generation waits on both. Every stage is recorded in the trace with its
// elapsed time. A stage failure never aborts the run: the stage is marked
// failed and the pipeline continues with that stage's zero output.
// Overall success is false only when intent classification itself failed.
//
// # Thread Safety
//
// Safe for concurrent use. All per-request state is stack-local.
type Orchestrator struct {
	classifier *Classifier
	extractor  *Extractor
	parser     *Parser
	resolver   *Resolver
	searcher   *Searcher
	retriever  *Retriever
	responder  *Responder
	enforcer   *Enforcer
	logger     *slog.Logger

	generateTimeout time.Duration
}

// NewOrchestrator wires the pipeline over its collaborators. client, kn
// and store may be nil; the affected stages degrade rather than fail.
func NewOrchestrator(client llm.Client, data *datasource.Manager, kn *knowledge.Store,
	store session.Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	registry := NewRegistry(data, kn)
	return &Orchestrator{
		classifier:      NewClassifier(),
		extractor:       NewExtractor(store, logger),
		parser:          NewParser(),
		resolver:        NewResolver(data, logger),
		searcher:        NewSearcher(data, logger),
		retriever:       NewRetriever(kn),
		responder:       NewResponder(client, registry, logger),
		enforcer:        NewEnforcer(logger),
		logger:          logger,
		generateTimeout: DefaultGenerateTimeout,
	}
}

// SetGenerateTimeout overrides the model-call budget. Zero or negative
// values are ignored.
func (o *Orchestrator) SetGenerateTimeout(d time.Duration) {
	if d > 0 {
		o.generateTimeout = d
	}
}

// Process runs the full pipeline for one query.
func (o *Orchestrator) Process(ctx context.Context, sessionID, query string) PipelineResult {
	ctx, span := otel.Tracer(pipelineTracerName).Start(ctx, "agents.Orchestrator.Process",
		oteltrace.WithAttributes(attribute.String("session_id", sessionID)),
	)
	defer span.End()

	trace := &PipelineTrace{Success: true}

	intent := runStage(ctx, trace, stageIntent, func(ctx context.Context) (IntentResult, string, error) {
		res := o.classifier.Classify(query)
		return res, res.summary(), nil
	})

	qc := runStage(ctx, trace, stageContext, func(ctx context.Context) (QueryContext, string, error) {
		res := o.extractor.Extract(ctx, sessionID, query)
		return res, res.summary(), nil
	})

	parsed := runStage(ctx, trace, stageParse, func(ctx context.Context) (ParsedQuery, string, error) {
		res := o.parser.Parse(query, intent, qc)
		return res, res.summary(), nil
	})

	resolved := runStage(ctx, trace, stageResolve, func(ctx context.Context) (ResolvedQuery, string, error) {
		res := o.resolver.Resolve(parsed, qc)
		return res, res.summary(), nil
	})

	// Search and knowledge retrieval are independent given the resolved
	// query. Their records are appended after both finish so trace order
	// stays deterministic.
	var (
		outcome      SearchOutcome
		kn           KnowledgeContext
		searchRec    StageRecord
		knowledgeRec StageRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		outcome, searchRec = timeStage(gctx, stageSearch, func(ctx context.Context) (SearchOutcome, string, error) {
			res := o.searcher.Execute(parsed, resolved)
			return res, res.summary(), nil
		})
		return nil
	})
	g.Go(func() error {
		kn, knowledgeRec = timeStage(gctx, stageKnowledge, func(ctx context.Context) (KnowledgeContext, string, error) {
			res := o.retriever.Retrieve(parsed.Normalized, intent)
			return res, res.summary(), nil
		})
		return nil
	})
	_ = g.Wait()
	trace.Stages = append(trace.Stages, searchRec, knowledgeRec)
	trace.TotalTimeMS += searchRec.TimeMS + knowledgeRec.TimeMS

	generated := runStage(ctx, trace, stageGenerate, func(ctx context.Context) (GeneratedResponse, string, error) {
		gtx, cancel := context.WithTimeout(ctx, o.generateTimeout)
		defer cancel()
		res := o.responder.Generate(gtx, query, intent, qc, outcome, kn)
		return res, res.summary(), nil
	})

	enforced := runStage(ctx, trace, stageEnforce, func(ctx context.Context) (EnforcedResponse, string, error) {
		res := o.enforcer.Enforce(query, generated, outcome)
		return res, res.summary(), nil
	})

	span.SetAttributes(
		attribute.String("intent", string(intent.Primary)),
		attribute.String("enforcement_status", string(enforced.Status)),
		attribute.Float64("quality_score", enforced.QualityScore),
	)

	return PipelineResult{
		Success:      trace.Success,
		Response:     enforced.Final,
		ToolsUsed:    generated.ToolsUsed,
		QualityScore: enforced.QualityScore,
		LatencyMS:    trace.TotalTimeMS,
		Trace:        trace,
	}
}

// runStage executes one stage, appends its record and accumulates time.
func runStage[T any](ctx context.Context, trace *PipelineTrace, name string,
	fn func(context.Context) (T, string, error)) T {
	out, rec := timeStage(ctx, name, fn)
	trace.Stages = append(trace.Stages, rec)
	trace.TotalTimeMS += rec.TimeMS
	if !rec.Success && name == stageIntent {
		trace.Success = false
	}
	return out
}

// timeStage runs fn under a span and times it, converting a panic in any
// stage into a failed record with that stage's zero output.
func timeStage[T any](ctx context.Context, name string,
	fn func(context.Context) (T, string, error)) (out T, rec StageRecord) {
	ctx, span := otel.Tracer(pipelineTracerName).Start(ctx, "agents.stage."+name)
	defer span.End()

	rec = StageRecord{Agent: name}
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		rec.TimeMS = elapsed.Milliseconds()
		stageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		if r := recover(); r != nil {
			rec.Success = false
			rec.Error = "stage panicked"
			span.SetAttributes(attribute.Bool("panic", true))
			slog.Error("pipeline stage panicked", "stage", name, "panic", r)
		}
	}()

	result, summary, err := fn(ctx)
	if err != nil {
		rec.Success = false
		rec.Error = err.Error()
		return out, rec
	}
	rec.Success = true
	rec.Summary = summary
	return result, rec
}
