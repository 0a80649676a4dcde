// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package assistant is the query-routing layer of the customer data
// assistant. The Router screens each query through guardrails, consults
// the response cache, and dispatches to either a deterministic database
// tool or the full agent pipeline.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/arcadian-ai/concierge/services/assistant/agents"
	"github.com/arcadian-ai/concierge/services/assistant/routing"
	"github.com/arcadian-ai/concierge/services/assistant/session"
)

const routerTracerName = "concierge/assistant"

// Route names reported in responses and metrics.
const (
	RouteBlocked  = "blocked"
	RouteDatabase = "database"
	RoutePipeline = "pipeline"
	RouteDirect   = "direct"
)

var (
	routerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "concierge",
		Subsystem: "router",
		Name:      "requests_total",
		Help:      "Routed requests by final route.",
	}, []string{"route"})

	routerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "concierge",
		Subsystem: "router",
		Name:      "latency_seconds",
		Help:      "Wall-clock request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

// Request is one routed query.
type Request struct {
	// Query is the raw user text.
	Query string

	// SessionID continues an existing conversation. Blank starts a new one.
	SessionID string

	// BypassCache skips both the cache read and the cache write.
	BypassCache bool
}

// Result is the routed answer.
type Result struct {
	Success      bool    `json:"success"`
	Query        string  `json:"query"`
	Response     string  `json:"response"`
	Route        string  `json:"route"`
	Cached       bool    `json:"cached"`
	Blocked      bool    `json:"blocked"`
	Tool         string  `json:"tool,omitempty"`
	QualityScore float64 `json:"quality_score,omitempty"`
	LatencyMS    int64   `json:"latency_ms"`
	SessionID    string  `json:"session_id"`
}

// RouterDeps are the Router's collaborators. Guardrails and sessions are
// required; everything else degrades gracefully when nil.
type RouterDeps struct {
	Guardrails   *routing.Guardrails
	Index        *routing.RouteIndex
	Cache        routing.ResponseCache
	Registry     *agents.Registry
	Orchestrator *agents.Orchestrator
	Responder    *agents.Responder
	Sessions     session.Store
	Logger       *slog.Logger
	MaxHistory   int
}

// Router is the outer routing policy.
//
// # Description
//
// Every query passes guardrails first. Context-free queries (sessions with
// no prior turns) may be answered from the response cache. Queries the
// route index is confident about execute one deterministic database tool
// with templated formatting; everything else runs the full agent pipeline,
// or the reduced direct mode when no orchestrator is wired.
//
// # Thread Safety
//
// Safe for concurrent use. Per-session state lives in the session store.
type Router struct {
	guardrails   *routing.Guardrails
	index        *routing.RouteIndex
	cache        routing.ResponseCache
	registry     *agents.Registry
	orchestrator *agents.Orchestrator
	responder    *agents.Responder
	sessions     session.Store
	parser       *agents.Parser
	logger       *slog.Logger
	maxHistory   int
}

// NewRouter wires the routing policy from its dependencies.
func NewRouter(deps RouterDeps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxHistory := deps.MaxHistory
	if maxHistory <= 0 {
		maxHistory = session.DefaultMaxHistory
	}
	return &Router{
		guardrails:   deps.Guardrails,
		index:        deps.Index,
		cache:        deps.Cache,
		registry:     deps.Registry,
		orchestrator: deps.Orchestrator,
		responder:    deps.Responder,
		sessions:     deps.Sessions,
		parser:       agents.NewParser(),
		logger:       logger,
		maxHistory:   maxHistory,
	}
}

// Route answers one query.
//
// # Description
//
// Blocked queries return the refusal message and touch neither the session
// nor the cache. Cache reads happen only for sessions with no prior turns;
// cache writes only when the session still holds just this exchange, so a
// contextual answer is never replayed to a different conversation.
//
// # Inputs
//   - ctx: Cancels downstream work.
//   - req: The query, optional session ID, and cache bypass flag.
//
// # Outputs
//   - Result: Always populated; Success=false only for pipeline failures.
func (r *Router) Route(ctx context.Context, req Request) Result {
	start := time.Now()
	query := strings.TrimSpace(req.Query)

	ctx, span := otel.Tracer(routerTracerName).Start(ctx, "assistant.Router.Route",
		oteltrace.WithAttributes(attribute.String("session_id", req.SessionID)),
	)
	defer span.End()

	if r.guardrails != nil {
		if block := r.guardrails.Check(query); block != nil {
			result := Result{
				Success:   true,
				Query:     query,
				Response:  block.Message,
				Route:     RouteBlocked,
				Blocked:   true,
				SessionID: req.SessionID,
			}
			return r.finish(span, result, start)
		}
	}

	sess, err := session.GetOrCreate(ctx, r.sessions, req.SessionID)
	if err != nil {
		r.logger.Warn("session load failed, starting fresh", "session_id", req.SessionID, "error", err)
		sess = session.New(req.SessionID)
	}

	// Cache participation is decided before the exchange mutates the
	// session: only context-free queries are safe to replay.
	cacheable := r.cache != nil && !req.BypassCache && len(sess.Messages) == 0
	cacheKey := routing.MakeKey(query)

	if cacheable {
		if entry, err := r.cache.Get(ctx, cacheKey); err != nil {
			r.logger.Warn("cache read failed", "error", err)
		} else if entry != nil {
			result := Result{
				Success:      true,
				Query:        query,
				Response:     entry.Response,
				Route:        entry.Route,
				Cached:       true,
				Tool:         entry.Tool,
				QualityScore: entry.QualityScore,
				SessionID:    sess.ID,
			}
			r.persist(ctx, sess, query, entry.Response, nil)
			return r.finish(span, result, start)
		}
	}

	result := r.dispatch(ctx, sess, query)
	result.Query = query
	result.SessionID = sess.ID

	r.persist(ctx, sess, query, result.Response, result.lastResults)

	if cacheable && result.Success && len(sess.Messages) <= 2 {
		entry := &routing.CachedResponse{
			Response:     result.Response,
			Route:        result.Route,
			Tool:         result.Tool,
			QualityScore: result.QualityScore,
			CreatedAt:    time.Now(),
		}
		if err := r.cache.Set(ctx, cacheKey, entry); err != nil {
			r.logger.Warn("cache write failed", "error", err)
		}
	}
	return r.finish(span, result.Result, start)
}

// dispatchResult pairs the outward Result with the record summaries the
// route produced, which feed the session's follow-up context.
type dispatchResult struct {
	Result
	lastResults []string
}

func (r *Router) dispatch(ctx context.Context, sess *session.Session, query string) dispatchResult {
	if r.index != nil && r.registry != nil {
		if decision := r.index.Route(query); decision != nil {
			if out, ok := r.runDBTool(ctx, decision.Tool, query); ok {
				r.logger.Debug("database route",
					"tool", decision.Tool, "forced", decision.Forced, "confidence", decision.Confidence)
				return out
			}
		}
	}

	if r.orchestrator != nil {
		pr := r.orchestrator.Process(ctx, sess.ID, query)
		tool := ""
		if len(pr.ToolsUsed) > 0 {
			tool = string(pr.ToolsUsed[0])
		}
		return dispatchResult{Result: Result{
			Success:      pr.Success,
			Response:     pr.Response,
			Route:        RoutePipeline,
			Tool:         tool,
			QualityScore: pr.QualityScore,
		}}
	}

	if r.responder != nil {
		gen := r.responder.Generate(ctx, query, agents.IntentResult{},
			agents.QueryContext{History: sess.History(r.maxHistory)},
			agents.SearchOutcome{}, agents.KnowledgeContext{})
		return dispatchResult{Result: Result{
			Success:      true,
			Response:     gen.Text,
			Route:        RouteDirect,
			QualityScore: gen.Confidence,
		}}
	}

	return dispatchResult{Result: Result{
		Success:  false,
		Response: "The assistant is not available right now.",
		Route:    RoutePipeline,
	}}
}

// runDBTool executes one deterministic tool and formats its output. A
// false return means the caller should fall through to the pipeline.
func (r *Router) runDBTool(ctx context.Context, tool, query string) (dispatchResult, bool) {
	args := r.dbToolArgs(tool, query)
	out, err := r.registry.Execute(ctx, agents.Tool(tool), args)
	if err != nil {
		r.logger.Warn("database tool failed, falling through", "tool", tool, "error", err)
		return dispatchResult{}, false
	}
	text, summaries, ok := formatDBResult(tool, out)
	if !ok {
		return dispatchResult{}, false
	}
	return dispatchResult{
		Result: Result{
			Success:      true,
			Response:     text,
			Route:        RouteDatabase,
			Tool:         tool,
			QualityScore: 1.0,
		},
		lastResults: summaries,
	}, true
}

// dbToolArgs extracts tool arguments from the raw query. The full parser
// does the structured extraction; only the fields each tool understands
// are forwarded.
func (r *Router) dbToolArgs(tool, query string) map[string]any {
	parsed := r.parser.Parse(query, agents.IntentResult{}, agents.QueryContext{})
	switch tool {
	case string(agents.ToolLookupCRID), string(agents.ToolVerifyAddress):
		crid := ""
		if ids := parsed.Entities["crid"]; len(ids) > 0 {
			crid = ids[0]
		}
		return map[string]any{"crid": crid}
	case string(agents.ToolSearchCustomers):
		return map[string]any{
			"state":          parsed.Filters.State,
			"city":           parsed.Filters.City,
			"min_move_count": parsed.Filters.MinMoves,
			"limit":          parsed.Limit,
		}
	case string(agents.ToolGetStats):
		return map[string]any{}
	default:
		return map[string]any{"query": parsed.Normalized, "limit": parsed.Limit}
	}
}

// persist appends both turns and saves the session. Persistence failures
// degrade to a log line; the answer was already produced.
func (r *Router) persist(ctx context.Context, sess *session.Session, query, response string, lastResults []string) {
	sess.Append("user", query, r.maxHistory)
	sess.Append("assistant", response, r.maxHistory)
	if lastResults != nil {
		sess.LastResults = lastResults
	}
	if r.sessions == nil {
		return
	}
	if err := r.sessions.Save(ctx, sess); err != nil {
		r.logger.Warn("session save failed", "session_id", sess.ID, "error", err)
	}
}

func (r *Router) finish(span oteltrace.Span, result Result, start time.Time) Result {
	result.LatencyMS = time.Since(start).Milliseconds()
	route := result.Route
	if result.Cached {
		route = "cached"
	}
	span.SetAttributes(
		attribute.String("route", route),
		attribute.Bool("blocked", result.Blocked),
	)
	routerRequests.WithLabelValues(route).Inc()
	routerLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	return result
}

// =============================================================================
// Deterministic Formatting
// =============================================================================

// formatDBResult turns a tool's structured output into user-facing text.
// The third return is false when the output shape is not recognized, which
// sends the query down the full pipeline instead.
func formatDBResult(tool string, out map[string]any) (string, []string, bool) {
	switch tool {
	case string(agents.ToolLookupCRID):
		return formatLookup(out)
	case string(agents.ToolSearchCustomers):
		return formatSearch(out)
	case string(agents.ToolGetStats):
		return formatStats(out)
	case string(agents.ToolVerifyAddress):
		return formatVerify(out)
	}
	return "", nil, false
}

func formatLookup(out map[string]any) (string, []string, bool) {
	if ok, _ := out["success"].(bool); !ok {
		if msg, _ := out["error"].(string); msg != "" {
			return msg, nil, true
		}
		return "", nil, false
	}
	data, ok := out["data"].(map[string]any)
	if !ok {
		return "", nil, false
	}
	name, _ := data["name"].(string)
	crid, _ := data["crid"].(string)
	street, _ := data["street"].(string)
	city, _ := data["city"].(string)
	state, _ := data["state"].(string)
	zip, _ := data["zip"].(string)
	moves := asInt(data["move_count"])

	text := fmt.Sprintf("%s (%s)\nAddress: %s, %s, %s %s\nMoves on file: %d",
		name, crid, street, city, state, zip, moves)
	return text, []string{fmt.Sprintf("%s (%s)", name, crid)}, true
}

func formatSearch(out map[string]any) (string, []string, bool) {
	if ok, _ := out["success"].(bool); !ok {
		if errName, _ := out["error"].(string); errName == "state_not_available" {
			if suggestion, _ := out["suggestion"].(string); suggestion != "" {
				return suggestion, nil, true
			}
		}
		return "", nil, false
	}
	records, ok := out["results"].([]map[string]any)
	if !ok {
		return "", nil, false
	}
	total := asInt(out["total"])

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d customer(s):", total)
	var summaries []string
	for _, rec := range records {
		name, _ := rec["name"].(string)
		crid, _ := rec["crid"].(string)
		city, _ := rec["city"].(string)
		state, _ := rec["state"].(string)
		zip, _ := rec["zip"].(string)
		fmt.Fprintf(&b, "\n- %s (%s): %s, %s %s, moves: %d", name, crid, city, state, zip, asInt(rec["move_count"]))
		summaries = append(summaries, fmt.Sprintf("%s (%s)", name, crid))
	}
	if total > len(records) {
		fmt.Fprintf(&b, "\n... and %d more", total-len(records))
	}
	return b.String(), summaries, true
}

func formatStats(out map[string]any) (string, []string, bool) {
	if ok, _ := out["success"].(bool); !ok {
		return "", nil, false
	}
	byState, _ := out["by_state"].(map[string]int)
	avg, _ := out["avg_moves"].(float64)

	var b strings.Builder
	fmt.Fprintf(&b, "Customer base: %d record(s) across %d state(s). Average moves: %.1f.",
		asInt(out["total"]), len(byState), avg)

	states := make([]string, 0, len(byState))
	for s := range byState {
		states = append(states, s)
	}
	// Highest-count states first, code as tiebreak, so output is stable.
	sort.Slice(states, func(i, j int) bool {
		if byState[states[i]] != byState[states[j]] {
			return byState[states[i]] > byState[states[j]]
		}
		return states[i] < states[j]
	})
	if len(states) > 5 {
		states = states[:5]
	}
	for _, s := range states {
		fmt.Fprintf(&b, "\n- %s: %d", s, byState[s])
	}
	return b.String(), nil, true
}

func formatVerify(out map[string]any) (string, []string, bool) {
	if ok, _ := out["success"].(bool); !ok {
		if msg, _ := out["error"].(string); msg != "" {
			return msg, nil, true
		}
		return "", nil, false
	}
	crid, _ := out["crid"].(string)
	onFile, _ := out["address_on_file"].(string)
	if matches, _ := out["matches"].(bool); matches {
		return fmt.Sprintf("Address on file for %s: %s (matches).", crid, onFile), nil, true
	}
	return fmt.Sprintf("Address on file for %s: %s (does not match the provided address).", crid, onFile), nil, true
}

// asInt tolerates both in-process ints and JSON-decoded float64s.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
