// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var (
	rebuildTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "concierge",
		Subsystem: "datasource",
		Name:      "rebuilds_total",
		Help:      "Index rebuilds by outcome.",
	}, []string{"outcome"})

	rebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "concierge",
		Subsystem: "datasource",
		Name:      "rebuild_duration_seconds",
		Help:      "Time to load records and build a new index generation.",
		Buckets:   prometheus.DefBuckets,
	})
)

// ManagerStats summarizes rebuild activity.
type ManagerStats struct {
	// Rebuilds counts completed rebuilds, including the initial load.
	Rebuilds int `json:"rebuilds"`

	// LastBuild is when the current generation was swapped in.
	LastBuild time.Time `json:"last_build"`

	// LastDuration is how long the last rebuild took.
	LastDuration time.Duration `json:"last_duration"`

	// Records is the row count of the current generation.
	Records int `json:"records"`
}

// Manager owns the current index generation and coordinates rebuilds.
//
// # Description
//
// Readers call query methods that resolve against the current generation
// via an atomic pointer load: they see either the old or the new
// generation in full, never a partial rebuild. Rebuilds are coalesced
// with singleflight so concurrent change notifications trigger at most
// one load.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Manager struct {
	source Source
	fuzzy  FuzzyOptions
	logger *slog.Logger

	current atomic.Pointer[Indexes]
	group   singleflight.Group

	mu     sync.Mutex
	stats  ManagerStats
	onSwap []func()
}

// NewManager creates a manager. The first generation is empty until
// Rebuild runs. Nil logger falls back to slog.Default().
func NewManager(source Source, fuzzy FuzzyOptions, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if fuzzy == (FuzzyOptions{}) {
		fuzzy = DefaultFuzzyOptions()
	}
	m := &Manager{source: source, fuzzy: fuzzy, logger: logger}
	m.current.Store(BuildIndexes(nil))
	return m
}

// OnSwap registers a callback fired after each generation swap. Used to
// invalidate response caches that may reference stale data.
func (m *Manager) OnSwap(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSwap = append(m.onSwap, fn)
}

// Current returns the active generation. Never nil.
func (m *Manager) Current() *Indexes {
	return m.current.Load()
}

// FuzzyOptions returns the configured fuzzy tuning.
func (m *Manager) FuzzyOptions() FuzzyOptions { return m.fuzzy }

// Rebuild loads the source and swaps in a freshly built generation.
//
// # Description
//
// Build-then-swap: the new generation is constructed completely off to
// the side, then published with one atomic store. Concurrent callers are
// coalesced; every caller observes the error (if any) of the rebuild
// that actually ran.
//
// # Outputs
//
//   - error: Non-nil when loading fails. The previous generation stays
//     active in that case.
func (m *Manager) Rebuild(ctx context.Context) error {
	_, err, _ := m.group.Do("rebuild", func() (any, error) {
		start := time.Now()

		records, err := m.source.Load(ctx)
		if err != nil {
			rebuildTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("datasource: rebuild load: %w", err)
		}
		next := BuildIndexes(records)
		m.current.Store(next)

		elapsed := time.Since(start)
		rebuildTotal.WithLabelValues("ok").Inc()
		rebuildDuration.Observe(elapsed.Seconds())

		m.mu.Lock()
		m.stats.Rebuilds++
		m.stats.LastBuild = time.Now()
		m.stats.LastDuration = elapsed
		m.stats.Records = next.Len()
		callbacks := make([]func(), len(m.onSwap))
		copy(callbacks, m.onSwap)
		m.mu.Unlock()

		for _, fn := range callbacks {
			fn()
		}

		m.logger.Info("index generation swapped",
			slog.Int("records", next.Len()),
			slog.Duration("elapsed", elapsed),
		)
		return nil, nil
	})
	return err
}

// Stats returns rebuild statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Records = m.Current().Len()
	return s
}

// =============================================================================
// Query Delegation
// =============================================================================

// Lookup resolves a record ID against the current generation.
func (m *Manager) Lookup(token string) (*Record, string, error) {
	return m.Current().Lookup(token)
}

// Search runs an exact filtered search against the current generation.
func (m *Manager) Search(f Filters) (*SearchResult, error) {
	return m.Current().Search(f)
}

// FuzzySearch ranks fuzzy name matches against the current generation.
func (m *Manager) FuzzySearch(query string, limit int) *SearchResult {
	return m.Current().FuzzySearch(query, limit, m.fuzzy)
}

// SemanticSearch ranks token-relevance matches against the current
// generation.
func (m *Manager) SemanticSearch(query string, limit int) *SearchResult {
	return m.Current().SemanticSearch(query, limit)
}

// KeywordSearch runs the last-resort word match against the current
// generation.
func (m *Manager) KeywordSearch(query string, limit int) *SearchResult {
	return m.Current().KeywordSearch(query, limit)
}

// Autocomplete returns prefix completions from the current generation.
func (m *Manager) Autocomplete(field, prefix string, limit int) []Suggestion {
	return m.Current().Autocomplete(field, prefix, limit)
}

// DataStats returns the current generation's summary statistics.
func (m *Manager) DataStats() Stats {
	return m.Current().Stats()
}
