// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package knowledge loads documentation files, splits them into overlapping
// chunks, and serves ranked retrieval over them. Retrieval is lexical BM25:
// the corpus is small (policy documents, FAQ text) and fully in memory, so
// an inverted index over a few hundred chunks answers in microseconds with
// no model or network dependency.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/textsplitter"
)

// BM25 parameters. k1 controls term-frequency saturation, b controls
// document-length normalization.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// DefaultChunkSize and DefaultChunkOverlap govern splitting when the store
// is configured with zero values.
const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 64
)

// Chunk is one retrievable unit of documentation.
type Chunk struct {
	// ID is "<file base name>#<chunk ordinal>".
	ID string `json:"id"`

	// Source is the file the chunk came from, relative to the corpus dir.
	Source string `json:"source"`

	Text string `json:"text"`

	// Score is the BM25 relevance for the query that produced this chunk.
	// Zero outside of Retrieve results.
	Score float64 `json:"score,omitempty"`
}

// Store holds the chunked corpus and its retrieval index.
//
// # Thread Safety
//
// Safe for concurrent use. LoadDir replaces the corpus under a write lock;
// Retrieve runs under a read lock.
type Store struct {
	chunkSize    int
	chunkOverlap int
	logger       *slog.Logger

	mu     sync.RWMutex
	chunks []Chunk
	index  *bm25Index
}

// NewStore creates an empty store. Zero chunkSize/chunkOverlap use the
// package defaults. Nil logger falls back to slog.Default().
func NewStore(chunkSize, chunkOverlap int, logger *slog.Logger) *Store {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = DefaultChunkOverlap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		logger:       logger,
		index:        buildBM25(nil),
	}
}

// LoadDir reads every .md and .txt file under dir (non-recursive), splits
// them into chunks, and swaps in a fresh index.
//
// # Outputs
//
//   - error: Non-nil when the directory cannot be read or a file fails to
//     load. A missing directory is not an error; it yields an empty corpus
//     so deployments without documentation still start.
func (s *Store) LoadDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		s.logger.Warn("knowledge dir absent, corpus empty", slog.String("dir", dir))
		s.swap(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("knowledge: read dir %s: %w", dir, err)
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(s.chunkSize),
		textsplitter.WithChunkOverlap(s.chunkOverlap),
	)

	var chunks []Chunk
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".md" && ext != ".txt" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("knowledge: read %s: %w", entry.Name(), err)
		}
		parts, err := splitter.SplitText(string(raw))
		if err != nil {
			return fmt.Errorf("knowledge: split %s: %w", entry.Name(), err)
		}
		for i, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				ID:     fmt.Sprintf("%s#%d", entry.Name(), i),
				Source: entry.Name(),
				Text:   part,
			})
		}
	}

	s.swap(chunks)
	s.logger.Info("knowledge corpus loaded",
		slog.String("dir", dir),
		slog.Int("chunks", len(chunks)),
	)
	return nil
}

func (s *Store) swap(chunks []Chunk) {
	idx := buildBM25(chunks)
	s.mu.Lock()
	s.chunks = chunks
	s.index = idx
	s.mu.Unlock()
}

// Len reports the number of chunks in the corpus.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Retrieve returns the top limit chunks ranked by BM25 relevance to query.
// Only positively scored chunks are returned; an empty query or empty
// corpus yields nil. limit <= 0 defaults to 3.
func (s *Store) Retrieve(query string, limit int) []Chunk {
	if limit <= 0 {
		limit = 3
	}
	terms := tokenizeText(query)
	if len(terms) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.chunks) == 0 {
		return nil
	}

	scores := s.index.score(terms)
	type scored struct {
		idx   int
		score float64
	}
	var hits []scored
	for i, sc := range scores {
		if sc > 0 {
			hits = append(hits, scored{i, sc})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]Chunk, len(hits))
	for i, h := range hits {
		out[i] = s.chunks[h.idx]
		out[i].Score = h.score
	}
	return out
}

// =============================================================================
// BM25 Index
// =============================================================================

type bm25Index struct {
	// postings maps term -> chunk ordinals containing it.
	postings map[string][]int

	// tf maps term -> chunk ordinal -> occurrences.
	tf map[string]map[int]int

	docLen []int
	avgLen float64
	docs   int
}

func buildBM25(chunks []Chunk) *bm25Index {
	idx := &bm25Index{
		postings: make(map[string][]int),
		tf:       make(map[string]map[int]int),
		docLen:   make([]int, len(chunks)),
		docs:     len(chunks),
	}
	total := 0
	for i, c := range chunks {
		terms := tokenizeText(c.Text)
		idx.docLen[i] = len(terms)
		total += len(terms)
		seen := make(map[string]bool, len(terms))
		for _, term := range terms {
			if idx.tf[term] == nil {
				idx.tf[term] = make(map[int]int)
			}
			idx.tf[term][i]++
			if !seen[term] {
				idx.postings[term] = append(idx.postings[term], i)
				seen[term] = true
			}
		}
	}
	if len(chunks) > 0 {
		idx.avgLen = float64(total) / float64(len(chunks))
	}
	return idx
}

// score computes BM25 scores for every chunk against the query terms.
// IDF uses the Lucene smoothing log((N+1)/(df+1))+1, which never goes
// negative for common terms.
func (idx *bm25Index) score(terms []string) []float64 {
	scores := make([]float64, idx.docs)
	for _, term := range terms {
		docs := idx.postings[term]
		if len(docs) == 0 {
			continue
		}
		idf := math.Log(float64(idx.docs+1)/float64(len(docs)+1)) + 1
		for _, d := range docs {
			tf := float64(idx.tf[term][d])
			norm := 1 - bm25B + bm25B*float64(idx.docLen[d])/idx.avgLen
			scores[d] += idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*norm)
		}
	}
	return scores
}

// tokenizeText lowercases and splits on non-alphanumeric runs, dropping
// single-character tokens.
func tokenizeText(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}
