// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"fmt"

	"github.com/arcadian-ai/concierge/services/assistant/knowledge"
)

// Retriever fetches documentation chunks for knowledge-domain queries.
// Engages only when the intent carries the KNOWLEDGE domain; an absent
// store yields an empty context, never an error.
//
// # Thread Safety
//
// Safe for concurrent use.
type Retriever struct {
	store *knowledge.Store
}

// NewRetriever creates a retriever. store may be nil.
func NewRetriever(store *knowledge.Store) *Retriever {
	return &Retriever{store: store}
}

// Retrieve returns ranked chunks for the query.
//
// Confidence reflects the score distribution: the top score relative to
// the sum, scaled by how many chunks came back. A single dominant chunk
// scores high; a flat spread of weak matches scores low.
func (r *Retriever) Retrieve(query string, intent IntentResult) KnowledgeContext {
	if r.store == nil || !intent.HasDomain(DomainKnowledge) {
		return KnowledgeContext{}
	}

	chunks := r.store.Retrieve(query, 3)
	if len(chunks) == 0 {
		return KnowledgeContext{}
	}

	var sum float64
	for _, c := range chunks {
		sum += c.Score
	}
	confidence := 0.0
	if sum > 0 {
		// Top-score share of the total: a dominant chunk approaches 1,
		// a flat spread approaches 1/n.
		confidence = 0.5 + 0.5*chunks[0].Score/sum
	}

	return KnowledgeContext{
		Chunks:     chunks,
		TotalFound: len(chunks),
		Confidence: clamp01(round3(confidence)),
	}
}

// summary renders the retrieval for trace records.
func (kc KnowledgeContext) summary() string {
	return fmt.Sprintf("chunks=%d conf=%.3f", len(kc.Chunks), kc.Confidence)
}
