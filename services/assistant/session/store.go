// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"sync"
	"time"
)

// Store persists sessions.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves a session by ID. Returns ErrSessionNotFound when the
	// session is absent or its TTL has elapsed.
	Get(ctx context.Context, id string) (*Session, error)

	// Save writes the session, resetting its TTL.
	Save(ctx context.Context, s *Session) error

	// Delete removes a session. Deleting an absent session is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases backend resources.
	Close() error
}

// GetOrCreate loads the session for id, creating a fresh one on miss or
// blank id. The created session is not persisted until Save.
func GetOrCreate(ctx context.Context, store Store, id string) (*Session, error) {
	if id == "" {
		return New(""), nil
	}
	s, err := store.Get(ctx, id)
	if err == ErrSessionNotFound {
		return New(id), nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// =============================================================================
// MemoryStore
// =============================================================================

// MemoryStore keeps sessions in a process-local map with lazy TTL expiry:
// expired entries are dropped on the Get that observes them.
type MemoryStore struct {
	ttl time.Duration

	mu       sync.RWMutex
	sessions map[string]memoryEntry
}

type memoryEntry struct {
	session   *Session
	expiresAt time.Time
}

// NewMemoryStore creates a memory store. ttl <= 0 uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, sessions: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	entry, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	return cloneSession(entry.session), nil
}

func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = memoryEntry{
		session:   cloneSession(s),
		expiresAt: time.Now().Add(m.ttl),
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// Len reports live (non-expired) sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	n := 0
	for _, e := range m.sessions {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// cloneSession deep-copies a session so callers cannot mutate stored state.
func cloneSession(s *Session) *Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	if s.LastResults != nil {
		out.LastResults = make([]string, len(s.LastResults))
		copy(out.LastResults, s.LastResults)
	}
	return &out
}
