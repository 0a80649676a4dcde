// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session persists per-conversation state: message history and the
// record summaries of the most recent search, which later turns reference
// with follow-up phrasing ("what about the first one").
//
// Two backends are provided. MemoryStore holds sessions in-process and is
// the default. BadgerStore persists sessions across restarts in an embedded
// BadgerDB with native TTL expiry.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned by Store.Get when no live session exists
// for the given ID. Expired sessions report the same error.
var ErrSessionNotFound = errors.New("session not found")

// DefaultTTL is the session lifetime used when a store is configured with
// a zero TTL.
const DefaultTTL = 24 * time.Hour

// DefaultMaxHistory caps how many messages a session retains.
const DefaultMaxHistory = 10

// Message is a single conversation turn.
type Message struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`

	Content string `json:"content"`

	At time.Time `json:"at"`
}

// Session is the mutable per-conversation state.
//
// # Thread Safety
//
// Session values are not safe for concurrent mutation. Callers load a
// session, mutate it on one goroutine, and save it back; the Store
// serializes concurrent saves for the same ID by last-write-wins.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Messages []Message `json:"messages"`

	// LastResults holds short summaries of the records returned by the
	// most recent search, newest search only. Follow-up turns resolve
	// ordinal references against this list.
	LastResults []string `json:"last_results,omitempty"`
}

// New creates an empty session. A blank id gets a fresh UUID.
func New(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &Session{ID: id, CreatedAt: now, UpdatedAt: now}
}

// Append adds a turn and trims history to maxHistory messages, dropping the
// oldest first. maxHistory <= 0 uses DefaultMaxHistory.
func (s *Session) Append(role, content string, maxHistory int) {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	s.Messages = append(s.Messages, Message{Role: role, Content: content, At: time.Now()})
	if excess := len(s.Messages) - maxHistory; excess > 0 {
		s.Messages = s.Messages[excess:]
	}
	s.UpdatedAt = time.Now()
}

// History returns the last max messages, oldest first. max <= 0 returns all.
func (s *Session) History(max int) []Message {
	if max <= 0 || max >= len(s.Messages) {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-max:]
}
