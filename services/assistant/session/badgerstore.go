// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

// =============================================================================
// BadgerStore — Session Persistence
// =============================================================================
//
// Sessions are service infrastructure, not analytical data: a handful of
// small records with point lookups by ID. An embedded BadgerDB fits — no
// network dependency, ~100µs access, and native TTL so expiry needs no
// application-level sweeper. Expired keys return ErrKeyNotFound, which this
// store reports as ErrSessionNotFound.
//
// Storage layout:
//
//	session/v1/{id}  →  gob-encoded Session
//	                    TTL: configured session lifetime (default 24h)

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// badgerKeyPrefix is prepended to the session ID to form the BadgerDB key.
// Versioned (v1) to allow future format changes without collision.
const badgerKeyPrefix = "session/v1/"

// BadgerStore implements Store backed by an embedded BadgerDB directory.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type BadgerStore struct {
	db     *dgbadger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewBadgerStore opens (or creates) a BadgerDB at dir.
//
// # Inputs
//
//   - dir: Directory for the DB files. Created if absent.
//   - ttl: Lifetime for each session. Pass 0 to use DefaultTTL.
//   - logger: May be nil.
//
// # Outputs
//
//   - *BadgerStore: Ready-to-use store owning the DB. Close releases it.
//   - error: Non-nil when the DB cannot be opened (e.g. lock held by
//     another process).
func NewBadgerStore(dir string, ttl time.Duration, logger *slog.Logger) (*BadgerStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := dgbadger.DefaultOptions(dir).WithLogger(nil)
	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("session: open badger at %s: %w", dir, err)
	}
	logger.Info("session store opened",
		slog.String("dir", dir),
		slog.Duration("ttl", ttl),
	)
	return &BadgerStore{db: db, ttl: ttl, logger: logger}, nil
}

func (b *BadgerStore) Get(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw []byte
	err := b.db.View(func(txn *dgbadger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("get session key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session load: %w", err)
	}

	s, err := decodeSession(raw)
	if err != nil {
		return nil, fmt.Errorf("session decode: %w", err)
	}
	return s, nil
}

func (b *BadgerStore) Save(ctx context.Context, s *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := encodeSession(s)
	if err != nil {
		return fmt.Errorf("session encode: %w", err)
	}
	err = b.db.Update(func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(badgerKey(s.ID), raw).WithTTL(b.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("session save: %w", err)
	}
	return nil
}

func (b *BadgerStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *dgbadger.Txn) error {
		return txn.Delete(badgerKey(id))
	})
	if err != nil {
		return fmt.Errorf("session delete: %w", err)
	}
	return nil
}

// Close closes the underlying DB. The store must not be used afterwards.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// =============================================================================
// Helpers
// =============================================================================

func badgerKey(id string) []byte {
	return []byte(badgerKeyPrefix + id)
}

func encodeSession(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeSession(data []byte) (*Session, error) {
	var s Session
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return &s, nil
}
