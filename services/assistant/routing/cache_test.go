// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMakeKey_Normalization(t *testing.T) {
	base := MakeKey("How many customers in Nevada?")
	if MakeKey("  how many customers in nevada?  ") != base {
		t.Error("trim + lowercase should produce the same key")
	}
	if MakeKey("how many customers in reno?") == base {
		t.Error("different queries must produce different keys")
	}
	if len(base) != 16 {
		t.Errorf("key length = %d, want 16", len(base))
	}
}

// runCacheContract exercises the behavior shared by both backends.
func runCacheContract(t *testing.T, cache ResponseCache) {
	t.Helper()
	ctx := context.Background()
	key := MakeKey("how many customers in nevada")

	// Miss first.
	if got, err := cache.Get(ctx, key); err != nil || got != nil {
		t.Fatalf("expected clean miss, got %v, %v", got, err)
	}

	stored := &CachedResponse{
		Response:     "There are 3 customers in Nevada.",
		Route:        "database",
		Tool:         "get_stats",
		QualityScore: 0.857,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	if err := cache.Set(ctx, key, stored); err != nil {
		t.Fatal(err)
	}

	got, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Response != stored.Response || got.Tool != "get_stats" {
		t.Fatalf("got %+v", got)
	}
	if got.QualityScore != 0.857 {
		t.Errorf("QualityScore = %v", got.QualityScore)
	}

	stats := cache.Stats(ctx)
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Errorf("stats = %+v, want 1 hit / 1 miss / 1 entry", stats)
	}

	if err := cache.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _ := cache.Get(ctx, key); got != nil {
		t.Error("entry survived Clear")
	}
}

func TestMemoryCache_Contract(t *testing.T) {
	runCacheContract(t, NewMemoryCache(time.Minute))
}

func TestRedisCache_Contract(t *testing.T) {
	srv := miniredis.RunT(t)
	cache, err := NewRedisCache(context.Background(), srv.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cache.Close()
	runCacheContract(t, cache)
}

func TestRedisCache_TTLApplied(t *testing.T) {
	srv := miniredis.RunT(t)
	cache, err := NewRedisCache(context.Background(), srv.Addr(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	ctx := context.Background()
	key := MakeKey("ttl probe")
	if err := cache.Set(ctx, key, &CachedResponse{Response: "x", Route: "cache"}); err != nil {
		t.Fatal(err)
	}

	srv.FastForward(2 * time.Minute)
	if got, err := cache.Get(ctx, key); err != nil || got != nil {
		t.Errorf("expected expiry after TTL, got %v, %v", got, err)
	}
}

func TestNewRedisCache_BadAddr(t *testing.T) {
	if _, err := NewRedisCache(context.Background(), "127.0.0.1:1", time.Minute); err == nil {
		t.Error("expected connection error")
	}
}
