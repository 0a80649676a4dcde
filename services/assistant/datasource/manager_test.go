// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datasource

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// memSource is an in-memory Source for tests.
type memSource struct {
	mu      sync.Mutex
	records []Record
	meta    SourceMeta
	loadErr error
	loads   int
}

func (s *memSource) Load(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *memSource) Meta(ctx context.Context) (SourceMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta, nil
}

func TestManager_EmptyUntilRebuild(t *testing.T) {
	m := NewManager(&memSource{records: sampleRecords()}, FuzzyOptions{}, nil)
	if m.Current().Len() != 0 {
		t.Errorf("initial generation should be empty, got %d records", m.Current().Len())
	}
	if err := m.Rebuild(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Current().Len() != 4 {
		t.Errorf("records = %d, want 4", m.Current().Len())
	}
}

func TestManager_RebuildSwapsAtomically(t *testing.T) {
	src := &memSource{records: sampleRecords()}
	m := NewManager(src, FuzzyOptions{}, nil)
	if err := m.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A reader holding the old generation keeps a fully consistent view
	// across a rebuild.
	old := m.Current()
	src.mu.Lock()
	src.records = src.records[:1]
	src.mu.Unlock()
	if err := m.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}

	if old.Len() != 4 {
		t.Errorf("old generation mutated: %d records", old.Len())
	}
	if m.Current().Len() != 1 {
		t.Errorf("new generation = %d records, want 1", m.Current().Len())
	}
}

func TestManager_RebuildFailureKeepsOldGeneration(t *testing.T) {
	src := &memSource{records: sampleRecords()}
	m := NewManager(src, FuzzyOptions{}, nil)
	if err := m.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}

	src.mu.Lock()
	src.loadErr = errors.New("disk gone")
	src.mu.Unlock()
	if err := m.Rebuild(context.Background()); err == nil {
		t.Fatal("expected rebuild error")
	}
	if m.Current().Len() != 4 {
		t.Errorf("failed rebuild must keep old generation, got %d records", m.Current().Len())
	}
}

func TestManager_OnSwapFires(t *testing.T) {
	m := NewManager(&memSource{records: sampleRecords()}, FuzzyOptions{}, nil)
	fired := 0
	m.OnSwap(func() { fired++ })
	if err := m.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fired != 1 {
		t.Errorf("onSwap fired %d times, want 1", fired)
	}
}

func TestManager_ConcurrentRebuildsCoalesce(t *testing.T) {
	src := &memSource{records: sampleRecords()}
	m := NewManager(src, FuzzyOptions{}, nil)

	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Rebuild(context.Background())
		}()
	}
	wg.Wait()

	src.mu.Lock()
	loads := src.loads
	src.mu.Unlock()
	if loads > 8 {
		t.Errorf("loads = %d, want coalescing to at most 8", loads)
	}
	if m.Current().Len() != 4 {
		t.Errorf("records = %d, want 4", m.Current().Len())
	}
}

func TestManager_Stats(t *testing.T) {
	m := NewManager(&memSource{records: sampleRecords()}, FuzzyOptions{}, nil)
	if err := m.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := m.Stats()
	if s.Rebuilds != 1 {
		t.Errorf("Rebuilds = %d, want 1", s.Rebuilds)
	}
	if s.Records != 4 {
		t.Errorf("Records = %d, want 4", s.Records)
	}
	if s.LastBuild.IsZero() {
		t.Error("LastBuild not set")
	}
}

func TestManager_DelegatesQueries(t *testing.T) {
	m := NewManager(&memSource{records: sampleRecords()}, FuzzyOptions{}, nil)
	if err := m.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}

	if rec, _, err := m.Lookup("42"); err != nil || rec.Name != "Jane Doe" {
		t.Errorf("Lookup failed: %v %v", rec, err)
	}
	if res, err := m.Search(Filters{State: "CA"}); err != nil || res.Total != 1 {
		t.Errorf("Search failed: %v %v", res, err)
	}
	if res := m.FuzzySearch("jan", 5); res.Total == 0 {
		t.Error("FuzzySearch returned nothing")
	}
	if got := m.Autocomplete("city", "reno", 5); len(got) != 1 {
		t.Errorf("Autocomplete = %v", got)
	}
	if m.DataStats().TotalRecords != 4 {
		t.Error("DataStats mismatch")
	}
}
