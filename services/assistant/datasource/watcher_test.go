// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datasource

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcher_DetectsMetaChange(t *testing.T) {
	src := &memSource{meta: SourceMeta{Path: "mem", ModTime: time.Now(), Size: 10}}
	var fired atomic.Int32
	w := NewWatcher(src, 5*time.Millisecond, func(SourceMeta) { fired.Add(1) }, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	src.mu.Lock()
	src.meta.Size = 20
	src.meta.ModTime = src.meta.ModTime.Add(time.Second)
	src.mu.Unlock()

	deadline := time.After(2 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("onChange never fired after metadata change")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWatcher_NoChangeNoCallback(t *testing.T) {
	src := &memSource{meta: SourceMeta{Path: "mem", ModTime: time.Now(), Size: 10}}
	var fired atomic.Int32
	w := NewWatcher(src, 5*time.Millisecond, func(SourceMeta) { fired.Add(1) }, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("onChange fired %d times with stable metadata", fired.Load())
	}
}

func TestWatcher_StartTwiceFails(t *testing.T) {
	src := &memSource{meta: SourceMeta{Path: "mem"}}
	w := NewWatcher(src, time.Minute, nil, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if err := w.Start(context.Background()); err == nil {
		t.Error("second Start should fail while running")
	}
}

func TestWatcher_StopIdempotentAndRestartable(t *testing.T) {
	src := &memSource{meta: SourceMeta{Path: "mem"}}
	w := NewWatcher(src, time.Minute, nil, nil)

	// Stop before Start is a no-op.
	w.Stop()

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()

	// The watcher can be restarted after a clean stop.
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	w.Stop()
}
