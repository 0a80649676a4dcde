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
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher detects source changes and invokes a callback.
//
// # Description
//
// Runs a background poll loop comparing the source's metadata fingerprint
// (mod time and size) on a fixed interval. When the backing path supports
// it, an fsnotify watch shortens detection latency; the poll loop remains
// the source of truth because editors and network mounts drop events.
//
// # Thread Safety
//
// Start and Stop are safe for concurrent use. Stop is idempotent and
// waits for the in-flight loop iteration to finish before returning.
type Watcher struct {
	source   Source
	interval time.Duration
	onChange func(SourceMeta)
	logger   *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce *sync.Once
}

// NewWatcher creates a watcher. onChange runs on the watcher goroutine;
// it must not block for long. Nil logger falls back to slog.Default().
func NewWatcher(source Source, interval time.Duration, onChange func(SourceMeta), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watcher{
		source:   source,
		interval: interval,
		onChange: onChange,
		logger:   logger,
	}
}

// Start launches the background loop. Returns an error if already running.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return fmt.Errorf("datasource: watcher already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.stopOnce = &sync.Once{}

	last, err := w.source.Meta(loopCtx)
	if err != nil {
		w.logger.Warn("watcher: initial metadata read failed", "error", err)
	}

	var events chan fsnotify.Event
	fsw, fserr := fsnotify.NewWatcher()
	if fserr == nil {
		if addErr := fsw.Add(last.Path); addErr != nil {
			w.logger.Debug("watcher: fsnotify add failed, polling only", "error", addErr)
			fsw.Close()
			fsw = nil
		} else {
			events = make(chan fsnotify.Event, 1)
			go forwardEvents(fsw, events)
		}
	} else {
		w.logger.Debug("watcher: fsnotify unavailable, polling only", "error", fserr)
		fsw = nil
	}

	go func() {
		defer close(w.done)
		if fsw != nil {
			defer fsw.Close()
		}
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				last = w.check(loopCtx, last)
			case <-events:
				last = w.check(loopCtx, last)
			}
		}
	}()

	w.logger.Info("watcher started",
		slog.String("path", last.Path),
		slog.Duration("interval", w.interval),
	)
	return nil
}

// check compares the current fingerprint against last and fires onChange
// when it moved.
func (w *Watcher) check(ctx context.Context, last SourceMeta) SourceMeta {
	meta, err := w.source.Meta(ctx)
	if err != nil {
		w.logger.Warn("watcher: metadata read failed", "error", err)
		return last
	}
	if meta.ModTime.Equal(last.ModTime) && meta.Size == last.Size {
		return last
	}
	w.logger.Info("data source changed",
		slog.String("path", meta.Path),
		slog.Time("mod_time", meta.ModTime),
		slog.Int64("size", meta.Size),
	)
	if w.onChange != nil {
		w.onChange(meta)
	}
	return meta
}

// Stop halts the loop and waits for it to exit. Safe to call repeatedly
// and before Start (no-op).
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done, once := w.cancel, w.done, w.stopOnce
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	once.Do(func() {
		cancel()
		<-done
		w.mu.Lock()
		w.cancel = nil
		w.done = nil
		w.mu.Unlock()
		w.logger.Info("watcher stopped")
	})
}

// forwardEvents drains an fsnotify watcher into a coalescing channel.
func forwardEvents(fsw *fsnotify.Watcher, out chan<- fsnotify.Event) {
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			select {
			case out <- ev:
			default:
				// Coalesce bursts; the pending event already triggers a check.
			}
		case _, ok := <-fsw.Errors:
			if !ok {
				return
			}
		}
	}
}
