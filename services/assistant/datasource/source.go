// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datasource

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// SourceMeta is the change-detection fingerprint of a source.
type SourceMeta struct {
	// Path is the backing file path.
	Path string

	// ModTime is the file modification time.
	ModTime time.Time

	// Size is the file size in bytes.
	Size int64
}

// Source is a customer data adapter. Implementations are simple I/O
// wrappers; all indexing and query logic lives in Indexes and Manager.
type Source interface {
	// Load reads all records. Called at startup and on change detection.
	Load(ctx context.Context) ([]Record, error)

	// Meta returns the current change-detection fingerprint.
	Meta(ctx context.Context) (SourceMeta, error)
}

// Open picks a file adapter by extension (.json or .csv).
func Open(path string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return &JSONSource{path: path}, nil
	case ".csv":
		return &CSVSource{path: path}, nil
	default:
		return nil, fmt.Errorf("datasource: unsupported file type %q", filepath.Ext(path))
	}
}

// =============================================================================
// JSON Source
// =============================================================================

// JSONSource reads a JSON array of records.
type JSONSource struct {
	path string
}

// Load implements Source.
func (s *JSONSource) Load(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("datasource: reading %s: %w", s.path, err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("datasource: parsing %s: %w", s.path, err)
	}
	return records, nil
}

// Meta implements Source.
func (s *JSONSource) Meta(ctx context.Context) (SourceMeta, error) {
	return fileMeta(ctx, s.path)
}

// =============================================================================
// CSV Source
// =============================================================================

// CSVSource reads a CSV export with a header row:
// crid,name,street,city,state,zip,move_count,tags. Tags are
// semicolon-separated.
type CSVSource struct {
	path string
}

// Load implements Source.
func (s *CSVSource) Load(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("datasource: opening %s: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("datasource: reading header of %s: %w", s.path, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"crid", "name", "state"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("datasource: %s missing required column %q", s.path, required)
		}
	}

	field := func(row []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var records []Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("datasource: reading row in %s: %w", s.path, err)
		}
		moves, _ := strconv.Atoi(field(row, "move_count"))
		var tags []string
		if raw := field(row, "tags"); raw != "" {
			tags = strings.Split(raw, ";")
		}
		records = append(records, Record{
			CRID: field(row, "crid"),
			Name: field(row, "name"),
			Address: Address{
				Street: field(row, "street"),
				City:   field(row, "city"),
				State:  field(row, "state"),
				Zip:    field(row, "zip"),
			},
			MoveCount: moves,
			Tags:      tags,
		})
	}
	return records, nil
}

// Meta implements Source.
func (s *CSVSource) Meta(ctx context.Context) (SourceMeta, error) {
	return fileMeta(ctx, s.path)
}

func fileMeta(ctx context.Context, path string) (SourceMeta, error) {
	if err := ctx.Err(); err != nil {
		return SourceMeta{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return SourceMeta{}, fmt.Errorf("datasource: stat %s: %w", path, err)
	}
	return SourceMeta{Path: path, ModTime: info.ModTime(), Size: info.Size()}, nil
}
