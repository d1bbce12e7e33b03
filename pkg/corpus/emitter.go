// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// DefaultMaxBatchBytes bounds the size of a single batch file. Import
// endpoints commonly reject payloads past a few tens of megabytes.
const DefaultMaxBatchBytes = 8 << 20

// EmitterConfig configures an Emitter.
type EmitterConfig struct {
	// Dir is the output directory. Created if missing.
	Dir string

	// MaxBatchBytes caps each batch file. A single oversized document
	// still gets its own batch rather than being dropped.
	MaxBatchBytes int

	Logger *slog.Logger
}

// WriteResult summarizes one emitted program.
type WriteResult struct {
	Files     []string
	Documents int
	Bytes     int64
}

// Emitter writes OutputDocuments as newline-delimited JSON batches named
// <program_id>-NNNN.ndjson. Batches are written to a temporary file and
// renamed into place, so readers and interrupted runs never observe a
// partial batch.
type Emitter struct {
	dir      string
	maxBytes int
	log      *slog.Logger
}

// NewEmitter creates the output directory and returns an Emitter.
func NewEmitter(cfg EmitterConfig) (*Emitter, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("emitter: output directory not set")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", cfg.Dir, err)
	}

	maxBytes := cfg.MaxBatchBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBatchBytes
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Emitter{dir: cfg.Dir, maxBytes: maxBytes, log: log}, nil
}

// WriteProgram emits all documents for one program, sorted by identity and
// split into size-bounded batches. It returns the paths written.
func (e *Emitter) WriteProgram(ctx context.Context, programID string, docs []OutputDocument) (WriteResult, error) {
	var res WriteResult
	if len(docs) == 0 {
		return res, nil
	}

	sorted := make([]OutputDocument, len(docs))
	copy(sorted, docs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	lines := make([][]byte, len(sorted))
	for i, doc := range sorted {
		data, err := json.Marshal(doc)
		if err != nil {
			return res, fmt.Errorf("marshal document %s: %w", doc.ID, err)
		}
		lines[i] = data
	}

	batchNum := 0
	var batch bytes.Buffer
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		batchNum++
		name := fmt.Sprintf("%s-%04d.ndjson", programID, batchNum)
		path := filepath.Join(e.dir, name)
		if err := writeAtomic(path, batch.Bytes()); err != nil {
			return err
		}
		e.log.Debug("emit.batch.written",
			"file", name,
			"bytes", batch.Len())
		res.Files = append(res.Files, path)
		res.Bytes += int64(batch.Len())
		batch.Reset()
		return nil
	}

	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if batch.Len() > 0 && batch.Len()+len(line)+1 > e.maxBytes {
			if err := flush(); err != nil {
				return res, err
			}
		}
		batch.Write(line)
		batch.WriteByte('\n')
		res.Documents++
	}
	if err := flush(); err != nil {
		return res, err
	}

	e.log.Info("emit.program.done",
		"program", programID,
		"documents", res.Documents,
		"batches", len(res.Files))
	return res, nil
}

// writeAtomic writes data to path via a temp file plus rename.
func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write batch temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename batch: %w", err)
	}
	return nil
}
