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

// Package pipeline orchestrates the full corpus run: fetch every verified
// program's source, resolve dependencies, extract functions, classify, and
// emit NDJSON batches.
//
// Fetch+extract runs as one worker pool over programs; classification runs
// afterwards as an independently bounded pool so a slow model backend never
// stalls extraction. Every per-program and per-file failure is isolated and
// counted in the Result, never fatal to the run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kraklabs/solcorpus/pkg/corpus"
	"github.com/kraklabs/solcorpus/pkg/enrich"
	"github.com/kraklabs/solcorpus/pkg/extract"
	"github.com/kraklabs/solcorpus/pkg/fetcher"
	"github.com/kraklabs/solcorpus/pkg/manifest"
	"github.com/kraklabs/solcorpus/pkg/registry"
)

// SnapshotFetcher materializes a repository at a pinned commit.
type SnapshotFetcher interface {
	Fetch(ctx context.Context, repoURL, commitRef string) (*fetcher.Snapshot, error)
}

// Config controls a pipeline run.
type Config struct {
	// Workers bounds concurrent fetch+extract tasks. Defaults to 4.
	Workers int

	// MaxFileSize skips source files larger than this many bytes.
	// Zero means no limit.
	MaxFileSize int64

	// LibraryRoots optionally restricts extraction to a subdirectory of a
	// program's repository, keyed by program id. Programs whose verified
	// build lives in a workspace member need this to avoid extracting
	// unrelated crates.
	LibraryRoots map[string]string

	// OnProgram, when set, is called once per program after its fetch and
	// extract stage finishes. Calls may come from concurrent workers.
	OnProgram func()

	Logger *slog.Logger
}

// Result summarizes a pipeline run.
type Result struct {
	ProgramsScanned int
	ProgramsFailed  int

	FilesParsed  int
	FilesSkipped int
	Functions    int

	Analyzed        int64
	AnalysisSkipped int64
	AnalysisFailed  int64

	Documents int
	Batches   int

	// TopSkipReasons maps skip reasons to counts (e.g. "too_large": 5,
	// "parse_error": 2).
	TopSkipReasons map[string]int

	ExtractDuration time.Duration
	EnrichDuration  time.Duration
	WriteDuration   time.Duration
	TotalDuration   time.Duration
}

// Pipeline wires the fetcher, classifier, and emitter together.
type Pipeline struct {
	fetch      SnapshotFetcher
	classifier *enrich.Classifier
	emitter    *corpus.Emitter
	cfg        Config
	logger     *slog.Logger
}

// New creates a Pipeline. classifier may be nil to disable enrichment.
func New(fetch SnapshotFetcher, classifier *enrich.Classifier, emitter *corpus.Emitter, cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Pipeline{
		fetch:      fetch,
		classifier: classifier,
		emitter:    emitter,
		cfg:        cfg,
		logger:     cfg.Logger,
	}
}

// programOutput holds everything extracted from one program's repository.
// files is index-aligned with functions.
type programOutput struct {
	record      registry.ProgramRecord
	files       []string
	functions   []corpus.FunctionRecord
	filesParsed int
	skipReasons map[string]int
	err         error
}

// Run executes the pipeline over the given program records.
func (p *Pipeline) Run(ctx context.Context, records []registry.ProgramRecord) (*Result, error) {
	pipeMetrics.init()
	startTime := time.Now()
	p.logger.Info("pipeline.start", "programs", len(records), "workers", p.cfg.Workers)

	res := &Result{TopSkipReasons: make(map[string]int)}

	// Stage 1: fetch + resolve + extract, one task per program.
	extractStart := time.Now()
	outputs := p.processPrograms(ctx, records)
	res.ExtractDuration = time.Since(extractStart)
	pipeMetrics.parseDuration.Observe(res.ExtractDuration.Seconds())

	for _, out := range outputs {
		if out.err != nil {
			res.ProgramsFailed++
			pipeMetrics.programsFailed.Inc()
			continue
		}
		res.ProgramsScanned++
		pipeMetrics.programsScanned.Inc()
		res.FilesParsed += out.filesParsed
		res.Functions += len(out.functions)
		for reason, n := range out.skipReasons {
			res.FilesSkipped += n
			res.TopSkipReasons[reason] += n
		}
	}
	pipeMetrics.filesParsed.Add(float64(res.FilesParsed))
	pipeMetrics.filesSkipped.Add(float64(res.FilesSkipped))
	pipeMetrics.functionsExtracted.Add(float64(res.Functions))

	// Stage 2: classification over every extracted function.
	analyses, enrichDuration := p.classifyAll(ctx, outputs, res)
	res.EnrichDuration = enrichDuration

	// Stage 3: emit per-program batches.
	writeStart := time.Now()
	idx := 0
	for _, out := range outputs {
		if out.err != nil {
			continue
		}
		docs := make([]corpus.OutputDocument, 0, len(out.functions))
		for i, fn := range out.functions {
			var analysis *corpus.AnalysisRecord
			if a := analyses[idx]; a != nil {
				analysis = &corpus.AnalysisRecord{
					Category:    a.Category,
					Description: a.Description,
					SDKUsage:    a.SDKUsage,
				}
			}
			docs = append(docs, corpus.NewDocument(out.files[i], fn, analysis))
			idx++
		}
		wr, err := p.emitter.WriteProgram(ctx, out.record.ProgramID, docs)
		if err != nil {
			return res, fmt.Errorf("emit program %s: %w", out.record.ProgramID, err)
		}
		res.Documents += wr.Documents
		res.Batches += len(wr.Files)
	}
	res.WriteDuration = time.Since(writeStart)
	pipeMetrics.writeDuration.Observe(res.WriteDuration.Seconds())
	pipeMetrics.documentsWritten.Add(float64(res.Documents))
	pipeMetrics.batchesWritten.Add(float64(res.Batches))

	res.TotalDuration = time.Since(startTime)
	pipeMetrics.totalDuration.Observe(res.TotalDuration.Seconds())

	p.logger.Info("pipeline.done",
		"programs", res.ProgramsScanned,
		"programs_failed", res.ProgramsFailed,
		"files", res.FilesParsed,
		"files_skipped", res.FilesSkipped,
		"functions", res.Functions,
		"analyzed", res.Analyzed,
		"documents", res.Documents,
		"batches", res.Batches,
		"duration", res.TotalDuration.Round(time.Millisecond))
	return res, ctx.Err()
}

// processPrograms runs the fetch+extract worker pool. The returned slice is
// index-aligned with records.
func (p *Pipeline) processPrograms(ctx context.Context, records []registry.ProgramRecord) []*programOutput {
	outputs := make([]*programOutput, len(records))

	jobs := make(chan int, len(records))
	var wg sync.WaitGroup
	for w := 0; w < p.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// tree-sitter parsers are not safe for concurrent use;
			// each worker owns one.
			ex := extract.NewExtractor()
			defer ex.Close()

			for i := range jobs {
				select {
				case <-ctx.Done():
					outputs[i] = &programOutput{record: records[i], err: ctx.Err()}
					continue
				default:
				}
				outputs[i] = p.processProgram(ctx, ex, records[i])
				if p.cfg.OnProgram != nil {
					p.cfg.OnProgram()
				}
			}
		}()
	}

	for i := range records {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return outputs
}

// processProgram fetches one program's repository and extracts every
// function, attaching dependency scopes from the resolved manifests.
func (p *Pipeline) processProgram(ctx context.Context, ex *extract.Extractor, rec registry.ProgramRecord) *programOutput {
	out := &programOutput{
		record:      rec,
		skipReasons: make(map[string]int),
	}

	fetchStart := time.Now()
	snap, err := p.fetch.Fetch(ctx, rec.RepoURL, rec.CommitRef)
	pipeMetrics.fetchDuration.Observe(time.Since(fetchStart).Seconds())
	if err != nil {
		p.logger.Warn("pipeline.program.fetch.error",
			"program", rec.ProgramID,
			"repo", rec.RepoURL,
			"err", err)
		out.err = err
		return out
	}

	table, rstats := manifest.Resolve(snap, p.logger)
	if rstats.ManifestsSkipped > 0 {
		out.skipReasons["manifest_malformed"] += rstats.ManifestsSkipped
	}

	files, skips, err := snap.RustFiles(p.cfg.LibraryRoots[rec.ProgramID], p.cfg.MaxFileSize)
	if err != nil {
		out.err = err
		return out
	}
	for reason, n := range skips {
		out.skipReasons[reason] += n
	}

	for _, f := range files {
		src, err := snap.ReadFile(f.Path)
		if err != nil {
			out.skipReasons["read_error"]++
			continue
		}

		fns, err := ex.Extract(f.Path, src)
		if err != nil {
			p.logger.Warn("pipeline.parse_file.error",
				"program", rec.ProgramID,
				"path", f.Path,
				"err", err)
			out.skipReasons["parse_error"]++
			continue
		}
		out.filesParsed++

		deps := table.ForFile(f.Path)
		for _, fn := range fns {
			out.files = append(out.files, f.Path)
			out.functions = append(out.functions, corpus.FunctionRecord{
				Name:         fn.Name,
				Content:      fn.Content,
				StartLine:    fn.StartLine,
				EndLine:      fn.EndLine,
				Attributes:   fn.Attributes,
				Docstring:    fn.Docstring,
				RepoURL:      rec.RepoURL,
				ProgramID:    rec.ProgramID,
				Dependencies: deps,
			})
		}
	}

	p.logger.Debug("pipeline.program.done",
		"program", rec.ProgramID,
		"files", out.filesParsed,
		"functions", len(out.functions))
	return out
}

// classifyAll flattens every extracted function into one classification
// batch. The returned slice is index-aligned with the functions of the
// successful outputs, in output order.
func (p *Pipeline) classifyAll(ctx context.Context, outputs []*programOutput, res *Result) ([]*enrich.Analysis, time.Duration) {
	var inputs []enrich.Input
	for _, out := range outputs {
		if out.err != nil {
			continue
		}
		for _, fn := range out.functions {
			inputs = append(inputs, enrich.Input{
				Name:       fn.Name,
				Attributes: fn.Attributes,
				Docstring:  fn.Docstring,
				Content:    fn.Content,
			})
		}
	}

	analyses := make([]*enrich.Analysis, len(inputs))
	if p.classifier == nil || !p.classifier.Enabled() || len(inputs) == 0 {
		return analyses, 0
	}

	start := time.Now()
	analyses, stats := p.classifier.ClassifyAll(ctx, inputs)
	duration := time.Since(start)
	pipeMetrics.enrichDuration.Observe(duration.Seconds())

	res.Analyzed = stats.Analyzed
	res.AnalysisSkipped = stats.Skipped
	res.AnalysisFailed = stats.Failed
	pipeMetrics.classifyAnalyzed.Add(float64(stats.Analyzed))
	pipeMetrics.classifySkipped.Add(float64(stats.Skipped))
	pipeMetrics.classifyFailed.Add(float64(stats.Failed))

	return analyses, duration
}
