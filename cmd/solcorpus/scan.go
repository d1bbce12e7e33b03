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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/solcorpus/internal/errors"
	"github.com/kraklabs/solcorpus/internal/output"
	"github.com/kraklabs/solcorpus/pkg/corpus"
	"github.com/kraklabs/solcorpus/pkg/enrich"
	"github.com/kraklabs/solcorpus/pkg/fetcher"
	"github.com/kraklabs/solcorpus/pkg/pipeline"
	"github.com/kraklabs/solcorpus/pkg/registry"
)

// runScan executes the 'scan' CLI command: registry scan, fetch, extract,
// classify, emit.
//
// Flags:
//   - --signer: Override the configured signer public key
//   - --rpc-url: Override the configured RPC endpoint
//   - --out: Override the output directory
//   - --concurrency: Parallel fetch+extract workers
//   - --enrich-workers: Parallel classification calls
//   - --no-enrich: Disable classification entirely
//   - --metrics-addr: HTTP address for Prometheus metrics (default: disabled)
//   - --debug: Enable debug logging
//   - --json: Emit the run summary as JSON
func runScan(args []string, configPath string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	signer := fs.String("signer", "", "Base58 signer public key (overrides config)")
	rpcURL := fs.String("rpc-url", "", "Solana RPC endpoint (overrides config)")
	outDir := fs.String("out", "", "Output directory (overrides config)")
	concurrency := fs.Int("concurrency", 0, "Parallel fetch+extract workers (overrides config)")
	enrichWorkers := fs.Int("enrich-workers", 0, "Parallel classification calls (overrides config)")
	noEnrich := fs.Bool("no-enrich", false, "Disable the classification stage")
	pageSize := fs.Int("page-size", 100, "Registry records drained per page")
	resumeAfter := fs.String("resume-after", "", "Resume after this program id (continuation token from a previous run)")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	jsonOut := fs.Bool("json", false, "Emit the run summary as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: solcorpus scan [options]

Scans the on-chain verification registry for the configured signer, fetches
every repository at its pinned commit, extracts Rust functions, classifies
them if an API key is available, and writes NDJSON batches to the output
directory.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  solcorpus scan
  solcorpus scan --no-enrich --concurrency 8
  solcorpus scan --metrics-addr :9090
  solcorpus scan --page-size 250 --resume-after 4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(err, *jsonOut)
	}
	if *signer != "" {
		cfg.Signer = *signer
	}
	if *rpcURL != "" {
		cfg.RPCURL = *rpcURL
	}
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}
	if *enrichWorkers > 0 {
		cfg.Enrichment.Workers = *enrichWorkers
	}

	if cfg.Signer == "" {
		errors.FatalError(errors.NewInputError(
			"No signer configured",
			"The scan needs the base58 public key whose verified uploads to collect",
			"Set 'signer' in .solcorpus/project.yaml or pass --signer",
		), *jsonOut)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: *metricsAddr, Handler: mux}
			logger.Info("metrics.http.start", "addr", *metricsAddr, "path", "/metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics.http.error", "err", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	scanner, err := registry.NewScanner(registry.Config{
		Endpoint:        cfg.RPCURL,
		RegistryProgram: cfg.RegistryProgram,
		Signer:          cfg.Signer,
	}, logger)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot create registry scanner",
			err.Error(),
			"Check 'signer' and 'rpc_url' in .solcorpus/project.yaml",
			err,
		), *jsonOut)
	}

	// Drain the registry in bounded pages; the final token of each page is
	// logged so an interrupted run can resume with --resume-after.
	pager := registry.NewPager(scanner, *pageSize, registry.ContinuationToken(*resumeAfter))
	var records []registry.ProgramRecord
	for {
		page, err := pager.Next(ctx)
		if err != nil {
			errors.FatalError(errors.NewNetworkError(
				"Registry scan failed",
				err.Error(),
				"Check the RPC endpoint and network connectivity, then retry",
				err,
			), *jsonOut)
		}
		records = append(records, page.Records...)
		logger.Info("scan.page",
			"records", len(page.Records),
			"token", string(page.Next),
			"has_more", page.HasMore)
		if !page.HasMore {
			break
		}
	}
	logger.Info("scan.programs.found", "programs", len(records))

	bar := NewProgressBar(NewProgressConfig(*jsonOut), int64(len(records)), "Processing programs")
	var onProgram func()
	if bar != nil {
		onProgram = func() { _ = bar.Add(1) }
	}

	p, err := buildPipeline(cfg, logger, *noEnrich, nil, onProgram)
	if err != nil {
		errors.FatalError(err, *jsonOut)
	}

	result, err := p.Run(ctx, records)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		errors.FatalError(err, *jsonOut)
	}

	if *jsonOut {
		_ = output.JSON(result)
		return
	}
	printRunResult(result)
}

// buildPipeline wires the fetcher, classifier, and emitter from config.
// A non-nil fetch overrides the git fetcher (extract --path uses this).
func buildPipeline(cfg *Config, logger *slog.Logger, noEnrich bool, fetch pipeline.SnapshotFetcher, onProgram func()) (*pipeline.Pipeline, error) {
	if fetch == nil {
		f, err := fetcher.New(fetcher.Config{CacheDir: cfg.CacheDir}, logger)
		if err != nil {
			return nil, errors.NewConfigError(
				"Cannot create snapshot cache",
				err.Error(),
				"Check 'cache_dir' in .solcorpus/project.yaml and its permissions",
				err,
			)
		}
		fetch = f
	}

	var classifier *enrich.Classifier
	if !noEnrich {
		var err error
		classifier, err = enrich.NewClassifier(enrich.Config{
			Provider: enrich.ProviderConfig{
				Type:    cfg.Enrichment.Provider,
				BaseURL: cfg.Enrichment.BaseURL,
				Model:   cfg.Enrichment.Model,
			},
			Workers:           cfg.Enrichment.Workers,
			RequestsPerSecond: cfg.Enrichment.RequestsPerSecond,
			Logger:            logger,
		})
		if err != nil {
			return nil, errors.NewConfigError(
				"Cannot create classifier",
				err.Error(),
				"Check the 'enrichment' section in .solcorpus/project.yaml",
				err,
			)
		}
	}

	emitter, err := corpus.NewEmitter(corpus.EmitterConfig{
		Dir:    cfg.OutputDir,
		Logger: logger,
	})
	if err != nil {
		return nil, errors.NewPermissionError(
			"Cannot create output directory",
			err.Error(),
			"Check 'output_dir' in .solcorpus/project.yaml and its permissions",
			err,
		)
	}

	return pipeline.New(fetch, classifier, emitter, pipeline.Config{
		Workers:      cfg.Concurrency,
		MaxFileSize:  cfg.MaxFileSize,
		LibraryRoots: cfg.LibraryRoots,
		OnProgram:    onProgram,
		Logger:       logger,
	}), nil
}

// printRunResult prints the run summary to stdout.
func printRunResult(result *pipeline.Result) {
	fmt.Println()
	fmt.Println("=== Corpus Build Complete ===")
	fmt.Printf("Programs: %d\n", result.ProgramsScanned)
	if result.ProgramsFailed > 0 {
		fmt.Printf("Programs Failed: %d\n", result.ProgramsFailed)
	}
	fmt.Printf("Files Parsed: %d\n", result.FilesParsed)
	if result.FilesSkipped > 0 {
		fmt.Printf("Files Skipped: %d\n", result.FilesSkipped)
	}
	fmt.Printf("Functions Extracted: %d\n", result.Functions)
	if result.Analyzed > 0 || result.AnalysisFailed > 0 {
		fmt.Printf("Functions Classified: %d (skip verdicts: %d, failures: %d)\n",
			result.Analyzed, result.AnalysisSkipped, result.AnalysisFailed)
	}
	fmt.Printf("Documents Written: %d (%d batch files)\n", result.Documents, result.Batches)

	if len(result.TopSkipReasons) > 0 {
		fmt.Println("\nSkipped Files:")
		for reason, count := range result.TopSkipReasons {
			fmt.Printf("  %s: %d\n", reason, count)
		}
	}

	fmt.Println("\nTimings:")
	fmt.Printf("  Extract: %s\n", result.ExtractDuration)
	fmt.Printf("  Enrich:  %s\n", result.EnrichDuration)
	fmt.Printf("  Write:   %s\n", result.WriteDuration)
	fmt.Printf("  Total:   %s\n", result.TotalDuration)
}
