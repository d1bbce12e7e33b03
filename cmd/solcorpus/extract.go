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
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/solcorpus/internal/errors"
	"github.com/kraklabs/solcorpus/internal/output"
	"github.com/kraklabs/solcorpus/pkg/fetcher"
	"github.com/kraklabs/solcorpus/pkg/pipeline"
	"github.com/kraklabs/solcorpus/pkg/registry"
)

// localFetcher serves a directory already on disk as a snapshot instead of
// cloning anything.
type localFetcher struct {
	root string
}

func (l *localFetcher) Fetch(ctx context.Context, repoURL, commitRef string) (*fetcher.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fetcher.NewLocalSnapshot(l.root, repoURL, commitRef), nil
}

// runExtract executes the 'extract' CLI command: run the fetch, extract,
// classify, and emit stages over a single repository without touching the
// on-chain registry.
//
// Flags:
//   - --repo + --commit: Clone a repository at a pinned ref
//   - --path: Use a checkout already on disk instead of cloning
//   - --program-id: Program id recorded in the emitted documents
//   - --out: Override the output directory
//   - --no-enrich: Disable classification
//   - --debug: Enable debug logging
//   - --json: Emit the run summary as JSON
func runExtract(args []string, configPath string) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	repo := fs.String("repo", "", "Repository URL to clone")
	commit := fs.String("commit", "", "Commit hash or tag to check out (with --repo)")
	localPath := fs.String("path", "", "Local checkout to extract from (instead of --repo)")
	programID := fs.String("program-id", "local", "Program id recorded in the emitted documents")
	outDir := fs.String("out", "", "Output directory (overrides config)")
	noEnrich := fs.Bool("no-enrich", false, "Disable the classification stage")
	debug := fs.Bool("debug", false, "Enable debug logging")
	jsonOut := fs.Bool("json", false, "Emit the run summary as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: solcorpus extract (--repo URL --commit REF | --path DIR) [options]

Runs the extraction pipeline over a single repository, bypassing the
on-chain registry. Useful for testing a repository before it is verified,
or for building a corpus from unpublished code.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  solcorpus extract --repo https://github.com/org/amm --commit 3f82ab1
  solcorpus extract --path ./my-program --program-id MyProg111 --no-enrich
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *localPath == "" && *repo == "" {
		fs.Usage()
		errors.FatalError(errors.NewInputError(
			"No repository given",
			"extract needs a source to work on",
			"Pass --repo with --commit, or --path for a local checkout",
		), *jsonOut)
	}
	if *localPath != "" && *repo != "" {
		errors.FatalError(errors.NewInputError(
			"Both --repo and --path given",
			"The two source flags are mutually exclusive",
			"Pass either --repo with --commit, or --path",
		), *jsonOut)
	}
	if *repo != "" && *commit == "" {
		errors.FatalError(errors.NewInputError(
			"Missing --commit",
			"Cloned extractions must be pinned to an exact ref for reproducible output",
			"Pass --commit with the commit hash or tag to extract",
		), *jsonOut)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		// extract works without a project: fall back to defaults so it
		// can run in arbitrary checkouts.
		cfg = DefaultConfig()
	}
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	record := registry.ProgramRecord{
		ProgramID: *programID,
		RepoURL:   *repo,
		CommitRef: *commit,
	}

	var fetch pipeline.SnapshotFetcher
	if *localPath != "" {
		abs, err := filepath.Abs(*localPath)
		if err != nil {
			errors.FatalError(errors.NewInputError(
				"Invalid --path",
				err.Error(),
				"Pass an existing directory",
			), *jsonOut)
		}
		if info, statErr := os.Stat(abs); statErr != nil || !info.IsDir() {
			errors.FatalError(errors.NewInputError(
				fmt.Sprintf("Not a directory: %s", *localPath),
				"extract --path needs a checkout on disk",
				"Pass the root of the repository to extract",
			), *jsonOut)
		}
		record.RepoURL = "file://" + abs
		fetch = &localFetcher{root: abs}
	}

	p, err := buildPipeline(cfg, logger, *noEnrich, fetch, nil)
	if err != nil {
		errors.FatalError(err, *jsonOut)
	}

	result, err := p.Run(ctx, []registry.ProgramRecord{record})
	if err != nil {
		errors.FatalError(err, *jsonOut)
	}

	if *jsonOut {
		_ = output.JSON(result)
		return
	}
	printRunResult(result)
}
