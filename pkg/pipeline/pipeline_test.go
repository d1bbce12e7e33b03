// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/solcorpus/internal/retry"
	"github.com/kraklabs/solcorpus/pkg/corpus"
	"github.com/kraklabs/solcorpus/pkg/enrich"
	"github.com/kraklabs/solcorpus/pkg/fetcher"
	"github.com/kraklabs/solcorpus/pkg/registry"
)

type fakeFetcher struct {
	roots map[string]string // repoURL -> local fixture dir
	fail  map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, repoURL, commitRef string) (*fetcher.Snapshot, error) {
	if err := f.fail[repoURL]; err != nil {
		return nil, err
	}
	root, ok := f.roots[repoURL]
	if !ok {
		return nil, fmt.Errorf("unknown repo %s", repoURL)
	}
	return fetcher.NewLocalSnapshot(root, repoURL, commitRef), nil
}

// writeRepo materializes a fixture repository on disk.
func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

const ammLib = `use solana_program::pubkey::Pubkey;

/// Derives the pool vault address.
pub fn derive_vault(program_id: &Pubkey, pool: &Pubkey) -> (Pubkey, u8) {
    Pubkey::find_program_address(&[b"vault", pool.as_ref()], program_id)
}

pub fn fee_bps() -> u64 {
    30
}
`

const ammCargo = `[package]
name = "amm"
version = "0.1.0"

[dependencies]
solana-program = "1.18.0"
`

func ammRepo(t *testing.T) string {
	return writeRepo(t, map[string]string{
		"Cargo.toml": ammCargo,
		"src/lib.rs": ammLib,
	})
}

func record(programID, repoURL string) registry.ProgramRecord {
	return registry.ProgramRecord{
		ProgramID: programID,
		RepoURL:   repoURL,
		CommitRef: "abc123",
	}
}

func newTestPipeline(t *testing.T, f SnapshotFetcher, classifier *enrich.Classifier) (*Pipeline, string) {
	t.Helper()
	outDir := t.TempDir()
	emitter, err := corpus.NewEmitter(corpus.EmitterConfig{Dir: outDir})
	require.NoError(t, err)
	return New(f, classifier, emitter, Config{Workers: 2}), outDir
}

func readDocuments(t *testing.T, outDir string) []corpus.OutputDocument {
	t.Helper()
	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)

	var docs []corpus.OutputDocument
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".ndjson") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		require.NoError(t, err)
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			var doc corpus.OutputDocument
			require.NoError(t, json.Unmarshal([]byte(line), &doc))
			docs = append(docs, doc)
		}
	}
	return docs
}

func alwaysCPI() *enrich.Classifier {
	return enrich.NewClassifierWithProvider(&enrich.MockProvider{
		ChatFunc: func(ctx context.Context, req enrich.ChatRequest) (*enrich.ChatResponse, error) {
			return &enrich.ChatResponse{Message: enrich.Message{
				Content: `{"category": "cpi", "description": "d", "sdk_usage": "s"}`,
			}}, nil
		},
	}, enrich.Config{RequestsPerSecond: 1000})
}

func TestRun_EndToEnd(t *testing.T) {
	f := &fakeFetcher{roots: map[string]string{
		"https://github.com/example/amm": ammRepo(t),
	}}
	p, outDir := newTestPipeline(t, f, alwaysCPI())

	res, err := p.Run(context.Background(), []registry.ProgramRecord{
		record("Prog1111111111111111111111111111", "https://github.com/example/amm"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.ProgramsScanned)
	assert.Zero(t, res.ProgramsFailed)
	assert.Equal(t, 1, res.FilesParsed)
	assert.Equal(t, 2, res.Functions)
	assert.Equal(t, int64(2), res.Analyzed)
	assert.Equal(t, 2, res.Documents)

	docs := readDocuments(t, outDir)
	require.Len(t, docs, 2)
	for _, doc := range docs {
		assert.Equal(t, "src/lib.rs", doc.File)
		assert.Equal(t, "https://github.com/example/amm", doc.Function.RepoURL)
		require.NotNil(t, doc.Analysis)
		assert.Equal(t, "cpi", doc.Analysis.Category)
		assert.Equal(t, "1.18.0", doc.Function.Dependencies["solana-program"].Version)
	}
}

func TestRun_ProgramFailureIsolation(t *testing.T) {
	f := &fakeFetcher{
		roots: map[string]string{"https://github.com/example/amm": ammRepo(t)},
		fail:  map[string]error{"https://github.com/example/gone": errors.New("repository not found")},
	}
	p, outDir := newTestPipeline(t, f, nil)

	res, err := p.Run(context.Background(), []registry.ProgramRecord{
		record("ProgGone111111111111111111111111", "https://github.com/example/gone"),
		record("ProgAmm1111111111111111111111111", "https://github.com/example/amm"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.ProgramsFailed)
	assert.Equal(t, 1, res.ProgramsScanned)
	assert.Equal(t, 2, res.Documents)

	docs := readDocuments(t, outDir)
	require.Len(t, docs, 2)
	for _, doc := range docs {
		assert.Equal(t, "ProgAmm1111111111111111111111111", doc.Function.ProgramID)
	}
}

func TestRun_ParseErrorIsolation(t *testing.T) {
	root := writeRepo(t, map[string]string{
		"Cargo.toml":    ammCargo,
		"src/lib.rs":    ammLib,
		"src/broken.rs": "pub fn broken( {{{{ not rust at all",
	})
	f := &fakeFetcher{roots: map[string]string{"https://github.com/example/amm": root}}
	p, _ := newTestPipeline(t, f, nil)

	res, err := p.Run(context.Background(), []registry.ProgramRecord{
		record("Prog1111111111111111111111111111", "https://github.com/example/amm"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.ProgramsScanned)
	assert.Equal(t, 1, res.FilesParsed)
	assert.Equal(t, 1, res.TopSkipReasons["parse_error"])
	assert.Equal(t, 2, res.Functions, "sibling files must be unaffected")
}

func TestRun_EnrichmentFailureIndependence(t *testing.T) {
	f := &fakeFetcher{roots: map[string]string{"https://github.com/example/amm": ammRepo(t)}}

	failing := enrich.NewClassifierWithProvider(&enrich.MockProvider{
		ChatFunc: func(ctx context.Context, req enrich.ChatRequest) (*enrich.ChatResponse, error) {
			return nil, errors.New("model permanently unavailable")
		},
	}, enrich.Config{
		RequestsPerSecond: 1000,
		Retry: retry.Config{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     2,
		},
	})
	p, outDir := newTestPipeline(t, f, failing)

	res, err := p.Run(context.Background(), []registry.ProgramRecord{
		record("Prog1111111111111111111111111111", "https://github.com/example/amm"),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.AnalysisFailed)
	assert.Equal(t, 2, res.Documents, "every function reaches the corpus")

	docs := readDocuments(t, outDir)
	require.Len(t, docs, 2)
	for _, doc := range docs {
		assert.Nil(t, doc.Analysis)
	}
}

func TestRun_NoClassifier(t *testing.T) {
	f := &fakeFetcher{roots: map[string]string{"https://github.com/example/amm": ammRepo(t)}}
	p, outDir := newTestPipeline(t, f, nil)

	res, err := p.Run(context.Background(), []registry.ProgramRecord{
		record("Prog1111111111111111111111111111", "https://github.com/example/amm"),
	})
	require.NoError(t, err)
	assert.Zero(t, res.Analyzed)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		require.NoError(t, err)
		assert.NotContains(t, string(data), `"analysis"`)
	}
}

func TestRun_DeterministicOutput(t *testing.T) {
	repo := ammRepo(t)
	records := []registry.ProgramRecord{
		record("Prog1111111111111111111111111111", "https://github.com/example/amm"),
	}

	runOnce := func() map[string][]byte {
		f := &fakeFetcher{roots: map[string]string{"https://github.com/example/amm": repo}}
		p, outDir := newTestPipeline(t, f, nil)
		_, err := p.Run(context.Background(), records)
		require.NoError(t, err)

		out := make(map[string][]byte)
		entries, err := os.ReadDir(outDir)
		require.NoError(t, err)
		for _, entry := range entries {
			data, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
			require.NoError(t, err)
			out[entry.Name()] = data
		}
		return out
	}

	first := runOnce()
	second := runOnce()
	require.Equal(t, keys(first), keys(second))
	for name := range first {
		assert.Equal(t, first[name], second[name], "batch %s differs between runs", name)
	}
}

func TestRun_LibraryRootScoping(t *testing.T) {
	root := writeRepo(t, map[string]string{
		"programs/amm/Cargo.toml": ammCargo,
		"programs/amm/src/lib.rs": ammLib,
		"cli/Cargo.toml":          "[package]\nname = \"cli\"\nversion = \"0.1.0\"\n",
		"cli/src/main.rs":         "fn main() {}\n",
	})
	f := &fakeFetcher{roots: map[string]string{"https://github.com/example/mono": root}}

	outDir := t.TempDir()
	emitter, err := corpus.NewEmitter(corpus.EmitterConfig{Dir: outDir})
	require.NoError(t, err)
	p := New(f, nil, emitter, Config{
		Workers:      1,
		LibraryRoots: map[string]string{"ProgMono111111111111111111111111": "programs/amm"},
	})

	res, err := p.Run(context.Background(), []registry.ProgramRecord{
		record("ProgMono111111111111111111111111", "https://github.com/example/mono"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Functions, "extraction must stay inside the library root")

	for _, doc := range readDocuments(t, outDir) {
		assert.True(t, strings.HasPrefix(doc.File, "programs/amm/"), doc.File)
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
