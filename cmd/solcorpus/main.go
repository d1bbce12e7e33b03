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
// Package main implements the solcorpus CLI for building a searchable corpus
// of verified Solana program source code.
//
// Usage:
//
//	solcorpus init                 Create .solcorpus/project.yaml configuration
//	solcorpus scan                 Scan the chain registry and build the corpus
//	solcorpus extract              Extract one repository without a chain scan
//	solcorpus version              Show build information
package main

import (
	"flag"
	"fmt"
	"os"
)

// Version information (set via ldflags during build)
var (
	version = "dev"     // Version string
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version and exit")
		configPath  = flag.String("config", "", "Path to .solcorpus/project.yaml (default: ./.solcorpus/project.yaml)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `solcorpus - Verified Solana source corpus builder

solcorpus discovers on-chain programs with published verified source,
fetches each repository at its pinned commit, extracts individually
addressable Rust functions, optionally classifies them with an LLM, and
writes newline-delimited JSON batches ready for a search index.

Usage:
  solcorpus <command> [options]

Commands:
  init          Create .solcorpus/project.yaml configuration
  scan          Scan the registry and build the corpus
  extract       Extract a single repository (no chain scan)
  version       Show build information

Global Options:
  --config      Path to .solcorpus/project.yaml
  --version     Show version and exit

Examples:
  solcorpus init --signer 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin
  solcorpus scan
  solcorpus scan --no-enrich --concurrency 8
  solcorpus extract --repo https://github.com/example/amm --commit abc123
  solcorpus extract --path ./my-program --program-id local

Environment Variables:
  OPENAI_API_KEY     Enables classification via an OpenAI-compatible API
  OPENAI_BASE_URL    Override the OpenAI-compatible endpoint
  OLLAMA_HOST        Ollama URL for local classification

For detailed command help: solcorpus <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "init":
		runInit(cmdArgs)
	case "scan":
		runScan(cmdArgs, *configPath)
	case "extract":
		runExtract(cmdArgs, *configPath)
	case "version":
		printVersion()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("solcorpus version %s\n", version)
	fmt.Printf("commit: %s\n", commit)
	fmt.Printf("built: %s\n", date)
}
