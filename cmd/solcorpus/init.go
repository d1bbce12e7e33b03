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
	"flag"
	"fmt"
	"os"

	"github.com/kraklabs/solcorpus/internal/ui"
)

// runInit executes the 'init' CLI command, creating .solcorpus/project.yaml.
func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite existing configuration")
	signer := fs.String("signer", "", "Base58 signer public key whose verified uploads are scanned")
	rpcURL := fs.String("rpc-url", "", "Solana RPC endpoint")
	outDir := fs.String("out", "", "Output directory for NDJSON batches")
	provider := fs.String("enrich-provider", "", "Classification provider (openai, ollama, mock)")
	model := fs.String("enrich-model", "", "Classification model name")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: solcorpus init [options]

Creates .solcorpus/project.yaml in the current directory.

Examples:
  solcorpus init --signer 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin
  solcorpus init --rpc-url https://api.devnet.solana.com --out ./corpus
  solcorpus init --force

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot get current directory: %v\n", err)
		os.Exit(1)
	}

	configPath := ConfigPath(cwd)
	if _, err := os.Stat(configPath); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "Error: %s already exists. Use --force to overwrite.\n", configPath)
		os.Exit(1)
	}

	cfg := DefaultConfig()
	if *signer != "" {
		cfg.Signer = *signer
	}
	if *rpcURL != "" {
		cfg.RPCURL = *rpcURL
	}
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}
	if *provider != "" {
		cfg.Enrichment.Provider = *provider
	}
	if *model != "" {
		cfg.Enrichment.Model = *model
	}

	if err := cfg.Save(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot write configuration: %v\n", err)
		os.Exit(1)
	}

	ui.Successf("Created %s", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	if cfg.Signer == "" {
		fmt.Println("  1. Set 'signer' in the configuration to the uploader you want to scan")
		fmt.Println("  2. Export OPENAI_API_KEY to enable classification (optional)")
		fmt.Println("  3. Run: solcorpus scan")
	} else {
		fmt.Println("  1. Export OPENAI_API_KEY to enable classification (optional)")
		fmt.Println("  2. Run: solcorpus scan")
	}
}
