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
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kraklabs/solcorpus/internal/errors"
)

// Config is the project configuration read from .solcorpus/project.yaml.
// Secrets (API keys) never live in the file; they come from the environment,
// optionally via a .env next to the config.
type Config struct {
	// Signer is the base58 public key whose verified uploads are scanned.
	Signer string `yaml:"signer"`

	// RPCURL is the Solana RPC endpoint.
	RPCURL string `yaml:"rpc_url"`

	// RegistryProgram overrides the on-chain verification registry program.
	// Empty uses the mainnet default.
	RegistryProgram string `yaml:"registry_program,omitempty"`

	// OutputDir receives the NDJSON batch files.
	OutputDir string `yaml:"output_dir"`

	// CacheDir holds repository snapshots. Empty uses ~/.solcorpus/snapshots.
	CacheDir string `yaml:"cache_dir,omitempty"`

	// Concurrency bounds parallel fetch+extract tasks.
	Concurrency int `yaml:"concurrency"`

	// MaxFileSize skips source files larger than this many bytes.
	MaxFileSize int64 `yaml:"max_file_size"`

	// LibraryRoots restricts extraction to a repository subdirectory,
	// keyed by program id.
	LibraryRoots map[string]string `yaml:"library_roots,omitempty"`

	Enrichment EnrichmentConfig `yaml:"enrichment"`
}

// EnrichmentConfig configures the optional classification stage.
type EnrichmentConfig struct {
	// Provider is "openai", "ollama", or "mock". Empty means openai.
	Provider string `yaml:"provider,omitempty"`

	// Model identifier; empty uses the provider default.
	Model string `yaml:"model,omitempty"`

	// BaseURL for OpenAI-compatible or Ollama endpoints.
	BaseURL string `yaml:"base_url,omitempty"`

	// Workers bounds concurrent classification calls.
	Workers int `yaml:"workers,omitempty"`

	// RequestsPerSecond is the client-side rate limit.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
}

// DefaultConfig returns the configuration written by `solcorpus init`.
func DefaultConfig() *Config {
	return &Config{
		RPCURL:      "https://api.mainnet-beta.solana.com",
		OutputDir:   "./corpus",
		Concurrency: 4,
		MaxFileSize: 1 << 20,
		Enrichment: EnrichmentConfig{
			Provider:          "openai",
			Workers:           4,
			RequestsPerSecond: 2,
		},
	}
}

// ConfigDir returns the .solcorpus directory under root.
func ConfigDir(root string) string {
	return filepath.Join(root, ".solcorpus")
}

// ConfigPath returns the project.yaml path under root.
func ConfigPath(root string) string {
	return filepath.Join(ConfigDir(root), "project.yaml")
}

// LoadConfig reads the configuration. An empty path resolves to
// ./.solcorpus/project.yaml. A .env file next to the config (or in the
// working directory) is loaded into the environment first.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		path = ConfigPath(cwd)
	}

	// Best effort; a missing .env is normal.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewConfigError(
				"No solcorpus configuration found",
				fmt.Sprintf("Expected configuration at %s", path),
				"Run 'solcorpus init' to create one",
				err,
			)
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.NewConfigError(
			"Cannot parse solcorpus configuration",
			fmt.Sprintf("%s is not valid YAML: %v", path, err),
			"Fix the file or regenerate it with 'solcorpus init --force'",
			err,
		)
	}
	return cfg, nil
}

// Save writes the configuration to path, creating the directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
