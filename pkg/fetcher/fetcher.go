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

package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/kraklabs/solcorpus/internal/retry"
)

var (
	// validGitURLPattern matches valid git URLs (https, ssh, file)
	validGitURLPattern = regexp.MustCompile(`^(https?://|git@|ssh://|file://)[\w.\-@:/%~]+$`)

	// dangerousCharsPattern matches characters that could be used for command injection
	dangerousCharsPattern = regexp.MustCompile(`[;&|$` + "`" + `\n\r\\]`)

	commitRefPattern = regexp.MustCompile(`^[\w./\-]+$`)
)

// Config configures a Fetcher.
type Config struct {
	// CacheDir is where snapshots are materialized.
	// Defaults to ~/.solcorpus/snapshots.
	CacheDir string

	// MaxSnapshots bounds the on-disk cache; the least recently used snapshot
	// directory is removed when exceeded. Defaults to 64.
	MaxSnapshots int

	Retry retry.Config
}

// Fetcher fetches and caches repository snapshots pinned to a commit.
type Fetcher struct {
	cacheDir string
	logger   *slog.Logger
	group    singleflight.Group
	cache    *lru.Cache[string, string] // snapshot key -> directory
	retryCfg retry.Config

	// gitFetch materializes repoURL at commitRef into dest. Overridable so
	// tests can run without network access.
	gitFetch func(ctx context.Context, repoURL, commitRef, dest string) error
}

// New creates a Fetcher.
func New(cfg Config, logger *slog.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		cacheDir = filepath.Join(home, ".solcorpus", "snapshots")
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot cache dir: %w", err)
	}

	maxSnapshots := cfg.MaxSnapshots
	if maxSnapshots <= 0 {
		maxSnapshots = 64
	}

	f := &Fetcher{
		cacheDir: cacheDir,
		logger:   logger,
		retryCfg: cfg.Retry.Normalize(),
	}
	f.gitFetch = f.gitFetchPinned

	cache, err := lru.NewWithEvict[string, string](maxSnapshots, func(key, dir string) {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("fetch.cache.evict.error", "dir", dir, "err", err)
			return
		}
		logger.Info("fetch.cache.evicted", "key", key, "dir", dir)
	})
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}
	f.cache = cache
	return f, nil
}

// SnapshotKey derives the content address for (repoURL, commitRef).
func SnapshotKey(repoURL, commitRef string) string {
	sum := sha256.Sum256([]byte(repoURL + "|" + commitRef))
	return hex.EncodeToString(sum[:16])
}

// Fetch returns a snapshot of repoURL at commitRef, fetching it if it is not
// already cached. Concurrent calls for the same key share one fetch.
func (f *Fetcher) Fetch(ctx context.Context, repoURL, commitRef string) (*Snapshot, error) {
	if err := validateGitURL(repoURL); err != nil {
		return nil, fmt.Errorf("invalid repository URL: %w", err)
	}
	if commitRef == "" || !commitRefPattern.MatchString(commitRef) {
		return nil, fmt.Errorf("invalid commit ref %q", commitRef)
	}

	key := SnapshotKey(repoURL, commitRef)

	dir, err, shared := f.group.Do(key, func() (any, error) {
		// Reuse the cached snapshot when it still exists on disk. A directory
		// evicted behind our back is treated as a miss.
		if dir, ok := f.cache.Get(key); ok {
			if _, statErr := os.Stat(dir); statErr == nil {
				f.logger.Debug("fetch.cache.hit", "key", key, "repo", repoURL, "commit", commitRef)
				return dir, nil
			}
			f.cache.Remove(key)
		}

		dest := filepath.Join(f.cacheDir, key)
		// Leftovers from an interrupted fetch are not trusted.
		if err := os.RemoveAll(dest); err != nil {
			return nil, fmt.Errorf("clean snapshot dir: %w", err)
		}

		f.logger.Info("fetch.start", "repo", sanitizeURLForLog(repoURL), "commit", commitRef, "dest", dest)
		err := retry.Do(ctx, f.retryCfg, retry.Transient, func(ctx context.Context) error {
			return f.gitFetch(ctx, repoURL, commitRef, dest)
		})
		if err != nil {
			_ = os.RemoveAll(dest)
			return nil, err
		}

		f.cache.Add(key, dest)
		f.logger.Info("fetch.complete", "repo", sanitizeURLForLog(repoURL), "commit", commitRef)
		return dest, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		f.logger.Debug("fetch.coalesced", "key", key)
	}

	return &Snapshot{
		RepoURL:   repoURL,
		CommitRef: commitRef,
		root:      dir.(string),
	}, nil
}

// Close drops every cached snapshot from disk.
func (f *Fetcher) Close() error {
	f.cache.Purge()
	return nil
}

// gitFetchPinned fetches exactly commitRef into dest. A plain shallow clone
// follows the default branch, so instead the commit is fetched explicitly:
// init, add remote, fetch the ref, check out FETCH_HEAD detached.
func (f *Fetcher) gitFetchPinned(ctx context.Context, repoURL, commitRef, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	steps := [][]string{
		{"init", "--quiet", dest},
		{"-C", dest, "remote", "add", "origin", repoURL},
		{"-C", dest, "fetch", "--quiet", "--depth", "1", "origin", commitRef},
		{"-C", dest, "checkout", "--quiet", "--detach", "FETCH_HEAD"},
	}
	for _, args := range steps {
		// #nosec G204 - repoURL and commitRef are validated in Fetch
		cmd := exec.CommandContext(ctx, "git", args...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("git %s: %w: %s", args[len(args)-1], err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}

// validateGitURL validates a git URL to prevent command injection.
func validateGitURL(gitURL string) error {
	if gitURL == "" {
		return fmt.Errorf("git URL is empty")
	}
	if dangerousCharsPattern.MatchString(gitURL) {
		return fmt.Errorf("git URL contains dangerous characters")
	}

	if strings.HasPrefix(gitURL, "http://") || strings.HasPrefix(gitURL, "https://") {
		parsed, err := url.Parse(gitURL)
		if err != nil {
			return fmt.Errorf("invalid URL format: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("git URL missing host")
		}
		if parsed.User != nil {
			if _, hasPassword := parsed.User.Password(); hasPassword {
				return fmt.Errorf("git URL should not contain embedded password")
			}
		}
		return nil
	}

	if strings.HasPrefix(gitURL, "git@") || strings.HasPrefix(gitURL, "ssh://") {
		if !validGitURLPattern.MatchString(gitURL) {
			return fmt.Errorf("invalid SSH git URL format")
		}
		return nil
	}

	if strings.HasPrefix(gitURL, "file://") {
		return nil
	}

	return fmt.Errorf("unsupported git URL protocol: must be https://, git@, ssh://, or file://")
}

// sanitizeURLForLog hides credentials and query params before logging a URL.
func sanitizeURLForLog(gitURL string) string {
	parsed, err := url.Parse(gitURL)
	if err != nil {
		return gitURL
	}
	parsed.RawQuery = ""
	if parsed.User != nil {
		parsed.User = url.User("***")
	}
	return parsed.String()
}
