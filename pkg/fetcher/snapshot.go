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
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Snapshot is a local materialization of a repository at a pinned commit.
type Snapshot struct {
	RepoURL   string
	CommitRef string
	root      string
}

// NewLocalSnapshot wraps an existing directory as a snapshot. Used for local
// extraction runs and tests; no fetch is involved.
func NewLocalSnapshot(root, repoURL, commitRef string) *Snapshot {
	return &Snapshot{RepoURL: repoURL, CommitRef: commitRef, root: root}
}

// Root returns the absolute snapshot directory.
func (s *Snapshot) Root() string { return s.root }

// ReadFile reads a file by path relative to the snapshot root.
func (s *Snapshot) ReadFile(rel string) ([]byte, error) {
	clean := filepath.Clean(rel)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("path escapes snapshot root: %s", rel)
	}
	return os.ReadFile(filepath.Join(s.root, clean))
}

// SourceFile is a source file discovered in the snapshot.
type SourceFile struct {
	Path string // relative to the snapshot root, forward slashes
	Size int64
}

// skipDirs are directories never worth walking: VCS metadata, cargo build
// output, vendored JS.
var skipDirs = map[string]bool{
	".git":         true,
	"target":       true,
	"node_modules": true,
}

// RustFiles walks the snapshot under subdir ("" for the whole tree) and
// returns every .rs file no larger than maxFileSize, sorted by path.
// Oversized and unreadable entries are counted in skipReasons, not fatal.
func (s *Snapshot) RustFiles(subdir string, maxFileSize int64) ([]SourceFile, map[string]int, error) {
	start := s.root
	if subdir != "" {
		clean := filepath.Clean(subdir)
		if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
			return nil, nil, fmt.Errorf("subdir escapes snapshot root: %s", subdir)
		}
		start = filepath.Join(s.root, clean)
	}

	var files []SourceFile
	skipReasons := make(map[string]int)

	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			skipReasons["walk_error"]++
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".rs") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			skipReasons["stat_error"]++
			return nil
		}
		if maxFileSize > 0 && info.Size() > maxFileSize {
			skipReasons["too_large"]++
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			skipReasons["walk_error"]++
			return nil
		}
		files = append(files, SourceFile{Path: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk snapshot: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, skipReasons, nil
}

// ManifestFiles returns every Cargo.toml and Cargo.lock path in the snapshot,
// sorted by path.
func (s *Snapshot) ManifestFiles() ([]string, error) {
	var manifests []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != "Cargo.toml" && d.Name() != "Cargo.lock" {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return nil
		}
		manifests = append(manifests, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk snapshot: %w", err)
	}
	sort.Strings(manifests)
	return manifests, nil
}
