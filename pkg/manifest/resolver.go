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

package manifest

import (
	"log/slog"
	"path"
	"strings"
)

// SnapshotReader is the file access the resolver needs. *fetcher.Snapshot
// satisfies it; tests use in-memory fakes.
type SnapshotReader interface {
	ManifestFiles() ([]string, error)
	ReadFile(rel string) ([]byte, error)
}

// Table maps crate directories to their dependency sets. Paths are relative
// to the snapshot root with forward slashes; the root scope is ".".
type Table struct {
	scopes map[string]map[string]Dependency
}

// ResolveStats counts per-manifest outcomes for the run summary.
type ResolveStats struct {
	ManifestsParsed  int
	ManifestsSkipped int // malformed, degraded to empty scope
	LockfilesApplied int
}

// Scopes returns the scoped directories in the table, for diagnostics.
func (t *Table) Scopes() []string {
	out := make([]string, 0, len(t.scopes))
	for dir := range t.scopes {
		out = append(out, dir)
	}
	return out
}

// ForFile returns the dependency set of the nearest manifest scope enclosing
// the given file path, or an empty map when no ancestor declares one.
func (t *Table) ForFile(filePath string) map[string]Dependency {
	dir := path.Dir(strings.TrimPrefix(path.Clean(filePath), "./"))
	for {
		if deps, ok := t.scopes[dir]; ok {
			return deps
		}
		if dir == "." || dir == "/" {
			return map[string]Dependency{}
		}
		dir = path.Dir(dir)
	}
}

// Resolve builds the dependency table for a snapshot.
//
// Pass order:
//  1. Parse every Cargo.toml; workspace roots contribute their
//     [workspace.dependencies] for member inheritance.
//  2. Resolve { workspace = true } references against the nearest ancestor
//     workspace root.
//  3. Overlay exact versions from the nearest Cargo.lock at or above each
//     scope: the lockfile pin is exact where the manifest requirement may be
//     a range.
//
// A manifest that fails to parse yields an empty scope and a counted skip.
func Resolve(snap SnapshotReader, logger *slog.Logger) (*Table, ResolveStats) {
	if logger == nil {
		logger = slog.Default()
	}
	table := &Table{scopes: make(map[string]map[string]Dependency)}
	var stats ResolveStats

	files, err := snap.ManifestFiles()
	if err != nil {
		logger.Warn("manifest.walk.error", "err", err)
		return table, stats
	}

	manifests := make(map[string]*parsedManifest) // dir -> parsed
	workspaceDeps := make(map[string]map[string]Dependency)
	locks := make(map[string]map[string]string) // dir -> crate -> version

	for _, file := range files {
		dir := path.Dir(file)
		data, err := snap.ReadFile(file)
		if err != nil {
			logger.Warn("manifest.read.error", "path", file, "err", err)
			stats.ManifestsSkipped++
			continue
		}

		switch path.Base(file) {
		case "Cargo.toml":
			parsed, err := parseCargoToml(data)
			if err != nil {
				logger.Warn("manifest.parse.skipped", "path", file, "err", err)
				table.scopes[dir] = map[string]Dependency{}
				stats.ManifestsSkipped++
				continue
			}
			manifests[dir] = parsed
			if parsed.WorkspaceDeps != nil {
				workspaceDeps[dir] = parsed.WorkspaceDeps
			}
			stats.ManifestsParsed++
		case "Cargo.lock":
			pinned, err := parseCargoLock(data)
			if err != nil {
				logger.Warn("lockfile.parse.skipped", "path", file, "err", err)
				continue
			}
			locks[dir] = pinned
			stats.LockfilesApplied++
		}
	}

	for dir, parsed := range manifests {
		deps := make(map[string]Dependency, len(parsed.Deps))
		for name, dep := range parsed.Deps {
			deps[name] = dep
		}

		// Inherit workspace-delegated dependencies from the nearest root.
		for _, name := range parsed.WorkspaceRefs {
			if dep, ok := lookupWorkspaceDep(workspaceDeps, dir, name); ok {
				deps[name] = dep
			} else {
				logger.Warn("manifest.workspace_ref.unresolved", "dir", dir, "dependency", name)
			}
		}

		// Lockfile pins override version requirements. Git and path sources
		// stay as declared: the structured descriptor is the useful fact.
		if pinned, ok := lookupLock(locks, dir); ok {
			for name, dep := range deps {
				if dep.Kind != KindVersion {
					continue
				}
				if exact, ok := pinned[name]; ok {
					deps[name] = VersionDep(exact)
				}
			}
		}

		table.scopes[dir] = deps
	}

	return table, stats
}

// lookupWorkspaceDep finds name in the nearest ancestor workspace root.
func lookupWorkspaceDep(roots map[string]map[string]Dependency, dir, name string) (Dependency, bool) {
	for {
		if deps, ok := roots[dir]; ok {
			if dep, ok := deps[name]; ok {
				return dep, true
			}
		}
		if dir == "." || dir == "/" {
			return Dependency{}, false
		}
		dir = path.Dir(dir)
	}
}

// lookupLock finds the nearest Cargo.lock at or above dir.
func lookupLock(locks map[string]map[string]string, dir string) (map[string]string, bool) {
	for {
		if pinned, ok := locks[dir]; ok {
			return pinned, true
		}
		if dir == "." || dir == "/" {
			return nil, false
		}
		dir = path.Dir(dir)
	}
}
