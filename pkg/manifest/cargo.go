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
	"fmt"

	"github.com/BurntSushi/toml"
)

// cargoManifest is the subset of Cargo.toml the resolver reads.
type cargoManifest struct {
	Package      *cargoPackage   `toml:"package"`
	Workspace    *cargoWorkspace `toml:"workspace"`
	Dependencies map[string]any  `toml:"dependencies"`
}

type cargoPackage struct {
	Name string `toml:"name"`
}

type cargoWorkspace struct {
	Members      []string       `toml:"members"`
	Dependencies map[string]any `toml:"dependencies"`
}

// parsedManifest is one parsed Cargo.toml.
type parsedManifest struct {
	// CrateName is empty for a virtual workspace root.
	CrateName string

	// Deps are the direct [dependencies]; entries declared with
	// { workspace = true } are still unresolved here and tracked separately.
	Deps map[string]Dependency

	// WorkspaceRefs lists dependency names declared as { workspace = true }.
	WorkspaceRefs []string

	// WorkspaceDeps is the [workspace.dependencies] table when this manifest
	// is a workspace root.
	WorkspaceDeps map[string]Dependency
}

// parseCargoToml parses a Cargo.toml's direct dependency declarations.
func parseCargoToml(data []byte) (*parsedManifest, error) {
	var m cargoManifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse Cargo.toml: %w", err)
	}

	out := &parsedManifest{Deps: make(map[string]Dependency)}
	if m.Package != nil {
		out.CrateName = m.Package.Name
	}

	for name, raw := range m.Dependencies {
		dep, isWorkspaceRef, err := decodeDependency(raw)
		if err != nil {
			return nil, fmt.Errorf("dependency %q: %w", name, err)
		}
		if isWorkspaceRef {
			out.WorkspaceRefs = append(out.WorkspaceRefs, name)
			continue
		}
		out.Deps[name] = dep
	}

	if m.Workspace != nil && len(m.Workspace.Dependencies) > 0 {
		out.WorkspaceDeps = make(map[string]Dependency, len(m.Workspace.Dependencies))
		for name, raw := range m.Workspace.Dependencies {
			dep, isWorkspaceRef, err := decodeDependency(raw)
			if err != nil {
				return nil, fmt.Errorf("workspace dependency %q: %w", name, err)
			}
			if isWorkspaceRef {
				// workspace = true inside [workspace.dependencies] is
				// malformed; cargo rejects it too.
				return nil, fmt.Errorf("workspace dependency %q declares workspace = true", name)
			}
			out.WorkspaceDeps[name] = dep
		}
	}

	return out, nil
}

// decodeDependency maps one Cargo dependency value onto the tagged variant.
// Cargo allows either a bare requirement string or an inline table with
// version/git/path keys; the table may instead delegate with workspace = true.
func decodeDependency(raw any) (Dependency, bool, error) {
	switch v := raw.(type) {
	case string:
		return VersionDep(v), false, nil
	case map[string]any:
		if ws, ok := v["workspace"].(bool); ok && ws {
			return Dependency{}, true, nil
		}
		if git, ok := v["git"].(string); ok {
			src := GitSource{URL: git}
			if s, ok := v["branch"].(string); ok {
				src.Branch = s
			}
			if s, ok := v["tag"].(string); ok {
				src.Tag = s
			}
			if s, ok := v["rev"].(string); ok {
				src.Rev = s
			}
			return GitDep(src), false, nil
		}
		if path, ok := v["path"].(string); ok {
			// A path dependency may also carry a version for registry
			// publishing; the local path is what builds resolve.
			return PathDep(path), false, nil
		}
		if version, ok := v["version"].(string); ok {
			return VersionDep(version), false, nil
		}
		return Dependency{}, false, fmt.Errorf("table has none of version, git, path, workspace")
	default:
		return Dependency{}, false, fmt.Errorf("unsupported descriptor type %T", raw)
	}
}

// lockPackage is one [[package]] entry in Cargo.lock.
type lockPackage struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Source  string `toml:"source"`
}

type cargoLock struct {
	Package []lockPackage `toml:"package"`
}

// parseCargoLock maps crate name to the exact resolved version. When the
// lockfile pins several versions of one crate, the highest-sorted version
// string wins; direct dependencies almost always resolve to it.
func parseCargoLock(data []byte) (map[string]string, error) {
	var lock cargoLock
	if err := toml.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse Cargo.lock: %w", err)
	}
	pinned := make(map[string]string, len(lock.Package))
	for _, pkg := range lock.Package {
		if pkg.Name == "" || pkg.Version == "" {
			continue
		}
		if prev, ok := pinned[pkg.Name]; ok && prev >= pkg.Version {
			continue
		}
		pinned[pkg.Name] = pkg.Version
	}
	return pinned, nil
}
