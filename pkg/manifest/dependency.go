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
	"encoding/json"
	"fmt"
)

// DependencyKind discriminates the dependency descriptor variants.
type DependencyKind int

const (
	// KindVersion is a plain semver requirement or a lockfile-pinned version.
	KindVersion DependencyKind = iota

	// KindGit is a git source with an optional branch, tag, or rev.
	KindGit

	// KindPath is a local path dependency.
	KindPath
)

// GitSource describes a git dependency.
type GitSource struct {
	URL    string `json:"git"`
	Branch string `json:"branch,omitempty"`
	Tag    string `json:"tag,omitempty"`
	Rev    string `json:"rev,omitempty"`
}

// Dependency is a tagged variant: exactly one of Version, Git, or Path is
// meaningful, selected by Kind. Consumers switch on Kind exhaustively rather
// than sniffing fields.
type Dependency struct {
	Kind    DependencyKind
	Version string
	Git     *GitSource
	Path    string
}

// VersionDep builds a plain version dependency.
func VersionDep(version string) Dependency {
	return Dependency{Kind: KindVersion, Version: version}
}

// GitDep builds a git-source dependency.
func GitDep(src GitSource) Dependency {
	return Dependency{Kind: KindGit, Git: &src}
}

// PathDep builds a path dependency.
func PathDep(path string) Dependency {
	return Dependency{Kind: KindPath, Path: path}
}

// MarshalJSON renders the wire form consumed by the search index: a plain
// string for version dependencies, a structured object otherwise. This
// mirrors how Cargo itself writes the two shapes.
func (d Dependency) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case KindVersion:
		return json.Marshal(d.Version)
	case KindGit:
		if d.Git == nil {
			return nil, fmt.Errorf("git dependency with nil source")
		}
		return json.Marshal(d.Git)
	case KindPath:
		return json.Marshal(struct {
			Path string `json:"path"`
		}{Path: d.Path})
	default:
		return nil, fmt.Errorf("unknown dependency kind %d", d.Kind)
	}
}

// UnmarshalJSON accepts both wire shapes.
func (d *Dependency) UnmarshalJSON(data []byte) error {
	var version string
	if err := json.Unmarshal(data, &version); err == nil {
		*d = VersionDep(version)
		return nil
	}

	var obj struct {
		Git    string `json:"git"`
		Branch string `json:"branch"`
		Tag    string `json:"tag"`
		Rev    string `json:"rev"`
		Path   string `json:"path"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Git != "" {
		*d = GitDep(GitSource{URL: obj.Git, Branch: obj.Branch, Tag: obj.Tag, Rev: obj.Rev})
		return nil
	}
	if obj.Path != "" {
		*d = PathDep(obj.Path)
		return nil
	}
	return fmt.Errorf("dependency descriptor is neither a version string nor a git/path object")
}

// String renders a human-readable descriptor for logs.
func (d Dependency) String() string {
	switch d.Kind {
	case KindVersion:
		return d.Version
	case KindGit:
		if d.Git == nil {
			return "git:?"
		}
		ref := d.Git.Rev
		if ref == "" {
			ref = d.Git.Tag
		}
		if ref == "" {
			ref = d.Git.Branch
		}
		if ref == "" {
			return "git:" + d.Git.URL
		}
		return fmt.Sprintf("git:%s@%s", d.Git.URL, ref)
	case KindPath:
		return "path:" + d.Path
	default:
		return fmt.Sprintf("unknown(%d)", d.Kind)
	}
}
