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

// Package manifest builds per-crate dependency tables from Cargo manifests.
//
// Every Cargo.toml in a snapshot contributes one table scope keyed by its
// directory; a source file resolves to the nearest enclosing scope. Workspace
// member manifests inherit `{ workspace = true }` dependencies from their
// workspace root, and when a Cargo.lock is present its exact pinned versions
// replace the manifest's version requirements, which may be ranges. Malformed
// manifests degrade to an empty scope instead of failing the snapshot.
package manifest
