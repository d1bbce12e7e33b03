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

// Package fetcher materializes pinned repository snapshots.
//
// A snapshot is keyed by (repo_url, commit_ref) and is fetched at exactly
// that commit, so extraction stays reproducible even after the default branch
// advances. Concurrent requests for the same key are coalesced into a single
// git fetch; snapshots are cached on disk under an LRU policy and re-fetched
// transparently after eviction.
package fetcher
