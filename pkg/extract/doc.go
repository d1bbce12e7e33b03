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

// Package extract parses Rust source into function records using Tree-sitter.
//
// Extraction is a pure function of the file bytes: no I/O, no reformatting.
// Line spans are 1-indexed and inclusive against the original text, and a
// record's content is exactly the bytes of those lines, so re-reading the
// span from the file reproduces the content byte for byte.
//
// Attributes directly above a function are collected in source order into
// the record's attribute list and are NOT part of the content; doc comments
// (///, //!, /** */) contiguous above the function and its attributes form
// the docstring.
package extract
