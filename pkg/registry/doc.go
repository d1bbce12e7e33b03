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

// Package registry discovers verified-build records on Solana.
//
// Verified builds are published as on-chain PDA accounts owned by the
// verification registry program. Each account associates a deployed program
// id with the source repository URL and the commit it was built from, attested
// by a signer. The Scanner queries those accounts for a configured signer and
// yields deduplicated ProgramRecords; when a signer republishes a program, the
// upload with the highest deployed slot wins.
//
// Scan order is not guaranteed. Callers that need restartable iteration use
// Pager, which serves identity-sorted pages with an explicit continuation
// token.
package registry
