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

package registry

import (
	"context"
	"sort"
)

// ContinuationToken marks a position in the identity-sorted record sequence.
// Empty means "from the beginning". Tokens stay valid across pager restarts
// because pages are sorted by program id, not by scan order.
type ContinuationToken string

// ScanPage is one batch of records plus the token to resume after it.
type ScanPage struct {
	Records []ProgramRecord
	Next    ContinuationToken
	HasMore bool
}

// Pager serves the scan result in bounded, restartable pages. The registry
// RPC has no server-side pagination, so the pager snapshots one scan and
// slices it deterministically; a caller resuming with a token after a crash
// re-scans but skips everything at or before the token.
type Pager struct {
	scanner  *Scanner
	pageSize int
	resume   ContinuationToken

	records []ProgramRecord
	pos     int
	loaded  bool
}

// NewPager creates a pager over the scanner with the given page size.
// Resume from a previous run by passing its last token.
func NewPager(scanner *Scanner, pageSize int, resume ContinuationToken) *Pager {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Pager{scanner: scanner, pageSize: pageSize, resume: resume}
}

// Next returns the next page. It returns a page with HasMore=false (and
// possibly zero records) when the sequence is exhausted.
func (p *Pager) Next(ctx context.Context) (*ScanPage, error) {
	if !p.loaded {
		result, err := p.scanner.Scan(ctx)
		if err != nil {
			return nil, err
		}
		records := result.Records
		sort.Slice(records, func(i, j int) bool {
			return records[i].ProgramID < records[j].ProgramID
		})
		p.records = records
		p.pos = 0
		if p.resume != "" {
			for p.pos < len(p.records) && p.records[p.pos].ProgramID <= string(p.resume) {
				p.pos++
			}
		}
		p.loaded = true
	}

	end := p.pos + p.pageSize
	if end > len(p.records) {
		end = len(p.records)
	}
	page := &ScanPage{
		Records: p.records[p.pos:end],
		HasMore: end < len(p.records),
	}
	if len(page.Records) > 0 {
		page.Next = ContinuationToken(page.Records[len(page.Records)-1].ProgramID)
	} else {
		page.Next = p.resume
	}
	p.pos = end
	return page, nil
}
